package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scicloud-labs/jobgate/internal/domain"
	"github.com/scicloud-labs/jobgate/internal/repo"
)

type JobStore struct {
	db DB
}

func NewJobStore(db DB) *JobStore {
	if db == nil {
		return nil
	}
	return &JobStore{db: db}
}

// attributesRow is the JSONB shape of a job's submission attributes.
type attributesRow struct {
	FilesDown struct {
		ConfigID    string   `json:"config_id"`
		DataIDs     []string `json:"data_ids"`
		ArtifactIDs []string `json:"artifact_ids"`
	} `json:"files_down"`
	EnvVars map[string]string `json:"env_vars,omitempty"`
}

type hardwareRow struct {
	CPUCores  int    `json:"cpu_cores,omitempty"`
	MemoryMiB int    `json:"memory,omitempty"`
	GPUModel  string `json:"gpu_model,omitempty"`
	GPUArchi  string `json:"gpu_archi,omitempty"`
	GPUMemMiB int    `json:"gpu_mem,omitempty"`
}

func encodeAttributes(a domain.JobAttributes) ([]byte, error) {
	var row attributesRow
	row.FilesDown.ConfigID = a.FilesDown.ConfigID
	row.FilesDown.DataIDs = a.FilesDown.DataIDs
	row.FilesDown.ArtifactIDs = a.FilesDown.ArtifactIDs
	row.EnvVars = a.EnvVars
	return json.Marshal(row)
}

func decodeAttributes(raw []byte) (domain.JobAttributes, error) {
	var row attributesRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return domain.JobAttributes{}, err
	}
	return domain.JobAttributes{
		FilesDown: domain.FileRefs{
			ConfigID:    row.FilesDown.ConfigID,
			DataIDs:     row.FilesDown.DataIDs,
			ArtifactIDs: row.FilesDown.ArtifactIDs,
		},
		EnvVars: row.EnvVars,
	}, nil
}

func encodeHardware(h domain.HardwareSpec) ([]byte, error) {
	return json.Marshal(hardwareRow(h))
}

func decodeHardware(raw []byte) (domain.HardwareSpec, error) {
	var row hardwareRow
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &row); err != nil {
			return domain.HardwareSpec{}, err
		}
	}
	return domain.HardwareSpec(row), nil
}

func encodePathsOut(p map[domain.OutputKind]string) ([]byte, error) {
	if p == nil {
		p = map[domain.OutputKind]string{}
	}
	return json.Marshal(p)
}

func decodePathsOut(raw []byte) (map[domain.OutputKind]string, error) {
	out := map[domain.OutputKind]string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

const jobColumns = `job_id, user_id, user_email, job_name,
	application, version, entrypoint,
	attributes, hardware, environment, priority,
	status, paths_out, runtime_details,
	created_at, started_at, finished_at`

func (s *JobStore) Create(ctx context.Context, job domain.Job) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	attributesJSON, err := encodeAttributes(job.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	hardwareJSON, err := encodeHardware(job.Hardware)
	if err != nil {
		return fmt.Errorf("encode hardware: %w", err)
	}
	pathsJSON, err := encodePathsOut(job.PathsOut)
	if err != nil {
		return fmt.Errorf("encode paths_out: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		strings.TrimSpace(job.ID),
		strings.TrimSpace(job.UserID),
		strings.TrimSpace(job.UserEmail),
		strings.TrimSpace(job.Name),
		job.Application.Application,
		job.Application.Version,
		job.Application.Entrypoint,
		attributesJSON,
		hardwareJSON,
		string(job.Environment),
		job.Priority,
		string(job.Status),
		pathsJSON,
		job.RuntimeDetails,
		normalizeTime(job.CreatedAt),
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", handleConflict(err))
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (domain.Job, error) {
	if s == nil || s.db == nil {
		return domain.Job{}, fmt.Errorf("job store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Job{}, fmt.Errorf("job id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)
	return scanJob(rowScanner{row})
}

func (s *JobStore) List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	if strings.TrimSpace(filter.UserID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE user_id = $1
		 ORDER BY created_at, job_id
		 OFFSET $2 LIMIT $3`,
		strings.TrimSpace(filter.UserID),
		offset,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, appendDetails string) (domain.Job, error) {
	if s == nil || s.db == nil {
		return domain.Job{}, fmt.Errorf("job store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Job{}, fmt.Errorf("job id is required")
	}
	if !status.Valid() {
		return domain.Job{}, fmt.Errorf("invalid status %q", status)
	}

	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs SET
			status = $2,
			runtime_details = CASE WHEN $3 = '' THEN runtime_details
				ELSE trim(leading E'\n' from runtime_details || E'\n' || $3) END,
			started_at = CASE WHEN started_at IS NULL AND $2 <> 'queued' THEN now() ELSE started_at END,
			finished_at = CASE WHEN $2 IN ('finished', 'error') THEN now() ELSE finished_at END
		 WHERE job_id = $1
		 RETURNING `+jobColumns,
		id,
		string(status),
		appendDetails,
	)
	return scanJob(rowScanner{row})
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// rowScanner adapts *sql.Row's not-found mapping to the shared scanner path.
type rowScanner struct {
	row interface{ Scan(dest ...any) error }
}

func (r rowScanner) Scan(dest ...any) error {
	return handleNotFound(r.row.Scan(dest...))
}

func scanJob(sc scanner) (domain.Job, error) {
	var (
		job            domain.Job
		userEmail      sql.NullString
		attributesJSON []byte
		hardwareJSON   []byte
		pathsJSON      []byte
	)
	err := sc.Scan(
		&job.ID,
		&job.UserID,
		&userEmail,
		&job.Name,
		&job.Application.Application,
		&job.Application.Version,
		&job.Application.Entrypoint,
		&attributesJSON,
		&hardwareJSON,
		(*string)(&job.Environment),
		&job.Priority,
		(*string)(&job.Status),
		&pathsJSON,
		&job.RuntimeDetails,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.UserEmail = userEmail.String

	attributes, err := decodeAttributes(attributesJSON)
	if err != nil {
		return domain.Job{}, fmt.Errorf("decode attributes: %w", err)
	}
	job.Attributes = attributes

	hw, err := decodeHardware(hardwareJSON)
	if err != nil {
		return domain.Job{}, fmt.Errorf("decode hardware: %w", err)
	}
	job.Hardware = hw

	paths, err := decodePathsOut(pathsJSON)
	if err != nil {
		return domain.Job{}, fmt.Errorf("decode paths_out: %w", err)
	}
	job.PathsOut = paths
	return job, nil
}
