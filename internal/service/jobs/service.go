// Package jobs implements the job submission, lookup, and status lifecycle.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scicloud-labs/jobgate/internal/appconfig"
	"github.com/scicloud-labs/jobgate/internal/domain"
	"github.com/scicloud-labs/jobgate/internal/filestore"
	"github.com/scicloud-labs/jobgate/internal/repo"
	"github.com/scicloud-labs/jobgate/internal/workerapi"
)

var (
	// ErrValidation marks requests rejected before any state changes.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks access to a job owned by a different user.
	ErrForbidden = errors.New("forbidden")
)

// Resolver resolves an application selection into its config template.
type Resolver interface {
	Resolve(selector domain.ApplicationSelector) (appconfig.Entry, error)
}

// Enqueuer forwards a built submission to the worker-facing API.
type Enqueuer interface {
	Enqueue(ctx context.Context, job workerapi.QueueJob) error
}

type Service struct {
	logger *slog.Logger
	jobs   repo.JobRepository
	files  filestore.Gateway
	config Resolver
	queue  Enqueuer
	mail   NotifySender
}

// NotifySender matches notify.Sender without importing it.
type NotifySender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

func NewService(logger *slog.Logger, jobs repo.JobRepository, files filestore.Gateway, config Resolver, queue Enqueuer, mail NotifySender) *Service {
	return &Service{
		logger: logger,
		jobs:   jobs,
		files:  files,
		config: config,
		queue:  queue,
		mail:   mail,
	}
}

// CreateRequest is a user's job submission.
type CreateRequest struct {
	Name        string
	Application domain.ApplicationSelector
	FilesDown   domain.FileRefs
	EnvVars     map[string]string
	Hardware    domain.HardwareSpec
	Environment domain.Environment
	Priority    *int
}

// Create validates the submission, persists it as queued, and forwards it to
// the worker-facing API. A forwarding failure leaves the job visible in the
// error state.
func (s *Service) Create(ctx context.Context, userID, userEmail string, req CreateRequest) (domain.Job, error) {
	if strings.TrimSpace(req.Name) == "" {
		return domain.Job{}, fmt.Errorf("%w: job_name is required", ErrValidation)
	}
	if err := req.Application.Validate(); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	entry, err := s.config.Resolve(req.Application)
	if err != nil {
		if errors.Is(err, appconfig.ErrNotFound) {
			return domain.Job{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return domain.Job{}, err
	}

	// Env vars are checked against the template allow-list before any row
	// is written.
	for name := range req.EnvVars {
		if !entry.AllowsEnv(name) {
			return domain.Job{}, fmt.Errorf("%w: environment variables must be in %v", ErrValidation, entry.App.Env)
		}
	}

	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < domain.PriorityMin || priority > domain.PriorityMax {
		return domain.Job{}, fmt.Errorf("%w: priority must be between %d and %d, not %d",
			ErrValidation, domain.PriorityMin, domain.PriorityMax, priority)
	}
	if !req.Environment.Valid() {
		return domain.Job{}, fmt.Errorf("%w: invalid environment %q", ErrValidation, req.Environment)
	}
	if strings.TrimSpace(req.FilesDown.ConfigID) == "" {
		return domain.Job{}, fmt.Errorf("%w: files_down.config_id is required", ErrValidation)
	}

	inputs := inputPaths(req.FilesDown)
	if err := s.validateFiles(ctx, userID, inputs); err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		UserEmail:   userEmail,
		Name:        strings.TrimSpace(req.Name),
		Application: req.Application,
		Attributes: domain.JobAttributes{
			FilesDown: req.FilesDown,
			EnvVars:   req.EnvVars,
		},
		Hardware:    req.Hardware,
		Environment: req.Environment,
		Priority:    priority,
		Status:      domain.StatusQueued,
		PathsOut:    outputPaths(strings.TrimSpace(req.Name)),
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return domain.Job{}, err
	}

	queueItem, err := s.buildQueueJob(ctx, job, entry)
	if err != nil {
		return domain.Job{}, s.markForwardFailed(ctx, job, err)
	}
	if err := s.queue.Enqueue(ctx, queueItem); err != nil {
		return domain.Job{}, s.markForwardFailed(ctx, job, err)
	}

	created, err := s.jobs.Get(ctx, job.ID)
	if err != nil {
		return job, nil
	}
	return created, nil
}

func (s *Service) markForwardFailed(ctx context.Context, job domain.Job, cause error) error {
	details := fmt.Sprintf("enqueueing failed: %v", cause)
	if _, err := s.jobs.UpdateStatus(ctx, job.ID, domain.StatusError, details); err != nil {
		s.logger.Error("marking failed job", "job_id", job.ID, "error", err)
	}
	return fmt.Errorf("enqueue job %s: %w", job.ID, cause)
}

func (s *Service) validateFiles(ctx context.Context, userID string, paths []string) error {
	for _, p := range paths {
		exists, err := s.files.Exists(ctx, userID, p)
		if err != nil {
			return fmt.Errorf("check %s: %w", p, err)
		}
		if !exists {
			return fmt.Errorf("%w: file %s does not exist", ErrValidation, p)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, userID, jobID string) (domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.UserID != userID {
		return domain.Job{}, fmt.Errorf("%w: job %s", ErrForbidden, jobID)
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, userID string, offset, limit int) ([]domain.Job, error) {
	return s.jobs.List(ctx, repo.JobFilter{UserID: userID, Offset: offset, Limit: limit})
}

// Delete removes the job record and best-effort cleans its output
// directories.
func (s *Service) Delete(ctx context.Context, userID, jobID string) error {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return err
	}
	for kind, p := range job.PathsOut {
		if err := s.files.Delete(ctx, userID, p); err != nil && !errors.Is(err, filestore.ErrNotFound) {
			s.logger.Warn("deleting job output", "job_id", jobID, "kind", string(kind), "path", p, "error", err)
		}
	}
	return s.jobs.Delete(ctx, jobID)
}

// UpdateStatus applies a worker callback and notifies the owner when the job
// reaches a terminal state.
func (s *Service) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, details string) (domain.Job, error) {
	if !status.Valid() {
		return domain.Job{}, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	job, err := s.jobs.UpdateStatus(ctx, jobID, status, details)
	if err != nil {
		return domain.Job{}, err
	}

	if status.Terminal() && job.UserEmail != "" && s.mail != nil {
		subject := fmt.Sprintf("Job %s (id=%s) %s", job.Name, job.ID, job.Status)
		body := strings.ReplaceAll(fmt.Sprintf(
			"This is an update for job '%s' (id=%s).\nStatus: %s.\n\nJob run-time details:\n%s\n\n"+
				"If you would like not to receive such updates in the future, contact the developers.",
			job.Name, job.ID, job.Status, job.RuntimeDetails), "\n", "<br>")
		if err := s.mail.Send(ctx, job.UserEmail, subject, body); err != nil {
			s.logger.Error("sending status notification", "job_id", job.ID, "error", err)
		}
	}
	return job, nil
}

// outputPaths lays out one directory per output kind, named after the job.
func outputPaths(jobName string) map[domain.OutputKind]string {
	paths := make(map[domain.OutputKind]string, len(domain.OutputKinds()))
	for _, kind := range domain.OutputKinds() {
		paths[kind] = string(kind) + "/" + jobName
	}
	return paths
}

func inputPaths(refs domain.FileRefs) []string {
	paths := []string{string(domain.UploadConfig) + "/" + refs.ConfigID}
	for _, id := range refs.DataIDs {
		paths = append(paths, string(domain.UploadData)+"/"+id)
	}
	for _, id := range refs.ArtifactIDs {
		paths = append(paths, string(domain.UploadArtifact)+"/"+id)
	}
	return paths
}
