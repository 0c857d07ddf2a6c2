package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/scicloud-labs/jobgate/internal/appconfig"
	"github.com/scicloud-labs/jobgate/internal/domain"
	"github.com/scicloud-labs/jobgate/internal/filestore"
	"github.com/scicloud-labs/jobgate/internal/repo"
	"github.com/scicloud-labs/jobgate/internal/workerapi"
)

type stubRepo struct {
	jobs      map[string]domain.Job
	order     []string
	createErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{jobs: map[string]domain.Job{}}
}

func (r *stubRepo) Create(ctx context.Context, job domain.Job) error {
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.jobs {
		if existing.UserID == job.UserID && existing.Name == job.Name {
			return repo.ErrConflict
		}
	}
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	return nil
}

func (r *stubRepo) Get(ctx context.Context, id string) (domain.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, repo.ErrNotFound
	}
	return job, nil
}

func (r *stubRepo) List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	out := make([]domain.Job, 0)
	for _, id := range r.order {
		job := r.jobs[id]
		if job.UserID == filter.UserID {
			out = append(out, job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubRepo) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, appendDetails string) (domain.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, repo.ErrNotFound
	}
	job.Status = status
	if appendDetails != "" {
		job.RuntimeDetails = strings.TrimPrefix(job.RuntimeDetails+"\n"+appendDetails, "\n")
	}
	now := time.Now().UTC()
	if job.StartedAt == nil && status != domain.StatusQueued {
		job.StartedAt = &now
	}
	if status.Terminal() {
		job.FinishedAt = &now
	}
	r.jobs[id] = job
	return job, nil
}

func (r *stubRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.jobs[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

type stubGateway struct {
	filestore.Gateway

	files   map[string]bool // path -> isDir
	deleted []string
}

func newStubGateway(paths ...string) *stubGateway {
	gw := &stubGateway{files: map[string]bool{}}
	for _, p := range paths {
		gw.files[strings.TrimSuffix(p, "/")] = strings.HasSuffix(p, "/")
	}
	return gw
}

func (g *stubGateway) Exists(ctx context.Context, user, p string) (bool, error) {
	_, ok := g.files[strings.TrimSuffix(p, "/")]
	return ok, nil
}

func (g *stubGateway) IsDir(ctx context.Context, user, p string) (bool, error) {
	isDir, ok := g.files[strings.TrimSuffix(p, "/")]
	if !ok {
		return false, filestore.ErrNotFound
	}
	return isDir, nil
}

func (g *stubGateway) List(ctx context.Context, user, dir string, recursive, dirs bool) ([]filestore.FileInfo, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	out := make([]filestore.FileInfo, 0)
	for p, isDir := range g.files {
		if isDir || !strings.HasPrefix(p, prefix) {
			continue
		}
		out = append(out, filestore.FileInfo{Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (g *stubGateway) Delete(ctx context.Context, user, p string) error {
	if _, ok := g.files[strings.TrimSuffix(p, "/")]; !ok {
		return filestore.ErrNotFound
	}
	g.deleted = append(g.deleted, p)
	return nil
}

func (g *stubGateway) URI(user, p string) string {
	return "s3://bucket/" + user + "/" + strings.TrimSuffix(p, "/")
}

type stubResolver struct {
	entry appconfig.Entry
	err   error
}

func (r stubResolver) Resolve(selector domain.ApplicationSelector) (appconfig.Entry, error) {
	return r.entry, r.err
}

type stubQueue struct {
	enqueued []workerapi.QueueJob
	err      error
}

func (q *stubQueue) Enqueue(ctx context.Context, job workerapi.QueueJob) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

type stubSender struct {
	sent []string
}

func (s *stubSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	s.sent = append(s.sent, to+": "+subject)
	return nil
}

func testEntry() appconfig.Entry {
	var entry appconfig.Entry
	entry.App.Cmd = []string{"python /app/fit.py --config $(find /tmp/config -name '*.yaml')"}
	entry.App.Env = []string{"CUDA_VISIBLE_DEVICES"}
	entry.Handler.ImageURL = "registry.example.org/fitter:2.1"
	entry.Handler.FilesDown = map[string]string{
		"config_id":    "/tmp/config",
		"data_ids":     "/tmp/data",
		"artifact_ids": "/tmp/artifact",
	}
	entry.Handler.FilesUp = map[string]string{
		"output": "/tmp/output",
		"log":    "/tmp/log",
	}
	entry.Handler.AWS.Hardware.CPUCores = 2
	entry.Handler.AWS.Hardware.MemoryMiB = 4096
	return entry
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc   *Service
	repo  *stubRepo
	gw    *stubGateway
	queue *stubQueue
	mail  *stubSender
}

func newFixture(t *testing.T, resolveErr error) *fixture {
	t.Helper()
	f := &fixture{
		repo: newStubRepo(),
		gw: newStubGateway(
			"config/fit.yaml",
			"data/frames/",
			"data/frames/a.h5",
			"data/frames/b.h5",
		),
		queue: &stubQueue{},
		mail:  &stubSender{},
	}
	f.svc = NewService(discardLogger(), f.repo, f.gw, stubResolver{entry: testEntry(), err: resolveErr}, f.queue, f.mail)
	return f
}

func validRequest() CreateRequest {
	return CreateRequest{
		Name: "run1",
		Application: domain.ApplicationSelector{
			Application: "fitter", Version: "2.1", Entrypoint: "fit",
		},
		FilesDown: domain.FileRefs{
			ConfigID: "fit.yaml",
			DataIDs:  []string{"frames"},
		},
		EnvVars: map[string]string{"CUDA_VISIBLE_DEVICES": "0"},
	}
}

func TestCreateQueuesAndForwards(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.Create(context.Background(), "alice", "alice@example.org", validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != domain.StatusQueued {
		t.Fatalf("status=%s", job.Status)
	}
	if job.PathsOut[domain.OutputResult] != "output/run1" {
		t.Fatalf("paths_out=%v", job.PathsOut)
	}
	if len(f.queue.enqueued) != 1 {
		t.Fatalf("enqueued=%d", len(f.queue.enqueued))
	}

	sent := f.queue.enqueued[0]
	if sent.Job.Meta.JobID != job.ID {
		t.Fatalf("meta job id=%s", sent.Job.Meta.JobID)
	}
	if sent.Job.App.Cmd[0] != testEntry().App.Cmd[0] {
		t.Fatalf("cmd forwarded changed: %v", sent.Job.App.Cmd)
	}
	// single config file plus the two files under data/frames
	wantDown := map[string]string{
		"/tmp/config/fit.yaml": "s3://bucket/alice/config/fit.yaml",
		"/tmp/data/a.h5":       "s3://bucket/alice/data/frames/a.h5",
		"/tmp/data/b.h5":       "s3://bucket/alice/data/frames/b.h5",
	}
	if len(sent.Job.Handler.FilesDown) != len(wantDown) {
		t.Fatalf("files_down=%v", sent.Job.Handler.FilesDown)
	}
	for k, v := range wantDown {
		if sent.Job.Handler.FilesDown[k] != v {
			t.Fatalf("files_down[%s]=%s want %s", k, sent.Job.Handler.FilesDown[k], v)
		}
	}
	// template hardware defaults apply when the request sets nothing
	if sent.Job.Hardware.CPUCores != 2 || sent.Job.Hardware.MemoryMiB != 4096 {
		t.Fatalf("hardware=%+v", sent.Job.Hardware)
	}
	if sent.PathsUpload.Output != "s3://bucket/alice/output/run1" {
		t.Fatalf("paths_upload=%+v", sent.PathsUpload)
	}
}

func TestCreateHardwareOverridesDefaults(t *testing.T) {
	f := newFixture(t, nil)
	req := validRequest()
	req.Hardware = domain.HardwareSpec{CPUCores: 8, GPUModel: "a100"}

	if _, err := f.svc.Create(context.Background(), "alice", "", req); err != nil {
		t.Fatalf("Create: %v", err)
	}
	hw := f.queue.enqueued[0].Job.Hardware
	if hw.CPUCores != 8 || hw.MemoryMiB != 4096 || hw.GPUModel != "a100" {
		t.Fatalf("hardware=%+v", hw)
	}
}

func TestCreateRejectsUnknownEnvVarBeforePersisting(t *testing.T) {
	f := newFixture(t, nil)
	req := validRequest()
	req.EnvVars = map[string]string{"LD_PRELOAD": "x"}

	_, err := f.svc.Create(context.Background(), "alice", "", req)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v", err)
	}
	if len(f.repo.jobs) != 0 {
		t.Fatalf("job row written despite validation failure")
	}
	if len(f.queue.enqueued) != 0 {
		t.Fatalf("job forwarded despite validation failure")
	}
}

func TestCreateRejectsUnknownApplication(t *testing.T) {
	f := newFixture(t, fmt.Errorf("wrapped: %w", appconfig.ErrNotFound))
	_, err := f.svc.Create(context.Background(), "alice", "", validRequest())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v", err)
	}
	if len(f.repo.jobs) != 0 {
		t.Fatalf("job row written for unknown application")
	}
}

func TestCreateRejectsPriorityOutOfRange(t *testing.T) {
	f := newFixture(t, nil)
	req := validRequest()
	bad := 6
	req.Priority = &bad
	if _, err := f.svc.Create(context.Background(), "alice", "", req); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateRejectsMissingInputFile(t *testing.T) {
	f := newFixture(t, nil)
	req := validRequest()
	req.FilesDown.ConfigID = "nope.yaml"
	if _, err := f.svc.Create(context.Background(), "alice", "", req); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Create(context.Background(), "alice", "", validRequest()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), "alice", "", validRequest()); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate err=%v", err)
	}
}

func TestCreateForwardFailureMarksJobError(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.err = fmt.Errorf("wrapped: %w", workerapi.ErrUpstream)

	_, err := f.svc.Create(context.Background(), "alice", "", validRequest())
	if !errors.Is(err, workerapi.ErrUpstream) {
		t.Fatalf("err=%v", err)
	}
	// the row stays visible in the error state
	if len(f.repo.jobs) != 1 {
		t.Fatalf("jobs=%d", len(f.repo.jobs))
	}
	for _, job := range f.repo.jobs {
		if job.Status != domain.StatusError {
			t.Fatalf("status=%s", job.Status)
		}
		if !strings.Contains(job.RuntimeDetails, "enqueueing failed") {
			t.Fatalf("runtime details=%q", job.RuntimeDetails)
		}
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newFixture(t, nil)
	job, err := f.svc.Create(context.Background(), "alice", "", validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.Get(context.Background(), "alice", job.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "mallory", job.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign get err=%v", err)
	}
	if _, err := f.svc.Get(context.Background(), "alice", "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing get err=%v", err)
	}
}

func TestListPaginationDisjoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		req := validRequest()
		req.Name = fmt.Sprintf("run%d", i)
		if _, err := f.svc.Create(ctx, "alice", "", req); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	page1, err := f.svc.List(ctx, "alice", 0, 2)
	if err != nil {
		t.Fatalf("List page1: %v", err)
	}
	page2, err := f.svc.List(ctx, "alice", 2, 2)
	if err != nil {
		t.Fatalf("List page2: %v", err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("pages=%d,%d", len(page1), len(page2))
	}
	seen := map[string]bool{}
	for _, job := range append(page1, page2...) {
		if seen[job.ID] {
			t.Fatalf("job %s appears on both pages", job.ID)
		}
		seen[job.ID] = true
	}
}

func TestDeleteCleansOutputsAndEnforcesOwnership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job, err := f.svc.Create(ctx, "alice", "", validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.gw.files["output/run1"] = true

	if err := f.svc.Delete(ctx, "mallory", job.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign delete err=%v", err)
	}
	if err := f.svc.Delete(ctx, "alice", job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, "alice", job.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("job survived delete: %v", err)
	}
	found := false
	for _, p := range f.gw.deleted {
		if p == "output/run1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("output dir not cleaned: %v", f.gw.deleted)
	}
}

func TestUpdateStatusNotifiesOnTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job, err := f.svc.Create(ctx, "alice", "alice@example.org", validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := f.svc.UpdateStatus(ctx, job.ID, domain.StatusRunning, "container started")
	if err != nil {
		t.Fatalf("UpdateStatus running: %v", err)
	}
	if updated.StartedAt == nil {
		t.Fatalf("started_at not stamped")
	}
	if len(f.mail.sent) != 0 {
		t.Fatalf("notified on non-terminal status: %v", f.mail.sent)
	}

	updated, err = f.svc.UpdateStatus(ctx, job.ID, domain.StatusFinished, "exit code 0")
	if err != nil {
		t.Fatalf("UpdateStatus finished: %v", err)
	}
	if updated.FinishedAt == nil {
		t.Fatalf("finished_at not stamped")
	}
	if !strings.Contains(updated.RuntimeDetails, "container started") || !strings.Contains(updated.RuntimeDetails, "exit code 0") {
		t.Fatalf("runtime details=%q", updated.RuntimeDetails)
	}
	if len(f.mail.sent) != 1 || !strings.HasPrefix(f.mail.sent[0], "alice@example.org:") {
		t.Fatalf("notifications=%v", f.mail.sent)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.UpdateStatus(context.Background(), "id", "exploded", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v", err)
	}
}
