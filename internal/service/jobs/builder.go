package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/scicloud-labs/jobgate/internal/appconfig"
	"github.com/scicloud-labs/jobgate/internal/domain"
	"github.com/scicloud-labs/jobgate/internal/workerapi"
)

// buildQueueJob assembles the wire submission for a persisted job: the
// template's opaque cmd, the resolved files_down mapping (worker mount path
// to storage URI), the merged hardware request, and the upload locations.
func (s *Service) buildQueueJob(ctx context.Context, job domain.Job, entry appconfig.Entry) (workerapi.QueueJob, error) {
	refs := job.Attributes.FilesDown
	roots := entry.Handler.FilesDown

	filesDown := map[string]string{}
	addFiles := func(rootIn, rootOut string) error {
		mapped, err := s.prepareFiles(ctx, job.UserID, rootIn, rootOut)
		if err != nil {
			return err
		}
		for k, v := range mapped {
			filesDown[k] = v
		}
		return nil
	}

	if err := addFiles(string(domain.UploadConfig)+"/"+refs.ConfigID, roots["config_id"]); err != nil {
		return workerapi.QueueJob{}, err
	}
	for _, id := range refs.DataIDs {
		if err := addFiles(string(domain.UploadData)+"/"+id, roots["data_ids"]); err != nil {
			return workerapi.QueueJob{}, err
		}
	}
	for _, id := range refs.ArtifactIDs {
		if err := addFiles(string(domain.UploadArtifact)+"/"+id, roots["artifact_ids"]); err != nil {
			return workerapi.QueueJob{}, err
		}
	}

	filesUp := make(map[domain.OutputKind]string, len(entry.Handler.FilesUp))
	for kind, localPath := range entry.Handler.FilesUp {
		filesUp[domain.OutputKind(kind)] = localPath
	}

	hw := job.Hardware.MergeOver(entry.DefaultHardware())

	return workerapi.QueueJob{
		Job: workerapi.JobSpecs{
			App: workerapi.AppSpecs{
				Cmd: entry.App.Cmd,
				Env: job.Attributes.EnvVars,
			},
			Handler: workerapi.HandlerSpecs{
				ImageURL:     entry.Handler.ImageURL,
				ImageName:    job.Application.Application,
				ImageVersion: job.Application.Version,
				Entrypoint:   job.Application.Entrypoint,
				FilesDown:    filesDown,
				FilesUp:      filesUp,
			},
			Meta: workerapi.MetaSpecs{
				JobID:       job.ID,
				DateCreated: job.CreatedAt,
			},
			Hardware: workerapi.HardwareSpecs{
				CPUCores:  hw.CPUCores,
				MemoryMiB: hw.MemoryMiB,
				GPUModel:  hw.GPUModel,
				GPUArchi:  hw.GPUArchi,
				GPUMemMiB: hw.GPUMemMiB,
			},
		},
		Environment: string(job.Environment),
		Priority:    job.Priority,
		PathsUpload: workerapi.PathsUpload{
			Output:   s.files.URI(job.UserID, job.PathsOut[domain.OutputResult]),
			Log:      s.files.URI(job.UserID, job.PathsOut[domain.OutputLog]),
			Artifact: s.files.URI(job.UserID, job.PathsOut[domain.OutputArtifact]),
		},
	}, nil
}

// prepareFiles maps every file under rootIn to its mount path under rootOut,
// keyed by the worker-side path and valued by the storage URI. A plain file
// maps as a single entry.
func (s *Service) prepareFiles(ctx context.Context, userID, rootIn, rootOut string) (map[string]string, error) {
	out := map[string]string{}

	isDir, err := s.files.IsDir(ctx, userID, rootIn+"/")
	if err != nil || !isDir {
		out[rootOut+"/"+fileBase(rootIn)] = s.files.URI(userID, rootIn)
		return out, nil
	}

	entries, err := s.files.List(ctx, userID, rootIn, true, false)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rootIn, err)
	}
	prefix := strings.TrimSuffix(rootIn, "/") + "/"
	for _, entry := range entries {
		rel := strings.TrimPrefix(entry.Path, prefix)
		out[rootOut+"/"+rel] = s.files.URI(userID, entry.Path)
	}
	return out, nil
}

func fileBase(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
