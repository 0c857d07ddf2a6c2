package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/scicloud-labs/jobgate/internal/domain"
	jobservice "github.com/scicloud-labs/jobgate/internal/service/jobs"
)

type hardwareRequest struct {
	CPUCores  int    `json:"cpu_cores,omitempty"`
	MemoryMiB int    `json:"memory,omitempty"`
	GPUModel  string `json:"gpu_model,omitempty"`
	GPUArchi  string `json:"gpu_archi,omitempty"`
	GPUMemMiB int    `json:"gpu_mem,omitempty"`
}

type createJobRequest struct {
	JobName     string `json:"job_name"`
	Application struct {
		Application string `json:"application"`
		Version     string `json:"version"`
		Entrypoint  string `json:"entrypoint"`
	} `json:"application"`
	Attributes struct {
		FilesDown struct {
			ConfigID    string   `json:"config_id"`
			DataIDs     []string `json:"data_ids"`
			ArtifactIDs []string `json:"artifact_ids"`
		} `json:"files_down"`
		EnvVars map[string]string `json:"env_vars"`
	} `json:"attributes"`
	Hardware    hardwareRequest `json:"hardware"`
	Environment string          `json:"environment,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
}

type jobResponse struct {
	ID          string `json:"id"`
	JobName     string `json:"job_name"`
	Application struct {
		Application string `json:"application"`
		Version     string `json:"version"`
		Entrypoint  string `json:"entrypoint"`
	} `json:"application"`
	Attributes struct {
		FilesDown struct {
			ConfigID    string   `json:"config_id"`
			DataIDs     []string `json:"data_ids"`
			ArtifactIDs []string `json:"artifact_ids"`
		} `json:"files_down"`
		EnvVars map[string]string `json:"env_vars,omitempty"`
	} `json:"attributes"`
	Hardware       hardwareRequest   `json:"hardware"`
	Environment    string            `json:"environment,omitempty"`
	Priority       int               `json:"priority"`
	Status         string            `json:"status"`
	PathsOut       map[string]string `json:"paths_out"`
	RuntimeDetails string            `json:"runtime_details,omitempty"`
	DateCreated    time.Time         `json:"date_created"`
	DateStarted    *time.Time        `json:"date_started,omitempty"`
	DateFinished   *time.Time        `json:"date_finished,omitempty"`
}

func toJobResponse(job domain.Job) jobResponse {
	var out jobResponse
	out.ID = job.ID
	out.JobName = job.Name
	out.Application.Application = job.Application.Application
	out.Application.Version = job.Application.Version
	out.Application.Entrypoint = job.Application.Entrypoint
	out.Attributes.FilesDown.ConfigID = job.Attributes.FilesDown.ConfigID
	out.Attributes.FilesDown.DataIDs = job.Attributes.FilesDown.DataIDs
	out.Attributes.FilesDown.ArtifactIDs = job.Attributes.FilesDown.ArtifactIDs
	out.Attributes.EnvVars = job.Attributes.EnvVars
	out.Hardware = hardwareRequest(job.Hardware)
	out.Environment = string(job.Environment)
	out.Priority = job.Priority
	out.Status = string(job.Status)
	out.PathsOut = make(map[string]string, len(job.PathsOut))
	for kind, p := range job.PathsOut {
		out.PathsOut[string(kind)] = p
	}
	out.RuntimeDetails = job.RuntimeDetails
	out.DateCreated = job.CreatedAt
	out.DateStarted = job.StartedAt
	out.DateFinished = job.FinishedAt
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func (api *jobgateAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)

	list, err := api.jobs.List(r.Context(), identity.Subject, offset, limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, job := range list {
		out = append(out, toJobResponse(job))
	}
	api.writeJSON(w, http.StatusOK, out)
}

func (api *jobgateAPI) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	job, err := api.jobs.Create(r.Context(), identity.Subject, identity.Email, jobservice.CreateRequest{
		Name: req.JobName,
		Application: domain.ApplicationSelector{
			Application: req.Application.Application,
			Version:     req.Application.Version,
			Entrypoint:  req.Application.Entrypoint,
		},
		FilesDown: domain.FileRefs{
			ConfigID:    req.Attributes.FilesDown.ConfigID,
			DataIDs:     req.Attributes.FilesDown.DataIDs,
			ArtifactIDs: req.Attributes.FilesDown.ArtifactIDs,
		},
		EnvVars:     req.Attributes.EnvVars,
		Hardware:    domain.HardwareSpec(req.Hardware),
		Environment: domain.Environment(req.Environment),
		Priority:    req.Priority,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (api *jobgateAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	job, err := api.jobs.Get(r.Context(), identity.Subject, r.PathValue("job_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (api *jobgateAPI) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	if err := api.jobs.Delete(r.Context(), identity.Subject, r.PathValue("job_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type jobStatusUpdateRequest struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	RuntimeDetails string `json:"runtime_details,omitempty"`
}

// handleJobStatusUpdate is the worker-facing callback. The shared-key check
// is applied at registration via auth.RequireAPIKey, not a user token.
func (api *jobgateAPI) handleJobStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var req jobStatusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	job, err := api.jobs.UpdateStatus(r.Context(), req.JobID, domain.JobStatus(req.Status), req.RuntimeDetails)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]string{"status": string(job.Status)})
}
