package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/scicloud-labs/jobgate/internal/appconfig"
	"github.com/scicloud-labs/jobgate/internal/filestore"
	"github.com/scicloud-labs/jobgate/internal/platform/auth"
	"github.com/scicloud-labs/jobgate/internal/repo"
	jobservice "github.com/scicloud-labs/jobgate/internal/service/jobs"
	"github.com/scicloud-labs/jobgate/internal/workerapi"
)

// tokenIssuer exchanges user credentials for an ID token. Only the dev
// service provides one; in production it stays nil and the token routes are
// never registered.
type tokenIssuer func(ctx context.Context, username, password string) (token string, expiresIn int, err error)

type jobgateAPI struct {
	logger         *slog.Logger
	files          filestore.Gateway
	jobs           *jobservice.Service
	config         *appconfig.Store
	authCfg        auth.Config
	issueToken     tokenIssuer
	dev            *auth.DevService // nil outside dev mode
	uploadMaxBytes int64
	presignTTL     time.Duration
}

func newJobgateAPI(logger *slog.Logger, files filestore.Gateway, jobs *jobservice.Service, config *appconfig.Store, authCfg auth.Config, issueToken tokenIssuer, dev *auth.DevService, uploadMaxBytes int64, presignTTL time.Duration) *jobgateAPI {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = int64(2) << 30 // 2 GiB
	}
	if presignTTL <= 0 {
		presignTTL = 10 * time.Minute
	}
	return &jobgateAPI{
		logger:         logger,
		files:          files,
		jobs:           jobs,
		config:         config,
		authCfg:        authCfg,
		issueToken:     issueToken,
		dev:            dev,
		uploadMaxBytes: uploadMaxBytes,
		presignTTL:     presignTTL,
	}
}

func (api *jobgateAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", api.handleRoot)
	mux.HandleFunc("GET /access_info", api.handleAccessInfo)
	mux.HandleFunc("GET /user", api.handleCurrentUser)
	mux.HandleFunc("GET /applications", api.handleListApplications)

	mux.HandleFunc("GET /files", api.handleListFiles)
	mux.HandleFunc("GET /files/{path...}", api.handleListFiles)
	mux.HandleFunc("POST /files/{kind}/{path...}", api.handleUploadFile)
	mux.HandleFunc("PUT /files/{path...}", api.handleRenameFile)
	mux.HandleFunc("DELETE /files/{path...}", api.handleDeleteFile)
	mux.HandleFunc("GET /download/{path...}", api.handleDownloadFile)
	mux.HandleFunc("POST /urls/upload/{kind}/{path...}", api.handleUploadURL)
	mux.HandleFunc("POST /urls/download/{path...}", api.handleDownloadURL)

	mux.HandleFunc("GET /jobs", api.handleListJobs)
	mux.HandleFunc("POST /jobs", api.handleCreateJob)
	mux.HandleFunc("GET /jobs/{job_id}", api.handleGetJob)
	mux.HandleFunc("DELETE /jobs/{job_id}", api.handleDeleteJob)

	mux.Handle("PUT /_job_status", auth.RequireAPIKey(api.authCfg.InternalAPIKey, http.HandlerFunc(api.handleJobStatusUpdate)))

	if api.issueToken != nil {
		mux.HandleFunc("POST /token", api.handleToken)
		mux.HandleFunc("POST /login", api.handleLogin)
	}
	if api.dev != nil {
		mux.HandleFunc("POST /user", api.handleRegisterUser)
	}
}

func (api *jobgateAPI) handleRoot(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{"service": "jobgate"})
}

func (api *jobgateAPI) handleAccessInfo(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{
		"cognito": map[string]string{
			"user_pool_id": api.authCfg.UserPoolID,
			"client_id":    api.authCfg.ClientID,
			"region":       api.authCfg.Region,
		},
	})
}

func (api *jobgateAPI) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"email":  identity.Email,
		"groups": identity.Groups,
	})
}

func (api *jobgateAPI) handleListApplications(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{
		"applications": api.config.Config().Applications(),
	})
}

func requireIdentity(w http.ResponseWriter, r *http.Request, api *jobgateAPI) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return auth.Identity{}, false
	}
	return identity, true
}

// writeServiceError maps domain error classes onto HTTP statuses.
func (api *jobgateAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobservice.ErrValidation), errors.Is(err, filestore.ErrBadPath):
		api.writeErrorWithDetails(w, r, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, jobservice.ErrForbidden):
		api.writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, filestore.ErrNotFound), errors.Is(err, appconfig.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, workerapi.ErrUpstream):
		api.writeError(w, r, http.StatusBadGateway, "upstream_error")
	default:
		api.logger.Error("request failed",
			"request_id", r.Header.Get("X-Request-Id"),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *jobgateAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *jobgateAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *jobgateAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
		"details":    details,
	})
}
