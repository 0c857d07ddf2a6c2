// Package workerapi submits queued jobs to the worker-facing API.
package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scicloud-labs/jobgate/internal/domain"
	"github.com/scicloud-labs/jobgate/internal/platform/auth"
	"github.com/scicloud-labs/jobgate/internal/platform/env"
	"github.com/scicloud-labs/jobgate/internal/platform/secrets"
)

// ErrUpstream marks a submission the worker-facing API did not accept.
var ErrUpstream = errors.New("worker api request failed")

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	timeout, err := env.Duration("WORKER_API_TIMEOUT", 30*time.Second)
	if err != nil {
		timeout = 30 * time.Second
	}
	return Config{
		BaseURL: env.String("WORKER_API_URL", "http://localhost:8115"),
		APIKey:  secrets.FromEnv("INTERNAL_API_KEY"),
		Timeout: timeout,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("WORKER_API_URL is required")
	}
	return nil
}

// AppSpecs carries the user program's command template and environment
// variables. Cmd is opaque shell text resolved inside the worker container.
type AppSpecs struct {
	Cmd []string          `json:"cmd,omitempty"`
	Env map[string]string `json:"env,omitempty"`
}

type HandlerSpecs struct {
	ImageURL     string                       `json:"image_url"`
	ImageName    string                       `json:"image_name,omitempty"`
	ImageVersion string                       `json:"image_version,omitempty"`
	Entrypoint   string                       `json:"entrypoint,omitempty"`
	FilesDown    map[string]string            `json:"files_down,omitempty"`
	FilesUp      map[domain.OutputKind]string `json:"files_up"`
}

type MetaSpecs struct {
	JobID       string    `json:"job_id"`
	DateCreated time.Time `json:"date_created"`
}

type HardwareSpecs struct {
	CPUCores  int    `json:"cpu_cores,omitempty"`
	MemoryMiB int    `json:"memory,omitempty"`
	GPUModel  string `json:"gpu_model,omitempty"`
	GPUArchi  string `json:"gpu_archi,omitempty"`
	GPUMemMiB int    `json:"gpu_mem,omitempty"`
}

type JobSpecs struct {
	App      AppSpecs      `json:"app"`
	Handler  HandlerSpecs  `json:"handler"`
	Meta     MetaSpecs     `json:"meta"`
	Hardware HardwareSpecs `json:"hardware"`
}

// PathsUpload are the storage URIs the worker writes results back to.
type PathsUpload struct {
	Output   string `json:"output"`
	Log      string `json:"log"`
	Artifact string `json:"artifact"`
}

type QueueJob struct {
	Job         JobSpecs    `json:"job"`
	Environment string      `json:"environment,omitempty"`
	Group       string      `json:"group,omitempty"`
	Priority    int         `json:"priority"`
	PathsUpload PathsUpload `json:"paths_upload"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Enqueue submits a job for scheduling. Any transport failure or non-2xx
// response surfaces as ErrUpstream.
func (c *Client) Enqueue(ctx context.Context, job QueueJob) error {
	if c == nil || c.http == nil {
		return errors.New("worker api client not initialized")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode queue job: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/_jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.APIKeyHeader, c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
