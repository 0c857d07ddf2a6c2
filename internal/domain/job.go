package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus follows the lifecycle reported by the worker-facing API.
type JobStatus string

const (
	StatusQueued         JobStatus = "queued"
	StatusPulled         JobStatus = "pulled"
	StatusPreprocessing  JobStatus = "preprocessing"
	StatusRunning        JobStatus = "running"
	StatusPostprocessing JobStatus = "postprocessing"
	StatusFinished       JobStatus = "finished"
	StatusError          JobStatus = "error"
)

func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusPulled, StatusPreprocessing, StatusRunning,
		StatusPostprocessing, StatusFinished, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further status updates are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// Environment selects where the worker may place a job.
type Environment string

const (
	EnvCloud Environment = "cloud"
	EnvLocal Environment = "local"
	EnvAny   Environment = ""
)

func (e Environment) Valid() bool {
	return e == EnvCloud || e == EnvLocal || e == EnvAny
}

// OutputKind names the upload channels a job writes back through.
type OutputKind string

const (
	OutputResult   OutputKind = "output"
	OutputLog      OutputKind = "log"
	OutputArtifact OutputKind = "artifact"
)

func OutputKinds() []OutputKind {
	return []OutputKind{OutputResult, OutputLog, OutputArtifact}
}

func (k OutputKind) Valid() bool {
	return k == OutputResult || k == OutputLog || k == OutputArtifact
}

// UploadKind names the user file categories accepted for upload.
type UploadKind string

const (
	UploadConfig   UploadKind = "config"
	UploadData     UploadKind = "data"
	UploadArtifact UploadKind = "artifact"
)

func (k UploadKind) Valid() bool {
	return k == UploadConfig || k == UploadData || k == UploadArtifact
}

const (
	PriorityMin = 0
	PriorityMax = 5
)

// ApplicationSelector picks an Application Config Entry.
type ApplicationSelector struct {
	Application string
	Version     string
	Entrypoint  string
}

func (a ApplicationSelector) Validate() error {
	if strings.TrimSpace(a.Application) == "" {
		return errors.New("application is required")
	}
	if strings.TrimSpace(a.Version) == "" {
		return errors.New("version is required")
	}
	if strings.TrimSpace(a.Entrypoint) == "" {
		return errors.New("entrypoint is required")
	}
	return nil
}

// HardwareSpec carries user hardware requests; zero values mean "no request"
// and fall back to the application template defaults.
type HardwareSpec struct {
	CPUCores  int
	MemoryMiB int
	GPUModel  string
	GPUArchi  string
	GPUMemMiB int
}

// MergeOver returns h with unset fields filled from defaults.
func (h HardwareSpec) MergeOver(defaults HardwareSpec) HardwareSpec {
	out := h
	if out.CPUCores == 0 {
		out.CPUCores = defaults.CPUCores
	}
	if out.MemoryMiB == 0 {
		out.MemoryMiB = defaults.MemoryMiB
	}
	if out.GPUModel == "" {
		out.GPUModel = defaults.GPUModel
	}
	if out.GPUArchi == "" {
		out.GPUArchi = defaults.GPUArchi
	}
	if out.GPUMemMiB == 0 {
		out.GPUMemMiB = defaults.GPUMemMiB
	}
	return out
}

// FileRefs are the user-side identifiers of a job's input files.
type FileRefs struct {
	ConfigID    string
	DataIDs     []string
	ArtifactIDs []string
}

// JobAttributes holds the submission attributes forwarded to the worker.
type JobAttributes struct {
	FilesDown FileRefs
	EnvVars   map[string]string
}

// Job is a single analysis job owned by a user.
type Job struct {
	ID             string
	UserID         string
	UserEmail      string
	Name           string
	Application    ApplicationSelector
	Attributes     JobAttributes
	Hardware       HardwareSpec
	Environment    Environment
	Priority       int
	Status         JobStatus
	PathsOut       map[OutputKind]string
	RuntimeDetails string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(j.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job name is required")
	}
	if err := j.Application.Validate(); err != nil {
		return err
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid status %q", j.Status)
	}
	if !j.Environment.Valid() {
		return fmt.Errorf("invalid environment %q", j.Environment)
	}
	if j.Priority < PriorityMin || j.Priority > PriorityMax {
		return fmt.Errorf("priority must be between %d and %d", PriorityMin, PriorityMax)
	}
	return nil
}
