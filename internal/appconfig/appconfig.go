// Package appconfig resolves (application, version, entrypoint) selections
// into runnable job templates declared in application_config.yaml.
package appconfig

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/scicloud-labs/jobgate/internal/domain"
)

// ErrNotFound marks a selection that does not resolve to a config entry.
var ErrNotFound = errors.New("application config entry not found")

// AppSpec is the user-program half of an entry. Cmd is opaque shell text
// resolved inside the worker container; it is never parsed or executed here.
type AppSpec struct {
	Cmd []string `yaml:"cmd"`
	Env []string `yaml:"env"`
}

type hardware struct {
	CPUCores  int    `yaml:"cpu_cores"`
	MemoryMiB int    `yaml:"memory"`
	GPUModel  string `yaml:"gpu_model"`
	GPUArchi  string `yaml:"gpu_archi"`
	GPUMemMiB int    `yaml:"gpu_mem"`
}

type AWSResources struct {
	Hardware       hardware `yaml:"hardware"`
	TimeoutSeconds int      `yaml:"timeout"`
}

// HandlerSpec describes how the worker wraps the user program in a container.
type HandlerSpec struct {
	ImageURL  string            `yaml:"image_url"`
	FilesDown map[string]string `yaml:"files_down"`
	FilesUp   map[string]string `yaml:"files_up"`
	AWS       AWSResources      `yaml:"aws_resources"`
}

// Entry is one resolved application template.
type Entry struct {
	App     AppSpec     `yaml:"app"`
	Handler HandlerSpec `yaml:"handler"`
}

// DefaultHardware returns the template hardware defaults.
func (e Entry) DefaultHardware() domain.HardwareSpec {
	hw := e.Handler.AWS.Hardware
	return domain.HardwareSpec{
		CPUCores:  hw.CPUCores,
		MemoryMiB: hw.MemoryMiB,
		GPUModel:  hw.GPUModel,
		GPUArchi:  hw.GPUArchi,
		GPUMemMiB: hw.GPUMemMiB,
	}
}

// AllowsEnv reports whether name is on the entry's environment allow-list.
func (e Entry) AllowsEnv(name string) bool {
	for _, allowed := range e.App.Env {
		if allowed == name {
			return true
		}
	}
	return false
}

// Config is the three-level application → version → entrypoint mapping.
type Config map[string]map[string]map[string]Entry

var fileRefKeys = map[string]bool{
	"config_id":    true,
	"data_ids":     true,
	"artifact_ids": true,
}

func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse application config: %w", err)
	}
	if cfg == nil {
		return nil, errors.New("application config must be a mapping")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for app, versions := range c {
		for version, entrypoints := range versions {
			for entrypoint, entry := range entrypoints {
				where := fmt.Sprintf("%s/%s/%s", app, version, entrypoint)
				if len(entry.App.Cmd) == 0 {
					return fmt.Errorf("%s: app.cmd must not be empty", where)
				}
				if entry.Handler.ImageURL == "" {
					return fmt.Errorf("%s: handler.image_url is required", where)
				}
				for key := range entry.Handler.FilesDown {
					if !fileRefKeys[key] {
						return fmt.Errorf("%s: unknown files_down key %q", where, key)
					}
				}
				for key := range entry.Handler.FilesUp {
					if !domain.OutputKind(key).Valid() {
						return fmt.Errorf("%s: unknown files_up key %q", where, key)
					}
				}
			}
		}
	}
	return nil
}

// Resolve looks up the three-level mapping, failing with ErrNotFound at the
// first absent level.
func (c Config) Resolve(selector domain.ApplicationSelector) (Entry, error) {
	versions, ok := c[selector.Application]
	if !ok {
		return Entry{}, fmt.Errorf("%w: application %q (available: %v)",
			ErrNotFound, selector.Application, sortedKeys(c))
	}
	entrypoints, ok := versions[selector.Version]
	if !ok {
		return Entry{}, fmt.Errorf("%w: version %q of application %q (available: %v)",
			ErrNotFound, selector.Version, selector.Application, sortedKeys(versions))
	}
	entry, ok := entrypoints[selector.Entrypoint]
	if !ok {
		return Entry{}, fmt.Errorf("%w: entrypoint %q of %s/%s (available: %v)",
			ErrNotFound, selector.Entrypoint, selector.Application, selector.Version, sortedKeys(entrypoints))
	}
	return entry, nil
}

// Applications lists the selectable application names.
func (c Config) Applications() []string {
	return sortedKeys(c)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
