package appconfig

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scicloud-labs/jobgate/internal/domain"
)

// Store holds the current config snapshot and reloads it when the backing
// source changes. Readers always see either the previous snapshot or a fully
// reloaded one; a snapshot that fails to parse is discarded and the previous
// one stays in effect.
type Store struct {
	source Source
	logger *slog.Logger

	mu       sync.RWMutex
	cfg      Config
	loadedAt time.Time
}

func NewStore(ctx context.Context, source Source, logger *slog.Logger) (*Store, error) {
	s := &Store{source: source, logger: logger}
	if err := s.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load %s: %w", source.Location(), err)
	}
	return s, nil
}

// Config returns the current snapshot.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Resolve resolves against the current snapshot.
func (s *Store) Resolve(selector domain.ApplicationSelector) (Entry, error) {
	return s.Config().Resolve(selector)
}

func (s *Store) Reload(ctx context.Context) error {
	raw, err := s.source.Read(ctx)
	if err != nil {
		return err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return err
	}
	mod, err := s.source.LastModified(ctx)
	if err != nil {
		mod = time.Now()
	}

	s.mu.Lock()
	s.cfg = cfg
	s.loadedAt = mod
	s.mu.Unlock()
	return nil
}

// Watch blocks until ctx is done, reloading the snapshot when the source
// changes. Local files are watched with fsnotify; object sources are polled
// by LastModified.
func (s *Store) Watch(ctx context.Context, pollInterval time.Duration) error {
	if local, ok := s.source.(LocalSource); ok {
		return s.watchLocal(ctx, local)
	}
	return s.poll(ctx, pollInterval)
}

func (s *Store) watchLocal(ctx context.Context, local LocalSource) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", local.Path, err)
	}
	defer watcher.Close()

	// Watch the directory: editors and config maps replace the file,
	// which drops a direct file watch.
	dir := filepath.Dir(local.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(local.Path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.reloadLogged(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("application config watch error", "path", local.Path, "error", err)
		}
	}
}

func (s *Store) poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			mod, err := s.source.LastModified(ctx)
			if err != nil {
				s.logger.Warn("application config stat failed", "location", s.source.Location(), "error", err)
				continue
			}
			s.mu.RLock()
			stale := mod.After(s.loadedAt)
			s.mu.RUnlock()
			if stale {
				s.reloadLogged(ctx)
			}
		}
	}
}

func (s *Store) reloadLogged(ctx context.Context) {
	if err := s.Reload(ctx); err != nil {
		s.logger.Error("application config reload failed, keeping previous snapshot",
			"location", s.source.Location(), "error", err)
		return
	}
	s.logger.Info("application config reloaded", "location", s.source.Location())
}
