package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Local stores user files on a shared volume under <root>/<user>/.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) full(user, p string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", errors.New("user is required")
	}
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, user, filepath.FromSlash(strings.TrimSuffix(cleaned, "/"))), nil
}

func (l *Local) rel(user, full string) string {
	prefix := filepath.Join(l.root, user)
	rel, err := filepath.Rel(prefix, full)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (l *Local) InitUser(ctx context.Context, user string) error {
	for _, dir := range PredefinedDirs {
		full, err := l.full(user, dir)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("init user dir %s: %w", dir, err)
		}
	}
	return nil
}

func (l *Local) Store(ctx context.Context, user, filePath string, r io.Reader, size int64) (FileInfo, error) {
	full, err := l.full(user, filePath)
	if err != nil {
		return FileInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return FileInfo{}, fmt.Errorf("create parent: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return FileInfo{}, fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return FileInfo{}, fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("close file: %w", err)
	}
	return l.Stat(ctx, user, filePath)
}

func (l *Local) Open(ctx context.Context, user, filePath string) (io.ReadCloser, FileInfo, error) {
	info, err := l.Stat(ctx, user, filePath)
	if err != nil {
		return nil, FileInfo{}, err
	}
	if info.IsDir {
		return nil, FileInfo{}, ErrDirectory
	}
	full, err := l.full(user, filePath)
	if err != nil {
		return nil, FileInfo{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, FileInfo{}, mapOSError(err)
	}
	return f, info, nil
}

func (l *Local) Stat(ctx context.Context, user, filePath string) (FileInfo, error) {
	full, err := l.full(user, filePath)
	if err != nil {
		return FileInfo{}, err
	}
	st, err := os.Stat(full)
	if err != nil {
		return FileInfo{}, mapOSError(err)
	}
	cleaned, _ := CleanPath(filePath)
	cleaned = strings.TrimSuffix(cleaned, "/")
	info := FileInfo{Path: cleaned, IsDir: st.IsDir(), SizeBytes: st.Size()}
	if info.IsDir {
		info.Path += "/"
		info.SizeBytes = 0
	}
	return info, nil
}

func (l *Local) Exists(ctx context.Context, user, filePath string) (bool, error) {
	_, err := l.Stat(ctx, user, filePath)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Local) IsDir(ctx context.Context, user, filePath string) (bool, error) {
	info, err := l.Stat(ctx, user, filePath)
	if err != nil {
		return false, err
	}
	return info.IsDir, nil
}

func (l *Local) List(ctx context.Context, user, dir string, recursive, dirs bool) ([]FileInfo, error) {
	full, err := l.full(user, dir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, mapOSError(err)
	}
	if !st.IsDir() {
		return nil, ErrNotDirectory
	}

	out := make([]FileInfo, 0)
	appendEntry := func(path string, d fs.DirEntry) error {
		if d.IsDir() && !dirs {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		info := FileInfo{Path: l.rel(user, path), IsDir: d.IsDir(), SizeBytes: st.Size()}
		if info.IsDir {
			info.Path += "/"
			info.SizeBytes = 0
		}
		out = append(out, info)
		return nil
	}

	if recursive {
		err = filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == full {
				return nil
			}
			return appendEntry(path, d)
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	} else {
		entries, err := os.ReadDir(full)
		if err != nil {
			return nil, mapOSError(err)
		}
		for _, entry := range entries {
			if err := appendEntry(filepath.Join(full, entry.Name()), entry); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (l *Local) MakeDir(ctx context.Context, user, dir string) error {
	full, err := l.full(user, dir)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

func (l *Local) Rename(ctx context.Context, user, oldPath, newPath string) error {
	info, err := l.Stat(ctx, user, oldPath)
	if err != nil {
		return err
	}
	if info.IsDir {
		if isPredefined(oldPath) {
			return fmt.Errorf("%w: cannot rename a predefined directory", ErrDirectory)
		}
		contents, err := l.List(ctx, user, oldPath, false, true)
		if err != nil {
			return err
		}
		if len(contents) > 0 {
			return fmt.Errorf("%w: cannot rename a non-empty directory", ErrDirectory)
		}
	}

	oldFull, err := l.full(user, oldPath)
	if err != nil {
		return err
	}
	newFull, err := l.full(user, newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return mapOSError(err)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, user, filePath string) error {
	info, err := l.Stat(ctx, user, filePath)
	if err != nil {
		return err
	}
	full, err := l.full(user, filePath)
	if err != nil {
		return err
	}

	if !info.IsDir {
		if err := os.Remove(full); err != nil {
			return mapOSError(err)
		}
		return nil
	}

	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete directory: %w", err)
	}
	cleaned, _ := CleanPath(filePath)
	if cleaned == "" {
		// namespace root: recreate the predefined layout
		return l.InitUser(ctx, user)
	}
	if isPredefined(cleaned) {
		return os.MkdirAll(full, 0o755)
	}
	return nil
}

func (l *Local) URI(user, filePath string) string {
	full, err := l.full(user, filePath)
	if err != nil {
		return ""
	}
	return full
}

func (l *Local) PresignUpload(ctx context.Context, user, filePath string, ttl time.Duration) (string, bool, error) {
	return "", false, nil
}

func (l *Local) PresignDownload(ctx context.Context, user, filePath string, ttl time.Duration) (string, bool, error) {
	return "", false, nil
}

func mapOSError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
