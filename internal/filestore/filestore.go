// Package filestore abstracts per-user file storage behind a gateway
// interface with interchangeable local-disk and S3-compatible backends.
package filestore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/scicloud-labs/jobgate/internal/domain"
)

var (
	ErrNotFound = errors.New("file not found")
	// ErrNotDirectory is returned when a listing target is a plain file.
	ErrNotDirectory = errors.New("not a directory")
	// ErrDirectory is returned when an operation is not allowed on a
	// directory (renaming a non-empty or predefined one).
	ErrDirectory = errors.New("operation not allowed on directory")
	// ErrBadPath rejects traversal and other malformed paths.
	ErrBadPath = errors.New("invalid path")
)

// PredefinedDirs are created for every user and survive deletion.
var PredefinedDirs = []string{
	string(domain.UploadConfig),
	string(domain.UploadData),
	string(domain.UploadArtifact),
	string(domain.OutputResult),
	string(domain.OutputLog),
}

// FileInfo describes one entry in a user's namespace. Directory paths carry
// a trailing slash, mirroring how they are addressed in requests.
type FileInfo struct {
	Path      string
	IsDir     bool
	SizeBytes int64
}

// Size renders the byte count the way listings present it; directories
// have no size.
func (f FileInfo) Size() string {
	if f.IsDir {
		return ""
	}
	return humanize.Bytes(uint64(f.SizeBytes))
}

// Gateway is the file-storage abstraction the API and job services use.
// All paths are relative to the owning user's namespace.
type Gateway interface {
	// InitUser creates the user's namespace and predefined directories.
	InitUser(ctx context.Context, user string) error

	Store(ctx context.Context, user, filePath string, r io.Reader, size int64) (FileInfo, error)
	// Open returns the content of a plain file.
	Open(ctx context.Context, user, filePath string) (io.ReadCloser, FileInfo, error)
	Stat(ctx context.Context, user, filePath string) (FileInfo, error)
	Exists(ctx context.Context, user, filePath string) (bool, error)
	IsDir(ctx context.Context, user, filePath string) (bool, error)

	// List returns the contents of a directory, sorted by path. With
	// dirs=false only plain files are returned.
	List(ctx context.Context, user, dir string, recursive, dirs bool) ([]FileInfo, error)

	MakeDir(ctx context.Context, user, dir string) error
	Rename(ctx context.Context, user, oldPath, newPath string) error
	// Delete removes a file or directory tree. Predefined directories and
	// the namespace root are recreated empty.
	Delete(ctx context.Context, user, filePath string) error

	// URI is the absolute location handed to the worker-facing API.
	URI(user, filePath string) string

	// PresignUpload and PresignDownload return a direct-to-storage URL
	// when the backend supports one; ok=false means the caller must fall
	// back to routing the transfer through this API.
	PresignUpload(ctx context.Context, user, filePath string, ttl time.Duration) (url string, ok bool, err error)
	PresignDownload(ctx context.Context, user, filePath string, ttl time.Duration) (url string, ok bool, err error)
}

// CleanPath normalizes a user-supplied path and rejects traversal.
// The empty string addresses the namespace root.
func CleanPath(p string) (string, error) {
	trailingSlash := strings.HasSuffix(p, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrBadPath
	}
	if trailingSlash {
		cleaned += "/"
	}
	return cleaned, nil
}

func isPredefined(p string) bool {
	p = strings.Trim(p, "/")
	for _, d := range PredefinedDirs {
		if p == d {
			return true
		}
	}
	return false
}
