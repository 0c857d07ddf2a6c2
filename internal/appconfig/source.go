package appconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// Source supplies the raw application config and its modification time.
// The backing location is a static deployment choice: a local file or an
// s3://bucket/key object.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	LastModified(ctx context.Context) (time.Time, error)
	Location() string
}

type LocalSource struct {
	Path string
}

func (s LocalSource) Read(ctx context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s LocalSource) LastModified(ctx context.Context) (time.Time, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s LocalSource) Location() string { return s.Path }

type ObjectSource struct {
	Client *minio.Client
	Bucket string
	Key    string
}

func (s ObjectSource) Read(ctx context.Context) ([]byte, error) {
	obj, err := s.Client.GetObject(ctx, s.Bucket, s.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Location(), err)
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s ObjectSource) LastModified(ctx context.Context) (time.Time, error) {
	info, err := s.Client.StatObject(ctx, s.Bucket, s.Key, minio.StatObjectOptions{})
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", s.Location(), err)
	}
	return info.LastModified, nil
}

func (s ObjectSource) Location() string {
	return "s3://" + s.Bucket + "/" + s.Key
}

// ParseS3Location splits an s3://bucket/key location.
func ParseS3Location(location string) (bucket string, key string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 location: %q", location)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.New("s3 location must be s3://bucket/key")
	}
	return bucket, key, nil
}
