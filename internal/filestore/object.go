package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/scicloud-labs/jobgate/internal/platform/objectstore"
)

// Object stores user files in an S3-compatible bucket under <user>/ prefixes.
// Directories are represented by zero-byte marker objects with a trailing
// slash, so empty directories survive listings.
type Object struct {
	client *minio.Client
	bucket string
}

func NewObject(client *minio.Client, cfg objectstore.Config) (*Object, error) {
	if client == nil {
		return nil, errors.New("object store client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &Object{client: client, bucket: cfg.Bucket}, nil
}

func (o *Object) key(user, p string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", errors.New("user is required")
	}
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	return user + "/" + strings.TrimSuffix(cleaned, "/"), nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}

func (o *Object) InitUser(ctx context.Context, user string) error {
	for _, dir := range PredefinedDirs {
		if err := o.MakeDir(ctx, user, dir); err != nil {
			return fmt.Errorf("init user dir %s: %w", dir, err)
		}
	}
	return nil
}

func (o *Object) Store(ctx context.Context, user, filePath string, r io.Reader, size int64) (FileInfo, error) {
	key, err := o.key(user, filePath)
	if err != nil {
		return FileInfo{}, err
	}
	if _, err := o.client.PutObject(ctx, o.bucket, key, r, size, minio.PutObjectOptions{}); err != nil {
		return FileInfo{}, fmt.Errorf("put object: %w", err)
	}
	return o.Stat(ctx, user, filePath)
}

func (o *Object) Open(ctx context.Context, user, filePath string) (io.ReadCloser, FileInfo, error) {
	info, err := o.Stat(ctx, user, filePath)
	if err != nil {
		return nil, FileInfo{}, err
	}
	if info.IsDir {
		return nil, FileInfo{}, ErrDirectory
	}
	key, err := o.key(user, filePath)
	if err != nil {
		return nil, FileInfo{}, err
	}
	obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("get object: %w", err)
	}
	return obj, info, nil
}

func (o *Object) Stat(ctx context.Context, user, filePath string) (FileInfo, error) {
	key, err := o.key(user, filePath)
	if err != nil {
		return FileInfo{}, err
	}
	cleaned, _ := CleanPath(filePath)
	cleaned = strings.TrimSuffix(cleaned, "/")
	if cleaned == "" {
		return FileInfo{Path: "/", IsDir: true}, nil
	}

	st, err := o.client.StatObject(ctx, o.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return FileInfo{Path: cleaned, IsDir: false, SizeBytes: st.Size}, nil
	}
	if !isNoSuchKey(err) {
		return FileInfo{}, fmt.Errorf("stat object: %w", err)
	}

	// No plain object; a directory exists if anything lives under its prefix.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range o.client.ListObjects(listCtx, o.bucket, minio.ListObjectsOptions{Prefix: key + "/", Recursive: false}) {
		if obj.Err != nil {
			return FileInfo{}, fmt.Errorf("stat prefix: %w", obj.Err)
		}
		return FileInfo{Path: cleaned + "/", IsDir: true}, nil
	}
	return FileInfo{}, ErrNotFound
}

func (o *Object) Exists(ctx context.Context, user, filePath string) (bool, error) {
	_, err := o.Stat(ctx, user, filePath)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o *Object) IsDir(ctx context.Context, user, filePath string) (bool, error) {
	info, err := o.Stat(ctx, user, filePath)
	if err != nil {
		return false, err
	}
	return info.IsDir, nil
}

func (o *Object) List(ctx context.Context, user, dir string, recursive, dirs bool) ([]FileInfo, error) {
	info, err := o.Stat(ctx, user, dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		return nil, ErrNotDirectory
	}
	key, err := o.key(user, dir)
	if err != nil {
		return nil, err
	}
	prefix := key + "/"
	userPrefix := user + "/"

	out := make([]FileInfo, 0)
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, userPrefix)
		if rel == "" || obj.Key == prefix {
			continue
		}
		isDir := strings.HasSuffix(rel, "/")
		if isDir && !dirs {
			continue
		}
		entry := FileInfo{Path: rel, IsDir: isDir, SizeBytes: obj.Size}
		if isDir {
			entry.SizeBytes = 0
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (o *Object) MakeDir(ctx context.Context, user, dir string) error {
	key, err := o.key(user, dir)
	if err != nil {
		return err
	}
	_, err = o.client.PutObject(ctx, o.bucket, key+"/", strings.NewReader(""), 0, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("create directory marker: %w", err)
	}
	return nil
}

func (o *Object) Rename(ctx context.Context, user, oldPath, newPath string) error {
	info, err := o.Stat(ctx, user, oldPath)
	if err != nil {
		return err
	}
	oldKey, err := o.key(user, oldPath)
	if err != nil {
		return err
	}
	newKey, err := o.key(user, newPath)
	if err != nil {
		return err
	}

	if info.IsDir {
		if isPredefined(oldPath) {
			return fmt.Errorf("%w: cannot rename a predefined directory", ErrDirectory)
		}
		contents, err := o.List(ctx, user, oldPath, false, true)
		if err != nil {
			return err
		}
		if len(contents) > 0 {
			return fmt.Errorf("%w: cannot rename a non-empty directory", ErrDirectory)
		}
		if err := o.MakeDir(ctx, user, newPath); err != nil {
			return err
		}
		return o.client.RemoveObject(ctx, o.bucket, oldKey+"/", minio.RemoveObjectOptions{})
	}

	_, err = o.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: o.bucket, Object: newKey},
		minio.CopySrcOptions{Bucket: o.bucket, Object: oldKey},
	)
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	if err := o.client.RemoveObject(ctx, o.bucket, oldKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove source object: %w", err)
	}
	return nil
}

func (o *Object) Delete(ctx context.Context, user, filePath string) error {
	info, err := o.Stat(ctx, user, filePath)
	if err != nil {
		return err
	}
	key, err := o.key(user, filePath)
	if err != nil {
		return err
	}

	if !info.IsDir {
		if err := o.client.RemoveObject(ctx, o.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object: %w", err)
		}
		return nil
	}

	prefix := key + "/"
	cleaned, _ := CleanPath(filePath)
	if strings.TrimSuffix(cleaned, "/") == "" {
		prefix = user + "/"
	}
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list for delete: %w", obj.Err)
		}
		if err := o.client.RemoveObject(ctx, o.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}

	if strings.TrimSuffix(cleaned, "/") == "" {
		return o.InitUser(ctx, user)
	}
	if isPredefined(cleaned) {
		return o.MakeDir(ctx, user, cleaned)
	}
	return nil
}

func (o *Object) URI(user, filePath string) string {
	key, err := o.key(user, filePath)
	if err != nil {
		return ""
	}
	return "s3://" + o.bucket + "/" + key
}

func (o *Object) PresignUpload(ctx context.Context, user, filePath string, ttl time.Duration) (string, bool, error) {
	key, err := o.key(user, filePath)
	if err != nil {
		return "", false, err
	}
	u, err := o.client.PresignedPutObject(ctx, o.bucket, key, ttl)
	if err != nil {
		return "", false, fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), true, nil
}

func (o *Object) PresignDownload(ctx context.Context, user, filePath string, ttl time.Duration) (string, bool, error) {
	info, err := o.Stat(ctx, user, filePath)
	if err != nil {
		return "", false, err
	}
	if info.IsDir {
		return "", false, ErrDirectory
	}
	key, err := o.key(user, filePath)
	if err != nil {
		return "", false, err
	}
	u, err := o.client.PresignedGetObject(ctx, o.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", false, fmt.Errorf("presign download: %w", err)
	}
	return u.String(), true, nil
}
