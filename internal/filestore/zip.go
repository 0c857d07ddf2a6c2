package filestore

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// WriteZip streams a directory tree from the gateway as a zip archive.
// Entry names are relative to the requested directory.
func WriteZip(ctx context.Context, w io.Writer, gw Gateway, user, dir string) error {
	entries, err := gw.List(ctx, user, dir, true, false)
	if err != nil {
		return err
	}

	cleaned, err := CleanPath(dir)
	if err != nil {
		return err
	}
	prefix := strings.TrimSuffix(cleaned, "/")
	if prefix != "" {
		prefix += "/"
	}

	zw := zip.NewWriter(w)
	for _, entry := range entries {
		rc, _, err := gw.Open(ctx, user, entry.Path)
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("open %s: %w", entry.Path, err)
		}
		name := strings.TrimPrefix(entry.Path, prefix)
		if name == "" {
			name = path.Base(entry.Path)
		}
		dst, err := zw.Create(name)
		if err != nil {
			_ = rc.Close()
			_ = zw.Close()
			return fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := io.Copy(dst, rc); err != nil {
			_ = rc.Close()
			_ = zw.Close()
			return fmt.Errorf("write zip entry %s: %w", name, err)
		}
		if err := rc.Close(); err != nil {
			_ = zw.Close()
			return fmt.Errorf("close %s: %w", entry.Path, err)
		}
	}
	return zw.Close()
}
