package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/scicloud-labs/jobgate/internal/domain"
	"github.com/scicloud-labs/jobgate/internal/filestore"
)

type fileInfoResponse struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size string `json:"size"`
}

func toFileInfoResponse(info filestore.FileInfo) fileInfoResponse {
	kind := "file"
	if info.IsDir {
		kind = "directory"
	}
	return fileInfoResponse{Path: info.Path, Type: kind, Size: info.Size()}
}

func queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (api *jobgateAPI) handleListFiles(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	dir := r.PathValue("path")
	recursive := queryBool(r, "recursive", false)
	showDirs := queryBool(r, "show_dirs", true)

	entries, err := api.files.List(r.Context(), identity.Subject, dir, recursive, showDirs)
	if err != nil {
		if errors.Is(err, filestore.ErrNotDirectory) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]fileInfoResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toFileInfoResponse(entry))
	}
	api.writeJSON(w, http.StatusOK, out)
}

// handleUploadFile stores a multipart upload under the kind directory. A
// body-less request for a path ending in a slash creates a directory instead.
func (api *jobgateAPI) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	kind := domain.UploadKind(r.PathValue("kind"))
	if !kind.Valid() {
		api.writeErrorWithDetails(w, r, http.StatusUnprocessableEntity, "validation_failed",
			fmt.Sprintf("upload kind must be one of config, data, artifact (got %q)", kind))
		return
	}
	basePath := string(kind) + "/" + r.PathValue("path")

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if strings.HasSuffix(r.URL.Path, "/") {
			if err := api.files.MakeDir(r.Context(), identity.Subject, basePath); err != nil {
				api.writeServiceError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusCreated)
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "file_field_required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "file_field_required")
		return
	}
	defer file.Close()

	name := header.Filename
	if name == "" {
		name = "unnamed"
	}
	filePath := strings.TrimSuffix(basePath, "/") + "/" + path.Base(name)
	info, err := api.files.Store(r.Context(), identity.Subject, filePath, file, header.Size)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toFileInfoResponse(info))
}

func (api *jobgateAPI) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	filePath := r.PathValue("path")

	info, err := api.files.Stat(r.Context(), identity.Subject, filePath)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	// Directories are streamed as a zip of their contents.
	if info.IsDir {
		name := path.Base(strings.TrimSuffix(info.Path, "/"))
		if name == "" || name == "/" {
			name = "files"
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name + ".zip"}))
		if err := filestore.WriteZip(r.Context(), w, api.files, identity.Subject, filePath); err != nil {
			api.logger.Error("zip stream failed", "path", filePath, "error", err)
		}
		return
	}

	rc, info, err := api.files.Open(r.Context(), identity.Subject, filePath)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(info.Path)}))
	if info.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.SizeBytes, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		api.logger.Error("download stream failed", "path", filePath, "error", err)
	}
}

type renameRequest struct {
	Path string `json:"path"`
}

func (api *jobgateAPI) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	oldPath := r.PathValue("path")

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		api.writeError(w, r, http.StatusBadRequest, "path_required")
		return
	}

	if err := api.files.Rename(r.Context(), identity.Subject, oldPath, req.Path); err != nil {
		if errors.Is(err, filestore.ErrDirectory) {
			api.writeErrorWithDetails(w, r, http.StatusMethodNotAllowed, "directory_rename_not_allowed", err.Error())
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	info, err := api.files.Stat(r.Context(), identity.Subject, req.Path)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toFileInfoResponse(info))
}

func (api *jobgateAPI) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	if err := api.files.Delete(r.Context(), identity.Subject, r.PathValue("path")); err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			// deleting a missing path is a no-op, matching directory semantics
			w.WriteHeader(http.StatusNoContent)
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileRequestResponse tells the client how to perform a transfer: either a
// presigned storage URL, or this API's own route when the backend has none.
type fileRequestResponse struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (api *jobgateAPI) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	kind := domain.UploadKind(r.PathValue("kind"))
	if !kind.Valid() {
		api.writeErrorWithDetails(w, r, http.StatusUnprocessableEntity, "validation_failed",
			fmt.Sprintf("upload kind must be one of config, data, artifact (got %q)", kind))
		return
	}
	filePath := string(kind) + "/" + r.PathValue("path")

	url, presigned, err := api.files.PresignUpload(r.Context(), identity.Subject, filePath, api.presignTTL)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if presigned {
		api.writeJSON(w, http.StatusCreated, fileRequestResponse{URL: url, Method: http.MethodPut})
		return
	}
	api.writeJSON(w, http.StatusCreated, fileRequestResponse{
		URL:     apiURL(r, "/files/"+filePath),
		Method:  http.MethodPost,
		Headers: map[string]string{"Authorization": r.Header.Get("Authorization")},
	})
}

func (api *jobgateAPI) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, api)
	if !ok {
		return
	}
	filePath := r.PathValue("path")

	if exists, err := api.files.Exists(r.Context(), identity.Subject, filePath); err != nil {
		api.writeServiceError(w, r, err)
		return
	} else if !exists {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}

	url, presigned, err := api.files.PresignDownload(r.Context(), identity.Subject, filePath, api.presignTTL)
	if err != nil && !errors.Is(err, filestore.ErrDirectory) {
		api.writeServiceError(w, r, err)
		return
	}
	if presigned {
		api.writeJSON(w, http.StatusCreated, fileRequestResponse{URL: url, Method: http.MethodGet})
		return
	}
	api.writeJSON(w, http.StatusCreated, fileRequestResponse{
		URL:     apiURL(r, "/download/"+filePath),
		Method:  http.MethodGet,
		Headers: map[string]string{"Authorization": r.Header.Get("Authorization")},
	})
}

func apiURL(r *http.Request, p string) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + p
}
