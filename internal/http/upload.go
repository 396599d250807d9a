package http

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxUploadSize = 20 << 20 // 20 MB

// handleUpload accepts a multipart upload and stores it under the upload
// directory. The response's path field is the canonical location to use in
// a job's data_source.
func (h *JobsHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing form field 'file'")
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if filename == "" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".csv" && ext != ".json" {
		writeError(w, http.StatusBadRequest, "only .csv and .json files are accepted")
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		slog.Error("failed to create upload directory", "dir", h.uploadDir, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	dest := filepath.Join(h.uploadDir, filename)
	if _, err := os.Stat(dest); err == nil {
		// Keep existing uploads; disambiguate with a short unique prefix.
		filename = uuid.NewString()[:8] + "_" + filename
		dest = filepath.Join(h.uploadDir, filename)
	}

	out, err := os.Create(dest)
	if err != nil {
		slog.Error("failed to create upload file", "path", dest, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	size, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		slog.Error("failed to write upload file", "path", dest, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	slog.Info("file uploaded", "filename", filename, "size", size)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename": filename,
		"path":     "/data/uploads/" + filename,
		"size":     size,
	})
}

// sanitizeFilename strips any path components from an uploaded name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	// Collapse anything shell-hostile to underscores.
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if strings.Trim(out, "._") == "" {
		return ""
	}
	return out
}
