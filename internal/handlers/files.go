package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/yangjarod117/webssh/internal/logutil"
	"github.com/yangjarod117/webssh/internal/middleware"
	"github.com/yangjarod117/webssh/internal/remotefs"
	"github.com/yangjarod117/webssh/internal/transfer"
)

func queryPath(r *http.Request) string {
	return r.URL.Query().Get("path")
}

func requirePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := queryPath(r)
	if p == "" {
		writeError(w, http.StatusBadRequest, "path parameter required")
		return "", false
	}
	return p, true
}

func filesReady(w http.ResponseWriter) bool {
	if FS == nil || Transfers == nil {
		writeError(w, http.StatusServiceUnavailable, "File services not initialized")
		return false
	}
	return true
}

func ListFiles(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	s := middleware.GetSession(r)
	dirPath := remotefs.CleanPath(queryPath(r))

	start := time.Now()
	entries, err := FS.List(s.ID, dirPath)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("[files] ListFiles session=%s path=%s entries=%d duration=%s", s.ID, logutil.SanitizeForLog(dirPath), len(entries), time.Since(start))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    dirPath,
		"entries": entries,
	})
}

func StatFile(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	entry, err := FS.Stat(middleware.GetSession(r).ID, p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func FileExists(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":   remotefs.CleanPath(p),
		"exists": FS.Exists(middleware.GetSession(r).ID, p),
	})
}

func ReadFileContent(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	s := middleware.GetSession(r)

	start := time.Now()
	content, err := FS.ReadFile(s.ID, p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("[files] ReadFileContent session=%s path=%s size=%d duration=%s", s.ID, logutil.SanitizeForLog(p), len(content), time.Since(start))

	writeJSON(w, http.StatusOK, map[string]string{
		"path":    remotefs.CleanPath(p),
		"content": content,
	})
}

func WriteFileContent(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	var body struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s := middleware.GetSession(r)

	start := time.Now()
	if err := FS.WriteFile(s.ID, body.Path, body.Content); err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("[files] WriteFileContent session=%s path=%s size=%d duration=%s", s.ID, logutil.SanitizeForLog(body.Path), len(body.Content), time.Since(start))
	Auditor.LogFileOperation(s, "write", body.Path)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    remotefs.CleanPath(body.Path),
	})
}

func CreateEntry(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	var body struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s := middleware.GetSession(r)

	var err error
	switch body.Type {
	case "", string(remotefs.TypeFile):
		body.Type = string(remotefs.TypeFile)
		err = FS.CreateFile(s.ID, body.Path)
	case string(remotefs.TypeDirectory):
		err = FS.CreateDirectory(s.ID, body.Path)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported type %q", body.Type))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	Auditor.LogFileOperation(s, "create "+body.Type, body.Path)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"path":    remotefs.CleanPath(body.Path),
		"type":    body.Type,
	})
}

func RenameEntry(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	var body struct {
		OldPath string `json:"old_path"`
		NewPath string `json:"new_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OldPath == "" || body.NewPath == "" {
		writeError(w, http.StatusBadRequest, "old_path and new_path required")
		return
	}
	s := middleware.GetSession(r)

	if err := FS.Rename(s.ID, body.OldPath, body.NewPath); err != nil {
		writeServiceError(w, err)
		return
	}
	Auditor.LogFileOperation(s, "rename", body.OldPath+" -> "+body.NewPath)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"old_path": remotefs.CleanPath(body.OldPath),
		"new_path": remotefs.CleanPath(body.NewPath),
	})
}

// DeleteEntry removes a file, or a directory tree with recursive=true.
func DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	s := middleware.GetSession(r)
	recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))

	var err error
	op := "delete"
	if recursive {
		op = "delete directory"
		err = FS.DeleteDirectory(s.ID, p)
	} else {
		err = FS.DeleteFile(s.ID, p)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	Auditor.LogFileOperation(s, op, p)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    remotefs.CleanPath(p),
	})
}

// DownloadFile streams a remote file to the response without buffering it.
func DownloadFile(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	p, ok := requirePath(w, r)
	if !ok {
		return
	}
	s := middleware.GetSession(r)

	entry, err := FS.StatTarget(s.ID, p)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entry.Type == remotefs.TypeDirectory {
		writeError(w, http.StatusBadRequest, "path is a directory")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": entry.Name}))
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))

	n, err := Transfers.DownloadStream(r.Context(), s.ID, entry.Path, w, nil)
	if err != nil {
		if n == 0 {
			w.Header().Del("Content-Disposition")
			w.Header().Del("Content-Length")
			writeServiceError(w, err)
			return
		}
		// Headers are gone; abort so the client sees a truncated body.
		log.Printf("[files] DownloadFile session=%s path=%s failed after %d bytes: %v", s.ID, logutil.SanitizeForLog(entry.Path), n, err)
		panic(http.ErrAbortHandler)
	}
	Auditor.LogFileTransfer(s, "download", entry.Path, n)
}

// UploadFile streams the multipart "file" part to path/filename. When path
// already ends in the filename and is not a directory it is used as-is.
func UploadFile(w http.ResponseWriter, r *http.Request) {
	if !filesReady(w) {
		return
	}
	dirPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	s := middleware.GetSession(r)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart body required")
		return
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field required")
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}

		filename := path.Base(part.FileName())
		fullPath := remotefs.CleanPath(path.Join(dirPath, filename))
		if target := remotefs.CleanPath(dirPath); path.Base(target) == filename {
			if e, err := FS.StatTarget(s.ID, target); err != nil || e.Type != remotefs.TypeDirectory {
				fullPath = target
			}
		}

		size := transfer.UnknownSize
		if q := r.URL.Query().Get("size"); q != "" {
			if n, err := strconv.ParseInt(q, 10, 64); err == nil && n >= 0 {
				size = n
			}
		}

		start := time.Now()
		n, err := Transfers.UploadStream(r.Context(), s.ID, part, size, fullPath, nil)
		part.Close()
		if errors.Is(err, transfer.ErrShortUpload) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("upload ended after %d of %d bytes", n, size))
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		log.Printf("[files] UploadFile session=%s path=%s size=%d duration=%s", s.ID, logutil.SanitizeForLog(fullPath), n, time.Since(start))
		Auditor.LogFileTransfer(s, "upload", fullPath, n)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"path":     fullPath,
			"filename": filename,
			"size":     n,
		})
		return
	}
}
