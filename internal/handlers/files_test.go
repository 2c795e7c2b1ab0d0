package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/yangjarod117/webssh/internal/remotefs"
)

func filesURL(id, suffix string, query url.Values) string {
	u := "/api/v1/sessions/" + id + "/files" + suffix
	if query != nil {
		u += "?" + query.Encode()
	}
	return u
}

func TestFileOperations(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	resp, body := env.do(t, "POST", filesURL(id, "/create", nil), map[string]string{"path": "/work", "type": "directory"})
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = env.do(t, "PUT", filesURL(id, "/write", nil), map[string]string{"path": "/work/notes.txt", "content": "first draft"})
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.do(t, "POST", filesURL(id, "/create", nil), map[string]string{"path": "work/empty.txt"})
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = env.do(t, "GET", filesURL(id, "", url.Values{"path": {"/work/"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)
	var listing struct {
		Path    string               `json:"path"`
		Entries []remotefs.FileEntry `json:"entries"`
	}
	decode(t, body, &listing)
	if listing.Path != "/work" || len(listing.Entries) != 2 {
		t.Fatalf("listing = %+v", listing)
	}
	if listing.Entries[0].Name != "empty.txt" || listing.Entries[1].Path != "/work/notes.txt" {
		t.Errorf("entries = %+v", listing.Entries)
	}

	resp, body = env.do(t, "GET", filesURL(id, "/read", url.Values{"path": {"/work/notes.txt"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)
	var read map[string]string
	decode(t, body, &read)
	if read["content"] != "first draft" {
		t.Errorf("content = %q", read["content"])
	}

	resp, body = env.do(t, "GET", filesURL(id, "/stat", url.Values{"path": {"/work"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)
	var entry remotefs.FileEntry
	decode(t, body, &entry)
	if entry.Type != remotefs.TypeDirectory || entry.Name != "work" {
		t.Errorf("stat = %+v", entry)
	}

	resp, body = env.do(t, "POST", filesURL(id, "/rename", nil), map[string]string{"old_path": "/work/notes.txt", "new_path": "/work/final.txt"})
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.do(t, "GET", filesURL(id, "/exists", url.Values{"path": {"/work/notes.txt"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)
	var exists map[string]interface{}
	decode(t, body, &exists)
	if exists["exists"] != false {
		t.Errorf("old path should be gone: %v", exists)
	}

	resp, body = env.do(t, "DELETE", filesURL(id, "", url.Values{"path": {"/work/final.txt"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.do(t, "DELETE", filesURL(id, "", url.Values{"path": {"/work"}, "recursive": {"true"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.do(t, "GET", filesURL(id, "/exists", url.Values{"path": {"/work"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)
	decode(t, body, &exists)
	if exists["exists"] != false {
		t.Errorf("directory should be deleted: %v", exists)
	}
}

func TestFileOperations_Errors(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	resp, body := env.do(t, "GET", filesURL(id, "/read", url.Values{"path": {"/missing.txt"}}), nil)
	expectStatus(t, resp, body, http.StatusInternalServerError)
	var out map[string]string
	decode(t, body, &out)
	if out["detail"] == "" || out["detail"] == "Internal server error" {
		t.Errorf("remote failures should carry their reason, got %q", out["detail"])
	}

	resp, body = env.do(t, "GET", filesURL(id, "/read", nil), nil)
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "POST", filesURL(id, "/create", nil), map[string]string{"path": "/x", "type": "socket"})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "POST", filesURL(id, "/rename", nil), map[string]string{"old_path": "/x"})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "DELETE", filesURL(id, "", url.Values{"path": {"/"}, "recursive": {"true"}}), nil)
	expectStatus(t, resp, body, http.StatusInternalServerError)

	resp, body = env.do(t, "GET", filesURL("unknown", "", nil), nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestUploadAndDownload(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	resp, body := env.do(t, "POST", filesURL(id, "/create", nil), map[string]string{"path": "/up", "type": "directory"})
	expectStatus(t, resp, body, http.StatusCreated)

	payload := make([]byte, 200*1024+3)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile("file", "blob.bin")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(payload)
	mw.Close()

	req, _ := http.NewRequest("POST", env.srv.URL+filesURL(id, "/upload", url.Values{"path": {"/up"}, "size": {strconv.Itoa(len(payload))}}), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	uresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	ubody, _ := io.ReadAll(uresp.Body)
	uresp.Body.Close()
	expectStatus(t, uresp, ubody, http.StatusOK)
	var up struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	decode(t, ubody, &up)
	if up.Path != "/up/blob.bin" || up.Size != int64(len(payload)) {
		t.Errorf("upload result = %+v", up)
	}

	dresp, err := http.Get(env.srv.URL + filesURL(id, "/download", url.Values{"path": {"/up/blob.bin"}}))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, _ := io.ReadAll(dresp.Body)
	dresp.Body.Close()
	expectStatus(t, dresp, nil, http.StatusOK)
	if !bytes.Equal(got, payload) {
		t.Errorf("downloaded %d bytes, differs from upload", len(got))
	}
	if cd := dresp.Header.Get("Content-Disposition"); cd != `attachment; filename=blob.bin` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if cl := dresp.Header.Get("Content-Length"); cl != strconv.Itoa(len(payload)) {
		t.Errorf("Content-Length = %q", cl)
	}

	resp, body = env.do(t, "GET", filesURL(id, "/download", url.Values{"path": {"/up"}}), nil)
	expectStatus(t, resp, body, http.StatusBadRequest)
}

func TestUploadRequiresFilePart(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "no file here")
	mw.Close()

	req, _ := http.NewRequest("POST", env.srv.URL+filesURL(id, "/upload", url.Values{"path": {"/"}}), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	expectStatus(t, resp, body, http.StatusBadRequest)
}

func (e *testEnv) upload(t *testing.T, id, dir, filename string, payload []byte, size string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(payload)
	mw.Close()

	q := url.Values{"path": {dir}}
	if size != "" {
		q.Set("size", size)
	}
	req, _ := http.NewRequest("POST", e.srv.URL+filesURL(id, "/upload", q), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestDownloadThroughSymlink(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 8*1024)
	resp, body := env.upload(t, id, "/", "data.bin", payload, "")
	expectStatus(t, resp, body, http.StatusOK)

	fc, err := env.mgr.FileChannel(id)
	if err != nil {
		t.Fatalf("FileChannel: %v", err)
	}
	if err := fc.Symlink("/data.bin", "/latest"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	dresp, err := http.Get(env.srv.URL + filesURL(id, "/download", url.Values{"path": {"/latest"}}))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := io.ReadAll(dresp.Body)
	dresp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	expectStatus(t, dresp, nil, http.StatusOK)
	if !bytes.Equal(got, payload) {
		t.Errorf("downloaded %d bytes through the link, want %d", len(got), len(payload))
	}
	if cl := dresp.Header.Get("Content-Length"); cl != strconv.Itoa(len(payload)) {
		t.Errorf("Content-Length = %q, want %d", cl, len(payload))
	}
	if cd := dresp.Header.Get("Content-Disposition"); cd != `attachment; filename=latest` {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestUploadIntoDirectoryNamedLikeFile(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	for _, dir := range []string{"/srv", "/srv/app"} {
		resp, body := env.do(t, "POST", filesURL(id, "/create", nil), map[string]string{"path": dir, "type": "directory"})
		expectStatus(t, resp, body, http.StatusCreated)
	}

	resp, body := env.upload(t, id, "/srv/app", "app", []byte("#!/bin/sh\n"), "")
	expectStatus(t, resp, body, http.StatusOK)
	var up struct {
		Path string `json:"path"`
	}
	decode(t, body, &up)
	if up.Path != "/srv/app/app" {
		t.Errorf("path = %q, want /srv/app/app", up.Path)
	}

	// A path that names a file (or nothing yet) is the target itself.
	resp, body = env.upload(t, id, "/srv/config.yaml", "config.yaml", []byte("a: 1\n"), "")
	expectStatus(t, resp, body, http.StatusOK)
	decode(t, body, &up)
	if up.Path != "/srv/config.yaml" {
		t.Errorf("path = %q, want /srv/config.yaml", up.Path)
	}
}

func TestUploadShorterThanDeclaredSize(t *testing.T) {
	env := setupHandlers(t)
	id := env.createSession(t)

	resp, body := env.upload(t, id, "/", "part.bin", []byte("only ten b"), "4096")
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = env.do(t, "GET", filesURL(id, "/exists", url.Values{"path": {"/part.bin"}}), nil)
	expectStatus(t, resp, body, http.StatusOK)
	var out struct {
		Exists bool `json:"exists"`
	}
	decode(t, body, &out)
	if out.Exists {
		t.Error("short upload should not leave a file")
	}
}
