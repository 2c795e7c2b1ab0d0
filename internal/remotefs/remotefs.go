// Package remotefs exposes filesystem operations over a session's SFTP
// channel.
//
// Every operation first acquires the session's file channel, so a missing
// session or a channel that cannot be opened fails each method the same way.
// Remote failures are wrapped in [RemoteError], which matches
// [ErrRemoteOperation] under errors.Is.
package remotefs

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/yangjarod117/webssh/internal/logutil"
	"github.com/yangjarod117/webssh/internal/sshsession"
)

// ErrRemoteOperation matches every RemoteError.
var ErrRemoteOperation = errors.New("remote operation failed")

// RemoteError carries the remote-reported reason for a failed operation.
type RemoteError struct {
	Op   string
	Path string
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteOperation }

// EntryType is the kind of a remote directory entry.
type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
	TypeSymlink   EntryType = "symlink"
)

// FileEntry describes one remote file.
type FileEntry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Type        EntryType `json:"type"`
	Size        int64     `json:"size"`
	Mode        uint32    `json:"mode"`
	Permissions string    `json:"permissions"`
	UID         uint32    `json:"uid"`
	GID         uint32    `json:"gid"`
	AccessTime  time.Time `json:"atime"`
	ModTime     time.Time `json:"mtime"`
}

// ChannelProvider hands out a session's file channel. *sshsession.Manager
// implements it.
type ChannelProvider interface {
	FileChannel(sessionID string) (sshsession.FileChannel, error)
}

// FS runs filesystem operations against sessions.
type FS struct {
	channels ChannelProvider
}

// New returns an FS backed by channels.
func New(channels ChannelProvider) *FS {
	return &FS{channels: channels}
}

// CleanPath normalizes a remote path to an absolute path without redundant
// separators. An empty path is the root.
func CleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func entryFromInfo(p string, fi os.FileInfo) FileEntry {
	mode := fi.Mode()
	e := FileEntry{
		Name:        fi.Name(),
		Path:        p,
		Size:        fi.Size(),
		Mode:        uint32(mode.Perm()),
		Permissions: mode.String(),
		ModTime:     fi.ModTime(),
	}
	switch {
	case mode&os.ModeSymlink != 0:
		e.Type = TypeSymlink
	case mode.IsDir():
		e.Type = TypeDirectory
	default:
		e.Type = TypeFile
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		e.UID = st.UID
		e.GID = st.GID
		e.AccessTime = time.Unix(int64(st.Atime), 0)
		e.ModTime = time.Unix(int64(st.Mtime), 0)
	}
	return e
}

// List returns one entry per child of dir, ordered by name.
func (fs *FS) List(sessionID, dir string) ([]FileEntry, error) {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return nil, err
	}
	dir = CleanPath(dir)
	infos, err := fc.ReadDir(dir)
	if err != nil {
		return nil, &RemoteError{Op: "list", Path: dir, Err: err}
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, entryFromInfo(path.Join(dir, name), fi))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadFile returns the content of a remote file as UTF-8 text. Invalid byte
// sequences become U+FFFD.
func (fs *FS) ReadFile(sessionID, p string) (string, error) {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return "", err
	}
	p = CleanPath(p)
	start := time.Now()

	r, err := fc.Open(p)
	if err != nil {
		return "", &RemoteError{Op: "read", Path: p, Err: err}
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", &RemoteError{Op: "read", Path: p, Err: err}
	}
	log.Printf("[remotefs] %s: read %s (%d bytes) in %s", sessionID, logutil.SanitizeForLog(p), len(data), time.Since(start))
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// WriteFile overwrites p with content, creating it if absent.
func (fs *FS) WriteFile(sessionID, p, content string) error {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return err
	}
	p = CleanPath(p)
	start := time.Now()

	w, err := fc.Create(p)
	if err != nil {
		return &RemoteError{Op: "write", Path: p, Err: err}
	}
	if _, err := io.WriteString(w, content); err != nil {
		w.Close()
		return &RemoteError{Op: "write", Path: p, Err: err}
	}
	if err := w.Close(); err != nil {
		return &RemoteError{Op: "write", Path: p, Err: err}
	}
	log.Printf("[remotefs] %s: wrote %s (%d bytes) in %s", sessionID, logutil.SanitizeForLog(p), len(content), time.Since(start))
	return nil
}

// CreateFile creates an empty file, truncating an existing one.
func (fs *FS) CreateFile(sessionID, p string) error {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return err
	}
	p = CleanPath(p)
	w, err := fc.Create(p)
	if err != nil {
		return &RemoteError{Op: "create file", Path: p, Err: err}
	}
	if err := w.Close(); err != nil {
		return &RemoteError{Op: "create file", Path: p, Err: err}
	}
	log.Printf("[remotefs] %s: created file %s", sessionID, logutil.SanitizeForLog(p))
	return nil
}

// CreateDirectory creates one directory. The parent must exist.
func (fs *FS) CreateDirectory(sessionID, p string) error {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return err
	}
	p = CleanPath(p)
	if err := fc.Mkdir(p); err != nil {
		return &RemoteError{Op: "create directory", Path: p, Err: err}
	}
	log.Printf("[remotefs] %s: created directory %s", sessionID, logutil.SanitizeForLog(p))
	return nil
}

// DeleteFile removes a file.
func (fs *FS) DeleteFile(sessionID, p string) error {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return err
	}
	p = CleanPath(p)
	if err := fc.Remove(p); err != nil {
		return &RemoteError{Op: "delete", Path: p, Err: err}
	}
	log.Printf("[remotefs] %s: deleted %s", sessionID, logutil.SanitizeForLog(p))
	return nil
}

// Rename moves oldPath to newPath.
func (fs *FS) Rename(sessionID, oldPath, newPath string) error {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return err
	}
	oldPath, newPath = CleanPath(oldPath), CleanPath(newPath)
	if err := fc.Rename(oldPath, newPath); err != nil {
		return &RemoteError{Op: "rename", Path: oldPath, Err: err}
	}
	log.Printf("[remotefs] %s: renamed %s to %s", sessionID, logutil.SanitizeForLog(oldPath), logutil.SanitizeForLog(newPath))
	return nil
}

// DeleteDirectory removes dir and everything below it, depth first. There is
// no rollback: every child is attempted even after a sibling fails, the first
// failure is returned, and a directory is only removed once all its children
// are gone.
func (fs *FS) DeleteDirectory(sessionID, dir string) error {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return err
	}
	dir = CleanPath(dir)
	if dir == "/" {
		return &RemoteError{Op: "delete directory", Path: dir, Err: errors.New("refusing to delete the root directory")}
	}
	start := time.Now()
	if err := deleteTree(fc, dir); err != nil {
		log.Printf("[remotefs] %s: delete directory %s failed: %v", sessionID, logutil.SanitizeForLog(dir), err)
		return err
	}
	log.Printf("[remotefs] %s: deleted directory %s in %s", sessionID, logutil.SanitizeForLog(dir), time.Since(start))
	return nil
}

func deleteTree(fc sshsession.FileChannel, dir string) error {
	infos, err := fc.ReadDir(dir)
	if err != nil {
		return &RemoteError{Op: "list", Path: dir, Err: err}
	}

	var firstErr error
	for _, fi := range infos {
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		child := path.Join(dir, name)
		var err error
		if fi.IsDir() {
			err = deleteTree(fc, child)
		} else if rerr := fc.Remove(child); rerr != nil {
			err = &RemoteError{Op: "delete", Path: child, Err: rerr}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	if err := fc.RemoveDirectory(dir); err != nil {
		return &RemoteError{Op: "delete directory", Path: dir, Err: err}
	}
	return nil
}

// Stat describes p without following a final symlink.
func (fs *FS) Stat(sessionID, p string) (FileEntry, error) {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return FileEntry{}, err
	}
	p = CleanPath(p)
	fi, err := fc.Lstat(p)
	if err != nil {
		return FileEntry{}, &RemoteError{Op: "stat", Path: p, Err: err}
	}
	e := entryFromInfo(p, fi)
	e.Name = path.Base(p)
	return e, nil
}

// StatTarget describes what p resolves to, following symlinks. Name stays
// the base of p.
func (fs *FS) StatTarget(sessionID, p string) (FileEntry, error) {
	fc, err := fs.channels.FileChannel(sessionID)
	if err != nil {
		return FileEntry{}, err
	}
	p = CleanPath(p)
	fi, err := fc.Stat(p)
	if err != nil {
		return FileEntry{}, &RemoteError{Op: "stat", Path: p, Err: err}
	}
	e := entryFromInfo(p, fi)
	e.Name = path.Base(p)
	return e, nil
}

// Exists reports whether Stat succeeds. It never returns an error.
func (fs *FS) Exists(sessionID, p string) bool {
	_, err := fs.Stat(sessionID, p)
	return err == nil
}
