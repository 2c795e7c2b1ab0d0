// Package transfer moves file content between local sources or sinks and a
// session's SFTP channel in fixed-size chunks with progress reporting.
//
// Writes are synchronous: the next chunk is read from the source only after
// the sink has accepted the previous one, so at most one chunk per transfer
// is held in memory and a slow sink throttles the source.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	units "github.com/docker/go-units"

	"github.com/yangjarod117/webssh/internal/logutil"
	"github.com/yangjarod117/webssh/internal/remotefs"
	"github.com/yangjarod117/webssh/internal/sshsession"
)

// ErrShortUpload means the source ended before the declared size. It wraps
// io.ErrUnexpectedEOF.
var ErrShortUpload = fmt.Errorf("source shorter than declared size: %w", io.ErrUnexpectedEOF)

// ChunkSize is the number of bytes moved per write.
const ChunkSize = 64 * 1024

// UnknownSize marks a source whose length is not known in advance.
const UnknownSize int64 = -1

// Progress is the cumulative state of one transfer.
type Progress struct {
	Transferred int64 `json:"transferred"`
	Total       int64 `json:"total"`
}

// Percent returns transferred/total as a percentage, or 0 when total is 0.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Transferred) * 100 / float64(p.Total)
}

// ProgressFunc receives progress after every chunk. It is never called while
// the total is unknown. A known-empty transfer gets a single 0/0 report.
type ProgressFunc func(Progress)

// ChannelProvider hands out a session's file channel.
type ChannelProvider interface {
	FileChannel(sessionID string) (sshsession.FileChannel, error)
}

// Engine runs transfers against sessions.
type Engine struct {
	channels ChannelProvider
}

// New returns an engine backed by channels.
func New(channels ChannelProvider) *Engine {
	return &Engine{channels: channels}
}

// UploadFile streams a local file to remotePath.
func (e *Engine) UploadFile(ctx context.Context, sessionID, localPath, remotePath string, onProgress ProgressFunc) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	_, err = e.UploadStream(ctx, sessionID, f, fi.Size(), remotePath, onProgress)
	return err
}

// UploadBuffer writes data to remotePath in ChunkSize pieces.
func (e *Engine) UploadBuffer(ctx context.Context, sessionID string, data []byte, remotePath string, onProgress ProgressFunc) error {
	_, err := e.UploadStream(ctx, sessionID, bytes.NewReader(data), int64(len(data)), remotePath, onProgress)
	return err
}

// UploadStream copies r to remotePath. size is the expected length, or
// UnknownSize. A source that ends early fails with ErrShortUpload and the
// partial remote file is removed. It returns once the remote file has been
// closed.
func (e *Engine) UploadStream(ctx context.Context, sessionID string, r io.Reader, size int64, remotePath string, onProgress ProgressFunc) (int64, error) {
	fc, err := e.channels.FileChannel(sessionID)
	if err != nil {
		return 0, err
	}
	remotePath = remotefs.CleanPath(remotePath)
	start := time.Now()

	w, err := fc.Create(remotePath)
	if err != nil {
		return 0, &remotefs.RemoteError{Op: "upload", Path: remotePath, Err: err}
	}
	n, err := copyChunks(ctx, w, r, size, onProgress)
	if err != nil {
		w.Close()
		var se *sinkError
		if errors.As(err, &se) {
			err = &remotefs.RemoteError{Op: "upload", Path: remotePath, Err: se.err}
		}
		log.Printf("[transfer] %s: upload %s aborted after %s: %v", sessionID, logutil.SanitizeForLog(remotePath), units.HumanSize(float64(n)), err)
		return n, err
	}
	if size >= 0 && n < size {
		w.Close()
		fc.Remove(remotePath)
		log.Printf("[transfer] %s: upload %s ended after %s of %s", sessionID, logutil.SanitizeForLog(remotePath),
			units.HumanSize(float64(n)), units.HumanSize(float64(size)))
		return n, fmt.Errorf("upload %s: %w", remotePath, ErrShortUpload)
	}
	if err := w.Close(); err != nil {
		return n, &remotefs.RemoteError{Op: "upload", Path: remotePath, Err: err}
	}
	logSummary(sessionID, "upload", remotePath, n, time.Since(start))
	return n, nil
}

// DownloadFile streams remotePath into a new local file. The local file is
// removed if the transfer fails.
func (e *Engine) DownloadFile(ctx context.Context, sessionID, remotePath, localPath string, onProgress ProgressFunc) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	_, err = e.DownloadStream(ctx, sessionID, remotePath, f, onProgress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close local file: %w", cerr)
	}
	if err != nil {
		os.Remove(localPath)
		return err
	}
	return nil
}

// DownloadBuffer reads remotePath fully into memory.
func (e *Engine) DownloadBuffer(ctx context.Context, sessionID, remotePath string, onProgress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.DownloadStream(ctx, sessionID, remotePath, &buf, onProgress); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadStream copies remotePath to w. The total comes from a remote stat
// taken before streaming; ending short of it is io.ErrUnexpectedEOF.
func (e *Engine) DownloadStream(ctx context.Context, sessionID, remotePath string, w io.Writer, onProgress ProgressFunc) (int64, error) {
	fc, err := e.channels.FileChannel(sessionID)
	if err != nil {
		return 0, err
	}
	remotePath = remotefs.CleanPath(remotePath)
	start := time.Now()

	fi, err := fc.Stat(remotePath)
	if err != nil {
		return 0, &remotefs.RemoteError{Op: "download", Path: remotePath, Err: err}
	}
	if fi.IsDir() {
		return 0, &remotefs.RemoteError{Op: "download", Path: remotePath, Err: errors.New("is a directory")}
	}
	total := fi.Size()

	r, err := fc.Open(remotePath)
	if err != nil {
		return 0, &remotefs.RemoteError{Op: "download", Path: remotePath, Err: err}
	}
	defer r.Close()

	n, err := copyChunks(ctx, w, r, total, onProgress)
	if err == nil && n < total {
		err = &sourceError{err: io.ErrUnexpectedEOF}
	}
	if err != nil {
		var src *sourceError
		if errors.As(err, &src) {
			err = &remotefs.RemoteError{Op: "download", Path: remotePath, Err: src.err}
		}
		log.Printf("[transfer] %s: download %s aborted after %s of %s: %v", sessionID, logutil.SanitizeForLog(remotePath),
			units.HumanSize(float64(n)), units.HumanSize(float64(total)), err)
		return n, err
	}
	logSummary(sessionID, "download", remotePath, n, time.Since(start))
	return n, nil
}

// sourceError and sinkError tell the two sides of a copy apart so callers can
// attribute the failure to the remote end.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return "read: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

type sinkError struct{ err error }

func (e *sinkError) Error() string { return "write: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// copyChunks moves src to dst one full chunk at a time, checking ctx between
// chunks.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, ChunkSize)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return done, &sinkError{err: err}
			}
			done += int64(n)
			if onProgress != nil && total > 0 {
				onProgress(Progress{Transferred: done, Total: total})
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return done, &sourceError{err: rerr}
		}
	}
	if onProgress != nil && total == 0 && done == 0 {
		onProgress(Progress{})
	}
	return done, nil
}

func logSummary(sessionID, op, remotePath string, n int64, elapsed time.Duration) {
	rate := ""
	if secs := elapsed.Seconds(); secs > 0 {
		rate = fmt.Sprintf(" (%s/s)", units.HumanSize(float64(n)/secs))
	}
	log.Printf("[transfer] %s: %s %s: %s in %s%s", sessionID, op, logutil.SanitizeForLog(remotePath),
		units.HumanSize(float64(n)), elapsed.Round(time.Millisecond), rate)
}
