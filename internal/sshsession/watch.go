package sshsession

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/pkg/sftp"
)

// isChannelFatal reports whether err means the file channel itself is gone,
// as opposed to a failed remote operation on a healthy channel.
func isChannelFatal(err error) bool {
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// watchedChannel reports the first channel-fatal error seen by any operation,
// including reads and writes on files it opened.
type watchedChannel struct {
	FileChannel
	onFatal func(error)
	once    sync.Once
}

func (c *watchedChannel) check(err error) error {
	if err != nil && isChannelFatal(err) {
		c.once.Do(func() { c.onFatal(err) })
	}
	return err
}

func (c *watchedChannel) ReadDir(p string) ([]os.FileInfo, error) {
	fi, err := c.FileChannel.ReadDir(p)
	return fi, c.check(err)
}

func (c *watchedChannel) Stat(p string) (os.FileInfo, error) {
	fi, err := c.FileChannel.Stat(p)
	return fi, c.check(err)
}

func (c *watchedChannel) Lstat(p string) (os.FileInfo, error) {
	fi, err := c.FileChannel.Lstat(p)
	return fi, c.check(err)
}

func (c *watchedChannel) Mkdir(p string) error  { return c.check(c.FileChannel.Mkdir(p)) }
func (c *watchedChannel) Remove(p string) error { return c.check(c.FileChannel.Remove(p)) }

func (c *watchedChannel) RemoveDirectory(p string) error {
	return c.check(c.FileChannel.RemoveDirectory(p))
}

func (c *watchedChannel) Rename(oldpath, newpath string) error {
	return c.check(c.FileChannel.Rename(oldpath, newpath))
}

func (c *watchedChannel) Symlink(target, linkpath string) error {
	return c.check(c.FileChannel.Symlink(target, linkpath))
}

func (c *watchedChannel) Open(p string) (io.ReadCloser, error) {
	r, err := c.FileChannel.Open(p)
	if err != nil {
		return nil, c.check(err)
	}
	return &watchedReader{ReadCloser: r, ch: c}, nil
}

func (c *watchedChannel) Create(p string) (io.WriteCloser, error) {
	w, err := c.FileChannel.Create(p)
	if err != nil {
		return nil, c.check(err)
	}
	return &watchedWriter{WriteCloser: w, ch: c}, nil
}

type watchedReader struct {
	io.ReadCloser
	ch *watchedChannel
}

func (r *watchedReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	return n, r.ch.check(err)
}

type watchedWriter struct {
	io.WriteCloser
	ch *watchedChannel
}

func (w *watchedWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	return n, w.ch.check(err)
}

func (w *watchedWriter) Close() error {
	return w.ch.check(w.WriteCloser.Close())
}
