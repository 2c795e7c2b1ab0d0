package sshsession

import (
	"context"
	"io"
	"os"
)

// Dialer establishes an authenticated connection to a remote host. Returned
// errors wrap ErrConnectFailed, ErrAuthenticationFailed or ErrInvalidParams.
type Dialer interface {
	Dial(ctx context.Context, p Params) (Conn, error)
}

// Conn is an authenticated connection able to open the two channel kinds a
// session uses.
type Conn interface {
	OpenShell(cols, rows int) (ShellChannel, error)
	OpenFileChannel() (FileChannel, error)
	SendKeepalive() error
	Close() error
}

// ShellChannel is an interactive PTY shell. Read returns merged terminal
// output and io.EOF once the remote shell exits.
type ShellChannel interface {
	io.Reader
	io.Writer
	Resize(cols, rows int) error
	Close() error
}

// FileChannel is the remote file-transfer channel. Paths are absolute remote
// paths. Writers returned by Create truncate existing files.
type FileChannel interface {
	ReadDir(p string) ([]os.FileInfo, error)
	Stat(p string) (os.FileInfo, error)
	Lstat(p string) (os.FileInfo, error)
	Open(p string) (io.ReadCloser, error)
	Create(p string) (io.WriteCloser, error)
	Mkdir(p string) error
	Remove(p string) error
	RemoveDirectory(p string) error
	Rename(oldpath, newpath string) error
	Symlink(target, linkpath string) error
	Close() error
}
