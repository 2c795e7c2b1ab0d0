package sshsession

import (
	"io"
	"os"

	"github.com/pkg/sftp"
)

// sftpChannel adapts *sftp.Client to FileChannel.
type sftpChannel struct {
	client *sftp.Client
}

// NewSFTPChannel wraps an existing SFTP client.
func NewSFTPChannel(client *sftp.Client) FileChannel {
	return &sftpChannel{client: client}
}

func (c *sftpChannel) ReadDir(p string) ([]os.FileInfo, error) { return c.client.ReadDir(p) }
func (c *sftpChannel) Stat(p string) (os.FileInfo, error)      { return c.client.Stat(p) }
func (c *sftpChannel) Lstat(p string) (os.FileInfo, error)     { return c.client.Lstat(p) }
func (c *sftpChannel) Mkdir(p string) error                    { return c.client.Mkdir(p) }
func (c *sftpChannel) Remove(p string) error                   { return c.client.Remove(p) }
func (c *sftpChannel) RemoveDirectory(p string) error          { return c.client.RemoveDirectory(p) }
func (c *sftpChannel) Rename(oldpath, newpath string) error    { return c.client.Rename(oldpath, newpath) }
func (c *sftpChannel) Symlink(target, linkpath string) error   { return c.client.Symlink(target, linkpath) }
func (c *sftpChannel) Close() error                            { return c.client.Close() }

func (c *sftpChannel) Open(p string) (io.ReadCloser, error) {
	f, err := c.client.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *sftpChannel) Create(p string) (io.WriteCloser, error) {
	f, err := c.client.Create(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}
