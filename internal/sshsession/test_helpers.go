package sshsession

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
)

// MemoryDialer produces in-process connections for tests. Each connection's
// file channel is backed by an in-memory SFTP server and its shell by a
// MemoryShell.
type MemoryDialer struct {
	// Err, when set, is returned by every Dial.
	Err error
	// OpenDelay is slept inside OpenFileChannel to widen race windows.
	OpenDelay time.Duration
	// EchoShell makes new shells write their input back as output.
	EchoShell bool

	Dials atomic.Int32

	mu    sync.Mutex
	conns []*MemoryConn
}

func (d *MemoryDialer) Dial(ctx context.Context, p Params) (Conn, error) {
	d.Dials.Add(1)
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &MemoryConn{openDelay: d.OpenDelay, echo: d.EchoShell, closedCh: make(chan struct{})}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Conns returns every connection dialed so far.
func (d *MemoryDialer) Conns() []*MemoryConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MemoryConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// MemoryConn is a Conn created by MemoryDialer.
type MemoryConn struct {
	openDelay time.Duration
	echo      bool

	FileChannelOpens atomic.Int32
	ShellOpens       atomic.Int32
	Keepalives       atomic.Int32

	mu             sync.Mutex
	fileChannelErr error
	keepaliveErr   error
	keepaliveGate  chan struct{}
	gateSticky     bool
	shell          *MemoryShell
	closed         bool
	closedCh       chan struct{}
}

// BlockKeepalive makes subsequent keepalives hang like a peer that never
// replies. They return once ReleaseKeepalive is called or, unless sticky is
// set, once the connection is closed.
func (c *MemoryConn) BlockKeepalive(sticky bool) {
	c.mu.Lock()
	c.keepaliveGate = make(chan struct{})
	c.gateSticky = sticky
	c.mu.Unlock()
}

// ReleaseKeepalive unblocks keepalives held by BlockKeepalive.
func (c *MemoryConn) ReleaseKeepalive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepaliveGate != nil {
		close(c.keepaliveGate)
		c.keepaliveGate = nil
	}
}

// FailFileChannel makes subsequent OpenFileChannel calls fail with err.
func (c *MemoryConn) FailFileChannel(err error) {
	c.mu.Lock()
	c.fileChannelErr = err
	c.mu.Unlock()
}

// FailKeepalive makes subsequent keepalives fail with err.
func (c *MemoryConn) FailKeepalive(err error) {
	c.mu.Lock()
	c.keepaliveErr = err
	c.mu.Unlock()
}

// Shell returns the most recently opened shell, or nil.
func (c *MemoryConn) Shell() *MemoryShell {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shell
}

// Closed reports whether Close was called.
func (c *MemoryConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MemoryConn) OpenShell(cols, rows int) (ShellChannel, error) {
	c.ShellOpens.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	c.shell = newMemoryShell(cols, rows, c.echo)
	return c.shell, nil
}

func (c *MemoryConn) OpenFileChannel() (FileChannel, error) {
	c.FileChannelOpens.Add(1)
	if c.openDelay > 0 {
		time.Sleep(c.openDelay)
	}
	c.mu.Lock()
	err := c.fileChannelErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go func() {
		server.Serve()
		server.Close()
	}()
	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		serverConn.Close()
		clientConn.Close()
		return nil, err
	}
	return &sftpChannel{client: client}, nil
}

func (c *MemoryConn) SendKeepalive() error {
	c.Keepalives.Add(1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	gate, sticky, closedCh, err := c.keepaliveGate, c.gateSticky, c.closedCh, c.keepaliveErr
	c.mu.Unlock()

	if gate != nil {
		if sticky {
			<-gate
		} else {
			select {
			case <-gate:
			case <-closedCh:
				return errors.New("connection closed")
			}
		}
	}
	return err
}

func (c *MemoryConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

// MemoryShell is an in-process ShellChannel. The test plays the remote side
// through Emit, Exit and Input.
type MemoryShell struct {
	InitialCols, InitialRows int

	outR *io.PipeReader
	outW *io.PipeWriter
	echo bool

	mu      sync.Mutex
	input   bytes.Buffer
	writes  []int
	resizes [][2]int
	log     []string
	closed  bool
}

func newMemoryShell(cols, rows int, echo bool) *MemoryShell {
	r, w := io.Pipe()
	return &MemoryShell{InitialCols: cols, InitialRows: rows, outR: r, outW: w, echo: echo}
}

func (s *MemoryShell) Read(p []byte) (int, error) {
	return s.outR.Read(p)
}

func (s *MemoryShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	s.input.Write(p)
	s.writes = append(s.writes, len(p))
	s.log = append(s.log, "input")
	s.mu.Unlock()
	if s.echo {
		return s.outW.Write(p)
	}
	return len(p), nil
}

func (s *MemoryShell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, [2]int{cols, rows})
	s.log = append(s.log, "resize")
	return nil
}

func (s *MemoryShell) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.outW.Close()
	return s.outR.Close()
}

// Emit writes remote output. It blocks until the reader consumes it.
func (s *MemoryShell) Emit(b []byte) error {
	_, err := s.outW.Write(b)
	return err
}

// Exit ends the remote shell; readers see io.EOF.
func (s *MemoryShell) Exit() {
	s.outW.Close()
}

// Input returns everything written to the shell so far.
func (s *MemoryShell) Input() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.input.Bytes()...)
}

// WriteSizes returns the length of every Write call, in order.
func (s *MemoryShell) WriteSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.writes...)
}

// Resizes returns every resize request as {cols, rows}.
func (s *MemoryShell) Resizes() [][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]int(nil), s.resizes...)
}

// Log returns the order of input and resize operations.
func (s *MemoryShell) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Closed reports whether Close was called.
func (s *MemoryShell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
