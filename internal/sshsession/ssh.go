package sshsession

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Host key policies.
const (
	HostKeyInsecure   = "insecure"
	HostKeyKnownHosts = "known_hosts"
)

// SSHDialer dials real SSH servers with golang.org/x/crypto/ssh.
type SSHDialer struct {
	hostKeyCallback ssh.HostKeyCallback
	netDialer       net.Dialer
}

// NewSSHDialer builds a dialer for the given host key policy. The known_hosts
// policy requires knownHostsPath.
func NewSSHDialer(policy, knownHostsPath string) (*SSHDialer, error) {
	d := &SSHDialer{}
	switch policy {
	case "", HostKeyInsecure:
		d.hostKeyCallback = ssh.InsecureIgnoreHostKey()
	case HostKeyKnownHosts:
		if knownHostsPath == "" {
			return nil, fmt.Errorf("host key policy %q requires a known_hosts path", policy)
		}
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		d.hostKeyCallback = cb
	default:
		return nil, fmt.Errorf("unknown host key policy %q", policy)
	}
	return d, nil
}

// Dial connects and authenticates. The context bounds both the TCP dial and
// the SSH handshake.
func (d *SSHDialer) Dial(ctx context.Context, p Params) (Conn, error) {
	auth, err := authMethods(p)
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            p.Username,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCallback,
	}

	addr := p.Addr()
	nc, err := d.netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectFailed, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		nc.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { nc.Close() })

	cc, chans, reqs, err := ssh.NewClientConn(nc, addr, config)
	if !stop() {
		if err == nil {
			cc.Close()
		}
		nc.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrConnectFailed, addr, ctx.Err())
	}
	if err != nil {
		nc.Close()
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrConnectFailed, addr, err)
	}
	nc.SetDeadline(time.Time{})

	return &sshConn{client: ssh.NewClient(cc, chans, reqs)}, nil
}

// x/crypto reports exhausted auth methods only through the error text.
func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

func authMethods(p Params) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if p.AuthType == AuthKey {
		signer, err := parseSigner(p.PrivateKey, p.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if p.Password != "" {
		pw := p.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no credentials supplied", ErrInvalidParams)
	}
	return methods, nil
}

func parseSigner(key, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
		if err == nil {
			return signer, nil
		}
		if errors.Is(err, x509.IncorrectPasswordError) {
			return nil, fmt.Errorf("%w: incorrect key passphrase", ErrAuthenticationFailed)
		}
		// A passphrase supplied for an unencrypted key is ignored.
		if signer, perr := ssh.ParsePrivateKey([]byte(key)); perr == nil {
			return signer, nil
		}
		return nil, fmt.Errorf("%w: parse private key: %v", ErrInvalidParams, err)
	}

	signer, err := ssh.ParsePrivateKey([]byte(key))
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: private key is encrypted and no passphrase was supplied", ErrAuthenticationFailed)
		}
		return nil, fmt.Errorf("%w: parse private key: %v", ErrInvalidParams, err)
	}
	return signer, nil
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) OpenShell(cols, rows int) (ShellChannel, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	go func() {
		pw.CloseWithError(session.Wait())
	}()

	return &sshShell{session: session, stdin: stdin, out: pr}, nil
}

func (c *sshConn) OpenFileChannel() (FileChannel, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	return &sftpChannel{client: client}, nil
}

func (c *sshConn) SendKeepalive() error {
	_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

type sshShell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	out     *io.PipeReader
}

func (s *sshShell) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshShell) Resize(cols, rows int) error {
	return s.session.WindowChange(rows, cols)
}

func (s *sshShell) Close() error {
	s.stdin.Close()
	err := s.session.Close()
	s.out.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
