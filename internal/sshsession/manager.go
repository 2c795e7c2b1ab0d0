package sshsession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yangjarod117/webssh/internal/logutil"
)

// Config holds Manager settings.
type Config struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration // 0 disables the keepalive loop
	// KeepaliveTimeout bounds the wait for one keepalive reply. A peer that
	// does not answer in time has its connection closed.
	KeepaliveTimeout time.Duration
	RateLimit        RateLimitConfig
}

const (
	defaultKeepaliveTimeout = 15 * time.Second
	maxParallelKeepalives   = 16
)

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  defaultKeepaliveTimeout,
		RateLimit:         DefaultRateLimitConfig(),
	}
}

// Manager owns the map of live sessions.
type Manager struct {
	dialer  Dialer
	config  Config
	limiter *RateLimiter
	nowFn   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	channels singleflight.Group

	cbMu      sync.RWMutex
	callbacks []StatusCallback

	keepaliveCtx    context.Context
	keepaliveCancel context.CancelFunc
	keepaliveWg     sync.WaitGroup
}

// NewManager creates a manager that connects through dialer. The keepalive
// loop starts immediately when config.KeepaliveInterval is positive.
func NewManager(dialer Dialer, config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:          dialer,
		config:          config,
		limiter:         NewRateLimiter(config.RateLimit),
		nowFn:           time.Now,
		sessions:        make(map[string]*Session),
		keepaliveCtx:    ctx,
		keepaliveCancel: cancel,
	}
	if config.KeepaliveInterval > 0 {
		m.keepaliveWg.Add(1)
		go m.keepaliveLoop()
	}
	return m
}

// OnStatusChange registers a callback fired after any session changes status.
func (m *Manager) OnStatusChange(cb StatusCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// CreateSession dials and authenticates, then registers the session. On any
// failure nothing is registered. There is no automatic retry.
func (m *Manager) CreateSession(ctx context.Context, p Params) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	target := p.Target()
	if err := m.limiter.Allow(target); err != nil {
		return nil, err
	}

	if m.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := m.dialer.Dial(ctx, p)
	if err != nil {
		err = classifyDialError(err)
		if !errors.Is(err, ErrInvalidParams) {
			m.limiter.RecordFailure(target)
		}
		log.Printf("[session] connect to %s failed: %v", logutil.SanitizeForLog(target), err)
		return nil, err
	}
	m.limiter.RecordSuccess(target)

	now := m.nowFn()
	s := newSession(uuid.NewString(), p, conn, now)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.setStatus(s, StatusConnected)
	m.emitEvent(s, EventConnected, fmt.Sprintf("authenticated as %s via %s", p.Username, p.AuthType))
	log.Printf("[session] %s connected to %s", s.ID, logutil.SanitizeForLog(target))
	return s, nil
}

// classifyDialError makes sure every dial failure carries one of the
// connect, authentication or parameter sentinels.
func classifyDialError(err error) error {
	switch {
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrConnectFailed),
		errors.Is(err, ErrInvalidParams):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
}

// GetSession looks up a registered session.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ListSessions returns a snapshot of every registered session, oldest first.
func (m *Manager) ListSessions() []Info {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, len(list))
	for i, s := range list {
		infos[i] = s.Info()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// SessionCount returns the number of registered sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Touch refreshes the activity timestamp of a session.
func (m *Manager) Touch(id string) bool {
	s, ok := m.GetSession(id)
	if !ok {
		return false
	}
	s.touch(m.nowFn())
	return true
}

// FileChannel returns the session's file-transfer channel, opening it on
// first use. Concurrent first calls open exactly one channel.
func (m *Manager) FileChannel(id string) (FileChannel, error) {
	s, ok := m.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.nowFn())

	s.mu.Lock()
	fc, status, lastErr := s.files, s.status, s.lastError
	s.mu.Unlock()
	if fc != nil {
		return fc, nil
	}
	if status == StatusError {
		return nil, fmt.Errorf("%w: session failed: %s", ErrChannelInit, lastErr)
	}

	v, err, _ := m.channels.Do(id, func() (interface{}, error) {
		s.mu.Lock()
		if s.files != nil {
			fc := s.files
			s.mu.Unlock()
			return fc, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrSessionNotFound
		}

		raw, err := s.conn.OpenFileChannel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChannelInit, err)
		}
		fc := &watchedChannel{FileChannel: raw}
		fc.onFatal = func(err error) { m.fileChannelFailed(s, fc, err) }

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			raw.Close()
			return nil, ErrSessionNotFound
		}
		s.files = fc
		s.mu.Unlock()

		m.emitEvent(s, EventFileChannelOpened, "sftp subsystem started")
		return fc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(FileChannel), nil
}

// OpenShell opens the session's PTY shell with the given initial size, or
// returns the shell already open.
func (m *Manager) OpenShell(id string, cols, rows int) (ShellChannel, error) {
	s, ok := m.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.nowFn())

	s.shellMu.Lock()
	defer s.shellMu.Unlock()

	s.mu.Lock()
	if s.shell != nil {
		sh := s.shell
		s.mu.Unlock()
		return sh, nil
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionNotFound
	}

	sh, err := s.conn.OpenShell(cols, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelInit, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sh.Close()
		return nil, ErrSessionNotFound
	}
	s.shell = sh
	s.mu.Unlock()

	m.emitEvent(s, EventShellOpened, fmt.Sprintf("pty %dx%d", cols, rows))
	return sh, nil
}

// fileChannelFailed drops a dead file channel from the session and moves the
// session to the error status.
func (m *Manager) fileChannelFailed(s *Session, fc *watchedChannel, err error) {
	s.mu.Lock()
	if s.closed || s.files != fc {
		s.mu.Unlock()
		return
	}
	s.files = nil
	s.mu.Unlock()
	m.channels.Forget(s.ID)
	fc.FileChannel.Close()

	log.Printf("[session] %s: file channel lost: %v", s.ID, err)
	m.emitEvent(s, EventFileChannelLost, err.Error())
	m.MarkError(s.ID, fmt.Errorf("file channel: %w", err))
}

// MarkError moves a registered session to the error status. The session stays
// registered until its owner calls CloseSession or the idle sweep collects it.
func (m *Manager) MarkError(id string, err error) {
	s, ok := m.GetSession(id)
	if !ok {
		return
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()

	m.setStatus(s, StatusError)
	m.emitEvent(s, EventError, msg)
}

// CloseSession tears a session down. It is idempotent; close failures are
// logged, never returned.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.channels.Forget(id)
	m.closeSession(s)
}

func (m *Manager) closeSession(s *Session) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		shell, files := s.shell, s.files
		s.mu.Unlock()

		if shell != nil {
			if err := shell.Close(); err != nil {
				log.Printf("[session] %s: close shell: %v", s.ID, err)
			}
		}
		if files != nil {
			if err := files.Close(); err != nil {
				log.Printf("[session] %s: close file channel: %v", s.ID, err)
			}
		}
		if err := s.conn.Close(); err != nil {
			log.Printf("[session] %s: close connection: %v", s.ID, err)
		}

		m.setStatus(s, StatusDisconnected)
		m.emitEvent(s, EventDisconnected, "session closed")
		close(s.done)
	})
}

// SweepIdle closes sessions idle for longer than idleTimeout and sessions in
// the error or disconnected status. Returns the number closed.
func (m *Manager) SweepIdle(idleTimeout time.Duration) int {
	now := m.nowFn()
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		st := s.Status()
		if st == StatusError || st == StatusDisconnected ||
			(idleTimeout > 0 && now.Sub(s.LastActivity()) > idleTimeout) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		log.Printf("[session] sweeping %s", id)
		m.CloseSession(id)
	}
	m.limiter.Prune()
	return len(stale)
}

// Shutdown stops the keepalive loop and closes every session concurrently.
// It returns ctx.Err() if the context expires before the sessions are closed
// and the keepalive loop has exited.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.keepaliveCancel()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.CloseSession(id)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		m.keepaliveWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if len(ids) > 0 {
			log.Printf("[session] closed all %d session(s)", len(ids))
		}
		return nil
	case <-ctx.Done():
		log.Printf("[session] shutdown deadline reached with sessions still closing")
		return ctx.Err()
	}
}

func (m *Manager) setStatus(s *Session, to Status) {
	from, changed := s.setStatus(to, m.nowFn())
	if !changed {
		return
	}
	m.cbMu.RLock()
	cbs := make([]StatusCallback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(s, from, to)
	}
}

func (m *Manager) keepaliveLoop() {
	defer m.keepaliveWg.Done()
	ticker := time.NewTicker(m.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.keepaliveCtx.Done():
			return
		case <-ticker.C:
			m.checkConnections()
		}
	}
}

// checkConnections sends a keepalive on every connected session in parallel
// and moves unresponsive ones to the error status.
func (m *Manager) checkConnections() {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(maxParallelKeepalives)
	for _, s := range list {
		if s.Status() != StatusConnected {
			continue
		}
		s := s
		g.Go(func() error {
			if err := m.sendKeepalive(s); err != nil {
				if m.keepaliveCtx.Err() != nil {
					return nil
				}
				log.Printf("[session] keepalive failed for %s: %v", s.ID, err)
				m.emitEvent(s, EventKeepaliveFailed, err.Error())
				m.MarkError(s.ID, fmt.Errorf("keepalive: %w", err))
			}
			return nil
		})
	}
	g.Wait()
}

// sendKeepalive waits at most the keepalive timeout for a reply. On timeout
// the connection is closed so the pending request returns.
func (m *Manager) sendKeepalive(s *Session) error {
	timeout := m.config.KeepaliveTimeout
	if timeout <= 0 {
		timeout = defaultKeepaliveTimeout
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.conn.SendKeepalive() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-timer.C:
		s.conn.Close()
		return fmt.Errorf("no reply within %s", timeout)
	case <-m.keepaliveCtx.Done():
		return m.keepaliveCtx.Err()
	}
}
