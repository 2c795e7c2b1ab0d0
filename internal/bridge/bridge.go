// Package bridge attaches a browser WebSocket to the interactive shell of a
// live SSH session.
//
// One WebSocket may be attached to a session at a time. On attach the PTY
// shell is opened (or reused) before any client message is processed, then
// two loops run until either side goes away:
//
//   - shell output is read continuously and written to the client as binary
//     frames, in order;
//   - client messages (input, resize, ping) are applied to the shell in the
//     order received, subject to a per-connection token bucket.
//
// When the session side ends (shell exit, channel error, session closed) the
// client receives a disconnect message and the WebSocket is closed. When the
// client side ends the session is closed.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/yangjarod117/webssh/internal/logutil"
	"github.com/yangjarod117/webssh/internal/sshsession"
)

// ErrAlreadyAttached is returned when a session already has a live bridge.
var ErrAlreadyAttached = errors.New("terminal already attached to session")

// WebSocket close codes used by the bridge.
const (
	CloseSessionNotFound websocket.StatusCode = 4004
	CloseAlreadyAttached websocket.StatusCode = 4409
	CloseShellFailed     websocket.StatusCode = 4500
)

const controlWriteTimeout = 5 * time.Second

// SessionManager is the part of sshsession.Manager the bridge drives.
type SessionManager interface {
	GetSession(id string) (*sshsession.Session, bool)
	OpenShell(id string, cols, rows int) (sshsession.ShellChannel, error)
	Touch(id string) bool
	CloseSession(id string)
}

// Options configures a Bridge.
type Options struct {
	// AllowedOrigins lists accepted Origin host patterns. Empty accepts any
	// origin.
	AllowedOrigins []string
}

// Bridge tracks which sessions have an attached terminal.
type Bridge struct {
	sessions SessionManager
	opts     Options

	mu       sync.Mutex
	attached map[string]struct{}
}

// New returns a bridge over sessions.
func New(sessions SessionManager, opts Options) *Bridge {
	return &Bridge{
		sessions: sessions,
		opts:     opts,
		attached: make(map[string]struct{}),
	}
}

// Attached reports whether a terminal is currently attached to the session.
func (b *Bridge) Attached(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.attached[sessionID]
	return ok
}

func (b *Bridge) acquire(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.attached[sessionID]; ok {
		return false
	}
	b.attached[sessionID] = struct{}{}
	return true
}

func (b *Bridge) release(sessionID string) {
	b.mu.Lock()
	delete(b.attached, sessionID)
	b.mu.Unlock()
}

// Serve upgrades the request and attaches it to sessionID. The initial PTY
// size comes from the cols and rows query parameters.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	opts := &websocket.AcceptOptions{}
	if len(b.opts.AllowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = b.opts.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Printf("[bridge] %s: websocket accept failed: %v", sessionID, err)
		return
	}
	defer conn.CloseNow()

	cols, _ := strconv.Atoi(r.URL.Query().Get("cols"))
	rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
	if err := b.Attach(r.Context(), conn, sessionID, cols, rows); err != nil {
		log.Printf("[bridge] %s: attach ended: %v", sessionID, err)
	}
}

// Attach runs the bridge on an accepted WebSocket until either side ends.
// It returns nil on a normal detach.
func (b *Bridge) Attach(ctx context.Context, conn *websocket.Conn, sessionID string, cols, rows int) error {
	s, ok := b.sessions.GetSession(sessionID)
	if !ok {
		conn.Close(CloseSessionNotFound, "session not found")
		return sshsession.ErrSessionNotFound
	}
	if !b.acquire(sessionID) {
		conn.Close(CloseAlreadyAttached, "terminal already attached")
		return ErrAlreadyAttached
	}
	defer b.release(sessionID)

	cols, rows = clampSize(cols, rows)
	shell, err := b.sessions.OpenShell(sessionID, cols, rows)
	if err != nil {
		if errors.Is(err, sshsession.ErrSessionNotFound) {
			conn.Close(CloseSessionNotFound, "session not found")
			return err
		}
		writeControl(conn, ServerMessage{Type: TypeError, Message: "failed to start shell"})
		conn.Close(CloseShellFailed, "failed to start shell")
		return fmt.Errorf("open shell: %w", err)
	}

	conn.SetReadLimit(readLimit)
	if err := wsjson.Write(ctx, conn, ServerMessage{Type: TypeSessionInfo, SessionID: sessionID}); err != nil {
		b.sessions.CloseSession(sessionID)
		return fmt.Errorf("send session info: %w", err)
	}
	log.Printf("[bridge] %s: attached (%dx%d)", sessionID, cols, rows)

	a := &attachment{
		bridge:    b,
		conn:      conn,
		shell:     shell,
		sessionID: sessionID,
		limiter:   NewRateLimiter(MessageRate, MessageBurst),
	}

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		a.pumpOutput(relayCtx)
	}()
	go func() {
		select {
		case <-s.Done():
			a.endFromSession("session closed")
		case <-relayCtx.Done():
		}
	}()

	a.pumpInput(relayCtx)

	clientSide := false
	a.endOnce.Do(func() { clientSide = true })
	cancel()
	if clientSide {
		log.Printf("[bridge] %s: client detached", sessionID)
	}
	// Either side ending ends the session; this also unblocks pumpOutput.
	b.sessions.CloseSession(sessionID)
	<-outputDone
	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

// attachment is one live bridge.
type attachment struct {
	bridge    *Bridge
	conn      *websocket.Conn
	shell     sshsession.ShellChannel
	sessionID string
	limiter   *RateLimiter

	endOnce sync.Once
}

// endFromSession tells the client the session is gone and closes the socket.
// Only the first end (session or client) takes effect.
func (a *attachment) endFromSession(reason string) {
	a.endOnce.Do(func() {
		log.Printf("[bridge] %s: session side ended: %s", a.sessionID, logutil.SanitizeForLog(reason))
		writeControl(a.conn, ServerMessage{Type: TypeDisconnect, Reason: reason})
		a.conn.Close(websocket.StatusNormalClosure, "")
	})
}

func (a *attachment) pumpOutput(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		n, err := a.shell.Read(buf)
		if n > 0 {
			a.bridge.sessions.Touch(a.sessionID)
			if werr := a.conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.endFromSession("shell exited")
			} else {
				a.endFromSession("shell error: " + err.Error())
			}
			return
		}
	}
}

func (a *attachment) pumpInput(ctx context.Context) {
	for {
		msgType, data, err := a.conn.Read(ctx)
		if err != nil {
			return
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return
		}

		if msgType == websocket.MessageBinary {
			if !a.writeInput(data) {
				return
			}
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case TypeInput:
			if !a.writeInput([]byte(msg.Data)) {
				return
			}
		case TypeResize:
			if msg.Cols <= 0 || msg.Rows <= 0 {
				continue
			}
			cols, rows := clampSize(msg.Cols, msg.Rows)
			if err := a.shell.Resize(cols, rows); err != nil {
				log.Printf("[bridge] %s: resize to %dx%d failed: %v", a.sessionID, cols, rows, err)
			}
		case TypePing:
			a.bridge.sessions.Touch(a.sessionID)
			if err := wsjson.Write(ctx, a.conn, ServerMessage{Type: TypePong}); err != nil {
				return
			}
		}
	}
}

// writeInput forwards one input payload in order, at most
// MaxInputMessageSize bytes per shell write. It returns false once the shell
// can no longer accept input.
func (a *attachment) writeInput(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	a.bridge.sessions.Touch(a.sessionID)
	for len(data) > 0 {
		n := min(len(data), MaxInputMessageSize)
		if _, err := a.shell.Write(data[:n]); err != nil {
			a.endFromSession("shell closed")
			return false
		}
		data = data[n:]
	}
	return true
}

func writeControl(conn *websocket.Conn, msg ServerMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), controlWriteTimeout)
	defer cancel()
	wsjson.Write(ctx, conn, msg)
}
