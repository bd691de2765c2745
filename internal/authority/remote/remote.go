// Package remote is a websocket client for the authority server.
//
// A reader goroutine decodes inbound frames into a mailbox and a writer
// goroutine drains submitted messages onto the connection, so Submit and
// PollInbound never block the goroutine that owns the ledger view.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "spesesync/internal/log"
	"spesesync/internal/mailbox"
	"spesesync/internal/protocol"
)

const (
	writeWait = 10 * time.Second

	// DefaultInitTimeout is used when Config.InitTimeout is not positive.
	DefaultInitTimeout = 5 * time.Second
)

var (
	ErrInitTimeout = errors.New("remote: no initial snapshot received")
	ErrClosed      = errors.New("remote: connection closed")
)

// Config holds the connection settings.
type Config struct {
	URL       string
	Principal string
	// InitTimeout bounds how long Dial waits for the initial snapshot.
	// Zero means DefaultInitTimeout.
	InitTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      *applog.Logger
}

type Authority struct {
	conn   *websocket.Conn
	logger *applog.Logger
	outbox *mailbox.Mailbox[protocol.Outbound]
	inbox  *mailbox.Mailbox[protocol.Inbound]

	mu        sync.Mutex
	snapshot  *protocol.Snapshot
	initSeen  bool
	initTaken bool
	err       error

	initReady chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the authority and waits for the initial snapshot, so the
// first TakeInit always sees it.
func Dial(ctx context.Context, cfg Config) (*Authority, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = applog.Discard()
	}

	header := http.Header{}
	header.Set(protocol.PrincipalHeader, cfg.Principal)
	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	a := &Authority{
		conn:      conn,
		logger:    logger.WithComponent(applog.ComponentAuthority),
		outbox:    mailbox.New[protocol.Outbound](),
		inbox:     mailbox.New[protocol.Inbound](),
		initReady: make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	a.wg.Add(2)
	go a.readLoop()
	go a.writeLoop()

	wait := cfg.InitTimeout
	if wait <= 0 {
		wait = DefaultInitTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-a.initReady:
		return a, nil
	case <-a.done:
		a.Close()
		if err := a.Err(); err != nil {
			return nil, fmt.Errorf("waiting for snapshot: %w", err)
		}
		return nil, ErrClosed
	case <-timer.C:
		a.Close()
		return nil, ErrInitTimeout
	case <-ctx.Done():
		a.Close()
		return nil, ctx.Err()
	}
}

// TakeInit returns the initial snapshot the first time it is called.
func (a *Authority) TakeInit() (protocol.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initTaken {
		return protocol.Snapshot{}, false
	}
	a.initTaken = true
	if a.snapshot == nil {
		return protocol.Snapshot{}, false
	}
	snap := *a.snapshot
	a.snapshot = nil
	return snap, true
}

// Submit queues msg for the writer goroutine.
func (a *Authority) Submit(msg protocol.Outbound) {
	if !a.outbox.Push(msg) {
		a.logger.Warn("Dropping outbound message on closed connection", applog.FieldMessage, fmt.Sprintf("%T", msg))
	}
}

// PollInbound drains the frames decoded so far.
func (a *Authority) PollInbound() []protocol.Inbound {
	return a.inbox.Drain()
}

// Done is closed when the connection is gone.
func (a *Authority) Done() <-chan struct{} {
	return a.done
}

// Err reports why the connection ended. It is nil while connected and after
// a deliberate Close.
func (a *Authority) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close sends a close frame and tears the connection down.
func (a *Authority) Close() error {
	a.closeOnce.Do(func() {
		close(a.stop)
		a.outbox.Close()
		_ = a.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = a.conn.Close()
	})
	a.wg.Wait()
	return nil
}

func (a *Authority) readLoop() {
	defer a.wg.Done()
	defer close(a.done)

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case <-a.stop:
			default:
				a.mu.Lock()
				a.err = err
				a.mu.Unlock()
				a.logger.Warn("Connection lost", applog.FieldError, err)
			}
			a.inbox.Close()
			return
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			a.logger.Warn("Dropping malformed frame", applog.FieldError, err)
			continue
		}
		if init, ok := msg.(protocol.InitSnapshot); ok && a.acceptInit(init.Snapshot) {
			continue
		}
		a.inbox.Push(msg)
	}
}

// acceptInit keeps the first snapshot for TakeInit. Later ones are passed
// through to the view.
func (a *Authority) acceptInit(s protocol.Snapshot) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initSeen || a.initTaken {
		return false
	}
	a.initSeen = true
	a.snapshot = &s
	close(a.initReady)
	return true
}

func (a *Authority) writeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		case <-a.done:
			return
		case <-a.outbox.Ready():
			for _, msg := range a.outbox.Drain() {
				data, err := protocol.EncodeOutbound(msg)
				if err != nil {
					a.logger.Error("Failed to encode outbound message", applog.FieldError, err)
					continue
				}
				_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					a.logger.Warn("Write failed", applog.FieldError, err)
					return
				}
			}
		}
	}
}
