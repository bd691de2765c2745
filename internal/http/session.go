package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"spesesync/internal/hub"
	applog "spesesync/internal/log"
	"spesesync/internal/middleware/security"
	"spesesync/internal/middleware/trace"
	"spesesync/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 64 << 10
	replyBuffer  = 16

	// ReasonRateLimited is sent back for submissions over the session limit.
	ReasonRateLimited = "rate limited, try again"
)

// handleSession upgrades to a websocket, sends the principal's snapshot and
// then relays frames both ways until either side hangs up.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	principal, err := security.Principal(r, protocol.PrincipalHeader)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	logger := applog.FromContext(r.Context()).
		WithComponent(applog.ComponentSession).
		With(applog.FieldPrincipal, principal, applog.FieldSessionID, trace.GetRequestID(r.Context()))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		logger.WarnContext(r.Context(), "Websocket upgrade failed", applog.FieldError, err)
		return
	}
	s.serve(r.Context(), conn, principal, logger)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, principal string, logger *applog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	// subscribe before reading the snapshot so nothing committed in between
	// is missed; duplicates are harmless to clients
	sub, err := s.hub.Subscribe(ctx, principal)
	if err != nil {
		logger.ErrorContext(ctx, "Subscribe failed", applog.FieldError, err)
		closeWith(conn, websocket.CloseTryAgainLater, "try again")
		return
	}
	defer s.hub.Unsubscribe(context.Background(), sub)

	snap, err := s.ledger.Snapshot(ctx, principal)
	if err != nil {
		logger.ErrorContext(ctx, "Snapshot failed", applog.FieldOperation, applog.OpSnapshot, applog.FieldError, err)
		closeWith(conn, websocket.CloseInternalServerErr, "snapshot unavailable")
		return
	}
	if err := writeFrame(conn, protocol.InitSnapshot{Snapshot: snap}); err != nil {
		logger.WarnContext(ctx, "Failed to send snapshot", applog.FieldError, err)
		return
	}

	s.metrics.Sessions.Inc()
	defer s.metrics.Sessions.Dec()
	logger.InfoContext(ctx, "Session started",
		"alive", snap.Lifetime.Alive,
		"recent", len(snap.Recent))

	replies := make(chan protocol.Inbound, replyBuffer)
	writerDone := s.startWriter(ctx, cancel, conn, sub, replies, logger)

	s.readLoop(ctx, conn, principal, replies, logger)
	cancel()
	<-writerDone
	logger.InfoContext(ctx, "Session ended")
}

// startWriter runs writeLoop. When it returns the session is over: ctx is
// cancelled and the connection closed, which releases a reader blocked on
// either.
func (s *Server) startWriter(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *hub.Subscription, replies <-chan protocol.Inbound, logger *applog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx, conn, sub, replies, logger)
		cancel()
		conn.Close()
	}()
	return done
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, principal string, replies chan<- protocol.Inbound, logger *applog.Logger) {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugContext(ctx, "Session read failed", applog.FieldError, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			s.metrics.FrameErrors.WithLabelValues("decode").Inc()
			logger.WarnContext(ctx, "Dropping undecodable frame", applog.FieldError, err)
			continue
		}

		var reply protocol.Inbound
		switch {
		case !s.limiter.Allow(principal):
			s.metrics.FrameErrors.WithLabelValues("rate_limited").Inc()
			if m, ok := msg.(protocol.Submit); ok {
				s.metrics.Rejections.WithLabelValues("rate_limited").Inc()
				reply = protocol.Rejected{Alias: m.Alias, Reason: ReasonRateLimited}
			}
		default:
			reply = s.handle(ctx, principal, msg, logger)
		}

		if reply != nil && !forward(ctx, replies, reply) {
			return
		}
	}
}

// forward hands reply to the writer. It reports false once the session is
// over.
func forward(ctx context.Context, replies chan<- protocol.Inbound, reply protocol.Inbound) bool {
	select {
	case replies <- reply:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) handle(ctx context.Context, principal string, msg protocol.Outbound, logger *applog.Logger) protocol.Inbound {
	op := applog.OpSubmit
	switch msg.(type) {
	case protocol.Submit:
		s.metrics.Submissions.Inc()
	case protocol.Revoke:
		s.metrics.Revocations.Inc()
		op = applog.OpRevoke
	}

	reply, err := s.ledger.Handle(ctx, principal, msg)
	if err != nil {
		s.metrics.FrameErrors.WithLabelValues("handle").Inc()
		logger.ErrorContext(ctx, "Failed to apply message", applog.FieldOperation, op, applog.FieldError, err)
	}
	if _, ok := reply.(protocol.Rejected); ok {
		cause := "invalid"
		if err != nil {
			cause = "internal"
		}
		s.metrics.Rejections.WithLabelValues(cause).Inc()
	}
	return reply
}

// writeLoop owns all writes after the snapshot. It returns when the session
// ends, the subscription is dropped or the server shuts down.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *hub.Subscription, replies <-chan protocol.Inbound, logger *applog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case msg, ok := <-sub.C:
			if !ok {
				logger.WarnContext(ctx, "Session fell behind, disconnecting")
				closeWith(conn, websocket.CloseTryAgainLater, "try again")
				return
			}
			if err := writeFrame(conn, msg); err != nil {
				logger.DebugContext(ctx, "Broadcast write failed", applog.FieldError, err)
				return
			}
		case msg := <-replies:
			if err := writeFrame(conn, msg); err != nil {
				logger.DebugContext(ctx, "Reply write failed", applog.FieldError, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg protocol.Inbound) error {
	data, err := protocol.EncodeInbound(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeWait))
}
