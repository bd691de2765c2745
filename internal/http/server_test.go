package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spesesync/internal/authority/remote"
	"spesesync/internal/core"
	"spesesync/internal/hub"
	"spesesync/internal/ledger"
	"spesesync/internal/middleware/ratelimit"
	"spesesync/internal/protocol"
	"spesesync/internal/services"
	"spesesync/internal/storage"
)

type testEnv struct {
	srv  *Server
	http *httptest.Server
	url  string
	repo *storage.SQLiteRepository
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	return newTestEnvWith(t, Config{Limiter: limiter})
}

// newTestEnvWith fills in the ledger, hub and metrics of cfg.
func newTestEnvWith(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	h := hub.New()
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(hubDone)
	}()

	reg := prometheus.NewRegistry()
	cfg.Ledger = services.NewLedgerService(repo, h)
	cfg.Hub = h
	cfg.Metrics = NewMetrics(reg)
	cfg.Gatherer = reg
	srv := NewServer(":0", cfg)
	ts := httptest.NewServer(srv.Handler)

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
		ts.Close()
		cancel()
		<-hubDone
		repo.Close()
	})

	return &testEnv{
		srv:  srv,
		http: ts,
		url:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		repo: repo,
	}
}

func (e *testEnv) dialRaw(t *testing.T, principal string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(protocol.PrincipalHeader, principal)
	conn, _, err := websocket.DefaultDialer.Dial(e.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) dialView(t *testing.T, principal string) *ledger.View {
	t.Helper()
	a, err := remote.Dial(context.Background(), remote.Config{
		URL:         e.url,
		Principal:   principal,
		InitTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return ledger.New(a)
}

func readInbound(t *testing.T, conn *websocket.Conn) protocol.Inbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeInbound(data)
	require.NoError(t, err)
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Outbound) {
	t.Helper()
	data, err := protocol.EncodeOutbound(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "spese_sessions_active")
	assert.Contains(t, string(body), `spese_rate_limit_keys{limiter="upgrades"}`)
	assert.Contains(t, string(body), `spese_rate_limit_keys{limiter="frames"}`)
}

func TestUpgradeRateLimit(t *testing.T) {
	env := newTestEnvWith(t, Config{
		UpgradeLimiter: ratelimit.NewLimiter(ratelimit.Config{
			PerSecond:       0.001,
			Burst:           1,
			CleanupInterval: time.Minute,
			IdleTimeout:     time.Minute,
		}),
	})

	env.dialRaw(t, "alice")

	header := http.Header{}
	header.Set(protocol.PrincipalHeader, "alice")
	_, resp, err := websocket.DefaultDialer.Dial(env.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestUpgradeLimitKeyedByForwardedClient(t *testing.T) {
	limit := ratelimit.Config{PerSecond: 0.001, Burst: 1, CleanupInterval: time.Minute, IdleTimeout: time.Minute}
	upgrade := func(srv *Server, forwardedFor string) int {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.RemoteAddr = "198.51.100.4:40000"
		r.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, r)
		return w.Code
	}

	// Requests carry no principal, so an admitted upgrade ends in 401.
	trusted := newTestEnvWith(t, Config{
		UpgradeLimiter: ratelimit.NewLimiter(limit),
		TrustedProxies: []string{"198.51.100.0/24", "not-a-cidr"},
	}).srv
	assert.Equal(t, http.StatusUnauthorized, upgrade(trusted, "203.0.113.7"))
	assert.Equal(t, http.StatusUnauthorized, upgrade(trusted, "203.0.113.8"))
	assert.Equal(t, http.StatusTooManyRequests, upgrade(trusted, "203.0.113.7"))

	untrusted := newTestEnvWith(t, Config{UpgradeLimiter: ratelimit.NewLimiter(limit)}).srv
	assert.Equal(t, http.StatusUnauthorized, upgrade(untrusted, "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, upgrade(untrusted, "203.0.113.8"))
}

func TestSessionRequiresPrincipal(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionSubmitFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dialRaw(t, "alice")

	init, ok := readInbound(t, conn).(protocol.InitSnapshot)
	require.True(t, ok, "first frame is the snapshot")
	assert.Zero(t, init.Snapshot.Lifetime.Alive)

	// garbage is dropped without ending the session
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	bad := uuid.New()
	send(t, conn, protocol.Submit{Alias: bad, Amount: 0})
	rejected, ok := readInbound(t, conn).(protocol.Rejected)
	require.True(t, ok)
	assert.Equal(t, bad, rejected.Alias)

	good := uuid.New()
	send(t, conn, protocol.Submit{Alias: good, Amount: 990, Category: core.Category("books")})
	confirmed, ok := readInbound(t, conn).(protocol.Confirmed)
	require.True(t, ok)
	require.NotNil(t, confirmed.Alias)
	assert.Equal(t, good, *confirmed.Alias)
	assert.Equal(t, uint64(990), confirmed.Expense.Amount)

	send(t, conn, protocol.Revoke{ID: confirmed.Expense.ServerID})
	revoked, ok := readInbound(t, conn).(protocol.Revoked)
	require.True(t, ok)
	assert.Equal(t, confirmed.Expense.ServerID, revoked.Expense.ServerID)
	assert.True(t, revoked.Expense.Revoked)
}

func TestSessionRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{PerSecond: 0.001, Burst: 1})
	env := newTestEnv(t, limiter)
	conn := env.dialRaw(t, "alice")
	readInbound(t, conn)

	send(t, conn, protocol.Submit{Alias: uuid.New(), Amount: 1})
	_, ok := readInbound(t, conn).(protocol.Confirmed)
	require.True(t, ok)

	limited := uuid.New()
	send(t, conn, protocol.Submit{Alias: limited, Amount: 1})
	rejected, ok := readInbound(t, conn).(protocol.Rejected)
	require.True(t, ok)
	assert.Equal(t, protocol.Rejected{Alias: limited, Reason: ReasonRateLimited}, rejected)
}

func TestViewsConvergeThroughServer(t *testing.T) {
	env := newTestEnv(t, nil)

	// history that predates both sessions
	_, err := env.repo.InsertExpense(context.Background(), "alice", core.ClientData{Amount: 100})
	require.NoError(t, err)
	_, err = env.repo.InsertExpense(context.Background(), "bob", core.ClientData{Amount: 5000})
	require.NoError(t, err)

	phone := env.dialView(t, "alice")
	laptop := env.dialView(t, "alice")
	require.Equal(t, uint64(1), phone.LiveCount())
	require.Equal(t, uint64(1), laptop.LiveCount())

	phone.InsertExpense(250, core.Category("coffee"))
	assert.Equal(t, uint64(350), phone.LifetimeSummary().Total, "counted before confirmation")

	require.Eventually(t, func() bool {
		phone.Sync()
		laptop.Sync()
		return phone.Pending() == 0 && laptop.LiveCount() == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, phone.LifetimeSummary(), laptop.LifetimeSummary())
	assert.Equal(t, phone.CategoryBreakdown(ledger.Lifetime), laptop.CategoryBreakdown(ledger.Lifetime))

	newest := laptop.LoadRecent(1)
	require.Len(t, newest, 1)
	laptop.Revoke(newest[0].ID())

	require.Eventually(t, func() bool {
		phone.Sync()
		laptop.Sync()
		return phone.LiveCount() == 1 && laptop.LiveCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, core.Summary{Total: 100, Alive: 1}, phone.LifetimeSummary())
	assert.Equal(t, core.Summary{Total: 100, Alive: 1}, laptop.WindowSummary())
}

func TestShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dialRaw(t, "alice")
	readInbound(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
