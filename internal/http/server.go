// Package http is the authority server: websocket sessions over the ledger
// service plus health and metrics endpoints.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spesesync/internal/hub"
	applog "spesesync/internal/log"
	"spesesync/internal/middleware/ratelimit"
	"spesesync/internal/middleware/security"
	"spesesync/internal/middleware/trace"
	"spesesync/internal/protocol"
)

// Ledger is the service sessions talk to.
type Ledger interface {
	Snapshot(ctx context.Context, principal string) (protocol.Snapshot, error)
	Handle(ctx context.Context, principal string, msg protocol.Outbound) (protocol.Inbound, error)
}

// Subscriber registers sessions for a principal's broadcasts.
type Subscriber interface {
	Subscribe(ctx context.Context, principal string) (*hub.Subscription, error)
	Unsubscribe(ctx context.Context, s *hub.Subscription) error
}

// DefaultUpgradeLimit throttles websocket upgrades per client address.
var DefaultUpgradeLimit = ratelimit.Config{
	PerSecond:       2,
	Burst:           10,
	CleanupInterval: 5 * time.Minute,
	IdleTimeout:     10 * time.Minute,
}

// Config carries the server's collaborators.
type Config struct {
	Ledger Ledger
	Hub    Subscriber
	// Limiter bounds inbound frames per principal.
	Limiter *ratelimit.Limiter
	// UpgradeLimiter bounds session upgrades per client address.
	UpgradeLimiter *ratelimit.Limiter
	// TrustedProxies are CIDRs whose forwarding headers are believed, on top
	// of loopback and the private ranges.
	TrustedProxies []string
	Metrics        *Metrics
	Gatherer       prometheus.Gatherer
	Logger         *applog.Logger
}

type Server struct {
	http.Server
	ledger   Ledger
	hub      Subscriber
	limiter  *ratelimit.Limiter
	upgrades *ratelimit.Limiter
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu           sync.Mutex
	stopped      bool
	sessions     sync.WaitGroup
	closing      chan struct{}
	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	upgrades := cfg.UpgradeLimiter
	if upgrades == nil {
		upgrades = ratelimit.NewLimiter(DefaultUpgradeLimit)
	}
	gatherer := cfg.Gatherer
	metrics := cfg.Metrics
	if metrics == nil {
		reg := prometheus.NewRegistry()
		metrics = NewMetrics(reg)
		gatherer = reg
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	s := &Server{
		ledger:   cfg.Ledger,
		hub:      cfg.Hub,
		limiter:  limiter,
		upgrades: upgrades,
		metrics:  metrics,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		closing:  make(chan struct{}),
	}

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}
	tracer := trace.NewMiddleware(logger.WithComponent(applog.ComponentHTTP), detector.ExtractClientIP)

	for name, l := range map[string]*ratelimit.Limiter{"frames": limiter, "upgrades": upgrades} {
		if err := metrics.TrackLimiter(name, l.ActiveClients); err != nil {
			logger.Warn("Limiter gauge not registered", "limiter", name, applog.FieldError, err)
		}
	}

	mux.Handle("/ws", upgrades.Middleware(detector.ExtractClientIP)(http.HandlerFunc(s.handleSession)))
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           security.Headers(tracer.Middleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops accepting requests, closes every open session and waits for
// them to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.closing)
		s.limiter.Stop()
		s.upgrades.Stop()
		shutdownErr = s.Server.Shutdown(ctx)

		done := make(chan struct{})
		go func() {
			s.sessions.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if shutdownErr == nil {
				shutdownErr = ctx.Err()
			}
		}
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
