package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the authority server's Prometheus collectors.
type Metrics struct {
	Sessions       prometheus.Gauge
	Submissions    prometheus.Counter
	Revocations    prometheus.Counter
	Rejections     *prometheus.CounterVec
	BroadcastDrops prometheus.Counter
	FrameErrors    *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spese_sessions_active",
			Help: "Number of open websocket sessions",
		}),
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spese_submissions_total",
			Help: "Total number of submissions received",
		}),
		Revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spese_revocations_total",
			Help: "Total number of revocations received",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spese_rejections_total",
			Help: "Total number of rejected submissions by cause",
		}, []string{"cause"}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spese_broadcast_drops_total",
			Help: "Sessions disconnected for falling behind the broadcast",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spese_frame_errors_total",
			Help: "Inbound frames that could not be processed, by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.Sessions,
		m.Submissions,
		m.Revocations,
		m.Rejections,
		m.BroadcastDrops,
		m.FrameErrors,
	)
	return m
}

// TrackLimiter exports the number of keys a rate limiter currently tracks.
func (m *Metrics) TrackLimiter(name string, active func() int) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "spese_rate_limit_keys",
		Help:        "Keys currently tracked by a rate limiter",
		ConstLabels: prometheus.Labels{"limiter": name},
	}, func() float64 { return float64(active()) }))
}
