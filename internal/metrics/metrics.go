// Package metrics exposes Prometheus counters and gauges for one transfer
// session: packets sent/received/retransmitted, congestion-window state,
// RTO estimator state, window occupancy, and FEC recovery counts. Serving
// them is optional, behind the config file's Metrics.Enable and Metrics.Addr
// settings; the Metrics struct itself always
// exists so callers never need to nil-check it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every exported series for one process (sender or receiver).
type Metrics struct {
	PacketsSent          *prometheus.CounterVec
	PacketsReceived      *prometheus.CounterVec
	PacketsRetransmitted prometheus.Counter
	CorruptPackets       prometheus.Counter
	FastRetransmits      prometheus.Counter
	RTOExpirations       prometheus.Counter

	Cwnd          prometheus.Gauge
	Ssthresh      prometheus.Gauge
	SRTTSeconds   prometheus.Gauge
	RTTVARSeconds prometheus.Gauge
	RTOSeconds    prometheus.Gauge

	WindowOccupancy prometheus.Gauge

	FECRecovered prometheus.Counter
	FECFailed    prometheus.Counter

	registry *prometheus.Registry
}

// New creates a fresh registry and registers every series under namespace
// "filexfer", subsystem role ("sender" or "receiver").
func New(role string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "packets_sent_total",
			Help: "Total packets sent, by type.",
		}, []string{"type"}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "packets_received_total",
			Help: "Total packets received, by type.",
		}, []string{"type"}),
		PacketsRetransmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "packets_retransmitted_total",
			Help: "Total packets retransmitted, fast or timeout-driven.",
		}),
		CorruptPackets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "corrupt_packets_total",
			Help: "Total packets discarded for a checksum mismatch.",
		}),
		FastRetransmits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "fast_retransmits_total",
			Help: "Total fast retransmits triggered by a third duplicate ACK.",
		}),
		RTOExpirations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "rto_expirations_total",
			Help: "Total retransmission-timeout expirations.",
		}),
		Cwnd: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filexfer", Subsystem: role, Name: "cwnd_packets",
			Help: "Current congestion window, in packets.",
		}),
		Ssthresh: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filexfer", Subsystem: role, Name: "ssthresh_packets",
			Help: "Current slow-start threshold, in packets.",
		}),
		SRTTSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filexfer", Subsystem: role, Name: "srtt_seconds",
			Help: "Current smoothed round-trip time estimate.",
		}),
		RTTVARSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filexfer", Subsystem: role, Name: "rttvar_seconds",
			Help: "Current round-trip time variance estimate.",
		}),
		RTOSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filexfer", Subsystem: role, Name: "rto_seconds",
			Help: "Current retransmission timeout.",
		}),
		WindowOccupancy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "filexfer", Subsystem: role, Name: "window_occupancy_packets",
			Help: "In-flight (sender) or buffered out-of-order (receiver) packet count.",
		}),
		FECRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "fec_recovered_total",
			Help: "Total DATA payloads recovered via FEC reconstruction.",
		}),
		FECFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filexfer", Subsystem: role, Name: "fec_reconstruction_failed_total",
			Help: "Total FEC groups that failed to reconstruct.",
		}),
		registry: reg,
	}
}

// Server serves the metrics registry over HTTP until Shutdown is called.
type Server struct {
	http *http.Server
}

// Serve starts an HTTP server exposing m's registry at path on addr. It
// returns immediately; the server runs in a background goroutine.
func (m *Metrics) Serve(addr, path string) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		// ListenAndServe always returns non-nil; ErrServerClosed on a clean
		// Shutdown is expected and not worth surfacing.
		_ = srv.ListenAndServe()
	}()
	return &Server{http: srv}
}

// Shutdown stops the metrics HTTP server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// DefaultShutdownTimeout is a timeout a caller may put on the ctx passed to
// Shutdown; Shutdown itself waits for in-flight scrapes as long as ctx allows.
const DefaultShutdownTimeout = 5 * time.Second
