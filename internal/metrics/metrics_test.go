package metrics

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewRegistersDistinctSeriesPerRole(t *testing.T) {
	sender := New("sender")
	receiver := New("receiver")

	sender.PacketsSent.WithLabelValues("DATA").Inc()
	receiver.PacketsReceived.WithLabelValues("DATA").Inc()

	if got := counterValue(t, sender.PacketsSent.WithLabelValues("DATA")); got != 1 {
		t.Errorf("sender PacketsSent = %v, want 1", got)
	}
	if got := counterValue(t, receiver.PacketsReceived.WithLabelValues("DATA")); got != 1 {
		t.Errorf("receiver PacketsReceived = %v, want 1", got)
	}
	// The two roles' registries are independent: a receiver series should
	// not have been touched by a sender increment.
	if got := counterValue(t, receiver.PacketsSent.WithLabelValues("DATA")); got != 0 {
		t.Errorf("receiver PacketsSent = %v, want 0 (untouched)", got)
	}
}

func TestCounterIncrements(t *testing.T) {
	m := New("sender")
	m.PacketsRetransmitted.Add(3)
	if got := counterValue(t, m.PacketsRetransmitted); got != 3 {
		t.Errorf("PacketsRetransmitted = %v, want 3", got)
	}
}

func TestServeAndShutdown(t *testing.T) {
	m := New("sender")
	srv := m.Serve("127.0.0.1:0", "/metrics")

	// Serve binds asynchronously; give it a moment before shutting down.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestShutdownOnNilServerIsNoOp(t *testing.T) {
	var s *Server
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil server = %v, want nil", err)
	}
}
