package tracing

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/relaywire/filexfer/internal/config"
)

func TestDisabledTracerIsNoOp(t *testing.T) {
	tr, err := New(config.TracingConfig{Enable: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Enabled() {
		t.Fatal("tracer should report disabled")
	}

	ctx, span := tr.StartSession(context.Background(), "sess1", "sender", "file.bin")
	tr.Event(ctx, "fast_retransmit")
	tr.RecordError(ctx, errors.New("boom"))
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on disabled tracer: %v", err)
	}
	_ = span
}

func TestNewRejectsUnsupportedExporter(t *testing.T) {
	_, err := New(config.TracingConfig{
		Enable:      true,
		Exporter:    "not-a-real-exporter",
		ServiceName: "filexfer-test",
	}, zap.NewNop())
	if err == nil {
		t.Fatal("expected an error for an unsupported exporter")
	}
}
