package session

import (
	"testing"
	"time"
)

func TestNilPacerAlwaysAllows(t *testing.T) {
	var p *pacer
	for i := 0; i < 100; i++ {
		if !p.Allow() {
			t.Fatal("nil pacer should never block admission")
		}
	}
}

func TestRefreshIgnoresUnmeasuredRTT(t *testing.T) {
	p := newPacer()
	before := p.limiter.Limit()
	p.Refresh(32, 0)
	if p.limiter.Limit() != before {
		t.Error("Refresh with zero RTT should leave the rate unchanged")
	}
}

func TestRefreshWidensBurstWithWindow(t *testing.T) {
	p := newPacer()
	p.Refresh(64, 50*time.Millisecond)

	if got := p.limiter.Burst(); got != 16 {
		t.Errorf("Burst() = %d, want 16 for window 64", got)
	}
}

func TestRefreshNeverZerosBurst(t *testing.T) {
	p := newPacer()
	p.Refresh(1, time.Millisecond)

	if got := p.limiter.Burst(); got < 1 {
		t.Errorf("Burst() = %d, want at least 1", got)
	}
}

func TestAllowDrainsBurstThenBlocks(t *testing.T) {
	p := newPacer()
	p.Refresh(8, time.Hour) // tiny rate, burst 2 -> admits two then blocks

	admitted := 0
	for i := 0; i < 10; i++ {
		if p.Allow() {
			admitted++
		}
	}
	if admitted != 2 {
		t.Errorf("admitted = %d, want 2 (burst for window 8)", admitted)
	}
}
