package congestion

import "testing"

func TestNewControllerStartsInSlowStart(t *testing.T) {
	c := New()
	if c.State() != StateSlowStart {
		t.Errorf("initial state = %v, want slow start", c.State())
	}
	if c.Cwnd() != InitialCwnd {
		t.Errorf("initial cwnd = %v, want %v", c.Cwnd(), InitialCwnd)
	}
	if c.Ssthresh() != InitialSsthresh {
		t.Errorf("initial ssthresh = %v, want %v", c.Ssthresh(), InitialSsthresh)
	}
}

func TestSlowStartGrowsByOnePerAck(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		before := c.Cwnd()
		c.OnAck()
		if got, want := c.Cwnd(), before+1; got != want {
			t.Fatalf("ack %d: cwnd = %v, want %v", i, got, want)
		}
	}
	if c.State() != StateSlowStart {
		t.Errorf("state = %v, want still slow start (cwnd %v < ssthresh %v)", c.State(), c.Cwnd(), c.Ssthresh())
	}
}

func TestTransitionsToCongestionAvoidanceAtSsthresh(t *testing.T) {
	c := New()
	for c.Cwnd() < c.Ssthresh() {
		c.OnAck()
	}
	if c.State() != StateCongestionAvoidance {
		t.Fatalf("state = %v, want congestion avoidance once cwnd reaches ssthresh", c.State())
	}

	before := c.Cwnd()
	c.OnAck()
	want := before + 1.0/before
	if got := c.Cwnd(); got != want {
		t.Errorf("congestion-avoidance cwnd = %v, want %v", got, want)
	}
}

func TestThirdDuplicateAckEntersFastRecovery(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.OnAck()
	}
	cwndBefore := c.Cwnd()

	c.OnThirdDuplicateAck()

	if c.State() != StateFastRecovery {
		t.Fatalf("state = %v, want fast recovery", c.State())
	}
	wantSsthresh := cwndBefore / 2
	if c.Ssthresh() != wantSsthresh {
		t.Errorf("ssthresh = %v, want %v", c.Ssthresh(), wantSsthresh)
	}
	if want := wantSsthresh + 3; c.Cwnd() != want {
		t.Errorf("cwnd = %v, want ssthresh+3 = %v", c.Cwnd(), want)
	}
}

func TestFastRecoveryExitsOnNewAck(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.OnAck()
	}
	c.OnThirdDuplicateAck()
	ssthresh := c.Ssthresh()

	c.OnAck() // new cumulative ACK ends recovery
	if c.State() == StateFastRecovery {
		t.Fatal("fast recovery should end on the next new cumulative ACK")
	}
	if c.Cwnd() != ssthresh {
		t.Errorf("cwnd after recovery exit = %v, want ssthresh %v", c.Cwnd(), ssthresh)
	}
}

func TestOnRTOResetsToSlowStart(t *testing.T) {
	c := New()
	for i := 0; i < 20; i++ {
		c.OnAck()
	}
	cwndBefore := c.Cwnd()

	c.OnRTO()

	if c.State() != StateSlowStart {
		t.Errorf("state after RTO = %v, want slow start", c.State())
	}
	if c.Cwnd() != 1 {
		t.Errorf("cwnd after RTO = %v, want 1", c.Cwnd())
	}
	if want := max(1, cwndBefore/2); c.Ssthresh() != want {
		t.Errorf("ssthresh after RTO = %v, want %v", c.Ssthresh(), want)
	}
}

func TestWindowCapsAtWMax(t *testing.T) {
	c := New()
	c.ssthresh = WMax * 4
	for i := 0; i < 5000 && c.Cwnd() < WMax*2; i++ {
		c.OnAck()
	}
	if got := c.Window(); got != WMax {
		t.Errorf("Window() = %d, want capped at WMax=%d", got, WMax)
	}
}

func TestWindowNeverReportsZero(t *testing.T) {
	c := New()
	c.cwnd = 0.4
	if got := c.Window(); got != 1 {
		t.Errorf("Window() = %d, want floor of 1", got)
	}
}
