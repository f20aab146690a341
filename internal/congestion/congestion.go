// Package congestion implements the protocol's optional congestion control:
// slow start, congestion avoidance, fast recovery on three duplicate ACKs,
// and an RTO-triggered reset, each bounded by a static window cap.
package congestion

import "sync"

// State identifies which phase of the congestion-control state machine the
// controller is in.
type State int

const (
	StateSlowStart State = iota
	StateCongestionAvoidance
	StateFastRecovery
)

func (s State) String() string {
	switch s {
	case StateSlowStart:
		return "SLOW_START"
	case StateCongestionAvoidance:
		return "CONGESTION_AVOIDANCE"
	case StateFastRecovery:
		return "FAST_RECOVERY"
	default:
		return "UNKNOWN"
	}
}

const (
	// InitialCwnd and InitialSsthresh are the controller's starting values.
	InitialCwnd     = 1.0
	InitialSsthresh = 64.0

	// WMax is the static upper bound on the effective window, independent of
	// cwnd growth. It should be sized at or above the expected
	// bandwidth-delay product.
	WMax = 1000
)

// Controller tracks cwnd/ssthresh for one direction of a session.
type Controller struct {
	mu sync.Mutex

	state    State
	cwnd     float64
	ssthresh float64
	wMax     float64
}

// New creates a controller in slow start with the spec's initial values.
func New() *Controller {
	return &Controller{
		state:    StateSlowStart,
		cwnd:     InitialCwnd,
		ssthresh: InitialSsthresh,
		wMax:     WMax,
	}
}

// SetWMax overrides the static window cap (default WMax), e.g. from a
// deployment's configured bandwidth-delay product.
func (c *Controller) SetWMax(w float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w > 0 {
		c.wMax = w
	}
}

// OnAck applies a new (non-duplicate) cumulative ACK: cwnd grows by one full
// segment in slow start, or by 1/cwnd in congestion avoidance. A new ACK
// while in fast recovery ends the recovery and resumes congestion avoidance
// at ssthresh, per the standard Reno exit rule.
func (c *Controller) OnAck() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateFastRecovery:
		c.cwnd = c.ssthresh
		c.state = c.stateForCwnd()
	case StateSlowStart:
		c.cwnd++
		c.state = c.stateForCwnd()
	case StateCongestionAvoidance:
		c.cwnd += 1.0 / c.cwnd
	}
}

// OnThirdDuplicateAck applies the fast-retransmit/fast-recovery reaction:
// ssthresh halves, cwnd inflates to ssthresh+3 to account for the three
// segments known to have left the network.
func (c *Controller) OnThirdDuplicateAck() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ssthresh = max(1, c.cwnd/2)
	c.cwnd = c.ssthresh + 3
	c.state = StateFastRecovery
}

// OnRTO applies the timeout reaction: halve ssthresh, collapse cwnd to 1,
// and fall back to slow start.
func (c *Controller) OnRTO() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ssthresh = max(1, c.cwnd/2)
	c.cwnd = 1
	c.state = StateSlowStart
}

// Window returns the effective window: cwnd capped at WMax, rounded down to
// a whole packet count with a floor of 1 so the sender always admits
// something.
func (c *Controller) Window() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.cwnd
	if w > c.wMax {
		w = c.wMax
	}
	n := uint32(w)
	if n < 1 {
		n = 1
	}
	return n
}

// Cwnd and Ssthresh expose the raw estimator state, e.g. for metrics export.
func (c *Controller) Cwnd() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwnd
}

func (c *Controller) Ssthresh() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ssthresh
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// stateForCwnd reclassifies slow-start vs congestion-avoidance after cwnd
// moves. Caller holds c.mu.
func (c *Controller) stateForCwnd() State {
	if c.cwnd < c.ssthresh {
		return StateSlowStart
	}
	return StateCongestionAvoidance
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
