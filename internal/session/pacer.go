package session

import (
	"time"

	"golang.org/x/time/rate"
)

// pacer throttles DATA admission to roughly cwnd/RTT packets per second
// instead of bursting the whole window open every event-loop tick. It
// supplements, rather than replaces, the window's own admission bound —
// CanAdmit still caps in-flight packets at the window size; the pacer only
// smooths how quickly that budget is spent within one tick.
type pacer struct {
	limiter *rate.Limiter
}

// defaultPacerRate and defaultPacerBurst govern pacing before any RTT sample
// exists.
const (
	defaultPacerRate  = 50 // packets/sec
	defaultPacerBurst = 4
)

func newPacer() *pacer {
	return &pacer{limiter: rate.NewLimiter(rate.Limit(defaultPacerRate), defaultPacerBurst)}
}

// Refresh retunes the token rate to window/rtt packets per second, the
// instantaneous send rate the congestion window implies, with a burst quarter
// the window wide so one receive-deadline tick can still admit a useful
// chunk of the window rather than trickling out one packet per tick. A zero
// or unmeasured RTT leaves the rate unchanged rather than dividing by zero.
func (p *pacer) Refresh(window uint32, rtt time.Duration) {
	if p == nil || rtt <= 0 || window == 0 {
		return
	}
	r := float64(window) / rtt.Seconds()
	if r < 1 {
		r = 1
	}
	p.limiter.SetLimit(rate.Limit(r))

	burst := int(window / 4)
	if burst < 1 {
		burst = 1
	}
	p.limiter.SetBurst(burst)
}

// Allow reports whether one more DATA packet may be sent right now.
func (p *pacer) Allow() bool {
	if p == nil {
		return true
	}
	return p.limiter.Allow()
}
