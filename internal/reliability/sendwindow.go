// Package reliability implements the sliding-window reliability engine shared
// by the sender and receiver halves of the transfer protocol: in-flight
// packet tracking, RTO estimation, fast/timeout retransmission on the send
// side, and out-of-order buffering with SACK generation on the receive side.
package reliability

import (
	"sync"
	"time"

	"github.com/relaywire/filexfer/internal/wire"
)

const (
	// FastRetransmitThreshold is the number of duplicate cumulative ACKs
	// that triggers a fast retransmit of the base sequence number.
	FastRetransmitThreshold = 3

	// DefaultRTO is the initial retransmission timeout, before any RTT
	// sample has been taken.
	DefaultRTO = 1 * time.Second

	// MinRTO and MaxRTO bound the retransmission timeout regardless of
	// measured RTT.
	MinRTO = 200 * time.Millisecond
	MaxRTO = 60 * time.Second

	// rtoAlpha and rtoBeta are the SRTT/RTTVAR smoothing factors (1/8, 1/4).
	rtoAlpha = 0.125
	rtoBeta  = 0.25

	// PeerUnreachableThreshold is the number of consecutive RTO expirations
	// with no cumulative-ACK progress before the sender gives up on the
	// peer.
	PeerUnreachableThreshold = 10

	// DefaultWindow is the initial window size used when a caller doesn't
	// specify one explicitly.
	DefaultWindow = 16
)

// slot holds one in-flight packet: enough to retransmit it without touching
// the file again, plus bookkeeping to drive RTO/fast-retransmit decisions.
type slot struct {
	pkt      *wire.Packet
	lastSend time.Time
	acked    bool
}

// SendWindow tracks in-flight packets for one direction of a session and
// drives their retransmission.
type SendWindow struct {
	mu sync.Mutex

	slots      map[uint32]*slot
	baseSeqNum uint32
	nextSeqNum uint32
	window     uint32

	srtt, rttvar, rto time.Duration
	minRTO, maxRTO    time.Duration

	dupAckCount         int
	consecutiveTimeouts int
	lastSackHint        uint32
}

// NewSendWindow creates a send window starting at seq start with the given
// initial window size.
func NewSendWindow(start uint32, windowSize uint32) *SendWindow {
	return &SendWindow{
		slots:      make(map[uint32]*slot),
		baseSeqNum: start,
		nextSeqNum: start,
		window:     windowSize,
		rto:        DefaultRTO,
		minRTO:     MinRTO,
		maxRTO:     MaxRTO,
	}
}

// SetRTOBounds overrides the window's RTO clamp range (default MinRTO/MaxRTO).
// Values <= 0 leave the corresponding bound unchanged, so a caller can set
// just one side.
func (sw *SendWindow) SetRTOBounds(min, max time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if min > 0 {
		sw.minRTO = min
	}
	if max > 0 {
		sw.maxRTO = max
	}
}

// BaseSeqNum returns the oldest unacknowledged sequence number.
func (sw *SendWindow) BaseSeqNum() uint32 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.baseSeqNum
}

// NextSeqNum returns the sequence number the next admitted packet will get.
func (sw *SendWindow) NextSeqNum() uint32 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.nextSeqNum
}

// SetWindow updates the effective window size, e.g. from congestion control.
func (sw *SendWindow) SetWindow(w uint32) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.window = w
}

// CanAdmit reports whether another packet can be admitted without exceeding
// the current window.
func (sw *SendWindow) CanAdmit() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.nextSeqNum-sw.baseSeqNum < sw.window
}

// Admit assigns the next sequence number to pkt, stores it for possible
// retransmission, and stamps its send time. The caller is responsible for
// encoding and actually dispatching pkt.
func (sw *SendWindow) Admit(pkt *wire.Packet) uint32 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	seq := sw.nextSeqNum
	pkt.Header.SeqNum = seq
	sw.slots[seq] = &slot{pkt: pkt, lastSend: time.Now()}
	sw.nextSeqNum++
	return seq
}

// HandleACK applies an already-verified ACK. It returns the set of sequence
// numbers newly released from the window (for stats/logging) and whether the
// cumulative ACK advanced base_seq_num.
func (sw *SendWindow) HandleACK(ackNum, sackNum uint32) (released []uint32, advanced bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sackNum > ackNum {
		sw.lastSackHint = sackNum
	}

	if ackNum > sw.baseSeqNum {
		for seq := sw.baseSeqNum; seq < ackNum && seq < sw.nextSeqNum; seq++ {
			s, ok := sw.slots[seq]
			if !ok {
				continue
			}
			// Karn's rule: only sample RTT from packets never retransmitted.
			if s.pkt.Header.Retrans == 0 {
				sw.updateRTO(time.Since(s.lastSend))
			}
			delete(sw.slots, seq)
			released = append(released, seq)
		}
		sw.baseSeqNum = ackNum
		sw.dupAckCount = 0
		sw.consecutiveTimeouts = 0
		return released, true
	}

	if ackNum == sw.baseSeqNum {
		sw.dupAckCount++
	}
	return nil, false
}

// DuplicateACKCount returns how many consecutive duplicate cumulative ACKs
// have been observed since the last advance.
func (sw *SendWindow) DuplicateACKCount() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.dupAckCount
}

// FastRetransmit returns the base packet for retransmission and resets the
// duplicate ACK counter, if the fast-retransmit threshold has been reached.
// It is a no-op (ok=false) otherwise.
func (sw *SendWindow) FastRetransmit() (pkt *wire.Packet, ok bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.dupAckCount < FastRetransmitThreshold {
		return nil, false
	}

	s, exists := sw.slots[sw.baseSeqNum]
	if !exists {
		return nil, false
	}

	sw.dupAckCount = 0
	s.pkt.Header.Retrans = 1
	s.lastSend = time.Now()
	return s.pkt, true
}

// DetectTimeouts scans in-flight slots for packets whose RTO has elapsed and
// marks them for retransmission, honoring the SACK hint: sequence numbers at
// or above the most recent sack_num are assumed already in flight or at the
// receiver's edge and are skipped.
func (sw *SendWindow) DetectTimeouts(now time.Time) []*wire.Packet {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	upper := sw.nextSeqNum
	if sw.lastSackHint > sw.baseSeqNum && sw.lastSackHint < upper {
		upper = sw.lastSackHint
	}

	var expired []*wire.Packet
	for seq := sw.baseSeqNum; seq < upper; seq++ {
		s, ok := sw.slots[seq]
		if !ok || s.acked {
			continue
		}
		if now.Sub(s.lastSend) < sw.rto {
			continue
		}
		s.pkt.Header.Retrans = 1
		s.lastSend = now
		expired = append(expired, s.pkt)
	}

	if len(expired) > 0 {
		sw.rto *= 2
		if sw.rto > sw.maxRTO {
			sw.rto = sw.maxRTO
		}
		sw.consecutiveTimeouts++
	}

	return expired
}

// PeerUnreachable reports whether the bounded retry count has been exceeded
// with no progress.
func (sw *SendWindow) PeerUnreachable() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.consecutiveTimeouts >= PeerUnreachableThreshold
}

// Done reports whether every admitted packet has been acknowledged.
func (sw *SendWindow) Done() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.baseSeqNum == sw.nextSeqNum
}

// RTO, SRTT and RTTVAR expose the current estimator state.
func (sw *SendWindow) RTO() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.rto
}

func (sw *SendWindow) SRTT() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.srtt
}

func (sw *SendWindow) RTTVAR() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.rttvar
}

// updateRTO applies the RFC 6298-style smoothing to a single RTT sample.
// Caller holds sw.mu.
func (sw *SendWindow) updateRTO(sample time.Duration) {
	if sw.srtt == 0 {
		sw.srtt = sample
		sw.rttvar = sample / 2
	} else {
		delta := sw.srtt - sample
		if delta < 0 {
			delta = -delta
		}
		sw.rttvar = time.Duration((1-rtoBeta)*float64(sw.rttvar) + rtoBeta*float64(delta))
		sw.srtt = time.Duration((1-rtoAlpha)*float64(sw.srtt) + rtoAlpha*float64(sample))
	}

	sw.rto = sw.srtt + 4*sw.rttvar
	if sw.rto < sw.minRTO {
		sw.rto = sw.minRTO
	} else if sw.rto > sw.maxRTO {
		sw.rto = sw.maxRTO
	}
}
