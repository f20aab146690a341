// Package fec adds optional forward error correction on top of the
// transfer protocol: groups of consecutive DATA payloads are encoded with
// Reed-Solomon parity, carried as TypeFEC packets, so the receiver can
// reconstruct a bounded number of losses within a group without waiting for
// retransmission. It is off by default (see §4.5/Non-goals discussion in the
// expanded design) and never required for correctness — the sliding-window
// retransmission path alone is sufficient.
package fec

import (
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"

	"github.com/relaywire/filexfer/internal/wire"
)

const (
	// DefaultGroupSize is the number of consecutive DATA packets covered by
	// one set of parity shards.
	DefaultGroupSize = 10

	// DefaultParityShards is the number of parity shards generated per group.
	DefaultParityShards = 2
)

// Config configures an Encoder/Decoder pair. Both peers must agree on it
// statically, the same way they agree on the wire header layout.
type Config struct {
	GroupSize    int
	ParityShards int
}

// DefaultConfig returns the module's default FEC parameters.
func DefaultConfig() *Config {
	return &Config{GroupSize: DefaultGroupSize, ParityShards: DefaultParityShards}
}

// group accumulates the payloads of one DATA run awaiting parity generation,
// keyed by the sequence number of its first member.
type group struct {
	firstSeq uint32
	shards   [][]byte
	count    int
}

// Encoder turns consecutive DATA payloads into parity packets.
type Encoder struct {
	mu sync.Mutex

	groupSize    int
	parityShards int
	rs           reedsolomon.Encoder

	cur *group
}

// NewEncoder creates an Encoder from config, or DefaultConfig if nil.
func NewEncoder(config *Config) (*Encoder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.GroupSize < 1 || config.GroupSize > 256 {
		return nil, fmt.Errorf("fec: invalid group size %d (must be 1-256)", config.GroupSize)
	}
	if config.ParityShards < 1 || config.ParityShards > 256 {
		return nil, fmt.Errorf("fec: invalid parity shard count %d (must be 1-256)", config.ParityShards)
	}

	rs, err := reedsolomon.New(config.GroupSize, config.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: creating reed-solomon encoder: %w", err)
	}

	return &Encoder{groupSize: config.GroupSize, parityShards: config.ParityShards, rs: rs}, nil
}

// AddData feeds one DATA packet's payload into the current group. Once the
// group reaches its configured size, it returns the parity packets to send;
// otherwise it returns nil.
func (e *Encoder) AddData(pkt *wire.Packet) ([]*wire.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil {
		e.cur = &group{firstSeq: pkt.Header.SeqNum, shards: make([][]byte, e.groupSize)}
	}

	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)
	e.cur.shards[e.cur.count] = payload
	e.cur.count++

	if e.cur.count < e.groupSize {
		return nil, nil
	}

	parity, err := e.encodeGroup(e.cur)
	e.cur = nil
	if err != nil {
		return nil, err
	}
	return parity, nil
}

// Flush forces parity generation for a partial group, e.g. at EOF when the
// final DATA run doesn't fill a whole group. Returns nil if there is nothing
// pending.
func (e *Encoder) Flush() ([]*wire.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || e.cur.count == 0 {
		return nil, nil
	}
	for i := e.cur.count; i < e.groupSize; i++ {
		e.cur.shards[i] = []byte{}
	}
	parity, err := e.encodeGroup(e.cur)
	e.cur = nil
	return parity, err
}

// encodeGroup pads shards to equal length, runs Reed-Solomon encoding, and
// wraps the resulting parity shards as TypeFEC packets. Caller holds e.mu.
func (e *Encoder) encodeGroup(g *group) ([]*wire.Packet, error) {
	maxLen := 0
	for _, s := range g.shards {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	for i, s := range g.shards {
		if len(s) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, s)
			g.shards[i] = padded
		}
	}

	parity := make([][]byte, e.parityShards)
	for i := range parity {
		parity[i] = make([]byte, maxLen)
	}

	all := append(append([][]byte{}, g.shards...), parity...)
	if err := e.rs.Encode(all); err != nil {
		return nil, fmt.Errorf("fec: encoding group starting at seq %d: %w", g.firstSeq, err)
	}

	pkts := make([]*wire.Packet, e.parityShards)
	for i, shard := range all[len(g.shards):] {
		pkts[i] = &wire.Packet{
			Header: wire.Header{
				SeqNum:  g.firstSeq,
				AckNum:  uint32(i),
				SackNum: uint32(g.count),
				Type:    wire.TypeFEC,
			},
			Payload: shard,
		}
	}
	return pkts, nil
}

// Decoder reconstructs missing DATA payloads from received data and parity
// shards of a group.
type Decoder struct {
	mu sync.Mutex

	groupSize    int
	parityShards int
	rs           reedsolomon.Encoder

	groups map[uint32]*decodeGroup

	recovered uint64
	failed    uint64
}

type decodeGroup struct {
	shards   [][]byte
	have     []bool
	haveData int
	haveAny  int
	count    int // number of real (non-padding) data shards, from a FEC packet's SackNum
}

// NewDecoder creates a Decoder from config, or DefaultConfig if nil.
func NewDecoder(config *Config) (*Decoder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	rs, err := reedsolomon.New(config.GroupSize, config.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: creating reed-solomon encoder: %w", err)
	}
	return &Decoder{
		groupSize:    config.GroupSize,
		parityShards: config.ParityShards,
		rs:           rs,
		groups:       make(map[uint32]*decodeGroup),
	}, nil
}

// AddDataShard records a successfully received DATA payload as a member of
// the group starting at firstSeq, at offset idx within the group.
func (d *Decoder) AddDataShard(firstSeq uint32, idx int, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.group(firstSeq)
	if idx < 0 || idx >= d.groupSize || g.have[idx] {
		return
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	g.shards[idx] = cp
	g.have[idx] = true
	g.haveData++
	g.haveAny++
}

// AddParityShard records a received TypeFEC packet and attempts
// reconstruction once enough shards (data + parity) are present. It returns
// the payloads of any data shards newly recovered, indexed by their offset
// within the group, or nil if reconstruction isn't yet possible.
func (d *Decoder) AddParityShard(pkt *wire.Packet) (recovered map[int][]byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	firstSeq := pkt.Header.SeqNum
	parityIdx := int(pkt.Header.AckNum)
	if parityIdx < 0 || parityIdx >= d.parityShards {
		return nil, fmt.Errorf("fec: parity index %d out of range for group %d", parityIdx, firstSeq)
	}

	g := d.group(firstSeq)
	g.count = int(pkt.Header.SackNum)

	slot := d.groupSize + parityIdx
	if g.have[slot] {
		return nil, nil
	}
	cp := make([]byte, len(pkt.Payload))
	copy(cp, pkt.Payload)
	g.shards[slot] = cp
	g.have[slot] = true
	g.haveAny++

	if g.haveData >= d.groupSize || g.haveAny < d.groupSize {
		return nil, nil
	}

	all := make([][]byte, d.groupSize+d.parityShards)
	copy(all, g.shards)

	if err := d.rs.Reconstruct(all); err != nil {
		d.failed++
		return nil, fmt.Errorf("fec: reconstructing group %d: %w", firstSeq, err)
	}

	recovered = make(map[int][]byte)
	for i := 0; i < d.groupSize && i < g.count; i++ {
		if !g.have[i] {
			recovered[i] = all[i]
			d.recovered++
		}
	}
	delete(d.groups, firstSeq)
	return recovered, nil
}

func (d *Decoder) group(firstSeq uint32) *decodeGroup {
	g, ok := d.groups[firstSeq]
	if !ok {
		g = &decodeGroup{
			shards: make([][]byte, d.groupSize+d.parityShards),
			have:   make([]bool, d.groupSize+d.parityShards),
		}
		d.groups[firstSeq] = g
	}
	return g
}

// Stats reports cumulative recovery counters, for metrics export.
func (d *Decoder) Stats() (recovered, failed uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recovered, d.failed
}

// CleanupBefore discards any pending decode groups keyed below firstSeq, so
// memory doesn't grow unbounded across a long transfer when a group never
// completes (e.g. too many losses for the configured parity count).
func (d *Decoder) CleanupBefore(firstSeq uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for seq := range d.groups {
		if seq < firstSeq {
			delete(d.groups, seq)
		}
	}
}
