package fec

import (
	"bytes"
	"testing"

	"github.com/relaywire/filexfer/internal/wire"
)

func dataPkt(seq uint32, payload string) *wire.Packet {
	return &wire.Packet{Header: wire.Header{SeqNum: seq, Type: wire.TypeData}, Payload: []byte(payload)}
}

func TestEncoderProducesParityOnceGroupFills(t *testing.T) {
	enc, err := NewEncoder(&Config{GroupSize: 4, ParityShards: 2})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	payloads := []string{"packet1", "packet2", "packet3", "packet4"}
	var parity []*wire.Packet
	for i, p := range payloads {
		out, err := enc.AddData(dataPkt(uint32(i+1), p))
		if err != nil {
			t.Fatalf("AddData: %v", err)
		}
		if out != nil {
			parity = out
		}
	}

	if len(parity) != 2 {
		t.Fatalf("expected 2 parity packets, got %d", len(parity))
	}
	for _, p := range parity {
		if p.Header.Type != wire.TypeFEC {
			t.Errorf("parity packet type = %v, want TypeFEC", p.Header.Type)
		}
		if p.Header.SeqNum != 1 {
			t.Errorf("parity packet group seq = %d, want 1", p.Header.SeqNum)
		}
	}
}

func TestDecoderRecoversFromTwoLosses(t *testing.T) {
	cfg := &Config{GroupSize: 4, ParityShards: 2}
	enc, _ := NewEncoder(cfg)
	dec, err := NewDecoder(cfg)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	payloads := []string{"packet1", "packet2", "packet3", "packet4"}
	var parity []*wire.Packet
	for i, p := range payloads {
		out, err := enc.AddData(dataPkt(uint32(i+1), p))
		if err != nil {
			t.Fatalf("AddData: %v", err)
		}
		if out != nil {
			parity = out
		}
	}
	if parity == nil {
		t.Fatal("group should have completed")
	}

	// Lose packets 2 and 4 (indices 1 and 3); deliver 1, 3, and both parity.
	dec.AddDataShard(1, 0, []byte(payloads[0]))
	dec.AddDataShard(1, 2, []byte(payloads[2]))

	var recovered map[int][]byte
	for _, p := range parity {
		r, err := dec.AddParityShard(p)
		if err != nil {
			t.Fatalf("AddParityShard: %v", err)
		}
		if r != nil {
			recovered = r
		}
	}

	if recovered == nil {
		t.Fatal("expected reconstruction to succeed with 2 parity shards covering 2 losses")
	}
	if got := recovered[1]; !bytes.Equal(trimPad(got, len(payloads[1])), []byte(payloads[1])) {
		t.Errorf("recovered[1] = %q, want %q", got, payloads[1])
	}
	if got := recovered[3]; !bytes.Equal(trimPad(got, len(payloads[3])), []byte(payloads[3])) {
		t.Errorf("recovered[3] = %q, want %q", got, payloads[3])
	}
}

func TestDecoderWithoutEnoughShardsDoesNotReconstruct(t *testing.T) {
	cfg := &Config{GroupSize: 4, ParityShards: 2}
	enc, _ := NewEncoder(cfg)
	dec, _ := NewDecoder(cfg)

	payloads := []string{"packet1", "packet2", "packet3", "packet4"}
	var parity []*wire.Packet
	for i, p := range payloads {
		out, _ := enc.AddData(dataPkt(uint32(i+1), p))
		if out != nil {
			parity = out
		}
	}

	// Only one data shard and one parity shard arrive: three losses, but
	// only two parity shards configured. Reconstruction must not fire.
	dec.AddDataShard(1, 0, []byte(payloads[0]))
	r, err := dec.AddParityShard(parity[0])
	if err != nil {
		t.Fatalf("AddParityShard: %v", err)
	}
	if r != nil {
		t.Error("reconstruction should not succeed with fewer shards than the data-shard count")
	}
}

func TestEncoderFlushHandlesPartialGroup(t *testing.T) {
	enc, err := NewEncoder(&Config{GroupSize: 4, ParityShards: 2})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	enc.AddData(dataPkt(1, "only one"))
	parity, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(parity) != 2 {
		t.Fatalf("expected 2 parity packets from flush, got %d", len(parity))
	}
}

func trimPad(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
