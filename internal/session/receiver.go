package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/relaywire/filexfer/internal/fec"
	"github.com/relaywire/filexfer/internal/metrics"
	"github.com/relaywire/filexfer/internal/reliability"
	"github.com/relaywire/filexfer/internal/sessionid"
	"github.com/relaywire/filexfer/internal/tracing"
	"github.com/relaywire/filexfer/internal/transport"
	"github.com/relaywire/filexfer/internal/wire"
	"github.com/relaywire/filexfer/internal/xferr"
)

// ReceiverConfig bundles a Receiver's tunables.
type ReceiverConfig struct {
	Window uint32
	FEC    *fec.Config // nil disables FEC
}

// Receiver drives the receiving half of a file transfer: accepting START,
// buffering and draining DATA in order, and acknowledging END.
type Receiver struct {
	id     sessionid.ID
	conn   *transport.Conn
	window *reliability.ReceiveWindow
	fecDec *fec.Decoder

	outFile *os.File
	outName string

	logger  *zap.Logger
	tracer  *tracing.Tracer
	metrics *metrics.Metrics

	state State
	cfg   ReceiverConfig
}

// NewReceiver prepares a Receiver awaiting a START on conn.
func NewReceiver(conn *transport.Conn, cfg ReceiverConfig, logger *zap.Logger, tracer *tracing.Tracer, m *metrics.Metrics) (*Receiver, error) {
	id, err := sessionid.New()
	if err != nil {
		return nil, xferr.Wrap(xferr.LocalIO, err)
	}

	r := &Receiver{
		id:      id,
		conn:    conn,
		logger:  logger,
		tracer:  tracer,
		metrics: m,
		state:   StateInit,
		cfg:     cfg,
	}

	if cfg.FEC != nil {
		dec, err := fec.NewDecoder(cfg.FEC)
		if err != nil {
			return nil, fmt.Errorf("session: fec decoder: %w", err)
		}
		r.fecDec = dec
	}

	return r, nil
}

// Run drives the session to completion: waits for START, drains DATA to the
// derived output file in order, and terminates on END.
func (r *Receiver) Run(ctx context.Context) (err error) {
	defer func() {
		if r.outFile != nil {
			r.outFile.Close()
		}
	}()

	log := r.logger.With(zap.String("session", r.id.String()), zap.String("role", "receiver"))
	ctx, span := r.tracer.StartSession(ctx, r.id.String(), "receiver", "")
	defer func() {
		if err != nil {
			r.tracer.RecordError(ctx, err)
		}
		span.End()
	}()

	log.Info("waiting for transfer")

	// The receiver may block indefinitely between packets while the session
	// is open; only the sender runs on a bounded receive deadline.
	if err := r.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	// Once CLOSED, a retransmitted END can still arrive if the first END ACK
	// this receiver sent was itself lost: the sender keeps retransmitting
	// END under its own RTO discipline, and nothing else will ever re-ACK it
	// if this loop has already returned. closeDeadline switches the loop to
	// a bounded poll for closeGracePeriod after the first CLOSED transition
	// instead of returning immediately.
	var closeDeadline time.Time

	for closeDeadline.IsZero() || time.Now().Before(closeDeadline) {
		if !closeDeadline.IsZero() {
			if err := r.conn.SetReadDeadline(time.Now().Add(closePollInterval)); err != nil {
				return err
			}
		}

		pkt, _, recvErr := r.conn.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, xferr.CorruptPacket) {
				log.Debug("discarding corrupt packet")
				if r.metrics != nil {
					r.metrics.CorruptPackets.Inc()
				}
				continue
			}
			if !closeDeadline.IsZero() && transport.IsTimeout(recvErr) {
				continue
			}
			return recvErr
		}
		if r.metrics != nil {
			r.metrics.PacketsReceived.WithLabelValues(pkt.Header.Type.String()).Inc()
		}

		if err := r.handlePacket(ctx, log, pkt); err != nil {
			return err
		}
		if r.state == StateClosed && closeDeadline.IsZero() {
			closeDeadline = time.Now().Add(closeGracePeriod)
		}
	}

	log.Info("transfer complete")
	return nil
}

func (r *Receiver) handlePacket(ctx context.Context, log *zap.Logger, pkt *wire.Packet) error {
	switch pkt.Header.Type {
	case wire.TypeStart:
		return r.handleStart(log, pkt)
	case wire.TypeData:
		return r.handleData(log, pkt)
	case wire.TypeFEC:
		return r.handleFEC(log, pkt)
	case wire.TypeEnd:
		return r.handleEnd(ctx, log, pkt)
	default:
		return nil
	}
}

// handleStart opens the derived output file on the first START, and re-ACKs
// duplicates without reopening it.
func (r *Receiver) handleStart(log *zap.Logger, pkt *wire.Packet) error {
	if r.state != StateInit {
		// A retransmitted START after ESTABLISHED is re-ACKed to unblock a
		// peer whose ACK was lost; it does not reopen the file.
		if r.state == StateEstablished {
			return r.ack(r.window.BaseSeqNum(), r.window.BaseSeqNum())
		}
		return nil
	}

	name := string(pkt.Payload)
	outName := name + ".recv"
	if dir := filepath.Dir(outName); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return xferr.Wrap(xferr.LocalIO, fmt.Errorf("create output directory %s: %w", dir, err))
		}
	}

	f, err := os.Create(outName)
	if err != nil {
		return xferr.Wrap(xferr.LocalIO, fmt.Errorf("create output file %s: %w", outName, err))
	}

	base := pkt.Header.SeqNum + 1
	r.outFile = f
	r.outName = outName
	r.window = reliability.NewReceiveWindow(base, r.windowSize())
	r.state = StateEstablished

	log.Info("session established", zap.String("output", outName))
	return r.ack(base, base)
}

// handleData applies the SACK policy and drains any newly in-order payloads
// to the output file.
func (r *Receiver) handleData(log *zap.Logger, pkt *wire.Packet) error {
	if r.state != StateEstablished {
		return nil
	}

	if r.fecDec != nil {
		firstSeq, idx := r.fecGroup(pkt.Header.SeqNum)
		r.fecDec.AddDataShard(firstSeq, idx, pkt.Payload)
	}

	// AddPacket's ackNum/sackNum reply covers every status (accepted,
	// duplicate, out-of-window) uniformly; only StatusAccepted ever yields
	// bytes to drain.
	ordered, ackNum, sackNum, status := r.window.AddPacket(pkt)
	if status == reliability.StatusOutOfWindow {
		log.Debug("discarding out-of-window packet", zap.Uint32("seq", pkt.Header.SeqNum))
	}

	for _, p := range ordered {
		if _, err := r.outFile.Write(p.Payload); err != nil {
			return xferr.Wrap(xferr.LocalIO, fmt.Errorf("write %s: %w", r.outName, err))
		}
	}
	if r.metrics != nil {
		r.metrics.WindowOccupancy.Set(float64(r.window.BufferedCount()))
	}

	if r.fecDec != nil && len(ordered) > 0 {
		// Once the window has delivered past a group's start, any FEC group
		// keyed below it can never complete (its data shards are already
		// delivered or gone) — drop it so groups abandoned to loss beyond the
		// parity count don't accumulate for the life of the session.
		firstSeq, _ := r.fecGroup(r.window.BaseSeqNum())
		r.fecDec.CleanupBefore(firstSeq)
	}

	return r.ack(ackNum, sackNum)
}

// handleFEC feeds a parity shard to the decoder and writes any payloads
// newly recovered to the window as if they had arrived as DATA.
func (r *Receiver) handleFEC(log *zap.Logger, pkt *wire.Packet) error {
	if r.fecDec == nil || r.state != StateEstablished {
		return nil
	}

	recovered, err := r.fecDec.AddParityShard(pkt)
	if err != nil {
		log.Debug("fec reconstruction failed", zap.Error(err))
		if r.metrics != nil {
			r.metrics.FECFailed.Inc()
		}
		return nil
	}
	if len(recovered) == 0 {
		return nil
	}
	if r.metrics != nil {
		r.metrics.FECRecovered.Add(float64(len(recovered)))
	}

	for idx, payload := range recovered {
		synth := &wire.Packet{
			Header:  wire.Header{SeqNum: pkt.Header.SeqNum + uint32(idx), Type: wire.TypeData},
			Payload: payload,
		}
		if err := r.handleData(log, synth); err != nil {
			return err
		}
	}
	return nil
}

// handleEnd acknowledges END, closes the output file, and terminates the
// session. A duplicate END (the sender's ACK was lost) is re-ACKed without
// reopening or re-closing anything.
func (r *Receiver) handleEnd(ctx context.Context, log *zap.Logger, pkt *wire.Packet) error {
	if r.state == StateClosed {
		return r.ack(pkt.Header.SeqNum+1, pkt.Header.SeqNum+1)
	}
	if r.state != StateEstablished {
		return nil
	}

	if err := r.ack(pkt.Header.SeqNum+1, pkt.Header.SeqNum+1); err != nil {
		return err
	}
	if err := r.outFile.Close(); err != nil {
		return xferr.Wrap(xferr.LocalIO, fmt.Errorf("close %s: %w", r.outName, err))
	}
	r.outFile = nil
	r.state = StateClosed
	r.tracer.Event(ctx, "end_received")
	log.Debug("received END", zap.Uint32("seq", pkt.Header.SeqNum))
	return nil
}

func (r *Receiver) ack(ackNum, sackNum uint32) error {
	pkt := &wire.Packet{Header: wire.Header{Type: wire.TypeACK, AckNum: ackNum, SackNum: sackNum}}
	if err := r.conn.Send(pkt); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.PacketsSent.WithLabelValues(wire.TypeACK.String()).Inc()
	}
	return nil
}

func (r *Receiver) windowSize() uint32 {
	if r.cfg.Window == 0 {
		return reliability.DefaultWindow
	}
	return r.cfg.Window
}

// fecGroup maps a DATA packet's sequence number to its FEC group's starting
// sequence number and offset within that group. DATA sequence numbers start
// at 1 (START always consumes seq 0), and the encoder groups them into fixed
// runs of GroupSize in admission order, so both ends can derive group
// boundaries without carrying them on the wire.
func (r *Receiver) fecGroup(seq uint32) (firstSeq uint32, idx int) {
	groupSize := uint32(fec.DefaultGroupSize)
	if r.cfg.FEC != nil && r.cfg.FEC.GroupSize > 0 {
		groupSize = uint32(r.cfg.FEC.GroupSize)
	}
	offset := seq - 1
	firstSeq = 1 + (offset/groupSize)*groupSize
	idx = int(offset % groupSize)
	return firstSeq, idx
}
