package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/relaywire/filexfer/internal/congestion"
	"github.com/relaywire/filexfer/internal/fec"
	"github.com/relaywire/filexfer/internal/metrics"
	"github.com/relaywire/filexfer/internal/reliability"
	"github.com/relaywire/filexfer/internal/sessionid"
	"github.com/relaywire/filexfer/internal/tracing"
	"github.com/relaywire/filexfer/internal/transport"
	"github.com/relaywire/filexfer/internal/wire"
	"github.com/relaywire/filexfer/internal/xferr"
)

// SenderConfig bundles a Sender's tunables, decoupled from internal/config
// so callers can construct a Sender without a YAML file.
type SenderConfig struct {
	InitialWindow     uint32
	CongestionEnabled bool
	WMax              uint32
	RTOMin            time.Duration // <= 0 keeps reliability.MinRTO
	RTOMax            time.Duration // <= 0 keeps reliability.MaxRTO
	FEC               *fec.Config   // nil disables FEC
	Progress          io.Writer     // nil disables progress reporting
}

// Sender drives the sending half of a file transfer: START, the DATA
// admission/retransmission loop, and END teardown.
type Sender struct {
	id     sessionid.ID
	conn   *transport.Conn
	file   *os.File
	reader io.Reader
	name   string
	window *reliability.SendWindow
	cc     *congestion.Controller
	fecEnc *fec.Encoder
	pace   *pacer

	logger  *zap.Logger
	tracer  *tracing.Tracer
	metrics *metrics.Metrics

	state State
	eof   bool
}

// NewSender opens path for reading and prepares a Sender to transmit it over
// conn. The filename recorded in the START packet is path's base name, not
// its full path — the receiver only ever sees a bare name.
func NewSender(conn *transport.Conn, path string, cfg SenderConfig, logger *zap.Logger, tracer *tracing.Tracer, m *metrics.Metrics) (*Sender, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xferr.Wrap(xferr.LocalIO, fmt.Errorf("open %s: %w", path, err))
	}

	id, err := sessionid.New()
	if err != nil {
		f.Close()
		return nil, xferr.Wrap(xferr.LocalIO, err)
	}

	window := cfg.InitialWindow
	if window == 0 {
		window = reliability.DefaultWindow
	}

	var reader io.Reader = f
	if cfg.Progress != nil {
		reader = io.TeeReader(f, cfg.Progress)
	}

	s := &Sender{
		id:      id,
		conn:    conn,
		file:    f,
		reader:  reader,
		name:    filepath.Base(path),
		window:  reliability.NewSendWindow(0, window),
		logger:  logger,
		tracer:  tracer,
		metrics: m,
		state:   StateInit,
	}
	s.window.SetRTOBounds(cfg.RTOMin, cfg.RTOMax)

	if cfg.CongestionEnabled {
		s.cc = congestion.New()
		s.pace = newPacer()
		if cfg.WMax > 0 {
			s.cc.SetWMax(float64(cfg.WMax))
		}
	}
	if cfg.FEC != nil {
		enc, err := fec.NewEncoder(cfg.FEC)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("session: fec encoder: %w", err)
		}
		s.fecEnc = enc
	}

	return s, nil
}

// Run drives the session to completion: sends START, streams the file as
// DATA, sends END, and returns once the peer's final ACK lands or the
// bounded retry count is exceeded.
func (s *Sender) Run(ctx context.Context) (err error) {
	defer s.file.Close()

	log := s.logger.With(zap.String("session", s.id.String()), zap.String("role", "sender"))
	ctx, span := s.tracer.StartSession(ctx, s.id.String(), "sender", s.name)
	defer func() {
		if err != nil {
			s.tracer.RecordError(ctx, err)
		}
		span.End()
	}()

	log.Info("starting transfer", zap.String("file", s.name))

	startPkt := &wire.Packet{Header: wire.Header{Type: wire.TypeStart}, Payload: []byte(s.name)}
	s.window.Admit(startPkt)
	if err := s.send(startPkt); err != nil {
		return err
	}

	for s.state != StateClosed {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(receiveDeadline)); err != nil {
			return xferr.Wrap(xferr.LocalIO, err)
		}

		pkt, _, recvErr := s.conn.Recv()
		switch {
		case recvErr == nil:
			s.handleACK(ctx, log, pkt)
		case transport.IsTimeout(recvErr):
			// Expected: interleave retransmission/admission checks below.
		case errors.Is(recvErr, xferr.CorruptPacket):
			log.Debug("discarding corrupt packet")
			if s.metrics != nil {
				s.metrics.CorruptPackets.Inc()
			}
		default:
			return recvErr
		}

		if err := s.admitData(log); err != nil {
			return err
		}
		s.retransmitExpired(ctx, log)
		s.reportMetrics()

		if s.window.PeerUnreachable() {
			return xferr.Wrap(xferr.PeerUnreachable, fmt.Errorf("no progress after %d consecutive RTO expirations", reliability.PeerUnreachableThreshold))
		}

		if err := s.maybeAdvance(log); err != nil {
			return err
		}
	}

	log.Info("transfer complete")
	return nil
}

// handleACK applies a received ACK to the send window and congestion
// controller. Non-ACK packets are ignored: the sender never expects DATA.
func (s *Sender) handleACK(ctx context.Context, log *zap.Logger, pkt *wire.Packet) {
	if pkt.Header.Type != wire.TypeACK {
		return
	}
	if s.metrics != nil {
		s.metrics.PacketsReceived.WithLabelValues(pkt.Header.Type.String()).Inc()
	}

	_, advanced := s.window.HandleACK(pkt.Header.AckNum, pkt.Header.SackNum)
	if advanced {
		if s.cc != nil {
			s.cc.OnAck()
		}
		if s.state == StateInit {
			s.state = StateEstablished
			s.tracer.Event(ctx, "start_acked")
			log.Debug("session established")
		}
		return
	}

	if s.window.DuplicateACKCount() >= reliability.FastRetransmitThreshold {
		if retransPkt, ok := s.window.FastRetransmit(); ok {
			log.Debug("fast retransmit", zap.Uint32("seq", retransPkt.Header.SeqNum))
			s.tracer.Event(ctx, "fast_retransmit")
			if s.cc != nil {
				s.cc.OnThirdDuplicateAck()
			}
			if s.metrics != nil {
				s.metrics.FastRetransmits.Inc()
				s.metrics.PacketsRetransmitted.Inc()
			}
			_ = s.send(retransPkt)
		}
	}
}

// admitData reads up to one MaxPayload chunk from the file and admits it as
// a new DATA packet, while the window has room and the session is
// ESTABLISHED. EOF stops further admission but doesn't itself trigger END —
// that happens once every admitted DATA packet is ACKed (maybeAdvance).
func (s *Sender) admitData(log *zap.Logger) error {
	if s.state != StateEstablished || s.eof {
		return nil
	}
	if s.cc != nil {
		window := s.cc.Window()
		s.window.SetWindow(window)
		s.pace.Refresh(window, s.window.SRTT())
	}

	for s.window.CanAdmit() {
		if s.pace != nil && !s.pace.Allow() {
			break
		}
		buf := make([]byte, wire.MaxPayload)
		n, err := s.reader.Read(buf)
		if n > 0 {
			pkt := &wire.Packet{Header: wire.Header{Type: wire.TypeData}, Payload: buf[:n]}
			seq := s.window.Admit(pkt)
			pkt.Header.SeqNum = seq
			if err := s.send(pkt); err != nil {
				return err
			}
			if s.fecEnc != nil {
				parity, ferr := s.fecEnc.AddData(pkt)
				if ferr != nil {
					return fmt.Errorf("session: fec encode: %w", ferr)
				}
				for _, p := range parity {
					_ = s.send(p)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				log.Debug("reached end of file")
				if s.fecEnc != nil {
					if parity, ferr := s.fecEnc.Flush(); ferr == nil {
						for _, p := range parity {
							_ = s.send(p)
						}
					}
				}
				return nil
			}
			return xferr.Wrap(xferr.LocalIO, fmt.Errorf("read %s: %w", s.name, err))
		}
	}
	return nil
}

// retransmitExpired resends any in-flight packet whose RTO has elapsed.
func (s *Sender) retransmitExpired(ctx context.Context, log *zap.Logger) {
	expired := s.window.DetectTimeouts(time.Now())
	if len(expired) == 0 {
		return
	}
	if s.cc != nil {
		s.cc.OnRTO()
	}
	s.tracer.Event(ctx, "rto_expiry")
	if s.metrics != nil {
		s.metrics.RTOExpirations.Inc()
		s.metrics.PacketsRetransmitted.Add(float64(len(expired)))
	}
	for _, pkt := range expired {
		log.Debug("timeout retransmit", zap.Uint32("seq", pkt.Header.SeqNum))
		_ = s.send(pkt)
	}
}

// reportMetrics publishes the current RTO estimator and congestion-control
// state. Called once per event-loop tick so the /metrics endpoint reflects
// live values rather than the zero value the gauges start at.
func (s *Sender) reportMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.SRTTSeconds.Set(s.window.SRTT().Seconds())
	s.metrics.RTTVARSeconds.Set(s.window.RTTVAR().Seconds())
	s.metrics.RTOSeconds.Set(s.window.RTO().Seconds())
	s.metrics.WindowOccupancy.Set(float64(s.window.NextSeqNum() - s.window.BaseSeqNum()))
	if s.cc != nil {
		s.metrics.Cwnd.Set(s.cc.Cwnd())
		s.metrics.Ssthresh.Set(s.cc.Ssthresh())
	}
}

// maybeAdvance moves ESTABLISHED -> CLOSING once EOF is reached and every
// admitted DATA packet is ACKed, and CLOSING -> CLOSED once END is ACKed.
func (s *Sender) maybeAdvance(log *zap.Logger) error {
	switch s.state {
	case StateEstablished:
		if s.eof && s.window.Done() {
			endPkt := &wire.Packet{Header: wire.Header{Type: wire.TypeEnd}}
			seq := s.window.Admit(endPkt)
			endPkt.Header.SeqNum = seq
			if err := s.send(endPkt); err != nil {
				return err
			}
			s.state = StateClosing
			log.Debug("sent END", zap.Uint32("seq", seq))
		}
	case StateClosing:
		if s.window.Done() {
			s.state = StateClosed
		}
	}
	return nil
}

func (s *Sender) send(pkt *wire.Packet) error {
	if err := s.conn.Send(pkt); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PacketsSent.WithLabelValues(pkt.Header.Type.String()).Inc()
	}
	return nil
}
