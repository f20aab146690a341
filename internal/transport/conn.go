// Package transport provides a thin UDP datagram adapter: send/receive raw
// datagrams to/from one peer address, with a settable receive deadline. It
// knows nothing about sequence numbers, windows, or retransmission — that
// belongs to internal/reliability and internal/session.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/relaywire/filexfer/internal/wire"
	"github.com/relaywire/filexfer/internal/xferr"
)

const (
	// DefaultReadBufferSize and DefaultWriteBufferSize size the kernel
	// socket buffers; generous relative to MaxPacketSize so a burst of
	// retransmissions never gets dropped at the socket layer.
	DefaultReadBufferSize  = 1 << 20
	DefaultWriteBufferSize = 1 << 20
)

// Conn wraps a *net.UDPConn with the protocol's datagram-sized read buffer
// and a notion of a single peer address (set at Dial time, or learned from
// the first received datagram on a listening socket).
type Conn struct {
	udp  *net.UDPConn
	peer *net.UDPAddr

	readBuf []byte

	stats Statistics
}

// Statistics holds simple packet/byte counters for metrics export.
type Statistics struct {
	DatagramsSent     uint64
	DatagramsReceived uint64
	BytesSent         uint64
	BytesReceived     uint64
}

// Listen opens a UDP socket bound to the given port on all interfaces. Used
// by the receiver, which doesn't know its peer's address until the first
// START datagram arrives.
func Listen(port int) (*Conn, error) {
	addr := &net.UDPAddr{Port: port}
	udp, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, xferr.Wrap(xferr.LocalIO, fmt.Errorf("listen udp :%d: %w", port, err))
	}
	return newConn(udp, nil)
}

// Dial opens a UDP socket and fixes its peer address to hostport. Used by
// the sender, which always knows its destination upfront.
func Dial(hostport string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, xferr.Wrap(xferr.BadArgument, fmt.Errorf("resolve address %q: %w", hostport, err))
	}
	udp, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, xferr.Wrap(xferr.LocalIO, fmt.Errorf("dial udp %s: %w", hostport, err))
	}
	return newConn(udp, addr)
}

func newConn(udp *net.UDPConn, peer *net.UDPAddr) (*Conn, error) {
	if err := udp.SetReadBuffer(DefaultReadBufferSize); err != nil {
		udp.Close()
		return nil, xferr.Wrap(xferr.LocalIO, fmt.Errorf("set read buffer: %w", err))
	}
	if err := udp.SetWriteBuffer(DefaultWriteBufferSize); err != nil {
		udp.Close()
		return nil, xferr.Wrap(xferr.LocalIO, fmt.Errorf("set write buffer: %w", err))
	}
	return &Conn{
		udp:     udp,
		peer:    peer,
		readBuf: make([]byte, wire.MaxPacketSize),
	}, nil
}

// Send encodes pkt and writes it to the peer address (the one fixed at Dial
// time, or the one learned from the first datagram Recv saw on a listening
// socket).
func (c *Conn) Send(pkt *wire.Packet) error {
	data, err := wire.Encode(pkt)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	var n int
	switch {
	case c.udp.RemoteAddr() != nil:
		// A dialed socket is already connected to its peer and rejects WriteTo.
		n, err = c.udp.Write(data)
	case c.peer != nil:
		n, err = c.udp.WriteToUDP(data, c.peer)
	default:
		err = errors.New("transport: no peer address set")
	}
	if err != nil {
		return xferr.Wrap(xferr.LocalIO, fmt.Errorf("send datagram: %w", err))
	}

	c.stats.DatagramsSent++
	c.stats.BytesSent += uint64(n)
	return nil
}

// SetReadDeadline bounds how long Recv may block. A zero value clears any
// deadline, letting Recv block indefinitely (the receiver's idle posture).
func (c *Conn) SetReadDeadline(d time.Time) error {
	if err := c.udp.SetReadDeadline(d); err != nil {
		return xferr.Wrap(xferr.LocalIO, fmt.Errorf("set read deadline: %w", err))
	}
	return nil
}

// IsTimeout reports whether err is a read-deadline expiration, as opposed to
// a genuine I/O failure.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Recv blocks for the next datagram (subject to the current read deadline),
// decodes and verifies it, and returns it along with the sender's address.
// On a listening socket, if no peer address has been learned yet, it is set
// to the sender of this datagram — the protocol only ever speaks to one
// peer per session.
//
// A checksum mismatch is reported as xferr.CorruptPacket; the caller is
// expected to discard the packet and let the sender's timer drive recovery,
// per the error-handling design — it does not close the connection.
func (c *Conn) Recv() (*wire.Packet, *net.UDPAddr, error) {
	n, addr, err := c.udp.ReadFromUDP(c.readBuf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || IsTimeout(err) {
			return nil, nil, err
		}
		return nil, nil, xferr.Wrap(xferr.LocalIO, fmt.Errorf("receive datagram: %w", err))
	}

	c.stats.DatagramsReceived++
	c.stats.BytesReceived += uint64(n)

	if c.peer == nil {
		c.peer = addr
	}

	raw := c.readBuf[:n]
	if !wire.Verify(raw) {
		return nil, addr, xferr.Wrap(xferr.CorruptPacket, fmt.Errorf("checksum mismatch from %s", addr))
	}

	pkt, err := wire.Decode(raw)
	if err != nil {
		return nil, addr, xferr.Wrap(xferr.CorruptPacket, err)
	}

	return pkt, addr, nil
}

// Peer returns the currently fixed/learned peer address, or nil if none.
func (c *Conn) Peer() *net.UDPAddr {
	return c.peer
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr {
	return c.udp.LocalAddr()
}

// Statistics returns a copy of the connection's counters.
func (c *Conn) Statistics() Statistics {
	return c.stats
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.udp.Close()
}
