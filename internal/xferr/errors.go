// Package xferr defines the transport's error taxonomy. Every fatal
// condition the sender or receiver can hit is classifiable to one of these
// sentinel kinds with errors.Is, independent of the underlying wrapped error.
package xferr

import "errors"

// Kind classifies a transport-level failure.
type Kind error

var (
	// BadArgument is returned for malformed CLI input: unparseable address,
	// port out of range, missing flags.
	BadArgument Kind = errors.New("bad argument")

	// LocalIO is returned for local file or socket failures: open, read,
	// write, bind.
	LocalIO Kind = errors.New("local I/O error")

	// CorruptPacket marks a packet whose checksum did not verify. It is
	// never fatal by itself: callers discard the packet and let the
	// sender's retransmission timer drive recovery.
	CorruptPacket Kind = errors.New("corrupt packet")

	// OutOfWindow marks a packet whose sequence number falls outside the
	// receiver's admissible window. Not fatal: the receiver re-ACKs with
	// its current ack_num.
	OutOfWindow Kind = errors.New("sequence number outside window")

	// PeerUnreachable is returned when the retransmission retry bound is
	// exceeded with no progress.
	PeerUnreachable Kind = errors.New("peer unreachable")
)

// Wrap annotates err with kind so errors.Is(wrapped, kind) succeeds while
// errors.Unwrap still reaches the original cause.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: kind, cause: err}
}

type wrapped struct {
	kind  Kind
	cause error
}

func (w *wrapped) Error() string { return w.kind.Error() + ": " + w.cause.Error() }
func (w *wrapped) Unwrap() error { return w.cause }
func (w *wrapped) Is(target error) bool { return target == error(w.kind) }

// ExitCode maps a classified error to the process exit code documented in
// the CLI surface (0 on success, non-zero otherwise; the exact non-zero
// value distinguishes argument errors from I/O and protocol failures).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, BadArgument):
		return 2
	case errors.Is(err, PeerUnreachable):
		return 3
	case errors.Is(err, LocalIO):
		return 4
	default:
		return 1
	}
}
