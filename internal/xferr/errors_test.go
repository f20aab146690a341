package xferr

import (
	"errors"
	"testing"
)

func TestWrapIsClassifiableByKind(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(LocalIO, cause)

	if !errors.Is(err, LocalIO) {
		t.Error("expected errors.Is to classify the wrapped error as LocalIO")
	}
	if errors.Is(err, BadArgument) {
		t.Error("wrapped LocalIO error should not also classify as BadArgument")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(LocalIO, nil) != nil {
		t.Error("Wrap(kind, nil) should return nil")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{Wrap(BadArgument, errors.New("x")), 2},
		{Wrap(PeerUnreachable, errors.New("x")), 3},
		{Wrap(LocalIO, errors.New("x")), 4},
		{errors.New("unclassified"), 1},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Errorf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
