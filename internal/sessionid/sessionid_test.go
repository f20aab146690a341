package sessionid

import "testing"

func TestNewProducesDistinctNonZeroIDs(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.IsZero() || b.IsZero() {
		t.Error("New should never produce the zero ID")
	}
	if a == b {
		t.Error("two calls to New produced the same ID")
	}
}

func TestStringIsHexEncoded(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := id.String()
	if len(s) != len(id)*2 {
		t.Errorf("String() length = %d, want %d", len(s), len(id)*2)
	}
}
