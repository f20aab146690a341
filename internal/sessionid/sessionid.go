// Package sessionid provides a short random identifier used only for log and
// trace correlation. It never appears on the wire — the wire format's only
// identifier is the sequence number (see internal/wire).
package sessionid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ID is an 8-byte random identifier.
type ID [8]byte

// New generates a new ID using crypto/rand.
func New() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, fmt.Errorf("sessionid: failed to generate id: %w", err)
	}
	return id, nil
}

// String returns the hex representation of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}
