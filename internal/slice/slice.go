// Package slice defines the opaque byte-string type shared by every layer
// of the engine (keys, values, serialized node bodies) and the comparator
// contract used to order them.
package slice

import "bytes"

// Slice is an opaque byte string. Unlike a raw []byte it carries no
// implication about ownership: callers that need to retain a Slice past the
// lifetime of the buffer it was read from must call Clone.
type Slice []byte

// Clone returns an owned copy of s. A nil or empty Slice clones to nil.
func (s Slice) Clone() Slice {
	if len(s) == 0 {
		return nil
	}
	out := make(Slice, len(s))
	copy(out, s)
	return out
}

// Size is the number of bytes the slice occupies on the wire. It exists
// alongside len(s) so call sites read like the size accounting in the rest
// of the package (message and record byte budgets).
func (s Slice) Size() int { return len(s) }

// Equal reports whether s and o hold identical bytes.
func (s Slice) Equal(o Slice) bool { return bytes.Equal(s, o) }

// Comparator imposes a total order over Slices. It is the sole extension
// point for key ordering; every sorted structure in the engine (MsgBuf,
// LeafNode records, InnerNode pivots) is parameterized by one.
type Comparator interface {
	// Compare returns <0, 0, >0 as a < b, a == b, a > b.
	Compare(a, b Slice) int
}

// Bytewise orders slices by their raw byte values, shortest-prefix-first.
// It is the default comparator and the only one the engine ships.
type Bytewise struct{}

// Compare implements Comparator using bytes.Compare.
func (Bytewise) Compare(a, b Slice) int { return bytes.Compare(a, b) }

var _ Comparator = Bytewise{}
