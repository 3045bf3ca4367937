// Package msg implements Message and MsgBuf, the pending-write unit that
// flows from the log through inner node buffers down to leaves.
//
// Grounded on src/tree/msg.cpp (Msg::read_from/write_to, MsgBuf::write/
// append/find) from the original CascaDB source; the wire layout matches
// §3 of the design (1-byte type, 4-byte length-prefixed key, and for Put
// only a 4-byte length-prefixed value).
package msg

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cascadadb/cascadadb/internal/slice"
)

// Type distinguishes a Put from a Del message.
type Type uint8

const (
	Put Type = iota
	Del
)

func (t Type) String() string {
	if t == Put {
		return "put"
	}
	return "del"
}

// Message is a single pending write: a Put carries a value, a Del does not.
type Message struct {
	Type  Type
	Key   slice.Slice
	Value slice.Slice // nil for Del
}

// Size returns the serialized byte length: 1 (type) + 4 + |key| plus,
// for Put, 4 + |value|.
func (m Message) Size() int {
	n := 1 + 4 + len(m.Key)
	if m.Type == Put {
		n += 4 + len(m.Value)
	}
	return n
}

// Clone returns a deep copy so the message outlives the buffer it was
// parsed from.
func (m Message) Clone() Message {
	return Message{Type: m.Type, Key: m.Key.Clone(), Value: m.Value.Clone()}
}

// WriteTo appends the serialized form of m to dst and returns the result.
func (m Message) WriteTo(dst []byte) []byte {
	dst = append(dst, byte(m.Type))
	dst = appendLenPrefixed(dst, m.Key)
	if m.Type == Put {
		dst = appendLenPrefixed(dst, m.Value)
	}
	return dst
}

func appendLenPrefixed(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, b...)
	return dst
}

// ReadMessage parses one Message from the front of src, returning the
// message and the number of bytes consumed.
func ReadMessage(src []byte) (Message, int, error) {
	if len(src) < 1 {
		return Message{}, 0, fmt.Errorf("msg: short buffer reading type")
	}
	typ := Type(src[0])
	off := 1

	key, n, err := readLenPrefixed(src[off:])
	if err != nil {
		return Message{}, 0, fmt.Errorf("msg: reading key: %w", err)
	}
	off += n

	m := Message{Type: typ, Key: key}
	if typ == Put {
		val, n, err := readLenPrefixed(src[off:])
		if err != nil {
			return Message{}, 0, fmt.Errorf("msg: reading value: %w", err)
		}
		off += n
		m.Value = val
	}
	return m, off, nil
}

func readLenPrefixed(src []byte) (slice.Slice, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("short buffer reading length prefix")
	}
	n := binary.LittleEndian.Uint32(src)
	if int(n) > len(src)-4 {
		return nil, 0, fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, len(src)-4)
	}
	return slice.Slice(src[4 : 4+n]), 4 + int(n), nil
}

// MsgBuf is a sorted, deduplicated buffer of pending Messages: inserting a
// message whose key already exists replaces the prior message in place
// (upsert semantics), preserving sort order under cmp.
type MsgBuf struct {
	cmp  slice.Comparator
	msgs []Message
	size int
}

// NewMsgBuf returns an empty buffer ordered by cmp.
func NewMsgBuf(cmp slice.Comparator) *MsgBuf {
	return &MsgBuf{cmp: cmp}
}

// Count returns the number of messages currently buffered.
func (b *MsgBuf) Count() int { return len(b.msgs) }

// Size returns the sum of every buffered message's Size().
func (b *MsgBuf) Size() int { return b.size }

// Empty reports whether the buffer holds no messages.
func (b *MsgBuf) Empty() bool { return len(b.msgs) == 0 }

// lowerBound returns the index of the first message whose key is >= k.
func (b *MsgBuf) lowerBound(k slice.Slice) int {
	return sort.Search(len(b.msgs), func(i int) bool {
		return b.cmp.Compare(b.msgs[i].Key, k) >= 0
	})
}

// Write inserts m, replacing any existing message for the same key
// (testable property: MsgBuf upsert, spec §8 invariant 10).
func (b *MsgBuf) Write(m Message) {
	i := b.lowerBound(m.Key)
	if i < len(b.msgs) && b.cmp.Compare(b.msgs[i].Key, m.Key) == 0 {
		b.size -= b.msgs[i].Size()
		b.msgs[i] = m
		b.size += m.Size()
		return
	}
	b.msgs = append(b.msgs, Message{})
	copy(b.msgs[i+1:], b.msgs[i:])
	b.msgs[i] = m
	b.size += m.Size()
}

// Append merges the messages of other into b, applying upsert semantics
// for any keys that collide. other is left unchanged.
func (b *MsgBuf) Append(other *MsgBuf) {
	for _, m := range other.msgs {
		b.Write(m)
	}
}

// Find returns the message for key k and true if present.
func (b *MsgBuf) Find(k slice.Slice) (Message, bool) {
	i := b.lowerBound(k)
	if i < len(b.msgs) && b.cmp.Compare(b.msgs[i].Key, k) == 0 {
		return b.msgs[i], true
	}
	return Message{}, false
}

// Messages returns the buffered messages in sorted order. The returned
// slice must not be mutated by the caller.
func (b *MsgBuf) Messages() []Message { return b.msgs }

// Clear empties the buffer, releasing its message storage.
func (b *MsgBuf) Clear() {
	b.msgs = nil
	b.size = 0
}

// Serialize writes count(4) followed by each message's wire form.
func (b *MsgBuf) Serialize(dst []byte) []byte {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(b.msgs)))
	dst = append(dst, countBuf[:]...)
	for _, m := range b.msgs {
		dst = m.WriteTo(dst)
	}
	return dst
}

// Deserialize replaces b's contents by parsing src, returning the number
// of bytes consumed.
func (b *MsgBuf) Deserialize(src []byte) (int, error) {
	if len(src) < 4 {
		return 0, fmt.Errorf("msgbuf: short buffer reading count")
	}
	count := binary.LittleEndian.Uint32(src)
	off := 4
	b.msgs = make([]Message, 0, count)
	b.size = 0
	for i := uint32(0); i < count; i++ {
		m, n, err := ReadMessage(src[off:])
		if err != nil {
			return 0, fmt.Errorf("msgbuf: message %d: %w", i, err)
		}
		off += n
		b.msgs = append(b.msgs, m)
		b.size += m.Size()
	}
	return off, nil
}
