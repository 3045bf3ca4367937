package node

import (
	"encoding/binary"
	"sort"

	"github.com/cascadadb/cascadadb/internal/msg"
	"github.com/cascadadb/cascadadb/internal/slice"
)

// Record is a persisted key/value pair stored sorted in a LeafNode (§3).
type Record struct {
	Key   slice.Slice
	Value slice.Slice
}

// Size is the wire size of the record: 4 + |key| + 4 + |value|.
func (r Record) Size() int { return 4 + len(r.Key) + 4 + len(r.Value) }

// LeafLimits bounds when a leaf must split, mirroring leaf_node_record_count
// and leaf_node_page_size from Options.
type LeafLimits struct {
	RecordCount int
	PageSize    int
}

// SplitResult is returned upward by Cascade when a leaf split occurred, so
// the parent can add_pivot for the new sibling.
type SplitResult struct {
	PromotedKey      slice.Slice
	NewLeaf          *LeafNode
	OldRightSibling  NID // the leaf's former right sibling, whose left link must be patched to NewLeaf
}

// LeafNode holds sorted records and links to adjacent leaves (§3, §4.3).
type LeafNode struct {
	Base

	Records      []Record
	LeftSibling  NID
	RightSibling NID

	cmp slice.Comparator
}

// NewLeafNode returns an empty leaf ordered by cmp.
func NewLeafNode(nid NID, tbn uint32, cmp slice.Comparator) *LeafNode {
	return &LeafNode{Base: NewBase(nid, tbn), cmp: cmp}
}

func (l *LeafNode) Kind() Kind { return KindLeaf }

func (l *LeafNode) EstimatedSize() int {
	n := 16 + 4 // skeleton siblings + body record count
	for _, r := range l.Records {
		n += r.Size()
	}
	return n
}

func (l *LeafNode) lowerBound(k slice.Slice) int {
	return sort.Search(len(l.Records), func(i int) bool {
		return l.cmp.Compare(l.Records[i].Key, k) >= 0
	})
}

// Find binary-searches the record list (§4.3 find). Callers must first
// consult ancestor message buffers; this only looks at persisted records.
func (l *LeafNode) Find(k slice.Slice) (slice.Slice, bool) {
	i := l.lowerBound(k)
	if i < len(l.Records) && l.cmp.Compare(l.Records[i].Key, k) == 0 {
		return l.Records[i].Value, true
	}
	return nil, false
}

// Cascade merges incoming (sorted, upsert-deduplicated) into the record
// list, applying Put as upsert and Del as removal (§4.3). If the leaf
// becomes empty it is marked dead. If it now exceeds limits it splits,
// returning the promoted key and new sibling.
func (l *LeafNode) Cascade(incoming *msg.MsgBuf, limits LeafLimits, allocLeafID func() NID) (*SplitResult, bool) {
	merged := make([]Record, 0, len(l.Records)+incoming.Count())
	i, j := 0, 0
	recs := l.Records
	msgs := incoming.Messages()

	for i < len(recs) || j < len(msgs) {
		switch {
		case j >= len(msgs):
			merged = append(merged, recs[i])
			i++
		case i >= len(recs):
			if msgs[j].Type == msg.Put {
				merged = append(merged, Record{Key: msgs[j].Key, Value: msgs[j].Value})
			}
			j++
		default:
			c := l.cmp.Compare(recs[i].Key, msgs[j].Key)
			switch {
			case c < 0:
				merged = append(merged, recs[i])
				i++
			case c > 0:
				if msgs[j].Type == msg.Put {
					merged = append(merged, Record{Key: msgs[j].Key, Value: msgs[j].Value})
				}
				j++
			default: // same key: message wins
				if msgs[j].Type == msg.Put {
					merged = append(merged, Record{Key: msgs[j].Key, Value: msgs[j].Value})
				}
				i++
				j++
			}
		}
	}

	l.Records = merged
	l.SetDirty(true)

	if len(l.Records) == 0 {
		l.SetDead(true)
		return nil, true
	}

	if len(l.Records) <= limits.RecordCount && l.EstimatedSize() <= limits.PageSize {
		return nil, false
	}

	return l.split(allocLeafID), false
}

func (l *LeafNode) split(allocLeafID func() NID) *SplitResult {
	mid := len(l.Records) / 2
	upper := l.Records[mid:]

	newLeaf := NewLeafNode(allocLeafID(), l.TBN(), l.cmp)
	newLeaf.Records = append([]Record(nil), upper...)
	newLeaf.SetDirty(true)

	oldRight := l.RightSibling
	newLeaf.LeftSibling = l.NID()
	newLeaf.RightSibling = oldRight

	l.Records = l.Records[:mid]
	l.RightSibling = newLeaf.NID()

	return &SplitResult{
		PromotedKey:     newLeaf.Records[0].Key,
		NewLeaf:         newLeaf,
		OldRightSibling: oldRight,
	}
}

func (l *LeafNode) encodeSkeleton() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:], uint64(l.LeftSibling))
	binary.LittleEndian.PutUint64(buf[8:], uint64(l.RightSibling))
	return buf
}

func decodeLeafSkeleton(l *LeafNode, skeleton []byte) error {
	if len(skeleton) < 16 {
		return errShort("leaf skeleton")
	}
	l.LeftSibling = NID(binary.LittleEndian.Uint64(skeleton[0:]))
	l.RightSibling = NID(binary.LittleEndian.Uint64(skeleton[8:]))
	return nil
}

func (l *LeafNode) encodeBody() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(l.Records)))
	for _, r := range l.Records {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(r.Key)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, r.Key...)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(r.Value)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, r.Value...)
	}
	return buf
}

func decodeLeafBody(l *LeafNode, body []byte) error {
	if len(body) < 4 {
		return errShort("leaf body count")
	}
	count := binary.LittleEndian.Uint32(body)
	off := 4
	recs := make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		key, n, err := readBytesField(body[off:])
		if err != nil {
			return err
		}
		off += n
		val, n, err := readBytesField(body[off:])
		if err != nil {
			return err
		}
		off += n
		recs = append(recs, Record{Key: key, Value: val})
	}
	l.Records = recs
	return nil
}
