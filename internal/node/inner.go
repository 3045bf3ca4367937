package node

import (
	"encoding/binary"
	"sort"

	"github.com/cascadadb/cascadadb/internal/msg"
	"github.com/cascadadb/cascadadb/internal/slice"
)

// Pivot is one {key, msgbuf, child} slot of an InnerNode (§3): the buffer
// feeding child is the messages not yet cascaded into it.
type Pivot struct {
	Key    slice.Slice
	Child  NID
	MsgBuf *msg.MsgBuf
}

// InnerLimits bounds fan-out and per-buffer size, mirroring
// inner_node_children_number, inner_node_page_size and inner_node_msg_count.
type InnerLimits struct {
	ChildrenNumber int
	PageSize       int
	MsgCount       int
}

// InnerSplitResult is returned upward when an inner node splits, so the
// parent (or Tree.pileup, if there is no parent) can install the new
// sibling under a promoted pivot key.
type InnerSplitResult struct {
	PromotedKey slice.Slice
	NewNode     *InnerNode
}

// InnerNode is first_child + [pivot, msgbuf, child]* fan-out with buffered
// writes (§3, §4.2).
type InnerNode struct {
	Base

	Bottom      bool // true iff children are LeafNodes
	FirstChild  NID
	FirstMsgBuf *msg.MsgBuf
	Pivots      []Pivot

	cmp slice.Comparator
}

// NewInnerNode returns an empty inner node (no children, no pivots) ready
// to have FirstChild installed by the caller.
func NewInnerNode(nid NID, tbn uint32, bottom bool, cmp slice.Comparator) *InnerNode {
	return &InnerNode{Base: NewBase(nid, tbn), Bottom: bottom, FirstMsgBuf: msg.NewMsgBuf(cmp), cmp: cmp}
}

func (n *InnerNode) Kind() Kind { return KindInner }

func (n *InnerNode) EstimatedSize() int {
	sz := 1 + 8 + 4
	for _, p := range n.Pivots {
		sz += 4 + len(p.Key) + 8
	}
	sz += 4 + n.FirstMsgBuf.Size()
	for _, p := range n.Pivots {
		sz += 4 + p.MsgBuf.Size()
	}
	return sz
}

// slotFor returns the number of pivots whose key is <= k; the descent
// target is FirstChild when this is 0, else Pivots[slotFor(k)-1].
func (n *InnerNode) slotFor(k slice.Slice) int {
	return sort.Search(len(n.Pivots), func(i int) bool {
		return n.cmp.Compare(n.Pivots[i].Key, k) > 0
	})
}

// TargetChild returns the child nid a lookup/write for key k must descend
// into next.
func (n *InnerNode) TargetChild(k slice.Slice) NID {
	idx := n.slotFor(k)
	if idx == 0 {
		return n.FirstChild
	}
	return n.Pivots[idx-1].Child
}

func (n *InnerNode) targetBuf(k slice.Slice) *msg.MsgBuf {
	idx := n.slotFor(k)
	if idx == 0 {
		return n.FirstMsgBuf
	}
	return n.Pivots[idx-1].MsgBuf
}

// Put buffers m into the slot feeding its target child (§4.2 cascading
// writes). Callers decide whether to cascade afterward via NeedsCascade.
func (n *InnerNode) Put(m msg.Message) {
	n.targetBuf(m.Key).Write(m)
	n.SetDirty(true)
}

// FindMessage consults the buffer on the descent path for k, returning the
// most recently buffered message for that key if any (§4.3 find: ancestor
// buffers are checked before descending further).
func (n *InnerNode) FindMessage(k slice.Slice) (msg.Message, bool) {
	return n.targetBuf(k).Find(k)
}

// NeedsCascade reports whether any buffer in the node has grown past
// limits and must be relieved (§4.2).
func (n *InnerNode) NeedsCascade(limits InnerLimits) bool {
	if overflow(n.FirstMsgBuf, limits) {
		return true
	}
	for _, p := range n.Pivots {
		if overflow(p.MsgBuf, limits) {
			return true
		}
	}
	return false
}

func overflow(b *msg.MsgBuf, limits InnerLimits) bool {
	return b.Count() > limits.MsgCount || b.Size() > limits.PageSize
}

// LargestBuffer returns which slot (first_child, or Pivots[idx]) currently
// holds the most bytes, the greedy choice for a cascade step (§4.2).
func (n *InnerNode) LargestBuffer() (isFirst bool, idx int) {
	isFirst, idx, best := true, -1, n.FirstMsgBuf.Size()
	for i, p := range n.Pivots {
		if p.MsgBuf.Size() > best {
			isFirst, idx, best = false, i, p.MsgBuf.Size()
		}
	}
	return isFirst, idx
}

// BufferAt returns the buffer for the given slot selector, as produced by
// LargestBuffer.
func (n *InnerNode) BufferAt(isFirst bool, idx int) *msg.MsgBuf {
	if isFirst {
		return n.FirstMsgBuf
	}
	return n.Pivots[idx].MsgBuf
}

// ChildAt returns the child nid for the given slot selector.
func (n *InnerNode) ChildAt(isFirst bool, idx int) NID {
	if isFirst {
		return n.FirstChild
	}
	return n.Pivots[idx].Child
}

// ClearCascaded empties the buffer at the given slot after its contents
// have been absorbed by the child, and marks the node dirty.
func (n *InnerNode) ClearCascaded(isFirst bool, idx int) {
	n.BufferAt(isFirst, idx).Clear()
	n.SetDirty(true)
}

// AddPivot inserts a new {key, child} slot in sorted order with a fresh
// empty buffer (§4.2 add_pivot).
func (n *InnerNode) AddPivot(key slice.Slice, child NID) {
	idx := n.slotFor(key)
	n.Pivots = append(n.Pivots, Pivot{})
	copy(n.Pivots[idx+1:], n.Pivots[idx:])
	n.Pivots[idx] = Pivot{Key: key, Child: child, MsgBuf: msg.NewMsgBuf(n.cmp)}
	n.SetDirty(true)
}

// RemovePivot removes the slot feeding childNID (§4.2 rm_pivot). If
// childNID is FirstChild, the first pivot (if any) is promoted into its
// place; otherwise the matching pivot slot is deleted. Returns false if
// childNID is not a current child.
func (n *InnerNode) RemovePivot(childNID NID) bool {
	if n.FirstChild == childNID {
		if len(n.Pivots) == 0 {
			n.FirstChild = NIDNil
			n.SetDirty(true)
			return true
		}
		first := n.Pivots[0]
		n.FirstChild = first.Child
		n.FirstMsgBuf = first.MsgBuf
		n.Pivots = n.Pivots[1:]
		n.SetDirty(true)
		return true
	}
	for i, p := range n.Pivots {
		if p.Child == childNID {
			n.Pivots = append(n.Pivots[:i], n.Pivots[i+1:]...)
			n.SetDirty(true)
			return true
		}
	}
	return false
}

// Empty reports whether the node has no children at all (FirstChild
// cleared and no pivots) -- the trigger condition for Tree.collapse when
// this is the root.
func (n *InnerNode) Empty() bool {
	return n.FirstChild == NIDNil && len(n.Pivots) == 0
}

// NeedsSplit reports whether fan-out or byte size has outgrown limits
// (§4.2 split).
func (n *InnerNode) NeedsSplit(limits InnerLimits) bool {
	return len(n.Pivots)+1 >= limits.ChildrenNumber || n.EstimatedSize() > limits.PageSize
}

// Split moves the upper half of the pivots (from the median onward) into
// a freshly allocated sibling, promoting the median key (§4.2 split).
func (n *InnerNode) Split(allocInnerID func() NID) *InnerSplitResult {
	m := len(n.Pivots) / 2
	promoted := n.Pivots[m].Key

	sib := NewInnerNode(allocInnerID(), n.TBN(), n.Bottom, n.cmp)
	sib.FirstChild = n.Pivots[m].Child
	sib.FirstMsgBuf = n.Pivots[m].MsgBuf
	sib.Pivots = append([]Pivot(nil), n.Pivots[m+1:]...)
	sib.SetDirty(true)

	n.Pivots = n.Pivots[:m]
	n.SetDirty(true)

	return &InnerSplitResult{PromotedKey: promoted, NewNode: sib}
}

func (n *InnerNode) encodeSkeleton() []byte {
	buf := make([]byte, 0, 13+len(n.Pivots)*16)
	bottom := byte(0)
	if n.Bottom {
		bottom = 1
	}
	buf = append(buf, bottom)
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(n.FirstChild))
	buf = append(buf, u64[:]...)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(n.Pivots)))
	buf = append(buf, u32[:]...)
	for _, p := range n.Pivots {
		binary.LittleEndian.PutUint32(u32[:], uint32(len(p.Key)))
		buf = append(buf, u32[:]...)
		buf = append(buf, p.Key...)
		binary.LittleEndian.PutUint64(u64[:], uint64(p.Child))
		buf = append(buf, u64[:]...)
	}
	return buf
}

func decodeInnerSkeleton(n *InnerNode, skeleton []byte) error {
	if len(skeleton) < 13 {
		return errShort("inner skeleton")
	}
	n.Bottom = skeleton[0] != 0
	n.FirstChild = NID(binary.LittleEndian.Uint64(skeleton[1:]))
	count := binary.LittleEndian.Uint32(skeleton[9:])
	off := 13
	pivots := make([]Pivot, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(skeleton) < off+4 {
			return errShort("inner pivot key len")
		}
		keyLen := int(binary.LittleEndian.Uint32(skeleton[off:]))
		off += 4
		if len(skeleton) < off+keyLen+8 {
			return errShort("inner pivot body")
		}
		key := slice.Slice(skeleton[off : off+keyLen])
		off += keyLen
		child := NID(binary.LittleEndian.Uint64(skeleton[off:]))
		off += 8
		pivots = append(pivots, Pivot{Key: key, Child: child, MsgBuf: msg.NewMsgBuf(n.cmp)})
	}
	n.Pivots = pivots
	return nil
}

func (n *InnerNode) encodeBody() []byte {
	buf := n.FirstMsgBuf.Serialize(nil)
	for _, p := range n.Pivots {
		buf = p.MsgBuf.Serialize(buf)
	}
	return buf
}

func decodeInnerBody(n *InnerNode, body []byte) error {
	read, err := n.FirstMsgBuf.Deserialize(body)
	if err != nil {
		return err
	}
	off := read
	for i := range n.Pivots {
		read, err := n.Pivots[i].MsgBuf.Deserialize(body[off:])
		if err != nil {
			return err
		}
		off += read
	}
	return nil
}
