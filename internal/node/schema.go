package node

import "encoding/binary"

// SchemaNode is the singleton per-tree node at NIDSchema (§3). It tracks
// the root pointer and the two monotonic id counters.
type SchemaNode struct {
	Base

	RootNodeID      NID
	NextInnerNodeID NID
	NextLeafNodeID  NID
	TreeDepth       uint32
}

// NewSchemaNode returns a fresh schema for an empty tree: no root yet,
// counters starting at NIDStart / NIDLeafStart, depth 2 (§3 invariant).
func NewSchemaNode(tbn uint32) *SchemaNode {
	return &SchemaNode{
		Base:            NewBase(NIDSchema, tbn),
		RootNodeID:      NIDNil,
		NextInnerNodeID: NIDStart,
		NextLeafNodeID:  NIDLeafStart,
		TreeDepth:       2,
	}
}

func (s *SchemaNode) Kind() Kind { return KindSchema }

func (s *SchemaNode) EstimatedSize() int { return 8 + 8 + 8 + 4 }

// AllocInner hands out the next inner node id. It does no locking of its
// own; callers serialize access.
func (s *SchemaNode) AllocInner() NID {
	id := s.NextInnerNodeID
	s.NextInnerNodeID++
	return id
}

// AllocLeaf hands out the next leaf node id. It does no locking of its
// own; callers serialize access.
func (s *SchemaNode) AllocLeaf() NID {
	id := s.NextLeafNodeID
	s.NextLeafNodeID++
	return id
}

func (s *SchemaNode) encodeSkeleton() []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint64(buf[0:], uint64(s.RootNodeID))
	binary.LittleEndian.PutUint64(buf[8:], uint64(s.NextInnerNodeID))
	binary.LittleEndian.PutUint64(buf[16:], uint64(s.NextLeafNodeID))
	binary.LittleEndian.PutUint32(buf[24:], s.TreeDepth)
	return buf
}

func decodeSchemaSkeleton(s *SchemaNode, skeleton []byte) error {
	if len(skeleton) < 28 {
		return errShort("schema skeleton")
	}
	s.RootNodeID = NID(binary.LittleEndian.Uint64(skeleton[0:]))
	s.NextInnerNodeID = NID(binary.LittleEndian.Uint64(skeleton[8:]))
	s.NextLeafNodeID = NID(binary.LittleEndian.Uint64(skeleton[16:]))
	s.TreeDepth = binary.LittleEndian.Uint32(skeleton[24:])
	return nil
}
