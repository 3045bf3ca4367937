package node

import (
	"encoding/binary"
	"fmt"

	"github.com/cascadadb/cascadadb/internal/msg"
	"github.com/cascadadb/cascadadb/internal/slice"
)

var (
	_ Node = (*SchemaNode)(nil)
	_ Node = (*InnerNode)(nil)
	_ Node = (*LeafNode)(nil)
)

func errShort(what string) error { return fmt.Errorf("node: short buffer decoding %s", what) }

func readBytesField(src []byte) (slice.Slice, int, error) {
	if len(src) < 4 {
		return nil, 0, errShort("length-prefixed field")
	}
	n := int(binary.LittleEndian.Uint32(src))
	if n > len(src)-4 {
		return nil, 0, errShort("length-prefixed field body")
	}
	return slice.Slice(src[4 : 4+n]), 4 + n, nil
}

// Factory constructs empty nodes of a given kind, used by the cache on a
// miss and by Tree when allocating new nodes (§9 "NodeFactory is
// polymorphic over test stubs vs real trees").
type Factory struct {
	Comparator slice.Comparator
}

// NewFactory returns a Factory producing nodes ordered by cmp.
func NewFactory(cmp slice.Comparator) *Factory { return &Factory{Comparator: cmp} }

func (f *Factory) NewSchema(tbn uint32) *SchemaNode { return NewSchemaNode(tbn) }

func (f *Factory) NewInner(nid NID, tbn uint32, bottom bool) *InnerNode {
	return NewInnerNode(nid, tbn, bottom, f.Comparator)
}

func (f *Factory) NewLeaf(nid NID, tbn uint32) *LeafNode {
	return NewLeafNode(nid, tbn, f.Comparator)
}

// Skeleton returns the structural prefix of n's serialized form, excluding
// message/record payloads (§4.3 Serialization).
func Skeleton(n Node) []byte {
	switch v := n.(type) {
	case *SchemaNode:
		return v.encodeSkeleton()
	case *InnerNode:
		return v.encodeSkeleton()
	case *LeafNode:
		return v.encodeSkeleton()
	default:
		panic(fmt.Sprintf("node: unknown node type %T", n))
	}
}

// Body returns the payload (msgbufs or records) of n's serialized form.
// Schema nodes have no body.
func Body(n Node) []byte {
	switch v := n.(type) {
	case *SchemaNode:
		return nil
	case *InnerNode:
		return v.encodeBody()
	case *LeafNode:
		return v.encodeBody()
	default:
		panic(fmt.Sprintf("node: unknown node type %T", n))
	}
}

// Decode reconstructs a node of the given kind and nid from its skeleton
// and (optionally absent, for a skeleton-only load) body bytes.
func (f *Factory) Decode(kind Kind, nid NID, tbn uint32, skeleton, body []byte) (Node, error) {
	switch kind {
	case KindSchema:
		s := NewSchemaNode(tbn)
		if err := decodeSchemaSkeleton(s, skeleton); err != nil {
			return nil, err
		}
		return s, nil
	case KindInner:
		n := &InnerNode{Base: NewBase(nid, tbn), cmp: f.Comparator, FirstMsgBuf: nil}
		if err := decodeInnerSkeleton(n, skeleton); err != nil {
			return nil, err
		}
		// FirstMsgBuf is not part of the skeleton's pivot list; allocate
		// it now that we know the comparator.
		n.FirstMsgBuf = msg.NewMsgBuf(f.Comparator)
		if body != nil {
			if err := decodeInnerBody(n, body); err != nil {
				return nil, err
			}
		}
		return n, nil
	case KindLeaf:
		l := NewLeafNode(nid, tbn, f.Comparator)
		if err := decodeLeafSkeleton(l, skeleton); err != nil {
			return nil, err
		}
		if body != nil {
			if err := decodeLeafBody(l, body); err != nil {
				return nil, err
			}
		}
		return l, nil
	default:
		return nil, fmt.Errorf("node: unknown kind %d", kind)
	}
}
