// Package node implements the three node kinds of the buffered B-tree
// (SchemaNode, InnerNode, LeafNode) and the base identity/reference/pin
// bookkeeping shared by all of them (§3, §4.2, §4.3 of the design).
//
// Grounded on include/cascadb/node.h and src/tree/tree.h from the original
// CascaDB source for the field layout and lifecycle, adapted to Go's
// sync.RWMutex for pin semantics in place of the original's hand-rolled
// reader/writer spinlock.
package node

import (
	"sync"
	"sync/atomic"
	"time"
)

// NID identifies a node within a table (tbn). The reserved values below
// mirror bid_t from §3.
type NID uint64

const (
	NIDNil       NID = 0
	NIDSchema    NID = 1
	NIDStart     NID = 2
	NIDLeafStart NID = 1 << 48
)

// IsLeaf reports whether nid falls in the leaf id range.
func IsLeaf(nid NID) bool { return nid >= NIDLeafStart }

// Kind tags which concrete node type a serialized block holds.
type Kind uint8

const (
	KindSchema Kind = iota
	KindInner
	KindLeaf
)

// Node is implemented by SchemaNode, InnerNode and LeafNode. The cache
// interacts with nodes exclusively through this interface plus the
// concrete type switches needed for tree algorithms (resolved by the tree
// package, which knows which kind a nid belongs to).
type Node interface {
	NID() NID
	Kind() Kind
	TBN() uint32
	SetTBN(tbn uint32)

	Ref() int32
	IncRef() int32
	DecRef() int32

	Dirty() bool
	SetDirty(dirty bool)
	Flushing() bool
	SetFlushing(flushing bool)
	Dead() bool
	SetDead(dead bool)

	FirstWriteTimestamp() time.Time
	LastUsedTimestamp() time.Time
	Touch()

	// Pin acquires a read-share (or write-cheap, same underlying lock)
	// pin; Unpin releases it.
	Pin()
	Unpin()
	// TryPinCheap acquires a write-cheap pin without blocking, failing
	// only if a write-expensive pin is currently held.
	TryPinCheap() bool
	UnpinCheap()
	// PinExpensive acquires the exclusive pin used for structural
	// modifications (split/merge/pileup/collapse).
	PinExpensive()
	UnpinExpensive()

	// EstimatedSize returns an upper bound on the serialized size,
	// computed before serialization so the layout can allocate a block.
	EstimatedSize() int
}

// Base holds the bookkeeping common to every node kind (§3 "Node flags &
// counters").
type Base struct {
	nid NID
	tbn uint32

	ref atomic.Int32

	dirty    atomic.Bool
	flushing atomic.Bool
	dead     atomic.Bool

	firstWriteNS atomic.Int64
	lastUsedNS   atomic.Int64

	mu sync.RWMutex
}

// NewBase constructs bookkeeping for a node with the given identity.
func NewBase(nid NID, tbn uint32) Base {
	b := Base{nid: nid, tbn: tbn}
	b.lastUsedNS.Store(time.Now().UnixNano())
	return b
}

func (b *Base) NID() NID      { return b.nid }
func (b *Base) TBN() uint32   { return b.tbn }
func (b *Base) SetTBN(t uint32) { b.tbn = t }

func (b *Base) Ref() int32     { return b.ref.Load() }
func (b *Base) IncRef() int32  { return b.ref.Add(1) }
func (b *Base) DecRef() int32  { return b.ref.Add(-1) }

func (b *Base) Dirty() bool { return b.dirty.Load() }

// SetDirty stamps first_write_timestamp when transitioning clean -> dirty,
// per §3.
func (b *Base) SetDirty(dirty bool) {
	if dirty && !b.dirty.Swap(true) {
		b.firstWriteNS.Store(time.Now().UnixNano())
	} else if !dirty {
		b.dirty.Store(false)
	}
}

func (b *Base) Flushing() bool           { return b.flushing.Load() }
func (b *Base) SetFlushing(flushing bool) { b.flushing.Store(flushing) }
func (b *Base) Dead() bool               { return b.dead.Load() }
func (b *Base) SetDead(dead bool)        { b.dead.Store(dead) }

func (b *Base) FirstWriteTimestamp() time.Time {
	return time.Unix(0, b.firstWriteNS.Load())
}

func (b *Base) LastUsedTimestamp() time.Time {
	return time.Unix(0, b.lastUsedNS.Load())
}

// Touch stamps last_used_timestamp to now; called on every cache hit.
func (b *Base) Touch() { b.lastUsedNS.Store(time.Now().UnixNano()) }

func (b *Base) Pin()   { b.mu.RLock() }
func (b *Base) Unpin() { b.mu.RUnlock() }

func (b *Base) TryPinCheap() bool { return b.mu.TryRLock() }
func (b *Base) UnpinCheap()       { b.mu.RUnlock() }

func (b *Base) PinExpensive()   { b.mu.Lock() }
func (b *Base) UnpinExpensive() { b.mu.Unlock() }
