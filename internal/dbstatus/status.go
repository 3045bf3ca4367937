// Package dbstatus holds the monotonic counters shared across the tree,
// cache, and log packages so the root package can expose them as a
// single Status snapshot (§6 Status counters, grounded on
// include/cascadb/status.h's flat list of atomic counters).
package dbstatus

import "sync/atomic"

// Status is a set of monotonically increasing counters. All fields are
// safe for concurrent use; Snapshot copies them with one atomic load per
// counter, so counters bumped during the copy may be seen partly updated.
type Status struct {
	InnerNodeSplitNum    atomic.Int64
	InnerNodeCascadeNum  atomic.Int64
	InnerNodeCreatedNum  atomic.Int64
	InnerNodeAddPivotNum atomic.Int64
	InnerNodeRmPivotNum  atomic.Int64

	LeafSplitNum   atomic.Int64
	LeafMergeNum   atomic.Int64
	LeafCascadeNum atomic.Int64
	LeafCreatedNum atomic.Int64

	CachePutNum      atomic.Int64
	CacheGetNum      atomic.Int64
	CacheEvictNum    atomic.Int64
	CacheWritebackNum atomic.Int64

	BlockReadNum         atomic.Int64
	BlockSubblockReadNum atomic.Int64

	AsyncWriteNum  atomic.Int64
	AsyncWriteByte atomic.Int64

	TreePileupNum   atomic.Int64
	TreeCollapseNum atomic.Int64

	NodeLoadFromDiskNum atomic.Int64
	NodeLoadFromDiskUS  atomic.Int64
	NodeLoadFromMemNum  atomic.Int64
}

// New returns a zeroed Status.
func New() *Status { return &Status{} }

// Snapshot is a point-in-time copy of every counter, safe to log or
// compare in tests.
type Snapshot struct {
	InnerNodeSplitNum, InnerNodeCascadeNum, InnerNodeCreatedNum     int64
	InnerNodeAddPivotNum, InnerNodeRmPivotNum                       int64
	LeafSplitNum, LeafMergeNum, LeafCascadeNum, LeafCreatedNum      int64
	CachePutNum, CacheGetNum, CacheEvictNum, CacheWritebackNum      int64
	BlockReadNum, BlockSubblockReadNum                              int64
	AsyncWriteNum, AsyncWriteByte                                   int64
	TreePileupNum, TreeCollapseNum                                  int64
	NodeLoadFromDiskNum, NodeLoadFromDiskUS, NodeLoadFromMemNum     int64
}

// Snapshot copies every counter's current value.
func (s *Status) Snapshot() Snapshot {
	return Snapshot{
		InnerNodeSplitNum:    s.InnerNodeSplitNum.Load(),
		InnerNodeCascadeNum:  s.InnerNodeCascadeNum.Load(),
		InnerNodeCreatedNum:  s.InnerNodeCreatedNum.Load(),
		InnerNodeAddPivotNum: s.InnerNodeAddPivotNum.Load(),
		InnerNodeRmPivotNum:  s.InnerNodeRmPivotNum.Load(),
		LeafSplitNum:         s.LeafSplitNum.Load(),
		LeafMergeNum:         s.LeafMergeNum.Load(),
		LeafCascadeNum:       s.LeafCascadeNum.Load(),
		LeafCreatedNum:       s.LeafCreatedNum.Load(),
		CachePutNum:          s.CachePutNum.Load(),
		CacheGetNum:          s.CacheGetNum.Load(),
		CacheEvictNum:        s.CacheEvictNum.Load(),
		CacheWritebackNum:    s.CacheWritebackNum.Load(),
		BlockReadNum:         s.BlockReadNum.Load(),
		BlockSubblockReadNum: s.BlockSubblockReadNum.Load(),
		AsyncWriteNum:        s.AsyncWriteNum.Load(),
		AsyncWriteByte:       s.AsyncWriteByte.Load(),
		TreePileupNum:        s.TreePileupNum.Load(),
		TreeCollapseNum:      s.TreeCollapseNum.Load(),
		NodeLoadFromDiskNum:  s.NodeLoadFromDiskNum.Load(),
		NodeLoadFromDiskUS:   s.NodeLoadFromDiskUS.Load(),
		NodeLoadFromMemNum:   s.NodeLoadFromMemNum.Load(),
	}
}
