// Package tree implements the buffered B-tree (Bε-tree) that sits between
// the cache and a table's callers: cascading writes into inner node
// buffers, splitting and merging nodes, and growing or shrinking the
// tree's depth as the root overflows or empties out.
//
// Grounded on src/tree/tree.h and src/tree/tree.cpp from the original
// CascaDB source for the put/get/del/cascade/pileup/collapse control
// flow, built on top of the already-generalized internal/node primitives
// (InnerNode.Put/LargestBuffer/Split/AddPivot/RemovePivot, LeafNode.Cascade).
package tree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cascadadb/cascadadb/internal/dbstatus"
	"github.com/cascadadb/cascadadb/internal/layout"
	"github.com/cascadadb/cascadadb/internal/msg"
	"github.com/cascadadb/cascadadb/internal/node"
	"github.com/cascadadb/cascadadb/internal/nodecache"
	"github.com/cascadadb/cascadadb/internal/slice"
	"github.com/cascadadb/cascadadb/internal/walog"
)

// Limits bounds the two node kinds' cascade/split thresholds, mirroring
// the inner_node_* and leaf_node_* fields of Options (§6).
type Limits struct {
	Inner node.InnerLimits
	Leaf  node.LeafLimits
}

// Tree owns one table's schema node and drives cascading writes against
// it through a shared nodecache.Cache. It implements nodecache.Tree so
// the cache can route WAL replay straight into it.
type Tree struct {
	tbn     uint32
	cmp     slice.Comparator
	cache   *nodecache.Cache
	logmgr  *walog.LogMgr
	factory *node.Factory
	status  *dbstatus.Status
	limits  Limits

	// mu guards the schema node's root pointer and id counters, which
	// pileup/collapse/alloc mutate outside of any single node's own pin
	// (§4.1 "the root pointer is reference-counted; pileup/collapse swap
	// it atomically").
	mu     sync.RWMutex
	schema *node.SchemaNode

	// replaying is set while the log manager is feeding this tree
	// records read back off disk: Put/Del must not re-enqueue a record
	// that already lives in the log being replayed.
	replaying bool
}

var _ nodecache.Tree = (*Tree)(nil)

// Open loads (or creates) tbn's schema node from cache and, for a brand
// new table, allocates an empty root inner node (§4.1 init).
func Open(tbn uint32, cmp slice.Comparator, cache *nodecache.Cache, lay *layout.Layout, logmgr *walog.LogMgr, status *dbstatus.Status, limits Limits) (*Tree, error) {
	factory := node.NewFactory(cmp)
	t := &Tree{
		tbn:     tbn,
		cmp:     cmp,
		cache:   cache,
		logmgr:  logmgr,
		factory: factory,
		status:  status,
		limits:  limits,
	}

	cache.AddTable(tbn, factory, lay, t)

	schema, err := t.loadOrCreateSchema()
	if err != nil {
		return nil, err
	}
	t.schema = schema

	if schema.RootNodeID == node.NIDNil {
		root := factory.NewInner(schema.AllocInner(), tbn, true)
		cache.PutNode(tbn, root.NID(), root)
		schema.RootNodeID = root.NID()
		schema.SetDirty(true)
		status.InnerNodeCreatedNum.Add(1)
	}

	return t, nil
}

func (t *Tree) loadOrCreateSchema() (*node.SchemaNode, error) {
	n, err := t.cache.Get(t.tbn, node.NIDSchema, false)
	if err == nil {
		s, ok := n.(*node.SchemaNode)
		if !ok {
			return nil, fmt.Errorf("tree: nid %d is not a schema node", node.NIDSchema)
		}
		return s, nil
	}
	if !errors.Is(err, layout.ErrNotFound) {
		return nil, err
	}

	s := node.NewSchemaNode(t.tbn)
	t.cache.PutNode(t.tbn, node.NIDSchema, s)
	s.SetDirty(true)
	return s, nil
}

// SetReplaying toggles replay mode: while true, Put/Del apply directly to
// the tree without writing a new log record.
func (t *Tree) SetReplaying(v bool) {
	t.mu.Lock()
	t.replaying = v
	t.mu.Unlock()
}

func (t *Tree) isReplaying() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.replaying
}

func (t *Tree) rootNID() node.NID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.schema.RootNodeID
}

func (t *Tree) allocInnerID() node.NID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.schema.AllocInner()
	t.schema.SetDirty(true)
	return id
}

func (t *Tree) allocLeafID() node.NID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.schema.AllocLeaf()
	t.schema.SetDirty(true)
	return id
}

// Put logs and applies a Put(key, val). It satisfies nodecache.Tree.
func (t *Tree) Put(key, val []byte) error {
	if !t.isReplaying() {
		if _, err := t.logmgr.EnqPut(t.tbn, key, val); err != nil {
			return fmt.Errorf("tree: enqueue put: %w", err)
		}
	}
	return t.apply(msg.Message{Type: msg.Put, Key: slice.Slice(key), Value: slice.Slice(val)})
}

// Del logs and applies a Del(key). It satisfies nodecache.Tree.
func (t *Tree) Del(key []byte) error {
	if !t.isReplaying() {
		if _, err := t.logmgr.EnqDel(t.tbn, key); err != nil {
			return fmt.Errorf("tree: enqueue del: %w", err)
		}
	}
	return t.apply(msg.Message{Type: msg.Del, Key: slice.Slice(key)})
}

// Get walks the root's msgbuf chain first, then descends, consulting the
// buffer on the path at every inner node before following it down to the
// leaf (§4.3 find).
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	nid := t.rootNID()
	if nid == node.NIDNil {
		return nil, false, nil
	}
	k := slice.Slice(key)

	for {
		n, err := t.cache.Get(t.tbn, nid, false)
		if err != nil {
			return nil, false, fmt.Errorf("tree: get: %w", err)
		}

		switch v := n.(type) {
		case *node.InnerNode:
			v.Pin()
			m, found := v.FindMessage(k)
			next := v.TargetChild(k)
			v.Unpin()
			if found {
				if m.Type == msg.Del {
					return nil, false, nil
				}
				return append([]byte(nil), m.Value...), true, nil
			}
			if next == node.NIDNil {
				return nil, false, nil
			}
			nid = next
		case *node.LeafNode:
			v.Pin()
			val, found := v.Find(k)
			v.Unpin()
			if !found {
				return nil, false, nil
			}
			return append([]byte(nil), val...), true, nil
		default:
			return nil, false, fmt.Errorf("tree: unexpected node kind at nid %d", nid)
		}
	}
}

// Flush delegates to the cache's synchronous flush for this table.
func (t *Tree) Flush() {
	t.cache.FlushTable(t.tbn)
}

// apply buffers m into the root and, if that overflows the root's
// buffers or pivot count, drains it via cascade/split (§4.1 put/del).
func (t *Tree) apply(m msg.Message) error {
	nid := t.rootNID()

	n, err := t.cache.Get(t.tbn, nid, false)
	if err != nil {
		return fmt.Errorf("tree: apply: %w", err)
	}
	root, ok := n.(*node.InnerNode)
	if !ok {
		return fmt.Errorf("tree: root %d is not an inner node", nid)
	}

	root.PinExpensive()
	defer root.UnpinExpensive()

	root.Put(m)

	if root.NeedsCascade(t.limits.Inner) {
		if err := t.cascade(root); err != nil {
			return err
		}
	}
	if root.NeedsSplit(t.limits.Inner) {
		if err := t.splitRoot(root); err != nil {
			return err
		}
	}
	return nil
}

// cascade drains parent's overflowing buffers into its children, greedily
// relieving the largest buffer first, recursing into any child that
// itself overflows afterward (§4.2 cascading writes, steps 1-6).
func (t *Tree) cascade(parent *node.InnerNode) error {
	for parent.NeedsCascade(t.limits.Inner) {
		isFirst, idx := parent.LargestBuffer()
		childNID := parent.ChildAt(isFirst, idx)

		if childNID == node.NIDNil {
			leaf := t.factory.NewLeaf(t.allocLeafID(), t.tbn)
			t.cache.PutNode(t.tbn, leaf.NID(), leaf)
			t.status.LeafCreatedNum.Add(1)
			if isFirst {
				parent.FirstChild = leaf.NID()
			} else {
				parent.Pivots[idx].Child = leaf.NID()
			}
			parent.SetDirty(true)
			childNID = leaf.NID()
		}

		buf := parent.BufferAt(isFirst, idx)
		child, err := t.cache.Get(t.tbn, childNID, false)
		if err != nil {
			return fmt.Errorf("tree: cascade: load child %d: %w", childNID, err)
		}
		t.status.InnerNodeCascadeNum.Add(1)

		child.PinExpensive()
		switch c := child.(type) {
		case *node.LeafNode:
			result, becameEmpty := c.Cascade(buf, t.limits.Leaf, t.allocLeafID)
			child.UnpinExpensive()
			t.status.LeafCascadeNum.Add(1)
			parent.ClearCascaded(isFirst, idx)

			if becameEmpty {
				t.status.LeafMergeNum.Add(1)
				if err := t.unlinkLeaf(c); err != nil {
					return err
				}
				parent.RemovePivot(c.NID())
				t.status.InnerNodeRmPivotNum.Add(1)
				if parent.Empty() && parent.NID() == t.rootNID() {
					if err := t.collapse(); err != nil {
						return err
					}
					return nil
				}
			} else if result != nil {
				t.cache.PutNode(t.tbn, result.NewLeaf.NID(), result.NewLeaf)
				t.status.LeafSplitNum.Add(1)
				t.status.LeafCreatedNum.Add(1)
				if result.OldRightSibling != node.NIDNil {
					if err := t.patchLeftSibling(result.OldRightSibling, result.NewLeaf.NID()); err != nil {
						return err
					}
				}
				parent.AddPivot(result.PromotedKey, result.NewLeaf.NID())
				t.status.InnerNodeAddPivotNum.Add(1)
			}

		case *node.InnerNode:
			for _, mm := range buf.Messages() {
				c.Put(mm)
			}
			child.UnpinExpensive()
			parent.ClearCascaded(isFirst, idx)

			if c.NeedsCascade(t.limits.Inner) {
				if err := t.cascade(c); err != nil {
					return err
				}
			}
			if c.NeedsSplit(t.limits.Inner) {
				c.PinExpensive()
				sr := c.Split(t.allocInnerID)
				c.UnpinExpensive()
				t.status.InnerNodeSplitNum.Add(1)
				t.cache.PutNode(t.tbn, sr.NewNode.NID(), sr.NewNode)
				t.status.InnerNodeCreatedNum.Add(1)
				parent.AddPivot(sr.PromotedKey, sr.NewNode.NID())
				t.status.InnerNodeAddPivotNum.Add(1)
			}

		default:
			child.UnpinExpensive()
			return fmt.Errorf("tree: unexpected child kind at nid %d", childNID)
		}
	}
	return nil
}

// splitRoot splits an overflowing root and installs a fresh root above it
// (§4.2 split: "if self is root, Tree.pileup").
func (t *Tree) splitRoot(root *node.InnerNode) error {
	if !root.NeedsSplit(t.limits.Inner) {
		return nil
	}
	sr := root.Split(t.allocInnerID)
	t.status.InnerNodeSplitNum.Add(1)
	t.cache.PutNode(t.tbn, sr.NewNode.NID(), sr.NewNode)
	t.status.InnerNodeCreatedNum.Add(1)
	return t.pileup(root, sr)
}

// pileup installs a new root above oldRoot and its freshly split sibling,
// growing tree_depth by one -- the only way depth increases (§4.2).
func (t *Tree) pileup(oldRoot *node.InnerNode, sr *node.InnerSplitResult) error {
	newRoot := t.factory.NewInner(t.allocInnerID(), t.tbn, false)
	newRoot.FirstChild = oldRoot.NID()
	newRoot.AddPivot(sr.PromotedKey, sr.NewNode.NID())
	t.cache.PutNode(t.tbn, newRoot.NID(), newRoot)
	t.status.InnerNodeCreatedNum.Add(1)
	t.status.TreePileupNum.Add(1)

	t.mu.Lock()
	t.schema.RootNodeID = newRoot.NID()
	t.schema.TreeDepth++
	t.schema.SetDirty(true)
	t.mu.Unlock()
	return nil
}

// collapse replaces an emptied root with a fresh, empty one and resets
// tree_depth to 2. It does not promote the root's sole remaining child --
// see the design ledger's note on this deliberately conservative choice.
func (t *Tree) collapse() error {
	newRoot := t.factory.NewInner(t.allocInnerID(), t.tbn, true)
	t.cache.PutNode(t.tbn, newRoot.NID(), newRoot)
	t.status.InnerNodeCreatedNum.Add(1)
	t.status.TreeCollapseNum.Add(1)

	t.mu.Lock()
	t.schema.RootNodeID = newRoot.NID()
	t.schema.TreeDepth = 2
	t.schema.SetDirty(true)
	t.mu.Unlock()
	return nil
}

func (t *Tree) patchLeftSibling(rightNID, newLeftNID node.NID) error {
	if rightNID == node.NIDNil {
		return nil
	}
	right, err := t.cache.Get(t.tbn, rightNID, false)
	if err != nil {
		return fmt.Errorf("tree: patch sibling %d: %w", rightNID, err)
	}
	rl, ok := right.(*node.LeafNode)
	if !ok {
		return fmt.Errorf("tree: sibling %d is not a leaf", rightNID)
	}
	rl.PinExpensive()
	rl.LeftSibling = newLeftNID
	rl.SetDirty(true)
	rl.UnpinExpensive()
	return nil
}

// unlinkLeaf splices dead out of its neighbors' sibling chain before it
// is dropped from its parent (§4.3: "leaf becomes dead if empty").
func (t *Tree) unlinkLeaf(dead *node.LeafNode) error {
	if dead.LeftSibling != node.NIDNil {
		left, err := t.cache.Get(t.tbn, dead.LeftSibling, false)
		if err != nil {
			return fmt.Errorf("tree: unlink: load left sibling: %w", err)
		}
		if ll, ok := left.(*node.LeafNode); ok {
			ll.PinExpensive()
			ll.RightSibling = dead.RightSibling
			ll.SetDirty(true)
			ll.UnpinExpensive()
		}
	}
	if dead.RightSibling != node.NIDNil {
		right, err := t.cache.Get(t.tbn, dead.RightSibling, false)
		if err != nil {
			return fmt.Errorf("tree: unlink: load right sibling: %w", err)
		}
		if rl, ok := right.(*node.LeafNode); ok {
			rl.PinExpensive()
			rl.LeftSibling = dead.LeftSibling
			rl.SetDirty(true)
			rl.UnpinExpensive()
		}
	}
	return nil
}

// Depth returns the current tree depth, for diagnostics and tests.
func (t *Tree) Depth() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.schema.TreeDepth
}
