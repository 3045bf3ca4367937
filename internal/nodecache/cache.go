// Package nodecache implements the shared node cache sitting between the
// tree and the on-disk layout: a fixed-size, LRU-evicted map of loaded
// nodes, dirty nodes written back on a timer, and the checkpoint
// coordination that ties the log to durable tree state.
//
// Grounded on src/cache/cache.h's Cache class (TableSettings, the
// tbn+nid keyed node map, must_evict/evict, write_back,
// check_checkpoint) and on pkg/slotcache/lock.go's pattern of a
// coarse-grained map guarded by a single RWMutex plus per-entry state.
// The LRU ordering itself -- which the original hand-rolls with a
// doubly linked list -- is delegated to
// github.com/hashicorp/golang-lru/v2: Cache keeps its own policy
// (never evict a pinned or dirty node) and uses the library purely as
// the recency ledger, since the library's own size-triggered eviction
// can't express "skip this entry, it's still in use".
package nodecache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/cascadadb/cascadadb/internal/dbstatus"
	"github.com/cascadadb/cascadadb/internal/layout"
	"github.com/cascadadb/cascadadb/internal/node"
	"github.com/cascadadb/cascadadb/internal/walog"
)

// Tree is the subset of a table's tree that recovery and node eviction
// need: applying already-logged mutations. Implemented by
// internal/tree.Tree.
type Tree interface {
	Put(key, val []byte) error
	Del(key []byte) error
}

// TableSettings binds one table number to its node factory, its backing
// layout, and the tree that owns it (§ cache.h's TableSettings struct).
type TableSettings struct {
	Factory            *node.Factory
	Layout             *layout.Layout
	Tree               Tree
	LastCheckpointTime time.Time
}

type cacheKey struct {
	tbn uint32
	nid node.NID
}

// Options configures cache sizing and background cadence. The root
// package fills it from its own Options (cacheOptions in options.go).
type Options struct {
	CacheLimitBytes  int64
	HighWatermark    float64 // fraction of CacheLimitBytes above which Evict runs, and its target
	WriteBackPeriod  time.Duration
	CheckpointPeriod time.Duration
	DirtyExpireAfter time.Duration
}

// Cache is the shared node cache for every table opened against one
// database (§ cache.h: "Cache can be shared among multiple tables").
type Cache struct {
	opts   Options
	logmgr *walog.LogMgr
	status *dbstatus.Status
	logger zerolog.Logger

	tablesMu sync.RWMutex
	tables   map[uint32]TableSettings

	nodesMu sync.RWMutex
	nodes   map[cacheKey]node.Node
	// recency tracks MRU order only; its own capacity-based eviction is
	// unused (capacity is sized far beyond the node count we'd ever
	// realistically hold so the callback never fires) -- Evict below
	// implements the actual eviction policy against recency.Keys().
	recency *lru.Cache[cacheKey, struct{}]

	size atomic.Int64

	globalMu sync.Mutex // serializes FlushTable calls, mirrors global_mtx_

	recovering atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Cache. logmgr may be nil for a cache that never needs to
// coordinate checkpoints (e.g. a read-only recovery scan). status
// receives the shared counters for observability; pass dbstatus.New()
// if the caller has no existing one to share.
func New(opts Options, logmgr *walog.LogMgr, status *dbstatus.Status, logger zerolog.Logger) (*Cache, error) {
	recency, err := lru.New[cacheKey, struct{}](1 << 20)
	if err != nil {
		return nil, fmt.Errorf("nodecache: new lru: %w", err)
	}
	return &Cache{
		opts:    opts,
		logmgr:  logmgr,
		status:  status,
		logger:  logger,
		tables:  make(map[uint32]TableSettings),
		nodes:   make(map[cacheKey]node.Node),
		recency: recency,
		stopCh:  make(chan struct{}),
	}, nil
}

var _ walog.TableLookup = (*Cache)(nil)

// AddTable registers tbn with the cache (§ cache.h add_table).
func (c *Cache) AddTable(tbn uint32, factory *node.Factory, l *layout.Layout, tree Tree) {
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	c.tables[tbn] = TableSettings{Factory: factory, Layout: l, Tree: tree}
}

// GetTableSettings returns tbn's registration, if any.
func (c *Cache) GetTableSettings(tbn uint32) (TableSettings, bool) {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()
	ts, ok := c.tables[tbn]
	return ts, ok
}

// DelTable removes tbn and every one of its cached nodes, optionally
// flushing dirty ones first (§ cache.h del_table).
func (c *Cache) DelTable(tbn uint32, flush bool) {
	if flush {
		c.FlushTable(tbn)
	}

	c.nodesMu.Lock()
	for k := range c.nodes {
		if k.tbn == tbn {
			delete(c.nodes, k)
			c.recency.Remove(k)
		}
	}
	c.nodesMu.Unlock()

	c.tablesMu.Lock()
	delete(c.tables, tbn)
	c.tablesMu.Unlock()
}

// PutNode inserts a newly created node into the cache (§ cache.h put,
// renamed to avoid colliding with the walog.TableLookup Put method
// below -- the original overloads on argument type, Go cannot).
func (c *Cache) PutNode(tbn uint32, nid node.NID, n node.Node) {
	key := cacheKey{tbn, nid}
	c.nodesMu.Lock()
	c.nodes[key] = n
	c.nodesMu.Unlock()
	c.recency.Add(key, struct{}{})
	c.size.Add(int64(n.EstimatedSize()))
	c.status.CachePutNum.Add(1)
}

// Get acquires a node, loading it from the table's layout on a miss
// (§ cache.h get).
func (c *Cache) Get(tbn uint32, nid node.NID, skeletonOnly bool) (node.Node, error) {
	key := cacheKey{tbn, nid}

	c.status.CacheGetNum.Add(1)

	c.nodesMu.RLock()
	if n, ok := c.nodes[key]; ok {
		c.nodesMu.RUnlock()
		n.Touch()
		c.recency.Get(key)
		c.status.NodeLoadFromMemNum.Add(1)
		return n, nil
	}
	c.nodesMu.RUnlock()

	ts, ok := c.GetTableSettings(tbn)
	if !ok {
		return nil, fmt.Errorf("nodecache: unknown table %d", tbn)
	}

	loadStart := time.Now()
	kind, skeleton, body, err := ts.Layout.Read(nid, skeletonOnly)
	if err != nil {
		return nil, fmt.Errorf("nodecache: load nid %d: %w", nid, err)
	}
	c.status.NodeLoadFromDiskUS.Add(time.Since(loadStart).Microseconds())
	c.status.BlockReadNum.Add(1)
	if skeletonOnly {
		c.status.BlockSubblockReadNum.Add(1)
	}
	c.status.NodeLoadFromDiskNum.Add(1)
	n, err := ts.Factory.Decode(kind, nid, tbn, skeleton, body)
	if err != nil {
		return nil, fmt.Errorf("nodecache: decode nid %d: %w", nid, err)
	}

	c.nodesMu.Lock()
	if existing, ok := c.nodes[key]; ok {
		// lost a race with a concurrent loader; keep the one already
		// published so in-flight pins on it stay valid.
		c.nodesMu.Unlock()
		existing.Touch()
		c.recency.Get(key)
		return existing, nil
	}
	c.nodes[key] = n
	c.nodesMu.Unlock()
	c.recency.Add(key, struct{}{})
	c.size.Add(int64(n.EstimatedSize()))
	n.Touch()

	return n, nil
}

// Put implements walog.TableLookup by delegating to the owning table's
// tree, for WAL replay during recovery.
func (c *Cache) Put(tbn uint32, key, val []byte) error {
	ts, ok := c.GetTableSettings(tbn)
	if !ok {
		return fmt.Errorf("nodecache: unknown table %d", tbn)
	}
	return ts.Tree.Put(key, val)
}

// Del implements walog.TableLookup.
func (c *Cache) Del(tbn uint32, key []byte) error {
	ts, ok := c.GetTableSettings(tbn)
	if !ok {
		return fmt.Errorf("nodecache: unknown table %d", tbn)
	}
	return ts.Tree.Del(key)
}

// CheckpointLSN implements walog.TableLookup by delegating to tbn's
// layout, whose checkpoint LSN is the true horizon below which log
// records are already durable on disk.
func (c *Cache) CheckpointLSN(tbn uint32) (uint64, bool) {
	ts, ok := c.GetTableSettings(tbn)
	if !ok {
		return 0, false
	}
	return ts.Layout.CheckpointLSN(), true
}

// SetInRecovering/SetOutRecovering toggle whether the cache is currently
// replaying the log, during which write-back and eviction are
// suppressed (§ cache.h set_in_recovering/set_out_recovering).
func (c *Cache) SetInRecovering()  { c.recovering.Store(true) }
func (c *Cache) SetOutRecovering() { c.recovering.Store(false) }

// Start launches the background write-back/eviction/checkpoint cron.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop halts the cron and flushes every dirty node.
func (c *Cache) Stop() error {
	close(c.stopCh)
	c.wg.Wait()

	c.tablesMu.RLock()
	tbns := make([]uint32, 0, len(c.tables))
	for tbn := range c.tables {
		tbns = append(tbns, tbn)
	}
	c.tablesMu.RUnlock()

	for _, tbn := range tbns {
		c.FlushTable(tbn)
	}
	return nil
}

func (c *Cache) loop() {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.WriteBackPeriod)
	defer t.Stop()
	checkpointDue := time.NewTicker(c.opts.CheckpointPeriod)
	defer checkpointDue.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if c.recovering.Load() {
				continue
			}
			c.WriteBack()
			if c.MustEvict() {
				c.Evict()
			}
		case <-checkpointDue.C:
			if c.recovering.Load() {
				continue
			}
			if err := c.CheckCheckpoint(); err != nil {
				c.logger.Error().Err(err).Msg("nodecache: checkpoint failed")
			}
		}
	}
}
