package nodecache

import (
	"fmt"

	"github.com/cascadadb/cascadadb/internal/node"
)

// flushNode serializes and persists n synchronously, clearing its dirty
// flag. Callers must hold a pin (at least PinCheap) on n.
func flushNode(ts TableSettings, nid node.NID, n node.Node) error {
	skeleton := node.Skeleton(n)
	body := node.Body(n)
	size := 1 + 4 + len(skeleton) + 4 + len(body) + 4
	r := ts.Layout.Create(size)
	if err := ts.Layout.Write(nid, n.Kind(), skeleton, body, r); err != nil {
		return fmt.Errorf("nodecache: flush nid %d: %w", nid, err)
	}
	n.SetDirty(false)
	return nil
}

// FlushTable writes back every dirty node owned by tbn (§ cache.h
// flush_table).
func (c *Cache) FlushTable(tbn uint32) {
	ts, ok := c.GetTableSettings(tbn)
	if !ok {
		return
	}

	c.globalMu.Lock()
	defer c.globalMu.Unlock()

	c.nodesMu.RLock()
	var dirty []struct {
		nid node.NID
		n   node.Node
	}
	for k, n := range c.nodes {
		if k.tbn == tbn && n.Dirty() {
			dirty = append(dirty, struct {
				nid node.NID
				n   node.Node
			}{k.nid, n})
		}
	}
	c.nodesMu.RUnlock()

	for _, d := range dirty {
		d.n.Pin()
		err := flushNode(ts, d.nid, d.n)
		d.n.Unpin()
		if err != nil {
			c.logger.Error().Err(err).Uint32("tbn", tbn).Msg("nodecache: flush_table write failed")
		}
	}
}

// WriteBack asynchronously persists every dirty node that is not already
// being flushed and can take a cheap pin, through the layout's AsyncWrite
// so the caller isn't blocked on disk (§ cache.h write_back, which
// schedules async_write and resumes on write_complete). Nodes are visited
// in map order; DirtyExpireAfter and first-write timestamps are not
// consulted.
func (c *Cache) WriteBack() {
	type candidate struct {
		key cacheKey
		n   node.Node
	}

	c.nodesMu.RLock()
	var candidates []candidate
	for k, n := range c.nodes {
		if n.Dirty() && !n.Flushing() {
			candidates = append(candidates, candidate{k, n})
		}
	}
	c.nodesMu.RUnlock()

	for _, cd := range candidates {
		ts, ok := c.GetTableSettings(cd.key.tbn)
		if !ok {
			continue
		}
		if !cd.n.TryPinCheap() {
			continue // in use; try again next tick
		}

		n := cd.n
		nid := cd.key.nid
		n.SetFlushing(true)
		skeleton := node.Skeleton(n)
		body := node.Body(n)

		c.status.AsyncWriteNum.Add(1)
		c.status.AsyncWriteByte.Add(int64(len(skeleton) + len(body)))
		c.status.CacheWritebackNum.Add(1)

		ts.Layout.AsyncWrite(nid, n.Kind(), skeleton, body, func(err error) {
			defer n.UnpinCheap()
			n.SetFlushing(false)
			if err != nil {
				c.logger.Error().Err(err).Uint64("nid", uint64(nid)).Msg("nodecache: write-back failed")
				return
			}
			n.SetDirty(false)
		})
	}
}

// MustEvict reports whether the cache has grown past its configured
// high watermark (§ cache.h must_evict).
func (c *Cache) MustEvict() bool {
	if c.opts.CacheLimitBytes <= 0 {
		return false
	}
	limit := float64(c.opts.CacheLimitBytes) * c.opts.HighWatermark
	return float64(c.size.Load()) > limit
}

// Evict removes least-recently-used clean, unpinned nodes until the
// cache drops back under its target size (§ cache.h evict).
func (c *Cache) Evict() {
	target := int64(float64(c.opts.CacheLimitBytes) * c.opts.HighWatermark)

	for _, key := range c.recency.Keys() {
		if c.size.Load() <= target {
			return
		}

		c.nodesMu.RLock()
		n, ok := c.nodes[key]
		c.nodesMu.RUnlock()
		if !ok {
			continue
		}
		if n.Dirty() || n.Ref() > 0 {
			continue
		}
		if !n.TryPinCheap() {
			continue
		}

		c.nodesMu.Lock()
		delete(c.nodes, key)
		c.nodesMu.Unlock()
		c.recency.Remove(key)
		c.size.Add(-int64(n.EstimatedSize()))
		n.UnpinCheap()
		c.status.CacheEvictNum.Add(1)
	}
}

// CheckCheckpoint asks the log manager to begin a checkpoint, persists
// every table's index at that LSN horizon, and tells the log manager
// the checkpoint completed so old log files become eligible for
// deletion (§ cache.h check_checkpoint, §4.6).
func (c *Cache) CheckCheckpoint() error {
	if c.logmgr == nil {
		return nil
	}

	lsn, err := c.logmgr.MakeCheckpointBegin()
	if err != nil {
		return fmt.Errorf("nodecache: checkpoint begin: %w", err)
	}

	c.tablesMu.RLock()
	tbns := make([]uint32, 0, len(c.tables))
	tables := make([]TableSettings, 0, len(c.tables))
	for tbn, ts := range c.tables {
		tbns = append(tbns, tbn)
		tables = append(tables, ts)
	}
	c.tablesMu.RUnlock()

	for i, ts := range tables {
		c.FlushTable(tbns[i])
		if err := ts.Layout.MakeCheckpoint(lsn); err != nil {
			return fmt.Errorf("nodecache: checkpoint layout: %w", err)
		}
	}

	c.logmgr.MakeCheckpointEnd(lsn)
	return nil
}
