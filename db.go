// Package cascadadb is an embedded, write-optimized key-value storage
// engine built on a buffered B-tree (a "Bε-tree"): writes land in
// in-memory message buffers that cascade down to leaves in batches,
// trading read amplification for sequential, batched disk writes.
//
// Open a database with Open, then use Put/Get/Del/Flush against the
// returned DB. Close releases the underlying files.
package cascadadb

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cascadadb/cascadadb/internal/compress"
	"github.com/cascadadb/cascadadb/internal/dbstatus"
	"github.com/cascadadb/cascadadb/internal/fs"
	"github.com/cascadadb/cascadadb/internal/layout"
	"github.com/cascadadb/cascadadb/internal/nodecache"
	"github.com/cascadadb/cascadadb/internal/tree"
	"github.com/cascadadb/cascadadb/internal/walog"
)

// tbn is the table number of the single table a DB owns. Multi-table
// databases are a natural extension (the cache and log manager are
// already shared, table-keyed structures) but §6's façade contract only
// specifies a single-table open/put/get/del/flush surface.
const tbn = 1

const dataFileExt = ".cdb"
const logDirName = "log"

// DB is an open database: one data file plus its redo log directory,
// sharing one node cache (§6 db_impl.cpp wiring the Cache, LogMgr, and
// Tree together behind open/put/get/del/flush).
type DB struct {
	dir    fs.FS
	path   string
	opts   Options
	logger zerolog.Logger

	status *dbstatus.Status
	layout *layout.Layout
	logmgr *walog.LogMgr
	cache  *nodecache.Cache
	tree   *tree.Tree
}

// Open opens (creating if absent) the database rooted at dir. dir holds
// both the "<name>.cdb" data file and a "log/" subdirectory of redo logs.
func Open(dir string, opts Options) (*DB, error) {
	return OpenWithLogger(dir, opts, zerolog.Nop())
}

// OpenWithLogger is Open with an explicit logger, for callers that want
// the engine's structured diagnostics (write-back failures, checkpoint
// errors, recovery progress) routed into their own zerolog pipeline.
func OpenWithLogger(dir string, opts Options, logger zerolog.Logger) (*DB, error) {
	fsys := fs.NewReal()
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cascadadb: mkdir %s: %w", dir, err)
	}

	status := dbstatus.New()
	comp := compress.New(opts.CompressMethod)

	dataPath := filepath.Join(dir, "db"+dataFileExt)
	lay, err := layout.Open(fsys, dataPath, true, comp, opts.CheckCRC)
	if err != nil {
		return nil, fmt.Errorf("cascadadb: open layout: %w", err)
	}

	logDir := filepath.Join(dir, logDirName)
	logmgr, err := walog.NewLogMgr(fsys, logDir, opts.logOptions(), logger)
	if err != nil {
		lay.Close()
		return nil, fmt.Errorf("cascadadb: open log manager: %w", err)
	}

	cache, err := nodecache.New(opts.cacheOptions(), logmgr, status, logger)
	if err != nil {
		lay.Close()
		return nil, fmt.Errorf("cascadadb: new cache: %w", err)
	}

	tr, err := tree.Open(tbn, opts.comparator(), cache, lay, logmgr, status, opts.treeLimits())
	if err != nil {
		lay.Close()
		return nil, fmt.Errorf("cascadadb: open tree: %w", err)
	}

	db := &DB{
		dir:    fsys,
		path:   dir,
		opts:   opts,
		logger: logger,
		status: status,
		layout: lay,
		logmgr: logmgr,
		cache:  cache,
		tree:   tr,
	}

	if err := db.recover(); err != nil {
		lay.Close()
		return nil, fmt.Errorf("cascadadb: recover: %w", err)
	}

	logmgr.Start()
	cache.Start()

	return db, nil
}

// recover replays any redo log left over from an unclean shutdown before
// the database starts accepting new writes (§4.7).
func (db *DB) recover() error {
	db.cache.SetInRecovering()
	defer db.cache.SetOutRecovering()

	db.tree.SetReplaying(true)
	defer db.tree.SetReplaying(false)

	fromLSN := db.layout.CheckpointLSN()
	n, err := walog.Recover(db.dir, filepath.Join(db.path, logDirName), fromLSN, db.cache, db.opts.CheckCRC, db.logger)
	if err != nil {
		return err
	}
	if n > 0 {
		db.logger.Info().Int("records", n).Msg("cascadadb: recovered redo log")
	}
	return nil
}

// Put inserts or updates key -> val.
func (db *DB) Put(key, val []byte) error {
	return db.tree.Put(key, val)
}

// Del removes key, if present.
func (db *DB) Del(key []byte) error {
	return db.tree.Del(key)
}

// Get returns the value stored for key, or ok=false if absent.
func (db *DB) Get(key []byte) (val []byte, ok bool, err error) {
	return db.tree.Get(key)
}

// Flush synchronously writes back every dirty node of the table.
func (db *DB) Flush() {
	db.tree.Flush()
}

// Close stops background writeback/checkpoint/log crons and releases the
// underlying files. A final flush runs as part of cache.Stop so no dirty
// node is lost on a clean shutdown.
func (db *DB) Close() error {
	if err := db.cache.CheckCheckpoint(); err != nil {
		db.logger.Error().Err(err).Msg("cascadadb: final checkpoint failed")
	}
	if err := db.cache.Stop(); err != nil {
		return fmt.Errorf("cascadadb: stop cache: %w", err)
	}
	if err := db.logmgr.Stop(); err != nil {
		return fmt.Errorf("cascadadb: stop log manager: %w", err)
	}
	if err := db.layout.Close(); err != nil {
		return fmt.Errorf("cascadadb: close layout: %w", err)
	}
	return nil
}
