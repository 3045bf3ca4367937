package walog

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascadadb/cascadadb/internal/fs"
)

// logFilePattern matches the log naming convention "cdb%06d.redolog"
// (§4.5 Data file naming).
var logFilePattern = regexp.MustCompile(`^cdb(\d{6})\.redolog$`)

func logFilename(num int64) string { return fmt.Sprintf("cdb%06d.redolog", num) }

// Options configures a LogMgr's buffering and background cron periods.
// The root package fills it from its own Options (logOptions in
// options.go); this type carries no defaults of its own.
type Options struct {
	LogBufferSize    int
	LogFileSizeLimit int64
	FlushPeriod      time.Duration
	FsyncPeriod      time.Duration
	CleanPeriod      time.Duration
}

// LogMgr owns the set of redo log files for one database, rolling to a
// fresh file when the current one is oversized and idle, and running the
// flush/fsync/clean crons LogMgr runs in the original (§4.5, §6).
type LogMgr struct {
	dir    fs.FS
	logDir string
	opts   Options
	logger zerolog.Logger

	mu      sync.RWMutex
	writers map[int64]*LogWriter
	current *LogWriter
	nextNum atomic.Int64

	lastCheckpointLSN atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLogMgr scans logDir for existing log files to bootstrap the log
// numbering sequence, matching LogMgr's constructor-time directory scan.
func NewLogMgr(dir fs.FS, logDir string, opts Options, logger zerolog.Logger) (*LogMgr, error) {
	if err := dir.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("walog: mkdir %s: %w", logDir, err)
	}

	entries, err := dir.ReadDir(logDir)
	if err != nil {
		return nil, fmt.Errorf("walog: readdir %s: %w", logDir, err)
	}

	var maxNum int64
	for _, e := range entries {
		if m := logFilePattern.FindStringSubmatch(e.Name()); m != nil {
			n, _ := strconv.ParseInt(m[1], 10, 64)
			if n > maxNum {
				maxNum = n
			}
		}
	}

	m := &LogMgr{
		dir:     dir,
		logDir:  logDir,
		opts:    opts,
		logger:  logger,
		writers: make(map[int64]*LogWriter),
		stopCh:  make(chan struct{}),
	}
	m.nextNum.Store(maxNum)
	return m, nil
}

// Start launches the flush, fsync, and clean background crons.
func (m *LogMgr) Start() {
	m.wg.Add(3)
	go m.cron(m.opts.FlushPeriod, m.flushTick, &m.wg)
	go m.cron(m.opts.FsyncPeriod, m.fsyncTick, &m.wg)
	go m.cron(m.opts.CleanPeriod, m.cleanTick, &m.wg)
}

// Stop halts the crons and closes every writer.
func (m *LogMgr) Stop() error {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *LogMgr) cron(period time.Duration, tick func(), wg *sync.WaitGroup) {
	defer wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			tick()
		}
	}
}

func (m *LogMgr) snapshotWriters() []*LogWriter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*LogWriter, 0, len(m.writers))
	for _, w := range m.writers {
		out = append(out, w)
	}
	return out
}

func (m *LogMgr) flushTick() {
	checkpointLSN := m.lastCheckpointLSN.Load()
	for _, w := range m.snapshotWriters() {
		if w.LastWrittenLSN() > checkpointLSN || w.LastLSN() != w.LastWrittenLSN() {
			if err := w.Flush(); err != nil {
				m.logger.Error().Err(err).Str("log", w.Filename()).Msg("walog: flush failed")
			}
		}
	}
}

func (m *LogMgr) fsyncTick() {
	checkpointLSN := m.lastCheckpointLSN.Load()
	for _, w := range m.snapshotWriters() {
		if w.LastWrittenLSN() > checkpointLSN || w.LastFsyncLSN() != w.LastWrittenLSN() {
			if err := w.Fsync(); err != nil {
				m.logger.Error().Err(err).Str("log", w.Filename()).Msg("walog: fsync failed")
			}
		}
	}
}

// cleanTick deletes log files that are entirely covered by the last
// checkpoint and have no outstanding writers referencing them.
func (m *LogMgr) cleanTick() {
	checkpointLSN := m.lastCheckpointLSN.Load()

	m.mu.Lock()
	defer m.mu.Unlock()
	for num, w := range m.writers {
		if w == m.current {
			continue
		}
		if w.Ref() != 0 {
			continue
		}
		if w.LastWrittenLSN() >= checkpointLSN {
			continue
		}
		if err := w.Close(); err != nil {
			m.logger.Error().Err(err).Str("log", w.Filename()).Msg("walog: close before delete failed")
			continue
		}
		if err := m.dir.Remove(path.Join(m.logDir, w.Filename())); err != nil {
			m.logger.Error().Err(err).Str("log", w.Filename()).Msg("walog: delete failed")
			continue
		}
		delete(m.writers, num)
	}
}

// getWriter returns the current writer, rolling to a new log file when
// the current one is oversize and idle, matching LogMgr::get_writer.
// The returned writer has its ref count incremented; callers must
// DecRef() when done.
func (m *LogMgr) getWriter() (*LogWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !(m.current.Oversize() && m.current.Ref() == 0) {
		m.current.IncRef()
		return m.current, nil
	}

	num := m.nextNum.Add(1)
	filename := logFilename(num)
	f, err := m.dir.OpenFile(path.Join(m.logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: create %s: %w", filename, err)
	}

	var initLSN uint64
	if m.current != nil {
		initLSN = m.current.LastLSN()
	}
	w := NewLogWriter(f, num, filename, initLSN, m.opts.LogBufferSize, m.opts.LogFileSizeLimit)
	if err := w.Init(); err != nil {
		return nil, err
	}

	m.writers[num] = w
	m.current = w
	w.IncRef()
	return w, nil
}

// EnqPut appends a Put record and returns its LSN.
func (m *LogMgr) EnqPut(tbn uint32, key, val []byte) (uint64, error) {
	w, err := m.getWriter()
	if err != nil {
		return 0, err
	}
	defer w.DecRef()
	return w.Write(tbn, RecPut, key, val)
}

// EnqDel appends a Del record and returns its LSN.
func (m *LogMgr) EnqDel(tbn uint32, key []byte) (uint64, error) {
	w, err := m.getWriter()
	if err != nil {
		return 0, err
	}
	defer w.DecRef()
	return w.Write(tbn, RecDel, key, nil)
}

// MakeCheckpointBegin flushes and fsyncs every log so every record
// issued so far is durable, and returns the LSN horizon the checkpoint
// should record, matching the begin/end pairing described in §4.6.
func (m *LogMgr) MakeCheckpointBegin() (uint64, error) {
	writers := m.snapshotWriters()
	for _, w := range writers {
		if err := w.Flush(); err != nil {
			return 0, err
		}
		if err := w.Fsync(); err != nil {
			return 0, err
		}
	}

	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur == nil {
		return 0, nil
	}
	return cur.LastFsyncLSN(), nil
}

// MakeCheckpointEnd records lsn as the new checkpoint horizon, after
// which the clean cron may delete fully-covered log files.
func (m *LogMgr) MakeCheckpointEnd(lsn uint64) {
	m.lastCheckpointLSN.Store(lsn)
}
