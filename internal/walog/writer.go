package walog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cascadadb/cascadadb/internal/fs"
)

// LogWriter owns one redo log file and the double buffer that decouples
// enqueuing a record from the syscall that persists it, mirroring
// LogWriter's in_/out_ split in log_writer.cpp: writers append to in_
// under inMu; flush swaps in_/out_ under both locks and then drains out_
// to disk under outMu alone, so a flush in flight never blocks new
// appends for long.
type LogWriter struct {
	logNum   int64
	filename string
	f        fs.File

	lastLSN        atomic.Uint64
	lastWrittenLSN atomic.Uint64
	lastFsyncLSN   atomic.Uint64
	fileSize       atomic.Int64

	inMu sync.Mutex
	in   []byte

	outMu sync.Mutex
	out   []byte

	ref atomic.Int32

	bufSize       int
	fileSizeLimit int64
}

// NewLogWriter wraps an already-open, append-mode file as log number
// logNum. initLSN is the LSN the file's header will claim as its base
// (the previous writer's last LSN, or 0 for the very first log).
func NewLogWriter(f fs.File, logNum int64, filename string, initLSN uint64, bufSize int, fileSizeLimit int64) *LogWriter {
	w := &LogWriter{
		logNum:        logNum,
		filename:      filename,
		f:             f,
		bufSize:       bufSize,
		fileSizeLimit: fileSizeLimit,
	}
	w.lastLSN.Store(initLSN)
	w.lastWrittenLSN.Store(initLSN)
	w.lastFsyncLSN.Store(initLSN)
	return w
}

// Init writes the file header and advances the LSN counters past it, as
// LogWriter::write_header does.
func (w *LogWriter) Init() error {
	hdr := encodeHeader(w.lastLSN.Load())
	if _, err := w.f.Write(hdr); err != nil {
		return fmt.Errorf("walog: write header: %w", err)
	}
	w.lastLSN.Add(uint64(len(hdr)))
	w.lastWrittenLSN.Add(uint64(len(hdr)))
	w.lastFsyncLSN.Add(uint64(len(hdr)))
	w.fileSize.Add(int64(len(hdr)))
	return nil
}

// Write appends one record to the in-memory buffer and returns its LSN.
// The record is not guaranteed durable until Flush/Fsync.
func (w *LogWriter) Write(tbn uint32, typ RecType, key, val []byte) (uint64, error) {
	need := int(recordLen(len(key), len(val)))

	w.inMu.Lock()
	w.checkSpaceLocked(need)
	lsn := w.lastLSN.Load()
	w.in = append(w.in, encodeRecord(lsn, tbn, typ, key, val)...)
	w.lastLSN.Add(uint64(need))
	w.inMu.Unlock()

	return lsn, nil
}

// checkSpaceLocked forces a synchronous swap+drain when appending need
// more bytes to in_ would exceed bufSize, mirroring
// LogWriter::check_space's unsolicited flush. Callers must hold inMu;
// it is released and re-acquired across the drain.
func (w *LogWriter) checkSpaceLocked(need int) {
	if len(w.in)+need <= w.bufSize {
		return
	}
	w.inMu.Unlock()
	w.outMu.Lock()
	w.inMu.Lock()
	w.in, w.out = w.out, w.in
	w.inMu.Unlock()
	_ = w.writeOutLocked()
	w.outMu.Unlock()
	w.inMu.Lock()
}

// Flush swaps in_ into out_ and drains out_ to the file, matching
// LogWriter::flush's try-lock-swap-unlock-write sequence. It is a no-op
// if nothing has been written since the last flush.
func (w *LogWriter) Flush() error {
	if w.lastWrittenLSN.Load() == w.lastLSN.Load() {
		return nil
	}
	if !w.outMu.TryLock() {
		return nil // a flush (or check_space drain) is already in flight
	}
	defer w.outMu.Unlock()

	w.inMu.Lock()
	w.in, w.out = w.out, w.in
	w.inMu.Unlock()

	return w.writeOutLocked()
}

// writeOutLocked appends out_ to the file. Callers must hold outMu.
func (w *LogWriter) writeOutLocked() error {
	if len(w.out) == 0 {
		return nil
	}
	n, err := w.f.Write(w.out)
	if err != nil {
		return fmt.Errorf("walog: write log %s: %w", w.filename, err)
	}
	w.lastWrittenLSN.Store(w.lastLSN.Load())
	w.fileSize.Add(int64(n))
	w.out = w.out[:0]
	return nil
}

// Fsync durably syncs the file if anything written since the last fsync.
func (w *LogWriter) Fsync() error {
	if w.lastFsyncLSN.Load() == w.lastWrittenLSN.Load() {
		return nil
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("walog: fsync %s: %w", w.filename, err)
	}
	w.lastFsyncLSN.Store(w.lastWrittenLSN.Load())
	return nil
}

// Close flushes, fsyncs, and closes the underlying file.
func (w *LogWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.Fsync(); err != nil {
		return err
	}
	return w.f.Close()
}

// Oversize reports whether the file has grown past its configured limit
// (§4.5: rolled once oversized and idle).
func (w *LogWriter) Oversize() bool { return w.fileSize.Load() > w.fileSizeLimit }

func (w *LogWriter) FileSize() int64          { return w.fileSize.Load() }
func (w *LogWriter) LastLSN() uint64          { return w.lastLSN.Load() }
func (w *LogWriter) LastWrittenLSN() uint64   { return w.lastWrittenLSN.Load() }
func (w *LogWriter) LastFsyncLSN() uint64     { return w.lastFsyncLSN.Load() }
func (w *LogWriter) LogNum() int64            { return w.logNum }
func (w *LogWriter) Filename() string         { return w.filename }
func (w *LogWriter) Ref() int32               { return w.ref.Load() }
func (w *LogWriter) IncRef()                  { w.ref.Add(1) }
func (w *LogWriter) DecRef()                  { w.ref.Add(-1) }
