package fs

import (
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities for [Chaos]. Each rate
// is a float64 in [0.0, 1.0]. The zero value disables all fault injection.
//
// The set of knobs here is narrower than a general-purpose filesystem fuzzer
// would carry: it covers exactly the failure modes CascaDB's own
// crash-recovery tests exercise -- an open/append that can't happen, a log
// write or fsync that fails or only partially lands, a read that comes back
// short during WAL replay -- not every errno a generic FS wrapper could
// simulate.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Open/FS.OpenFile fail to open the
	// data file or a log segment. Returns one of EACCES, EIO, EMFILE,
	// ENFILE, ENOTDIR, ENOSPC, EDQUOT or EROFS, whatever the open flags.
	OpenFailRate float64

	// ReadFailRate controls how often File.Read fails entirely during WAL
	// replay or block reads, returning 0 bytes and EIO.
	ReadFailRate float64

	// PartialReadRate controls how often File.Read returns fewer bytes than
	// requested with err==nil (a short read, not a failure): replay and
	// layout reads must loop until they have what they asked for.
	PartialReadRate float64

	// WriteFailRate controls how often File.Write fails entirely, writing
	// zero bytes. Returns EIO, ENOSPC, EDQUOT, or EROFS -- this is how a
	// crash-recovery test simulates a WAL append or a data-file block write
	// landing on a full/failing disk.
	WriteFailRate float64

	// PartialWriteRate controls how often File.Write writes only a prefix of
	// p before failing, modelling a torn write.
	PartialWriteRate float64

	// ShortWriteRate controls, among partial writes, what fraction report
	// io.ErrShortWrite (n != len(p), no syscall error) instead of an errno.
	ShortWriteRate float64

	// SyncFailRate controls how often File.Sync (fsync) fails. Sync
	// failures can surface delayed write errors that a preceding Write
	// didn't report -- the case walog's durability guarantee depends on
	// catching.
	SyncFailRate float64

	// CloseFailRate controls how often File.Close reports an error. The
	// underlying descriptor is always closed, to avoid leaking fds in tests,
	// even when an error is returned.
	CloseFailRate float64

	// StatFailRate controls how often FS.Stat/FS.Exists/File.Stat fail.
	// Returns EACCES or EIO.
	StatFailRate float64

	// MkdirAllFailRate controls how often FS.MkdirAll fails to create the
	// database or log directory.
	MkdirAllFailRate float64

	// RemoveFailRate controls how often FS.Remove fails to delete a retired
	// log segment.
	RemoveFailRate float64

	// ReadDirFailRate controls how often FS.ReadDir fails entirely while
	// LogMgr is discovering existing segments.
	ReadDirFailRate float64

	// ReadDirPartialRate controls how often FS.ReadDir returns a truncated
	// directory listing along with EIO.
	ReadDirPartialRate float64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS]. The
// seed controls random fault injection for reproducibility. Panics if fs is
// nil.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	if fs == nil {
		panic("fs is nil")
	}

	return &Chaos{
		fs:     fs,
		rng:    rand.New(rand.NewSource(seed)),
		config: config,
	}
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection. Default for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation straight through to the
	// underlying [FS], useful for the setup phase of a recovery test before
	// the chaos window opens.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails       int64
	ReadFails       int64
	WriteFails      int64
	ReadDirFails    int64
	PartialReads    int64
	PartialWrites   int64
	PartialReadDirs int64
	RemoveFails     int64
	StatFails       int64
	MkdirAllFails   int64
	SyncFails       int64
	CloseFails      int64
}

// ChaosError marks an error as intentionally injected by [Chaos]. It wraps
// the underlying error so errors.Is/As keep working, while [IsChaosErr]
// lets crash-recovery tests and [StrictTestFS] distinguish an injected
// fault from a genuine OS/environment error.
type ChaosError struct {
	Err error
}

func (e *ChaosError) Error() string { return "chaos: " + e.Err.Error() }
func (e *ChaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *ChaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects the failure modes in [ChaosConfig] for
// crash-recovery testing: the data-file layer and the WAL must both be able
// to tolerate a write, fsync, or read failing partway through without
// corrupting already-durable state.
//
// Injected errors are [*fs.PathError] carrying a real [syscall.Errno],
// wrapped in [ChaosError] so os.IsNotExist/os.IsPermission still work via
// unwrapping while [IsChaosErr] tells tests the failure was intentional.
// Chaos never injects ENOENT (a missing-path result always comes from the
// wrapped FS) and never injects EINTR (the stdlib retries it internally).
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex

	openFails       atomic.Int64
	readFails       atomic.Int64
	writeFails      atomic.Int64
	readDirFails    atomic.Int64
	partialReads    atomic.Int64
	partialWrites   atomic.Int64
	partialReadDirs atomic.Int64
	removeFails     atomic.Int64
	statFails       atomic.Int64
	mkdirAllFails   atomic.Int64
	syncFails       atomic.Int64
	closeFails      atomic.Int64
}

// SetMode updates Chaos behavior. Safe to call concurrently with filesystem
// operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:       c.openFails.Load(),
		ReadFails:       c.readFails.Load(),
		WriteFails:      c.writeFails.Load(),
		ReadDirFails:    c.readDirFails.Load(),
		PartialReads:    c.partialReads.Load(),
		PartialWrites:   c.partialWrites.Load(),
		PartialReadDirs: c.partialReadDirs.Load(),
		RemoveFails:     c.removeFails.Load(),
		StatFails:       c.statFails.Load(),
		MkdirAllFails:   c.mkdirAllFails.Load(),
		SyncFails:       c.syncFails.Load(),
		CloseFails:      c.closeFails.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.ReadFails + s.WriteFails + s.PartialReads +
		s.PartialWrites + s.ReadDirFails + s.PartialReadDirs +
		s.RemoveFails + s.StatFails + s.MkdirAllFails + s.SyncFails + s.CloseFails
}

func (c *Chaos) Open(path string) (File, error) {
	return c.openWithChaos(path, func() (File, error) { return c.fs.Open(path) })
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return c.openWithChaos(path, func() (File, error) { return c.fs.OpenFile(path, flag, perm) })
}

// openWithChaos wraps file-open operations with fault injection.
func (c *Chaos) openWithChaos(path string, openFn func() (File, error)) (File, error) {
	mode := ChaosMode(c.mode.Load())
	if mode == ChaosModeNoOp {
		f, err := openFn()
		if err != nil {
			return nil, err
		}

		return &chaosFile{f: f, chaos: c, path: path}, nil
	}

	if c.should(mode, c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, pathError("open", path, c.pickRandom(openErrnos))
	}

	f, err := openFn()
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

var openErrnos = []syscall.Errno{
	syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE, syscall.ENOTDIR,
	syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS,
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	mode := ChaosMode(c.mode.Load())
	if mode == ChaosModeNoOp {
		return c.fs.ReadDir(path)
	}

	if c.should(mode, c.config.ReadDirFailRate) {
		c.readDirFails.Add(1)

		return nil, pathError("readdir", path, c.pickRandom([]syscall.Errno{
			syscall.EACCES, syscall.EIO, syscall.ENOTDIR, syscall.EMFILE, syscall.ENFILE,
		}))
	}

	entries, err := c.fs.ReadDir(path)
	if err != nil {
		return nil, err
	}

	if c.should(mode, c.config.ReadDirPartialRate) && len(entries) > 1 {
		c.partialReadDirs.Add(1)
		cutoff := c.randIntn(len(entries)-1) + 1

		return entries[:cutoff], pathError("readdir", path, syscall.EIO)
	}

	return entries, nil
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	mode := ChaosMode(c.mode.Load())
	if mode == ChaosModeActive && c.should(mode, c.config.MkdirAllFailRate) {
		c.mkdirAllFails.Add(1)

		return pathError("mkdirall", path, c.pickRandom([]syscall.Errno{
			syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS, syscall.ENOTDIR,
		}))
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.maybeStatFail(path); err != nil {
		return nil, err
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.maybeStatFail(path); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

func (c *Chaos) maybeStatFail(path string) error {
	mode := ChaosMode(c.mode.Load())
	if mode != ChaosModeActive || !c.should(mode, c.config.StatFailRate) {
		return nil
	}

	c.statFails.Add(1)

	return pathError("stat", path, c.pickRandom([]syscall.Errno{syscall.EACCES, syscall.EIO}))
}

func (c *Chaos) Remove(path string) error {
	mode := ChaosMode(c.mode.Load())
	if mode == ChaosModeActive && c.should(mode, c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return pathError("remove", path, c.pickRandom([]syscall.Errno{
			syscall.EACCES, syscall.EPERM, syscall.EBUSY, syscall.EIO, syscall.EROFS,
		}))
	}

	return c.fs.Remove(path)
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(mode ChaosMode, rate float64) bool {
	if mode != ChaosModeActive {
		return false
	}

	return c.randFloat() < rate
}

func (c *Chaos) randFloat() float64 {
	c.rngMu.Lock()
	result := c.rng.Float64()
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	result := c.rng.Intn(n)
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) pickRandom(errs []syscall.Errno) syscall.Errno {
	return errs[c.randIntn(len(errs))]
}

// pathError creates an injected [*fs.PathError] wrapped in [ChaosError].
func pathError(op, path string, errno syscall.Errno) error {
	pe := &fs.PathError{Op: op, Path: path, Err: errno}

	return &ChaosError{Err: pe}
}

// chaosFile wraps a [File] and injects faults on Read/Write/Sync/Close.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

var _ File = (*chaosFile)(nil)

func (cf *chaosFile) Read(p []byte) (int, error) {
	mode := ChaosMode(cf.chaos.mode.Load())
	if mode == ChaosModeNoOp {
		return cf.f.Read(p)
	}

	if cf.chaos.should(mode, cf.chaos.config.ReadFailRate) {
		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, syscall.EIO)
	}

	// Partial read: limit the underlying read so the file offset does not
	// advance past what was actually returned to the caller.
	if cf.chaos.should(mode, cf.chaos.config.PartialReadRate) && len(p) > 1 {
		cf.chaos.partialReads.Add(1)
		cutoff := cf.chaos.randIntn(len(p)-1) + 1

		return cf.f.Read(p[:cutoff])
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	mode := ChaosMode(cf.chaos.mode.Load())
	if mode == ChaosModeNoOp {
		return cf.f.Write(p)
	}

	if cf.chaos.should(mode, cf.chaos.config.WriteFailRate) {
		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, cf.chaos.pickRandom([]syscall.Errno{
			syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS,
		}))
	}

	if cf.chaos.should(mode, cf.chaos.config.PartialWriteRate) && len(p) > 1 {
		cf.chaos.partialWrites.Add(1)
		cutoff := cf.chaos.randIntn(len(p)-1) + 1

		wrote, err := cf.f.Write(p[:cutoff])
		if err != nil {
			return wrote, err
		}

		if cf.chaos.randFloat() < cf.chaos.config.ShortWriteRate {
			return wrote, &ChaosError{Err: io.ErrShortWrite}
		}

		return wrote, pathError("write", cf.path, cf.chaos.pickRandom([]syscall.Errno{
			syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS,
		}))
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Close() error {
	mode := ChaosMode(cf.chaos.mode.Load())
	if mode == ChaosModeNoOp {
		return cf.f.Close()
	}

	injectClose := cf.chaos.should(mode, cf.chaos.config.CloseFailRate)

	// Always close the underlying file to avoid descriptor leaks, even when
	// returning an injected error.
	if err := cf.f.Close(); err != nil {
		return err
	}

	if injectClose {
		cf.chaos.closeFails.Add(1)

		return pathError("close", cf.path, syscall.EIO)
	}

	return nil
}

func (cf *chaosFile) Fd() uintptr { return cf.f.Fd() }

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	mode := ChaosMode(cf.chaos.mode.Load())
	if mode == ChaosModeActive && cf.chaos.should(mode, cf.chaos.config.StatFailRate) {
		cf.chaos.statFails.Add(1)

		return nil, pathError("stat", cf.path, syscall.EIO)
	}

	return cf.f.Stat()
}

func (cf *chaosFile) Sync() error {
	mode := ChaosMode(cf.chaos.mode.Load())
	if mode == ChaosModeActive && cf.chaos.should(mode, cf.chaos.config.SyncFailRate) {
		cf.chaos.syncFails.Add(1)

		return pathError("sync", cf.path, cf.chaos.pickRandom([]syscall.Errno{
			syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS,
		}))
	}

	return cf.f.Sync()
}

var _ FS = (*Chaos)(nil)
