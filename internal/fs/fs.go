// Package fs abstracts the filesystem operations that the data-file layer
// ([layout.Layout]) and the write-ahead-log layer ([walog.LogMgr]) need, so
// both can be driven against a fault-injecting [Chaos] filesystem in
// crash-recovery tests instead of only ever touching a real disk.
//
// The surface is deliberately narrow: it covers exactly the operations
// CascaDB's storage layers perform -- open/create the `<db>.cdb` data file
// or a log segment, list the log directory, create the directory tree,
// check a path's existence, and remove a retired log segment -- rather than
// a general-purpose filesystem facade. [Real] is the production
// implementation; [Chaos] wraps it to inject faults, and [StrictTestFS]
// wraps either to fail a test loudly on any *unexpected* error.
package fs

import "os"

// File represents an open file descriptor.
//
// internal/layout/pio.go reaches through Fd() to do positional pread/pwrite
// via golang.org/x/sys/unix (so concurrent block reads/writes on the data
// file don't contend on a shared seek offset); walog reads/writes
// sequentially through Read/Write during segment writing and replay.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error

	// Fd returns the underlying file descriptor, used by internal/layout/pio.go
	// for positional I/O. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync]. A
	// failed Sync is how [Chaos] models an fsync that surfaces a delayed
	// write error in crash-recovery tests.
	Sync() error
}

// FS is the filesystem interface consumed by [layout.Layout] (the `<db>.cdb`
// data file) and [walog.LogMgr] (the log segment directory).
type FS interface {
	// Open opens path read-only, as used by recovery to replay a closed log
	// segment (internal/walog/recover.go).
	Open(path string) (File, error)

	// OpenFile opens path with the given flags, as used to create/append the
	// data file (internal/layout/layout.go) and the active log segment
	// (internal/walog/mgr.go).
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadDir lists the log directory so LogMgr can discover existing
	// segments on open, and recovery can replay them in filename order.
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates the database directory and the log segment directory.
	MkdirAll(path string, perm os.FileMode) error

	// Stat sizes a log segment before replay (internal/walog/recover.go).
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether the data file already exists, so Layout.Open
	// knows whether to initialize a fresh header or read an existing one.
	Exists(path string) (bool, error)

	// Remove deletes a log segment once its records are durably
	// checkpointed and it is no longer needed for recovery.
	Remove(path string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
