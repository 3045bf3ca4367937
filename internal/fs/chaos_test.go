package fs_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cascadadb/cascadadb/internal/fs"
)

// Contract: with ChaosModeNoOp, Chaos behaves exactly like the wrapped FS.
func Test_Chaos_NoOpMode_PassesThrough(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()
	chaos := fs.NewChaos(real, 1, fs.ChaosConfig{
		OpenFailRate: 1, WriteFailRate: 1, ReadFailRate: 1, SyncFailRate: 1,
	})
	chaos.SetMode(fs.ChaosModeNoOp)

	path := filepath.Join(dir, "t.cdb")
	f, err := chaos.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile under NoOp mode: %v", err)
	}
	if _, err := f.Write([]byte("payload")); err != nil {
		t.Fatalf("Write under NoOp mode: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync under NoOp mode: %v", err)
	}
	f.Close()

	if chaos.TotalFaults() != 0 {
		t.Fatalf("TotalFaults = %d, want 0 under NoOp mode", chaos.TotalFaults())
	}
}

// Contract: OpenFailRate=1 deterministically fails every open, and the
// error unwraps to a real os-classifiable error while IsChaosErr marks it
// as intentional.
func Test_Chaos_OpenFailRate_One_AlwaysFails(t *testing.T) {
	dir := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), 7, fs.ChaosConfig{OpenFailRate: 1})

	_, err := chaos.OpenFile(filepath.Join(dir, "t.cdb"), os.O_RDWR|os.O_CREATE, 0o644)
	if err == nil {
		t.Fatal("OpenFile succeeded, want injected failure")
	}
	if !fs.IsChaosErr(err) {
		t.Fatalf("err = %v, want IsChaosErr", err)
	}
	if chaos.Stats().OpenFails != 1 {
		t.Fatalf("OpenFails = %d, want 1", chaos.Stats().OpenFails)
	}
}

// Contract: WriteFailRate=1 fails the log/data file write a WAL append or
// block write would perform, with n==0, matching os.File.Write on a
// syscall error.
func Test_Chaos_WriteFailRate_One_FailsWithZeroBytes(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()
	path := filepath.Join(dir, "t.cdb")

	setup, err := real.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("setup OpenFile: %v", err)
	}
	setup.Close()

	chaos := fs.NewChaos(real, 3, fs.ChaosConfig{WriteFailRate: 1})
	f, err := chaos.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	n, err := f.Write([]byte("payload"))
	if err == nil {
		t.Fatal("Write succeeded, want injected failure")
	}
	if n != 0 {
		t.Fatalf("Write n = %d, want 0 on injected failure", n)
	}
	if !fs.IsChaosErr(err) {
		t.Fatalf("err = %v, want IsChaosErr", err)
	}
}

// Contract: PartialWriteRate=1, ShortWriteRate=1 returns a short write
// (n < len(p)) with io.ErrShortWrite rather than an errno -- the
// "torn write without a syscall error" shape the WAL's durability logic
// must also tolerate.
func Test_Chaos_PartialWrite_ShortWriteRate_One(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()
	path := filepath.Join(dir, "t.cdb")
	setup, _ := real.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	setup.Close()

	chaos := fs.NewChaos(real, 11, fs.ChaosConfig{PartialWriteRate: 1, ShortWriteRate: 1})
	f, err := chaos.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	p := []byte("payload-bytes")
	n, err := f.Write(p)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("err = %v, want io.ErrShortWrite", err)
	}
	if n <= 0 || n >= len(p) {
		t.Fatalf("partial write n = %d, want 0 < n < %d", n, len(p))
	}
	if chaos.Stats().PartialWrites != 1 {
		t.Fatalf("PartialWrites = %d, want 1", chaos.Stats().PartialWrites)
	}
}

// Contract: SyncFailRate=1 fails fsync, the way a delayed write error can
// surface only at fsync time rather than at the preceding Write.
func Test_Chaos_SyncFailRate_One(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()
	path := filepath.Join(dir, "t.cdb")
	setup, _ := real.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	setup.Close()

	chaos := fs.NewChaos(real, 5, fs.ChaosConfig{SyncFailRate: 1})
	f, err := chaos.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if err := f.Sync(); err == nil {
		t.Fatal("Sync succeeded, want injected failure")
	} else if !fs.IsChaosErr(err) {
		t.Fatalf("err = %v, want IsChaosErr", err)
	}
}

// Contract: Chaos never manufactures a missing-path result; ReadDir on a
// directory that truly doesn't exist surfaces the real FS's error
// unchanged, not an injected one.
func Test_Chaos_NeverInjectsENOENT(t *testing.T) {
	chaos := fs.NewChaos(fs.NewReal(), 2, fs.ChaosConfig{ReadDirFailRate: 0})
	_, err := chaos.ReadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("ReadDir of a missing directory unexpectedly succeeded")
	}
	if fs.IsChaosErr(err) {
		t.Fatalf("err = %v, want a real (non-injected) ENOENT", err)
	}
}
