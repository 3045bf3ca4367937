package fs_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cascadadb/cascadadb/internal/fs"
)

// fakeTB is a minimal fs.TestBuilder that records Fatalf calls instead of
// aborting, so these tests can assert on StrictTestFS's pass/fail
// decisions without failing the outer test themselves.
type fakeTB struct {
	fataled bool
	msgs    []string
	failed  bool
}

func (f *fakeTB) Helper()         {}
func (f *fakeTB) Cleanup(func())  {}
func (f *fakeTB) Failed() bool    { return f.failed }
func (f *fakeTB) Logf(format string, args ...any) {
	f.msgs = append(f.msgs, fmt.Sprintf(format, args...))
}
func (f *fakeTB) Fatalf(format string, args ...any) {
	f.fataled = true
	f.msgs = append(f.msgs, fmt.Sprintf(format, args...))
}

// Contract: a real (non-injected) filesystem error fails the test loudly --
// this is what lets a crash-recovery test trust that every failure it sees
// was one it asked Chaos to produce.
func Test_StrictTestFS_Fatals_On_Real_Error(t *testing.T) {
	tb := &fakeTB{}
	s := fs.NewStrictTestFS(tb, fs.StrictTestFSOptions{FS: fs.NewReal()})

	_, err := s.Stat(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("Stat of a missing path unexpectedly succeeded")
	}
	if !tb.fataled {
		t.Fatal("StrictTestFS should have called Fatalf on a real filesystem error")
	}
}

// Contract: an error Chaos injected does NOT fail the test -- it's the
// scenario under test, not an environment problem.
func Test_StrictTestFS_DoesNotFatal_On_ChaosError(t *testing.T) {
	tb := &fakeTB{}
	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{OpenFailRate: 1})
	s := fs.NewStrictTestFS(tb, fs.StrictTestFSOptions{FS: chaos})

	path := filepath.Join(t.TempDir(), "t.cdb")
	_, err := s.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err == nil {
		t.Fatal("OpenFile succeeded, want injected failure")
	}
	if tb.fataled {
		t.Fatalf("StrictTestFS should not Fatalf on a Chaos-injected error, msgs=%v", tb.msgs)
	}
}

// Contract: the trace records every operation, one line each, in the
// order the operations were made.
func Test_StrictTestFS_Trace_RecordsOpsInOrder(t *testing.T) {
	tb := &fakeTB{}
	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{})
	s := fs.NewStrictTestFS(tb, fs.StrictTestFSOptions{FS: chaos})

	dir := t.TempDir()
	if err := s.MkdirAll(filepath.Join(dir, "log"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if _, err := s.ReadDir(filepath.Join(dir, "log")); err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	trace := s.Trace()
	if trace == "" {
		t.Fatal("expected a non-empty trace after two operations")
	}
	lines := strings.Split(trace, "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "#1 mkdirall") || !strings.HasPrefix(lines[1], "#2 readdir") {
		t.Fatalf("trace = %q, want \"#1 mkdirall ...\" then \"#2 readdir ...\"", trace)
	}
}
