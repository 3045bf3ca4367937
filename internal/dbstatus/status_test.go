package dbstatus_test

import (
	"sync"
	"testing"

	"github.com/cascadadb/cascadadb/internal/dbstatus"
)

func Test_New_StartsZeroed(t *testing.T) {
	s := dbstatus.New()
	snap := s.Snapshot()
	if snap.InnerNodeSplitNum != 0 || snap.LeafSplitNum != 0 || snap.CachePutNum != 0 {
		t.Fatalf("fresh Status snapshot is non-zero: %+v", snap)
	}
}

func Test_Snapshot_ReflectsCounterUpdates(t *testing.T) {
	s := dbstatus.New()
	s.InnerNodeSplitNum.Add(3)
	s.LeafCreatedNum.Add(1)
	s.CacheGetNum.Add(10)

	snap := s.Snapshot()
	if snap.InnerNodeSplitNum != 3 {
		t.Fatalf("InnerNodeSplitNum = %d, want 3", snap.InnerNodeSplitNum)
	}
	if snap.LeafCreatedNum != 1 {
		t.Fatalf("LeafCreatedNum = %d, want 1", snap.LeafCreatedNum)
	}
	if snap.CacheGetNum != 10 {
		t.Fatalf("CacheGetNum = %d, want 10", snap.CacheGetNum)
	}
}

func Test_Snapshot_ConcurrentIncrements(t *testing.T) {
	s := dbstatus.New()
	var wg sync.WaitGroup
	const goroutines = 50
	const perGoroutine = 100
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s.BlockReadNum.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := s.Snapshot().BlockReadNum; got != goroutines*perGoroutine {
		t.Fatalf("BlockReadNum = %d, want %d", got, goroutines*perGoroutine)
	}
}
