package node_test

import (
	"testing"

	"github.com/cascadadb/cascadadb/internal/node"
)

func Test_IsLeaf(t *testing.T) {
	cases := []struct {
		nid  node.NID
		want bool
	}{
		{node.NIDNil, false},
		{node.NIDSchema, false},
		{node.NIDStart, false},
		{node.NIDLeafStart, true},
		{node.NIDLeafStart + 1, true},
	}
	for _, c := range cases {
		if got := node.IsLeaf(c.nid); got != c.want {
			t.Errorf("IsLeaf(%d) = %v, want %v", c.nid, got, c.want)
		}
	}
}

func Test_Base_DirtyStampsFirstWriteOnce(t *testing.T) {
	b := node.NewBase(node.NIDStart, 1)
	if b.Dirty() {
		t.Fatal("new Base is dirty, want clean")
	}

	b.SetDirty(true)
	if !b.Dirty() {
		t.Fatal("SetDirty(true) did not mark dirty")
	}
	first := b.FirstWriteTimestamp()

	b.SetDirty(true)
	if b.FirstWriteTimestamp() != first {
		t.Fatal("second SetDirty(true) moved FirstWriteTimestamp")
	}

	b.SetDirty(false)
	if b.Dirty() {
		t.Fatal("SetDirty(false) left node dirty")
	}
}

func Test_Base_RefCounting(t *testing.T) {
	b := node.NewBase(node.NIDStart, 1)
	if b.Ref() != 0 {
		t.Fatalf("Ref() = %d, want 0", b.Ref())
	}
	b.IncRef()
	b.IncRef()
	if b.Ref() != 2 {
		t.Fatalf("Ref() after two IncRef = %d, want 2", b.Ref())
	}
	b.DecRef()
	if b.Ref() != 1 {
		t.Fatalf("Ref() after DecRef = %d, want 1", b.Ref())
	}
}

func Test_Base_PinExpensive_ExcludesPin(t *testing.T) {
	b := node.NewBase(node.NIDStart, 1)
	b.PinExpensive()
	if b.TryPinCheap() {
		t.Fatal("TryPinCheap succeeded while PinExpensive held")
	}
	b.UnpinExpensive()
	if !b.TryPinCheap() {
		t.Fatal("TryPinCheap failed after PinExpensive released")
	}
	b.UnpinCheap()
}

func Test_Base_FlushingAndDeadFlags(t *testing.T) {
	b := node.NewBase(node.NIDStart, 1)
	if b.Flushing() || b.Dead() {
		t.Fatal("new Base has Flushing or Dead set")
	}
	b.SetFlushing(true)
	b.SetDead(true)
	if !b.Flushing() || !b.Dead() {
		t.Fatal("SetFlushing/SetDead did not stick")
	}
}
