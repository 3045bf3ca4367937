package node_test

import (
	"testing"

	"github.com/cascadadb/cascadadb/internal/msg"
	"github.com/cascadadb/cascadadb/internal/node"
	"github.com/cascadadb/cascadadb/internal/slice"
)

func Test_InnerNode_TargetChild_RoutesByPivot(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart
	n.AddPivot(slice.Slice("m"), node.NIDLeafStart+1)

	if got := n.TargetChild(slice.Slice("a")); got != node.NIDLeafStart {
		t.Fatalf("TargetChild(a) = %d, want FirstChild %d", got, node.NIDLeafStart)
	}
	if got := n.TargetChild(slice.Slice("m")); got != node.NIDLeafStart+1 {
		t.Fatalf("TargetChild(m) = %d, want %d", got, node.NIDLeafStart+1)
	}
	if got := n.TargetChild(slice.Slice("z")); got != node.NIDLeafStart+1 {
		t.Fatalf("TargetChild(z) = %d, want %d", got, node.NIDLeafStart+1)
	}
}

func Test_InnerNode_Put_BuffersIntoTargetSlot(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart
	n.AddPivot(slice.Slice("m"), node.NIDLeafStart+1)

	n.Put(msg.Message{Type: msg.Put, Key: slice.Slice("a"), Value: slice.Slice("1")})
	n.Put(msg.Message{Type: msg.Put, Key: slice.Slice("z"), Value: slice.Slice("2")})

	if got, ok := n.FindMessage(slice.Slice("a")); !ok || string(got.Value) != "1" {
		t.Fatalf("FindMessage(a) = %+v, %v, want value 1", got, ok)
	}
	if got, ok := n.FindMessage(slice.Slice("z")); !ok || string(got.Value) != "2" {
		t.Fatalf("FindMessage(z) = %+v, %v, want value 2", got, ok)
	}
	if !n.Dirty() {
		t.Fatal("Put did not mark node dirty")
	}
}

func Test_InnerNode_NeedsCascade_OnMsgCountOverflow(t *testing.T) {
	limits := node.InnerLimits{ChildrenNumber: 16, PageSize: 1 << 20, MsgCount: 2}
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart

	if n.NeedsCascade(limits) {
		t.Fatal("empty node reports NeedsCascade")
	}
	for _, k := range []string{"a", "b", "c"} {
		n.Put(msg.Message{Type: msg.Put, Key: slice.Slice(k), Value: slice.Slice(k)})
	}
	if !n.NeedsCascade(limits) {
		t.Fatal("node with 3 buffered msgs over MsgCount=2 does not report NeedsCascade")
	}
}

func Test_InnerNode_LargestBuffer_PicksBiggest(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart
	n.AddPivot(slice.Slice("m"), node.NIDLeafStart+1)

	// pivot slot gets two messages, first_child slot gets one: pivot wins.
	n.Put(msg.Message{Type: msg.Put, Key: slice.Slice("z"), Value: slice.Slice("1")})
	n.Put(msg.Message{Type: msg.Put, Key: slice.Slice("y"), Value: slice.Slice("2")})
	n.Put(msg.Message{Type: msg.Put, Key: slice.Slice("a"), Value: slice.Slice("1")})

	isFirst, idx := n.LargestBuffer()
	if isFirst {
		t.Fatal("LargestBuffer picked first_child slot, want pivot slot")
	}
	if idx != 0 {
		t.Fatalf("LargestBuffer idx = %d, want 0", idx)
	}
}

func Test_InnerNode_AddPivot_KeepsSortedOrder(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart
	n.AddPivot(slice.Slice("m"), node.NIDLeafStart+1)
	n.AddPivot(slice.Slice("g"), node.NIDLeafStart+2)
	n.AddPivot(slice.Slice("t"), node.NIDLeafStart+3)

	var keys []string
	for _, p := range n.Pivots {
		keys = append(keys, string(p.Key))
	}
	want := []string{"g", "m", "t"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("Pivots order = %v, want %v", keys, want)
		}
	}
}

func Test_InnerNode_RemovePivot_PromotesFirstChildSlot(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart
	n.AddPivot(slice.Slice("m"), node.NIDLeafStart+1)

	if !n.RemovePivot(node.NIDLeafStart) {
		t.Fatal("RemovePivot(FirstChild) = false, want true")
	}
	if n.FirstChild != node.NIDLeafStart+1 {
		t.Fatalf("FirstChild after promotion = %d, want %d", n.FirstChild, node.NIDLeafStart+1)
	}
	if len(n.Pivots) != 0 {
		t.Fatalf("Pivots after promotion = %v, want empty", n.Pivots)
	}
}

func Test_InnerNode_RemovePivot_UnknownChild(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart
	if n.RemovePivot(node.NIDLeafStart + 99) {
		t.Fatal("RemovePivot on an absent child returned true")
	}
}

func Test_InnerNode_Empty(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	if !n.Empty() {
		t.Fatal("fresh inner node with no FirstChild reports non-empty")
	}
	n.FirstChild = node.NIDLeafStart
	if n.Empty() {
		t.Fatal("node with FirstChild set reports Empty")
	}
}

func Test_InnerNode_Split_PromotesMedianAndMovesUpperHalf(t *testing.T) {
	n := node.NewInnerNode(node.NIDStart, 1, true, slice.Bytewise{})
	n.FirstChild = node.NIDLeafStart
	for i, k := range []string{"b", "d", "f", "h"} {
		n.AddPivot(slice.Slice(k), node.NIDLeafStart+1+node.NID(i))
	}

	var nextID node.NID = 100
	alloc := func() node.NID { nextID++; return nextID }

	before := len(n.Pivots)
	result := n.Split(alloc)

	if len(n.Pivots)+1+len(result.NewNode.Pivots) != before {
		t.Fatalf("split changed total pivot count: left=%d right=%d, before=%d", len(n.Pivots), len(result.NewNode.Pivots), before)
	}
	if result.NewNode.Bottom != n.Bottom {
		t.Fatal("split sibling has different Bottom flag than original")
	}
	if result.PromotedKey == nil {
		t.Fatal("Split did not return a promoted key")
	}
}
