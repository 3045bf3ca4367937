package msg_test

import (
	"testing"

	"github.com/cascadadb/cascadadb/internal/msg"
	"github.com/cascadadb/cascadadb/internal/slice"
)

func Test_Message_WriteTo_ReadMessage_RoundTrip(t *testing.T) {
	cases := []msg.Message{
		{Type: msg.Put, Key: slice.Slice("k1"), Value: slice.Slice("v1")},
		{Type: msg.Del, Key: slice.Slice("k2")},
		{Type: msg.Put, Key: slice.Slice(""), Value: slice.Slice("")},
	}
	for _, m := range cases {
		buf := m.WriteTo(nil)
		got, n, err := msg.ReadMessage(buf)
		if err != nil {
			t.Fatalf("ReadMessage(%v): %v", m, err)
		}
		if n != len(buf) {
			t.Fatalf("ReadMessage consumed %d, want %d", n, len(buf))
		}
		if got.Type != m.Type || !got.Key.Equal(m.Key) || !got.Value.Equal(m.Value) {
			t.Fatalf("round-trip %+v, want %+v", got, m)
		}
	}
}

func Test_Message_Size_MatchesWriteTo(t *testing.T) {
	m := msg.Message{Type: msg.Put, Key: slice.Slice("key"), Value: slice.Slice("value")}
	if got := len(m.WriteTo(nil)); got != m.Size() {
		t.Fatalf("Size() = %d, wire length = %d", m.Size(), got)
	}

	del := msg.Message{Type: msg.Del, Key: slice.Slice("key")}
	if got := len(del.WriteTo(nil)); got != del.Size() {
		t.Fatalf("Del Size() = %d, wire length = %d", del.Size(), got)
	}
}

func Test_ReadMessage_ShortBuffer(t *testing.T) {
	if _, _, err := msg.ReadMessage(nil); err == nil {
		t.Fatal("ReadMessage(nil) = nil error, want error")
	}
}

func Test_MsgBuf_Write_UpsertsSameKey(t *testing.T) {
	b := msg.NewMsgBuf(slice.Bytewise{})
	b.Write(msg.Message{Type: msg.Put, Key: slice.Slice("a"), Value: slice.Slice("1")})
	b.Write(msg.Message{Type: msg.Put, Key: slice.Slice("a"), Value: slice.Slice("2")})

	if b.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (upsert)", b.Count())
	}
	got, ok := b.Find(slice.Slice("a"))
	if !ok || string(got.Value) != "2" {
		t.Fatalf("Find(a) = %+v, %v, want value 2", got, ok)
	}
}

func Test_MsgBuf_Write_StaysSorted(t *testing.T) {
	b := msg.NewMsgBuf(slice.Bytewise{})
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		b.Write(msg.Message{Type: msg.Put, Key: slice.Slice(k), Value: slice.Slice(k)})
	}
	msgs := b.Messages()
	for i := 1; i < len(msgs); i++ {
		if string(msgs[i-1].Key) >= string(msgs[i].Key) {
			t.Fatalf("messages not sorted: %v", msgs)
		}
	}
}

func Test_MsgBuf_Size_TracksUpsert(t *testing.T) {
	b := msg.NewMsgBuf(slice.Bytewise{})
	m1 := msg.Message{Type: msg.Put, Key: slice.Slice("k"), Value: slice.Slice("short")}
	b.Write(m1)
	if b.Size() != m1.Size() {
		t.Fatalf("Size() = %d, want %d", b.Size(), m1.Size())
	}

	m2 := msg.Message{Type: msg.Put, Key: slice.Slice("k"), Value: slice.Slice("a much longer value")}
	b.Write(m2)
	if b.Size() != m2.Size() {
		t.Fatalf("Size() after upsert = %d, want %d", b.Size(), m2.Size())
	}
}

func Test_MsgBuf_Append_MergesAndUpserts(t *testing.T) {
	a := msg.NewMsgBuf(slice.Bytewise{})
	a.Write(msg.Message{Type: msg.Put, Key: slice.Slice("x"), Value: slice.Slice("1")})

	b := msg.NewMsgBuf(slice.Bytewise{})
	b.Write(msg.Message{Type: msg.Put, Key: slice.Slice("x"), Value: slice.Slice("2")})
	b.Write(msg.Message{Type: msg.Del, Key: slice.Slice("y")})

	a.Append(b)
	if a.Count() != 2 {
		t.Fatalf("Count() after Append = %d, want 2", a.Count())
	}
	got, _ := a.Find(slice.Slice("x"))
	if string(got.Value) != "2" {
		t.Fatalf("Find(x) after Append = %q, want %q (other wins)", got.Value, "2")
	}
	if b.Count() != 2 {
		t.Fatalf("other buffer mutated by Append: Count() = %d, want 2", b.Count())
	}
}

func Test_MsgBuf_Clear(t *testing.T) {
	b := msg.NewMsgBuf(slice.Bytewise{})
	b.Write(msg.Message{Type: msg.Put, Key: slice.Slice("k"), Value: slice.Slice("v")})
	b.Clear()
	if !b.Empty() || b.Count() != 0 || b.Size() != 0 {
		t.Fatalf("Clear() left Empty=%v Count=%d Size=%d, want true, 0, 0", b.Empty(), b.Count(), b.Size())
	}
}

func Test_MsgBuf_Serialize_Deserialize_RoundTrip(t *testing.T) {
	orig := msg.NewMsgBuf(slice.Bytewise{})
	orig.Write(msg.Message{Type: msg.Put, Key: slice.Slice("a"), Value: slice.Slice("1")})
	orig.Write(msg.Message{Type: msg.Del, Key: slice.Slice("b")})
	orig.Write(msg.Message{Type: msg.Put, Key: slice.Slice("c"), Value: slice.Slice("3")})

	buf := orig.Serialize(nil)

	got := msg.NewMsgBuf(slice.Bytewise{})
	n, err := got.Deserialize(buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Deserialize consumed %d, want %d", n, len(buf))
	}
	if got.Count() != orig.Count() || got.Size() != orig.Size() {
		t.Fatalf("round-trip Count/Size = %d/%d, want %d/%d", got.Count(), got.Size(), orig.Count(), orig.Size())
	}
	for _, want := range orig.Messages() {
		m, ok := got.Find(want.Key)
		if !ok || m.Type != want.Type || !m.Value.Equal(want.Value) {
			t.Fatalf("Find(%q) = %+v, %v, want %+v", want.Key, m, ok, want)
		}
	}
}
