package layout_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cascadadb/cascadadb/internal/compress"
	"github.com/cascadadb/cascadadb/internal/fs"
	"github.com/cascadadb/cascadadb/internal/layout"
	"github.com/cascadadb/cascadadb/internal/node"
)

func openLayout(t *testing.T, comp compress.Method, checkCRC bool) (*layout.Layout, string) {
	t.Helper()
	dir := fs.NewReal()
	path := filepath.Join(t.TempDir(), "t.cdb")
	lay, err := layout.Open(dir, path, true, compress.New(comp), checkCRC)
	if err != nil {
		t.Fatalf("layout.Open: %v", err)
	}
	return lay, path
}

func writeNode(t *testing.T, lay *layout.Layout, nid node.NID, kind node.Kind, skeleton, body []byte) {
	t.Helper()
	size := 1 + 4 + len(skeleton) + 4 + len(body) + 64 // generous over-estimate for compression overhead
	r := lay.Create(size)
	if err := lay.Write(nid, kind, skeleton, body, r); err != nil {
		t.Fatalf("Write(%d): %v", nid, err)
	}
}

func Test_WriteRead_RoundTrip(t *testing.T) {
	lay, _ := openLayout(t, compress.MethodNone, true)
	defer lay.Close()

	skeleton := []byte("skeleton-bytes")
	body := []byte("body-bytes-payload")
	writeNode(t, lay, node.NIDLeafStart, node.KindLeaf, skeleton, body)

	kind, gotSkel, gotBody, err := lay.Read(node.NIDLeafStart, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if kind != node.KindLeaf {
		t.Fatalf("Kind = %v, want %v", kind, node.KindLeaf)
	}
	if !bytes.Equal(gotSkel, skeleton) {
		t.Fatalf("skeleton = %q, want %q", gotSkel, skeleton)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body = %q, want %q", gotBody, body)
	}
}

func Test_Read_SkeletonOnly_OmitsBody(t *testing.T) {
	lay, _ := openLayout(t, compress.MethodNone, true)
	defer lay.Close()

	skeleton := []byte("skel")
	body := []byte("a large body that should not be read back")
	writeNode(t, lay, node.NIDLeafStart, node.KindLeaf, skeleton, body)

	kind, gotSkel, gotBody, err := lay.Read(node.NIDLeafStart, true)
	if err != nil {
		t.Fatalf("Read(skeletonOnly): %v", err)
	}
	if kind != node.KindLeaf {
		t.Fatalf("Kind = %v, want %v", kind, node.KindLeaf)
	}
	if !bytes.Equal(gotSkel, skeleton) {
		t.Fatalf("skeleton = %q, want %q", gotSkel, skeleton)
	}
	if gotBody != nil {
		t.Fatalf("body = %q, want nil on skeleton-only read", gotBody)
	}
}

func Test_Read_MissingNID_ErrNotFound(t *testing.T) {
	lay, _ := openLayout(t, compress.MethodNone, true)
	defer lay.Close()

	_, _, _, err := lay.Read(node.NIDLeafStart+999, false)
	if !errors.Is(err, layout.ErrNotFound) {
		t.Fatalf("Read of missing nid: err = %v, want wrapping ErrNotFound", err)
	}
}

func Test_Delete_ThenReadErrNotFound(t *testing.T) {
	lay, _ := openLayout(t, compress.MethodNone, true)
	defer lay.Close()

	writeNode(t, lay, node.NIDLeafStart, node.KindLeaf, []byte("s"), []byte("b"))
	if err := lay.Delete(node.NIDLeafStart); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, _, err := lay.Read(node.NIDLeafStart, false); !errors.Is(err, layout.ErrNotFound) {
		t.Fatalf("Read after Delete: err = %v, want ErrNotFound", err)
	}
}

func Test_Compression_RoundTripsThroughWriteRead(t *testing.T) {
	lay, _ := openLayout(t, compress.MethodSnappy, true)
	defer lay.Close()

	body := bytes.Repeat([]byte("compressible payload "), 50)
	writeNode(t, lay, node.NIDLeafStart, node.KindLeaf, []byte("skel"), body)

	_, _, gotBody, err := lay.Read(node.NIDLeafStart, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatal("compressed round-trip mismatch")
	}
}

func Test_MakeCheckpoint_PersistsIndexAcrossReopen(t *testing.T) {
	dir := fs.NewReal()
	path := filepath.Join(t.TempDir(), "t.cdb")

	lay, err := layout.Open(dir, path, true, compress.New(compress.MethodNone), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	writeNode(t, lay, node.NIDLeafStart, node.KindLeaf, []byte("skel"), []byte("body"))
	if err := lay.MakeCheckpoint(42); err != nil {
		t.Fatalf("MakeCheckpoint: %v", err)
	}
	if err := lay.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := layout.Open(dir, path, false, compress.New(compress.MethodNone), true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.CheckpointLSN() != 42 {
		t.Fatalf("CheckpointLSN after reopen = %d, want 42", reopened.CheckpointLSN())
	}
	_, skel, body, err := reopened.Read(node.NIDLeafStart, false)
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(skel, []byte("skel")) || !bytes.Equal(body, []byte("body")) {
		t.Fatalf("reopened block = %q/%q, want skel/body", skel, body)
	}
}

func Test_AsyncWrite_CallbackThenReadable(t *testing.T) {
	lay, _ := openLayout(t, compress.MethodNone, true)
	defer lay.Close()

	done := make(chan error, 1)
	lay.AsyncWrite(node.NIDLeafStart, node.KindLeaf, []byte("s"), []byte("b"), func(err error) {
		done <- err
	})
	if err := <-done; err != nil {
		t.Fatalf("AsyncWrite callback error: %v", err)
	}

	_, skel, body, err := lay.Read(node.NIDLeafStart, false)
	if err != nil {
		t.Fatalf("Read after AsyncWrite: %v", err)
	}
	if string(skel) != "s" || string(body) != "b" {
		t.Fatalf("Read = %q/%q, want s/b", skel, body)
	}
}
