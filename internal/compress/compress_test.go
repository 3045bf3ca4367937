package compress_test

import (
	"bytes"
	"testing"

	"github.com/cascadadb/cascadadb/internal/compress"
)

func Test_CompressUncompress_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)

	for _, method := range []compress.Method{compress.MethodNone, compress.MethodSnappy, compress.MethodFlate} {
		c := compress.New(method)
		encoded, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("method %d: Compress: %v", method, err)
		}
		if encoded[0] != byte(method) {
			t.Fatalf("method %d: tag byte = %d, want %d", method, encoded[0], method)
		}

		decoded, err := compress.Uncompress(encoded)
		if err != nil {
			t.Fatalf("method %d: Uncompress: %v", method, err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("method %d: round-trip mismatch", method)
		}
	}
}

func Test_Uncompress_DispatchesOnTagRegardlessOfConfiguredMethod(t *testing.T) {
	payload := []byte("mixed method stream")
	snappyEncoded, err := compress.New(compress.MethodSnappy).Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	// Uncompress reads the tag, not a configured method, so it doesn't
	// matter that no Compressor with MethodSnappy is involved here.
	decoded, err := compress.Uncompress(snappyEncoded)
	if err != nil {
		t.Fatalf("Uncompress: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatal("Uncompress mismatch dispatching purely off the tag byte")
	}
}

func Test_Uncompress_EmptyInput(t *testing.T) {
	if _, err := compress.Uncompress(nil); err == nil {
		t.Fatal("Uncompress(nil) = nil error, want error")
	}
}

func Test_Uncompress_UnknownMethodTag(t *testing.T) {
	if _, err := compress.Uncompress([]byte{0xFF, 1, 2, 3}); err == nil {
		t.Fatal("Uncompress with unknown tag = nil error, want error")
	}
}

func Test_MaxCompressedLen_UpperBoundsActualOutput(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 4096)
	for _, method := range []compress.Method{compress.MethodNone, compress.MethodSnappy} {
		c := compress.New(method)
		bound := c.MaxCompressedLen(len(payload))
		encoded, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("method %d: Compress: %v", method, err)
		}
		if len(encoded) > bound {
			t.Fatalf("method %d: encoded len %d exceeds MaxCompressedLen %d", method, len(encoded), bound)
		}
	}
}

func Test_CompressNone_RoundTripsEmptyInput(t *testing.T) {
	c := compress.New(compress.MethodNone)
	encoded, err := c.Compress(nil)
	if err != nil {
		t.Fatalf("Compress(nil): %v", err)
	}
	decoded, err := compress.Uncompress(encoded)
	if err != nil {
		t.Fatalf("Uncompress: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("decoded = %v, want empty", decoded)
	}
}
