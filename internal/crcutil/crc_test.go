package crcutil_test

import (
	"testing"

	"github.com/cascadadb/cascadadb/internal/crcutil"
)

func Test_Sum32_Deterministic(t *testing.T) {
	data := []byte("cascadadb")
	if crcutil.Sum32(data) != crcutil.Sum32(data) {
		t.Fatal("Sum32 not deterministic for identical input")
	}
}

func Test_Sum32_DiffersOnMutation(t *testing.T) {
	a := []byte("abcdef")
	b := []byte("abcdeg")
	if crcutil.Sum32(a) == crcutil.Sum32(b) {
		t.Fatal("Sum32 collided on a single-byte change")
	}
}

func Test_Verify(t *testing.T) {
	data := []byte("some node block bytes")
	sum := crcutil.Sum32(data)

	if !crcutil.Verify(data, sum) {
		t.Fatal("Verify rejected the correct checksum")
	}
	if crcutil.Verify(data, sum+1) {
		t.Fatal("Verify accepted a wrong checksum")
	}

	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF
	if crcutil.Verify(corrupted, sum) {
		t.Fatal("Verify accepted checksum of corrupted data")
	}
}
