// Package compress implements the Compressor contract consumed by the node
// cache's writeback path (§6): compress/uncompress a node block, tagging
// the output with a one-byte method so uncompress can dispatch regardless
// of the compressor currently configured.
//
// The original source offered none/snappy/quicklz. QuickLZ has no
// maintained Go port in the retrieval pack, so its slot is served by
// compress/flate, keeping the same three-tag wire contract.
package compress

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Method is the first-byte tag written ahead of every compressed block.
type Method byte

const (
	MethodNone   Method = 0
	MethodSnappy Method = 1
	MethodFlate  Method = 2
)

// Compressor matches the original Layout-facing contract: compress writes
// a method tag, uncompress reads it back off of ibuf and dispatches.
type Compressor struct {
	Method Method
}

// New returns a Compressor using m for future Compress calls.
func New(m Method) *Compressor {
	return &Compressor{Method: m}
}

// MaxCompressedLen returns a safe upper bound on the compressed size of a
// plaintext block of n bytes, including the method tag.
func (c *Compressor) MaxCompressedLen(n int) int {
	switch c.Method {
	case MethodSnappy:
		return 1 + snappy.MaxEncodedLen(n)
	case MethodFlate:
		return 1 + n + n/2 + 64 // flate has no constant bound; pad generously
	default:
		return 1 + n
	}
}

// Compress tags and compresses ibuf using c.Method, returning the
// resulting buffer.
func (c *Compressor) Compress(ibuf []byte) ([]byte, error) {
	switch c.Method {
	case MethodNone:
		out := make([]byte, 1+len(ibuf))
		out[0] = byte(MethodNone)
		copy(out[1:], ibuf)
		return out, nil
	case MethodSnappy:
		dst := make([]byte, c.MaxCompressedLen(len(ibuf))-1)
		encoded := snappy.Encode(dst, ibuf)
		out := make([]byte, 1+len(encoded))
		out[0] = byte(MethodSnappy)
		copy(out[1:], encoded)
		return out, nil
	case MethodFlate:
		var buf bytes.Buffer
		buf.WriteByte(byte(MethodFlate))
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("compress: flate writer: %w", err)
		}
		if _, err := w.Write(ibuf); err != nil {
			return nil, fmt.Errorf("compress: flate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: flate close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("compress: unknown method %d", c.Method)
	}
}

// Uncompress reads the method tag off ibuf and dispatches, regardless of
// c.Method, matching the original contract ("uncompress dispatches on it
// regardless of configured method").
func Uncompress(ibuf []byte) ([]byte, error) {
	if len(ibuf) < 1 {
		return nil, fmt.Errorf("uncompress: empty input")
	}
	method := Method(ibuf[0])
	body := ibuf[1:]
	switch method {
	case MethodNone:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case MethodSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("uncompress: snappy: %w", err)
		}
		return out, nil
	case MethodFlate:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("uncompress: flate: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("uncompress: unknown method tag %d", method)
	}
}
