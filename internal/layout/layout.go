// Package layout implements the on-disk block store consumed by the node
// cache (§6 "Layout (consumed)"): allocating, reading, and asynchronously
// writing serialized node blocks in a single data file, plus the
// checkpoint LSN that ties the log to durable tree state.
//
// Grounded on pkg/fs's File/FS abstractions for the underlying file
// operations and on pkg/slotcache/format.go's header+CRC32C pattern for
// the block and file-header framing.
package layout

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cascadadb/cascadadb/internal/compress"
	"github.com/cascadadb/cascadadb/internal/crcutil"
	"github.com/cascadadb/cascadadb/internal/fs"
	"github.com/cascadadb/cascadadb/internal/node"
)

const (
	magic      = "CASCADB1"
	headerSize = 8 + 8 + 8 + 8 + 4 // magic, checkpointLSN, indexOffset, indexLength, indexCRC
)

// blockLoc records where one node's serialized block lives in the data
// file, and enough shape to split skeleton-only reads from full reads.
type blockLoc struct {
	Offset       int64
	Size         int32
	Kind         node.Kind
	SkeletonSize int32
}

// Layout owns the single `<dbname>.cdb` data file for one tree (§6 Data
// file naming).
type Layout struct {
	mu         sync.RWMutex
	f          fs.File
	nextOffset int64
	index      map[node.NID]blockLoc

	checkpointLSN atomic.Uint64

	comp     *compress.Compressor
	checkCRC bool
}

// Open opens (creating if create is true and the file is empty/new) the
// data file at path using fsys.
func Open(fsys fs.FS, path string, create bool, comp *compress.Compressor, checkCRC bool) (*Layout, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("layout: stat %s: %w", path, err)
	}
	if !exists && !create {
		return nil, fmt.Errorf("layout: %s does not exist", path)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("layout: open %s: %w", path, err)
	}

	l := &Layout{f: f, comp: comp, checkCRC: checkCRC, index: make(map[node.NID]blockLoc)}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("layout: stat open file: %w", err)
	}
	if info.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			return nil, err
		}
		l.nextOffset = headerSize
		return l, nil
	}

	if err := l.readHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) writeHeader() error {
	return l.writeHeaderLocked(0, 0, 0)
}

// writeHeaderLocked writes the fixed file header at offset 0. Callers
// must hold l.mu.
func (l *Layout) writeHeaderLocked(indexOffset, indexLength int64, indexCRC uint32) error {
	buf := make([]byte, headerSize)
	copy(buf, magic)
	binary.LittleEndian.PutUint64(buf[8:], l.checkpointLSN.Load())
	binary.LittleEndian.PutUint64(buf[16:], uint64(indexOffset))
	binary.LittleEndian.PutUint64(buf[24:], uint64(indexLength))
	binary.LittleEndian.PutUint32(buf[32:], indexCRC)
	if err := pwriteFull(l.f, buf, 0); err != nil {
		return fmt.Errorf("layout: write header: %w", err)
	}
	return nil
}

func (l *Layout) readHeader() error {
	buf := make([]byte, headerSize)
	if err := preadFull(l.f, buf, 0); err != nil {
		return fmt.Errorf("layout: read header: %w", err)
	}
	if string(buf[:8]) != magic {
		return fmt.Errorf("layout: bad magic %q", buf[:8])
	}
	l.checkpointLSN.Store(binary.LittleEndian.Uint64(buf[8:]))
	indexOffset := int64(binary.LittleEndian.Uint64(buf[16:]))
	indexLength := int64(binary.LittleEndian.Uint64(buf[24:]))
	indexCRC := binary.LittleEndian.Uint32(buf[32:])

	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("layout: stat: %w", err)
	}
	l.nextOffset = info.Size()
	if l.nextOffset < headerSize {
		l.nextOffset = headerSize
	}

	if indexLength == 0 {
		return nil // fresh file, or never checkpointed
	}

	idxBuf := make([]byte, indexLength)
	if err := preadFull(l.f, idxBuf, indexOffset); err != nil {
		return fmt.Errorf("layout: read index: %w", err)
	}
	if l.checkCRC && !crcutil.Verify(idxBuf, indexCRC) {
		return fmt.Errorf("layout: index checksum mismatch")
	}
	if err := l.decodeIndex(idxBuf); err != nil {
		return fmt.Errorf("layout: decode index: %w", err)
	}
	return nil
}

func (l *Layout) decodeIndex(buf []byte) error {
	if len(buf) < 4 {
		return fmt.Errorf("short index")
	}
	count := binary.LittleEndian.Uint32(buf)
	off := 4
	idx := make(map[node.NID]blockLoc, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < off+8+8+4+1+4 {
			return fmt.Errorf("short index entry")
		}
		nid := node.NID(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		loc := blockLoc{}
		loc.Offset = int64(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		loc.Size = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		loc.Kind = node.Kind(buf[off])
		off += 1
		loc.SkeletonSize = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		idx[nid] = loc
	}
	l.index = idx
	return nil
}

func (l *Layout) encodeIndex() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(l.index)))
	for nid, loc := range l.index {
		var tmp [8 + 8 + 4 + 1 + 4]byte
		binary.LittleEndian.PutUint64(tmp[0:], uint64(nid))
		binary.LittleEndian.PutUint64(tmp[8:], uint64(loc.Offset))
		binary.LittleEndian.PutUint32(tmp[16:], uint32(loc.Size))
		tmp[20] = byte(loc.Kind)
		binary.LittleEndian.PutUint32(tmp[21:], uint32(loc.SkeletonSize))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

