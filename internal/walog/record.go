// Package walog implements the append-only redo log (LogWriter/LogMgr)
// and its recovery scan (LogReader/LogRecover) from §4.5-§4.7 of the
// design.
//
// The record and header framing is ported byte-for-byte from
// src/log/log_writer.cpp and src/log/log_reader.cpp in the original
// CascaDB source (LogWriter::write, LogReader::recovery) -- this is
// called out in the design as exact wire format, not a reinterpretation.
// The surrounding machinery (buffer swap locks, cron loops, directory
// scanning) follows pkg/mddb/wal.go's Go idioms: sentinel errors checked
// with errors.Is, crc32.MakeTable(crc32.Castagnoli) computed once.
package walog

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cascadadb/cascadadb/internal/crcutil"
)

// RecType distinguishes a Put from a Del log record.
type RecType uint8

const (
	RecPut RecType = 0
	RecDel RecType = 1
)

const (
	headerSize = 8 + 4 + 8 // init_lsn + crc32 + reserved (§4.5 log file layout)

	// 4(len)+8(lsn)+4(tbn)+1(type)+4(keylen)+4(vallen)+4(crc)+4(len) with
	// zero-length key and value, the smallest possible record.
	minRecordSize = 4 + 8 + 4 + 1 + 4 + 4 + 4 + 4
)

// ErrCorrupt reports a checksum mismatch in a log header or record.
// Callers should use errors.Is(err, ErrCorrupt).
var ErrCorrupt = errors.New("walog: corrupt")

func recordLen(keyLen, valLen int) uint32 {
	return uint32(4 + 8 + 4 + 1 + 4 + keyLen + 4 + valLen + 4 + 4)
}

// encodeRecord builds the wire form of one record (§4.5):
//
//	len(4) | lsn(8) | tbn(4) | type(1) | keylen(4) | key | vallen(4) | val | crc32(4) | len(4)
//
// crc32 covers everything between the two len fields except itself
// (lsn..val), matching LogWriter::write's
// `crc32(writer.start()+4, len-4-4-4)`.
func encodeRecord(lsn uint64, tbn uint32, typ RecType, key, val []byte) []byte {
	length := recordLen(len(key), len(val))
	buf := make([]byte, 0, length)
	buf = appendU32(buf, length)
	buf = appendU64(buf, lsn)
	buf = appendU32(buf, tbn)
	buf = append(buf, byte(typ))
	buf = appendU32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = appendU32(buf, uint32(len(val)))
	buf = append(buf, val...)
	crc := crcutil.Sum32(buf[4:])
	buf = appendU32(buf, crc)
	buf = appendU32(buf, length)
	return buf
}

// decodedRecord is one parsed log record.
type decodedRecord struct {
	LSN  uint64
	TBN  uint32
	Type RecType
	Key  []byte
	Val  []byte
}

// decodeRecordBody parses the bytes following the leading len field (i.e.
// body has length entryLen-4, ending in crc32(4)+len(4)). checkCRC
// controls whether a mismatch is fatal (§7: "fatal for that file").
func decodeRecordBody(body []byte, checkCRC bool) (decodedRecord, error) {
	if len(body) < minRecordSize-4 {
		return decodedRecord{}, fmt.Errorf("walog: %w: short record body", ErrCorrupt)
	}
	crcEnd := len(body) - 4 - 4 // exclude trailing crc(4) and len(4)
	wantCRC := binary.LittleEndian.Uint32(body[crcEnd:])
	if checkCRC && !crcutil.Verify(body[:crcEnd], wantCRC) {
		return decodedRecord{}, fmt.Errorf("walog: %w: record crc mismatch", ErrCorrupt)
	}

	off := 0
	lsn := binary.LittleEndian.Uint64(body[off:])
	off += 8
	tbn := binary.LittleEndian.Uint32(body[off:])
	off += 4
	typ := RecType(body[off])
	off += 1

	keyLen := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if off+keyLen > crcEnd {
		return decodedRecord{}, fmt.Errorf("walog: %w: key overruns record", ErrCorrupt)
	}
	key := body[off : off+keyLen]
	off += keyLen

	valLen := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if off+valLen > crcEnd {
		return decodedRecord{}, fmt.Errorf("walog: %w: value overruns record", ErrCorrupt)
	}
	val := body[off : off+valLen]

	return decodedRecord{LSN: lsn, TBN: tbn, Type: typ, Key: key, Val: val}, nil
}

// encodeHeader builds the 20-byte log file header: init_lsn(8) |
// crc32(4) of init_lsn | reserved(8) (§4.5 log file layout).
func encodeHeader(initLSN uint64) []byte {
	buf := make([]byte, 0, headerSize)
	buf = appendU64(buf, initLSN)
	crc := crcutil.Sum32(buf)
	buf = appendU32(buf, crc)
	buf = appendU64(buf, 0)
	return buf
}

func decodeHeader(buf []byte) (initLSN uint64, err error) {
	if len(buf) < headerSize {
		return 0, fmt.Errorf("walog: %w: short header", ErrCorrupt)
	}
	initLSN = binary.LittleEndian.Uint64(buf[0:])
	wantCRC := binary.LittleEndian.Uint32(buf[8:])
	if !crcutil.Verify(buf[0:8], wantCRC) {
		return 0, fmt.Errorf("walog: %w: header crc mismatch", ErrCorrupt)
	}
	return initLSN, nil
}

func appendU32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendU64(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}
