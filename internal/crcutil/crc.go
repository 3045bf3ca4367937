// Package crcutil centralizes the CRC32C (Castagnoli) checksum used to
// protect log records, log headers, and node blocks, following the
// checksum table pattern in pkg/slotcache/format.go and
// pkg/mddb/wal.go's walCRC32C.
package crcutil

import "hash/crc32"

// Table is the Castagnoli polynomial table shared by every checksummed
// record in the engine.
var Table = crc32.MakeTable(crc32.Castagnoli)

// Sum32 checksums b using the Castagnoli table.
func Sum32(b []byte) uint32 { return crc32.Checksum(b, Table) }

// Verify reports whether want matches the checksum of b.
func Verify(b []byte, want uint32) bool { return Sum32(b) == want }
