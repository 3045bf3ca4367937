package walog

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cascadadb/cascadadb/internal/fs"
)

// TableLookup is the replay side of recovery: the tree that owns a table
// number, queried so a stale record already covered by that table's own
// checkpoint can be skipped (§4.7 step 5). It is implemented by
// internal/nodecache.Cache, which routes each call to the table's tree.
type TableLookup interface {
	// CheckpointLSN returns tbn's on-disk checkpoint LSN and whether tbn
	// is a currently known table. A record for an unknown table is
	// skipped rather than failing recovery -- the table (or its whole
	// index) may since have been dropped (log_reader.cpp's
	// get_table_settings miss case).
	CheckpointLSN(tbn uint32) (lsn uint64, ok bool)
	Put(tbn uint32, key, val []byte) error
	Del(tbn uint32, key []byte) error
}

// Recover replays every "cdb%06d.redolog" file in logDir, in ascending
// log-number order, against lookup. fromLSN is the global checkpoint LSN
// recorded in the last MakeCheckpointEnd; records below a table's own
// checkpoint LSN are skipped (§4.7). Successfully replayed log files
// are closed and deleted once every file has replayed cleanly, matching
// LogReader::recovery's cleanup-after-success behavior.
func Recover(dir fs.FS, logDir string, fromLSN uint64, lookup TableLookup, checkCRC bool, logger zerolog.Logger) (int, error) {
	entries, err := dir.ReadDir(logDir)
	if err != nil {
		return 0, fmt.Errorf("walog: readdir %s: %w", logDir, err)
	}

	type logFile struct {
		num  int64
		name string
	}
	var logs []logFile
	for _, e := range entries {
		if m := logFilePattern.FindStringSubmatch(e.Name()); m != nil {
			n, _ := strconv.ParseInt(m[1], 10, 64)
			logs = append(logs, logFile{num: n, name: e.Name()})
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].num < logs[j].num })

	total := 0
	for _, lf := range logs {
		n, err := recoverFile(dir, logDir, lf.name, fromLSN, lookup, checkCRC, logger)
		if err != nil {
			return total, fmt.Errorf("walog: recover %s: %w", lf.name, err)
		}
		total += n
	}

	for _, lf := range logs {
		p := logDir + "/" + lf.name
		if err := dir.Remove(p); err != nil {
			logger.Warn().Err(err).Str("log", lf.name).Msg("walog: delete after recovery failed")
		}
	}

	return total, nil
}

func recoverFile(dir fs.FS, logDir, name string, fromLSN uint64, lookup TableLookup, checkCRC bool, logger zerolog.Logger) (int, error) {
	p := logDir + "/" + name
	info, err := dir.Stat(p)
	if err != nil {
		return 0, err
	}
	fileSize := info.Size()
	if fileSize <= headerSize {
		return 0, nil // too small to hold even the header: nothing was ever durably written
	}

	f, err := dir.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	initLSN, err := decodeHeader(hdrBuf)
	if err != nil {
		return 0, err
	}

	if fromLSN >= initLSN+uint64(fileSize) {
		return 0, nil // this whole file predates the checkpoint horizon
	}

	var startLocation int64
	if fromLSN < initLSN {
		startLocation = headerSize
	} else {
		startLocation = int64(fromLSN - initLSN)
		if startLocation == 0 {
			startLocation = headerSize
		}
	}

	if startLocation < headerSize {
		startLocation = headerSize
	}
	// fs.File has no Seek: the header has been read, so skip forward by
	// reading and discarding up to startLocation.
	if _, err := io.CopyN(io.Discard, f, startLocation-headerSize); err != nil {
		return 0, err
	}

	count := 0
	for startLocation < fileSize {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(f, lenBuf); err != nil {
			return count, fmt.Errorf("read record length at %d: %w", startLocation, err)
		}
		entrySize := binary.LittleEndian.Uint32(lenBuf)
		if entrySize < minRecordSize {
			return count, fmt.Errorf("%w: record length %d below minimum at offset %d", ErrCorrupt, entrySize, startLocation)
		}

		rest := make([]byte, entrySize-4)
		if _, err := io.ReadFull(f, rest); err != nil {
			return count, fmt.Errorf("read record body at %d: %w", startLocation, err)
		}

		rec, err := decodeRecordBody(rest, checkCRC)
		if err != nil {
			return count, err
		}

		cpLSN, ok := lookup.CheckpointLSN(rec.TBN)
		switch {
		case !ok:
			// table no longer exists; nothing to replay it into.
		case cpLSN > rec.LSN:
			// already durable as of that table's own checkpoint.
		default:
			var applyErr error
			switch rec.Type {
			case RecPut:
				applyErr = lookup.Put(rec.TBN, rec.Key, rec.Val)
			case RecDel:
				applyErr = lookup.Del(rec.TBN, rec.Key)
			default:
				applyErr = fmt.Errorf("unknown record type %d", rec.Type)
			}
			if applyErr != nil {
				return count, fmt.Errorf("replay lsn %d: %w", rec.LSN, applyErr)
			}
		}

		startLocation += int64(entrySize)
		count++
	}

	logger.Debug().Str("log", name).Int("records", count).Msg("walog: recovered log file")
	return count, nil
}
