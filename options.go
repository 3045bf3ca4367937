package cascadadb

import (
	"time"

	"github.com/cascadadb/cascadadb/internal/compress"
	"github.com/cascadadb/cascadadb/internal/node"
	"github.com/cascadadb/cascadadb/internal/nodecache"
	"github.com/cascadadb/cascadadb/internal/slice"
	"github.com/cascadadb/cascadadb/internal/tree"
	"github.com/cascadadb/cascadadb/internal/walog"
)

const (
	mib = 1 << 20
	kib = 1 << 10
)

// Options configures a DB (§6 Options, "core-relevant, selected").
type Options struct {
	// Comparator orders keys. Defaults to slice.Bytewise if nil.
	Comparator slice.Comparator

	InnerNodePageSize       int
	InnerNodeChildrenNumber int
	InnerNodeMsgCount       int

	LeafNodePageSize     int
	LeafNodeRecordCount  int
	LeafNodeBucketSize   int

	CacheLimitBytes         int64
	CacheDirtyHighWatermark float64
	CacheDirtyExpire        time.Duration
	CacheWritebackRatio     float64
	CacheWritebackInterval  time.Duration
	CacheEvictRatio         float64
	CacheEvictHighWatermark float64

	LogBufSizeByte     int
	LogFileSizeByte    int64
	LogFlushPeriod     time.Duration
	LogFsyncPeriod     time.Duration
	LogCleanPeriod     time.Duration
	CheckpointPeriod   time.Duration

	CompressMethod compress.Method
	CheckCRC       bool
}

// DefaultOptions returns the defaults listed in §6: 4 MiB node pages, a
// 16-way inner fan-out, a 512 MiB cache capped at a 30% dirty watermark
// and 95% eviction watermark, 16 MiB/256 MiB log buffering, and a 60s
// checkpoint period (the source's own comment says "30s" but its default
// constant is 60000ms -- the value wins, see the design ledger).
func DefaultOptions() Options {
	return Options{
		Comparator: slice.Bytewise{},

		InnerNodePageSize:       4 * mib,
		InnerNodeChildrenNumber: 16,
		InnerNodeMsgCount:       1024,

		LeafNodePageSize:    4 * mib,
		LeafNodeRecordCount: 4096,
		LeafNodeBucketSize:  128 * kib,

		CacheLimitBytes:         512 * mib,
		CacheDirtyHighWatermark: 0.30,
		CacheDirtyExpire:        30 * time.Second,
		CacheWritebackRatio:     0.01,
		CacheWritebackInterval:  100 * time.Millisecond,
		CacheEvictRatio:         0.01,
		CacheEvictHighWatermark: 0.95,

		LogBufSizeByte:   16 * mib,
		LogFileSizeByte:  256 * mib,
		LogFlushPeriod:   time.Second,
		LogFsyncPeriod:   time.Second,
		LogCleanPeriod:   10 * time.Second,
		CheckpointPeriod: 60 * time.Second,

		CompressMethod: compress.MethodSnappy,
		CheckCRC:       true,
	}
}

func (o Options) comparator() slice.Comparator {
	if o.Comparator != nil {
		return o.Comparator
	}
	return slice.Bytewise{}
}

func (o Options) treeLimits() tree.Limits {
	return tree.Limits{
		Inner: node.InnerLimits{
			ChildrenNumber: o.InnerNodeChildrenNumber,
			PageSize:       o.InnerNodePageSize,
			MsgCount:       o.InnerNodeMsgCount,
		},
		Leaf: node.LeafLimits{
			RecordCount: o.LeafNodeRecordCount,
			PageSize:    o.LeafNodePageSize,
		},
	}
}

func (o Options) cacheOptions() nodecache.Options {
	return nodecache.Options{
		CacheLimitBytes:  o.CacheLimitBytes,
		HighWatermark:    o.CacheEvictHighWatermark,
		WriteBackPeriod:  o.CacheWritebackInterval,
		CheckpointPeriod: o.CheckpointPeriod,
		DirtyExpireAfter: o.CacheDirtyExpire,
	}
}

func (o Options) logOptions() walog.Options {
	return walog.Options{
		LogBufferSize:    o.LogBufSizeByte,
		LogFileSizeLimit: o.LogFileSizeByte,
		FlushPeriod:      o.LogFlushPeriod,
		FsyncPeriod:      o.LogFsyncPeriod,
		CleanPeriod:      o.LogCleanPeriod,
	}
}
