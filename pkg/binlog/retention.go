package binlog

import (
	"time"

	"github.com/liuxinzero07/doris/pkg/metrics"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

// ExpiredFunc reports whether one entry belongs to the expired prefix.
type ExpiredFunc func(e *types.BinlogEntry) bool

// Scope names what a gc decision covers: a single table, or the whole
// database when TableID is negative.
type Scope struct {
	DbID    int64
	TableID int64
}

func (s Scope) DatabaseWide() bool {
	return s.TableID < 0
}

// Policy resolves, per table and per pass, whether gc may run and which
// prefix of the log it may collect.
type Policy interface {
	Prepare(dbID, tableID int64) (ExpiredFunc, Scope, bool)
}

// SeqHorizonPolicy expires every entry at or below an externally
// coordinated commit sequence. Decisions under it are database-wide.
type SeqHorizonPolicy struct {
	Horizon uint64
}

func (p SeqHorizonPolicy) Prepare(dbID, tableID int64) (ExpiredFunc, Scope, bool) {
	horizon := p.Horizon
	expired := func(e *types.BinlogEntry) bool {
		return e.CommitSeq <= horizon
	}
	return expired, Scope{DbID: dbID, TableID: -1}, true
}

// TTLPolicy expires every entry older than the table's configured
// retention. The TTL is resolved per pass; an unresolved or negative TTL
// skips the table until a later pass.
type TTLPolicy struct {
	Source ConfigSource
	Now    func() time.Time // defaults to time.Now
}

func (p TTLPolicy) Prepare(dbID, tableID int64) (ExpiredFunc, Scope, bool) {
	ttlSeconds, err := p.Source.BinlogTTLSeconds(dbID, tableID)
	if err != nil {
		util.Warn("Gc: ttl for table %d.%d unresolved, skipping pass: %v", dbID, tableID, err)
		metrics.GcSkips.Inc()
		return nil, Scope{}, false
	}
	if ttlSeconds < 0 {
		metrics.GcSkips.Inc()
		return nil, Scope{}, false
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	expireMs := now().UnixMilli() - ttlSeconds*1000
	expired := func(e *types.BinlogEntry) bool {
		return e.TimestampMs <= expireMs
	}
	return expired, Scope{DbID: dbID, TableID: tableID}, true
}

// collectExpired removes the expired prefix from the log, releasing one
// reference per removed entry, and raises the sentinel over the removed
// range. It returns the last upsert among the removed entries (the
// compaction witness), the largest removed commit sequence and the removal
// count. The scan stops at the first surviving entry, so only a true
// prefix is ever collected.
func collectExpired(l *orderedLog, expired ExpiredFunc) (witness *types.BinlogEntry, lastSeq uint64, removed int) {
	i := 1
	for i < len(l.entries) && expired(l.entries[i]) {
		e := l.entries[i]
		if e.Kind == types.BinlogKindUpsert {
			witness = e
		}
		lastSeq = e.CommitSeq
		e.Release()
		i++
	}
	removed = i - 1
	if removed == 0 {
		return nil, 0, 0
	}

	n := copy(l.entries[1:], l.entries[i:])
	kept := 1 + n
	clear(l.entries[kept:])
	l.entries = l.entries[:kept]

	l.advanceSentinel(lastSeq)
	metrics.RetainedEntries.Sub(float64(removed))
	return witness, lastSeq, removed
}
