package binlog

import (
	"fmt"
	"sync"

	"github.com/liuxinzero07/doris/pkg/metrics"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

// TableBinlog tracks one table's slice of a database binlog: an ordered
// window of change entries bounded below by a sentinel that records how far
// garbage collection has advanced. Writers (insert, gc, replay) take the
// write lock; lookups share the read lock.
type TableBinlog struct {
	dbID    int64
	tableID int64

	mu  sync.RWMutex
	log *orderedLog
}

// NewTableBinlog builds a table's log around its first known entry. A
// sentinel first entry is adopted as the gc horizon unchanged; any other
// entry gets a horizon synthesized just below its commit sequence.
func NewTableBinlog(dbID, tableID int64, first *types.BinlogEntry) *TableBinlog {
	var sentinel *types.BinlogEntry
	if first.IsSentinel() {
		sentinel = first
	} else {
		var seq uint64
		if first.CommitSeq > 0 {
			seq = first.CommitSeq - 1
		}
		sentinel = types.NewSentinel(dbID, tableID, seq)
	}
	return &TableBinlog{
		dbID:    dbID,
		tableID: tableID,
		log:     newOrderedLog(sentinel),
	}
}

func (tb *TableBinlog) DbID() int64 {
	return tb.dbID
}

func (tb *TableBinlog) TableID() int64 {
	return tb.tableID
}

// Insert registers one entry and takes a reference on it. Entries at or
// below the sentinel and duplicate sequences are rejected untouched.
func (tb *TableBinlog) Insert(e *types.BinlogEntry) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if err := tb.log.insert(e); err != nil {
		return fmt.Errorf("table %d.%d insert seq %d: %w", tb.dbID, tb.tableID, e.CommitSeq, err)
	}
	e.Retain()
	metrics.RetainedEntries.Inc()
	return nil
}

// LookupAfter returns the first entry strictly above the cursor.
func (tb *TableBinlog) LookupAfter(cursor uint64) (*types.BinlogEntry, Status) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.log.lookupAfter(cursor)
}

// LagAfter counts how many entries a consumer at the cursor has not seen.
func (tb *TableBinlog) LagAfter(cursor uint64) (int64, Status) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.log.lagAfter(cursor)
}

// SentinelSeq returns the table's current gc horizon.
func (tb *TableBinlog) SentinelSeq() uint64 {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.log.sentinel().CommitSeq
}

// Len counts the retained entries, excluding the sentinel.
func (tb *TableBinlog) Len() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.log.size()
}

// Gc collects the expired prefix chosen by the policy and builds the
// tombstone that makes the decision replayable. A nil tombstone with a nil
// error means the pass was skipped or removed nothing. A malformed witness
// payload loses the tombstone but never the removals.
func (tb *TableBinlog) Gc(policy Policy) (*Tombstone, error) {
	expired, scope, ok := policy.Prepare(tb.dbID, tb.tableID)
	if !ok {
		return nil, nil
	}
	metrics.GcPasses.Inc()

	tb.mu.Lock()
	witness, lastSeq, removed := collectExpired(tb.log, expired)
	tb.mu.Unlock()

	if removed == 0 {
		return nil, nil
	}
	metrics.EntriesCollected.Add(float64(removed))
	util.Debug("Gc: table %d.%d removed %d entries up to seq %d", tb.dbID, tb.tableID, removed, lastSeq)

	builder := newTombstoneBuilder(scope, tb.tableID)
	builder.observe(witness, lastSeq)
	t, err := builder.build()
	if err != nil {
		metrics.MalformedPayloads.Inc()
		return nil, err
	}
	metrics.TombstonesBuilt.Inc()
	return t, nil
}

// ReplayGc applies a replicated gc decision: drop everything at or below
// the threshold and raise the sentinel to it. Applying the same decision
// twice is a no-op, and the sentinel never moves backwards.
func (tb *TableBinlog) ReplayGc(threshold uint64) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	_, _, removed := collectExpired(tb.log, func(e *types.BinlogEntry) bool {
		return e.CommitSeq <= threshold
	})
	tb.log.advanceSentinel(threshold)
	if removed > 0 {
		metrics.EntriesCollected.Add(float64(removed))
	}
	return removed
}

// RecoverInsert registers one entry while state is rebuilt from a
// checkpoint. Recovery runs single-threaded before the log is published,
// so no lock is taken.
func (tb *TableBinlog) RecoverInsert(e *types.BinlogEntry) {
	if e.IsSentinel() {
		tb.log.advanceSentinel(e.CommitSeq)
		return
	}
	if e.CommitSeq <= tb.log.sentinel().CommitSeq {
		return
	}
	if err := tb.log.insert(e); err != nil {
		util.Warn("Recover: table %d.%d dropped seq %d: %v", tb.dbID, tb.tableID, e.CommitSeq, err)
		return
	}
	e.Retain()
	metrics.RetainedEntries.Inc()
}

// ReleaseAll drops every reference the table still holds. Used when the
// table itself is dropped.
func (tb *TableBinlog) ReleaseAll() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	n := tb.log.releaseAll()
	metrics.RetainedEntries.Sub(float64(n))
	return n
}

// Entries snapshots the log for checkpointing, sentinel first. The
// sentinel is copied so later horizon advances do not race the caller.
// Real entries are immutable after insert and shared as-is.
func (tb *TableBinlog) Entries() []*types.BinlogEntry {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	out := tb.log.snapshot()
	out[0] = types.NewSentinel(tb.dbID, tb.tableID, out[0].CommitSeq)
	return out
}
