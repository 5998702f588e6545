package binlog

import (
	"errors"
	"sort"

	"github.com/liuxinzero07/doris/pkg/types"
)

// Status classifies the outcome of a read against one table's binlog.
type Status int32

const (
	StatusOK Status = iota
	StatusExpired   // requested position is below the gc horizon
	StatusNoNewData // requested position is already at the tail
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusExpired:
		return "EXPIRED"
	case StatusNoNewData:
		return "NO_NEW_DATA"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrStaleCommitSeq     = errors.New("commit sequence at or below the gc horizon")
	ErrDuplicateCommitSeq = errors.New("duplicate commit sequence")
)

// orderedLog holds one table's binlog entries sorted by commit sequence.
// entries[0] is always the sentinel. Callers provide the locking.
type orderedLog struct {
	entries []*types.BinlogEntry
}

func newOrderedLog(sentinel *types.BinlogEntry) *orderedLog {
	return &orderedLog{entries: []*types.BinlogEntry{sentinel}}
}

func (l *orderedLog) sentinel() *types.BinlogEntry {
	return l.entries[0]
}

// advanceSentinel raises the gc horizon. It never moves backwards.
func (l *orderedLog) advanceSentinel(seq uint64) {
	if seq > l.entries[0].CommitSeq {
		l.entries[0].CommitSeq = seq
	}
}

// upperBound returns the index of the first entry strictly above seq.
func (l *orderedLog) upperBound(seq uint64) int {
	return sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].CommitSeq > seq
	})
}

func (l *orderedLog) insert(e *types.BinlogEntry) error {
	if e.CommitSeq <= l.entries[0].CommitSeq {
		return ErrStaleCommitSeq
	}
	i := l.upperBound(e.CommitSeq)
	if l.entries[i-1].CommitSeq == e.CommitSeq {
		return ErrDuplicateCommitSeq
	}
	if i == len(l.entries) {
		l.entries = append(l.entries, e)
		return nil
	}
	l.entries = append(l.entries, nil)
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	return nil
}

// lookupAfter returns the first entry strictly above the cursor. The
// sentinel itself is never returned.
func (l *orderedLog) lookupAfter(cursor uint64) (*types.BinlogEntry, Status) {
	if cursor < l.entries[0].CommitSeq {
		return nil, StatusExpired
	}
	i := l.upperBound(cursor)
	if i == len(l.entries) {
		return nil, StatusNoNewData
	}
	return l.entries[i], StatusOK
}

// lagAfter counts the entries strictly above the cursor.
func (l *orderedLog) lagAfter(cursor uint64) (int64, Status) {
	if cursor < l.entries[0].CommitSeq {
		return 0, StatusExpired
	}
	n := int64(len(l.entries) - l.upperBound(cursor))
	if n == 0 {
		return 0, StatusNoNewData
	}
	return n, StatusOK
}

// size counts the real entries, excluding the sentinel.
func (l *orderedLog) size() int {
	return len(l.entries) - 1
}

// releaseAll releases and drops every real entry, keeping the sentinel.
func (l *orderedLog) releaseAll() int {
	n := l.size()
	for _, e := range l.entries[1:] {
		e.Release()
	}
	clear(l.entries[1:])
	l.entries = l.entries[:1]
	return n
}

// snapshot copies the log's slice, sentinel first.
func (l *orderedLog) snapshot() []*types.BinlogEntry {
	out := make([]*types.BinlogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
