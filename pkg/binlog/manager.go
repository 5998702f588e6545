package binlog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liuxinzero07/doris/pkg/metrics"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

var ErrTableNotFound = errors.New("table binlog not found")

type tableKey struct {
	dbID    int64
	tableID int64
}

// Manager owns every table's binlog and fans each incoming entry out to
// the tables its transaction touched.
type Manager struct {
	mu     sync.RWMutex
	tables map[tableKey]*TableBinlog
}

func NewManager() *Manager {
	return &Manager{tables: make(map[tableKey]*TableBinlog)}
}

func (m *Manager) getOrCreate(dbID, tableID int64, first *types.BinlogEntry) *TableBinlog {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tableKey{dbID, tableID}
	tb, ok := m.tables[key]
	if !ok {
		tb = NewTableBinlog(dbID, tableID, first)
		m.tables[key] = tb
		metrics.TablesTracked.Set(float64(len(m.tables)))
	}
	return tb
}

func (m *Manager) find(dbID, tableID int64) (*TableBinlog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tb, ok := m.tables[tableKey{dbID, tableID}]
	return tb, ok
}

// AddBinlog registers an entry with every table it touches, creating table
// logs on first sight. Entries already collected or already present are
// dropped with a warning; one bad table never blocks the others.
func (m *Manager) AddBinlog(e *types.BinlogEntry) {
	for _, tableID := range e.TableIDs {
		tb := m.getOrCreate(e.DbID, tableID, e)
		if e.IsSentinel() {
			continue
		}
		if err := tb.Insert(e); err != nil {
			util.Warn("AddBinlog: %v", err)
			continue
		}
		metrics.EntriesAdded.Inc()
	}
}

// GetBinlog returns the first entry after the consumer's cursor.
func (m *Manager) GetBinlog(dbID, tableID int64, cursor uint64) (*types.BinlogEntry, Status, error) {
	tb, ok := m.find(dbID, tableID)
	if !ok {
		return nil, StatusOK, fmt.Errorf("table %d.%d: %w", dbID, tableID, ErrTableNotFound)
	}
	e, status := tb.LookupAfter(cursor)
	return e, status, nil
}

// GetBinlogLag counts the entries a consumer at the cursor has not seen.
func (m *Manager) GetBinlogLag(dbID, tableID int64, cursor uint64) (int64, Status, error) {
	tb, ok := m.find(dbID, tableID)
	if !ok {
		return 0, StatusOK, fmt.Errorf("table %d.%d: %w", dbID, tableID, ErrTableNotFound)
	}
	lag, status := tb.LagAfter(cursor)
	return lag, status, nil
}

// Databases lists the distinct database ids currently tracked.
func (m *Manager) Databases() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]bool)
	var dbs []int64
	for key := range m.tables {
		if !seen[key.dbID] {
			seen[key.dbID] = true
			dbs = append(dbs, key.dbID)
		}
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i] < dbs[j] })
	return dbs
}

// tablesOf snapshots the table logs of one database, ordered by table id.
func (m *Manager) tablesOf(dbID int64) []*TableBinlog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tables []*TableBinlog
	for key, tb := range m.tables {
		if key.dbID == dbID {
			tables = append(tables, tb)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].tableID < tables[j].tableID })
	return tables
}

// GcDatabase runs one gc pass over every table of a database. Database-wide
// decisions are merged into a single tombstone; per-table decisions ship
// individually. An empty result means the pass removed nothing.
func (m *Manager) GcDatabase(dbID int64, policy Policy) []*Tombstone {
	var parts []*Tombstone
	dbWide := false
	for _, tb := range m.tablesOf(dbID) {
		t, err := tb.Gc(policy)
		if err != nil {
			util.Error("Gc: table %d.%d tombstone dropped: %v", dbID, tb.TableID(), err)
			continue
		}
		if t == nil {
			continue
		}
		if t.DatabaseWide() {
			dbWide = true
		}
		parts = append(parts, t)
	}

	if len(parts) == 0 {
		return nil
	}
	if dbWide {
		return []*Tombstone{MergeTombstones(dbID, parts)}
	}
	return parts
}

// ReplayGc applies one replicated tombstone to the local logs. Unknown
// tables are skipped; the decision may race their creation on a replica.
func (m *Manager) ReplayGc(t *Tombstone) {
	metrics.ReplaysApplied.Inc()

	if t.DatabaseWide() {
		removed := 0
		for _, tb := range m.tablesOf(t.DbID) {
			removed += tb.ReplayGc(t.ThresholdCommitSeq)
		}
		util.Debug("ReplayGc: db %d up to seq %d removed %d entries", t.DbID, t.ThresholdCommitSeq, removed)
		return
	}

	tb, ok := m.find(t.DbID, t.TableID)
	if !ok {
		util.Warn("ReplayGc: table %d.%d unknown, seq %d skipped", t.DbID, t.TableID, t.ThresholdCommitSeq)
		return
	}
	removed := tb.ReplayGc(t.ThresholdCommitSeq)
	util.Debug("ReplayGc: table %d.%d up to seq %d removed %d entries", t.DbID, t.TableID, t.ThresholdCommitSeq, removed)
}

// DropTable forgets a table's binlog and releases every reference it held.
func (m *Manager) DropTable(dbID, tableID int64) {
	m.mu.Lock()
	key := tableKey{dbID, tableID}
	tb, ok := m.tables[key]
	if ok {
		delete(m.tables, key)
		metrics.TablesTracked.Set(float64(len(m.tables)))
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	released := tb.ReleaseAll()
	util.Info("DropTable: %d.%d released %d entries", dbID, tableID, released)
}

// NumTables counts the tracked tables.
func (m *Manager) NumTables() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}

// TotalEntries counts the retained entries across all tables. Shared
// entries count once per owning table.
func (m *Manager) TotalEntries() int {
	m.mu.RLock()
	tables := make([]*TableBinlog, 0, len(m.tables))
	for _, tb := range m.tables {
		tables = append(tables, tb)
	}
	m.mu.RUnlock()

	total := 0
	for _, tb := range tables {
		total += tb.Len()
	}
	return total
}

// Checkpoint snapshots the full retained state: every table's sentinel
// first, then every distinct entry exactly once in commit order. Feeding
// the result back through Recover rebuilds the same logs and reference
// counts.
func (m *Manager) Checkpoint() []*types.BinlogEntry {
	m.mu.RLock()
	tables := make([]*TableBinlog, 0, len(m.tables))
	for _, tb := range m.tables {
		tables = append(tables, tb)
	}
	m.mu.RUnlock()

	sort.Slice(tables, func(i, j int) bool {
		if tables[i].dbID != tables[j].dbID {
			return tables[i].dbID < tables[j].dbID
		}
		return tables[i].tableID < tables[j].tableID
	})

	var sentinels []*types.BinlogEntry
	var entries []*types.BinlogEntry
	seen := make(map[uint64]bool)
	for _, tb := range tables {
		all := tb.Entries()
		sentinels = append(sentinels, all[0])
		for _, e := range all[1:] {
			if !seen[e.CommitSeq] {
				seen[e.CommitSeq] = true
				entries = append(entries, e)
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CommitSeq < entries[j].CommitSeq })
	return append(sentinels, entries...)
}

// Recover replays one checkpointed entry while state is rebuilt at
// startup. Must run single-threaded before the manager is published.
func (m *Manager) Recover(e *types.BinlogEntry) {
	for _, tableID := range e.TableIDs {
		tb := m.getOrCreate(e.DbID, tableID, e)
		tb.RecoverInsert(e)
	}
}

// Reset drops all state ahead of a snapshot restore.
func (m *Manager) Reset() {
	m.mu.Lock()
	tables := m.tables
	m.tables = make(map[tableKey]*TableBinlog)
	m.mu.Unlock()

	for _, tb := range tables {
		tb.ReleaseAll()
	}
	metrics.TablesTracked.Set(0)
}
