package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// BinlogKind tags the logical change a binlog entry carries.
type BinlogKind int32

const (
	BinlogKindUpsert BinlogKind = iota
	BinlogKindAddPartition
	BinlogKindCreateTable
	BinlogKindDropPartition
	BinlogKindDropTable
	BinlogKindSchemaChange
	BinlogKindTruncateTable
	BinlogKindSentinel // retention horizon marker, never served to consumers
)

func (k BinlogKind) String() string {
	switch k {
	case BinlogKindUpsert:
		return "UPSERT"
	case BinlogKindAddPartition:
		return "ADD_PARTITION"
	case BinlogKindCreateTable:
		return "CREATE_TABLE"
	case BinlogKindDropPartition:
		return "DROP_PARTITION"
	case BinlogKindDropTable:
		return "DROP_TABLE"
	case BinlogKindSchemaChange:
		return "SCHEMA_CHANGE"
	case BinlogKindTruncateTable:
		return "TRUNCATE_TABLE"
	case BinlogKindSentinel:
		return "SENTINEL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(k))
	}
}

// ParseBinlogKind resolves a kind name as produced by String.
func ParseBinlogKind(s string) (BinlogKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UPSERT":
		return BinlogKindUpsert, nil
	case "ADD_PARTITION":
		return BinlogKindAddPartition, nil
	case "CREATE_TABLE":
		return BinlogKindCreateTable, nil
	case "DROP_PARTITION":
		return BinlogKindDropPartition, nil
	case "DROP_TABLE":
		return BinlogKindDropTable, nil
	case "SCHEMA_CHANGE":
		return BinlogKindSchemaChange, nil
	case "TRUNCATE_TABLE":
		return BinlogKindTruncateTable, nil
	default:
		return 0, fmt.Errorf("unknown binlog kind %q", s)
	}
}

// BinlogEntry is a single change event in a database's binlog. One entry is
// shared by every per-table log of the tables its transaction touched; refs
// counts those registrations so the entry is only dropped for good once the
// last owning log has garbage-collected it.
type BinlogEntry struct {
	CommitSeq   uint64     `json:"commit_seq"`
	Kind        BinlogKind `json:"kind"`
	DbID        int64      `json:"db_id"`
	TableIDs    []int64    `json:"table_ids,omitempty"`
	TimestampMs int64      `json:"timestamp_ms"`
	Payload     string     `json:"payload,omitempty"`

	refs int64
}

func NewBinlogEntry(commitSeq uint64, kind BinlogKind, dbID int64, tableIDs []int64, timestampMs int64, payload string) *BinlogEntry {
	return &BinlogEntry{
		CommitSeq:   commitSeq,
		Kind:        kind,
		DbID:        dbID,
		TableIDs:    tableIDs,
		TimestampMs: timestampMs,
		Payload:     payload,
	}
}

// NewSentinel returns the horizon marker entry for a single table's log.
func NewSentinel(dbID, tableID int64, commitSeq uint64) *BinlogEntry {
	return &BinlogEntry{
		CommitSeq:   commitSeq,
		Kind:        BinlogKindSentinel,
		DbID:        dbID,
		TableIDs:    []int64{tableID},
		TimestampMs: -1,
	}
}

func (e *BinlogEntry) IsSentinel() bool {
	return e.Kind == BinlogKindSentinel
}

// Retain records one more owning log and returns the new reference count.
func (e *BinlogEntry) Retain() int64 {
	return atomic.AddInt64(&e.refs, 1)
}

// Release drops one owning log and returns the remaining reference count.
func (e *BinlogEntry) Release() int64 {
	return atomic.AddInt64(&e.refs, -1)
}

func (e *BinlogEntry) Refs() int64 {
	return atomic.LoadInt64(&e.refs)
}

// PartitionRecord is one partition's published version inside an upsert.
type PartitionRecord struct {
	PartitionID int64 `json:"partition_id"`
	Version     int64 `json:"version"`
}

// TableRecord groups the partition versions one upsert committed to a table.
type TableRecord struct {
	PartitionRecords []PartitionRecord `json:"partition_records"`
}

// UpsertRecord is the decoded payload of an upsert entry. Garbage collection
// keeps the last removed upsert per table as a compacted stand-in for the
// entries it discarded.
type UpsertRecord struct {
	CommitSeq    uint64                 `json:"commit_seq"`
	TxnID        int64                  `json:"txn_id"`
	TimestampMs  int64                  `json:"timestamp_ms"`
	Label        string                 `json:"label"`
	DbID         int64                  `json:"db_id"`
	TableRecords map[int64]*TableRecord `json:"table_records"`
}

// UpsertRecordFromPayload decodes an upsert entry's payload.
func UpsertRecordFromPayload(payload string) (*UpsertRecord, error) {
	var rec UpsertRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode upsert record: %w", err)
	}
	return &rec, nil
}

// TableRecordOf returns the slice of the record that concerns one table.
func (r *UpsertRecord) TableRecordOf(tableID int64) (*TableRecord, bool) {
	tr, ok := r.TableRecords[tableID]
	return tr, ok
}
