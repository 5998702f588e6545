package binlog

import (
	"errors"
	"fmt"

	"github.com/liuxinzero07/doris/pkg/types"
)

// ErrMalformedPayload marks a compaction witness whose payload no longer
// decodes. The removals that produced it stand; only the tombstone is lost.
var ErrMalformedPayload = errors.New("malformed upsert payload")

// Tombstone summarizes one gc decision so replicas and downstream
// consumers can apply it deterministically: everything at or below
// ThresholdCommitSeq is gone, and TableRecords keeps the last removed
// upsert per table as a compacted stand-in.
type Tombstone struct {
	DbID               int64                         `json:"db_id"`
	TableID            int64                         `json:"table_id"` // negative for database-wide scope
	ThresholdCommitSeq uint64                        `json:"threshold_commit_seq"`
	TableRecords       map[int64]*types.UpsertRecord `json:"table_records,omitempty"`
}

func (t *Tombstone) DatabaseWide() bool {
	return t.TableID < 0
}

// tombstoneBuilder accumulates the outcome of one per-table gc pass.
type tombstoneBuilder struct {
	scope   Scope
	tableID int64

	threshold uint64
	witness   *types.BinlogEntry
}

func newTombstoneBuilder(scope Scope, tableID int64) *tombstoneBuilder {
	return &tombstoneBuilder{scope: scope, tableID: tableID}
}

func (b *tombstoneBuilder) observe(witness *types.BinlogEntry, lastSeq uint64) {
	if lastSeq > b.threshold {
		b.threshold = lastSeq
	}
	if witness != nil {
		b.witness = witness
	}
}

// build finalizes the tombstone, decoding the witness payload into the
// compacted record when a witness was seen.
func (b *tombstoneBuilder) build() (*Tombstone, error) {
	t := &Tombstone{
		DbID:               b.scope.DbID,
		TableID:            b.scope.TableID,
		ThresholdCommitSeq: b.threshold,
	}
	if b.witness != nil {
		rec, err := types.UpsertRecordFromPayload(b.witness.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedPayload, b.witness.CommitSeq, err)
		}
		t.TableRecords = map[int64]*types.UpsertRecord{b.tableID: rec}
	}
	return t, nil
}

// MergeTombstones folds per-table tombstones into one database-wide
// tombstone. The largest threshold wins and the freshest record per table
// survives.
func MergeTombstones(dbID int64, parts []*Tombstone) *Tombstone {
	merged := &Tombstone{DbID: dbID, TableID: -1}
	for _, p := range parts {
		if p == nil {
			continue
		}
		if p.ThresholdCommitSeq > merged.ThresholdCommitSeq {
			merged.ThresholdCommitSeq = p.ThresholdCommitSeq
		}
		for tableID, rec := range p.TableRecords {
			if merged.TableRecords == nil {
				merged.TableRecords = make(map[int64]*types.UpsertRecord)
			}
			if cur, ok := merged.TableRecords[tableID]; !ok || rec.CommitSeq > cur.CommitSeq {
				merged.TableRecords[tableID] = rec
			}
		}
	}
	return merged
}
