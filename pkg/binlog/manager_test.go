package binlog_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAddBinlogFansOut(t *testing.T) {
	m := binlog.NewManager()
	now := time.Now().UnixMilli()

	multi := types.NewBinlogEntry(1, types.BinlogKindUpsert, testDb, []int64{100, 200}, now,
		upsertPayload(t, 1, "fanout"))
	m.AddBinlog(multi)
	m.AddBinlog(types.NewBinlogEntry(2, types.BinlogKindUpsert, testDb, []int64{100}, now,
		upsertPayload(t, 2, "single")))

	assert.Equal(t, 2, m.NumTables())
	assert.EqualValues(t, 2, multi.Refs(), "one reference per touched table")

	e, status, err := m.GetBinlog(testDb, 200, 0)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	assert.EqualValues(t, 1, e.CommitSeq)

	lag, status, err := m.GetBinlogLag(testDb, 100, 0)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	assert.EqualValues(t, 2, lag)
}

func TestManagerUnknownTable(t *testing.T) {
	m := binlog.NewManager()

	_, _, err := m.GetBinlog(testDb, 999, 0)
	require.ErrorIs(t, err, binlog.ErrTableNotFound)

	_, _, err = m.GetBinlogLag(testDb, 999, 0)
	require.ErrorIs(t, err, binlog.ErrTableNotFound)
}

func TestManagerDuplicateInsertKeepsOthers(t *testing.T) {
	m := binlog.NewManager()
	now := time.Now().UnixMilli()

	m.AddBinlog(types.NewBinlogEntry(5, types.BinlogKindUpsert, testDb, []int64{100}, now,
		upsertPayload(t, 5, "first")))
	// Same sequence arrives again for table 100 but also touches table 200.
	dup := types.NewBinlogEntry(5, types.BinlogKindUpsert, testDb, []int64{100, 200}, now,
		upsertPayload(t, 5, "dup"))
	m.AddBinlog(dup)

	assert.EqualValues(t, 1, dup.Refs(), "the duplicate registration is dropped, the new table keeps its copy")

	lag, status, err := m.GetBinlogLag(testDb, 100, 4)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	assert.EqualValues(t, 1, lag)
}

func TestManagerGcDatabaseSeqHorizonMerges(t *testing.T) {
	m := binlog.NewManager()
	now := time.Now().UnixMilli()

	m.AddBinlog(types.NewBinlogEntry(1, types.BinlogKindUpsert, testDb, []int64{100}, now,
		upsertPayload(t, 1, "a")))
	m.AddBinlog(types.NewBinlogEntry(2, types.BinlogKindUpsert, testDb, []int64{200}, now,
		upsertPayload(t, 2, "b")))
	m.AddBinlog(types.NewBinlogEntry(3, types.BinlogKindUpsert, testDb, []int64{100}, now,
		upsertPayload(t, 3, "c")))

	tombstones := m.GcDatabase(testDb, binlog.SeqHorizonPolicy{Horizon: 2})
	require.Len(t, tombstones, 1, "database-wide decisions merge into one tombstone")

	merged := tombstones[0]
	assert.True(t, merged.DatabaseWide())
	assert.EqualValues(t, 2, merged.ThresholdCommitSeq)
	require.Contains(t, merged.TableRecords, int64(100))
	require.Contains(t, merged.TableRecords, int64(200))
	assert.EqualValues(t, 1, merged.TableRecords[100].CommitSeq)
	assert.EqualValues(t, 2, merged.TableRecords[200].CommitSeq)

	// seq3 survived on table 100.
	e, status, err := m.GetBinlog(testDb, 100, 2)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	assert.EqualValues(t, 3, e.CommitSeq)
}

func TestManagerGcDatabaseTTLShipsPerTable(t *testing.T) {
	m := binlog.NewManager()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := base.Add(-2 * time.Minute).UnixMilli()
	fresh := base.UnixMilli()

	m.AddBinlog(types.NewBinlogEntry(1, types.BinlogKindUpsert, testDb, []int64{100}, old,
		upsertPayload(t, 1, "old-a")))
	m.AddBinlog(types.NewBinlogEntry(2, types.BinlogKindUpsert, testDb, []int64{200}, old,
		upsertPayload(t, 2, "old-b")))
	m.AddBinlog(types.NewBinlogEntry(3, types.BinlogKindUpsert, testDb, []int64{200}, fresh,
		upsertPayload(t, 3, "fresh-b")))

	policy := binlog.TTLPolicy{
		Source: binlog.NewStaticConfig(60),
		Now:    func() time.Time { return base },
	}
	tombstones := m.GcDatabase(testDb, policy)
	require.Len(t, tombstones, 2, "ttl decisions stay per-table")

	for _, ts := range tombstones {
		assert.False(t, ts.DatabaseWide())
		switch ts.TableID {
		case 100:
			assert.EqualValues(t, 1, ts.ThresholdCommitSeq)
		case 200:
			assert.EqualValues(t, 2, ts.ThresholdCommitSeq)
		default:
			t.Fatalf("unexpected tombstone table %d", ts.TableID)
		}
	}
}

func TestManagerReplayGcDatabaseWide(t *testing.T) {
	m := binlog.NewManager()
	now := time.Now().UnixMilli()

	shared := types.NewBinlogEntry(1, types.BinlogKindUpsert, testDb, []int64{100, 200}, now,
		upsertPayload(t, 1, "shared"))
	m.AddBinlog(shared)
	m.AddBinlog(types.NewBinlogEntry(2, types.BinlogKindUpsert, testDb, []int64{100}, now,
		upsertPayload(t, 2, "later")))

	m.ReplayGc(&binlog.Tombstone{DbID: testDb, TableID: -1, ThresholdCommitSeq: 1})
	assert.EqualValues(t, 0, shared.Refs(), "both owning logs release on a database-wide replay")

	_, status, err := m.GetBinlog(testDb, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, binlog.StatusExpired, status)

	// Replaying the same tombstone again changes nothing.
	m.ReplayGc(&binlog.Tombstone{DbID: testDb, TableID: -1, ThresholdCommitSeq: 1})
	assert.EqualValues(t, 0, shared.Refs())

	lag, status, err := m.GetBinlogLag(testDb, 100, 1)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	assert.EqualValues(t, 1, lag)
}

func TestManagerReplayGcUnknownTableIsNoop(t *testing.T) {
	m := binlog.NewManager()
	m.ReplayGc(&binlog.Tombstone{DbID: testDb, TableID: 999, ThresholdCommitSeq: 5})
	assert.Equal(t, 0, m.NumTables())
}

func TestManagerDropTable(t *testing.T) {
	m := binlog.NewManager()
	now := time.Now().UnixMilli()

	shared := types.NewBinlogEntry(1, types.BinlogKindUpsert, testDb, []int64{100, 200}, now,
		upsertPayload(t, 1, "shared"))
	m.AddBinlog(shared)
	require.EqualValues(t, 2, shared.Refs())

	m.DropTable(testDb, 100)
	assert.Equal(t, 1, m.NumTables())
	assert.EqualValues(t, 1, shared.Refs(), "the surviving table keeps its reference")

	_, _, err := m.GetBinlog(testDb, 100, 0)
	require.ErrorIs(t, err, binlog.ErrTableNotFound)

	// Dropping again is harmless.
	m.DropTable(testDb, 100)
	assert.EqualValues(t, 1, shared.Refs())
}

func TestManagerCheckpointRecoverRoundTrip(t *testing.T) {
	m := binlog.NewManager()
	now := time.Now().UnixMilli()

	shared := types.NewBinlogEntry(3, types.BinlogKindUpsert, testDb, []int64{100, 200}, now,
		upsertPayload(t, 3, "shared"))
	m.AddBinlog(types.NewBinlogEntry(1, types.BinlogKindUpsert, testDb, []int64{100}, now,
		upsertPayload(t, 1, "one")))
	m.AddBinlog(types.NewBinlogEntry(2, types.BinlogKindSchemaChange, testDb, []int64{200}, now, `{"job":"alter"}`))
	m.AddBinlog(shared)
	m.GcDatabase(testDb, binlog.SeqHorizonPolicy{Horizon: 1})

	dump := m.Checkpoint()
	// Two sentinels lead, then each distinct entry once: seq2 and seq3.
	require.Len(t, dump, 4)
	assert.True(t, dump[0].IsSentinel())
	assert.True(t, dump[1].IsSentinel())
	assert.EqualValues(t, 2, dump[2].CommitSeq)
	assert.EqualValues(t, 3, dump[3].CommitSeq)

	// Recovery reads fresh objects back from disk; the JSON round trip
	// stands in for the checkpoint file.
	restored := binlog.NewManager()
	for _, e := range dump {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		fresh := &types.BinlogEntry{}
		require.NoError(t, json.Unmarshal(data, fresh))
		restored.Recover(fresh)
	}

	assert.Equal(t, 2, restored.NumTables())

	// Table 100 lost seq1 to gc; its horizon survived the round trip.
	_, status, err := restored.GetBinlog(testDb, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, binlog.StatusExpired, status)

	e, status, err := restored.GetBinlog(testDb, 100, 1)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	assert.EqualValues(t, 3, e.CommitSeq)

	// The shared entry is shared again after recovery.
	recovered, status, err := restored.GetBinlog(testDb, 200, 2)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	assert.EqualValues(t, 3, recovered.CommitSeq)
	assert.EqualValues(t, 2, recovered.Refs(), "recovery rebuilds the per-table references")

	assert.Equal(t, m.TotalEntries(), restored.TotalEntries())
}

func TestManagerReset(t *testing.T) {
	m := binlog.NewManager()
	now := time.Now().UnixMilli()

	e := types.NewBinlogEntry(1, types.BinlogKindUpsert, testDb, []int64{100}, now,
		upsertPayload(t, 1, "x"))
	m.AddBinlog(e)

	m.Reset()
	assert.Equal(t, 0, m.NumTables())
	assert.EqualValues(t, 0, e.Refs())
}
