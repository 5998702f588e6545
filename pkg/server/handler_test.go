package server_test

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/config"
	"github.com/liuxinzero07/doris/pkg/cursor"
	"github.com/liuxinzero07/doris/pkg/server"
	"github.com/liuxinzero07/doris/pkg/types"
)

func newTestHandler(t *testing.T) (*server.CommandHandler, *binlog.Manager) {
	t.Helper()

	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	cfg.Normalize()

	blm := binlog.NewManager()
	return server.NewCommandHandler(blm, store, cfg, nil), blm
}

func decodeResponse(t *testing.T, raw string) server.Response {
	t.Helper()
	var resp server.Response
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), "response is not JSON: %s", raw)
	return resp
}

func seedEntries(blm *binlog.Manager, seqs ...uint64) {
	for _, seq := range seqs {
		blm.AddBinlog(types.NewBinlogEntry(seq, types.BinlogKindUpsert, 10, []int64{100}, 1000, ""))
	}
}

func TestHandleGetBinlog(t *testing.T) {
	ch, blm := newTestHandler(t)
	seedEntries(blm, 5, 6, 7)

	resp := decodeResponse(t, ch.HandleCommand("GET_BINLOG db=10 table=100 seq=5"))
	require.Equal(t, "OK", resp.Status)
	require.NotNil(t, resp.Entry)
	require.Equal(t, uint64(6), resp.Entry.CommitSeq)
}

func TestHandleGetBinlogExpired(t *testing.T) {
	ch, blm := newTestHandler(t)
	seedEntries(blm, 5, 6)

	// First insert synthesized the horizon at seq 4.
	resp := decodeResponse(t, ch.HandleCommand("GET_BINLOG db=10 table=100 seq=2"))
	require.Equal(t, "EXPIRED", resp.Status)
	require.Nil(t, resp.Entry)
}

func TestHandleGetBinlogNoNewData(t *testing.T) {
	ch, blm := newTestHandler(t)
	seedEntries(blm, 5)

	resp := decodeResponse(t, ch.HandleCommand("GET_BINLOG db=10 table=100 seq=5"))
	require.Equal(t, "NO_NEW_DATA", resp.Status)
}

func TestHandleGetBinlogUnknownTable(t *testing.T) {
	ch, _ := newTestHandler(t)

	resp := decodeResponse(t, ch.HandleCommand("GET_BINLOG db=1 table=2 seq=0"))
	require.Equal(t, "ERROR", resp.Status)
	require.Contains(t, resp.Error, "not found")
}

func TestHandleGetLag(t *testing.T) {
	ch, blm := newTestHandler(t)
	seedEntries(blm, 5, 6, 7)

	resp := decodeResponse(t, ch.HandleCommand("GET_LAG db=10 table=100 seq=5"))
	require.Equal(t, "OK", resp.Status)
	require.NotNil(t, resp.Lag)
	require.Equal(t, int64(2), *resp.Lag)
}

func TestHandleInsertStandalone(t *testing.T) {
	ch, blm := newTestHandler(t)

	raw := ch.HandleCommand(`INSERT db=10 tables=100,101 seq=5 kind=UPSERT payload={"label": "txn one"}`)
	resp := decodeResponse(t, raw)
	require.Equal(t, "OK", resp.Status)

	e, status, err := blm.GetBinlog(10, 101, 4)
	require.NoError(t, err)
	require.Equal(t, binlog.StatusOK, status)
	require.Equal(t, uint64(5), e.CommitSeq)
	require.Equal(t, `{"label": "txn one"}`, e.Payload, "payload must keep its spaces")
	require.Equal(t, int64(2), e.Refs(), "entry is owned by both tables")
}

func TestHandleInsertRejectsBadKind(t *testing.T) {
	ch, _ := newTestHandler(t)

	resp := decodeResponse(t, ch.HandleCommand("INSERT db=10 tables=100 seq=5 kind=SENTINEL"))
	require.Equal(t, "ERROR", resp.Status)
}

func TestHandleCommitAndFetchCursor(t *testing.T) {
	ch, _ := newTestHandler(t)

	resp := decodeResponse(t, ch.HandleCommand("COMMIT_CURSOR consumer=syncer-1 db=10 table=100 seq=9"))
	require.Equal(t, "OK", resp.Status)

	resp = decodeResponse(t, ch.HandleCommand("FETCH_CURSOR consumer=syncer-1 db=10 table=100"))
	require.Equal(t, "OK", resp.Status)
	require.NotNil(t, resp.Seq)
	require.Equal(t, uint64(9), *resp.Seq)

	resp = decodeResponse(t, ch.HandleCommand("FETCH_CURSOR consumer=stranger db=10 table=100"))
	require.Equal(t, "NOT_FOUND", resp.Status)
}

func TestHandleDropTableStandalone(t *testing.T) {
	ch, blm := newTestHandler(t)
	seedEntries(blm, 5)

	resp := decodeResponse(t, ch.HandleCommand("DROP_TABLE db=10 table=100"))
	require.Equal(t, "OK", resp.Status)
	require.Equal(t, 0, blm.NumTables())
}

func TestHandleStats(t *testing.T) {
	ch, blm := newTestHandler(t)
	seedEntries(blm, 5, 6)

	resp := decodeResponse(t, ch.HandleCommand("STATS"))
	require.Equal(t, "OK", resp.Status)
	require.Equal(t, 1, resp.Tables)
	require.Equal(t, 2, resp.Entries)
}

func TestHandleUnknownCommand(t *testing.T) {
	ch, _ := newTestHandler(t)

	resp := decodeResponse(t, ch.HandleCommand("FROBNICATE now"))
	require.Equal(t, "ERROR", resp.Status)
	require.Contains(t, resp.Error, "unknown command")
}

func TestClusterCommandsWithoutReplication(t *testing.T) {
	ch, _ := newTestHandler(t)

	resp := decodeResponse(t, ch.HandleCommand("ADD_VOTER id=n2 addr=10.0.0.2:9010"))
	require.Equal(t, "ERROR", resp.Status)
	require.Contains(t, resp.Error, "cluster mode disabled")
}

// fakeReplicator drives the leader-gated paths without a raft cluster.
type fakeReplicator struct {
	leader  bool
	applied []*types.BinlogEntry
	dropped [][2]int64
	blm     *binlog.Manager
}

func (f *fakeReplicator) IsLeader() bool        { return f.leader }
func (f *fakeReplicator) LeaderAddress() string { return "10.0.0.1:9010" }

func (f *fakeReplicator) ApplyBinlog(e *types.BinlogEntry) error {
	f.applied = append(f.applied, e)
	f.blm.AddBinlog(e)
	return nil
}

func (f *fakeReplicator) ApplyDropTable(dbID, tableID int64) error {
	f.dropped = append(f.dropped, [2]int64{dbID, tableID})
	f.blm.DropTable(dbID, tableID)
	return nil
}

func (f *fakeReplicator) AddVoter(id, addr string) error { return nil }
func (f *fakeReplicator) RemoveServer(id string) error   { return nil }

func TestHandleInsertNotLeader(t *testing.T) {
	ch, blm := newTestHandler(t)
	ch.Replication = &fakeReplicator{leader: false, blm: blm}

	resp := decodeResponse(t, ch.HandleCommand("INSERT db=10 tables=100 seq=5"))
	require.Equal(t, "NOT_LEADER", resp.Status)
	require.Equal(t, "10.0.0.1:9010", resp.Leader)
	require.Equal(t, 0, blm.TotalEntries(), "followers must not mutate local state")
}

func TestHandleInsertAsLeaderReplicates(t *testing.T) {
	ch, blm := newTestHandler(t)
	repl := &fakeReplicator{leader: true, blm: blm}
	ch.Replication = repl

	resp := decodeResponse(t, ch.HandleCommand("INSERT db=10 tables=100 seq=5"))
	require.Equal(t, "OK", resp.Status)
	require.Len(t, repl.applied, 1)
	require.Equal(t, 1, blm.TotalEntries())

	resp = decodeResponse(t, ch.HandleCommand(fmt.Sprintf("DROP_TABLE db=%d table=%d", 10, 100)))
	require.Equal(t, "OK", resp.Status)
	require.Len(t, repl.dropped, 1)
	require.Equal(t, 0, blm.NumTables())
}
