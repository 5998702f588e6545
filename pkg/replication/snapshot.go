package replication

import (
	"encoding/json"

	"github.com/hashicorp/raft"

	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

// metaSnapshot freezes the binlog state for raft snapshotting. Entries are
// immutable once inserted, so holding the pointers is safe while the sink
// drains.
type metaSnapshot struct {
	applied uint64
	entries []*types.BinlogEntry
}

func (s *metaSnapshot) Persist(sink raft.SnapshotSink) error {
	state := metaFSMState{
		Version: 1,
		Applied: s.applied,
		Entries: s.entries,
	}

	util.Debug("Persisting snapshot data")
	if err := json.NewEncoder(sink).Encode(state); err != nil {
		if cancelErr := sink.Cancel(); cancelErr != nil {
			util.Error("Failed to cancel snapshot after encoding error: %v", cancelErr)
		}
		return err
	}
	return sink.Close()
}

func (s *metaSnapshot) Release() {}
