package replication

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/config"
	"github.com/liuxinzero07/doris/pkg/metrics"
	"github.com/liuxinzero07/doris/pkg/types"
	"github.com/liuxinzero07/doris/util"
)

const applyTimeout = 5 * time.Second

type RaftInterface interface {
	Apply([]byte, time.Duration) raft.ApplyFuture
	AddVoter(raft.ServerID, raft.ServerAddress, uint64, time.Duration) raft.IndexFuture
	RemoveServer(raft.ServerID, uint64, time.Duration) raft.IndexFuture
	Leader() raft.ServerAddress
	State() raft.RaftState
	GetConfiguration() raft.ConfigurationFuture
	BootstrapCluster(raft.Configuration) raft.Future
	Shutdown() raft.Future
}

// Manager replicates metadata mutations through raft. Every binlog insert,
// gc tombstone and table drop goes through Apply on the leader and reaches
// each replica's MetaFSM in the same order.
//
// Manager is the gcer's tombstone sink, so leader gc decisions replicate
// instead of diverging per node.
type Manager struct {
	raft RaftInterface
	fsm  *MetaFSM

	nodeID    string
	localAddr string
	peers     map[string]string // nodeID -> addr
	mu        sync.RWMutex

	isLeader atomic.Bool
	leaderCh chan bool
}

var _ binlog.TombstoneSink = (*Manager)(nil)

func NewManager(cfg *config.Config, nodeID string, blm *binlog.Manager) (*Manager, error) {
	metaFSM := NewMetaFSM(blm)

	localAddr := fmt.Sprintf("%s:%d", cfg.AdvertisedHost, cfg.RaftPort)
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(nodeID)

	raftCfg.ProtocolVersion = raft.ProtocolVersionMax
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 1500 * time.Millisecond
	raftCfg.CommitTimeout = 100 * time.Millisecond
	raftCfg.LogLevel = "Warn"
	if cfg.LogLevel == util.LogLevelDebug {
		raftCfg.LogLevel = "Debug"
	}

	notifyCh := make(chan bool, 10)
	raftCfg.NotifyCh = notifyCh

	if len(cfg.ClusterMembers) >= 3 {
		raftCfg.PreVoteDisabled = true
	}

	dataDir := cfg.RaftDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		util.Error("Failed to create raft data directory %s: %v", dataDir, err)
		return nil, fmt.Errorf("create raft data directory: %w", err)
	}

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()

	snapshots, err := raft.NewFileSnapshotStore(dataDir, 3, os.Stderr)
	if err != nil {
		util.Error("Failed to create snapshot store: %v", err)
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	advertiseTCPAddr, err := net.ResolveTCPAddr("tcp", localAddr)
	if err != nil {
		util.Error("Failed to resolve advertised address %s: %v", localAddr, err)
		return nil, fmt.Errorf("resolve advertised address: %w", err)
	}

	bindAddr := fmt.Sprintf("0.0.0.0:%d", cfg.RaftPort)
	transport, err := raft.NewTCPTransport(bindAddr, advertiseTCPAddr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		util.Error("Failed to create raft transport: %v", err)
		return nil, fmt.Errorf("create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, metaFSM, logStore, stableStore, snapshots, transport)
	if err != nil {
		util.Error("Failed to create raft instance: %v", err)
		return nil, fmt.Errorf("create raft: %w", err)
	}

	if cfg.BootstrapCluster {
		if err := bootstrapCluster(r, cfg.ClusterMembers); err != nil {
			return nil, err
		}
	}

	manager := &Manager{
		raft:      r,
		fsm:       metaFSM,
		nodeID:    nodeID,
		localAddr: localAddr,
		peers:     make(map[string]string),
		leaderCh:  make(chan bool, 10),
	}

	go manager.observeLeadership(notifyCh)

	if cfg.LogLevel == util.LogLevelDebug {
		go func() {
			ticker := time.NewTicker(1 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				state := manager.raft.State()
				leaderAddr := manager.raft.Leader()

				if configFuture := manager.raft.GetConfiguration(); configFuture.Error() == nil {
					raftConf := configFuture.Configuration()
					util.Debug("raft: State=%s, Leader=%s, IsLeader=%v, KnownServers=%d", state.String(), leaderAddr, state == raft.Leader, len(raftConf.Servers))
				} else {
					util.Debug("raft: State=%s, Leader=%s, IsLeader=%v", state.String(), leaderAddr, state == raft.Leader)
				}
			}
		}()
	}

	return manager, nil
}

func bootstrapCluster(r RaftInterface, members []string) error {
	confFuture := r.GetConfiguration()
	if err := confFuture.Error(); err != nil {
		return fmt.Errorf("read raft configuration: %w", err)
	}
	if len(confFuture.Configuration().Servers) > 0 {
		return nil
	}

	util.Info("Starting static cluster bootstrap")

	if len(members) == 0 {
		if staticMembers := os.Getenv("CLUSTER_MEMBERS"); staticMembers != "" {
			members = strings.Split(staticMembers, ",")
		}
	}
	if len(members) == 0 {
		return fmt.Errorf("cluster members are required for static cluster bootstrap")
	}

	var servers []raft.Server
	for _, member := range members {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}

		var memberID, memberAddr string
		if strings.Contains(member, "@") {
			parts := strings.SplitN(member, "@", 2)
			memberID = parts[0]
			memberAddr = parts[1]
		} else {
			memberAddr = member
			memberID = strings.Split(memberAddr, ":")[0]
		}

		servers = append(servers, raft.Server{
			ID:       raft.ServerID(memberID),
			Address:  raft.ServerAddress(memberAddr),
			Suffrage: raft.Voter,
		})
		util.Debug("Added static cluster member: id=%s addr=%s", memberID, memberAddr)
	}

	if len(servers) == 0 {
		return fmt.Errorf("no valid servers found in cluster members")
	}

	if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		util.Error("Failed to bootstrap static cluster: %v", err)
		return fmt.Errorf("bootstrap static cluster: %w", err)
	}
	util.Info("Static cluster bootstrap completed")
	return nil
}

func (rm *Manager) observeLeadership(notifyCh <-chan bool) {
	for isLeader := range notifyCh {
		rm.isLeader.Store(isLeader)
		if isLeader {
			metrics.IsLeader.Set(1)
		} else {
			metrics.IsLeader.Set(0)
		}

		select {
		case rm.leaderCh <- isLeader:
			util.Debug("Leadership notification sent to leaderCh")
		default:
			util.Warn("Leadership notification dropped: leaderCh is full. State is still updated to %v", isLeader)
		}
	}
}

func (rm *Manager) IsLeader() bool {
	return rm.isLeader.Load()
}

func (rm *Manager) LeaderCh() <-chan bool {
	return rm.leaderCh
}

func (rm *Manager) LeaderAddress() string {
	return string(rm.raft.Leader())
}

func (rm *Manager) FSM() *MetaFSM {
	return rm.fsm
}

// applyCommand replicates one prefixed command and surfaces both transport
// and state machine errors.
func (rm *Manager) applyCommand(prefix string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", strings.TrimSuffix(prefix, ":"), err)
	}

	future := rm.raft.Apply(append([]byte(prefix), data...), applyTimeout)
	if err := future.Error(); err != nil {
		return err
	}
	if resErr, ok := future.Response().(error); ok {
		return resErr
	}
	return nil
}

// ApplyBinlog replicates one binlog entry to every node's log.
func (rm *Manager) ApplyBinlog(e *types.BinlogEntry) error {
	return rm.applyCommand(cmdBinlog, e)
}

// ShipTombstone replicates one gc decision. The gcer calls this with every
// tombstone a sweep produces.
func (rm *Manager) ShipTombstone(t *binlog.Tombstone) error {
	return rm.applyCommand(cmdGc, t)
}

// ApplyDropTable replicates a table drop.
func (rm *Manager) ApplyDropTable(dbID, tableID int64) error {
	return rm.applyCommand(cmdDropTable, dropTableCommand{DbID: dbID, TableID: tableID})
}

func (rm *Manager) AddVoter(id string, addr string) error {
	util.Info("Adding voter %s at %s", id, addr)
	future := rm.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return err
	}

	rm.mu.Lock()
	rm.peers[id] = addr
	rm.mu.Unlock()
	return nil
}

func (rm *Manager) RemoveServer(id string) error {
	future := rm.raft.RemoveServer(raft.ServerID(id), 0, 10*time.Second)
	if err := future.Error(); err == nil {
		rm.mu.Lock()
		delete(rm.peers, id)
		rm.mu.Unlock()
	}
	return future.Error()
}

func (rm *Manager) Shutdown() error {
	if rm.raft != nil {
		if err := rm.raft.Shutdown().Error(); err != nil {
			util.Error("Failed to shutdown raft: %v", err)
			return err
		}
	}
	util.Info("Replication manager shut down")
	return nil
}
