package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/liuxinzero07/doris/pkg/binlog"
	"github.com/liuxinzero07/doris/pkg/checkpoint"
	"github.com/liuxinzero07/doris/pkg/config"
	"github.com/liuxinzero07/doris/pkg/cursor"
	"github.com/liuxinzero07/doris/pkg/replication"
	"github.com/liuxinzero07/doris/pkg/server"
	"github.com/liuxinzero07/doris/util"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = fmt.Sprintf("metad-%s", uuid.NewString()[:8])
	}

	fmt.Printf("🚀 Starting metad %s on port %d\n", nodeID, cfg.ServePort)
	fmt.Printf("📊 Exporter: %v | Raft: %s:%d\n", cfg.EnableExporter, cfg.AdvertisedHost, cfg.RaftPort)

	if err := os.MkdirAll(cfg.MetaDir, 0755); err != nil {
		log.Fatalf("❌ Failed to create meta directory: %v", err)
	}

	// Binlog state, warm-started from the last checkpoint.
	blm := binlog.NewManager()
	restored, err := checkpoint.NewReader(cfg.CheckpointPath()).Restore(blm)
	if err != nil {
		log.Fatalf("❌ Failed to restore checkpoint: %v", err)
	}
	if restored > 0 {
		util.Info("Warm start with %d checkpointed records", restored)
	}

	cursors, err := cursor.Open(cfg.CursorDBPath())
	if err != nil {
		log.Fatalf("❌ Failed to open cursor store: %v", err)
	}

	ttlSource := binlog.NewConfigCache(binlog.NewStaticConfig(cfg.DefaultTTLSeconds))
	horizons := binlog.NewStaticHorizons()

	// Replication runs only when cluster membership is configured.
	var repl *replication.Manager
	if cfg.BootstrapCluster || len(cfg.ClusterMembers) > 0 {
		repl, err = replication.NewManager(cfg, nodeID, blm)
		if err != nil {
			log.Fatalf("❌ Failed to start replication: %v", err)
		}
	} else {
		util.Info("Running standalone, replication disabled")
	}

	var sink binlog.TombstoneSink
	var replicator server.Replicator
	if repl != nil {
		sink = repl
		replicator = repl
	}

	gcer := binlog.NewGcer(blm, ttlSource, horizons, sink, time.Duration(cfg.GcIntervalSeconds)*time.Second)
	if repl != nil {
		gcer.SetGate(repl.IsLeader)
	}
	gcer.Start()

	go feedHorizons(blm, cursors, horizons, time.Duration(cfg.GcIntervalSeconds)*time.Second)

	writer := checkpoint.NewWriter(cfg.CheckpointPath())
	checkpointDone := make(chan struct{})
	go writer.Loop(blm, time.Duration(cfg.CheckpointIntervalSeconds)*time.Second, checkpointDone)

	go handleSignals(writer, blm, gcer, repl, cursors, checkpointDone)

	handler := server.NewCommandHandler(blm, cursors, cfg, replicator)
	if err := server.RunServer(cfg, handler); err != nil {
		log.Fatalf("❌ metad failed: %v", err)
	}
}

// feedHorizons promotes the slowest committed consumer position of each
// database into its gc horizon, so sequence collection never outruns a
// consumer that still needs the entries.
func feedHorizons(blm *binlog.Manager, cursors *cursor.Store, horizons *binlog.StaticHorizons, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		for _, dbID := range blm.Databases() {
			seq, ok, err := cursors.MinCommitted(context.Background(), dbID)
			if err != nil {
				util.Warn("Horizon feed: db %d: %v", dbID, err)
				continue
			}
			if ok {
				horizons.SetHorizon(dbID, seq)
			}
		}
	}
}

func handleSignals(w *checkpoint.Writer, blm *binlog.Manager, gcer *binlog.Gcer, repl *replication.Manager, cursors *cursor.Store, checkpointDone chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	util.Info("Received %s, shutting down", sig)
	close(checkpointDone)
	gcer.Stop()

	if err := w.Dump(blm); err != nil {
		util.Error("Final checkpoint failed: %v", err)
	}
	if repl != nil {
		repl.Shutdown()
	}
	cursors.Close()
	os.Exit(0)
}
