package config_test

import (
	"testing"

	"github.com/liuxinzero07/doris/pkg/config"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Normalize()

	if cfg.ServePort != 9020 {
		t.Errorf("ServePort default incorrect: %d", cfg.ServePort)
	}
	if cfg.MaxConnections != 1000 {
		t.Errorf("MaxConnections default incorrect: %d", cfg.MaxConnections)
	}
	if cfg.MetaDir != "metad-data" {
		t.Errorf("MetaDir default incorrect: %s", cfg.MetaDir)
	}
	if cfg.GcIntervalSeconds != 60 {
		t.Errorf("GcIntervalSeconds default incorrect: %d", cfg.GcIntervalSeconds)
	}
	if cfg.DefaultTTLSeconds != 86400 {
		t.Errorf("DefaultTTLSeconds default incorrect: %d", cfg.DefaultTTLSeconds)
	}
	if cfg.RaftPort != 9010 {
		t.Errorf("RaftPort default incorrect: %d", cfg.RaftPort)
	}
}

func TestNormalizeKeepsDisabledTTL(t *testing.T) {
	cfg := &config.Config{DefaultTTLSeconds: -1}
	cfg.Normalize()

	if cfg.DefaultTTLSeconds != -1 {
		t.Errorf("negative TTL must survive normalization: %d", cfg.DefaultTTLSeconds)
	}
}

func TestNormalizeTrimsClusterMembers(t *testing.T) {
	cfg := &config.Config{
		ClusterMembers: []string{" metad-1@10.0.0.1:9010 ", "", "metad-2@10.0.0.2:9010"},
	}
	cfg.Normalize()

	if len(cfg.ClusterMembers) != 2 {
		t.Fatalf("expected 2 members, got %v", cfg.ClusterMembers)
	}
	if cfg.ClusterMembers[0] != "metad-1@10.0.0.1:9010" {
		t.Errorf("member not trimmed: %q", cfg.ClusterMembers[0])
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &config.Config{MetaDir: "/var/lib/metad"}
	cfg.Normalize()

	if cfg.CheckpointPath() != "/var/lib/metad/binlog.ckpt" {
		t.Errorf("CheckpointPath incorrect: %s", cfg.CheckpointPath())
	}
	if cfg.CursorDBPath() != "/var/lib/metad/cursors.db" {
		t.Errorf("CursorDBPath incorrect: %s", cfg.CursorDBPath())
	}
	if cfg.RaftDir() != "/var/lib/metad/raft" {
		t.Errorf("RaftDir incorrect: %s", cfg.RaftDir())
	}
}
