package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liuxinzero07/doris/util"
)

// Config holds the metadata service configuration including retention and
// cluster tunables.
type Config struct {
	// Server settings
	ServePort      int           `yaml:"serve_port" json:"serve.port"`
	MaxConnections int           `yaml:"max_connections" json:"max.connections"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`

	// Metadata persistence
	MetaDir                   string `yaml:"meta_dir" json:"meta.dir"`
	CheckpointIntervalSeconds int    `yaml:"checkpoint_interval_seconds" json:"checkpoint.interval.seconds"`

	// Binlog retention
	GcIntervalSeconds int   `yaml:"gc_interval_seconds" json:"gc.interval.seconds"`
	DefaultTTLSeconds int64 `yaml:"default_ttl_seconds" json:"default.ttl.seconds"`

	// Cluster membership
	NodeID           string   `yaml:"node_id" json:"node.id"`
	AdvertisedHost   string   `yaml:"advertised_host" json:"advertised.host"`
	RaftPort         int      `yaml:"raft_port" json:"raft.port"`
	BootstrapCluster bool     `yaml:"bootstrap_cluster" json:"bootstrap.cluster"`
	ClusterMembers   []string `yaml:"cluster_members" json:"cluster.members"` // id@host:port
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	portStr := flag.String("port", "9020", "Binlog service port")
	maxConnsStr := flag.String("max-connections", "1000", "Maximum concurrent client connections")
	exporterStr := flag.String("exporter", "true", "Enable Prometheus exporter")
	exporterPortStr := flag.String("exporter-port", "9100", "Exporter port")
	logLevelStr := flag.String("log-level", "info", "Log Level (debug, info, warn, error)")

	metaDirStr := flag.String("meta-dir", "metad-data", "Path for checkpoints, cursors and raft state")
	checkpointIntervalStr := flag.String("checkpoint-interval", "300", "Checkpoint interval in seconds")

	gcIntervalStr := flag.String("gc-interval", "60", "Binlog gc interval in seconds")
	defaultTTLStr := flag.String("default-ttl", "86400", "Default binlog TTL in seconds (negative disables TTL collection)")

	nodeIDStr := flag.String("node-id", "", "Cluster node id (generated when empty)")
	advertisedHostStr := flag.String("advertised-host", "127.0.0.1", "Host advertised to raft peers")
	raftPortStr := flag.String("raft-port", "9010", "Raft transport port")
	bootstrapStr := flag.String("bootstrap-cluster", "false", "Bootstrap a static cluster")
	membersStr := flag.String("cluster-members", "", "Static cluster members as id@host:port, comma separated")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, portStr, maxConnsStr, exporterStr, exporterPortStr, logLevelStr,
		metaDirStr, checkpointIntervalStr, gcIntervalStr, defaultTTLStr,
		nodeIDStr, advertisedHostStr, raftPortStr, bootstrapStr, membersStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyExplicitFlags(cfg, portStr, maxConnsStr, exporterStr, exporterPortStr, logLevelStr,
		metaDirStr, checkpointIntervalStr, gcIntervalStr, defaultTTLStr,
		nodeIDStr, advertisedHostStr, raftPortStr, bootstrapStr, membersStr)

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)

	return cfg, nil
}

func applyDefaults(cfg *Config, portStr, maxConnsStr, exporterStr, exporterPortStr, logLevelStr,
	metaDirStr, checkpointIntervalStr, gcIntervalStr, defaultTTLStr,
	nodeIDStr, advertisedHostStr, raftPortStr, bootstrapStr, membersStr *string) {

	cfg.ServePort = util.ParseInt(*portStr, 9020)
	cfg.MaxConnections = util.ParseInt(*maxConnsStr, 1000)

	if exporter, err := strconv.ParseBool(*exporterStr); err == nil {
		cfg.EnableExporter = exporter
	}
	if exporterPort, err := strconv.Atoi(*exporterPortStr); err == nil {
		cfg.ExporterPort = exporterPort
	}
	cfg.LogLevel = parseLogLevel(*logLevelStr)

	cfg.MetaDir = *metaDirStr
	if checkpointInterval, err := strconv.Atoi(*checkpointIntervalStr); err == nil {
		cfg.CheckpointIntervalSeconds = checkpointInterval
	}

	if gcInterval, err := strconv.Atoi(*gcIntervalStr); err == nil {
		cfg.GcIntervalSeconds = gcInterval
	}
	cfg.DefaultTTLSeconds = util.ParseInt64(*defaultTTLStr, 86400)

	cfg.NodeID = *nodeIDStr
	cfg.AdvertisedHost = *advertisedHostStr
	if raftPort, err := strconv.Atoi(*raftPortStr); err == nil {
		cfg.RaftPort = raftPort
	}
	if bootstrap, err := strconv.ParseBool(*bootstrapStr); err == nil {
		cfg.BootstrapCluster = bootstrap
	}
	cfg.ClusterMembers = splitMembers(*membersStr)
}

func applyExplicitFlags(cfg *Config, portStr, maxConnsStr, exporterStr, exporterPortStr, logLevelStr,
	metaDirStr, checkpointIntervalStr, gcIntervalStr, defaultTTLStr,
	nodeIDStr, advertisedHostStr, raftPortStr, bootstrapStr, membersStr *string) {

	if *portStr != "9020" {
		if port, err := strconv.Atoi(*portStr); err == nil {
			cfg.ServePort = port
		}
	}
	if *maxConnsStr != "1000" {
		if maxConns, err := strconv.Atoi(*maxConnsStr); err == nil {
			cfg.MaxConnections = maxConns
		}
	}
	if *exporterStr != "true" {
		if exporter, err := strconv.ParseBool(*exporterStr); err == nil {
			cfg.EnableExporter = exporter
		}
	}
	if *exporterPortStr != "9100" {
		if exporterPort, err := strconv.Atoi(*exporterPortStr); err == nil {
			cfg.ExporterPort = exporterPort
		}
	}
	if *logLevelStr != "info" {
		cfg.LogLevel = parseLogLevel(*logLevelStr)
	}
	if *metaDirStr != "metad-data" {
		cfg.MetaDir = *metaDirStr
	}
	if *checkpointIntervalStr != "300" {
		if checkpointInterval, err := strconv.Atoi(*checkpointIntervalStr); err == nil {
			cfg.CheckpointIntervalSeconds = checkpointInterval
		}
	}
	if *gcIntervalStr != "60" {
		if gcInterval, err := strconv.Atoi(*gcIntervalStr); err == nil {
			cfg.GcIntervalSeconds = gcInterval
		}
	}
	if *defaultTTLStr != "86400" {
		if ttl, err := strconv.ParseInt(*defaultTTLStr, 10, 64); err == nil {
			cfg.DefaultTTLSeconds = ttl
		}
	}
	if *nodeIDStr != "" {
		cfg.NodeID = *nodeIDStr
	}
	if *advertisedHostStr != "127.0.0.1" {
		cfg.AdvertisedHost = *advertisedHostStr
	}
	if *raftPortStr != "9010" {
		if raftPort, err := strconv.Atoi(*raftPortStr); err == nil {
			cfg.RaftPort = raftPort
		}
	}
	if *bootstrapStr != "false" {
		if bootstrap, err := strconv.ParseBool(*bootstrapStr); err == nil {
			cfg.BootstrapCluster = bootstrap
		}
	}
	if *membersStr != "" {
		cfg.ClusterMembers = splitMembers(*membersStr)
	}
}

func parseLogLevel(s string) util.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return util.LogLevelDebug
	case "info":
		return util.LogLevelInfo
	case "warn", "warning":
		return util.LogLevelWarn
	case "error":
		return util.LogLevelError
	default:
		return util.LogLevelInfo
	}
}

func splitMembers(s string) []string {
	var members []string
	for _, member := range strings.Split(s, ",") {
		member = strings.TrimSpace(member)
		if member != "" {
			members = append(members, member)
		}
	}
	return members
}

func (cfg *Config) Normalize() {
	if cfg.ServePort <= 0 {
		cfg.ServePort = 9020
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}

	if strings.TrimSpace(cfg.MetaDir) == "" {
		cfg.MetaDir = "metad-data"
	}
	if cfg.CheckpointIntervalSeconds <= 0 {
		cfg.CheckpointIntervalSeconds = 300
	}

	if cfg.GcIntervalSeconds <= 0 {
		cfg.GcIntervalSeconds = 60
	}
	if cfg.DefaultTTLSeconds == 0 {
		cfg.DefaultTTLSeconds = 86400
	}

	if strings.TrimSpace(cfg.AdvertisedHost) == "" {
		cfg.AdvertisedHost = "127.0.0.1"
	}
	if cfg.RaftPort <= 0 {
		cfg.RaftPort = 9010
	}

	members := cfg.ClusterMembers[:0]
	for _, member := range cfg.ClusterMembers {
		member = strings.TrimSpace(member)
		if member != "" {
			members = append(members, member)
		}
	}
	cfg.ClusterMembers = members
}

// CheckpointPath is where the periodic binlog checkpoint lands.
func (cfg *Config) CheckpointPath() string {
	return filepath.Join(cfg.MetaDir, "binlog.ckpt")
}

// CursorDBPath is the SQLite file holding consumer cursor positions.
func (cfg *Config) CursorDBPath() string {
	return filepath.Join(cfg.MetaDir, "cursors.db")
}

// RaftDir holds raft snapshots and transport state.
func (cfg *Config) RaftDir() string {
	return filepath.Join(cfg.MetaDir, "raft")
}
