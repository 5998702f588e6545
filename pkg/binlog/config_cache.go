package binlog

import "sync"

// ConfigSource resolves a table's retention TTL at gc time. A negative TTL
// means time-based retention is disabled for the table; an error means the
// table's configuration could not be resolved right now and the pass
// should be retried later.
type ConfigSource interface {
	BinlogTTLSeconds(dbID, tableID int64) (int64, error)
}

// StaticConfig is a ConfigSource backed by a default TTL and per-table
// overrides. Deployments without a live catalog feed use it directly.
type StaticConfig struct {
	mu         sync.RWMutex
	defaultTTL int64
	overrides  map[tableKey]int64
}

func NewStaticConfig(defaultTTLSeconds int64) *StaticConfig {
	return &StaticConfig{
		defaultTTL: defaultTTLSeconds,
		overrides:  make(map[tableKey]int64),
	}
}

func (c *StaticConfig) SetTableTTL(dbID, tableID, ttlSeconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[tableKey{dbID, tableID}] = ttlSeconds
}

func (c *StaticConfig) BinlogTTLSeconds(dbID, tableID int64) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ttl, ok := c.overrides[tableKey{dbID, tableID}]; ok {
		return ttl, nil
	}
	return c.defaultTTL, nil
}

// ConfigCache memoizes TTL resolutions so one gc sweep does not hit the
// source once per table per pass. Errors are never cached; an unresolved
// table is retried on the next pass.
type ConfigCache struct {
	mu     sync.RWMutex
	source ConfigSource
	ttls   map[tableKey]int64
}

func NewConfigCache(source ConfigSource) *ConfigCache {
	return &ConfigCache{
		source: source,
		ttls:   make(map[tableKey]int64),
	}
}

func (c *ConfigCache) BinlogTTLSeconds(dbID, tableID int64) (int64, error) {
	key := tableKey{dbID, tableID}

	c.mu.RLock()
	ttl, ok := c.ttls[key]
	c.mu.RUnlock()
	if ok {
		return ttl, nil
	}

	ttl, err := c.source.BinlogTTLSeconds(dbID, tableID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.ttls[key] = ttl
	c.mu.Unlock()
	return ttl, nil
}

// Invalidate drops one table's cached TTL, forcing a fresh resolution on
// the next pass. Called when the table's properties change.
func (c *ConfigCache) Invalidate(dbID, tableID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ttls, tableKey{dbID, tableID})
}

// InvalidateAll drops every cached TTL.
func (c *ConfigCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls = make(map[tableKey]int64)
}
