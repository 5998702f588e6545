package binlog

import (
	"sync"
	"time"

	"github.com/liuxinzero07/doris/util"
)

// HorizonSource reports the externally coordinated collection horizon for
// a database, when the database has one. Databases without a horizon fall
// back to TTL retention.
type HorizonSource interface {
	SeqHorizon(dbID int64) (uint64, bool)
}

// TombstoneSink receives every tombstone a gc cycle produces. The
// replication layer implements this to fan gc decisions out to replicas.
type TombstoneSink interface {
	ShipTombstone(t *Tombstone) error
}

// StaticHorizons is a HorizonSource backed by a plain map, fed by whatever
// coordination channel the deployment uses.
type StaticHorizons struct {
	mu       sync.RWMutex
	horizons map[int64]uint64
}

func NewStaticHorizons() *StaticHorizons {
	return &StaticHorizons{horizons: make(map[int64]uint64)}
}

func (h *StaticHorizons) SetHorizon(dbID int64, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if seq > h.horizons[dbID] {
		h.horizons[dbID] = seq
	}
}

func (h *StaticHorizons) SeqHorizon(dbID int64) (uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seq, ok := h.horizons[dbID]
	return seq, ok
}

// Gcer drives periodic garbage collection across every tracked database:
// sequence-horizon collection when the database has a coordinated horizon,
// TTL collection otherwise. Produced tombstones go to the sink.
type Gcer struct {
	manager  *Manager
	source   ConfigSource
	horizons HorizonSource
	sink     TombstoneSink
	interval time.Duration
	gate     func() bool
	done     chan struct{}
}

func NewGcer(manager *Manager, source ConfigSource, horizons HorizonSource, sink TombstoneSink, interval time.Duration) *Gcer {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Gcer{
		manager:  manager,
		source:   source,
		horizons: horizons,
		sink:     sink,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// SetGate installs a predicate consulted before every sweep. Clustered
// deployments gate on raft leadership so only one node decides collection.
func (g *Gcer) SetGate(gate func() bool) {
	g.gate = gate
}

func (g *Gcer) Start() {
	go g.loop()
}

func (g *Gcer) Stop() {
	close(g.done)
}

func (g *Gcer) loop() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.RunOnce()
		case <-g.done:
			return
		}
	}
}

// RunOnce sweeps every database once and ships whatever tombstones the
// sweep produced. It returns the shipped tombstones.
func (g *Gcer) RunOnce() []*Tombstone {
	if g.gate != nil && !g.gate() {
		util.Debug("Gc: sweep skipped, not the deciding node")
		return nil
	}

	var shipped []*Tombstone
	for _, dbID := range g.manager.Databases() {
		for _, t := range g.manager.GcDatabase(dbID, g.policyFor(dbID)) {
			if g.sink != nil {
				if err := g.sink.ShipTombstone(t); err != nil {
					util.Error("Gc: ship tombstone for db %d failed: %v", dbID, err)
					continue
				}
			}
			shipped = append(shipped, t)
		}
	}
	return shipped
}

func (g *Gcer) policyFor(dbID int64) Policy {
	if g.horizons != nil {
		if horizon, ok := g.horizons.SeqHorizon(dbID); ok {
			return SeqHorizonPolicy{Horizon: horizon}
		}
	}
	return TTLPolicy{Source: g.source}
}
