package pipeline

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"avsrt/internal/logging"
)

// Counter names used in the run summary and the ledger.
const (
	CounterSegmentsProduced    = "segments_produced"
	CounterSegmentsAccepted    = "segments_accepted"
	CounterSegmentsRejected    = "segments_rejected"
	CounterSalvageAttempts     = "salvage_attempts"
	CounterSalvageSuccesses    = "salvage_successes"
	CounterBlocksProduced      = "blocks_produced"
	CounterCacheHits           = "cache_hits"
	CounterCacheMisses         = "cache_misses"
	CounterTranslationFailures = "translation_failures"
	CounterStagesRun           = "stages_run"
	CounterStagesSkipped       = "stages_skipped"

	rejectedPrefix = "rejected."
)

// Counters accumulates run summary numbers. Safe for concurrent use.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]int64)}
}

// Add increments name by delta.
func (c *Counters) Add(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] += delta
}

// Set overwrites name. Stage accounting uses Set so a value derived from an
// artifact is not double counted.
func (c *Counters) Set(name string, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] = value
}

// SetRejected replaces the per-reason rejection counts.
func (c *Counters) SetRejected(byReason map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.values {
		if strings.HasPrefix(name, rejectedPrefix) {
			delete(c.values, name)
		}
	}
	for reason, n := range byReason {
		c.values[rejectedPrefix+reason] = int64(n)
	}
}

// Get returns the current value of name.
func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot copies the current values.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.values)
}

// LogSummary writes one "run summary" record with every counter.
func (c *Counters) LogSummary(logger *slog.Logger) {
	snapshot := c.Snapshot()
	names := slices.Sorted(maps.Keys(snapshot))
	attrs := make([]logging.Attr, 0, len(names)+1)
	attrs = append(attrs, logging.String(logging.FieldEventType, "run_summary"))
	for _, name := range names {
		attrs = append(attrs, logging.Int64(name, snapshot[name]))
	}
	logger.Info("run summary", logging.Args(attrs...)...)
}
