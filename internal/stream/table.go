package stream

import (
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/metrics"
)

// DefaultIdleTimeout evicts a direction that has seen no segment for this long.
const DefaultIdleTimeout = 2 * time.Minute

// Table holds one Reassembler per TCP direction. Directions unused for the
// idle timeout are evicted by the cache janitor.
type Table struct {
	cfg   Config
	idle  time.Duration
	cache *cache.Cache
}

// NewTable creates a direction table. The janitor runs every idle/2.
func NewTable(cfg Config, idle time.Duration) *Table {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	c := cache.New(idle, idle/2)
	c.OnEvicted(func(string, interface{}) {
		metrics.ActiveStreams.Dec()
	})
	return &Table{cfg: cfg, idle: idle, cache: c}
}

// Get returns the reassembler for flow, creating it on first use, and
// refreshes its idle deadline.
func (t *Table) Get(flow core.FlowKey) *Reassembler {
	key := flow.String()
	if v, ok := t.cache.Get(key); ok {
		r := v.(*Reassembler)
		t.cache.Set(key, r, cache.DefaultExpiration)
		return r
	}
	r := NewReassembler(key, t.cfg)
	t.cache.Set(key, r, cache.DefaultExpiration)
	metrics.ActiveStreams.Inc()
	return r
}

// Sweep runs the desync check on every direction and returns how many were reset.
// It must run on the goroutine that feeds the table.
func (t *Table) Sweep(now time.Time) int {
	resets := 0
	for _, item := range t.cache.Items() {
		if item.Object.(*Reassembler).CheckDesync(now) {
			resets++
		}
	}
	return resets
}

// Len returns the number of tracked directions.
func (t *Table) Len() int {
	return t.cache.ItemCount()
}

// Flush drops every direction.
func (t *Table) Flush() {
	metrics.ActiveStreams.Sub(float64(t.cache.ItemCount()))
	t.cache.Flush()
}
