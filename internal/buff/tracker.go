// Package buff derives active-buff and cooldown state from decoded buff events.
package buff

import (
	"sort"
	"sync"
	"time"

	"firestige.xyz/buffwatch/internal/core"
)

// DebounceWindow collapses re-broadcasts of one trigger into a single proc.
const DebounceWindow = 500 * time.Millisecond

// ownerPlaceholder stands in for an absent owner slot in active-buff keys.
const ownerPlaceholder = "?"

// ActiveBuff is one entry of the active-buff table.
type ActiveBuff struct {
	Key        string // "owner:slot"
	OwnerSlot  core.OptInt32
	Slot       core.OptInt32
	BuffID     int32
	Stack      core.OptInt32
	DurationMs core.OptInt32
	EntityUUID uint64
	LastSeen   time.Time
}

// Cooldown is the state of one configured internal cooldown.
type Cooldown struct {
	BuffID    int32
	Duration  time.Duration
	Remaining time.Duration // Full Duration when not yet triggered
	Triggered bool
	LastProc  time.Time
	Procs     int
}

type proc struct {
	at    time.Time
	count int
}

// Tracker maintains the active-buff table and debounced proc timestamps.
// Time is always supplied by the caller. Feed and the queries may run on
// different goroutines.
type Tracker struct {
	mu        sync.RWMutex
	cooldowns map[int32]time.Duration
	active    map[string]ActiveBuff
	procs     map[int32]proc
}

// NewTracker creates a tracker. cooldowns maps buff ID to its configured
// internal cooldown and is copied.
func NewTracker(cooldowns map[int32]time.Duration) *Tracker {
	cd := make(map[int32]time.Duration, len(cooldowns))
	for id, d := range cooldowns {
		cd[id] = d
	}
	return &Tracker{
		cooldowns: cd,
		active:    make(map[string]ActiveBuff),
		procs:     make(map[int32]proc),
	}
}

// Key returns the active-buff key of an event.
func Key(owner, slot core.OptInt32) string {
	o := ownerPlaceholder
	if owner.Valid {
		o = owner.String()
	}
	return o + ":" + slot.String()
}

// Feed applies events in order.
//
// A removal deletes the entry for its owner and slot; without an owner it
// deletes every entry in that slot. Other events without a buff ID carry
// nothing to apply. Any other full event upserts its entry and counts as a
// proc of its buff ID unless one was recorded within DebounceWindow.
func (t *Tracker) Feed(events []core.BuffEvent, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range events {
		e := &events[i]
		if e.IsRemove() {
			t.remove(e)
			continue
		}
		if e.IsLite() {
			continue
		}

		key := Key(e.OwnerSlot, e.Slot)
		t.active[key] = ActiveBuff{
			Key:        key,
			OwnerSlot:  e.OwnerSlot,
			Slot:       e.Slot,
			BuffID:     e.BuffID.Value,
			Stack:      e.Stack,
			DurationMs: e.DurationMs,
			EntityUUID: e.EntityUUID,
			LastSeen:   now,
		}

		p, seen := t.procs[e.BuffID.Value]
		if !seen || now.Sub(p.at) > DebounceWindow {
			t.procs[e.BuffID.Value] = proc{at: now, count: p.count + 1}
		}
	}
}

func (t *Tracker) remove(e *core.BuffEvent) {
	if e.OwnerSlot.Valid {
		delete(t.active, Key(e.OwnerSlot, e.Slot))
		return
	}
	for key, a := range t.active {
		if a.Slot == e.Slot {
			delete(t.active, key)
		}
	}
}

// Cooldowns reports every configured cooldown at now, ordered by buff ID.
func (t *Tracker) Cooldowns(now time.Time) []Cooldown {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Cooldown, 0, len(t.cooldowns))
	for id, d := range t.cooldowns {
		c := Cooldown{BuffID: id, Duration: d, Remaining: d}
		if p, ok := t.procs[id]; ok {
			c.Triggered = true
			c.LastProc = p.at
			c.Procs = p.count
			c.Remaining = max(0, d-now.Sub(p.at))
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuffID < out[j].BuffID })
	return out
}

// Active reports every active buff, ordered by key.
func (t *Tracker) Active() []ActiveBuff {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ActiveBuff, 0, len(t.active))
	for _, a := range t.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ActiveCount returns the size of the active-buff table.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// LastProc returns the last accepted proc of buffID and the number of procs so far.
func (t *Tracker) LastProc(buffID int32) (at time.Time, count int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.procs[buffID]
	return p.at, p.count, ok
}
