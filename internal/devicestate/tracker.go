// Package devicestate implements the Device State Tracker (spec.md §4.1,
// component C1): a per-(stream, device-uid) latest-timestamp admission
// filter. Exactly one instance exists per running StreamWorker and is never
// shared across goroutines, so — per spec.md's own concurrency note — no
// internal locking is required beyond the host language's memory model;
// Go's single-goroutine-owner convention satisfies that directly.
package devicestate

import (
	"time"

	"github.com/trakbridge/trakbridge/internal/models"
)

// Tracker admits events in strictly increasing per-device timestamp order
// and purges entries older than a TTL. Not safe for concurrent use from more
// than one goroutine (see package doc).
type Tracker struct {
	devices map[string]models.DeviceState
	now     func() time.Time
}

// New returns an empty Tracker. nowFn overrides the wall clock for tests;
// pass nil to use time.Now.
func New(nowFn func() time.Time) *Tracker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Tracker{
		devices: make(map[string]models.DeviceState),
		now:     nowFn,
	}
}

// Admit returns true iff eventTS is strictly newer than the stored timestamp
// for uid (or no timestamp is stored yet). On admission it atomically
// updates the stored timestamp and wall-clock (spec.md §4.1).
func (t *Tracker) Admit(uid string, eventTS time.Time) bool {
	prior, ok := t.devices[uid]
	if ok && !eventTS.After(prior.LastEventTimestamp) {
		return false
	}
	t.devices[uid] = models.DeviceState{
		LastEventTimestamp: eventTS,
		LastSeenWallClock:  t.now(),
	}
	return true
}

// ForgetOlderThan purges entries whose wall-clock last-seen is older than
// ttl (spec.md §4.1 "forget_older_than").
func (t *Tracker) ForgetOlderThan(ttl time.Duration) {
	cutoff := t.now().Add(-ttl)
	for uid, st := range t.devices {
		if st.LastSeenWallClock.Before(cutoff) {
			delete(t.devices, uid)
		}
	}
}

// Snapshot reports the current device count and per-device last-seen
// timestamps for observability (spec.md §4.1 "snapshot").
type Snapshot struct {
	DeviceCount int
	LastSeen    map[string]time.Time
}

// Snapshot returns the current tracker state. Safe to call from the owning
// goroutine only, matching Admit/ForgetOlderThan.
func (t *Tracker) Snapshot() Snapshot {
	seen := make(map[string]time.Time, len(t.devices))
	for uid, st := range t.devices {
		seen[uid] = st.LastSeenWallClock
	}
	return Snapshot{DeviceCount: len(t.devices), LastSeen: seen}
}
