package gtfsrt

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Overlay holds the mutable realtime state. Apply calls are serialized
// by a single writer lock; Snapshot hands out the last published
// immutable view without taking any lock.
type Overlay struct {
	mu       sync.Mutex
	trips    map[string]TripUpdate
	alerts   map[string]Alert
	alertSeq uint64
	feedTS   time.Time

	snap atomic.Pointer[Snapshot]
}

func NewOverlay() *Overlay {
	o := &Overlay{
		trips:  map[string]TripUpdate{},
		alerts: map[string]Alert{},
	}
	o.snap.Store(emptySnapshot())
	return o
}

// Apply merges one trip update. Idempotent: the highest sequence per
// trip wins and a lower or equal sequence is a no-op, so replayed or
// out-of-order updates never regress state.
func (o *Overlay) Apply(u TripUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.trips[u.TripID]; ok && cur.Sequence >= u.Sequence {
		return
	}
	o.trips[u.TripID] = u
}

// ApplyAlerts replaces the alert set. The alerts feed is a whole
// snapshot per fetch, so replacement (not merge) is the correct
// semantics; a stale sequence is ignored.
func (o *Overlay) ApplyAlerts(alerts []Alert, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq <= o.alertSeq && o.alertSeq != 0 {
		return
	}
	o.alertSeq = seq
	o.alerts = make(map[string]Alert, len(alerts))
	for _, a := range alerts {
		o.alerts[a.ID] = a
	}
}

// SetFeedTimestamp records the realtime feed header timestamp.
func (o *Overlay) SetFeedTimestamp(ts time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts.After(o.feedTS) {
		o.feedTS = ts
	}
}

// Publish prunes dead entries and atomically republishes the snapshot.
// Trip updates observed before cutoff are dropped; alerts whose active
// window ended before now are pruned, never silently kept.
func (o *Overlay) Publish(now time.Time, cutoff time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, u := range o.trips {
		if u.ObservedAt.Before(cutoff) {
			delete(o.trips, id)
		}
	}
	for id, a := range o.alerts {
		if !a.End.IsZero() && a.End.Before(now) {
			delete(o.alerts, id)
		}
	}
	s := &Snapshot{
		trips:  make(map[string]TripUpdate, len(o.trips)),
		feedTS: o.feedTS,
	}
	for id, u := range o.trips {
		s.trips[id] = u
	}
	s.alerts = make([]Alert, 0, len(o.alerts))
	for _, a := range o.alerts {
		s.alerts = append(s.alerts, a)
	}
	sort.Slice(s.alerts, func(i, j int) bool { return s.alerts[i].ID < s.alerts[j].ID })
	o.snap.Store(s)
}

// Snapshot returns the last published immutable view. Never nil.
func (o *Overlay) Snapshot() *Snapshot {
	return o.snap.Load()
}

// Snapshot is an immutable view of the overlay at one publish point.
type Snapshot struct {
	trips  map[string]TripUpdate
	alerts []Alert
	feedTS time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{trips: map[string]TripUpdate{}}
}

// EmptySnapshot is the view used before any realtime data has arrived;
// every consumer then degrades to schedule-only answers.
func EmptySnapshot() *Snapshot { return emptySnapshot() }

// Update returns the trip's realtime state, if any.
func (s *Snapshot) Update(tripID string) (TripUpdate, bool) {
	u, ok := s.trips[tripID]
	return u, ok
}

// Fresh reports whether the trip has realtime data newer than the
// staleness threshold. A stale trip must be treated as schedule-only.
func (s *Snapshot) Fresh(tripID string, now time.Time, threshold time.Duration) bool {
	u, ok := s.trips[tripID]
	if !ok {
		return false
	}
	return now.Sub(u.ObservedAt) <= threshold
}

// Canceled reports whether the trip is canceled in fresh realtime data.
func (s *Snapshot) Canceled(tripID string, now time.Time, threshold time.Duration) bool {
	u, ok := s.trips[tripID]
	return ok && u.Canceled && s.Fresh(tripID, now, threshold)
}

// DelayAt returns the fresh realtime delay for a trip at a stop.
func (s *Snapshot) DelayAt(tripID, stopID string, now time.Time, threshold time.Duration) (int, bool) {
	if !s.Fresh(tripID, now, threshold) {
		return 0, false
	}
	u := s.trips[tripID]
	su, ok := u.stopUpdate(stopID)
	if !ok || su.Skipped {
		return 0, false
	}
	return su.DelaySec, true
}

// SkippedAt reports whether fresh realtime data skips this stop for the trip.
func (s *Snapshot) SkippedAt(tripID, stopID string, now time.Time, threshold time.Duration) bool {
	if !s.Fresh(tripID, now, threshold) {
		return false
	}
	u := s.trips[tripID]
	su, ok := u.stopUpdate(stopID)
	return ok && su.Skipped
}

// ActiveAlerts returns the alerts whose window covers now, sorted by ID.
func (s *Snapshot) ActiveAlerts(now time.Time) []Alert {
	var out []Alert
	for _, a := range s.alerts {
		if a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out
}

// FeedTimestamp is the newest realtime feed header timestamp seen.
func (s *Snapshot) FeedTimestamp() time.Time { return s.feedTS }

// Age is how old the realtime feed is at now; very large when no feed
// has ever been seen.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s.feedTS.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(s.feedTS)
}

// TripCount returns the number of trips with realtime state.
func (s *Snapshot) TripCount() int { return len(s.trips) }
