// Package predictor merges the static schedule with the realtime
// overlay into time-ordered arrival predictions at a stop.
//
// Static-first with graceful degradation: every scheduled visit is a
// candidate, fresh realtime delays adjust it, and absent or stale
// realtime data leaves the scheduled time standing.
package predictor

import (
	"sort"
	"time"

	"github.com/citytransit/transitq/gtfs"
	"github.com/citytransit/transitq/gtfsrt"
)

// Source says where a predicted time came from.
type Source string

const (
	SourceRealtime  Source = "realtime"
	SourceScheduled Source = "scheduled"
)

// ArrivalEvent is one upcoming vehicle at a stop.
type ArrivalEvent struct {
	StopID         string
	TripID         string
	RouteID        string
	RouteShortName string
	Mode           gtfs.Mode
	Headsign       string
	Scheduled      time.Time
	Predicted      time.Time
	DelaySec       int
	MinutesUntil   int
	Source         Source
}

// Options carries prediction policy.
type Options struct {
	// Staleness is the realtime freshness threshold; older trip updates
	// are treated as schedule-only.
	Staleness time.Duration
}

// delaySlack widens the schedule scan so a delayed (or early) vehicle
// whose scheduled time sits outside the horizon window is still found.
const delaySlack = 3600

// Predict returns upcoming arrivals at a stop within the horizon,
// ascending by predicted time with trip-ID tiebreak. Events already in
// the past are excluded; canceled or skipped-at-this-stop trips never
// appear. With an empty overlay the result is exactly the schedule.
func Predict(idx *gtfs.ScheduleIndex, snap *gtfsrt.Snapshot, stopID string, now time.Time, horizon time.Duration, opts Options) []ArrivalEvent {
	if snap == nil {
		snap = gtfsrt.EmptySnapshot()
	}
	var events []ArrivalEvent
	// Today's service day plus yesterday's, whose over-midnight offsets
	// can land inside the window.
	for _, dayOffset := range []int{0, -1} {
		day := now.In(idx.Location()).AddDate(0, 0, dayOffset)
		dayStart := idx.ServiceDayStart(day)
		fromSec := int(now.Sub(dayStart).Seconds()) - delaySlack
		untilSec := int(now.Add(horizon).Sub(dayStart).Seconds()) + delaySlack
		if untilSec < 0 {
			continue
		}
		if fromSec < 0 {
			fromSec = 0
		}
		for _, v := range idx.VisitsBetween(stopID, day, fromSec, untilSec) {
			ev, ok := buildEvent(idx, snap, stopID, v, dayStart, now, horizon, opts)
			if ok {
				events = append(events, ev)
			}
		}
	}
	SortEvents(events)
	return events
}

// SortEvents orders events ascending by predicted time, trip-ID
// tiebreak, the canonical order for merged event lists.
func SortEvents(events []ArrivalEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Predicted.Equal(events[j].Predicted) {
			return events[i].Predicted.Before(events[j].Predicted)
		}
		return events[i].TripID < events[j].TripID
	})
}

func buildEvent(idx *gtfs.ScheduleIndex, snap *gtfsrt.Snapshot, stopID string, v gtfs.StopVisit, dayStart, now time.Time, horizon time.Duration, opts Options) (ArrivalEvent, bool) {
	if snap.Canceled(v.TripID, now, opts.Staleness) {
		return ArrivalEvent{}, false
	}
	if snap.SkippedAt(v.TripID, stopID, now, opts.Staleness) {
		return ArrivalEvent{}, false
	}
	trip, ok := idx.Trip(v.TripID)
	if !ok {
		return ArrivalEvent{}, false
	}
	route, _ := idx.Route(trip.RouteID)

	scheduled := dayStart.Add(time.Duration(v.Departure) * time.Second)
	predicted := scheduled
	source := SourceScheduled
	delay := 0
	if d, fresh := snap.DelayAt(v.TripID, stopID, now, opts.Staleness); fresh {
		delay = d
		predicted = scheduled.Add(time.Duration(d) * time.Second)
		source = SourceRealtime
	}
	if predicted.Before(now) || predicted.After(now.Add(horizon)) {
		return ArrivalEvent{}, false
	}
	return ArrivalEvent{
		StopID:         stopID,
		TripID:         v.TripID,
		RouteID:        trip.RouteID,
		RouteShortName: route.ShortName,
		Mode:           route.Mode,
		Headsign:       trip.Headsign,
		Scheduled:      scheduled,
		Predicted:      predicted,
		DelaySec:       delay,
		MinutesUntil:   int(predicted.Sub(now).Minutes()),
		Source:         source,
	}, true
}
