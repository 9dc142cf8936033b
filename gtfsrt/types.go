package gtfsrt

import "time"

// StopTimeUpdate is the realtime state of one stop call within a trip:
// either a signed delay against the schedule or an explicit skip.
type StopTimeUpdate struct {
	StopID   string
	DelaySec int
	Skipped  bool
}

// TripUpdate is the realtime state of one trip instance. A later
// Sequence supersedes an earlier one for the same trip; out-of-order
// applies never regress the overlay.
type TripUpdate struct {
	TripID      string
	RouteID     string
	Canceled    bool
	StopUpdates []StopTimeUpdate
	ObservedAt  time.Time
	Sequence    uint64
}

// stopUpdate returns the update for a stop within the trip, if any.
func (u *TripUpdate) stopUpdate(stopID string) (StopTimeUpdate, bool) {
	for _, su := range u.StopUpdates {
		if su.StopID == stopID {
			return su, true
		}
	}
	return StopTimeUpdate{}, false
}

// Alert is a service alert with its affected entities and active window.
// An alert with no entity references is network-wide.
type Alert struct {
	ID          string
	Severity    string
	Cause       string
	Effect      string
	Header      string
	Description string
	Start       time.Time // zero means open-ended
	End         time.Time // zero means open-ended
	RouteIDs    []string
	StopIDs     []string
	TripIDs     []string
}

// NetworkWide reports whether the alert applies to the whole network.
func (a *Alert) NetworkWide() bool {
	return len(a.RouteIDs) == 0 && len(a.StopIDs) == 0 && len(a.TripIDs) == 0
}

// ActiveAt reports whether now falls inside the alert's active window.
func (a *Alert) ActiveAt(now time.Time) bool {
	if !a.Start.IsZero() && now.Before(a.Start) {
		return false
	}
	if !a.End.IsZero() && now.After(a.End) {
		return false
	}
	return true
}
