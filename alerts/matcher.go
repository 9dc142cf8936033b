// Package alerts matches active service alerts against the entities a
// query cares about.
package alerts

import (
	"time"

	"github.com/citytransit/transitq/gtfsrt"
)

// EntityRef names the entities a caller wants alerts for. Empty fields
// do not constrain; a fully empty ref matches every active alert.
type EntityRef struct {
	RouteID string
	StopID  string
	TripID  string
}

// Empty reports whether the ref constrains nothing.
func (r EntityRef) Empty() bool {
	return r.RouteID == "" && r.StopID == "" && r.TripID == ""
}

// Match returns the alerts active at now that apply to ref, sorted by
// ID (the snapshot keeps them sorted). Network-wide alerts, those with
// no informed entities at all, always apply. No active alerts is a
// normal outcome and yields an empty slice.
func Match(snap *gtfsrt.Snapshot, ref EntityRef, now time.Time) []gtfsrt.Alert {
	if snap == nil {
		return nil
	}
	active := snap.ActiveAlerts(now)
	if ref.Empty() {
		return active
	}
	var out []gtfsrt.Alert
	for _, a := range active {
		if a.NetworkWide() || applies(a, ref) {
			out = append(out, a)
		}
	}
	return out
}

func applies(a gtfsrt.Alert, ref EntityRef) bool {
	if ref.RouteID != "" && contains(a.RouteIDs, ref.RouteID) {
		return true
	}
	if ref.StopID != "" && contains(a.StopIDs, ref.StopID) {
		return true
	}
	if ref.TripID != "" && contains(a.TripIDs, ref.TripID) {
		return true
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
