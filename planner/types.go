package planner

import (
	"time"

	"github.com/citytransit/transitq/gtfs"
)

// LegKind distinguishes riding a trip from walking a transfer.
type LegKind string

const (
	LegRide LegKind = "ride"
	LegWalk LegKind = "walk"
)

// Leg is one segment of an itinerary: a transit ride between a board and
// an alight stop, or a foot transfer between nearby stops.
type Leg struct {
	Kind           LegKind
	TripID         string
	RouteID        string
	RouteShortName string
	Mode           gtfs.Mode
	Headsign       string
	FromStopID     string
	ToStopID       string
	Departure      time.Time
	Arrival        time.Time
	NumStops       int // ride legs: stops ridden, boarding included
	WalkMeters     float64
	Realtime       bool // times fold in a fresh realtime delay
}

// Itinerary is an ordered sequence of legs with its overall times.
type Itinerary struct {
	Legs      []Leg
	Departure time.Time
	Arrival   time.Time
	Duration  time.Duration
	Transfers int
}

// Constraint fixes one end of the itinerary in time: leave no earlier
// than DepartAfter, or be there by ArriveBefore. Exactly one is set.
type Constraint struct {
	DepartAfter  time.Time
	ArriveBefore time.Time
}

// Options carries search policy. Zero values fall back to defaults.
type Options struct {
	// MaxTransfers bounds the number of transfers (rides minus one).
	MaxTransfers int
	// MinTransfer is the minimum connection time between two rides at
	// the same stop.
	MinTransfer time.Duration
	// Window bounds how far past the constraint time departures are
	// considered.
	Window time.Duration
	// MaxResults caps the number of itineraries returned.
	MaxResults int
	// Staleness is the realtime freshness threshold; stale trip updates
	// are ignored and the schedule stands.
	Staleness time.Duration
}

// DefaultOptions mirror common GTFS practice: up to 3 transfers, 3 min
// minimum connection, 2 h departure window, 3 itineraries.
func DefaultOptions() Options {
	return Options{
		MaxTransfers: 3,
		MinTransfer:  3 * time.Minute,
		Window:       2 * time.Hour,
		MaxResults:   3,
		Staleness:    2 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxTransfers <= 0 {
		o.MaxTransfers = def.MaxTransfers
	}
	if o.MinTransfer <= 0 {
		o.MinTransfer = def.MinTransfer
	}
	if o.Window <= 0 {
		o.Window = def.Window
	}
	if o.MaxResults <= 0 {
		o.MaxResults = def.MaxResults
	}
	if o.Staleness <= 0 {
		o.Staleness = def.Staleness
	}
	return o
}
