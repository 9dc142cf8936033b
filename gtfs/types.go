package gtfs

import "fmt"

// Mode is the travel mode of a route, derived from the GTFS route_type enum.
type Mode int

const (
	ModeTram Mode = iota
	ModeMetro
	ModeRail
	ModeBus
	ModeFerry
	ModeOther
)

func (m Mode) String() string {
	switch m {
	case ModeTram:
		return "tram"
	case ModeMetro:
		return "metro"
	case ModeRail:
		return "rail"
	case ModeBus:
		return "bus"
	case ModeFerry:
		return "ferry"
	default:
		return "other"
	}
}

// ModeFromRouteType maps a GTFS route_type to a Mode.
func ModeFromRouteType(routeType int) Mode {
	switch routeType {
	case 0:
		return ModeTram
	case 1:
		return ModeMetro
	case 2:
		return ModeRail
	case 3:
		return ModeBus
	case 4:
		return ModeFerry
	default:
		return ModeOther
	}
}

// Stop is a boarding location. ParentStation links a platform stop to its
// station; the reverse lookup is derived at index build time.
type Stop struct {
	ID            string
	Code          string
	Name          string
	Lat           float64
	Lon           float64
	ParentStation string
}

// Route groups trips under a public-facing line.
type Route struct {
	ID        string
	ShortName string
	LongName  string
	Mode      Mode
	Color     string
}

// StopTime is one scheduled call of a trip. Arrival and Departure are
// offsets in seconds from service-day midnight; GTFS allows values past
// 24:00:00 for trips running over midnight.
type StopTime struct {
	StopID    string
	Arrival   int
	Departure int
}

// Trip is one scheduled vehicle run along a route.
type Trip struct {
	ID        string
	RouteID   string
	ServiceID string
	Headsign  string
	StopTimes []StopTime
}

// ServiceCalendar says on which dates a service runs: a weekday mask
// bounded by a date range, adjusted by single-day exceptions.
type ServiceCalendar struct {
	ID        string
	Weekdays  [7]bool // indexed by time.Weekday (Sunday = 0)
	StartDate string  // YYYYMMDD, inclusive
	EndDate   string  // YYYYMMDD, inclusive
	Added     map[string]struct{}
	Removed   map[string]struct{}
}

// Feed is the parsed but not yet validated static dataset.
type Feed struct {
	AgencyName     string
	AgencyTimezone string
	Stops          []Stop
	Routes         []Route
	Trips          []Trip
	Calendars      []ServiceCalendar
}

// MalformedFeedError reports a structural or referential violation in a
// static feed. A build failing with this error leaves the previously
// published index in place.
type MalformedFeedError struct {
	Reason string
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("malformed feed: %s", e.Reason)
}

func malformedf(format string, args ...any) error {
	return &MalformedFeedError{Reason: fmt.Sprintf(format, args...)}
}
