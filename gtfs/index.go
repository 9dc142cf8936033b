package gtfs

import (
	"sort"
	"sync"
	"time"
)

// IndexOptions carries the policy knobs applied while building an index.
type IndexOptions struct {
	// MaxTransferMeters is the walk-edge radius between distinct stops.
	MaxTransferMeters float64
	// WalkSpeed is walking speed in meters per minute.
	WalkSpeed float64
	// WalkBuffer is added to every computed walking duration.
	WalkBuffer time.Duration
	// SameStationBuffer is the fixed platform-change time between stops
	// sharing a parent station.
	SameStationBuffer time.Duration
}

// DefaultIndexOptions match common GTFS practice: 400 m radius, 80 m/min
// walking speed with a one minute buffer, two minutes between platforms.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		MaxTransferMeters: 400,
		WalkSpeed:         80,
		WalkBuffer:        time.Minute,
		SameStationBuffer: 2 * time.Minute,
	}
}

// StopVisit is one scheduled call of a trip at a stop, as returned by
// TripsServing. Seq indexes into the trip's StopTimes.
type StopVisit struct {
	TripID    string
	Seq       int
	Arrival   int
	Departure int
}

// ScheduleIndex is the immutable, queryable form of one static feed
// version. All lookup maps are fixed after BuildIndex returns; the only
// internal mutation is the per-date active-service memo, which is safe
// for concurrent readers.
type ScheduleIndex struct {
	version    string
	agencyName string
	loc        *time.Location
	opts       IndexOptions

	stops      map[string]Stop
	stopByCode map[string]string
	children   map[string][]string
	routes     map[string]Route
	trips      map[string]*Trip
	calendars  map[string]*ServiceCalendar

	visitsByStop map[string][]StopVisit
	hourStarts   map[string][]int

	graph *TransferGraph

	activeMemo sync.Map // YYYYMMDD -> map[string]struct{}
}

// BuildIndex validates a parsed feed and builds the schedule index.
// Referential violations and non-monotonic stop-time offsets fail with
// MalformedFeedError; the caller keeps serving its previous index.
func BuildIndex(feed *Feed, version string, opts IndexOptions) (*ScheduleIndex, error) {
	loc, err := time.LoadLocation(feed.AgencyTimezone)
	if err != nil || feed.AgencyTimezone == "" {
		loc = time.UTC
	}
	idx := &ScheduleIndex{
		version:      version,
		agencyName:   feed.AgencyName,
		loc:          loc,
		opts:         opts,
		stops:        make(map[string]Stop, len(feed.Stops)),
		stopByCode:   map[string]string{},
		children:     map[string][]string{},
		routes:       make(map[string]Route, len(feed.Routes)),
		trips:        make(map[string]*Trip, len(feed.Trips)),
		calendars:    make(map[string]*ServiceCalendar, len(feed.Calendars)),
		visitsByStop: map[string][]StopVisit{},
		hourStarts:   map[string][]int{},
	}
	for _, s := range feed.Stops {
		idx.stops[s.ID] = s
		if s.Code != "" {
			idx.stopByCode[s.Code] = s.ID
		}
	}
	for _, s := range feed.Stops {
		if s.ParentStation == "" {
			continue
		}
		if _, ok := idx.stops[s.ParentStation]; !ok {
			return nil, malformedf("stop %s references unknown parent station %s", s.ID, s.ParentStation)
		}
		idx.children[s.ParentStation] = append(idx.children[s.ParentStation], s.ID)
	}
	for id := range idx.children {
		sort.Strings(idx.children[id])
	}
	for _, r := range feed.Routes {
		idx.routes[r.ID] = r
	}
	for i := range feed.Calendars {
		cal := &feed.Calendars[i]
		idx.calendars[cal.ID] = cal
	}
	for i := range feed.Trips {
		trip := &feed.Trips[i]
		if _, ok := idx.routes[trip.RouteID]; !ok {
			return nil, malformedf("trip %s references unknown route %s", trip.ID, trip.RouteID)
		}
		if _, ok := idx.calendars[trip.ServiceID]; !ok {
			return nil, malformedf("trip %s references unknown service %s", trip.ID, trip.ServiceID)
		}
		prev := -1
		for seq, st := range trip.StopTimes {
			if _, ok := idx.stops[st.StopID]; !ok {
				return nil, malformedf("trip %s references unknown stop %s", trip.ID, st.StopID)
			}
			if st.Departure < st.Arrival {
				return nil, malformedf("trip %s departs stop %s before arriving", trip.ID, st.StopID)
			}
			if st.Arrival < prev {
				return nil, malformedf("trip %s stop-time offsets regress at stop %s", trip.ID, st.StopID)
			}
			prev = st.Departure
			idx.visitsByStop[st.StopID] = append(idx.visitsByStop[st.StopID], StopVisit{
				TripID:    trip.ID,
				Seq:       seq,
				Arrival:   st.Arrival,
				Departure: st.Departure,
			})
		}
		idx.trips[trip.ID] = trip
	}
	for stopID, visits := range idx.visitsByStop {
		sort.Slice(visits, func(a, b int) bool {
			if visits[a].Departure != visits[b].Departure {
				return visits[a].Departure < visits[b].Departure
			}
			return visits[a].TripID < visits[b].TripID
		})
		idx.hourStarts[stopID] = buildHourStarts(visits)
	}
	idx.graph = buildTransferGraph(feed.Stops, idx.children, opts)
	return idx, nil
}

// buildHourStarts returns, per hour-of-day bucket, the first index in
// visits departing at or after that hour. Queries start scanning from
// their hour bucket instead of the head of the slice.
func buildHourStarts(visits []StopVisit) []int {
	maxHour := 0
	for _, v := range visits {
		if h := v.Departure / 3600; h > maxHour {
			maxHour = h
		}
	}
	starts := make([]int, maxHour+2)
	i := 0
	for h := 0; h <= maxHour+1; h++ {
		for i < len(visits) && visits[i].Departure < h*3600 {
			i++
		}
		starts[h] = i
	}
	return starts
}

func (idx *ScheduleIndex) Version() string          { return idx.version }
func (idx *ScheduleIndex) AgencyName() string       { return idx.agencyName }
func (idx *ScheduleIndex) Location() *time.Location { return idx.loc }
func (idx *ScheduleIndex) Options() IndexOptions    { return idx.opts }
func (idx *ScheduleIndex) TripCount() int           { return len(idx.trips) }
func (idx *ScheduleIndex) StopCount() int           { return len(idx.stops) }

func (idx *ScheduleIndex) Stop(id string) (Stop, bool) {
	s, ok := idx.stops[id]
	return s, ok
}

// StopByCode resolves a public stop code (the number printed on the pole)
// to its stop.
func (idx *ScheduleIndex) StopByCode(code string) (Stop, bool) {
	if id, ok := idx.stopByCode[code]; ok {
		return idx.stops[id], true
	}
	return Stop{}, false
}

func (idx *ScheduleIndex) Route(id string) (Route, bool) {
	r, ok := idx.routes[id]
	return r, ok
}

func (idx *ScheduleIndex) Trip(id string) (*Trip, bool) {
	t, ok := idx.trips[id]
	return t, ok
}

// Children returns the platform stops grouped under a station, sorted by ID.
func (idx *ScheduleIndex) Children(stationID string) []string {
	return idx.children[stationID]
}

// ServiceDayStart is the wall-clock midnight the date's stop-time
// offsets are relative to.
func (idx *ScheduleIndex) ServiceDayStart(date time.Time) time.Time {
	y, m, d := date.In(idx.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, idx.loc)
}

// StopsNear returns stops within radiusM meters of a coordinate, closest
// first, ties broken by stop ID.
func (idx *ScheduleIndex) StopsNear(lat, lon, radiusM float64) []Stop {
	type scored struct {
		stop Stop
		dist float64
	}
	var hits []scored
	for _, s := range idx.stops {
		d := Haversine(lat, lon, s.Lat, s.Lon)
		if d <= radiusM {
			hits = append(hits, scored{s, d})
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].dist != hits[b].dist {
			return hits[a].dist < hits[b].dist
		}
		return hits[a].stop.ID < hits[b].stop.ID
	})
	out := make([]Stop, len(hits))
	for i, h := range hits {
		out[i] = h.stop
	}
	return out
}

// TripsServing returns the stop's scheduled visits whose service runs on
// date, ordered by departure offset with trip-ID tiebreak.
func (idx *ScheduleIndex) TripsServing(stopID string, date time.Time) []StopVisit {
	return idx.VisitsBetween(stopID, date, 0, 1<<31-1)
}

// VisitsBetween returns the stop's active visits with departure offsets
// in [fromSec, untilSec]. The hour-bucket index bounds the scan.
func (idx *ScheduleIndex) VisitsBetween(stopID string, date time.Time, fromSec, untilSec int) []StopVisit {
	visits := idx.visitsByStop[stopID]
	if len(visits) == 0 {
		return nil
	}
	active := idx.activeServices(date)
	starts := idx.hourStarts[stopID]
	i := 0
	if fromSec > 0 {
		h := fromSec / 3600
		if h >= len(starts) {
			return nil
		}
		i = starts[h]
	}
	var out []StopVisit
	for ; i < len(visits); i++ {
		v := visits[i]
		if v.Departure > untilSec {
			break
		}
		if v.Departure < fromSec {
			continue
		}
		trip := idx.trips[v.TripID]
		if _, ok := active[trip.ServiceID]; !ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

// TransferGraph returns the walk-transfer graph built for this index.
func (idx *ScheduleIndex) TransferGraph() *TransferGraph { return idx.graph }

func (idx *ScheduleIndex) activeServices(date time.Time) map[string]struct{} {
	key := DateKey(date.In(idx.loc))
	if v, ok := idx.activeMemo.Load(key); ok {
		return v.(map[string]struct{})
	}
	active := idx.ActiveServices(date.In(idx.loc))
	idx.activeMemo.Store(key, active)
	return active
}
