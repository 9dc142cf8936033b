// Package transitq answers transit queries over an in-memory schedule
// index and a realtime overlay: upcoming arrivals at a stop, itineraries
// between two stops, active service alerts, and feed health.
//
// Queries read immutable snapshots and never block feed refreshes; the
// refresh package swaps snapshots in behind the scenes.
package transitq

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/citytransit/transitq/alerts"
	"github.com/citytransit/transitq/gtfs"
	"github.com/citytransit/transitq/gtfsrt"
	"github.com/citytransit/transitq/metrics"
	"github.com/citytransit/transitq/planner"
	"github.com/citytransit/transitq/predictor"
	"github.com/citytransit/transitq/refresh"
)

// InvalidQueryError rejects a malformed query: unknown stop, bad
// constraint combination, out-of-range parameter.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string { return "invalid query: " + e.Reason }

func invalidf(format string, args ...any) error {
	return &InvalidQueryError{Reason: fmt.Sprintf(format, args...)}
}

// ErrNotReady is returned before the first static feed has been loaded.
var ErrNotReady = fmt.Errorf("no schedule loaded yet")

// Provider hands the engine its current snapshots. *refresh.Coordinator
// satisfies it.
type Provider interface {
	Index() *gtfs.ScheduleIndex
	Snapshot() *gtfsrt.Snapshot
	Status(now time.Time) refresh.Status
}

// Options carries query policy for the engine.
type Options struct {
	// Staleness is the realtime freshness threshold. Responses built
	// while the realtime feed is older than this carry Stale=true and
	// fall back to schedule-only times.
	Staleness time.Duration
	// DefaultHorizon bounds arrival predictions when the request does
	// not say.
	DefaultHorizon time.Duration
	// MaxHorizon caps the horizon a request may ask for.
	MaxHorizon time.Duration
	Planner    planner.Options

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Staleness <= 0 {
		o.Staleness = 2 * time.Minute
	}
	if o.DefaultHorizon <= 0 {
		o.DefaultHorizon = time.Hour
	}
	if o.MaxHorizon <= 0 {
		o.MaxHorizon = 6 * time.Hour
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine is the query surface. Safe for concurrent use.
type Engine struct {
	src  Provider
	opts Options
	log  zerolog.Logger
	met  *metrics.Metrics
}

func NewEngine(src Provider, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{src: src, opts: opts, log: opts.Logger, met: opts.Metrics}
}

// StopRef names a stop one of three ways: by GTFS stop ID, by the public
// stop code, or by a coordinate (nearest stop within RadiusM, default
// 500 m). Exactly one way must be used.
type StopRef struct {
	ID      string
	Code    string
	Lat     float64
	Lon     float64
	RadiusM float64
}

func (r StopRef) byCoord() bool { return r.Lat != 0 || r.Lon != 0 }

// resolveStop turns a StopRef into a concrete stop.
func (e *Engine) resolveStop(idx *gtfs.ScheduleIndex, ref StopRef, what string) (gtfs.Stop, error) {
	switch {
	case ref.ID != "":
		if s, ok := idx.Stop(ref.ID); ok {
			return s, nil
		}
		return gtfs.Stop{}, invalidf("%s: unknown stop %q", what, ref.ID)
	case ref.Code != "":
		if s, ok := idx.StopByCode(ref.Code); ok {
			return s, nil
		}
		return gtfs.Stop{}, invalidf("%s: unknown stop code %q", what, ref.Code)
	case ref.byCoord():
		radius := ref.RadiusM
		if radius <= 0 {
			radius = 500
		}
		near := idx.StopsNear(ref.Lat, ref.Lon, radius)
		if len(near) == 0 {
			return gtfs.Stop{}, invalidf("%s: no stop within %.0fm of (%f, %f)", what, radius, ref.Lat, ref.Lon)
		}
		return near[0], nil
	default:
		return gtfs.Stop{}, invalidf("%s: stop reference is empty", what)
	}
}

// ArrivalsRequest asks for upcoming arrivals at a stop.
type ArrivalsRequest struct {
	Stop    StopRef
	Horizon time.Duration
}

// ArrivalsResponse lists predicted arrivals, ascending by predicted
// time. Stale means the realtime feed was too old and the times are
// schedule-only.
type ArrivalsResponse struct {
	Stop        gtfs.Stop
	Events      []predictor.ArrivalEvent
	Stale       bool
	GeneratedAt time.Time
}

// PredictArrivals merges schedule and fresh realtime into upcoming
// arrivals at the requested stop.
func (e *Engine) PredictArrivals(req ArrivalsRequest) (*ArrivalsResponse, error) {
	now := e.opts.Now()
	timer := e.observe("predict_arrivals")
	defer timer()

	idx := e.src.Index()
	if idx == nil {
		return nil, ErrNotReady
	}
	stop, err := e.resolveStop(idx, req.Stop, "stop")
	if err != nil {
		e.met.QueryErrors.WithLabelValues("predict_arrivals").Inc()
		return nil, err
	}
	horizon := req.Horizon
	if horizon <= 0 {
		horizon = e.opts.DefaultHorizon
	}
	if horizon > e.opts.MaxHorizon {
		e.met.QueryErrors.WithLabelValues("predict_arrivals").Inc()
		return nil, invalidf("horizon %s exceeds maximum %s", horizon, e.opts.MaxHorizon)
	}

	snap := e.src.Snapshot()
	stale := snap.Age(now) > e.opts.Staleness
	events := predictor.Predict(idx, snap, stop.ID, now, horizon, predictor.Options{Staleness: e.opts.Staleness})
	// A station query aggregates its platforms.
	for _, child := range idx.Children(stop.ID) {
		events = append(events, predictor.Predict(idx, snap, child, now, horizon, predictor.Options{Staleness: e.opts.Staleness})...)
	}
	predictor.SortEvents(events)
	return &ArrivalsResponse{Stop: stop, Events: events, Stale: stale, GeneratedAt: now}, nil
}

// PlanRequest asks for itineraries between two stops. Exactly one of
// DepartAfter and ArriveBefore must be set.
type PlanRequest struct {
	Origin       StopRef
	Destination  StopRef
	DepartAfter  time.Time
	ArriveBefore time.Time
	MaxTransfers int
	MaxResults   int
}

// PlanResponse lists ranked itineraries. An empty list means no
// itinerary satisfies the constraints; that is not an error.
type PlanResponse struct {
	Origin      gtfs.Stop
	Destination gtfs.Stop
	Itineraries []planner.Itinerary
	Stale       bool
	GeneratedAt time.Time
}

// PlanTrip searches for itineraries from origin to destination.
func (e *Engine) PlanTrip(req PlanRequest) (*PlanResponse, error) {
	now := e.opts.Now()
	timer := e.observe("plan_trip")
	defer timer()

	idx := e.src.Index()
	if idx == nil {
		return nil, ErrNotReady
	}
	if req.DepartAfter.IsZero() == req.ArriveBefore.IsZero() {
		e.met.QueryErrors.WithLabelValues("plan_trip").Inc()
		return nil, invalidf("exactly one of departAfter and arriveBefore must be set")
	}
	origin, err := e.resolveStop(idx, req.Origin, "origin")
	if err != nil {
		e.met.QueryErrors.WithLabelValues("plan_trip").Inc()
		return nil, err
	}
	dest, err := e.resolveStop(idx, req.Destination, "destination")
	if err != nil {
		e.met.QueryErrors.WithLabelValues("plan_trip").Inc()
		return nil, err
	}
	if origin.ID == dest.ID {
		e.met.QueryErrors.WithLabelValues("plan_trip").Inc()
		return nil, invalidf("origin and destination are the same stop")
	}

	popts := e.opts.Planner
	popts.Staleness = e.opts.Staleness
	if req.MaxTransfers > 0 {
		popts.MaxTransfers = req.MaxTransfers
	}
	if req.MaxResults > 0 {
		popts.MaxResults = req.MaxResults
	}
	snap := e.src.Snapshot()
	stale := snap.Age(now) > e.opts.Staleness
	its := planner.Plan(idx, snap, origin.ID, dest.ID,
		planner.Constraint{DepartAfter: req.DepartAfter, ArriveBefore: req.ArriveBefore}, popts)
	e.met.ItinerariesFound.Observe(float64(len(its)))
	return &PlanResponse{Origin: origin, Destination: dest, Itineraries: its, Stale: stale, GeneratedAt: now}, nil
}

// AlertsRequest filters alerts by entity; an empty request returns every
// active alert.
type AlertsRequest struct {
	RouteID string
	StopID  string
	TripID  string
}

// AlertsResponse lists the matching active alerts, sorted by ID.
type AlertsResponse struct {
	Alerts      []gtfsrt.Alert
	GeneratedAt time.Time
}

// GetAlerts returns active service alerts for the requested entities.
// Network-wide alerts are always included.
func (e *Engine) GetAlerts(req AlertsRequest) (*AlertsResponse, error) {
	now := e.opts.Now()
	timer := e.observe("get_alerts")
	defer timer()

	idx := e.src.Index()
	if idx == nil {
		return nil, ErrNotReady
	}
	if req.RouteID != "" {
		if _, ok := idx.Route(req.RouteID); !ok {
			e.met.QueryErrors.WithLabelValues("get_alerts").Inc()
			return nil, invalidf("unknown route %q", req.RouteID)
		}
	}
	if req.StopID != "" {
		if _, ok := idx.Stop(req.StopID); !ok {
			e.met.QueryErrors.WithLabelValues("get_alerts").Inc()
			return nil, invalidf("unknown stop %q", req.StopID)
		}
	}
	matched := alerts.Match(e.src.Snapshot(), alerts.EntityRef{
		RouteID: req.RouteID,
		StopID:  req.StopID,
		TripID:  req.TripID,
	}, now)
	return &AlertsResponse{Alerts: matched, GeneratedAt: now}, nil
}

// StatusResponse reports feed health.
type StatusResponse struct {
	StaticVersion     string
	LastStaticLoad    time.Time
	RealtimeAge       time.Duration
	RealtimeTimestamp time.Time
	RealtimeTrips     int
	Stale             bool
	LastError         string
	State             string
	GeneratedAt       time.Time
}

// RefreshStatus reports the feed lifecycle state for operators.
func (e *Engine) RefreshStatus() *StatusResponse {
	now := e.opts.Now()
	st := e.src.Status(now)
	snap := e.src.Snapshot()
	return &StatusResponse{
		StaticVersion:     st.StaticVersion,
		LastStaticLoad:    st.LastStaticLoad,
		RealtimeAge:       st.RealtimeAge,
		RealtimeTimestamp: snap.FeedTimestamp(),
		RealtimeTrips:     st.RealtimeTrips,
		Stale:             st.RealtimeAge > e.opts.Staleness,
		LastError:         st.LastError,
		State:             st.State,
		GeneratedAt:       now,
	}
}

func (e *Engine) observe(op string) func() {
	start := time.Now()
	return func() {
		e.met.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
