package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/citytransit/transitq"
)

type apiServer struct {
	engine *transitq.Engine
	log    zerolog.Logger
}

func newRouter(engine *transitq.Engine, log zerolog.Logger) http.Handler {
	s := &apiServer{engine: engine, log: log}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/arrivals", s.handleArrivals)
	r.Get("/api/plan", s.handlePlan)
	r.Get("/api/alerts", s.handleAlerts)
	r.Get("/api/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.RefreshStatus()
	code := http.StatusOK
	status := "ok"
	if st.StaticVersion == "" {
		code = http.StatusServiceUnavailable
		status = "loading"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"stale":     st.Stale,
		"timestamp": st.GeneratedAt.UTC(),
	})
}

func (s *apiServer) handleArrivals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := transitq.ArrivalsRequest{
		Stop: stopRefFromQuery(q.Get("stop"), q.Get("code"), q.Get("lat"), q.Get("lon")),
	}
	if v := q.Get("horizonMin"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, &transitq.InvalidQueryError{Reason: "horizonMin must be an integer"})
			return
		}
		req.Horizon = time.Duration(min) * time.Minute
	}
	resp, err := s.engine.PredictArrivals(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := arrivalsJSON{
		Stop:        stopJSON{ID: resp.Stop.ID, Code: resp.Stop.Code, Name: resp.Stop.Name, Lat: resp.Stop.Lat, Lon: resp.Stop.Lon},
		Stale:       resp.Stale,
		GeneratedAt: resp.GeneratedAt.UTC(),
		Arrivals:    []arrivalJSON{},
	}
	for _, ev := range resp.Events {
		out.Arrivals = append(out.Arrivals, arrivalJSON{
			TripID:       ev.TripID,
			Route:        ev.RouteID,
			RouteName:    ev.RouteShortName,
			Mode:         ev.Mode.String(),
			Headsign:     ev.Headsign,
			Scheduled:    ev.Scheduled.UTC(),
			Predicted:    ev.Predicted.UTC(),
			DelaySec:     ev.DelaySec,
			MinutesUntil: ev.MinutesUntil,
			Source:       string(ev.Source),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handlePlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := transitq.PlanRequest{
		Origin:      stopRefFromQuery(q.Get("from"), q.Get("fromCode"), q.Get("fromLat"), q.Get("fromLon")),
		Destination: stopRefFromQuery(q.Get("to"), q.Get("toCode"), q.Get("toLat"), q.Get("toLon")),
	}
	var err error
	if req.DepartAfter, err = parseTimeParam(q.Get("departAfter")); err != nil {
		s.writeError(w, &transitq.InvalidQueryError{Reason: "departAfter must be RFC 3339"})
		return
	}
	if req.ArriveBefore, err = parseTimeParam(q.Get("arriveBefore")); err != nil {
		s.writeError(w, &transitq.InvalidQueryError{Reason: "arriveBefore must be RFC 3339"})
		return
	}
	if v := q.Get("maxTransfers"); v != "" {
		req.MaxTransfers, _ = strconv.Atoi(v)
	}
	if v := q.Get("maxResults"); v != "" {
		req.MaxResults, _ = strconv.Atoi(v)
	}
	resp, err := s.engine.PlanTrip(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := planJSON{
		From:        resp.Origin.ID,
		To:          resp.Destination.ID,
		Stale:       resp.Stale,
		GeneratedAt: resp.GeneratedAt.UTC(),
		Itineraries: []itineraryJSON{},
	}
	for _, it := range resp.Itineraries {
		ij := itineraryJSON{
			Departure: it.Departure.UTC(),
			Arrival:   it.Arrival.UTC(),
			Duration:  int(it.Duration.Seconds()),
			Transfers: it.Transfers,
		}
		for _, leg := range it.Legs {
			ij.Legs = append(ij.Legs, legJSON{
				Kind:       string(leg.Kind),
				TripID:     leg.TripID,
				Route:      leg.RouteID,
				RouteName:  leg.RouteShortName,
				Mode:       leg.Mode.String(),
				Headsign:   leg.Headsign,
				From:       leg.FromStopID,
				To:         leg.ToStopID,
				Departure:  leg.Departure.UTC(),
				Arrival:    leg.Arrival.UTC(),
				NumStops:   leg.NumStops,
				WalkMeters: leg.WalkMeters,
				Realtime:   leg.Realtime,
			})
		}
		out.Itineraries = append(out.Itineraries, ij)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.engine.GetAlerts(transitq.AlertsRequest{
		RouteID: q.Get("route"),
		StopID:  q.Get("stop"),
		TripID:  q.Get("trip"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := alertsJSON{GeneratedAt: resp.GeneratedAt.UTC(), Alerts: []alertJSON{}}
	for _, a := range resp.Alerts {
		aj := alertJSON{
			ID:          a.ID,
			Severity:    a.Severity,
			Cause:       a.Cause,
			Effect:      a.Effect,
			Header:      a.Header,
			Description: a.Description,
			Routes:      a.RouteIDs,
			Stops:       a.StopIDs,
			Trips:       a.TripIDs,
		}
		if !a.Start.IsZero() {
			t := a.Start.UTC()
			aj.Start = &t
		}
		if !a.End.IsZero() {
			t := a.End.UTC()
			aj.End = &t
		}
		out.Alerts = append(out.Alerts, aj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.RefreshStatus()
	out := statusJSON{
		StaticVersion: st.StaticVersion,
		RealtimeTrips: st.RealtimeTrips,
		Stale:         st.Stale,
		LastError:     st.LastError,
		State:         st.State,
		GeneratedAt:   st.GeneratedAt.UTC(),
	}
	if !st.LastStaticLoad.IsZero() {
		t := st.LastStaticLoad.UTC()
		out.LastStaticLoad = &t
	}
	if !st.RealtimeTimestamp.IsZero() {
		t := st.RealtimeTimestamp.UTC()
		out.RealtimeTimestamp = &t
		out.RealtimeAgeSec = int(st.RealtimeAge.Seconds())
	} else {
		out.RealtimeAgeSec = -1
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	var iq *transitq.InvalidQueryError
	switch {
	case errors.As(err, &iq):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": iq.Reason})
	case errors.Is(err, transitq.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func stopRefFromQuery(id, code, lat, lon string) transitq.StopRef {
	ref := transitq.StopRef{ID: id, Code: code}
	if lat != "" && lon != "" {
		ref.Lat, _ = strconv.ParseFloat(lat, 64)
		ref.Lon, _ = strconv.ParseFloat(lon, 64)
	}
	return ref
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type stopJSON struct {
	ID   string  `json:"id"`
	Code string  `json:"code,omitempty"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type arrivalJSON struct {
	TripID       string    `json:"tripId"`
	Route        string    `json:"route"`
	RouteName    string    `json:"routeName,omitempty"`
	Mode         string    `json:"mode"`
	Headsign     string    `json:"headsign,omitempty"`
	Scheduled    time.Time `json:"scheduled"`
	Predicted    time.Time `json:"predicted"`
	DelaySec     int       `json:"delaySec"`
	MinutesUntil int       `json:"minutesUntil"`
	Source       string    `json:"source"`
}

type arrivalsJSON struct {
	Stop        stopJSON      `json:"stop"`
	Arrivals    []arrivalJSON `json:"arrivals"`
	Stale       bool          `json:"stale"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

type legJSON struct {
	Kind       string    `json:"kind"`
	TripID     string    `json:"tripId,omitempty"`
	Route      string    `json:"route,omitempty"`
	RouteName  string    `json:"routeName,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Headsign   string    `json:"headsign,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Departure  time.Time `json:"departure"`
	Arrival    time.Time `json:"arrival"`
	NumStops   int       `json:"numStops,omitempty"`
	WalkMeters float64   `json:"walkMeters,omitempty"`
	Realtime   bool      `json:"realtime"`
}

type itineraryJSON struct {
	Legs      []legJSON `json:"legs"`
	Departure time.Time `json:"departure"`
	Arrival   time.Time `json:"arrival"`
	Duration  int       `json:"durationSec"`
	Transfers int       `json:"transfers"`
}

type planJSON struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Itineraries []itineraryJSON `json:"itineraries"`
	Stale       bool            `json:"stale"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

type alertJSON struct {
	ID          string     `json:"id"`
	Severity    string     `json:"severity,omitempty"`
	Cause       string     `json:"cause,omitempty"`
	Effect      string     `json:"effect,omitempty"`
	Header      string     `json:"header"`
	Description string     `json:"description,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Routes      []string   `json:"routes,omitempty"`
	Stops       []string   `json:"stops,omitempty"`
	Trips       []string   `json:"trips,omitempty"`
}

type alertsJSON struct {
	Alerts      []alertJSON `json:"alerts"`
	GeneratedAt time.Time   `json:"generatedAt"`
}

type statusJSON struct {
	StaticVersion     string     `json:"staticVersion"`
	LastStaticLoad    *time.Time `json:"lastStaticLoad,omitempty"`
	RealtimeTimestamp *time.Time `json:"realtimeTimestamp,omitempty"`
	RealtimeAgeSec    int        `json:"realtimeAgeSec"`
	RealtimeTrips     int        `json:"realtimeTrips"`
	Stale             bool       `json:"stale"`
	LastError         string     `json:"lastError,omitempty"`
	State             string     `json:"state"`
	GeneratedAt       time.Time  `json:"generatedAt"`
}
