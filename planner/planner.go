// Package planner computes multi-leg itineraries between two stops with
// a round-based earliest-arrival search over the schedule index and its
// transfer graph. Each round explores one additional transit leg; fresh
// realtime delays are folded into the times the search uses, and
// canceled or skipped trip instances are never boarded.
//
// An unreachable destination is a normal outcome: Plan returns an empty
// slice, not an error.
package planner

import (
	"sort"
	"time"

	"github.com/citytransit/transitq/gtfs"
	"github.com/citytransit/transitq/gtfsrt"
)

// Plan returns ranked itineraries from origin to destination subject to
// the constraint, best-first: earliest arrival for DepartAfter, latest
// departure for ArriveBefore. Identical snapshots and inputs always
// produce the identical ordered result.
func Plan(idx *gtfs.ScheduleIndex, snap *gtfsrt.Snapshot, originID, destID string, c Constraint, opts Options) []Itinerary {
	opts = opts.withDefaults()
	if snap == nil {
		snap = gtfsrt.EmptySnapshot()
	}
	origins := expandStation(idx, originID)
	dests := expandStation(idx, destID)
	if len(origins) == 0 || len(dests) == 0 || originID == destID {
		return nil
	}

	var out []Itinerary
	seen := map[string]struct{}{}
	if !c.DepartAfter.IsZero() {
		departAfter := c.DepartAfter
		for len(out) < opts.MaxResults {
			it, ok := searchForward(idx, snap, origins, dests, departAfter, opts)
			if !ok {
				break
			}
			appendUnique(&out, seen, it...)
			// Advance past the best departure to surface the next
			// alternative.
			departAfter = it[0].Departure.Add(time.Minute)
		}
	} else {
		arriveBefore := c.ArriveBefore
		for len(out) < opts.MaxResults {
			it, ok := searchBackward(idx, snap, origins, dests, arriveBefore, opts)
			if !ok {
				break
			}
			appendUnique(&out, seen, it...)
			arriveBefore = it[0].Arrival.Add(-time.Minute)
		}
	}

	rankItineraries(out, c)
	if len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}

// expandStation turns a station ID into its platform stops; a plain stop
// maps to itself.
func expandStation(idx *gtfs.ScheduleIndex, stopID string) []string {
	if _, ok := idx.Stop(stopID); !ok {
		return nil
	}
	if children := idx.Children(stopID); len(children) > 0 {
		return children
	}
	return []string{stopID}
}

// scanSlack widens visit scans so a trip whose scheduled time sits
// outside the bound but whose delayed time sits inside is still found.
const scanSlack = 3600

// label is one search state at a stop. timeSec is the arrival offset in
// the forward search and the departure offset in the backward search.
type label struct {
	timeSec  int
	readySec int

	// rideEndSec is the folded offset of the ride's other end: the board
	// departure in the forward search, the alight arrival in the backward.
	rideEndSec int

	prevStop  string
	prevRound int
	tripID    string
	boardSeq  int
	alightSeq int
	walkM     float64
	walkSec   int
	realtime  bool
}

func searchForward(idx *gtfs.ScheduleIndex, snap *gtfsrt.Snapshot, origins, dests []string, departAfter time.Time, opts Options) ([]Itinerary, bool) {
	dayStart := idx.ServiceDayStart(departAfter)
	date := departAfter.In(idx.Location())
	t0 := int(departAfter.Sub(dayStart).Seconds())
	limit := t0 + int(opts.Window.Seconds())
	now := departAfter
	minTransfer := int(opts.MinTransfer.Seconds())
	graph := idx.TransferGraph()

	best := map[string]int{}
	round0 := map[string]label{}
	for _, o := range origins {
		round0[o] = label{timeSec: t0, readySec: t0}
		best[o] = t0
	}
	relaxWalksForward(graph, round0, round0, best, 0)
	rounds := []map[string]label{round0}

	var candidates []Itinerary

	for r := 1; r <= opts.MaxTransfers+1; r++ {
		prev := rounds[r-1]
		next := map[string]label{}
		for _, stopID := range sortedKeys(prev) {
			lab := prev[stopID]
			// Scheduled departures before ready can still be boardable once
			// a delay is folded in, so scan a little before ready; the
			// post-delay check below does the real gating.
			from := lab.readySec - scanSlack
			if from < 0 {
				from = 0
			}
			for _, v := range idx.VisitsBetween(stopID, date, from, limit) {
				if snap.Canceled(v.TripID, now, opts.Staleness) {
					continue
				}
				if snap.SkippedAt(v.TripID, stopID, now, opts.Staleness) {
					continue
				}
				dep := v.Departure
				boardRT := false
				if d, ok := snap.DelayAt(v.TripID, stopID, now, opts.Staleness); ok {
					dep += d
					boardRT = true
				}
				if dep < lab.readySec || dep > limit {
					continue
				}
				trip, _ := idx.Trip(v.TripID)
				for j := v.Seq + 1; j < len(trip.StopTimes); j++ {
					st := trip.StopTimes[j]
					if snap.SkippedAt(v.TripID, st.StopID, now, opts.Staleness) {
						continue
					}
					arr := st.Arrival
					alightRT := false
					if d, ok := snap.DelayAt(v.TripID, st.StopID, now, opts.Staleness); ok {
						arr += d
						alightRT = true
					}
					if arr < dep {
						arr = dep
					}
					if b, ok := best[st.StopID]; ok && arr >= b {
						continue
					}
					if cur, ok := next[st.StopID]; ok && arr >= cur.timeSec {
						continue
					}
					next[st.StopID] = label{
						timeSec:    arr,
						readySec:   arr + minTransfer,
						rideEndSec: dep,
						prevStop:   stopID,
						prevRound:  r - 1,
						tripID:     v.TripID,
						boardSeq:   v.Seq,
						alightSeq:  j,
						realtime:   boardRT || alightRT,
					}
					best[st.StopID] = arr
				}
			}
		}
		relaxWalksForward(graph, next, next, best, r)
		for _, d := range dests {
			if lab, ok := next[d]; ok {
				rounds = append(rounds, next)
				it := reconstructForward(idx, dayStart, rounds, d, lab)
				candidates = append(candidates, it)
				rounds = rounds[:len(rounds)-1]
			}
		}
		if len(next) == 0 {
			break
		}
		rounds = append(rounds, next)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Arrival.Equal(candidates[j].Arrival) {
			return candidates[i].Arrival.Before(candidates[j].Arrival)
		}
		return candidates[i].Transfers < candidates[j].Transfers
	})
	return candidates, true
}

// relaxWalksForward expands one foot transfer from every stop labeled in
// src into dst. Walks never chain: only stops reached by transit (or the
// origin seed) spread walk edges.
func relaxWalksForward(graph *gtfs.TransferGraph, src, dst map[string]label, best map[string]int, round int) {
	for _, stopID := range sortedKeys(src) {
		lab := src[stopID]
		if lab.tripID == "" && lab.prevStop != "" {
			continue // already a walk label
		}
		for _, e := range graph.From(stopID) {
			cand := lab.timeSec + int(e.Duration.Seconds())
			if b, ok := best[e.To]; ok && cand >= b {
				continue
			}
			if cur, ok := dst[e.To]; ok && cand >= cur.timeSec {
				continue
			}
			dst[e.To] = label{
				timeSec:   cand,
				readySec:  cand,
				prevStop:  stopID,
				prevRound: round,
				walkM:     e.Meters,
				walkSec:   int(e.Duration.Seconds()),
			}
			best[e.To] = cand
		}
	}
}

func reconstructForward(idx *gtfs.ScheduleIndex, dayStart time.Time, rounds []map[string]label, stopID string, lab label) Itinerary {
	var legs []Leg
	for {
		if lab.prevStop == "" {
			break
		}
		if lab.tripID != "" {
			trip, _ := idx.Trip(lab.tripID)
			route, _ := idx.Route(trip.RouteID)
			board := trip.StopTimes[lab.boardSeq]
			legs = append(legs, Leg{
				Kind:           LegRide,
				TripID:         lab.tripID,
				RouteID:        trip.RouteID,
				RouteShortName: route.ShortName,
				Mode:           route.Mode,
				Headsign:       trip.Headsign,
				FromStopID:     board.StopID,
				ToStopID:       trip.StopTimes[lab.alightSeq].StopID,
				Departure:      dayStart.Add(time.Duration(lab.rideEndSec) * time.Second),
				Arrival:        dayStart.Add(time.Duration(lab.timeSec) * time.Second),
				NumStops:       lab.alightSeq - lab.boardSeq,
				Realtime:       lab.realtime,
			})
		} else {
			legs = append(legs, Leg{
				Kind:       LegWalk,
				FromStopID: lab.prevStop,
				ToStopID:   stopID,
				Departure:  dayStart.Add(time.Duration(lab.timeSec-lab.walkSec) * time.Second),
				Arrival:    dayStart.Add(time.Duration(lab.timeSec) * time.Second),
				WalkMeters: lab.walkM,
			})
		}
		stopID = lab.prevStop
		lab = rounds[lab.prevRound][stopID]
		if lab.prevStop == "" && lab.tripID == "" {
			break
		}
	}
	reverseLegs(legs)
	return finishItinerary(legs)
}

func searchBackward(idx *gtfs.ScheduleIndex, snap *gtfsrt.Snapshot, origins, dests []string, arriveBefore time.Time, opts Options) ([]Itinerary, bool) {
	dayStart := idx.ServiceDayStart(arriveBefore)
	date := arriveBefore.In(idx.Location())
	t1 := int(arriveBefore.Sub(dayStart).Seconds())
	floor := t1 - int(opts.Window.Seconds())
	if floor < 0 {
		floor = 0
	}
	now := arriveBefore
	minTransfer := int(opts.MinTransfer.Seconds())
	graph := idx.TransferGraph()

	// best holds the latest known departure per stop; improvements go up.
	best := map[string]int{}
	round0 := map[string]label{}
	for _, d := range dests {
		round0[d] = label{timeSec: t1, readySec: t1}
		best[d] = t1
	}
	relaxWalksBackward(graph, round0, round0, best, 0)
	rounds := []map[string]label{round0}

	var candidates []Itinerary

	for r := 1; r <= opts.MaxTransfers+1; r++ {
		prev := rounds[r-1]
		next := map[string]label{}
		for _, stopID := range sortedKeys(prev) {
			lab := prev[stopID]
			// Delayed arrivals can trail the scheduled departure the
			// visit index is sorted by, so scan a little past ready.
			for _, v := range idx.VisitsBetween(stopID, date, floor, lab.readySec+scanSlack) {
				if snap.Canceled(v.TripID, now, opts.Staleness) {
					continue
				}
				if snap.SkippedAt(v.TripID, stopID, now, opts.Staleness) {
					continue
				}
				arr := v.Arrival
				alightRT := false
				if d, ok := snap.DelayAt(v.TripID, stopID, now, opts.Staleness); ok {
					arr += d
					alightRT = true
				}
				if arr > lab.readySec {
					continue
				}
				trip, _ := idx.Trip(v.TripID)
				for j := v.Seq - 1; j >= 0; j-- {
					st := trip.StopTimes[j]
					if snap.SkippedAt(v.TripID, st.StopID, now, opts.Staleness) {
						continue
					}
					dep := st.Departure
					boardRT := false
					if d, ok := snap.DelayAt(v.TripID, st.StopID, now, opts.Staleness); ok {
						dep += d
						boardRT = true
					}
					if dep < floor {
						continue
					}
					if b, ok := best[st.StopID]; ok && dep <= b {
						continue
					}
					if cur, ok := next[st.StopID]; ok && dep <= cur.timeSec {
						continue
					}
					next[st.StopID] = label{
						timeSec:    dep,
						readySec:   dep - minTransfer,
						rideEndSec: arr,
						prevStop:   stopID,
						prevRound:  r - 1,
						tripID:     v.TripID,
						boardSeq:   j,
						alightSeq:  v.Seq,
						realtime:   boardRT || alightRT,
					}
					best[st.StopID] = dep
				}
			}
		}
		relaxWalksBackward(graph, next, next, best, r)
		for _, o := range origins {
			if lab, ok := next[o]; ok {
				rounds = append(rounds, next)
				it := reconstructBackward(idx, dayStart, rounds, o, lab)
				candidates = append(candidates, it)
				rounds = rounds[:len(rounds)-1]
			}
		}
		if len(next) == 0 {
			break
		}
		rounds = append(rounds, next)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Departure.Equal(candidates[j].Departure) {
			return candidates[i].Departure.After(candidates[j].Departure)
		}
		return candidates[i].Transfers < candidates[j].Transfers
	})
	return candidates, true
}

func relaxWalksBackward(graph *gtfs.TransferGraph, src, dst map[string]label, best map[string]int, round int) {
	for _, stopID := range sortedKeys(src) {
		lab := src[stopID]
		if lab.tripID == "" && lab.prevStop != "" {
			continue
		}
		// Walk edges are symmetric, so From(stopID) also enumerates the
		// stops that can walk here.
		for _, e := range graph.From(stopID) {
			cand := lab.timeSec - int(e.Duration.Seconds())
			if b, ok := best[e.To]; ok && cand <= b {
				continue
			}
			if cur, ok := dst[e.To]; ok && cand <= cur.timeSec {
				continue
			}
			dst[e.To] = label{
				timeSec:   cand,
				readySec:  cand,
				prevStop:  stopID,
				prevRound: round,
				walkM:     e.Meters,
				walkSec:   int(e.Duration.Seconds()),
			}
			best[e.To] = cand
		}
	}
}

func reconstructBackward(idx *gtfs.ScheduleIndex, dayStart time.Time, rounds []map[string]label, stopID string, lab label) Itinerary {
	var legs []Leg
	for {
		if lab.prevStop == "" {
			break
		}
		if lab.tripID != "" {
			trip, _ := idx.Trip(lab.tripID)
			route, _ := idx.Route(trip.RouteID)
			legs = append(legs, Leg{
				Kind:           LegRide,
				TripID:         lab.tripID,
				RouteID:        trip.RouteID,
				RouteShortName: route.ShortName,
				Mode:           route.Mode,
				Headsign:       trip.Headsign,
				FromStopID:     trip.StopTimes[lab.boardSeq].StopID,
				ToStopID:       trip.StopTimes[lab.alightSeq].StopID,
				Departure:      dayStart.Add(time.Duration(lab.timeSec) * time.Second),
				Arrival:        dayStart.Add(time.Duration(lab.rideEndSec) * time.Second),
				NumStops:       lab.alightSeq - lab.boardSeq,
				Realtime:       lab.realtime,
			})
		} else {
			legs = append(legs, Leg{
				Kind:       LegWalk,
				FromStopID: stopID,
				ToStopID:   lab.prevStop,
				Departure:  dayStart.Add(time.Duration(lab.timeSec) * time.Second),
				Arrival:    dayStart.Add(time.Duration(lab.timeSec+lab.walkSec) * time.Second),
				WalkMeters: lab.walkM,
			})
		}
		stopID = lab.prevStop
		lab = rounds[lab.prevRound][stopID]
		if lab.prevStop == "" && lab.tripID == "" {
			break
		}
	}
	return finishItinerary(legs)
}

func reverseLegs(legs []Leg) {
	for i, j := 0, len(legs)-1; i < j; i, j = i+1, j-1 {
		legs[i], legs[j] = legs[j], legs[i]
	}
}

func finishItinerary(legs []Leg) Itinerary {
	it := Itinerary{Legs: legs}
	if len(legs) == 0 {
		return it
	}
	it.Departure = legs[0].Departure
	it.Arrival = legs[len(legs)-1].Arrival
	it.Duration = it.Arrival.Sub(it.Departure)
	for _, l := range legs {
		if l.Kind == LegRide {
			it.Transfers++
		}
	}
	if it.Transfers > 0 {
		it.Transfers--
	}
	return it
}

// rankItineraries orders results best-first per the constraint and keeps
// the order deterministic with trip-sequence tiebreaks.
func rankItineraries(its []Itinerary, c Constraint) {
	sort.SliceStable(its, func(i, j int) bool {
		a, b := its[i], its[j]
		if c.DepartAfter.IsZero() {
			if !a.Departure.Equal(b.Departure) {
				return a.Departure.After(b.Departure)
			}
		} else {
			if !a.Arrival.Equal(b.Arrival) {
				return a.Arrival.Before(b.Arrival)
			}
		}
		if a.Transfers != b.Transfers {
			return a.Transfers < b.Transfers
		}
		return tripKey(a) < tripKey(b)
	})
}

func tripKey(it Itinerary) string {
	key := ""
	for _, l := range it.Legs {
		if l.Kind == LegRide {
			key += l.TripID + "|"
		}
	}
	return key
}

// appendUnique adds itineraries not yet seen, keyed by departure time
// and ride sequence, mirroring the dedupe the ranked list needs to show
// genuine alternatives.
func appendUnique(out *[]Itinerary, seen map[string]struct{}, its ...Itinerary) {
	for _, it := range its {
		key := it.Departure.Format(time.RFC3339) + "/" + tripKey(it)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		*out = append(*out, it)
	}
}

func sortedKeys(m map[string]label) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
