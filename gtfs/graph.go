package gtfs

import (
	"sort"
	"time"
)

// WalkEdge is a foot transfer between two nearby stops.
type WalkEdge struct {
	To       string
	Meters   float64
	Duration time.Duration
}

// TransferGraph holds the walk edges of the transfer graph. Ride edges
// are implicit in the trips' stop sequences and are expanded by the
// planner as it scans departures.
type TransferGraph struct {
	edges map[string][]WalkEdge
}

// From returns the walk edges leaving a stop, sorted by destination ID.
func (g *TransferGraph) From(stopID string) []WalkEdge {
	return g.edges[stopID]
}

// EdgeCount returns the total number of directed walk edges.
func (g *TransferGraph) EdgeCount() int {
	n := 0
	for _, es := range g.edges {
		n += len(es)
	}
	return n
}

// buildTransferGraph connects stops within the transfer radius and
// platforms sharing a parent station. A latitude-sorted sweep keeps the
// pairing close to linear for city-sized feeds.
func buildTransferGraph(stops []Stop, children map[string][]string, opts IndexOptions) *TransferGraph {
	g := &TransferGraph{edges: map[string][]WalkEdge{}}
	if opts.WalkSpeed <= 0 {
		opts.WalkSpeed = DefaultIndexOptions().WalkSpeed
	}

	byLat := make([]Stop, len(stops))
	copy(byLat, stops)
	sort.Slice(byLat, func(a, b int) bool { return byLat[a].Lat < byLat[b].Lat })

	// One degree of latitude is ~111.32 km.
	latWindow := opts.MaxTransferMeters / 111320.0

	seen := map[[2]string]struct{}{}
	addEdge := func(from, to string, meters float64, d time.Duration) {
		key := [2]string{from, to}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		g.edges[from] = append(g.edges[from], WalkEdge{To: to, Meters: meters, Duration: d})
	}

	for i, a := range byLat {
		for j := i + 1; j < len(byLat); j++ {
			b := byLat[j]
			if b.Lat-a.Lat > latWindow {
				break
			}
			d := Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
			if d > opts.MaxTransferMeters {
				continue
			}
			walk := time.Duration(d/opts.WalkSpeed*float64(time.Minute)) + opts.WalkBuffer
			addEdge(a.ID, b.ID, d, walk)
			addEdge(b.ID, a.ID, d, walk)
		}
	}

	// Platforms under one station are always connected, whatever the
	// coordinates say, with a fixed platform-change buffer.
	for _, platforms := range children {
		for _, from := range platforms {
			for _, to := range platforms {
				if from == to {
					continue
				}
				addEdge(from, to, 0, opts.SameStationBuffer)
			}
		}
	}

	for id := range g.edges {
		es := g.edges[id]
		sort.Slice(es, func(a, b int) bool { return es[a].To < es[b].To })
	}
	return g
}
