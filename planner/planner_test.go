package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citytransit/transitq/gtfs"
	"github.com/citytransit/transitq/gtfsrt"
)

func hms(h, m int) int { return h*3600 + m*60 }

// transferFeed needs a change at B: T1 covers A-B, T2 covers B-C.
// T3 is a later A-B run feeding the same connection.
func transferFeed() *gtfs.Feed {
	return &gtfs.Feed{
		AgencyName:     "City Transit",
		AgencyTimezone: "UTC",
		Stops: []gtfs.Stop{
			{ID: "A", Name: "Alpha", Lat: 45.50, Lon: -73.55},
			{ID: "B", Name: "Beta", Lat: 45.51, Lon: -73.55},
			{ID: "C", Name: "Gamma", Lat: 45.52, Lon: -73.55},
		},
		Routes: []gtfs.Route{
			{ID: "R1", ShortName: "55", Mode: gtfs.ModeBus},
			{ID: "R2", ShortName: "80", Mode: gtfs.ModeBus},
		},
		Trips: []gtfs.Trip{
			{ID: "T1", RouteID: "R1", ServiceID: "WK", Headsign: "Beta", StopTimes: []gtfs.StopTime{
				{StopID: "A", Arrival: hms(9, 0), Departure: hms(9, 0)},
				{StopID: "B", Arrival: hms(9, 10), Departure: hms(9, 10)},
			}},
			{ID: "T2", RouteID: "R2", ServiceID: "WK", Headsign: "Gamma", StopTimes: []gtfs.StopTime{
				{StopID: "B", Arrival: hms(9, 20), Departure: hms(9, 20)},
				{StopID: "C", Arrival: hms(9, 40), Departure: hms(9, 40)},
			}},
			{ID: "T3", RouteID: "R1", ServiceID: "WK", Headsign: "Beta", StopTimes: []gtfs.StopTime{
				{StopID: "A", Arrival: hms(9, 30), Departure: hms(9, 30)},
				{StopID: "B", Arrival: hms(9, 40), Departure: hms(9, 40)},
			}},
		},
		Calendars: []gtfs.ServiceCalendar{
			{ID: "WK", Weekdays: [7]bool{true, true, true, true, true, true, true}, StartDate: "20250101", EndDate: "20261231"},
		},
	}
}

func buildIndex(t *testing.T, feed *gtfs.Feed) *gtfs.ScheduleIndex {
	t.Helper()
	idx, err := gtfs.BuildIndex(feed, "v1", gtfs.DefaultIndexOptions())
	require.NoError(t, err)
	return idx
}

func monday(h, m int) time.Time {
	return time.Date(2026, 1, 5, h, m, 0, 0, time.UTC)
}

func TestPlanTransfer(t *testing.T) {
	idx := buildIndex(t, transferFeed())

	its := Plan(idx, nil, "A", "C", Constraint{DepartAfter: monday(8, 55)}, Options{})
	require.NotEmpty(t, its)

	it := its[0]
	require.Len(t, it.Legs, 2)
	assert.Equal(t, "T1", it.Legs[0].TripID)
	assert.Equal(t, "T2", it.Legs[1].TripID)
	assert.Equal(t, monday(9, 0), it.Departure)
	assert.Equal(t, monday(9, 40), it.Arrival)
	assert.Equal(t, 1, it.Transfers)
	assert.Equal(t, 40*time.Minute, it.Duration)
	assert.Equal(t, "A", it.Legs[0].FromStopID)
	assert.Equal(t, "B", it.Legs[0].ToStopID)
	assert.Equal(t, "B", it.Legs[1].FromStopID)
	assert.Equal(t, "C", it.Legs[1].ToStopID)
}

func TestPlanDirect(t *testing.T) {
	feed := transferFeed()
	feed.Trips = append(feed.Trips, gtfs.Trip{
		ID: "TD", RouteID: "R1", ServiceID: "WK", Headsign: "Gamma", StopTimes: []gtfs.StopTime{
			{StopID: "A", Arrival: hms(9, 5), Departure: hms(9, 5)},
			{StopID: "B", Arrival: hms(9, 15), Departure: hms(9, 15)},
			{StopID: "C", Arrival: hms(9, 35), Departure: hms(9, 35)},
		},
	})
	idx := buildIndex(t, feed)

	its := Plan(idx, nil, "A", "C", Constraint{DepartAfter: monday(8, 55)}, Options{})
	require.NotEmpty(t, its)
	// The direct run arrives 9:35, earlier than the 9:40 transfer.
	it := its[0]
	require.Len(t, it.Legs, 1)
	assert.Equal(t, "TD", it.Legs[0].TripID)
	assert.Equal(t, monday(9, 35), it.Arrival)
	assert.Equal(t, 0, it.Transfers)
	assert.Equal(t, 2, it.Legs[0].NumStops)
}

func TestPlanArriveBefore(t *testing.T) {
	idx := buildIndex(t, transferFeed())

	its := Plan(idx, nil, "A", "C", Constraint{ArriveBefore: monday(10, 0)}, Options{})
	require.NotEmpty(t, its)
	it := its[0]
	require.Len(t, it.Legs, 2)
	assert.Equal(t, "T1", it.Legs[0].TripID)
	assert.Equal(t, "T2", it.Legs[1].TripID)
	assert.Equal(t, monday(9, 0), it.Departure)
	assert.True(t, it.Arrival.Before(monday(10, 0)) || it.Arrival.Equal(monday(10, 0)))
}

func TestPlanMinTransferRespected(t *testing.T) {
	idx := buildIndex(t, transferFeed())

	// A 15 minute minimum connection breaks the 9:10 to 9:20 change.
	its := Plan(idx, nil, "A", "C", Constraint{DepartAfter: monday(8, 55)},
		Options{MinTransfer: 15 * time.Minute})
	assert.Empty(t, its)
}

func TestPlanCanceledTripExcluded(t *testing.T) {
	idx := buildIndex(t, transferFeed())
	now := monday(8, 55)

	o := gtfsrt.NewOverlay()
	o.Apply(gtfsrt.TripUpdate{TripID: "T2", Sequence: 1, ObservedAt: now, Canceled: true})
	o.Publish(now, now.Add(-10*time.Minute))

	its := Plan(idx, o.Snapshot(), "A", "C",
		Constraint{DepartAfter: now}, Options{Staleness: time.Hour})
	// T2 was the only leg into C.
	assert.Empty(t, its)
}

func TestPlanDelayBreaksConnection(t *testing.T) {
	feed := transferFeed()
	// T4 is a later run into C, departing B at 9:50.
	feed.Trips = append(feed.Trips, gtfs.Trip{
		ID: "T4", RouteID: "R2", ServiceID: "WK", Headsign: "Gamma", StopTimes: []gtfs.StopTime{
			{StopID: "B", Arrival: hms(9, 50), Departure: hms(9, 50)},
			{StopID: "C", Arrival: hms(10, 10), Departure: hms(10, 10)},
		},
	})
	idx := buildIndex(t, feed)
	now := monday(8, 55)

	// T1 delayed 12 minutes arrives B at 9:22, after T2 departs; the
	// planner must connect onto T4 instead.
	o := gtfsrt.NewOverlay()
	o.Apply(gtfsrt.TripUpdate{TripID: "T1", Sequence: 1, ObservedAt: now,
		StopUpdates: []gtfsrt.StopTimeUpdate{{StopID: "B", DelaySec: 720}}})
	o.Publish(now, now.Add(-10*time.Minute))

	its := Plan(idx, o.Snapshot(), "A", "C",
		Constraint{DepartAfter: now}, Options{Staleness: time.Hour})
	require.NotEmpty(t, its)
	it := its[0]
	require.Len(t, it.Legs, 2)
	assert.Equal(t, "T1", it.Legs[0].TripID)
	assert.True(t, it.Legs[0].Realtime)
	assert.Equal(t, monday(9, 22), it.Legs[0].Arrival)
	assert.Equal(t, "T4", it.Legs[1].TripID)
	assert.Equal(t, monday(10, 10), it.Arrival)
}

func TestPlanDelayedDepartureStillBoardable(t *testing.T) {
	feed := transferFeed()
	// T5 is scheduled out of A at 8:50, before the rider is ready, but a
	// 20 minute delay pushes its actual departure to 9:10.
	feed.Trips = append(feed.Trips, gtfs.Trip{
		ID: "T5", RouteID: "R1", ServiceID: "WK", Headsign: "Beta", StopTimes: []gtfs.StopTime{
			{StopID: "A", Arrival: hms(8, 50), Departure: hms(8, 50)},
			{StopID: "B", Arrival: hms(9, 0), Departure: hms(9, 0)},
		},
	})
	idx := buildIndex(t, feed)
	now := monday(9, 5)

	o := gtfsrt.NewOverlay()
	o.Apply(gtfsrt.TripUpdate{TripID: "T5", Sequence: 1, ObservedAt: now,
		StopUpdates: []gtfsrt.StopTimeUpdate{
			{StopID: "A", DelaySec: 1200},
			{StopID: "B", DelaySec: 1200},
		}})
	o.Publish(now, now.Add(-10*time.Minute))

	its := Plan(idx, o.Snapshot(), "A", "B",
		Constraint{DepartAfter: now}, Options{Staleness: time.Hour})
	require.NotEmpty(t, its)
	it := its[0]
	require.Len(t, it.Legs, 1)
	assert.Equal(t, "T5", it.Legs[0].TripID)
	assert.True(t, it.Legs[0].Realtime)
	assert.Equal(t, monday(9, 10), it.Departure)
	assert.Equal(t, monday(9, 20), it.Arrival)
}

func TestPlanLegTimesUsePerStopDelays(t *testing.T) {
	idx := buildIndex(t, transferFeed())

	// T1 loses one minute at A and twelve at B; the rendered leg must
	// carry each stop's own delay, not one shifted by the other.
	o := gtfsrt.NewOverlay()
	o.Apply(gtfsrt.TripUpdate{TripID: "T1", Sequence: 1, ObservedAt: monday(8, 55),
		StopUpdates: []gtfsrt.StopTimeUpdate{
			{StopID: "A", DelaySec: 60},
			{StopID: "B", DelaySec: 720},
		}})
	o.Publish(monday(8, 55), monday(8, 45))
	snap := o.Snapshot()

	its := Plan(idx, snap, "A", "B",
		Constraint{DepartAfter: monday(8, 55)}, Options{Staleness: time.Hour})
	require.NotEmpty(t, its)
	leg := its[0].Legs[0]
	assert.Equal(t, monday(9, 1), leg.Departure)
	assert.Equal(t, monday(9, 22), leg.Arrival)

	its = Plan(idx, snap, "A", "B",
		Constraint{ArriveBefore: monday(9, 30)}, Options{Staleness: time.Hour})
	require.NotEmpty(t, its)
	leg = its[0].Legs[0]
	assert.Equal(t, monday(9, 1), leg.Departure)
	assert.Equal(t, monday(9, 22), leg.Arrival)
}

func TestPlanNoItinerary(t *testing.T) {
	idx := buildIndex(t, transferFeed())

	// After the last departure of the day.
	its := Plan(idx, nil, "A", "C", Constraint{DepartAfter: monday(22, 0)}, Options{})
	assert.Empty(t, its)

	// Unknown stop: also empty, the caller validates IDs separately.
	its = Plan(idx, nil, "A", "nope", Constraint{DepartAfter: monday(8, 55)}, Options{})
	assert.Empty(t, its)
}

func TestPlanDeterministic(t *testing.T) {
	idx := buildIndex(t, transferFeed())
	c := Constraint{DepartAfter: monday(8, 55)}

	first := Plan(idx, nil, "A", "C", c, Options{})
	for i := 0; i < 5; i++ {
		again := Plan(idx, nil, "A", "C", c, Options{})
		require.Equal(t, first, again)
	}
}

func TestPlanWalkTransfer(t *testing.T) {
	feed := transferFeed()
	// B2 sits ~111 m from B; the outbound leg now leaves from there.
	feed.Stops = append(feed.Stops, gtfs.Stop{ID: "B2", Name: "Beta North", Lat: 45.511, Lon: -73.55})
	feed.Trips[1].StopTimes = []gtfs.StopTime{
		{StopID: "B2", Arrival: hms(9, 20), Departure: hms(9, 20)},
		{StopID: "C", Arrival: hms(9, 40), Departure: hms(9, 40)},
	}
	idx := buildIndex(t, feed)

	its := Plan(idx, nil, "A", "C", Constraint{DepartAfter: monday(8, 55)}, Options{})
	require.NotEmpty(t, its)
	it := its[0]
	require.Len(t, it.Legs, 3)
	assert.Equal(t, LegRide, it.Legs[0].Kind)
	assert.Equal(t, LegWalk, it.Legs[1].Kind)
	assert.Equal(t, "B", it.Legs[1].FromStopID)
	assert.Equal(t, "B2", it.Legs[1].ToStopID)
	assert.Greater(t, it.Legs[1].WalkMeters, 50.0)
	assert.Equal(t, LegRide, it.Legs[2].Kind)
	assert.Equal(t, monday(9, 40), it.Arrival)
}

func TestPlanInvalidEndpoints(t *testing.T) {
	idx := buildIndex(t, transferFeed())
	assert.Empty(t, Plan(idx, nil, "A", "A", Constraint{DepartAfter: monday(8, 55)}, Options{}))
	assert.Empty(t, Plan(idx, nil, "nope", "C", Constraint{DepartAfter: monday(8, 55)}, Options{}))
}
