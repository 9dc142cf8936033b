package gtfs

import (
	"errors"
	"testing"
	"time"
)

// testFeed builds a feed in memory: route R1 over A-B-C, a second route
// R2 from B, a station ST with platforms P1/P2, every service daily.
func testFeed() *Feed {
	return &Feed{
		AgencyName:     "City Transit",
		AgencyTimezone: "UTC",
		Stops: []Stop{
			{ID: "A", Code: "10001", Name: "Alpha", Lat: 45.5000, Lon: -73.5500},
			{ID: "B", Code: "10002", Name: "Beta", Lat: 45.5100, Lon: -73.5500},
			{ID: "C", Code: "10003", Name: "Gamma", Lat: 45.5200, Lon: -73.5500},
			{ID: "ST", Name: "Central Station", Lat: 45.5300, Lon: -73.5500},
			{ID: "P1", Name: "Central Platform 1", Lat: 45.5300, Lon: -73.5500, ParentStation: "ST"},
			{ID: "P2", Name: "Central Platform 2", Lat: 45.5301, Lon: -73.5500, ParentStation: "ST"},
		},
		Routes: []Route{
			{ID: "R1", ShortName: "55", Mode: ModeBus},
			{ID: "R2", ShortName: "2", Mode: ModeMetro},
		},
		Trips: []Trip{
			{ID: "T1", RouteID: "R1", ServiceID: "WK", Headsign: "Gamma", StopTimes: []StopTime{
				{StopID: "A", Arrival: hms(8, 0), Departure: hms(8, 0)},
				{StopID: "B", Arrival: hms(8, 10), Departure: hms(8, 11)},
				{StopID: "C", Arrival: hms(8, 25), Departure: hms(8, 25)},
			}},
			{ID: "T2", RouteID: "R2", ServiceID: "WK", Headsign: "Downtown", StopTimes: []StopTime{
				{StopID: "B", Arrival: hms(8, 15), Departure: hms(8, 15)},
				{StopID: "P1", Arrival: hms(8, 30), Departure: hms(8, 30)},
			}},
		},
		Calendars: []ServiceCalendar{
			{ID: "WK", Weekdays: [7]bool{true, true, true, true, true, true, true}, StartDate: "20250101", EndDate: "20261231"},
		},
	}
}

func hms(h, m int) int { return h*3600 + m*60 }

func mustIndex(t *testing.T, feed *Feed) *ScheduleIndex {
	t.Helper()
	idx, err := BuildIndex(feed, "v1", DefaultIndexOptions())
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	return idx
}

func TestBuildIndexLookups(t *testing.T) {
	idx := mustIndex(t, testFeed())
	if idx.Version() != "v1" {
		t.Errorf("version = %q", idx.Version())
	}
	if _, ok := idx.Stop("A"); !ok {
		t.Error("stop A missing")
	}
	if s, ok := idx.StopByCode("10002"); !ok || s.ID != "B" {
		t.Errorf("StopByCode(10002) = %+v, %v", s, ok)
	}
	if got := idx.Children("ST"); len(got) != 2 || got[0] != "P1" || got[1] != "P2" {
		t.Errorf("Children(ST) = %v", got)
	}
	if idx.TripCount() != 2 || idx.StopCount() != 6 {
		t.Errorf("counts = %d trips, %d stops", idx.TripCount(), idx.StopCount())
	}
}

func TestBuildIndexRejectsBadReferences(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Feed)
	}{
		{"unknown route", func(f *Feed) { f.Trips[0].RouteID = "nope" }},
		{"unknown service", func(f *Feed) { f.Trips[0].ServiceID = "nope" }},
		{"unknown stop", func(f *Feed) { f.Trips[0].StopTimes[0].StopID = "nope" }},
		{"unknown parent station", func(f *Feed) { f.Stops[4].ParentStation = "nope" }},
		{"departure before arrival", func(f *Feed) { f.Trips[0].StopTimes[1].Departure = hms(8, 9) }},
		{"offsets regress", func(f *Feed) { f.Trips[0].StopTimes[2].Arrival = hms(7, 0); f.Trips[0].StopTimes[2].Departure = hms(7, 0) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			feed := testFeed()
			c.mutate(feed)
			_, err := BuildIndex(feed, "v1", DefaultIndexOptions())
			var mf *MalformedFeedError
			if !errors.As(err, &mf) {
				t.Fatalf("want MalformedFeedError, got %v", err)
			}
		})
	}
}

func TestVisitsBetween(t *testing.T) {
	idx := mustIndex(t, testFeed())
	date := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	got := idx.VisitsBetween("B", date, hms(8, 0), hms(9, 0))
	if len(got) != 2 {
		t.Fatalf("got %d visits, want 2", len(got))
	}
	// Sorted by departure offset, T1 departs 08:11, T2 08:15.
	if got[0].TripID != "T1" || got[1].TripID != "T2" {
		t.Errorf("order = %s, %s", got[0].TripID, got[1].TripID)
	}

	if got := idx.VisitsBetween("B", date, hms(8, 12), hms(9, 0)); len(got) != 1 || got[0].TripID != "T2" {
		t.Errorf("window [8:12, 9:00] = %+v", got)
	}
	if got := idx.VisitsBetween("B", date, hms(9, 0), hms(10, 0)); len(got) != 0 {
		t.Errorf("empty window returned %+v", got)
	}
	// A date outside the calendar range has no active services.
	past := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	if got := idx.VisitsBetween("B", past, 0, hms(23, 0)); len(got) != 0 {
		t.Errorf("out-of-range date returned %+v", got)
	}
}

func TestActiveOn(t *testing.T) {
	monday := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)

	weekdayOnly := &ServiceCalendar{
		ID:        "WD",
		Weekdays:  [7]bool{false, true, true, true, true, true, false},
		StartDate: "20250101",
		EndDate:   "20261231",
	}
	if !weekdayOnly.ActiveOn(monday) {
		t.Error("weekday service should run on Monday")
	}
	if weekdayOnly.ActiveOn(sunday) {
		t.Error("weekday service should not run on Sunday")
	}

	removed := *weekdayOnly
	removed.Removed = map[string]struct{}{"20260105": {}}
	if removed.ActiveOn(monday) {
		t.Error("removed exception should win over the weekday mask")
	}

	added := *weekdayOnly
	added.Added = map[string]struct{}{"20260104": {}}
	if !added.ActiveOn(sunday) {
		t.Error("added exception should win over the weekday mask")
	}

	if weekdayOnly.ActiveOn(time.Date(2027, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Error("date past end_date should be inactive")
	}
}

func TestStopsNear(t *testing.T) {
	idx := mustIndex(t, testFeed())
	// Just north of A; B is ~1.1 km further.
	got := idx.StopsNear(45.5005, -73.5500, 300)
	if len(got) != 1 || got[0].ID != "A" {
		t.Fatalf("StopsNear = %+v", got)
	}
	got = idx.StopsNear(45.5050, -73.5500, 1000)
	if len(got) != 2 {
		t.Fatalf("got %d stops, want 2", len(got))
	}
	if got[0].ID != "A" && got[0].ID != "B" {
		t.Errorf("unexpected stops %+v", got)
	}
}

func TestServiceDayStart(t *testing.T) {
	idx := mustIndex(t, testFeed())
	at := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	want := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	if got := idx.ServiceDayStart(at); !got.Equal(want) {
		t.Errorf("ServiceDayStart = %v, want %v", got, want)
	}
}
