package gtfs

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ParseFeed reads a GTFS zip archive into a Feed. Only structural
// problems (unreadable zip, broken CSV, bad time strings) fail here;
// referential integrity is checked by BuildIndex.
func ParseFeed(raw []byte) (*Feed, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, malformedf("not a zip archive: %v", err)
	}
	f := &Feed{}
	stopTimes := map[string][]seqStopTime{}
	for _, zf := range zr.File {
		name := strings.ToLower(zf.Name)
		switch name {
		case "agency.txt", "stops.txt", "routes.txt", "trips.txt", "stop_times.txt", "calendar.txt", "calendar_dates.txt":
			if err := consumeCSV(f, zf, name, stopTimes); err != nil {
				return nil, err
			}
		}
	}
	attachStopTimes(f, stopTimes)
	return f, nil
}

type seqStopTime struct {
	seq int
	st  StopTime
}

func attachStopTimes(f *Feed, stopTimes map[string][]seqStopTime) {
	for i := range f.Trips {
		trip := &f.Trips[i]
		rows := stopTimes[trip.ID]
		sort.Slice(rows, func(a, b int) bool { return rows[a].seq < rows[b].seq })
		trip.StopTimes = make([]StopTime, 0, len(rows))
		for _, r := range rows {
			trip.StopTimes = append(trip.StopTimes, r.st)
		}
	}
}

func consumeCSV(f *Feed, zf *zip.File, name string, stopTimes map[string][]seqStopTime) error {
	r, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer func() { _ = r.Close() }()
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1
	rec, err := readAllCSV(csvr)
	if err != nil {
		return malformedf("%s: %v", zf.Name, err)
	}
	if len(rec) == 0 {
		return nil
	}
	head := rec[0]
	if len(head) > 0 {
		// UTF-8 BOM shows up on the first header cell of some feeds.
		head[0] = strings.TrimPrefix(head[0], "\uFEFF")
	}
	idx := func(col string) int {
		for i, h := range head {
			if strings.EqualFold(h, col) {
				return i
			}
		}
		return -1
	}
	field := func(row []string, i int) string {
		if i >= 0 && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	switch name {
	case "agency.txt":
		agName := idx("agency_name")
		agTZ := idx("agency_timezone")
		if len(rec) > 1 {
			f.AgencyName = field(rec[1], agName)
			f.AgencyTimezone = field(rec[1], agTZ)
		}
	case "stops.txt":
		sID := idx("stop_id")
		sCode := idx("stop_code")
		sName := idx("stop_name")
		sLat := idx("stop_lat")
		sLon := idx("stop_lon")
		sParent := idx("parent_station")
		for _, row := range rec[1:] {
			id := field(row, sID)
			if id == "" {
				continue
			}
			lat, _ := strconv.ParseFloat(field(row, sLat), 64)
			lon, _ := strconv.ParseFloat(field(row, sLon), 64)
			f.Stops = append(f.Stops, Stop{
				ID:            id,
				Code:          field(row, sCode),
				Name:          field(row, sName),
				Lat:           lat,
				Lon:           lon,
				ParentStation: field(row, sParent),
			})
		}
	case "routes.txt":
		rID := idx("route_id")
		rSN := idx("route_short_name")
		rLN := idx("route_long_name")
		rType := idx("route_type")
		rColor := idx("route_color")
		for _, row := range rec[1:] {
			id := field(row, rID)
			if id == "" {
				continue
			}
			rt, _ := strconv.Atoi(field(row, rType))
			f.Routes = append(f.Routes, Route{
				ID:        id,
				ShortName: field(row, rSN),
				LongName:  field(row, rLN),
				Mode:      ModeFromRouteType(rt),
				Color:     field(row, rColor),
			})
		}
	case "trips.txt":
		tID := idx("trip_id")
		rID := idx("route_id")
		svcID := idx("service_id")
		hs := idx("trip_headsign")
		for _, row := range rec[1:] {
			id := field(row, tID)
			if id == "" {
				continue
			}
			f.Trips = append(f.Trips, Trip{
				ID:        id,
				RouteID:   field(row, rID),
				ServiceID: field(row, svcID),
				Headsign:  field(row, hs),
			})
		}
	case "stop_times.txt":
		tID := idx("trip_id")
		sID := idx("stop_id")
		sq := idx("stop_sequence")
		arr := idx("arrival_time")
		dep := idx("departure_time")
		for _, row := range rec[1:] {
			trip := field(row, tID)
			stop := field(row, sID)
			if trip == "" || stop == "" {
				continue
			}
			seq, err := strconv.Atoi(field(row, sq))
			if err != nil {
				return malformedf("stop_times.txt: bad stop_sequence for trip %s", trip)
			}
			// Untimed stops may leave one of the two blank.
			arrStr := field(row, arr)
			depStr := field(row, dep)
			if arrStr == "" {
				arrStr = depStr
			}
			if depStr == "" {
				depStr = arrStr
			}
			arrSec, err := ParseTime(arrStr)
			if err != nil {
				return malformedf("stop_times.txt: trip %s: %v", trip, err)
			}
			depSec, err := ParseTime(depStr)
			if err != nil {
				return malformedf("stop_times.txt: trip %s: %v", trip, err)
			}
			stopTimes[trip] = append(stopTimes[trip], seqStopTime{
				seq: seq,
				st:  StopTime{StopID: stop, Arrival: arrSec, Departure: depSec},
			})
		}
	case "calendar.txt":
		svcID := idx("service_id")
		start := idx("start_date")
		end := idx("end_date")
		days := [7]int{idx("sunday"), idx("monday"), idx("tuesday"), idx("wednesday"), idx("thursday"), idx("friday"), idx("saturday")}
		for _, row := range rec[1:] {
			id := field(row, svcID)
			if id == "" {
				continue
			}
			cal := ServiceCalendar{
				ID:        id,
				StartDate: field(row, start),
				EndDate:   field(row, end),
				Added:     map[string]struct{}{},
				Removed:   map[string]struct{}{},
			}
			for wd, col := range days {
				cal.Weekdays[wd] = field(row, col) == "1"
			}
			f.Calendars = append(f.Calendars, cal)
		}
	case "calendar_dates.txt":
		svcID := idx("service_id")
		date := idx("date")
		exc := idx("exception_type")
		for _, row := range rec[1:] {
			id := field(row, svcID)
			day := field(row, date)
			if id == "" || day == "" {
				continue
			}
			cal := findOrAddCalendar(f, id)
			switch field(row, exc) {
			case "1":
				cal.Added[day] = struct{}{}
			case "2":
				cal.Removed[day] = struct{}{}
			}
		}
	}
	return nil
}

// findOrAddCalendar returns the calendar for id, creating an
// exceptions-only calendar when the feed has no calendar.txt row for it.
func findOrAddCalendar(f *Feed, id string) *ServiceCalendar {
	for i := range f.Calendars {
		if f.Calendars[i].ID == id {
			return &f.Calendars[i]
		}
	}
	f.Calendars = append(f.Calendars, ServiceCalendar{
		ID:      id,
		Added:   map[string]struct{}{},
		Removed: map[string]struct{}{},
	})
	return &f.Calendars[len(f.Calendars)-1]
}

func readAllCSV(r *csv.Reader) ([][]string, error) {
	var out [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}

// ParseTime converts a GTFS HH:MM:SS string to seconds since service-day
// midnight. Hours may exceed 24 for trips running past midnight.
func ParseTime(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid GTFS time %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid GTFS time %q", s)
	}
	return h*3600 + m*60 + sec, nil
}

// FormatTime renders seconds since service-day midnight as a GTFS
// HH:MM:SS string.
func FormatTime(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}
