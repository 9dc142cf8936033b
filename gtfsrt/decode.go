package gtfsrt

import (
	"fmt"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// DecodeTripUpdates parses a GTFS-realtime TripUpdates feed. seq is the
// fetch layer's monotonically increasing sequence marker and is stamped
// onto every decoded update. fetchedAt stands in for the observation
// time when neither the header nor the entity carries a timestamp, so
// an update from a sparse feed is not born stale. The returned time is
// the feed header timestamp (zero when the header carries none).
//
// Only delay-based predictions are applied; stop-time events carrying an
// absolute time but no delay are ignored, since the schedule side of the
// merge works in delays.
func DecodeTripUpdates(raw []byte, seq uint64, fetchedAt time.Time) ([]TripUpdate, time.Time, error) {
	fm := &gtfsrtpb.FeedMessage{}
	if err := proto.Unmarshal(raw, fm); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode trip updates: %w", err)
	}
	headerTS := headerTime(fm)
	observed := headerTS
	if observed.IsZero() {
		observed = fetchedAt
	}
	var out []TripUpdate
	for _, e := range fm.Entity {
		tu := e.TripUpdate
		if tu == nil || tu.Trip == nil || tu.Trip.TripId == nil {
			continue
		}
		u := TripUpdate{
			TripID:     *tu.Trip.TripId,
			Sequence:   seq,
			ObservedAt: observed,
		}
		if tu.Trip.RouteId != nil {
			u.RouteID = *tu.Trip.RouteId
		}
		if tu.Trip.ScheduleRelationship != nil &&
			*tu.Trip.ScheduleRelationship == gtfsrtpb.TripDescriptor_CANCELED {
			u.Canceled = true
		}
		if tu.Timestamp != nil && *tu.Timestamp > 0 {
			u.ObservedAt = time.Unix(int64(*tu.Timestamp), 0)
		}
		for _, stu := range tu.StopTimeUpdate {
			if stu.StopId == nil {
				continue
			}
			su := StopTimeUpdate{StopID: *stu.StopId}
			if stu.ScheduleRelationship != nil &&
				*stu.ScheduleRelationship == gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED {
				su.Skipped = true
			}
			if d, ok := eventDelay(stu.Arrival); ok {
				su.DelaySec = d
			} else if d, ok := eventDelay(stu.Departure); ok {
				su.DelaySec = d
			} else if !su.Skipped {
				// Neither a delay nor a skip: nothing to overlay.
				continue
			}
			u.StopUpdates = append(u.StopUpdates, su)
		}
		if len(u.StopUpdates) == 0 && !u.Canceled {
			continue
		}
		out = append(out, u)
	}
	return out, headerTS, nil
}

// DecodeAlerts parses a GTFS-realtime ServiceAlerts feed.
func DecodeAlerts(raw []byte, seq uint64) ([]Alert, time.Time, error) {
	fm := &gtfsrtpb.FeedMessage{}
	if err := proto.Unmarshal(raw, fm); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode alerts: %w", err)
	}
	headerTS := headerTime(fm)
	var out []Alert
	for _, e := range fm.Entity {
		a := e.Alert
		if a == nil {
			continue
		}
		al := Alert{}
		if e.Id != nil {
			al.ID = *e.Id
		}
		al.Header = translatedText(a.HeaderText)
		al.Description = translatedText(a.DescriptionText)
		if a.Cause != nil {
			al.Cause = a.Cause.String()
		}
		if a.Effect != nil {
			al.Effect = a.Effect.String()
		}
		if a.SeverityLevel != nil {
			al.Severity = a.SeverityLevel.String()
		}
		if len(a.ActivePeriod) > 0 {
			ap := a.ActivePeriod[0]
			if ap.Start != nil && *ap.Start > 0 {
				al.Start = time.Unix(int64(*ap.Start), 0)
			}
			if ap.End != nil && *ap.End > 0 {
				al.End = time.Unix(int64(*ap.End), 0)
			}
		}
		for _, ie := range a.InformedEntity {
			if ie.RouteId != nil && *ie.RouteId != "" {
				al.RouteIDs = append(al.RouteIDs, *ie.RouteId)
			}
			if ie.StopId != nil && *ie.StopId != "" {
				al.StopIDs = append(al.StopIDs, *ie.StopId)
			}
			if ie.Trip != nil && ie.Trip.TripId != nil && *ie.Trip.TripId != "" {
				al.TripIDs = append(al.TripIDs, *ie.Trip.TripId)
			}
		}
		out = append(out, al)
	}
	return out, headerTS, nil
}

func headerTime(fm *gtfsrtpb.FeedMessage) time.Time {
	if fm.Header != nil && fm.Header.Timestamp != nil && *fm.Header.Timestamp > 0 {
		return time.Unix(int64(*fm.Header.Timestamp), 0)
	}
	return time.Time{}
}

func eventDelay(ev *gtfsrtpb.TripUpdate_StopTimeEvent) (int, bool) {
	if ev == nil || ev.Delay == nil {
		return 0, false
	}
	return int(*ev.Delay), true
}

func translatedText(ts *gtfsrtpb.TranslatedString) string {
	if ts == nil {
		return ""
	}
	for _, tr := range ts.Translation {
		if tr.Text != nil && *tr.Text != "" {
			return *tr.Text
		}
	}
	return ""
}
