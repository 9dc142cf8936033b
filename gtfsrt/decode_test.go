package gtfsrt

import (
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

func marshalFeed(t *testing.T, fm *gtfsrtpb.FeedMessage) []byte {
	t.Helper()
	raw, err := proto.Marshal(fm)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func feedHeader(ts uint64) *gtfsrtpb.FeedHeader {
	return &gtfsrtpb.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Timestamp:           proto.Uint64(ts),
	}
}

func TestDecodeTripUpdates(t *testing.T) {
	headerTS := uint64(1767600000)
	fm := &gtfsrtpb.FeedMessage{
		Header: feedHeader(headerTS),
		Entity: []*gtfsrtpb.FeedEntity{
			{
				Id: proto.String("e1"),
				TripUpdate: &gtfsrtpb.TripUpdate{
					Trip: &gtfsrtpb.TripDescriptor{
						TripId:  proto.String("T1"),
						RouteId: proto.String("R1"),
					},
					StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{
						{
							StopId:  proto.String("B"),
							Arrival: &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: proto.Int32(300)},
						},
						{
							StopId: proto.String("C"),
							ScheduleRelationship: gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED.Enum(),
						},
						{
							// Absolute time only, no delay: dropped.
							StopId:  proto.String("D"),
							Arrival: &gtfsrtpb.TripUpdate_StopTimeEvent{Time: proto.Int64(1767600300)},
						},
					},
				},
			},
			{
				Id: proto.String("e2"),
				TripUpdate: &gtfsrtpb.TripUpdate{
					Trip: &gtfsrtpb.TripDescriptor{
						TripId:               proto.String("T2"),
						ScheduleRelationship: gtfsrtpb.TripDescriptor_CANCELED.Enum(),
					},
				},
			},
		},
	}

	updates, ts, err := DecodeTripUpdates(marshalFeed(t, fm), 7, time.Now())
	if err != nil {
		t.Fatalf("DecodeTripUpdates: %v", err)
	}
	if !ts.Equal(time.Unix(int64(headerTS), 0)) {
		t.Errorf("header timestamp = %v", ts)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}

	u := updates[0]
	if u.TripID != "T1" || u.RouteID != "R1" || u.Sequence != 7 {
		t.Errorf("update = %+v", u)
	}
	if len(u.StopUpdates) != 2 {
		t.Fatalf("stop updates = %+v, want delay at B and skip at C", u.StopUpdates)
	}
	if u.StopUpdates[0].StopID != "B" || u.StopUpdates[0].DelaySec != 300 {
		t.Errorf("stop update B = %+v", u.StopUpdates[0])
	}
	if u.StopUpdates[1].StopID != "C" || !u.StopUpdates[1].Skipped {
		t.Errorf("stop update C = %+v", u.StopUpdates[1])
	}

	if !updates[1].Canceled {
		t.Error("T2 should be canceled")
	}
}

func TestDecodeTripUpdatesBadPayload(t *testing.T) {
	if _, _, err := DecodeTripUpdates([]byte{0xff, 0xfe, 0x01}, 1, time.Now()); err == nil {
		t.Fatal("want error for a broken protobuf payload")
	}
}

func TestDecodeTripUpdatesNoTimestampFallsBackToFetchTime(t *testing.T) {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrtpb.FeedEntity{
			{
				Id: proto.String("e1"),
				TripUpdate: &gtfsrtpb.TripUpdate{
					Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("T1")},
					StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{
						{
							StopId:  proto.String("B"),
							Arrival: &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: proto.Int32(60)},
						},
					},
				},
			},
		},
	}

	fetchedAt := time.Unix(1767600123, 0)
	updates, ts, err := DecodeTripUpdates(marshalFeed(t, fm), 1, fetchedAt)
	if err != nil {
		t.Fatalf("DecodeTripUpdates: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("header timestamp = %v, want zero", ts)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	// Without any feed timestamp the update must not be born stale.
	if !updates[0].ObservedAt.Equal(fetchedAt) {
		t.Errorf("ObservedAt = %v, want fetch time %v", updates[0].ObservedAt, fetchedAt)
	}
}

func TestDecodeAlerts(t *testing.T) {
	fm := &gtfsrtpb.FeedMessage{
		Header: feedHeader(1767600000),
		Entity: []*gtfsrtpb.FeedEntity{
			{
				Id: proto.String("a1"),
				Alert: &gtfsrtpb.Alert{
					HeaderText: &gtfsrtpb.TranslatedString{
						Translation: []*gtfsrtpb.TranslatedString_Translation{
							{Text: proto.String("Detour on line 55")},
						},
					},
					Cause:  gtfsrtpb.Alert_CONSTRUCTION.Enum(),
					Effect: gtfsrtpb.Alert_DETOUR.Enum(),
					ActivePeriod: []*gtfsrtpb.TimeRange{
						{Start: proto.Uint64(1767600000), End: proto.Uint64(1767700000)},
					},
					InformedEntity: []*gtfsrtpb.EntitySelector{
						{RouteId: proto.String("R1")},
						{StopId: proto.String("B")},
					},
				},
			},
		},
	}

	alerts, _, err := DecodeAlerts(marshalFeed(t, fm), 3)
	if err != nil {
		t.Fatalf("DecodeAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts", len(alerts))
	}
	a := alerts[0]
	if a.ID != "a1" || a.Header != "Detour on line 55" {
		t.Errorf("alert = %+v", a)
	}
	if a.Cause != "CONSTRUCTION" || a.Effect != "DETOUR" {
		t.Errorf("cause/effect = %s/%s", a.Cause, a.Effect)
	}
	if !a.Start.Equal(time.Unix(1767600000, 0)) || !a.End.Equal(time.Unix(1767700000, 0)) {
		t.Errorf("window = %v - %v", a.Start, a.End)
	}
	if len(a.RouteIDs) != 1 || a.RouteIDs[0] != "R1" || len(a.StopIDs) != 1 || a.StopIDs[0] != "B" {
		t.Errorf("entities = %+v", a)
	}
	if a.NetworkWide() {
		t.Error("alert with entities must not be network-wide")
	}
}
