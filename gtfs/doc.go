// Package gtfs parses a static GTFS feed and builds an immutable,
// queryable schedule index: stops, routes, trips, ordered stop-times and
// service calendars, plus the walk-transfer graph derived from stop
// coordinates.
//
// An index is built once per published feed version and never mutated;
// consumers hold a reference for the duration of a query and a refresh
// simply publishes a new instance.
package gtfs
