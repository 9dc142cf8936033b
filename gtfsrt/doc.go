// Package gtfsrt decodes GTFS-realtime feeds and maintains the realtime
// overlay: the latest per-trip delay/skip/cancel state and the active
// service alerts, keyed to schedule-index identifiers.
//
// Writes go through a single-writer Overlay; readers work against
// immutable snapshots republished atomically after each merge, so
// queries never block on a refresh.
package gtfsrt
