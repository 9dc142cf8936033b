package gtfs

import "time"

// DateKey renders a date as the YYYYMMDD form GTFS calendars use.
func DateKey(t time.Time) string {
	return t.Format("20060102")
}

// ActiveOn reports whether the service runs on the given date.
// Exception dates win over the weekday mask.
func (c *ServiceCalendar) ActiveOn(date time.Time) bool {
	key := DateKey(date)
	if _, ok := c.Removed[key]; ok {
		return false
	}
	if _, ok := c.Added[key]; ok {
		return true
	}
	if !c.Weekdays[int(date.Weekday())] {
		return false
	}
	if c.StartDate != "" && key < c.StartDate {
		return false
	}
	if c.EndDate != "" && key > c.EndDate {
		return false
	}
	return true
}

// ActiveServices returns the IDs of all services running on date,
// in no particular order.
func (idx *ScheduleIndex) ActiveServices(date time.Time) map[string]struct{} {
	out := make(map[string]struct{})
	for id, cal := range idx.calendars {
		if cal.ActiveOn(date) {
			out[id] = struct{}{}
		}
	}
	return out
}
