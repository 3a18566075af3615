package history

import "time"

// DayStart returns the start of the current calendar day in loc,
// converted to UTC. Used as the lower bound for "today" queries against
// the store so the boundary convention matches the tracker's.
func DayStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC()
}

// ParseTimezone parses an IANA timezone name, falling back to UTC when
// the name is empty or unknown.
func ParseTimezone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
