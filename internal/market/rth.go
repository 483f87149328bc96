package market

import "time"

var newYork = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// The tzdata database always carries this zone; a failure here
		// means the runtime image is missing zoneinfo entirely.
		return time.UTC
	}
	return loc
}

// IsRTH reports whether ts falls inside NYSE regular trading hours:
// Mon-Fri, 09:30-16:00 America/New_York. No holiday table is consulted;
// callers rely on bar existence to make holidays transparent.
func IsRTH(ts time.Time) bool {
	local := ts.In(newYork)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	secondsSinceMidnight := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return secondsSinceMidnight >= 9*3600+30*60 && secondsSinceMidnight <= 16*3600
}
