package reconciliation

import "time"

// SessionClock is the production MarketClock: the market is open on
// weekdays between a configured open and close time-of-day, both
// expressed as an offset from midnight in the configured market zone.
type SessionClock struct {
	open  time.Duration
	close time.Duration
	zone  *time.Location
}

// NewSessionClock builds a SessionClock from the session's open/close
// offsets from midnight, e.g. 9h15m to 15h30m for the NSE equity/options
// session, evaluated in the given market zone. A nil zone defaults to UTC.
func NewSessionClock(open, close time.Duration, zone *time.Location) *SessionClock {
	if zone == nil {
		zone = time.UTC
	}
	return &SessionClock{open: open, close: close, zone: zone}
}

// IsMarketOpen reports whether the current time, in the configured market
// zone, falls on a weekday within the configured session window.
func (c *SessionClock) IsMarketOpen() bool {
	now := time.Now().In(c.zone)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	sinceMidnight := now.Sub(midnight)
	return sinceMidnight >= c.open && sinceMidnight <= c.close
}
