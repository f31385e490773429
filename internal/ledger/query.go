package ledger

import "time"

// Filter selects activities by end time. Since is inclusive, Until
// exclusive; zero bounds are open.
type Filter struct {
	Since time.Time
	Until time.Time
}

func (f Filter) matches(a Activity) bool {
	if !f.Since.IsZero() && a.TimestampEnd.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !a.TimestampEnd.Before(f.Until) {
		return false
	}
	return true
}

// Query returns the matching activities in ledger order.
func (l *Ledger) Query(f Filter) []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Activity, 0, len(l.activities))
	for _, a := range l.activities {
		if f.matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// LastHours returns activities that ended within hours of now.
func (l *Ledger) LastHours(now time.Time, hours int) []Activity {
	return l.Query(Filter{Since: now.Add(-time.Duration(hours) * time.Hour)})
}

// OnDate returns activities that ended on day's calendar date in loc.
func (l *Ledger) OnDate(day time.Time, loc *time.Location) []Activity {
	if loc == nil {
		loc = time.Local
	}
	day = day.In(loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return l.Query(Filter{Since: start, Until: start.AddDate(0, 0, 1)})
}

// Between returns activities that ended in [from, to).
func (l *Ledger) Between(from, to time.Time) []Activity {
	return l.Query(Filter{Since: from, Until: to})
}
