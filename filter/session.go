package filter

import "time"

// Session is a trading session in whole UTC hours. End is exclusive; a
// session whose End is before its Start wraps midnight.
type Session struct {
	Name  string
	Start int
	End   int
}

var (
	Sydney  = Session{Name: "sydney", Start: 21, End: 6}
	Tokyo   = Session{Name: "tokyo", Start: 0, End: 9}
	London  = Session{Name: "london", Start: 7, End: 16}
	NewYork = Session{Name: "newyork", Start: 12, End: 21}
)

var knownSessions = map[string]Session{
	Sydney.Name:  Sydney,
	Tokyo.Name:   Tokyo,
	London.Name:  London,
	NewYork.Name: NewYork,
}

// SessionByName resolves a configured session name.
func SessionByName(name string) (Session, bool) {
	s, ok := knownSessions[name]
	return s, ok
}

func (s Session) Active(t time.Time) bool {
	h := t.UTC().Hour()
	if s.Start <= s.End {
		return h >= s.Start && h < s.End
	}
	return h >= s.Start || h < s.End
}

// ActiveSessions returns the names of the sessions open at t.
func ActiveSessions(t time.Time, sessions []Session) []string {
	var out []string
	for _, s := range sessions {
		if s.Active(t) {
			out = append(out, s.Name)
		}
	}
	return out
}

// InOverlap reports whether t falls in the Tokyo/London or London/New York
// overlap, the most liquid hours of the day.
func InOverlap(t time.Time) bool {
	return (London.Active(t) && NewYork.Active(t)) || (Tokyo.Active(t) && London.Active(t))
}

const rolloverHour = 21

// WeekendClosed reports whether the FX market is shut: Friday 21:00 UTC until
// Sunday 21:00 UTC.
func WeekendClosed(t time.Time) bool {
	t = t.UTC()
	switch t.Weekday() {
	case time.Saturday:
		return true
	case time.Friday:
		return t.Hour() >= rolloverHour
	case time.Sunday:
		return t.Hour() < rolloverHour
	}
	return false
}

// NearRollover reports whether t is within buffer of the daily 21:00 UTC
// rollover, on either side.
func NearRollover(t time.Time, buffer time.Duration) bool {
	if buffer <= 0 {
		return false
	}
	t = t.UTC()
	roll := time.Date(t.Year(), t.Month(), t.Day(), rolloverHour, 0, 0, 0, time.UTC)
	for _, r := range []time.Time{roll.AddDate(0, 0, -1), roll, roll.AddDate(0, 0, 1)} {
		d := t.Sub(r)
		if d < 0 {
			d = -d
		}
		if d <= buffer {
			return true
		}
	}
	return false
}

// AfterWeeklyOpen reports whether t is within buffer after the Sunday open.
func AfterWeeklyOpen(t time.Time, buffer time.Duration) bool {
	t = t.UTC()
	if t.Weekday() != time.Sunday || buffer <= 0 {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), rolloverHour, 0, 0, 0, time.UTC)
	return !t.Before(open) && t.Sub(open) < buffer
}
