package risk

import (
	"time"

	"github.com/yanun0323/errors"
)

var (
	ErrNoStop       = errors.New("risk: stop loss missing or equal to entry")
	ErrNoBalance    = errors.New("risk: balance must be positive")
	ErrSizeTooSmall = errors.New("risk: position size below minimum lot")
)

// TradeResult is a closed trade as the risk controllers see it.
type TradeResult struct {
	AccountID string
	Symbol    string
	PnL       float64
	ClosedAt  time.Time
}

func (r TradeResult) Win() bool  { return r.PnL > 0 }
func (r TradeResult) Loss() bool { return r.PnL < 0 }

// dayStart is 00:00 UTC of t's day.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekStart is Monday 00:00 UTC of t's week.
func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
