package sim

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// CSVWriter writes ticks in the time,instrument,bid,ask layout CSVFeed
// reads. The header is written on the first tick.
type CSVWriter struct {
	w      *csv.Writer
	header bool
	rows   int
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

func (cw *CSVWriter) Write(t market.Tick) error {
	if !cw.header {
		if err := cw.w.Write([]string{"time", "instrument", "bid", "ask"}); err != nil {
			return err
		}
		cw.header = true
	}
	if err := cw.w.Write([]string{
		t.Time.UTC().Format(time.RFC3339Nano),
		t.Instrument,
		fmtFloat(t.Bid),
		fmtFloat(t.Ask),
	}); err != nil {
		return err
	}
	cw.rows++
	return nil
}

// Rows is the number of ticks written.
func (cw *CSVWriter) Rows() int { return cw.rows }

func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	return cw.w.Error()
}

// CandleTicks synthesizes four ticks that walk a candle's range: open,
// the extreme against the candle's direction, the extreme with it, close.
// Ticks are spaced a quarter period apart and quoted spread wide around
// the candle's mid prices.
func CandleTicks(c market.Candle, spread float64) []market.Tick {
	step := c.Timeframe.Duration() / 4
	path := [4]float64{c.Open, c.Low, c.High, c.Close}
	if c.Close < c.Open {
		path[1], path[2] = c.High, c.Low
	}
	half := spread / 2
	out := make([]market.Tick, 0, len(path))
	for i, mid := range path {
		out = append(out, market.Tick{
			Instrument: c.Instrument,
			Time:       c.PeriodStart.Add(time.Duration(i) * step),
			Bid:        mid - half,
			Ask:        mid + half,
		})
	}
	return out
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
