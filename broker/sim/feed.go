package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// Feed yields ticks in time order.
type Feed interface {
	Next() (market.Tick, bool, error)
}

// CSVFeed reads time,instrument,bid,ask rows. A header row is allowed and
// rows with an empty time or instrument are skipped.
type CSVFeed struct {
	c io.Closer
	r *csv.Reader

	sawFirst bool
}

func NewCSVFeed(r io.Reader) *CSVFeed {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &CSVFeed{r: cr}
}

func OpenCSVFeed(path string) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	feed := NewCSVFeed(f)
	feed.c = f
	return feed, nil
}

func (f *CSVFeed) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}

func (f *CSVFeed) Next() (market.Tick, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return market.Tick{}, false, nil
		}
		if err != nil {
			return market.Tick{}, false, err
		}
		if len(row) == 0 {
			continue
		}
		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}
		if len(row) < 4 {
			continue
		}

		t, ok, err := parseTickRow(row)
		if err != nil {
			return market.Tick{}, false, err
		}
		if ok {
			return t, true, nil
		}
	}
}

func parseTickRow(row []string) (market.Tick, bool, error) {
	ts := strings.TrimSpace(row[0])
	inst := strings.TrimSpace(row[1])
	if ts == "" || inst == "" {
		return market.Tick{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("bad time %q: %w", ts, err)
	}
	bid, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("bad ask %q: %w", row[3], err)
	}
	return market.Tick{Instrument: inst, Time: t.UTC(), Bid: bid, Ask: ask}, true, nil
}
