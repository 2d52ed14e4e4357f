package oanda

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rustyeddy/autotrader/market"
	"github.com/yanun0323/logs"
)

type pricingStreamMsg struct {
	Type       string `json:"type"`
	Time       string `json:"time"`
	Instrument string `json:"instrument"`

	Bids []struct {
		Price string `json:"price"`
	} `json:"bids"`

	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// Subscribe streams prices for symbols into sink. It returns when ctx is
// done or the stream ends; the caller decides whether to reconnect.
func (g *Gateway) Subscribe(ctx context.Context, symbols []string, sink market.TickSink) error {
	if len(symbols) == 0 {
		return fmt.Errorf("oanda: missing Instruments")
	}
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if meta, ok := market.Lookup(s); ok {
			names = append(names, meta.Name)
			continue
		}
		names = append(names, s)
	}

	q := url.Values{}
	q.Set("instruments", strings.Join(names, ","))
	body, err := g.client.stream(ctx, g.accountPath("/pricing/stream"), q)
	if err != nil {
		return g.markDown(err)
	}
	defer body.Close()

	n, err := decodeStream(ctx, body, sink)
	logs.Infof("oanda pricing stream closed account=%s ticks=%d", g.cfg.AccountID, n)
	return err
}

func decodeStream(ctx context.Context, r io.Reader, sink market.TickSink) (int, error) {
	sc := bufio.NewScanner(r)
	// OANDA stream messages can be long; bump max token
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	n := 0
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}

		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var msg pricingStreamMsg
		if err := sonic.Unmarshal(line, &msg); err != nil {
			return n, fmt.Errorf("oanda: bad json: %w (line=%q)", err, trimForErr(string(line)))
		}
		if !strings.EqualFold(msg.Type, "PRICE") {
			continue
		}
		if msg.Instrument == "" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
			continue
		}

		t := time.Now().UTC()
		if msg.Time != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
				t = parsed.UTC()
			}
		}
		bid, err := parseFloat(msg.Bids[0].Price)
		if err != nil {
			continue
		}
		ask, err := parseFloat(msg.Asks[0].Price)
		if err != nil {
			continue
		}
		sink.Push(market.Tick{Instrument: msg.Instrument, Time: t, Bid: bid, Ask: ask})
		n++
	}

	if err := sc.Err(); err != nil {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}
		return n, err
	}
	return n, nil
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
