package oanda

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// Granularity represents the time frame for candles
type Granularity string

const (
	S5  Granularity = "S5"  // 5 seconds
	M1  Granularity = "M1"  // 1 minute
	M5  Granularity = "M5"  // 5 minutes
	M15 Granularity = "M15" // 15 minutes
	M30 Granularity = "M30" // 30 minutes
	H1  Granularity = "H1"  // 1 hour
	H4  Granularity = "H4"  // 4 hours
	D   Granularity = "D"   // 1 day
)

// GranularityFor maps an engine timeframe onto OANDA's spelling.
func GranularityFor(tf market.Timeframe) Granularity {
	if tf == market.D1 {
		return D
	}
	return Granularity(tf)
}

// PriceComponent represents the price component for candles
type PriceComponent string

const (
	MidPrice PriceComponent = "M" // Midpoint candles
	BidPrice PriceComponent = "B" // Bid candles
	AskPrice PriceComponent = "A" // Ask candles
)

// CandlesRequest represents parameters for fetching historical candles
type CandlesRequest struct {
	Instrument  string         // Required: e.g. "EUR_USD"
	Price       PriceComponent // default: MidPrice
	Granularity Granularity    // default: S5
	Count       int            // max 5000, mutually exclusive with To
	From        *time.Time
	To          *time.Time
	Smooth      bool // use previous candle's close as open
}

type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid,omitempty"`
	Bid      candleData `json:"bid,omitempty"`
	Ask      candleData `json:"ask,omitempty"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// GetCandles fetches completed historical candles. Incomplete candles are
// skipped.
func (c *Client) GetCandles(ctx context.Context, req CandlesRequest) ([]market.Candle, error) {
	if req.Instrument == "" {
		return nil, fmt.Errorf("instrument is required")
	}

	params := url.Values{}
	if req.Price == "" {
		req.Price = MidPrice
	}
	params.Set("price", string(req.Price))

	if req.Granularity == "" {
		req.Granularity = S5
	}
	params.Set("granularity", string(req.Granularity))

	if req.Count > 0 {
		if req.Count > 5000 {
			return nil, fmt.Errorf("count cannot exceed 5000")
		}
		params.Set("count", strconv.Itoa(req.Count))
		if req.From != nil {
			params.Set("from", req.From.UTC().Format(time.RFC3339))
		}
	} else {
		if req.From != nil {
			params.Set("from", req.From.Format(time.RFC3339))
		}
		if req.To != nil {
			params.Set("to", req.To.Format(time.RFC3339))
		}
	}
	if req.Smooth {
		params.Set("smooth", "true")
	}

	var apiResp candlesResponse
	if err := c.do(ctx, "GET", "/v3/instruments/"+req.Instrument+"/candles", params, nil, &apiResp); err != nil {
		return nil, err
	}

	tf := market.Timeframe(req.Granularity)
	if req.Granularity == D {
		tf = market.D1
	}

	candles := make([]market.Candle, 0, len(apiResp.Candles))
	for _, ac := range apiResp.Candles {
		if !ac.Complete {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, ac.Time)
		if err != nil {
			return nil, fmt.Errorf("parse time %s: %w", ac.Time, err)
		}

		var pd candleData
		switch req.Price {
		case BidPrice:
			pd = ac.Bid
		case AskPrice:
			pd = ac.Ask
		default:
			pd = ac.Mid
		}

		var ohlc [4]float64
		for i, s := range []string{pd.O, pd.H, pd.L, pd.C} {
			v, err := parseFloat(s)
			if err != nil {
				return nil, fmt.Errorf("parse price %q: %w", s, err)
			}
			ohlc[i] = v
		}

		candles = append(candles, market.Candle{
			Instrument:  market.Normalize(req.Instrument),
			Timeframe:   tf,
			Open:        ohlc[0],
			High:        ohlc[1],
			Low:         ohlc[2],
			Close:       ohlc[3],
			Volume:      float64(ac.Volume),
			PeriodStart: t.UTC(),
		})
	}
	return candles, nil
}
