package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rustyeddy/autotrader/market"
)

type HTTPConfig struct {
	URL     string        `yaml:"url" json:"url"`
	APIKey  string        `yaml:"-" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxCandles bounds the history sent with each request.
	MaxCandles int `yaml:"max_candles" json:"max_candles"`
}

// HTTPOracle posts requests as JSON to a decision service.
type HTTPOracle struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) (*HTTPOracle, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("oracle: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = 100
	}
	return &HTTPOracle{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type wireCandle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type wireIndicators struct {
	RSI       float64 `json:"rsi"`
	ADX       float64 `json:"adx"`
	PlusDI    float64 `json:"plus_di"`
	MinusDI   float64 `json:"minus_di"`
	EMA20     float64 `json:"ema20"`
	EMA50     float64 `json:"ema50"`
	ATR       float64 `json:"atr"`
	StochK    float64 `json:"stoch_k"`
	StochD    float64 `json:"stoch_d"`
	Momentum  float64 `json:"momentum"`
	Pivot     float64 `json:"pivot,omitempty"`
	R1        float64 `json:"r1,omitempty"`
	S1        float64 `json:"s1,omitempty"`
	TrendBias string  `json:"trend_filter"`
}

type wireRequest struct {
	Symbol         string         `json:"symbol"`
	AssetClass     string         `json:"assetClass"`
	CurrentPrice   float64        `json:"currentPrice"`
	Candles        []wireCandle   `json:"candles"`
	Indicators     wireIndicators `json:"indicators"`
	Regime         string         `json:"regime"`
	AccountBalance float64        `json:"accountBalance"`
	RiskPercent    float64        `json:"riskPercent"`
}

type wireDecision struct {
	Action      string  `json:"action"`
	Confidence  float64 `json:"confidence"`
	EntryPrice  float64 `json:"entryPrice"`
	StopLoss    float64 `json:"stopLoss"`
	TakeProfit1 float64 `json:"takeProfit1"`
	TakeProfit2 float64 `json:"takeProfit2"`
	TakeProfit3 float64 `json:"takeProfit3"`
	Reasoning   string  `json:"reasoning"`
}

func (o *HTTPOracle) encode(req Request) wireRequest {
	candles := req.Candles
	if len(candles) > o.cfg.MaxCandles {
		candles = candles[len(candles)-o.cfg.MaxCandles:]
	}
	w := wireRequest{
		Symbol:         req.Symbol,
		AssetClass:     string(req.AssetClass),
		CurrentPrice:   req.CurrentPrice,
		Candles:        make([]wireCandle, 0, len(candles)),
		Regime:         req.Regime,
		AccountBalance: req.AccountBalance,
		RiskPercent:    req.RiskPercent,
	}
	for _, c := range candles {
		w.Candles = append(w.Candles, wireCandle{Time: c.PeriodStart, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
	}
	s := req.Indicators
	w.Indicators = wireIndicators{
		RSI: s.RSI, ADX: s.ADX, PlusDI: s.PlusDI, MinusDI: s.MinusDI,
		EMA20: s.EMA20, EMA50: s.EMA50, ATR: s.ATR,
		StochK: s.StochK, StochD: s.StochD, Momentum: s.Momentum,
		TrendBias: s.Range.Direction.String(),
	}
	if s.HasPivots {
		w.Indicators.Pivot, w.Indicators.R1, w.Indicators.S1 = s.Pivots.P, s.Pivots.R1, s.Pivots.S1
	}
	return w
}

func parseAction(s string) (market.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return market.Long, nil
	case "SELL":
		return market.Short, nil
	case "HOLD":
		return market.Flat, nil
	}
	return market.Flat, fmt.Errorf("%w: action %q", ErrMalformed, s)
}

func (o *HTTPOracle) Decide(ctx context.Context, req Request) (Decision, error) {
	body, err := sonic.Marshal(o.encode(req))
	if err != nil {
		return Decision{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Decision{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("oracle http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var w wireDecision
	if err := sonic.Unmarshal(b, &w); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	action, err := parseAction(w.Action)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Action:      action,
		Confidence:  w.Confidence,
		Entry:       w.EntryPrice,
		StopLoss:    w.StopLoss,
		TakeProfits: [3]float64{w.TakeProfit1, w.TakeProfit2, w.TakeProfit3},
		Reasoning:   w.Reasoning,
	}, nil
}
