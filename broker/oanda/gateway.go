package oanda

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
	"github.com/yanun0323/logs"
)

// Gateway implements broker.Gateway for one v20 account.
type Gateway struct {
	cfg       Config
	client    *Client
	connected atomic.Bool
}

var _ broker.Gateway = (*Gateway)(nil)

func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("oanda: missing AccountID")
	}
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Gateway{cfg: cfg, client: c}, nil
}

func (g *Gateway) Client() *Client { return g.client }

func (g *Gateway) accountPath(suffix string) string {
	return "/v3/accounts/" + g.cfg.AccountID + suffix
}

// Connect verifies the token and account with a summary call.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.cfg.Token == "" {
		return fmt.Errorf("oanda: missing token")
	}
	if _, err := g.summary(ctx); err != nil {
		g.connected.Store(false)
		return err
	}
	g.connected.Store(true)
	return nil
}

func (g *Gateway) Disconnect(context.Context) error {
	g.connected.Store(false)
	return nil
}

func (g *Gateway) Connected() bool { return g.connected.Load() }

// markDown drops the connection on transport failures so the pool
// reconnects; API errors leave it up.
func (g *Gateway) markDown(err error) error {
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		g.connected.Store(false)
	}
	return err
}

type accountSummary struct {
	Account struct {
		ID              string `json:"id"`
		Currency        string `json:"currency"`
		Balance         string `json:"balance"`
		NAV             string `json:"NAV"`
		MarginUsed      string `json:"marginUsed"`
		MarginAvailable string `json:"marginAvailable"`
		MarginRate      string `json:"marginRate"`
	} `json:"account"`
}

func (g *Gateway) summary(ctx context.Context) (accountSummary, error) {
	var out accountSummary
	err := g.client.do(ctx, http.MethodGet, g.accountPath("/summary"), nil, nil, &out)
	return out, g.markDown(err)
}

func (g *Gateway) AccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	s, err := g.summary(ctx)
	if err != nil {
		return broker.AccountInfo{}, err
	}
	a := s.Account
	info := broker.AccountInfo{
		ID:         a.ID,
		Currency:   a.Currency,
		Balance:    mustFloat(a.Balance),
		Equity:     mustFloat(a.NAV),
		MarginUsed: mustFloat(a.MarginUsed),
		FreeMargin: mustFloat(a.MarginAvailable),
	}
	if info.MarginUsed > 0 {
		info.MarginLevel = info.Equity / info.MarginUsed
	}
	if r := mustFloat(a.MarginRate); r > 0 {
		info.Leverage = math.Round(1 / r)
	}
	return info, nil
}

func (g *Gateway) TradeableSymbols(ctx context.Context) ([]string, error) {
	var out struct {
		Instruments []struct {
			Name string `json:"name"`
		} `json:"instruments"`
	}
	if err := g.client.do(ctx, http.MethodGet, g.accountPath("/instruments"), nil, nil, &out); err != nil {
		return nil, g.markDown(err)
	}
	names := make([]string, 0, len(out.Instruments))
	for _, in := range out.Instruments {
		names = append(names, in.Name)
	}
	sort.Strings(names)
	return names, nil
}

type priceDetails struct {
	Price string `json:"price"`
}

type clientExtensions struct {
	ID      string `json:"id,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type marketOrder struct {
	Type             string            `json:"type"`
	Instrument       string            `json:"instrument"`
	Units            string            `json:"units"`
	TimeInForce      string            `json:"timeInForce"`
	PositionFill     string            `json:"positionFill"`
	ClientExtensions *clientExtensions `json:"clientExtensions,omitempty"`
	StopLossOnFill   *priceDetails     `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *priceDetails     `json:"takeProfitOnFill,omitempty"`
}

type orderResponse struct {
	OrderFillTransaction *struct {
		ID          string `json:"id"`
		Price       string `json:"price"`
		Units       string `json:"units"`
		Time        string `json:"time"`
		PL          string `json:"pl"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
			Units   string `json:"units"`
			Price   string `json:"price"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

// priceString rounds to one decimal beyond the pip, which v20 accepts for
// every instrument class.
func priceString(meta market.InstrumentMeta, p float64) string {
	decimals := -meta.PipLocation + 1
	if decimals < 0 {
		decimals = 0
	}
	return strconv.FormatFloat(p, 'f', decimals, 64)
}

func (g *Gateway) OpenOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	meta, ok := market.Lookup(req.Symbol)
	if !ok {
		return broker.OrderResult{}, fmt.Errorf("%w: %s", broker.ErrSymbolUnavailable, req.Symbol)
	}
	if req.Direction == market.Flat {
		return broker.OrderResult{}, fmt.Errorf("%w: no direction", broker.ErrRejected)
	}
	units := req.Units
	if units == 0 {
		units = req.Volume * meta.ContractSize
	}
	units = math.Abs(units)
	if !meta.Class.PercentRisk() {
		units = math.Round(units)
	}
	if units == 0 {
		return broker.OrderResult{}, fmt.Errorf("%w: zero units", broker.ErrRejected)
	}
	units *= req.Direction.Sign()

	order := marketOrder{
		Type:         "MARKET",
		Instrument:   meta.Name,
		Units:        strconv.FormatFloat(units, 'f', -1, 64),
		TimeInForce:  "FOK",
		PositionFill: "OPEN_ONLY",
	}
	if req.ClientID != "" || req.Comment != "" {
		order.ClientExtensions = &clientExtensions{ID: req.ClientID, Comment: req.Comment}
	}
	if req.StopLoss > 0 {
		order.StopLossOnFill = &priceDetails{Price: priceString(meta, req.StopLoss)}
	}
	if req.TakeProfit > 0 {
		order.TakeProfitOnFill = &priceDetails{Price: priceString(meta, req.TakeProfit)}
	}

	var resp orderResponse
	err := g.client.do(ctx, http.MethodPost, g.accountPath("/orders"), nil, map[string]any{"order": order}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return broker.OrderResult{}, fmt.Errorf("%w: %s", broker.ErrRejected, apiErr.Message)
		}
		return broker.OrderResult{}, g.markDown(err)
	}
	if resp.OrderCancelTransaction != nil {
		return broker.OrderResult{}, fmt.Errorf("%w: %s", broker.ErrRejected, resp.OrderCancelTransaction.Reason)
	}
	fill := resp.OrderFillTransaction
	if fill == nil || fill.TradeOpened == nil {
		return broker.OrderResult{}, fmt.Errorf("%w: no trade opened", broker.ErrRejected)
	}

	at, _ := time.Parse(time.RFC3339Nano, fill.Time)
	price := mustFloat(fill.TradeOpened.Price)
	if price == 0 {
		price = mustFloat(fill.Price)
	}
	filled := math.Abs(mustFloat(fill.TradeOpened.Units))
	return broker.OrderResult{
		PositionID: fill.TradeOpened.TradeID,
		Symbol:     meta.Name,
		FillPrice:  price,
		Volume:     filled / meta.ContractSize,
		Time:       at.UTC(),
	}, nil
}

func (g *Gateway) ClosePosition(ctx context.Context, positionID string) (broker.CloseResult, error) {
	var resp orderResponse
	err := g.client.do(ctx, http.MethodPut, g.accountPath("/trades/"+positionID+"/close"), nil, map[string]string{"units": "ALL"}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return broker.CloseResult{}, fmt.Errorf("close %s: %w", positionID, broker.ErrPositionNotFound)
		}
		return broker.CloseResult{}, g.markDown(err)
	}
	if resp.OrderFillTransaction == nil {
		reason := "no fill"
		if resp.OrderCancelTransaction != nil {
			reason = resp.OrderCancelTransaction.Reason
		}
		return broker.CloseResult{}, fmt.Errorf("%w: close %s: %s", broker.ErrRejected, positionID, reason)
	}
	f := resp.OrderFillTransaction
	at, _ := time.Parse(time.RFC3339Nano, f.Time)
	return broker.CloseResult{
		PositionID: positionID,
		Price:      mustFloat(f.Price),
		PnL:        mustFloat(f.PL),
		Time:       at.UTC(),
	}, nil
}

type openTrade struct {
	ID              string        `json:"id"`
	Instrument      string        `json:"instrument"`
	Price           string        `json:"price"`
	OpenTime        string        `json:"openTime"`
	CurrentUnits    string        `json:"currentUnits"`
	UnrealizedPL    string        `json:"unrealizedPL"`
	StopLossOrder   *priceDetails `json:"stopLossOrder"`
	TakeProfitOrder *priceDetails `json:"takeProfitOrder"`
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]broker.Position, error) {
	var out struct {
		Trades []openTrade `json:"trades"`
	}
	if err := g.client.do(ctx, http.MethodGet, g.accountPath("/openTrades"), nil, nil, &out); err != nil {
		return nil, g.markDown(err)
	}

	positions := make([]broker.Position, 0, len(out.Trades))
	for _, t := range out.Trades {
		units := mustFloat(t.CurrentUnits)
		dir := market.Long
		if units < 0 {
			dir = market.Short
		}
		p := broker.Position{
			ID:            t.ID,
			Symbol:        t.Instrument,
			Direction:     dir,
			Units:         math.Abs(units),
			EntryPrice:    mustFloat(t.Price),
			UnrealizedPnL: mustFloat(t.UnrealizedPL),
		}
		if meta, ok := market.Lookup(t.Instrument); ok && meta.ContractSize > 0 {
			p.Volume = p.Units / meta.ContractSize
		}
		if t.StopLossOrder != nil {
			p.StopLoss = mustFloat(t.StopLossOrder.Price)
		}
		if t.TakeProfitOrder != nil {
			p.TakeProfit = mustFloat(t.TakeProfitOrder.Price)
		}
		if at, err := time.Parse(time.RFC3339Nano, t.OpenTime); err == nil {
			p.OpenedAt = at.UTC()
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// Candles implements the engine's warm-up source.
func (g *Gateway) Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error) {
	meta, ok := market.Lookup(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", broker.ErrSymbolUnavailable, symbol)
	}
	candles, err := g.client.GetCandles(ctx, CandlesRequest{
		Instrument:  meta.Name,
		Granularity: GranularityFor(tf),
		Count:       count,
	})
	if err != nil {
		logs.Warnf("oanda candles symbol=%s tf=%s: %v", symbol, tf, err)
		return nil, g.markDown(err)
	}
	return candles, nil
}
