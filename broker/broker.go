// Package broker defines the gateway contract every brokerage connection
// implements and the pool that keeps one connection per trading account.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/yanun0323/errors"
)

var (
	ErrNotConnected      = errors.New("broker: not connected")
	ErrRejected          = errors.New("broker: order rejected")
	ErrPositionNotFound  = errors.New("broker: position not found")
	ErrSymbolUnavailable = errors.New("broker: symbol not tradeable")
	ErrNoPrice           = errors.New("broker: no price for symbol")
	ErrUnknownAccount    = errors.New("broker: no gateway configured for account")
	ErrBackoff           = errors.New("broker: reconnect backing off")
	ErrExhausted         = errors.New("broker: reconnect attempts exhausted")
)

// Gateway is one live connection to a brokerage account. Symbols passed to
// and returned from a gateway are in the broker's own spelling.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool

	// Subscribe streams ticks for symbols into sink until ctx is done.
	Subscribe(ctx context.Context, symbols []string, sink market.TickSink) error

	OpenOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, positionID string) (CloseResult, error)
	OpenPositions(ctx context.Context) ([]Position, error)
	AccountInfo(ctx context.Context) (AccountInfo, error)
	TradeableSymbols(ctx context.Context) ([]string, error)
}

type AccountInfo struct {
	ID          string
	Currency    string
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
	Leverage    float64
}

type OrderRequest struct {
	// ClientID is the idempotency key forwarded to the broker.
	ClientID   string
	Symbol     string
	Direction  market.Direction
	Volume     float64 // lots
	Units      float64 // Volume × contract size, signed by the gateway
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

type OrderResult struct {
	PositionID string
	Symbol     string
	FillPrice  float64
	Volume     float64
	Time       time.Time
}

type CloseResult struct {
	PositionID string
	Price      float64
	PnL        float64
	Time       time.Time
}

type Position struct {
	ID            string
	Symbol        string
	Direction     market.Direction
	Volume        float64
	Units         float64
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	UnrealizedPnL float64
	OpenedAt      time.Time
}
