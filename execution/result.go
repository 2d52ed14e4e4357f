// Package execution fans a trade decision out to every eligible account and
// records one result per attempt.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
)

// Class classifies a failed attempt.
type Class string

const (
	ClassNone                Class = ""
	ClassRiskBlocked         Class = "risk_blocked"
	ClassBrokerUnavailable   Class = "broker_unavailable"
	ClassSymbolUnavailable   Class = "symbol_unavailable"
	ClassInsufficientBalance Class = "insufficient_balance"
	ClassMaxPositions        Class = "max_positions"
	ClassDuplicatePosition   Class = "duplicate_position"
	ClassSizing              Class = "sizing"
	ClassOrderRejected       Class = "order_rejected"
	ClassTimeout             Class = "timeout"
	ClassPersist             Class = "persist"
)

// Order is an actionable oracle decision for one symbol.
type Order struct {
	SignalID   string
	Symbol     string
	Direction  market.Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
	Confluence float64
}

// Result is the outcome of one attempt on one account. It is created once
// and never changed.
type Result struct {
	AccountID    string
	Success      bool
	TradeID      string
	PositionID   string
	BrokerSymbol string
	FillPrice    float64
	Volume       float64
	RiskPercent  float64
	Error        string
	Class        Class
	Latency      time.Duration
}

func (r Result) failed(class Class, err error) Result {
	r.Success = false
	r.Class = class
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// classify maps a broker error onto a failure class.
func classify(err error) Class {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, broker.ErrSymbolUnavailable):
		return ClassSymbolUnavailable
	case errors.Is(err, broker.ErrNotConnected), errors.Is(err, broker.ErrBackoff), errors.Is(err, broker.ErrUnknownAccount):
		return ClassBrokerUnavailable
	default:
		return ClassOrderRejected
	}
}
