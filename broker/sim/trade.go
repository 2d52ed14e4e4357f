package sim

import (
	"time"

	"github.com/rustyeddy/autotrader/market"
)

type Trade struct {
	ID         string
	ClientID   string
	Symbol     string // broker spelling
	Meta       market.InstrumentMeta
	Direction  market.Direction
	Volume     float64 // lots
	EntryPrice float64
	OpenTime   time.Time

	StopLoss   float64 // zero when unset
	TakeProfit float64

	// Realized
	ClosePrice  float64
	CloseTime   time.Time
	CloseReason string
	RealizedPL  float64 // account currency
	Open        bool
}

func (t *Trade) Units() float64 { return t.Volume * t.Meta.ContractSize }

func hitStopLoss(t *Trade, mark float64) bool {
	if t.StopLoss == 0 {
		return false
	}
	if t.Direction == market.Long {
		return mark <= t.StopLoss
	}
	return mark >= t.StopLoss
}

func hitTakeProfit(t *Trade, mark float64) bool {
	if t.TakeProfit == 0 {
		return false
	}
	if t.Direction == market.Long {
		return mark >= t.TakeProfit
	}
	return mark <= t.TakeProfit
}

// TradeMargin is the margin a position ties up in account currency.
func TradeMargin(units, price float64, meta market.InstrumentMeta, quoteToAccount float64) float64 {
	if units < 0 {
		units = -units
	}
	return units * price * quoteToAccount * meta.MarginRate
}
