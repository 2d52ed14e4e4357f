package risk

// EUR_USD → quote = USD → QuoteToAccount = 1.0
// USD_JPY → quote = JPY → QuoteToAccount = 1 / USDJPY_mid

import (
	"fmt"
	"math"

	"github.com/rustyeddy/autotrader/market"
	"github.com/shopspring/decimal"
)

type Inputs struct {
	Equity         float64
	RiskPct        float64 // 0.005
	EntryPrice     float64
	StopPrice      float64
	PipLocation    int
	QuoteToAccount float64 // USD quote → 1.0, JPY quote → JPYUSD
}

type Result struct {
	Units      float64
	StopPips   float64
	RiskAmount float64
}

func pipSize(loc int) float64 {
	return math.Pow(10, float64(loc))
}

// PipSize returns the pip size for a given pip location.
func PipSize(loc int) float64 {
	return pipSize(loc)
}

// Calculate sizes a pip-priced position so that hitting the stop loses
// RiskPct of Equity in account currency.
func Calculate(in Inputs) Result {
	pip := pipSize(in.PipLocation)
	stopPips := math.Abs(in.EntryPrice-in.StopPrice) / pip

	riskAmt := in.Equity * in.RiskPct
	pipValuePerUnit := pip * in.QuoteToAccount

	units := riskAmt / (stopPips * pipValuePerUnit)

	return Result{
		Units:      math.Floor(units),
		StopPips:   stopPips,
		RiskAmount: riskAmt,
	}
}

// LotCaps are the maximum lots per order. Gold and silver are capped apart
// from the general ceiling; zero means no cap.
type LotCaps struct {
	Default float64 `json:"default" yaml:"default"`
	Gold    float64 `json:"gold" yaml:"gold"`
	Silver  float64 `json:"silver" yaml:"silver"`
	Crypto  float64 `json:"crypto" yaml:"crypto"`
}

func DefaultLotCaps() LotCaps {
	return LotCaps{Default: 10, Gold: 2, Silver: 1, Crypto: 5}
}

func (c LotCaps) For(meta market.InstrumentMeta) float64 {
	switch {
	case meta.IsGold():
		return c.Gold
	case meta.IsSilver():
		return c.Silver
	case meta.Class == market.Crypto:
		return c.Crypto
	default:
		return c.Default
	}
}

type SizeInput struct {
	Meta           market.InstrumentMeta
	Balance        float64
	RiskPercent    float64 // percent, 1.0 == 1%
	Entry          float64
	Stop           float64
	QuoteToAccount float64
	Leverage       float64
	Caps           LotCaps
}

type SizeResult struct {
	Lots       float64
	Units      float64
	StopPips   float64
	StopPct    float64
	RiskAmount float64
	Capped     bool
}

// PositionSize turns a risk percent into lots. Pip classes size from the
// stop distance in pips; percentage classes (crypto) size from the stop
// percent with notional capped at balance × leverage. The result is capped
// at the class lot ceiling and floored to the lot step.
func PositionSize(in SizeInput) (SizeResult, error) {
	if in.Balance <= 0 {
		return SizeResult{}, ErrNoBalance
	}
	if in.Entry <= 0 || in.Stop <= 0 || in.Entry == in.Stop {
		return SizeResult{}, ErrNoStop
	}
	contract := in.Meta.ContractSize
	if contract <= 0 {
		contract = 1
	}
	q2a := in.QuoteToAccount
	if q2a <= 0 {
		q2a = 1
	}

	var res SizeResult
	if in.Meta.Class.PercentRisk() {
		res.RiskAmount = in.Balance * in.RiskPercent / 100
		res.StopPct = math.Abs(in.Entry-in.Stop) / in.Entry * 100
		notional := res.RiskAmount / (res.StopPct / 100)
		if in.Leverage > 0 {
			if ceiling := in.Balance * in.Leverage; notional > ceiling {
				notional = ceiling
				res.Capped = true
			}
		}
		res.Units = notional / (in.Entry * q2a)
		res.StopPips = in.Meta.ToPips(math.Abs(in.Entry - in.Stop))
	} else {
		r := Calculate(Inputs{
			Equity:         in.Balance,
			RiskPct:        in.RiskPercent / 100,
			EntryPrice:     in.Entry,
			StopPrice:      in.Stop,
			PipLocation:    in.Meta.PipLocation,
			QuoteToAccount: q2a,
		})
		res.Units, res.StopPips, res.RiskAmount = r.Units, r.StopPips, r.RiskAmount
		res.StopPct = math.Abs(in.Entry-in.Stop) / in.Entry * 100
	}

	lots := res.Units / contract
	if maxLots := in.Caps.For(in.Meta); maxLots > 0 && lots > maxLots {
		lots = maxLots
		res.Capped = true
	}

	step := in.Meta.LotStep
	if step <= 0 {
		step = 0.01
	}
	stepD := decimal.NewFromFloat(step)
	res.Lots = decimal.NewFromFloat(lots).Div(stepD).Floor().Mul(stepD).InexactFloat64()
	res.Units = res.Lots * contract

	if res.Lots <= 0 || (in.Meta.MinLot > 0 && res.Lots < in.Meta.MinLot) {
		return res, fmt.Errorf("%s: %.4f lots: %w", in.Meta.Symbol(), lots, ErrSizeTooSmall)
	}
	return res, nil
}
