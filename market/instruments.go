// market/instruments.go
package market

import (
	"math"
	"strings"
)

type Direction int

const (
	Flat  Direction = 0
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "BUY"
	case Short:
		return "SELL"
	default:
		return "HOLD"
	}
}

func (d Direction) Sign() float64 { return float64(d) }

func (d Direction) Opposite() Direction { return -d }

func ParseDirection(s string) Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return Long
	case "SELL", "SHORT":
		return Short
	default:
		return Flat
	}
}

type AssetClass string

const (
	Major  AssetClass = "major"
	Cross  AssetClass = "cross"
	Exotic AssetClass = "exotic"
	Metal  AssetClass = "metal"
	Crypto AssetClass = "crypto"
)

// Continuous reports whether the class trades around the clock, weekends
// included.
func (c AssetClass) Continuous() bool { return c == Crypto }

// PercentRisk reports whether positions in the class are sized from a stop
// percentage rather than a pip distance.
func (c AssetClass) PercentRisk() bool { return c == Crypto }

type InstrumentMeta struct {
	Name          string // broker-neutral OANDA style name, e.g. EUR_USD
	BaseCurrency  string
	QuoteCurrency string
	Class         AssetClass
	PipLocation   int
	ContractSize  float64 // units per 1.0 lot
	MinLot        float64
	LotStep       float64
	MarginRate    float64
}

// Symbol is the normalized key, e.g. EURUSD.
func (m InstrumentMeta) Symbol() string {
	return m.BaseCurrency + m.QuoteCurrency
}

// PipSize is the size of 1 pip in price units, e.g. EURUSD: 0.0001, USDJPY: 0.01.
func (m InstrumentMeta) PipSize() float64 {
	return math.Pow10(m.PipLocation)
}

// PipMultiplier converts a price delta into pip-equivalent units.
func (m InstrumentMeta) PipMultiplier() float64 {
	return math.Pow10(-m.PipLocation)
}

func (m InstrumentMeta) ToPips(delta float64) float64 {
	return delta * m.PipMultiplier()
}

func (m InstrumentMeta) IsGold() bool   { return m.BaseCurrency == "XAU" }
func (m InstrumentMeta) IsSilver() bool { return m.BaseCurrency == "XAG" }

func fx(base, quote string, class AssetClass) InstrumentMeta {
	loc := -4
	if quote == "JPY" {
		loc = -2
	}
	return InstrumentMeta{
		Name:          base + "_" + quote,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Class:         class,
		PipLocation:   loc,
		ContractSize:  100_000,
		MinLot:        0.01,
		LotStep:       0.01,
		MarginRate:    0.02,
	}
}

var Instruments = map[string]InstrumentMeta{}

func init() {
	for _, p := range [][2]string{
		{"EUR", "USD"}, {"GBP", "USD"}, {"USD", "JPY"}, {"USD", "CHF"},
		{"AUD", "USD"}, {"USD", "CAD"}, {"NZD", "USD"},
	} {
		register(fx(p[0], p[1], Major))
	}
	for _, p := range [][2]string{
		{"EUR", "GBP"}, {"EUR", "JPY"}, {"GBP", "JPY"}, {"AUD", "JPY"},
		{"EUR", "AUD"}, {"EUR", "CHF"}, {"GBP", "CHF"}, {"CAD", "JPY"},
		{"AUD", "NZD"}, {"EUR", "CAD"}, {"GBP", "AUD"}, {"CHF", "JPY"},
		{"NZD", "JPY"}, {"AUD", "CAD"},
	} {
		register(fx(p[0], p[1], Cross))
	}
	for _, p := range [][2]string{
		{"USD", "TRY"}, {"USD", "ZAR"}, {"USD", "MXN"}, {"EUR", "TRY"},
		{"USD", "SGD"}, {"USD", "NOK"}, {"USD", "SEK"},
	} {
		m := fx(p[0], p[1], Exotic)
		m.MarginRate = 0.05
		register(m)
	}

	register(InstrumentMeta{
		Name: "XAU_USD", BaseCurrency: "XAU", QuoteCurrency: "USD", Class: Metal,
		PipLocation: -1, ContractSize: 100, MinLot: 0.01, LotStep: 0.01, MarginRate: 0.05,
	})
	register(InstrumentMeta{
		Name: "XAG_USD", BaseCurrency: "XAG", QuoteCurrency: "USD", Class: Metal,
		PipLocation: -2, ContractSize: 5_000, MinLot: 0.01, LotStep: 0.01, MarginRate: 0.1,
	})
	register(InstrumentMeta{
		Name: "BTC_USD", BaseCurrency: "BTC", QuoteCurrency: "USD", Class: Crypto,
		PipLocation: 0, ContractSize: 1, MinLot: 0.01, LotStep: 0.01, MarginRate: 0.5,
	})
	register(InstrumentMeta{
		Name: "ETH_USD", BaseCurrency: "ETH", QuoteCurrency: "USD", Class: Crypto,
		PipLocation: -1, ContractSize: 1, MinLot: 0.01, LotStep: 0.01, MarginRate: 0.5,
	})
}

func register(m InstrumentMeta) {
	Instruments[m.Symbol()] = m
}

// Lookup resolves any broker spelling of a symbol to its instrument.
func Lookup(symbol string) (InstrumentMeta, bool) {
	m, ok := Instruments[Normalize(symbol)]
	return m, ok
}

var aliases = map[string]string{
	"GOLD":    "XAUUSD",
	"SILVER":  "XAGUSD",
	"XBTUSD":  "BTCUSD",
	"BTCUSDT": "BTCUSD",
	"ETHUSDT": "ETHUSD",
}

// Normalize maps broker symbol spellings onto the canonical key: upper case,
// no separators, no account-type suffixes. "EUR_USD", "eur/usd", "EURUSD.pro"
// and "EURUSDm" all become "EURUSD". Unknown symbols are returned cleaned but
// otherwise untouched.
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexAny(s, ".#+!"); i > 0 {
		s = s[:i]
	}
	s = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, s)

	if a, ok := aliases[s]; ok {
		return a
	}
	if _, ok := Instruments[s]; ok {
		return s
	}
	if len(s) > 6 {
		if _, ok := Instruments[s[:6]]; ok {
			return s[:6]
		}
		if a, ok := aliases[s[:7]]; ok {
			return a
		}
	}
	return s
}
