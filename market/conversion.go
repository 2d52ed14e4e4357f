package market

import (
	"fmt"
	"time"
)

// Quoter returns the latest known tick for a symbol.
type Quoter interface {
	Price(symbol string) (Tick, bool)
}

// QuoteToAccountRate returns the factor converting an amount in the
// instrument's quote currency into the account currency.
func QuoteToAccountRate(meta InstrumentMeta, accountCurrency string, prices Quoter) (float64, error) {
	// Case 1: quote currency == account currency (EUR_USD, GBP_USD, etc.)
	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// Case 2: account currency is base (USD_JPY, USD_CHF, etc.)
	// USD_JPY mid gives JPY per USD; we want USD per JPY.
	if meta.BaseCurrency == accountCurrency {
		if px, ok := prices.Price(meta.Symbol()); ok && px.Mid() > 0 {
			return 1.0 / px.Mid(), nil
		}
		return 0, fmt.Errorf("no price for %s: %w", meta.Symbol(), ErrNoPrice)
	}

	// Case 3: cross through a direct or inverse pair, e.g. EUR_GBP in a USD
	// account converts GBP via GBP_USD.
	if px, ok := prices.Price(meta.QuoteCurrency + accountCurrency); ok && px.Mid() > 0 {
		return px.Mid(), nil
	}
	if px, ok := prices.Price(accountCurrency + meta.QuoteCurrency); ok && px.Mid() > 0 {
		return 1.0 / px.Mid(), nil
	}

	return 0, fmt.Errorf(
		"cross conversion %s → %s: %w",
		meta.QuoteCurrency,
		accountCurrency,
		ErrNoPrice,
	)
}

// PnL returns the realized profit of a position in account currency.
func PnL(meta InstrumentMeta, dir Direction, lots, entry, exit, quoteToAccount float64) float64 {
	units := lots * meta.ContractSize
	return dir.Sign() * units * (exit - entry) * quoteToAccount
}

// staticQuoter is a fixed price table, mainly for conversions in tests and
// replay tooling.
type staticQuoter map[string]float64

func (s staticQuoter) Price(symbol string) (Tick, bool) {
	p, ok := s[Normalize(symbol)]
	if !ok {
		return Tick{}, false
	}
	return Tick{Instrument: symbol, Bid: p, Ask: p, Time: time.Now()}, true
}

// StaticQuotes builds a Quoter from symbol → mid price.
func StaticQuotes(mids map[string]float64) Quoter {
	q := staticQuoter{}
	for k, v := range mids {
		q[Normalize(k)] = v
	}
	return q
}
