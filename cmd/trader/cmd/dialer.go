package cmd

import (
	"fmt"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/oanda"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/market"
)

// newDialer builds gateways for configured accounts. Each sim account gets
// its own engine from book; each OANDA account gets its own gateway bound
// to its broker account id.
func newDialer(cfg *config.Config, book *sim.Book) broker.Dialer {
	accounts := make(map[string]config.AccountConfig, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts[a.ID] = a
	}
	return func(accountID string) (broker.Gateway, error) {
		a, ok := accounts[accountID]
		if !ok {
			return nil, nil
		}
		switch a.Broker {
		case "sim":
			ta := a.TradingAccount()
			return book.Account(ta.BrokerAccountID, ta.Currency, ta.Leverage), nil
		case "oanda":
			oc := cfg.OANDA
			oc.AccountID = a.TradingAccount().BrokerAccountID
			gw, err := oanda.NewGateway(oc)
			if err != nil {
				return nil, err
			}
			return gw, nil
		}
		return nil, fmt.Errorf("account %s: unknown broker %q", accountID, a.Broker)
	}
}

// aggregatorTimeframes is the default candle set plus the analysis
// timeframe when it is not already in it.
func aggregatorTimeframes(tf market.Timeframe) []market.Timeframe {
	out := []market.Timeframe{market.M1, market.M5, market.M15, market.H1}
	for _, have := range out {
		if have == tf {
			return out
		}
	}
	return append(out, tf)
}
