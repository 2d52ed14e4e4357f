package store

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a Trade as an Org-mode block suitable for pasting
// into a trading journal. Structured facts go in a PROPERTIES drawer so they
// stay searchable; the narrative sections are left for the reader.
func FormatTradeOrg(t Trade) string {
	heading := fmt.Sprintf("** Trade: %s %s (%s)", t.Symbol, t.Direction, shortID(t.ID))

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":TRADE_ID: %s\n", t.ID))
	b.WriteString(fmt.Sprintf(":ACCOUNT: %s\n", t.AccountID))
	if t.SignalID != "" {
		b.WriteString(fmt.Sprintf(":SIGNAL_ID: %s\n", t.SignalID))
	}
	b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", t.Symbol))
	if t.BrokerSymbol != "" && t.BrokerSymbol != t.Symbol {
		b.WriteString(fmt.Sprintf(":BROKER_SYMBOL: %s\n", t.BrokerSymbol))
	}
	b.WriteString(fmt.Sprintf(":DIRECTION: %s\n", t.Direction))
	b.WriteString(fmt.Sprintf(":VOLUME: %.2f\n", t.Volume))
	b.WriteString(fmt.Sprintf(":STATUS: %s\n", t.Status))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %.5f\n", t.EntryPrice))
	b.WriteString(fmt.Sprintf(":STOP_LOSS: %.5f\n", t.StopLoss))
	b.WriteString(fmt.Sprintf(":TAKE_PROFIT: %.5f\n", t.TakeProfit))
	b.WriteString(fmt.Sprintf(":OPEN_TIME: %s\n", orgTime(t.OpenedAt)))
	if t.Status == TradeClosed {
		b.WriteString(fmt.Sprintf(":EXIT_PRICE: %.5f\n", t.ExitPrice))
		b.WriteString(fmt.Sprintf(":CLOSE_TIME: %s\n", orgTime(t.ClosedAt)))
		b.WriteString(fmt.Sprintf(":REALIZED_PL: %.2f\n", t.PnL))
		b.WriteString(fmt.Sprintf(":REASON: %s\n", t.CloseReason))
	}
	if t.Error != "" {
		b.WriteString(fmt.Sprintf(":ERROR: %s (%s)\n", t.Error, t.ErrorClass))
	}
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []Trade) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

func orgTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
