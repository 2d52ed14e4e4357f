package execution

import (
	"sort"
	"strings"

	"github.com/rustyeddy/autotrader/market"
)

// clean drops separators and case: "EUR_USD.pro" -> "EURUSDPRO".
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			return r
		}
		return -1
	}, s)
}

// ResolveSymbol maps a normalized symbol onto the broker's spelling. An
// exact name wins, then a name that normalizes to the symbol, then a name
// that starts with it once separators are removed. Ties resolve to the
// shortest name.
func ResolveSymbol(symbol string, tradeable []string) (string, bool) {
	want := market.Normalize(symbol)
	for _, s := range tradeable {
		if s == symbol || s == want {
			return s, true
		}
	}

	var normalized, prefixed []string
	for _, s := range tradeable {
		switch {
		case market.Normalize(s) == want:
			normalized = append(normalized, s)
		case strings.HasPrefix(clean(s), want):
			prefixed = append(prefixed, s)
		}
	}
	for _, cands := range [][]string{normalized, prefixed} {
		if len(cands) == 0 {
			continue
		}
		sort.Slice(cands, func(i, j int) bool {
			if len(cands[i]) != len(cands[j]) {
				return len(cands[i]) < len(cands[j])
			}
			return cands[i] < cands[j]
		})
		return cands[0], true
	}
	return "", false
}
