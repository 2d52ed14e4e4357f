package market

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a candle period in OANDA/MT notation, e.g. "M15" or "H1".
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

func (tf Timeframe) Duration() time.Duration {
	sec, err := TFStringToSeconds(string(tf))
	if err != nil {
		return 0
	}
	return time.Duration(sec) * time.Second
}

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframe accepts either notation ("M15") or a Go duration ("15m").
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	if _, err := TFStringToSeconds(strings.ToUpper(s)); err == nil {
		return Timeframe(strings.ToUpper(s)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("unsupported timeframe: %q", s)
	}
	name, err := secondsToTF(int32(d / time.Second))
	if err != nil {
		return "", err
	}
	if _, err := TFStringToSeconds(name); err != nil {
		return "", fmt.Errorf("unsupported timeframe: %q", s)
	}
	return Timeframe(name), nil
}

// BucketStart returns floor(t / period) * period in unix time.
func BucketStart(t time.Time, period time.Duration) time.Time {
	sec := int64(period / time.Second)
	if sec <= 0 {
		return t.UTC()
	}
	u := t.Unix()
	b := u / sec * sec
	if u < 0 && u%sec != 0 {
		b -= sec
	}
	return time.Unix(b, 0).UTC()
}

func secondsToTF(sec int32) (string, error) {
	if sec <= 0 {
		return "", fmt.Errorf("invalid timeframe seconds: %d", sec)
	}

	// Minutes
	if sec < 3600 && sec%60 == 0 {
		return fmt.Sprintf("M%d", sec/60), nil
	}

	// Hours
	if sec < 86400 && sec%3600 == 0 {
		return fmt.Sprintf("H%d", sec/3600), nil
	}

	if sec == 86400 {
		return "D1", nil
	}
	if sec == 604800 {
		return "W1", nil
	}

	return "", fmt.Errorf("cannot map timeframe: %d seconds", sec)
}

func TFStringToSeconds(tf string) (int32, error) {
	switch tf {
	case "M1":
		return 60, nil
	case "M5":
		return 300, nil
	case "M15":
		return 900, nil
	case "M30":
		return 1800, nil
	case "H1":
		return 3600, nil
	case "H4":
		return 14400, nil
	case "D1":
		return 86400, nil
	case "W1":
		return 604800, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}
}
