package oanda

import (
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/errors"
)

const (
	// PracticeURL is the REST endpoint of OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the REST endpoint of OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"

	PracticeStreamURL = "https://stream-fxpractice.oanda.com"
	LiveStreamURL     = "https://stream-fxtrade.oanda.com"
)

var ErrLiveDisabled = errors.New("oanda: live trading not enabled")

type Config struct {
	Environment string        `json:"environment" yaml:"environment"` // practice | live
	AllowLive   bool          `json:"allow_live" yaml:"allow_live"`
	AccountID   string        `json:"account_id" yaml:"account_id"`
	Token       string        `json:"-" yaml:"-"`
	BaseURL     string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	StreamURL   string        `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// URLs resolves the REST and stream endpoints. Explicit URLs win over the
// environment name.
func (c Config) URLs() (rest, stream string, err error) {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "practice", "demo":
		rest, stream = PracticeURL, PracticeStreamURL
	case "live":
		if !c.AllowLive {
			return "", "", ErrLiveDisabled
		}
		rest, stream = LiveURL, LiveStreamURL
	default:
		return "", "", fmt.Errorf("unknown OANDA env %q (want practice|live)", c.Environment)
	}
	if c.BaseURL != "" {
		rest = c.BaseURL
	}
	if c.StreamURL != "" {
		stream = c.StreamURL
	} else if c.BaseURL != "" {
		stream = c.BaseURL
	}
	return rest, stream, nil
}
