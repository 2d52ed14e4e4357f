package store

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"
)

// WatchSettings polls src every interval and sends settings whenever the
// version changes. The first successful read is always sent. The channel
// closes when ctx is done.
func WatchSettings(ctx context.Context, src SettingsSource, interval time.Duration) <-chan Settings {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	out := make(chan Settings, 1)

	go func() {
		defer close(out)

		var (
			seen    bool
			version int64
		)
		poll := func() {
			st, err := src.Settings(ctx)
			if err != nil {
				if !errors.Is(err, ErrNotFound) && ctx.Err() == nil {
					logs.Warnf("settings poll: %v", err)
				}
				return
			}
			if seen && st.Version == version {
				return
			}
			seen, version = true, st.Version
			select {
			case out <- st:
			case <-ctx.Done():
			}
		}

		poll()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
	return out
}
