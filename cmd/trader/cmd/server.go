package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/metrics"
)

// newMux serves liveness, readiness and Prometheus metrics. Readiness
// requires at least one of accounts to hold a live broker connection.
func newMux(m *metrics.Metrics, pool *broker.Pool, accounts []string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		var ready, down []string
		for _, id := range accounts {
			if pool.Ready(id) {
				ready = append(ready, id)
			} else {
				down = append(down, id)
			}
		}
		if len(ready) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintf(w, "ready=%s down=%s\n", strings.Join(ready, ","), strings.Join(down, ","))
	})
	mux.Handle("/metrics", m.Handler())
	return mux
}
