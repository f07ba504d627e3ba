// Package metrics owns the process-wide Prometheus registry and the
// instrument groups handed to the transfer pipeline.
//
// The registry is opt-in: call InitRegistry once at startup to enable
// collection. Constructors return nil until then, and every recording
// method is nil-safe, so disabled metrics cost a single pointer check.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the global registry and attaches the standard Go
// runtime and process collectors. Calling it again replaces the registry,
// which is only useful in tests.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry != nil
}

// Handler returns the /metrics HTTP handler for the global registry.
// When metrics are disabled the handler serves an empty exposition.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
		})
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
