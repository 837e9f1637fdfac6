package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry builds a fresh prometheus.Registry holding this package's
// two counter vectors and, when eng is non-nil, a Collector over eng.
// It is separate from the global prometheus.DefaultRegisterer so a
// test can build an isolated one.
func NewRegistry(eng Engine) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(EventsTotal, ActionFailuresTotal)
	if eng != nil {
		reg.MustRegister(NewCollector(eng))
	}
	return reg
}

// Handler serves the registry's metrics in the Prometheus text
// exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
