// Package metrics exposes Prometheus counters for operational events
// and a Collector that reads live engine state on every scrape, per
// the naming convention the pack's metrics packages use: a product
// prefix, a _total suffix for counters.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2franix/hwsupervisor/internal/events"
)

var (
	// EventsTotal counts every operational event published, labeled by
	// its source component and kind.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hwsupervisor_events_total",
			Help: "Total operational events published, by source and kind.",
		},
		[]string{"source", "kind"},
	)

	// ActionFailuresTotal counts action executions that returned an
	// error, labeled by the action kind that failed.
	ActionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hwsupervisor_action_failures_total",
			Help: "Total action executions that failed, by action kind.",
		},
		[]string{"kind"},
	)
)

// RecordEvent increments the per source/kind event counter.
func RecordEvent(source, kind string) {
	EventsTotal.WithLabelValues(source, kind).Inc()
}

// RecordActionFailure increments the per-kind action failure counter.
func RecordActionFailure(kind string) {
	ActionFailuresTotal.WithLabelValues(kind).Inc()
}

// WatchBus subscribes to the operational bus and records every
// published event as a counter increment until ctx is cancelled or the
// bus closes the subscription. Intended to run in its own goroutine,
// started once at process startup.
func WatchBus(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			RecordEvent(ev.Source, ev.Kind)
			if ev.Kind == events.KindActionFailed {
				if kind, _ := ev.Data["action_kind"].(string); kind != "" {
					RecordActionFailure(kind)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
