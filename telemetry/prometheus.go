package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink counts engine events by type and anchor. Pair it with a
// Recorder through MultiSink to get both logs and metrics.
type PrometheusSink struct {
	events       *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
}

// NewPrometheusSink registers the engine's metrics against reg. A nil reg
// means the process-global default registry.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusSink{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchor_router",
			Name:      "events_total",
			Help:      "Engine events by type and anchor.",
		}, []string{"type", "anchor"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anchor_router",
			Name:      "rate_limit_rejections_total",
			Help:      "Admission rejections by anchor.",
		}, []string{"anchor"}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "anchor_router",
			Name:      "circuit_open",
			Help:      "1 when the anchor's circuit is open, 0 when closed.",
		}, []string{"anchor"}),
	}
}

// Emit implements Sink.
func (p *PrometheusSink) Emit(_ context.Context, event Event) {
	p.events.WithLabelValues(string(event.Type), event.Anchor).Inc()

	switch event.Type {
	case EventRateLimitRejected:
		p.rateLimited.WithLabelValues(event.Anchor).Inc()
	case EventCircuitOpened:
		p.circuitState.WithLabelValues(event.Anchor).Set(1)
	case EventCircuitClosed:
		p.circuitState.WithLabelValues(event.Anchor).Set(0)
	}
}
