package relay

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "ethy"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of witnesses signed and broadcast by the local authority.
	WitnessesSent metrics.Counter
	// Number of witnesses received from the network.
	WitnessesReceived metrics.Counter
	// Number of event proofs assembled.
	ProofsGenerated metrics.Counter
	// Id of the active validator set.
	ValidatorSetID metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		WitnessesSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "witnesses_sent",
			Help:      "Number of witnesses signed and broadcast by this authority.",
		}, labels).With(labelsAndValues...),
		WitnessesReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "witnesses_received",
			Help:      "Number of witnesses received from the network.",
		}, labels).With(labelsAndValues...),
		ProofsGenerated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs_generated",
			Help:      "Number of event proofs assembled.",
		}, labels).With(labelsAndValues...),
		ValidatorSetID: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "validator_set_id",
			Help:      "Id of the active validator set.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		WitnessesSent:     discard.NewCounter(),
		WitnessesReceived: discard.NewCounter(),
		ProofsGenerated:   discard.NewCounter(),
		ValidatorSetID:    discard.NewGauge(),
	}
}
