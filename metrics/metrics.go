// Package metrics counts the routing decisions of a run and exports them as a
// prometheus textfile, for the node exporter to pick up between batch runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "postoffice"

// Outcome of a message import
type Outcome string

const (
	OutcomeQueued     Outcome = "queued"
	OutcomeTagged     Outcome = "tagged"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeMalformed  Outcome = "malformed"
	OutcomeRejected   Outcome = "rejected"
	OutcomeNotMatched Outcome = "not_matched"
)

type Metrics struct {
	registry    *prometheus.Registry
	messages    *prometheus.CounterVec
	queued      *prometheus.CounterVec
	queueLength *prometheus.GaugeVec
	quarantined *prometheus.GaugeVec
	lastRun     prometheus.Gauge
	duration    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages imported from the inbox, by outcome",
		}, []string{"outcome"}),
		queued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queued_messages_total",
			Help:      "Messages added to a queue",
		}, []string{"queue"}),
		queueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_messages",
			Help:      "Messages waiting in a queue at the end of the run",
		}, []string{"queue"}),
		quarantined: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_quarantined_messages",
			Help:      "Messages in the quarantine of a queue at the end of the run",
		}, []string{"queue"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Time the last import finished",
		}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last import",
		}),
	}
}

// Message counts one imported message
func (m *Metrics) Message(outcome Outcome) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(outcome)).Inc()
}

// Queued counts one message added to the queue
func (m *Metrics) Queued(queue string) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(queue).Inc()
}

func (m *Metrics) QueueSize(queue string, messages, quarantined int) {
	if m == nil {
		return
	}
	m.queueLength.WithLabelValues(queue).Set(float64(messages))
	m.quarantined.WithLabelValues(queue).Set(float64(quarantined))
}

func (m *Metrics) RunCompleted(start, end time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(end.Unix()))
	m.duration.Set(end.Sub(start).Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteFile atomically replaces filename with the current values
func (m *Metrics) WriteFile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.registry)
}
