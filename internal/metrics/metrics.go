package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	CallsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patientbot_calls_started_total",
		Help: "Total number of simulated patient calls started",
	})

	CallsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patientbot_calls_ended_total",
			Help: "Total number of calls ended, by end reason",
		},
		[]string{"reason"},
	)

	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patientbot_active_calls",
		Help: "Number of calls currently held in the session registry",
	})

	PatientTurns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patientbot_patient_turns_total",
		Help: "Total number of generated patient utterances",
	})

	IssuesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patientbot_realtime_issues_total",
			Help: "Real-time issues flagged on agent utterances, by label",
		},
		[]string{"label"},
	)

	GeneratorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patientbot_generator_errors_total",
		Help: "Failed utterance generation attempts",
	})

	GeneratorLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "patientbot_generator_latency_seconds",
		Help:    "Latency of successful utterance generation",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~13s
	})

	TranscriptWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patientbot_transcript_writes_total",
			Help: "Transcript flush attempts, by result",
		},
		[]string{"result"},
	)

	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patientbot_webhook_requests_total",
			Help: "Telephony webhook requests, by route and outcome",
		},
		[]string{"route", "outcome"},
	)
)

func init() {
	registry.MustRegister(
		CallsStarted,
		CallsEnded,
		ActiveCalls,
		PatientTurns,
		IssuesDetected,
		GeneratorErrors,
		GeneratorLatency,
		TranscriptWrites,
		WebhookRequests,
	)
}

// Registry exposes the process registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
