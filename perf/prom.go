package perf

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// Phase is 1 for the phase a node is currently in and 0 for the others
	Phase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "golem",
			Subsystem: "ranking",
			Name:      "phase",
			Help:      "Current gossip engine phase.",
		},
		[]string{"node", "phase"},
	)

	Step = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "golem",
			Subsystem: "ranking",
			Name:      "step",
			Help:      "Gossip step within the current epoch.",
		},
		[]string{"node"},
	)

	Epochs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "golem",
			Subsystem: "ranking",
			Name:      "epochs_total",
			Help:      "Epochs that reached global convergence and were persisted.",
		},
		[]string{"node"},
	)

	Delta = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "golem",
			Subsystem: "ranking",
			Name:      "convergence_delta",
			Help:      "Summed absolute ratio change per end of round.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"node"},
	)

	Messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "golem",
			Name:      "messages_total",
			Help:      "Protocol messages by kind and direction.",
		},
		[]string{"kind", "dir"},
	)

	Malformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "golem",
			Name:      "malformed_entries_total",
			Help:      "Gossip entries or envelopes dropped as malformed.",
		},
	)

	Interactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "golem",
			Name:      "interactions_total",
			Help:      "Interactions recorded through the trust API.",
		},
		[]string{"category", "sign"},
	)

	DispatchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "golem",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent running a dispatched task on the main loop.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "golem",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

var phases = []string{"stage_init", "round", "end_round", "break"}

func init() {
	Registry.MustRegister(Phase, Step, Epochs, Delta, Messages, Malformed, Interactions, DispatchSeconds, uptime)
}

func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func SetPhase(node, phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		Phase.WithLabelValues(node, p).Set(v)
	}
}

func SetStep(node string, step int) {
	Step.WithLabelValues(node).Set(float64(step))
}

func CountMessage(kind string, outbound bool, n int) {
	dir := "in"
	if outbound {
		dir = "out"
	}
	Messages.WithLabelValues(kind, dir).Add(float64(n))
}

func CountInteraction(category, sign string) {
	Interactions.WithLabelValues(category, sign).Inc()
}
