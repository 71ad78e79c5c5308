package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smartdine/internal/apperr"
	"smartdine/internal/models"
)

var (
	registerOnce sync.Once

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartdine",
			Subsystem: "workflow",
			Name:      "commands_total",
			Help:      "Workflow commands by outcome.",
		},
		[]string{"command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smartdine",
			Subsystem: "workflow",
			Name:      "command_duration_seconds",
			Help:      "Workflow command duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	revisions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "smartdine",
			Subsystem: "store",
			Name:      "revision",
			Help:      "Latest committed revision per collection.",
		},
		[]string{"collection"},
	)
	relayDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "smartdine",
			Subsystem: "relay",
			Name:      "dropped_events_total",
			Help:      "Change events dropped because the relay buffer was full.",
		},
	)
	messagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartdine",
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Change events consumed from the broker by queue and settlement.",
		},
		[]string{"queue", "settlement"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartdine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smartdine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commandsTotal, commandDuration, revisions, relayDropped, messagesConsumed, httpRequests, httpDuration)
	})
}

// RecordCommand counts a finished command. The outcome label is "ok" or the
// error kind.
func RecordCommand(command string, err error, duration time.Duration) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordRevision(collection models.Collection, rev int64) {
	RegisterMetrics()
	revisions.WithLabelValues(string(collection)).Set(float64(rev))
}

func RecordRelayDrop() {
	RegisterMetrics()
	relayDropped.Inc()
}

// RecordConsumed counts one settled delivery: "ack", "requeue" or "drop"
func RecordConsumed(queue, settlement string) {
	RegisterMetrics()
	messagesConsumed.WithLabelValues(queue, settlement).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
