package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slotswapper"

// Outcome labels shared by the recorders below.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	exchangeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "operations_total",
			Help:      "Exchange engine operations by outcome code.",
		},
		[]string{"operation", "outcome"},
	)

	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "operation_duration_seconds",
			Help:      "Duration of exchange engine operations including lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	slotOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot",
			Name:      "operations_total",
			Help:      "Slot CRUD operations by outcome code.",
		},
		[]string{"operation", "outcome"},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for slot locks.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	eventPublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Exchange events that could not be published after commit.",
		},
		[]string{"type"},
	)

	kafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Kafka messages produced or consumed.",
		},
		[]string{"direction", "topic", "outcome"},
	)

	kafkaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "message_duration_seconds",
			Help:      "Time to publish or handle a Kafka message.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"direction", "topic"},
	)

	auditViolations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_violations",
			Help:      "Invariant violations found by the last audit run.",
		},
		[]string{"kind"},
	)

	auditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Completed invariant audit runs.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		exchangeOperations,
		exchangeDuration,
		slotOperations,
		lockWait,
		eventPublishFailures,
		kafkaMessages,
		kafkaDuration,
		auditViolations,
		auditRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordExchangeOperation records one engine call. outcome is "success" or
// the error code the call failed with.
func RecordExchangeOperation(operation, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	exchangeOperations.WithLabelValues(operation, outcome).Inc()
	exchangeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordSlotOperation(operation, outcome string) {
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	slotOperations.WithLabelValues(operation, outcome).Inc()
}

func ObserveLockWait(duration time.Duration) {
	lockWait.Observe(duration.Seconds())
}

func RecordEventPublishFailure(eventType string) {
	eventPublishFailures.WithLabelValues(eventType).Inc()
}

func RecordKafkaPublish(topic string, err error, duration time.Duration) {
	recordKafka("produce", topic, err, duration)
}

func RecordKafkaConsume(topic string, err error, duration time.Duration) {
	recordKafka("consume", topic, err, duration)
}

func recordKafka(direction, topic string, err error, duration time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	kafkaMessages.WithLabelValues(direction, topic, outcome).Inc()
	kafkaDuration.WithLabelValues(direction, topic).Observe(duration.Seconds())
}

func SetAuditViolations(kind string, count int) {
	auditViolations.WithLabelValues(kind).Set(float64(count))
}

func RecordAuditRun(err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	auditRuns.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// CanonicalPath collapses resource ids so label cardinality stays bounded.
// "/api/v1/slots/id/abc/state" becomes "/api/v1/slots/id/:id/state".
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i-1] == "id" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
