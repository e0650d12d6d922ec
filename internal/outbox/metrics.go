package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure stages recorded on eventsFailed.
const (
	stageSchema = "schema"
	stageWrite  = "write"
)

var (
	eventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "outbox",
		Name:      "enrollment_events_delivered_total",
		Help:      "Enrollment events published to Kafka, by event type.",
	}, []string{"event_type"})

	eventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "outbox",
		Name:      "enrollment_events_failed_total",
		Help:      "Enrollment events that could not be published, by event type and failing stage.",
	}, []string{"event_type", "stage"})

	eventsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "outbox",
		Name:      "enrollment_events_dead_lettered_total",
		Help:      "Enrollment events moved to outbox_dlq, by event type.",
	}, []string{"event_type"})

	publishLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activities_service",
		Subsystem: "outbox",
		Name:      "enrollment_publish_lag_seconds",
		Help:      "Time between an enrollment change committing and its event reaching Kafka.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"event_type"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activities_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, delivering and marking one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(eventsDelivered, eventsFailed, eventsDeadLettered, publishLag, batchDuration)
}

func recordDelivered(messages []Message, at time.Time) {
	for _, msg := range messages {
		eventsDelivered.WithLabelValues(msg.EventType).Inc()
		if !msg.CreatedAt.IsZero() {
			publishLag.WithLabelValues(msg.EventType).Observe(at.Sub(msg.CreatedAt).Seconds())
		}
	}
}

func recordFailed(messages []Message, stage string) {
	for _, msg := range messages {
		eventsFailed.WithLabelValues(msg.EventType, stage).Inc()
	}
}
