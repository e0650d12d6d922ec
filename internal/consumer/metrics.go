package consumer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "consumer",
		Name:      "enrollment_events_consumed_total",
		Help:      "Enrollment events handled and committed, by event type.",
	}, []string{"event_type"})

	handlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Enrollment events the handler failed on (left uncommitted), by event type.",
	}, []string{"event_type"})

	decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Records skipped as malformed, by topic and reason.",
	}, []string{"topic", "reason"})

	auditDuplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "consumer",
		Name:      "audit_duplicates_total",
		Help:      "Redelivered enrollment events already present in enrollment_event_log.",
	}, []string{"event_type"})

	activityEnrolled = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "activities_service",
		Subsystem: "consumer",
		Name:      "activity_enrolled_participants",
		Help:      "Enrolled count carried by the latest audited event for each activity.",
	}, []string{"activity"})

	lastEventGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activities_service",
		Subsystem: "consumer",
		Name:      "last_enrollment_event_timestamp_seconds",
		Help:      "Kafka timestamp of the most recently committed enrollment event.",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, handlerErrors, decodeErrors, auditDuplicates, activityEnrolled, lastEventGauge)
}

func recordProcessed(msg Message) {
	eventsConsumed.WithLabelValues(msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastEventGauge.Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrors.WithLabelValues(msg.EventType).Inc()
}

func recordDecodeError(topic string, err error) {
	decodeErrors.WithLabelValues(topic, decodeReason(err)).Inc()
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, errBadFrame):
		return "frame"
	case errors.Is(err, errMissingEventType):
		return "header"
	case errors.Is(err, errInvalidPayload):
		return "payload"
	default:
		return "other"
	}
}
