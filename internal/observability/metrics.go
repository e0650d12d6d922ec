package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	signupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "enrollment",
		Name:      "signups_total",
		Help:      "Signup attempts grouped by outcome (success or error kind).",
	}, []string{"outcome"})

	unregisterCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "enrollment",
		Name:      "unregisters_total",
		Help:      "Unregister attempts grouped by outcome (success or error kind).",
	}, []string{"outcome"})

	enrollmentChangeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activities_service",
		Subsystem: "enrollment",
		Name:      "last_enrollment_change_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed signup or unregister.",
	})
)

func init() {
	prometheus.MustRegister(signupCounter, unregisterCounter, enrollmentChangeGauge)
}

// RecordSignup counts a signup attempt.
func RecordSignup(outcome string) {
	signupCounter.WithLabelValues(outcome).Inc()
}

// RecordUnregister counts an unregister attempt.
func RecordUnregister(outcome string) {
	unregisterCounter.WithLabelValues(outcome).Inc()
}

// RecordEnrollmentChange updates the enrollment watermark gauge.
func RecordEnrollmentChange(ts time.Time) {
	if ts.IsZero() {
		return
	}
	enrollmentChangeGauge.Set(float64(ts.Unix()))
}
