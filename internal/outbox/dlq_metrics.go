package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DLQ entry outcomes.
const (
	dlqRequeued       = "requeued"
	dlqRetryScheduled = "retry_scheduled"
	dlqQuarantined    = "quarantined"
)

var (
	dlqEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activities_service",
		Subsystem: "dlq",
		Name:      "enrollment_entries_total",
		Help:      "Dead-lettered enrollment events handled by the DLQ manager, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "activities_service",
		Subsystem: "dlq",
		Name:      "enrollment_entries",
		Help:      "Enrollment events currently held in outbox_dlq, by state (waiting or quarantined).",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(dlqEntries, dlqBacklog)
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqEntries.WithLabelValues(entry.EventType, outcome).Inc()
}

// updateBacklogGauge leaves the gauges untouched when the count query fails.
func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var waiting, quarantined int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE quarantined_at IS NULL),
                COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
           FROM outbox_dlq`,
	).Scan(&waiting, &quarantined)
	if err != nil {
		return
	}
	dlqBacklog.WithLabelValues("waiting").Set(float64(waiting))
	dlqBacklog.WithLabelValues("quarantined").Set(float64(quarantined))
}
