package consumer

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditHandler records consumed enrollment events in enrollment_event_log.
// Redelivered records are ignored by their (topic, partition, offset).
type AuditHandler struct {
	pool *pgxpool.Pool
}

// NewAuditHandler constructs a handler backed by the provided pool.
func NewAuditHandler(pool *pgxpool.Pool) *AuditHandler {
	return &AuditHandler{pool: pool}
}

// enrollmentSnapshot is the part of an enrollment payload the audit metrics use.
type enrollmentSnapshot struct {
	ActivityName  string `json:"activity_name"`
	EnrolledCount *int   `json:"enrolled_count"`
}

// Handle stores the event payload and, for first deliveries, publishes the
// activity's enrolled count.
func (h *AuditHandler) Handle(ctx context.Context, msg Message) error {
	tag, err := h.pool.Exec(ctx,
		`INSERT INTO enrollment_event_log (event_type, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.EventType,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		auditDuplicates.WithLabelValues(msg.EventType).Inc()
		return nil
	}

	observeEnrollment(msg.Payload)
	return nil
}

// observeEnrollment sets the enrolled gauge from payload; payloads without an
// activity name or count are ignored.
func observeEnrollment(payload json.RawMessage) {
	var snap enrollmentSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil || snap.ActivityName == "" || snap.EnrolledCount == nil {
		return
	}
	activityEnrolled.WithLabelValues(snap.ActivityName).Set(float64(*snap.EnrolledCount))
}
