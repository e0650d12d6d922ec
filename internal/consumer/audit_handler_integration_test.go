//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/activities/internal/testsupport"
)

func TestAuditHandlerStoresEventOnce(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	handler := NewAuditHandler(pool)

	payload := json.RawMessage(`{"activity_name":"Chess Club","email":"emma@mergington.edu","enrolled_count":1}`)
	msg := Message{
		EventType:     "enrollment.signed_up",
		AggregateID:   "Chess Club",
		SchemaID:      42,
		SchemaSubject: "activity_enrollments-value",
		Topic:         "activity_enrollments",
		Partition:     0,
		Offset:        5,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}

	beforeDuplicates := testutil.ToFloat64(auditDuplicates.WithLabelValues("enrollment.signed_up"))

	require.NoError(t, handler.Handle(ctx, msg))
	require.Equal(t, float64(1), testutil.ToFloat64(activityEnrolled.WithLabelValues("Chess Club")))
	require.NoError(t, handler.Handle(ctx, msg), "redelivery should be ignored")
	require.InDelta(t, beforeDuplicates+1, testutil.ToFloat64(auditDuplicates.WithLabelValues("enrollment.signed_up")), 0.0001)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM enrollment_event_log`).Scan(&count))
	require.Equal(t, 1, count)

	var storedPayload []byte
	require.NoError(t, pool.QueryRow(ctx, `SELECT payload FROM enrollment_event_log LIMIT 1`).Scan(&storedPayload))
	require.JSONEq(t, string(payload), string(storedPayload))
}
