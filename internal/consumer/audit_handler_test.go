package consumer

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveEnrollmentSetsActivityGauge(t *testing.T) {
	observeEnrollment(json.RawMessage(`{"activity_name":"Drama Club","email":"a@x.com","enrolled_count":4}`))
	require.Equal(t, float64(4), testutil.ToFloat64(activityEnrolled.WithLabelValues("Drama Club")))

	observeEnrollment(json.RawMessage(`{"activity_name":"Drama Club","enrolled_count":0}`))
	require.Zero(t, testutil.ToFloat64(activityEnrolled.WithLabelValues("Drama Club")))
}

func TestObserveEnrollmentIgnoresIncompletePayloads(t *testing.T) {
	observeEnrollment(json.RawMessage(`{"activity_name":"Debate Team","enrolled_count":3}`))

	observeEnrollment(json.RawMessage(`{"activity_name":"Debate Team"}`))
	observeEnrollment(json.RawMessage(`{"enrolled_count":9}`))
	observeEnrollment(json.RawMessage(`[]`))

	require.Equal(t, float64(3), testutil.ToFloat64(activityEnrolled.WithLabelValues("Debate Team")))
}
