package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/activities/internal/domain"
	"example.com/activities/internal/persistence/memory"
)

func newTestMux(t *testing.T, service ActivityService) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(service, zerolog.Nop()).RegisterRoutes(mux)
	return mux
}

func newMemoryService(activities ...domain.Activity) *domain.Service {
	repo := memory.NewRepository()
	for _, a := range activities {
		repo.AddActivity(a)
	}
	return domain.NewService(repo)
}

func enrollmentPath(activity, action, email string) string {
	u := url.URL{Path: "/activities/" + activity + "/" + action}
	if email != "" {
		u.RawQuery = url.Values{"email": {email}}.Encode()
	}
	return u.String()
}

func do(t *testing.T, mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestSignupAndListFlow(t *testing.T) {
	two := 2
	mux := newTestMux(t, newMemoryService(domain.Activity{
		Name:            "Chess Club",
		Description:     "Learn strategies and compete in chess tournaments",
		Schedule:        "Fridays, 3:30 PM - 5:00 PM",
		MaxParticipants: &two,
	}))

	rr := do(t, mux, http.MethodPost, enrollmentPath("Chess Club", "signup", "a@x.com"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "Signed up a@x.com for Chess Club", decodeBody(t, rr)["message"])

	rr = do(t, mux, http.MethodGet, "/activities")
	require.Equal(t, http.StatusOK, rr.Code)
	var listing map[string]domain.ActivityDetails
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Equal(t, []string{"a@x.com"}, listing["Chess Club"].Participants)
	require.Equal(t, "Fridays, 3:30 PM - 5:00 PM", listing["Chess Club"].Schedule)
	require.Equal(t, 2, *listing["Chess Club"].MaxParticipants)

	rr = do(t, mux, http.MethodDelete, enrollmentPath("Chess Club", "unregister", "a@x.com"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Unregistered a@x.com from Chess Club", decodeBody(t, rr)["message"])
}

func TestListSerializesUnlimitedCapacityAsNull(t *testing.T) {
	mux := newTestMux(t, newMemoryService(domain.Activity{Name: "Library Volunteers"}))

	rr := do(t, mux, http.MethodGet, "/activities")
	require.Equal(t, http.StatusOK, rr.Code)

	var raw map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	require.JSONEq(t, `null`, string(raw["Library Volunteers"]["max_participants"]))
	require.JSONEq(t, `[]`, string(raw["Library Volunteers"]["participants"]))
}

func TestEnrollmentErrorsMapToStatus(t *testing.T) {
	one := 1
	mux := newTestMux(t, newMemoryService(domain.Activity{Name: "Math Club", MaxParticipants: &one}))
	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, enrollmentPath("Math Club", "signup", "a@x.com")).Code)

	cases := []struct {
		name   string
		method string
		target string
		status int
		code   string
		detail string
	}{
		{"unknown activity", http.MethodPost, enrollmentPath("Poetry", "signup", "a@x.com"), http.StatusNotFound, "not_found", "Activity not found"},
		{"unknown activity on unregister", http.MethodDelete, enrollmentPath("Poetry", "unregister", "a@x.com"), http.StatusNotFound, "not_found", "Activity not found"},
		{"already enrolled", http.MethodPost, enrollmentPath("Math Club", "signup", "a@x.com"), http.StatusBadRequest, "already_enrolled", "Student is already signed up"},
		{"activity full", http.MethodPost, enrollmentPath("Math Club", "signup", "b@x.com"), http.StatusBadRequest, "capacity_exceeded", "Activity is full"},
		{"not enrolled", http.MethodDelete, enrollmentPath("Math Club", "unregister", "b@x.com"), http.StatusBadRequest, "not_enrolled", "Student is not signed up for this activity"},
		{"missing email", http.MethodPost, enrollmentPath("Math Club", "signup", ""), http.StatusBadRequest, "validation_failed", "email is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, mux, tc.method, tc.target)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			body := decodeBody(t, rr)
			require.Equal(t, tc.code, body["type"])
			require.Equal(t, tc.detail, body["detail"])
		})
	}
}

func TestWrongMethodIsRejected(t *testing.T) {
	mux := newTestMux(t, newMemoryService(domain.Activity{Name: "Art Club"}))

	require.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodGet, enrollmentPath("Art Club", "signup", "a@x.com")).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodPost, enrollmentPath("Art Club", "unregister", "a@x.com")).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodPost, "/activities").Code)
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	mux := newTestMux(t, failingService{err: errors.New("connection refused")})

	rr := do(t, mux, http.MethodGet, "/activities")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, "server_error", body["type"])
	require.NotContains(t, body["detail"], "connection refused")

	rr = do(t, mux, http.MethodPost, enrollmentPath("Art Club", "signup", "a@x.com"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, newMemoryService())
	rr := do(t, mux, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

type failingService struct {
	err error
}

func (f failingService) ListActivities(context.Context) (map[string]domain.ActivityDetails, error) {
	return nil, f.err
}

func (f failingService) Signup(context.Context, string, string) (domain.Enrollment, error) {
	return domain.Enrollment{}, f.err
}

func (f failingService) Unregister(context.Context, string, string) (domain.Enrollment, error) {
	return domain.Enrollment{}, f.err
}

func enrollmentCounter(t *testing.T, name, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEnrollmentOutcomesAreCounted(t *testing.T) {
	one := 1
	mux := newTestMux(t, newMemoryService(domain.Activity{Name: "Math Club", MaxParticipants: &one}))

	const signups = "activities_service_enrollment_signups_total"
	const unregisters = "activities_service_enrollment_unregisters_total"
	beforeSuccess := enrollmentCounter(t, signups, "success")
	beforeFull := enrollmentCounter(t, signups, "capacity_exceeded")
	beforeNotEnrolled := enrollmentCounter(t, unregisters, "not_enrolled")

	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, enrollmentPath("Math Club", "signup", "a@x.com")).Code)
	require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, enrollmentPath("Math Club", "signup", "b@x.com")).Code)
	require.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodDelete, enrollmentPath("Math Club", "unregister", "b@x.com")).Code)

	require.InDelta(t, beforeSuccess+1, enrollmentCounter(t, signups, "success"), 0.0001)
	require.InDelta(t, beforeFull+1, enrollmentCounter(t, signups, "capacity_exceeded"), 0.0001)
	require.InDelta(t, beforeNotEnrolled+1, enrollmentCounter(t, unregisters, "not_enrolled"), 0.0001)
}

func TestOutcomeOf(t *testing.T) {
	require.Equal(t, "success", outcomeOf(nil))
	require.Equal(t, "not_found", outcomeOf(domain.ErrActivityNotFound))
	require.Equal(t, "error", outcomeOf(errors.New("db down")))
}
