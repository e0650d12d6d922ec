// Package api exposes HTTP handlers for the activities service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"example.com/activities/internal/domain"
	"example.com/activities/internal/observability"
)

// ActivityService is the subset of domain.Service the handlers need.
type ActivityService interface {
	ListActivities(ctx context.Context) (map[string]domain.ActivityDetails, error)
	Signup(ctx context.Context, activityName, email string) (domain.Enrollment, error)
	Unregister(ctx context.Context, activityName, email string) (domain.Enrollment, error)
}

// Handler coordinates HTTP requests with the activity service.
type Handler struct {
	service  ActivityService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service ActivityService, logger zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/activities", h.activities)
	mux.HandleFunc("/activities/{activityName}/signup", h.signup)
	mux.HandleFunc("/activities/{activityName}/unregister", h.unregister)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	activities, err := h.service.ListActivities(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	req, ok := h.parseEnrollmentRequest(w, r)
	if !ok {
		return
	}

	enrollment, err := h.service.Signup(r.Context(), req.ActivityName, req.Email)
	observability.RecordSignup(outcomeOf(err))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	observability.RecordEnrollmentChange(enrollment.OccurredAt)
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Signed up %s for %s", enrollment.Email, enrollment.ActivityName),
	})
}

func (h *Handler) unregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	req, ok := h.parseEnrollmentRequest(w, r)
	if !ok {
		return
	}

	enrollment, err := h.service.Unregister(r.Context(), req.ActivityName, req.Email)
	observability.RecordUnregister(outcomeOf(err))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	observability.RecordEnrollmentChange(enrollment.OccurredAt)
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Unregistered %s from %s", enrollment.Email, enrollment.ActivityName),
	})
}

// EnrollmentRequest carries the path and query parameters of signup and unregister.
type EnrollmentRequest struct {
	ActivityName string `validate:"required"`
	Email        string `validate:"required,max=254"`
}

func (h *Handler) parseEnrollmentRequest(w http.ResponseWriter, r *http.Request) (EnrollmentRequest, bool) {
	req := EnrollmentRequest{
		ActivityName: r.PathValue("activityName"),
		Email:        r.URL.Query().Get("email"),
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationDetail(err))
		return EnrollmentRequest{}, false
	}
	return req, true
}

func validationDetail(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := "email"
	if fe.Field() == "ActivityName" {
		field = "activity name"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := domain.KindOf(err)
	if !ok {
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	switch kind {
	case domain.KindNotFound:
		writeError(w, http.StatusNotFound, string(kind), err.Error())
	case domain.KindAlreadyEnrolled, domain.KindCapacityExceeded, domain.KindNotEnrolled:
		writeError(w, http.StatusBadRequest, string(kind), err.Error())
	case domain.KindInvalidInput:
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("unmapped error kind")
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}

// outcomeOf labels an operation result for the enrollment counters.
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if kind, ok := domain.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

// MessageResponse is the body returned by signup and unregister.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
