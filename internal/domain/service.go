// Package domain defines the enrollment rules for extracurricular activities.
package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository captures persistence operations. Calls made with the context
// handed to WithTx's callback join that transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListActivities(ctx context.Context) ([]Activity, error)
	GetActivityForUpdate(ctx context.Context, name string) (*Activity, error)
	FindParticipant(ctx context.Context, email string) (*Participant, error)
	CreateParticipant(ctx context.Context, email string) (Participant, error)
	IsEnrolled(ctx context.Context, activityID, participantID int64) (bool, error)
	CountEnrollments(ctx context.Context, activityID int64) (int, error)
	AddEnrollment(ctx context.Context, activityID, participantID int64, at time.Time) error
	RemoveEnrollment(ctx context.Context, activityID, participantID int64) (bool, error)
	AppendEvent(ctx context.Context, event EnrollmentEvent) error
}

// Service orchestrates activity listing and enrollment changes.
type Service struct {
	repo   Repository
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithClock overrides the time source used to stamp enrollments.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for enrollment audit lines.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListActivities returns every activity keyed by name.
func (s *Service) ListActivities(ctx context.Context) (map[string]ActivityDetails, error) {
	activities, err := s.repo.ListActivities(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]ActivityDetails, len(activities))
	for _, a := range activities {
		participants := a.Participants
		if participants == nil {
			participants = []string{}
		}
		result[a.Name] = ActivityDetails{
			Description:     a.Description,
			Schedule:        a.Schedule,
			MaxParticipants: a.MaxParticipants,
			Participants:    participants,
		}
	}
	return result, nil
}

// Signup enrolls email in the named activity, creating the participant on first use.
func (s *Service) Signup(ctx context.Context, activityName, email string) (Enrollment, error) {
	email = strings.TrimSpace(email)

	var result Enrollment
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		activity, err := s.repo.GetActivityForUpdate(txCtx, activityName)
		if err != nil {
			return err
		}
		if activity == nil {
			return newError(KindNotFound, activityName, email)
		}
		if email == "" {
			return newError(KindInvalidInput, activityName, email)
		}

		participant, err := s.repo.FindParticipant(txCtx, email)
		if err != nil {
			return err
		}
		if participant != nil {
			enrolled, err := s.repo.IsEnrolled(txCtx, activity.ID, participant.ID)
			if err != nil {
				return err
			}
			if enrolled {
				return newError(KindAlreadyEnrolled, activityName, email)
			}
		}

		count, err := s.repo.CountEnrollments(txCtx, activity.ID)
		if err != nil {
			return err
		}
		if !activity.HasCapacityFor(count) {
			return newError(KindCapacityExceeded, activityName, email)
		}

		created := false
		if participant == nil {
			p, err := s.repo.CreateParticipant(txCtx, email)
			if err != nil {
				return err
			}
			participant = &p
			created = true
		}

		now := s.now()
		if err := s.repo.AddEnrollment(txCtx, activity.ID, participant.ID, now); err != nil {
			return err
		}

		result = Enrollment{
			ActivityName:       activity.Name,
			Email:              email,
			ParticipantCreated: created,
			EnrolledCount:      count + 1,
			OccurredAt:         now,
		}
		return s.repo.AppendEvent(txCtx, eventFor(EventSignedUp, result))
	})
	if err != nil {
		return Enrollment{}, err
	}

	s.logger.Info().
		Str("activity", result.ActivityName).
		Str("email", result.Email).
		Bool("participant_created", result.ParticipantCreated).
		Int("enrolled", result.EnrolledCount).
		Msg("participant signed up")
	return result, nil
}

// Unregister removes email from the named activity. The participant record is kept.
func (s *Service) Unregister(ctx context.Context, activityName, email string) (Enrollment, error) {
	email = strings.TrimSpace(email)

	var result Enrollment
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		activity, err := s.repo.GetActivityForUpdate(txCtx, activityName)
		if err != nil {
			return err
		}
		if activity == nil {
			return newError(KindNotFound, activityName, email)
		}
		if email == "" {
			return newError(KindInvalidInput, activityName, email)
		}

		participant, err := s.repo.FindParticipant(txCtx, email)
		if err != nil {
			return err
		}
		if participant == nil {
			return newError(KindNotEnrolled, activityName, email)
		}

		removed, err := s.repo.RemoveEnrollment(txCtx, activity.ID, participant.ID)
		if err != nil {
			return err
		}
		if !removed {
			return newError(KindNotEnrolled, activityName, email)
		}

		count, err := s.repo.CountEnrollments(txCtx, activity.ID)
		if err != nil {
			return err
		}

		result = Enrollment{
			ActivityName:  activity.Name,
			Email:         email,
			EnrolledCount: count,
			OccurredAt:    s.now(),
		}
		return s.repo.AppendEvent(txCtx, eventFor(EventUnregistered, result))
	})
	if err != nil {
		return Enrollment{}, err
	}

	s.logger.Info().
		Str("activity", result.ActivityName).
		Str("email", result.Email).
		Int("enrolled", result.EnrolledCount).
		Msg("participant unregistered")
	return result, nil
}

func eventFor(eventType EnrollmentEventType, e Enrollment) EnrollmentEvent {
	return EnrollmentEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		ActivityName:  e.ActivityName,
		Email:         e.Email,
		EnrolledCount: e.EnrolledCount,
		OccurredAt:    e.OccurredAt,
	}
}
