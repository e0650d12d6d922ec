package domain

import "time"

// Activity is an extracurricular offering. MaxParticipants is nil when the
// activity has no capacity limit.
type Activity struct {
	ID              int64
	Name            string
	Description     string
	Schedule        string
	MaxParticipants *int
	Participants    []string
}

// HasCapacityFor reports whether one more participant fits given the current count.
func (a Activity) HasCapacityFor(enrolled int) bool {
	if a.MaxParticipants == nil {
		return true
	}
	return enrolled < *a.MaxParticipants
}

// Participant is a student identified by email.
type Participant struct {
	ID    int64
	Email string
}

// ActivityDetails is the listing view of a single activity.
type ActivityDetails struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants *int     `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// Enrollment confirms a committed signup or unregister.
type Enrollment struct {
	ActivityName       string
	Email              string
	ParticipantCreated bool
	EnrolledCount      int
	OccurredAt         time.Time
}

// EnrollmentEventType names the events recorded for enrollment changes.
type EnrollmentEventType string

const (
	EventSignedUp     EnrollmentEventType = "enrollment.signed_up"
	EventUnregistered EnrollmentEventType = "enrollment.unregistered"
)

// EnrollmentEvent is appended to the outbox in the same transaction as the change it describes.
type EnrollmentEvent struct {
	ID            string
	Type          EnrollmentEventType
	ActivityName  string
	Email         string
	EnrolledCount int
	OccurredAt    time.Time
}
