// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"example.com/activities/internal/domain"
)

// DefaultEventLimit bounds the enrollment events kept in memory.
const DefaultEventLimit = 1024

type txKey struct{}

// txState is the private copy a WithTx callback mutates. Events are buffered
// separately so rollback never has to touch the retained history.
type txState struct {
	state  *state
	events []domain.EnrollmentEvent
}

type enrollment struct {
	participantID int64
	enrolledAt    time.Time
}

type state struct {
	activities         map[int64]domain.Activity
	activityByName     map[string]int64
	participants       map[int64]string
	participantByEmail map[string]int64
	enrollments        map[int64][]enrollment
	nextActivity       int64
	nextParticipant    int64
}

func newState() *state {
	return &state{
		activities:         make(map[int64]domain.Activity),
		activityByName:     make(map[string]int64),
		participants:       make(map[int64]string),
		participantByEmail: make(map[string]int64),
		enrollments:        make(map[int64][]enrollment),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, a := range s.activities {
		c.activities[id] = a
	}
	for name, id := range s.activityByName {
		c.activityByName[name] = id
	}
	for id, email := range s.participants {
		c.participants[id] = email
	}
	for email, id := range s.participantByEmail {
		c.participantByEmail[email] = id
	}
	for id, list := range s.enrollments {
		c.enrollments[id] = append([]enrollment(nil), list...)
	}
	c.nextActivity = s.nextActivity
	c.nextParticipant = s.nextParticipant
	return c
}

// Repository implements domain.Repository with copy-on-write state. Writers
// serialize on mu and publish a new state on commit; readers load the
// published state without locking, so they never wait on a transaction.
type Repository struct {
	mu      sync.Mutex
	current atomic.Pointer[state]

	eventsMu   sync.Mutex
	events     []domain.EnrollmentEvent
	eventLimit int
}

// Option configures a Repository.
type Option func(*Repository)

// WithEventLimit caps the retained enrollment events; older events are
// dropped first. Non-positive limits keep no events.
func WithEventLimit(n int) Option {
	return func(r *Repository) {
		r.eventLimit = n
	}
}

// NewRepository constructs an empty Repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{eventLimit: DefaultEventLimit}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(newState())
	return r
}

// NewSeededRepository constructs a Repository holding the default catalogue.
func NewSeededRepository(opts ...Option) *Repository {
	r := NewRepository(opts...)
	for _, a := range DefaultCatalog() {
		r.AddActivity(a)
	}
	return r
}

// AddActivity stores an activity and returns it with its assigned ID. An
// existing activity with the same name is replaced, keeping its enrollments.
func (r *Repository) AddActivity(a domain.Activity) domain.Activity {
	r.write(context.Background(), func(s *state) {
		if id, ok := s.activityByName[a.Name]; ok {
			a.ID = id
		} else {
			s.nextActivity++
			a.ID = s.nextActivity
		}
		if a.MaxParticipants != nil {
			limit := *a.MaxParticipants
			a.MaxParticipants = &limit
		}
		a.Participants = nil
		s.activities[a.ID] = a
		s.activityByName[a.Name] = a.ID
	})
	return a
}

// Events returns the retained enrollment events, oldest first.
func (r *Repository) Events() []domain.EnrollmentEvent {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	return append([]domain.EnrollmentEvent(nil), r.events...)
}

// ParticipantCount returns the number of participant records, enrolled or not.
func (r *Repository) ParticipantCount() int {
	return len(r.current.Load().participants)
}

// WithTx implements domain.Repository. The callback works on a private copy
// that replaces the published state only when it returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &txState{state: r.current.Load().clone()}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	r.current.Store(tx.state)
	r.recordEvents(tx.events...)
	return nil
}

// ListActivities implements domain.Repository.
func (r *Repository) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	var out []domain.Activity
	r.read(ctx, func(s *state) {
		out = make([]domain.Activity, 0, len(s.activities))
		for id, a := range s.activities {
			list := s.enrollments[id]
			a.Participants = make([]string, 0, len(list))
			for _, e := range list {
				a.Participants = append(a.Participants, s.participants[e.participantID])
			}
			out = append(out, a)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetActivityForUpdate implements domain.Repository. Outside WithTx it is a plain lookup.
func (r *Repository) GetActivityForUpdate(ctx context.Context, name string) (*domain.Activity, error) {
	var found *domain.Activity
	r.read(ctx, func(s *state) {
		id, ok := s.activityByName[name]
		if !ok {
			return
		}
		a := s.activities[id]
		found = &a
	})
	return found, nil
}

// FindParticipant implements domain.Repository.
func (r *Repository) FindParticipant(ctx context.Context, email string) (*domain.Participant, error) {
	var found *domain.Participant
	r.read(ctx, func(s *state) {
		if id, ok := s.participantByEmail[email]; ok {
			found = &domain.Participant{ID: id, Email: email}
		}
	})
	return found, nil
}

// CreateParticipant implements domain.Repository. Creating an existing email returns the stored record.
func (r *Repository) CreateParticipant(ctx context.Context, email string) (domain.Participant, error) {
	var p domain.Participant
	r.write(ctx, func(s *state) {
		if id, ok := s.participantByEmail[email]; ok {
			p = domain.Participant{ID: id, Email: email}
			return
		}
		s.nextParticipant++
		p = domain.Participant{ID: s.nextParticipant, Email: email}
		s.participants[p.ID] = email
		s.participantByEmail[email] = p.ID
	})
	return p, nil
}

// IsEnrolled implements domain.Repository.
func (r *Repository) IsEnrolled(ctx context.Context, activityID, participantID int64) (bool, error) {
	var enrolled bool
	r.read(ctx, func(s *state) {
		enrolled = indexOf(s.enrollments[activityID], participantID) >= 0
	})
	return enrolled, nil
}

// CountEnrollments implements domain.Repository.
func (r *Repository) CountEnrollments(ctx context.Context, activityID int64) (int, error) {
	var count int
	r.read(ctx, func(s *state) {
		count = len(s.enrollments[activityID])
	})
	return count, nil
}

// AddEnrollment implements domain.Repository.
func (r *Repository) AddEnrollment(ctx context.Context, activityID, participantID int64, at time.Time) error {
	var err error
	r.write(ctx, func(s *state) {
		if _, ok := s.activities[activityID]; !ok {
			err = domain.ErrActivityNotFound
			return
		}
		if indexOf(s.enrollments[activityID], participantID) >= 0 {
			err = domain.ErrAlreadyEnrolled
			return
		}
		s.enrollments[activityID] = append(s.enrollments[activityID], enrollment{participantID: participantID, enrolledAt: at})
	})
	return err
}

// RemoveEnrollment implements domain.Repository.
func (r *Repository) RemoveEnrollment(ctx context.Context, activityID, participantID int64) (bool, error) {
	var removed bool
	r.write(ctx, func(s *state) {
		list := s.enrollments[activityID]
		idx := indexOf(list, participantID)
		if idx < 0 {
			return
		}
		s.enrollments[activityID] = append(list[:idx:idx], list[idx+1:]...)
		removed = true
	})
	return removed, nil
}

// AppendEvent implements domain.Repository. Inside WithTx the event is kept
// until commit.
func (r *Repository) AppendEvent(ctx context.Context, event domain.EnrollmentEvent) error {
	if tx := txFromContext(ctx); tx != nil {
		tx.events = append(tx.events, event)
		return nil
	}
	r.recordEvents(event)
	return nil
}

func (r *Repository) recordEvents(events ...domain.EnrollmentEvent) {
	if len(events) == 0 {
		return
	}
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()

	if r.eventLimit <= 0 {
		return
	}
	r.events = append(r.events, events...)
	if over := len(r.events) - r.eventLimit; over > 0 {
		r.events = append(r.events[:0], r.events[over:]...)
	}
}

func (r *Repository) read(ctx context.Context, fn func(*state)) {
	if tx := txFromContext(ctx); tx != nil {
		fn(tx.state)
		return
	}
	fn(r.current.Load())
}

// write applies fn to the transaction copy, or outside WithTx to a fresh copy
// that is published immediately.
func (r *Repository) write(ctx context.Context, fn func(*state)) {
	if tx := txFromContext(ctx); tx != nil {
		fn(tx.state)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	fn(next)
	r.current.Store(next)
}

func txFromContext(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

func indexOf(list []enrollment, participantID int64) int {
	for i, e := range list {
		if e.participantID == participantID {
			return i
		}
	}
	return -1
}
