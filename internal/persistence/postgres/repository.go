package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activities/internal/domain"
)

// Repository provides Postgres-backed persistence for activities, participants,
// enrollments and the enrollment outbox.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx implements domain.Repository.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// ListActivities returns every activity with participants in enrollment order.
func (r *Repository) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	const query = `SELECT a.id, a.name, COALESCE(a.description, ''), COALESCE(a.schedule, ''), a.max_participants,
        COALESCE(array_agg(p.email ORDER BY ap.seq) FILTER (WHERE p.email IS NOT NULL), '{}')
        FROM activities a
        LEFT JOIN activity_participants ap ON ap.activity_id = a.id
        LEFT JOIN participants p ON p.id = ap.participant_id
        GROUP BY a.id
        ORDER BY a.name`

	rows, err := r.q(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Schedule, &a.MaxParticipants, &a.Participants); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return results, nil
}

// GetActivityForUpdate looks an activity up by name and, inside WithTx, locks
// its row until the transaction ends. Absent activities return nil, nil.
func (r *Repository) GetActivityForUpdate(ctx context.Context, name string) (*domain.Activity, error) {
	query := `SELECT id, name, COALESCE(description, ''), COALESCE(schedule, ''), max_participants
        FROM activities WHERE name = $1`
	if txFromContext(ctx) != nil {
		query += ` FOR UPDATE`
	}

	var a domain.Activity
	err := r.q(ctx).QueryRow(ctx, query, name).Scan(&a.ID, &a.Name, &a.Description, &a.Schedule, &a.MaxParticipants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return &a, nil
}

// FindParticipant looks a participant up by email.
func (r *Repository) FindParticipant(ctx context.Context, email string) (*domain.Participant, error) {
	var p domain.Participant
	err := r.q(ctx).QueryRow(ctx, `SELECT id, email FROM participants WHERE email = $1`, email).Scan(&p.ID, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find participant: %w", err)
	}
	return &p, nil
}

// CreateParticipant inserts a participant, returning the existing row when a
// concurrent request created the same email first.
func (r *Repository) CreateParticipant(ctx context.Context, email string) (domain.Participant, error) {
	const stmt = `INSERT INTO participants (email) VALUES ($1)
        ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
        RETURNING id, email`

	var p domain.Participant
	if err := r.q(ctx).QueryRow(ctx, stmt, email).Scan(&p.ID, &p.Email); err != nil {
		return domain.Participant{}, fmt.Errorf("create participant: %w", err)
	}
	return p, nil
}

// IsEnrolled reports whether the pair already has an enrollment row.
func (r *Repository) IsEnrolled(ctx context.Context, activityID, participantID int64) (bool, error) {
	var enrolled bool
	err := r.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM activity_participants WHERE activity_id = $1 AND participant_id = $2)`,
		activityID, participantID,
	).Scan(&enrolled)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return enrolled, nil
}

// CountEnrollments returns the number of participants enrolled in an activity.
func (r *Repository) CountEnrollments(ctx context.Context, activityID int64) (int, error) {
	var count int
	if err := r.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM activity_participants WHERE activity_id = $1`, activityID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// AddEnrollment links a participant to an activity.
func (r *Repository) AddEnrollment(ctx context.Context, activityID, participantID int64, at time.Time) error {
	_, err := r.q(ctx).Exec(ctx,
		`INSERT INTO activity_participants (activity_id, participant_id, enrolled_at) VALUES ($1, $2, $3)`,
		activityID, participantID, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyEnrolled
		}
		return fmt.Errorf("add enrollment: %w", err)
	}
	return nil
}

// RemoveEnrollment deletes the pair, reporting whether a row existed.
func (r *Repository) RemoveEnrollment(ctx context.Context, activityID, participantID int64) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx,
		`DELETE FROM activity_participants WHERE activity_id = $1 AND participant_id = $2`,
		activityID, participantID,
	)
	if err != nil {
		return false, fmt.Errorf("remove enrollment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendEvent records the event in the outbox for asynchronous delivery.
func (r *Repository) AppendEvent(ctx context.Context, event domain.EnrollmentEvent) error {
	body, err := json.Marshal(enrollmentPayload{
		EventID:       event.ID,
		ActivityName:  event.ActivityName,
		Email:         event.Email,
		EnrolledCount: event.EnrolledCount,
		OccurredAt:    event.OccurredAt,
	})
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = r.q(ctx).Exec(ctx, stmt,
		"activity",
		event.ActivityName,
		string(event.Type),
		meta.Topic,
		meta.SchemaSubject,
		event.ActivityName,
		body,
		fmt.Sprintf("%s:%s", event.ID, event.Type),
	)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func (r *Repository) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

type enrollmentPayload struct {
	EventID       string    `json:"event_id"`
	ActivityName  string    `json:"activity_name"`
	Email         string    `json:"email"`
	EnrolledCount int       `json:"enrolled_count"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

// Both event types share one topic so consumers see a per-activity ordered stream.
var eventCatalog = map[domain.EnrollmentEventType]EventMetadata{
	domain.EventSignedUp: {
		Topic:         "activity_enrollments",
		SchemaSubject: "activity_enrollments-value",
	},
	domain.EventUnregistered: {
		Topic:         "activity_enrollments",
		SchemaSubject: "activity_enrollments-value",
	},
}
