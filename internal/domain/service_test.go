package domain_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activities/internal/domain"
	"example.com/activities/internal/persistence/memory"
)

func newService(t *testing.T, activities ...domain.Activity) (*domain.Service, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	for _, a := range activities {
		repo.AddActivity(a)
	}
	now := time.Date(2025, time.September, 1, 15, 30, 0, 0, time.UTC)
	return domain.NewService(repo, domain.WithClock(func() time.Time { return now })), repo
}

func capacity(n int) *int { return &n }

func participantsOf(t *testing.T, svc *domain.Service, name string) []string {
	t.Helper()
	activities, err := svc.ListActivities(context.Background())
	require.NoError(t, err)
	details, ok := activities[name]
	require.True(t, ok, "activity %q missing from listing", name)
	return details.Participants
}

func TestChessClubScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, domain.Activity{Name: "Chess Club", MaxParticipants: capacity(2)})

	_, err := svc.Signup(ctx, "Chess Club", "a@x.com")
	require.NoError(t, err)
	require.Equal(t, []string{"a@x.com"}, participantsOf(t, svc, "Chess Club"))

	_, err = svc.Signup(ctx, "Chess Club", "b@x.com")
	require.NoError(t, err)
	require.Len(t, participantsOf(t, svc, "Chess Club"), 2)

	_, err = svc.Signup(ctx, "Chess Club", "c@x.com")
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, err = svc.Unregister(ctx, "Chess Club", "a@x.com")
	require.NoError(t, err)

	_, err = svc.Signup(ctx, "Chess Club", "c@x.com")
	require.NoError(t, err)
	require.Equal(t, []string{"b@x.com", "c@x.com"}, participantsOf(t, svc, "Chess Club"))
}

func TestSignup(t *testing.T) {
	ctx := context.Background()

	t.Run("second signup for the same pair is rejected", func(t *testing.T) {
		svc, _ := newService(t, domain.Activity{Name: "Art Club"})

		enrollment, err := svc.Signup(ctx, "Art Club", "a@x.com")
		require.NoError(t, err)
		require.True(t, enrollment.ParticipantCreated)
		require.Equal(t, 1, enrollment.EnrolledCount)

		_, err = svc.Signup(ctx, "Art Club", "a@x.com")
		require.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
		kind, ok := domain.KindOf(err)
		require.True(t, ok)
		require.Equal(t, domain.KindAlreadyEnrolled, kind)
	})

	t.Run("already enrolled wins over capacity", func(t *testing.T) {
		svc, _ := newService(t, domain.Activity{Name: "Math Club", MaxParticipants: capacity(1)})

		_, err := svc.Signup(ctx, "Math Club", "a@x.com")
		require.NoError(t, err)

		_, err = svc.Signup(ctx, "Math Club", "a@x.com")
		require.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
	})

	t.Run("unknown activity is not found regardless of email", func(t *testing.T) {
		svc, _ := newService(t, domain.Activity{Name: "Art Club"})

		for _, email := range []string{"a@x.com", "", "   ", "not-an-email"} {
			_, err := svc.Signup(ctx, "Underwater Basket Weaving", email)
			require.ErrorIs(t, err, domain.ErrActivityNotFound, "email %q", email)
		}
	})

	t.Run("empty email is invalid input", func(t *testing.T) {
		svc, repo := newService(t, domain.Activity{Name: "Art Club"})

		_, err := svc.Signup(ctx, "Art Club", "  ")
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		require.Zero(t, repo.ParticipantCount())
	})

	t.Run("existing participant is reused across activities", func(t *testing.T) {
		svc, repo := newService(t, domain.Activity{Name: "Art Club"}, domain.Activity{Name: "Drama Club"})

		_, err := svc.Signup(ctx, "Art Club", "a@x.com")
		require.NoError(t, err)
		enrollment, err := svc.Signup(ctx, "Drama Club", "a@x.com")
		require.NoError(t, err)
		require.False(t, enrollment.ParticipantCreated)
		require.Equal(t, 1, repo.ParticipantCount())
	})

	t.Run("unlimited activity accepts everyone", func(t *testing.T) {
		svc, _ := newService(t, domain.Activity{Name: "Library Volunteers"})

		for i := 0; i < 50; i++ {
			_, err := svc.Signup(ctx, "Library Volunteers", fmt.Sprintf("s%d@x.com", i))
			require.NoError(t, err)
		}
		require.Len(t, participantsOf(t, svc, "Library Volunteers"), 50)
	})

	t.Run("records a signed up event", func(t *testing.T) {
		svc, repo := newService(t, domain.Activity{Name: "Art Club"})

		_, err := svc.Signup(ctx, "Art Club", "a@x.com")
		require.NoError(t, err)

		events := repo.Events()
		require.Len(t, events, 1)
		require.Equal(t, domain.EventSignedUp, events[0].Type)
		require.Equal(t, "Art Club", events[0].ActivityName)
		require.Equal(t, "a@x.com", events[0].Email)
		require.Equal(t, 1, events[0].EnrolledCount)
		require.NotEmpty(t, events[0].ID)
	})
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()

	t.Run("never enrolled email is not enrolled", func(t *testing.T) {
		svc, _ := newService(t, domain.Activity{Name: "Art Club"})

		_, err := svc.Unregister(ctx, "Art Club", "ghost@x.com")
		require.ErrorIs(t, err, domain.ErrNotEnrolled)
	})

	t.Run("participant enrolled elsewhere is not enrolled here", func(t *testing.T) {
		svc, _ := newService(t, domain.Activity{Name: "Art Club"}, domain.Activity{Name: "Drama Club"})

		_, err := svc.Signup(ctx, "Drama Club", "a@x.com")
		require.NoError(t, err)

		_, err = svc.Unregister(ctx, "Art Club", "a@x.com")
		require.ErrorIs(t, err, domain.ErrNotEnrolled)
	})

	t.Run("unknown activity is not found", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.Unregister(ctx, "Nope", "a@x.com")
		require.ErrorIs(t, err, domain.ErrActivityNotFound)
	})

	t.Run("signup unregister signup succeeds and keeps participant", func(t *testing.T) {
		svc, repo := newService(t, domain.Activity{Name: "Art Club", MaxParticipants: capacity(1)})

		_, err := svc.Signup(ctx, "Art Club", "a@x.com")
		require.NoError(t, err)

		enrollment, err := svc.Unregister(ctx, "Art Club", "a@x.com")
		require.NoError(t, err)
		require.Zero(t, enrollment.EnrolledCount)
		require.Equal(t, 1, repo.ParticipantCount())
		require.Empty(t, participantsOf(t, svc, "Art Club"))

		_, err = svc.Signup(ctx, "Art Club", "a@x.com")
		require.NoError(t, err)
		require.Equal(t, []string{"a@x.com"}, participantsOf(t, svc, "Art Club"))

		events := repo.Events()
		require.Len(t, events, 3)
		require.Equal(t, domain.EventUnregistered, events[1].Type)
	})
}

func TestConcurrentSignupsNeverExceedCapacity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, domain.Activity{Name: "Basketball Team", MaxParticipants: capacity(5)})

	const attempts = 40
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		full      int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half of the attempts reuse an email to race duplicate enrollment too.
			_, err := svc.Signup(ctx, "Basketball Team", fmt.Sprintf("s%d@x.com", i%(attempts/2)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrCapacityExceeded), errors.Is(err, domain.ErrAlreadyEnrolled):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	require.Equal(t, attempts-5, full)
	participants := participantsOf(t, svc, "Basketball Team")
	require.Len(t, participants, 5)

	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		_, dup := seen[p]
		require.False(t, dup, "participant %s enrolled twice", p)
		seen[p] = struct{}{}
	}
}

func TestStoreFailureRollsBackParticipant(t *testing.T) {
	ctx := context.Background()
	repo := &failingEnrollmentRepo{Repository: memory.NewRepository(), err: errors.New("disk full")}
	repo.AddActivity(domain.Activity{Name: "Art Club"})
	svc := domain.NewService(repo)

	_, err := svc.Signup(ctx, "Art Club", "a@x.com")
	require.ErrorIs(t, err, repo.err)
	_, known := domain.KindOf(err)
	require.False(t, known)

	p, err := repo.FindParticipant(ctx, "a@x.com")
	require.NoError(t, err)
	require.Nil(t, p, "participant must not outlive a failed enrollment")
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "Activity not found", domain.ErrActivityNotFound.Error())
	require.Equal(t, "Student is already signed up", domain.ErrAlreadyEnrolled.Error())
	require.Equal(t, "Activity is full", domain.ErrCapacityExceeded.Error())
	require.Equal(t, "Student is not signed up for this activity", domain.ErrNotEnrolled.Error())

	wrapped := fmt.Errorf("signup: %w", &domain.Error{Kind: domain.KindNotFound, Activity: "X"})
	require.ErrorIs(t, wrapped, domain.ErrActivityNotFound)
	require.NotErrorIs(t, wrapped, domain.ErrNotEnrolled)
}

type failingEnrollmentRepo struct {
	*memory.Repository
	err error
}

func (r *failingEnrollmentRepo) AddEnrollment(context.Context, int64, int64, time.Time) error {
	return r.err
}
