//go:build container

package registrations_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/registrations"
	"github.com/campuspass/backend/internal/testhelpers"
)

type createOutcome struct {
	studentID uuid.UUID
	err       error
}

func createConcurrently(repo *registrations.Repository, eventID uuid.UUID, students []uuid.UUID, now time.Time) []createOutcome {
	out := make([]createOutcome, len(students))
	var wg sync.WaitGroup
	for i, s := range students {
		wg.Add(1)
		go func(i int, s uuid.UUID) {
			defer wg.Done()
			reg := &models.Registration{StudentID: s, EventID: eventID, Token: uuid.NewString()}
			_, err := repo.Create(context.Background(), reg, now)
			out[i] = createOutcome{studentID: s, err: err}
		}(i, s)
	}
	wg.Wait()
	return out
}

func TestRepository_Postgres(t *testing.T) {
	pool := testhelpers.StartPostgres(t)
	repo := registrations.NewRepository(pool)
	ctx := context.Background()
	now := time.Now()
	tomorrow := now.Add(24 * time.Hour)
	admin := testhelpers.SeedUser(t, pool, models.RoleAdmin)

	t.Run("capacity holds under concurrent registrations", func(t *testing.T) {
		const capacity, attempts = 3, 12
		ev := testhelpers.SeedEvent(t, pool, admin, tomorrow, capacity, 0, models.EventStatusUpcoming)
		students := make([]uuid.UUID, attempts)
		for i := range students {
			students[i] = testhelpers.SeedUser(t, pool, models.RoleStudent)
		}

		var ok, full int
		for _, o := range createConcurrently(repo, ev, students, now) {
			switch {
			case o.err == nil:
				ok++
			case errors.Is(o.err, events.ErrEventFull):
				full++
			default:
				t.Errorf("unexpected error: %v", o.err)
			}
		}
		assert.Equal(t, capacity, ok)
		assert.Equal(t, attempts-capacity, full)
		assert.Equal(t, capacity, testhelpers.Seats(t, pool, ev))
		total, _, err := repo.CountByEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, capacity, total, "rejected attempts leave no row behind")
	})

	t.Run("concurrent duplicate for the last seat is AlreadyRegistered", func(t *testing.T) {
		ev := testhelpers.SeedEvent(t, pool, admin, tomorrow, 2, 0, models.EventStatusUpcoming)
		a := testhelpers.SeedUser(t, pool, models.RoleStudent)
		b := testhelpers.SeedUser(t, pool, models.RoleStudent)
		students := []uuid.UUID{a, a, a, a, a, a, a, a, b}

		okBy := map[uuid.UUID]int{}
		var dup int
		for _, o := range createConcurrently(repo, ev, students, now) {
			switch {
			case o.err == nil:
				okBy[o.studentID]++
			case errors.Is(o.err, registrations.ErrAlreadyRegistered):
				dup++
			default:
				t.Errorf("unexpected error: %v", o.err)
			}
		}
		assert.Equal(t, 1, okBy[a])
		assert.Equal(t, 1, okBy[b], "duplicates never hold a seat")
		assert.Equal(t, 7, dup)
		assert.Equal(t, 2, testhelpers.Seats(t, pool, ev))
	})

	t.Run("rejections", func(t *testing.T) {
		student := testhelpers.SeedUser(t, pool, models.RoleStudent)
		ongoing := testhelpers.SeedEvent(t, pool, admin, now.Add(-time.Hour), 5, 0, models.EventStatusOngoing)
		full := testhelpers.SeedEvent(t, pool, admin, tomorrow, 1, 1, models.EventStatusUpcoming)

		tests := []struct {
			name    string
			eventID uuid.UUID
			want    error
		}{
			{"unknown event", uuid.New(), events.ErrEventNotFound},
			{"closed event", ongoing, events.ErrEventClosed},
			{"full event", full, events.ErrEventFull},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				reg := &models.Registration{StudentID: student, EventID: tt.eventID, Token: uuid.NewString()}
				_, err := repo.Create(ctx, reg, now)
				assert.ErrorIs(t, err, tt.want)
				_, err = repo.GetByStudentAndEvent(ctx, student, tt.eventID)
				assert.ErrorIs(t, err, registrations.ErrRegistrationNotFound, "the insert was rolled back")
			})
		}
	})

	t.Run("scan happens once", func(t *testing.T) {
		ev := testhelpers.SeedEvent(t, pool, admin, tomorrow, 5, 0, models.EventStatusUpcoming)
		reg := &models.Registration{StudentID: testhelpers.SeedUser(t, pool, models.RoleStudent), EventID: ev, Token: uuid.NewString()}
		_, err := repo.Create(ctx, reg, now)
		require.NoError(t, err)

		const doors = 10
		var wins int
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i := 0; i < doors; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, err := repo.MarkScanned(context.Background(), reg.ID, admin, time.Now())
				assert.NoError(t, err)
				if won {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		got, err := repo.GetByID(ctx, reg.ID)
		require.NoError(t, err)
		assert.True(t, got.Scanned)
		require.NotNil(t, got.ScannedBy)
		assert.Equal(t, admin, *got.ScannedBy)
	})

	t.Run("withdraw frees the seat with the row", func(t *testing.T) {
		ev := testhelpers.SeedEvent(t, pool, admin, tomorrow, 5, 0, models.EventStatusUpcoming)
		kept := &models.Registration{StudentID: testhelpers.SeedUser(t, pool, models.RoleStudent), EventID: ev, Token: uuid.NewString()}
		gone := &models.Registration{StudentID: testhelpers.SeedUser(t, pool, models.RoleStudent), EventID: ev, Token: uuid.NewString()}
		for _, reg := range []*models.Registration{kept, gone} {
			_, err := repo.Create(ctx, reg, now)
			require.NoError(t, err)
		}
		_, err := repo.MarkScanned(ctx, kept.ID, admin, now)
		require.NoError(t, err)

		require.NoError(t, repo.Withdraw(ctx, gone.ID, ev))
		assert.Equal(t, 1, testhelpers.Seats(t, pool, ev))

		assert.ErrorIs(t, repo.Withdraw(ctx, kept.ID, ev), registrations.ErrCannotCancelScanned)
		assert.ErrorIs(t, repo.Withdraw(ctx, gone.ID, ev), registrations.ErrRegistrationNotFound)
		assert.Equal(t, 1, testhelpers.Seats(t, pool, ev), "failed withdrawals leave the counter alone")
	})
}
