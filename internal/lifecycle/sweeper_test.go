package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/lifecycle"
	"github.com/campuspass/backend/internal/memstore"
	"github.com/campuspass/backend/internal/models"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *memstore.DB, e models.Event, students int) models.Event {
	t.Helper()
	ctx := context.Background()
	if e.Capacity == 0 {
		e.Capacity = 50
	}
	e = db.Events().Put(e)
	for i := 0; i < students; i++ {
		require.NoError(t, db.Registrations().Insert(ctx, &models.Registration{StudentID: uuid.New(), EventID: e.ID, Token: uuid.NewString()}))
		eventID := e.ID
		require.NoError(t, db.Notifications().Insert(ctx, &models.Notification{
			UserID: uuid.New(), Message: "see you", Type: models.NotificationReminder, EventID: &eventID,
		}))
	}
	return e
}

func get(t *testing.T, db *memstore.DB, id uuid.UUID) (*models.Event, error) {
	t.Helper()
	return db.Events().GetByID(context.Background(), id)
}

func TestSweeper_CatchUpInOnePass(t *testing.T) {
	tests := []struct {
		name   string
		status models.EventStatus
		want   lifecycle.Report
	}{
		{"never promoted", models.EventStatusUpcoming, lifecycle.Report{Promoted: 1, Completed: 1, Purged: 1}},
		{"left ongoing", models.EventStatusOngoing, lifecycle.Report{Completed: 1, Purged: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memstore.New()
			e := seed(t, db, models.Event{Title: "Old fest", Date: now.Add(-8 * 24 * time.Hour), Status: tt.status}, 3)
			sw := lifecycle.NewSweeper(db.Events(), lifecycle.DefaultGracePeriod, time.Second, zaptest.NewLogger(t))

			assert.Equal(t, tt.want, sw.RunOnce(context.Background(), now))

			_, err := get(t, db, e.ID)
			assert.ErrorIs(t, err, events.ErrEventNotFound)
			assert.Equal(t, 0, db.Registrations().Count(e.ID))
			notes := db.Notifications().ListByEvent(e.ID)
			require.Len(t, notes, 3, "notifications are kept")
			for _, n := range notes {
				assert.True(t, n.Deleted)
			}
		})
	}
}

func TestSweeper_StatusNeverMovesBackwards(t *testing.T) {
	db := memstore.New()
	future := seed(t, db, models.Event{Title: "Later", Date: now.Add(time.Hour), Status: models.EventStatusUpcoming}, 1)
	starting := seed(t, db, models.Event{Title: "Right now", Date: now, Status: models.EventStatusUpcoming}, 1)
	started := seed(t, db, models.Event{Title: "This morning", Date: now.Add(-3 * time.Hour), Status: models.EventStatusUpcoming}, 1)
	sw := lifecycle.NewSweeper(db.Events(), lifecycle.DefaultGracePeriod, time.Second, zaptest.NewLogger(t))

	rep := sw.RunOnce(context.Background(), now)
	assert.Equal(t, lifecycle.Report{Promoted: 2, Completed: 1}, rep)

	e, err := get(t, db, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusUpcoming, e.Status)

	e, err = get(t, db, starting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusOngoing, e.Status, "an event starting now is ongoing, not yet completed")

	e, err = get(t, db, started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, e.Status)
	require.NotNil(t, e.ScheduledForDeletion)
	assert.True(t, started.Date.Add(lifecycle.DefaultGracePeriod).Equal(*e.ScheduledForDeletion))
	assert.Equal(t, 1, db.Registrations().Count(started.ID), "registrations survive until purge")

	assert.Equal(t, lifecycle.Report{}, sw.RunOnce(context.Background(), now), "a second pass at the same instant is a no-op")

	later := now.Add(lifecycle.DefaultGracePeriod)
	rep = sw.RunOnce(context.Background(), later)
	assert.Equal(t, lifecycle.Report{Promoted: 1, Completed: 2, Purged: 2}, rep)
	for _, id := range []uuid.UUID{started.ID, starting.ID} {
		_, err = get(t, db, id)
		assert.ErrorIs(t, err, events.ErrEventNotFound)
	}
	e, err = get(t, db, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, e.Status)
}

type flakyPurge struct {
	*memstore.EventStore
	fail map[uuid.UUID]error
}

func (s flakyPurge) Purge(ctx context.Context, id uuid.UUID) error {
	if err, ok := s.fail[id]; ok {
		return err
	}
	return s.EventStore.Purge(ctx, id)
}

func TestSweeper_FailureIsolation(t *testing.T) {
	db := memstore.New()
	deleteAt := now.Add(-time.Hour)
	done := func(title string) models.Event {
		return seed(t, db, models.Event{
			Title: title, Date: now.Add(-8 * 24 * time.Hour), Status: models.EventStatusCompleted, ScheduledForDeletion: &deleteAt,
		}, 1)
	}
	broken, gone, fine := done("broken"), done("gone"), done("fine")

	store := flakyPurge{EventStore: db.Events(), fail: map[uuid.UUID]error{
		broken.ID: errors.New("deadlock detected"),
		gone.ID:   events.ErrEventNotFound,
	}}
	sw := lifecycle.NewSweeper(store, lifecycle.DefaultGracePeriod, time.Second, zaptest.NewLogger(t))

	assert.Equal(t, lifecycle.Report{Purged: 1, Failed: 1}, sw.RunOnce(context.Background(), now))

	_, err := get(t, db, fine.ID)
	assert.ErrorIs(t, err, events.ErrEventNotFound)
	_, err = get(t, db, broken.ID)
	assert.NoError(t, err, "retried on the next pass")

	delete(store.fail, broken.ID)
	assert.Equal(t, lifecycle.Report{Purged: 1}, sw.RunOnce(context.Background(), now))
}

type slowStore struct {
	*memstore.EventStore
}

func (slowStore) ListDueForPromotion(ctx context.Context, _ time.Time) ([]models.Event, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSweeper_TimedOutStepDoesNotBlockOthers(t *testing.T) {
	db := memstore.New()
	deleteAt := now.Add(-time.Minute)
	e := seed(t, db, models.Event{Title: "x", Date: now.Add(-8 * 24 * time.Hour), Status: models.EventStatusCompleted, ScheduledForDeletion: &deleteAt}, 0)
	sw := lifecycle.NewSweeper(slowStore{db.Events()}, lifecycle.DefaultGracePeriod, 10*time.Millisecond, zaptest.NewLogger(t))

	assert.Equal(t, lifecycle.Report{Purged: 1, Failed: 1}, sw.RunOnce(context.Background(), now))
	_, err := get(t, db, e.ID)
	assert.ErrorIs(t, err, events.ErrEventNotFound)
}
