// Package lifecycle runs the time-driven jobs: the event status sweep and reminders.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/database"
)

// DefaultGracePeriod is how long a completed event is kept before it is purged.
const DefaultGracePeriod = 7 * 24 * time.Hour

// Store is the event persistence the sweeper drives.
type Store interface {
	ListDueForPromotion(ctx context.Context, now time.Time) ([]models.Event, error)
	Promote(ctx context.Context, id uuid.UUID) (bool, error)
	ListDueForCompletion(ctx context.Context, now time.Time) ([]models.Event, error)
	Complete(ctx context.Context, id uuid.UUID, deleteAt time.Time) (bool, error)
	ListDueForPurge(ctx context.Context, now time.Time) ([]models.Event, error)
	Purge(ctx context.Context, id uuid.UUID) error
}

// Report counts what one sweep pass did.
type Report struct {
	Promoted  int
	Completed int
	Purged    int
	Failed    int
}

// Sweeper advances events upcoming -> ongoing -> completed and purges them once their
// grace period is over. Each step re-reads the store, so an event far in the past goes
// through every step in a single pass.
type Sweeper struct {
	store   Store
	grace   time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewSweeper creates a sweeper. timeout bounds each store call.
func NewSweeper(store Store, grace, timeout time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Sweeper{store: store, grace: grace, timeout: timeout, logger: logger}
}

// RunOnce performs one sweep pass at now. A failure on one event is logged and the
// pass moves on; the event is picked up again by the next pass.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) Report {
	var rep Report

	for _, e := range s.list(ctx, "promotion", now, s.store.ListDueForPromotion, &rep) {
		ok, err := s.apply(ctx, func(ctx context.Context) (bool, error) { return s.store.Promote(ctx, e.ID) })
		if err != nil {
			rep.Failed++
			s.logger.Error("promote event failed", zap.String("event_id", e.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			rep.Promoted++
		}
	}

	for _, e := range s.list(ctx, "completion", now, s.store.ListDueForCompletion, &rep) {
		deleteAt := e.Date.Add(s.grace)
		ok, err := s.apply(ctx, func(ctx context.Context) (bool, error) { return s.store.Complete(ctx, e.ID, deleteAt) })
		if err != nil {
			rep.Failed++
			s.logger.Error("complete event failed", zap.String("event_id", e.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			rep.Completed++
		}
	}

	for _, e := range s.list(ctx, "purge", now, s.store.ListDueForPurge, &rep) {
		_, err := s.apply(ctx, func(ctx context.Context) (bool, error) { return true, s.store.Purge(ctx, e.ID) })
		switch {
		case errors.Is(err, events.ErrEventNotFound):
			// Deleted by an admin since it was listed.
		case err != nil:
			rep.Failed++
			s.logger.Error("purge event failed", zap.String("event_id", e.ID.String()), zap.Error(err))
		default:
			rep.Purged++
			s.logger.Info("event purged", zap.String("event_id", e.ID.String()), zap.String("title", e.Title))
		}
	}

	s.logger.Info("lifecycle sweep done",
		zap.Time("now", now),
		zap.Int("promoted", rep.Promoted),
		zap.Int("completed", rep.Completed),
		zap.Int("purged", rep.Purged),
		zap.Int("failed", rep.Failed),
	)
	return rep
}

func (s *Sweeper) list(ctx context.Context, step string, now time.Time, fn func(context.Context, time.Time) ([]models.Event, error), rep *Report) []models.Event {
	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()
	list, err := fn(ctx, now)
	if err != nil {
		rep.Failed++
		s.logger.Error("list events due for "+step+" failed", zap.Error(database.Timeout(err)))
		return nil
	}
	return list
}

func (s *Sweeper) apply(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()
	ok, err := fn(ctx)
	return ok, database.Timeout(err)
}
