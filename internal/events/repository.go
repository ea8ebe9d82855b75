// Package events owns the event entity and its capacity ledger.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/database"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrEventFull     = errors.New("event is full")
	// ErrEventClosed means the event is no longer upcoming or has already started.
	ErrEventClosed                = errors.New("event is closed for registration")
	ErrCapacityBelowRegistrations = errors.New("capacity cannot be lower than current registrations")
)

const eventColumns = `id, title, description, date, venue, capacity, current_registrations,
	poster_url, created_by, status, scheduled_for_deletion, created_at, updated_at`

// Repository handles event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an event repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Venue, &e.Capacity, &e.CurrentRegistrations,
		&e.PosterURL, &e.CreatedBy, &e.Status, &e.ScheduledForDeletion, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *Repository) queryEvents(ctx context.Context, q string, args ...interface{}) ([]models.Event, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// Create inserts a new upcoming event.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (id, title, description, date, venue, capacity, poster_url, created_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, current_registrations, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.Title, e.Description, e.Date, e.Venue, e.Capacity, e.PosterURL, e.CreatedBy).
		Scan(&e.ID, &e.CurrentRegistrations, &e.Status, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// List returns events ordered by date. An empty status lists every event.
func (r *Repository) List(ctx context.Context, status models.EventStatus) ([]models.Event, error) {
	if status == "" {
		return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date ASC`)
	}
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE status = $1 ORDER BY date ASC`, status)
}

// Update overwrites the admin-editable fields. The capacity may not drop below the
// seats already taken; status and scheduled_for_deletion are left alone.
func (r *Repository) Update(ctx context.Context, e *models.Event) error {
	const q = `UPDATE events SET title = $2, description = $3, date = $4, venue = $5, capacity = $6,
		poster_url = $7, updated_at = NOW()
		WHERE id = $1 AND current_registrations <= $6
		RETURNING ` + eventColumns
	updated, err := scanEvent(r.pool.QueryRow(ctx, q, e.ID, e.Title, e.Description, e.Date, e.Venue, e.Capacity, e.PosterURL))
	if errors.Is(err, ErrEventNotFound) {
		if _, getErr := r.GetByID(ctx, e.ID); getErr != nil {
			return getErr
		}
		return ErrCapacityBelowRegistrations
	}
	if err != nil {
		return err
	}
	*e = *updated
	return nil
}

// SetPoster stores the poster URL of an event.
func (r *Repository) SetPoster(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE events SET poster_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Reserve takes one seat of event id in a single conditional update run on q, which may be
// the caller's transaction. It fails with ErrEventNotFound, ErrEventClosed or ErrEventFull
// when no seat was taken.
func Reserve(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) (*models.Event, error) {
	const reserve = `UPDATE events SET current_registrations = current_registrations + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'upcoming' AND date > $2 AND current_registrations < capacity
		RETURNING ` + eventColumns
	e, err := scanEvent(q.QueryRow(ctx, reserve, id, now))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, ErrEventNotFound) {
		return nil, fmt.Errorf("reserve seat: %w", err)
	}
	current, err := scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return nil, classifyRejection(current, now)
}

// classifyRejection explains why a reservation against e could not be made.
func classifyRejection(e *models.Event, now time.Time) error {
	if !e.OpenForRegistration(now) {
		return ErrEventClosed
	}
	return ErrEventFull
}

// Release gives back one seat of event id on q. It never drives the counter below zero.
func Release(ctx context.Context, q database.Querier, id uuid.UUID) error {
	const release = `UPDATE events SET current_registrations = current_registrations - 1, updated_at = NOW()
		WHERE id = $1 AND current_registrations > 0`
	if _, err := q.Exec(ctx, release, id); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// ListDueForPromotion returns upcoming events whose start time has been reached.
func (r *Repository) ListDueForPromotion(ctx context.Context, now time.Time) ([]models.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events
		WHERE status = 'upcoming' AND date <= $1 ORDER BY date ASC`, now)
}

// Promote moves an upcoming event to ongoing. It reports false if the event was not upcoming.
func (r *Repository) Promote(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE events SET status = 'ongoing', updated_at = NOW()
		WHERE id = $1 AND status = 'upcoming'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListDueForCompletion returns ongoing events whose start time has passed.
func (r *Repository) ListDueForCompletion(ctx context.Context, now time.Time) ([]models.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events
		WHERE status = 'ongoing' AND date < $1 ORDER BY date ASC`, now)
}

// Complete moves an ongoing event to completed and schedules its deletion.
// It reports false if the event was not ongoing.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, deleteAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE events SET status = 'completed', scheduled_for_deletion = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'ongoing'`, id, deleteAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListDueForPurge returns events whose scheduled deletion time has been reached.
func (r *Repository) ListDueForPurge(ctx context.Context, now time.Time) ([]models.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events
		WHERE scheduled_for_deletion IS NOT NULL AND scheduled_for_deletion <= $1
		ORDER BY scheduled_for_deletion ASC`, now)
}

// ListStartingBetween returns upcoming events starting in [from, to].
func (r *Repository) ListStartingBetween(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events
		WHERE status = 'upcoming' AND date >= $1 AND date <= $2 ORDER BY date ASC`, from, to)
}

// Purge deletes an event in one transaction: its registrations are removed, its
// notifications are kept but marked deleted, then the event row goes.
func (r *Repository) Purge(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM registrations WHERE event_id = $1`, id); err != nil {
			return fmt.Errorf("delete registrations: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE notifications SET deleted = TRUE WHERE event_id = $1 AND deleted = FALSE`, id); err != nil {
			return fmt.Errorf("mark notifications deleted: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEventNotFound
		}
		return nil
	})
}
