package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/database"
)

const (
	// uniqueStudentEvent is the constraint that makes (student, event) a natural key.
	uniqueStudentEvent = "registrations_student_event_key"
	eventForeignKey    = "registrations_event_id_fkey"
)

const registrationColumns = `r.id, r.student_id, r.event_id, r.token, r.scanned, r.scanned_at, r.scanned_by, r.created_at`

// Repository handles registration persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRegistration(row pgx.Row, extra ...interface{}) (*models.Registration, error) {
	var reg models.Registration
	dest := append([]interface{}{&reg.ID, &reg.StudentID, &reg.EventID, &reg.Token, &reg.Scanned, &reg.ScannedAt, &reg.ScannedBy, &reg.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// Create stores reg and takes its seat in one transaction. The row is written first, so a
// concurrent duplicate of the same student waits on the unique index, then fails with
// ErrAlreadyRegistered once the first attempt commits, without having held a seat. It
// returns the event as it stands after the reservation.
func (r *Repository) Create(ctx context.Context, reg *models.Registration, now time.Time) (*models.Event, error) {
	var event *models.Event
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insert = `INSERT INTO registrations (id, student_id, event_id, token)
			VALUES (gen_random_uuid(), $1, $2, $3)
			RETURNING id, scanned, created_at`
		err := tx.QueryRow(ctx, insert, reg.StudentID, reg.EventID, reg.Token).Scan(&reg.ID, &reg.Scanned, &reg.CreatedAt)
		switch {
		case database.IsUniqueViolation(err, uniqueStudentEvent):
			return ErrAlreadyRegistered
		case database.IsForeignKeyViolation(err, eventForeignKey):
			return events.ErrEventNotFound
		case err != nil:
			return fmt.Errorf("insert registration: %w", err)
		}
		event, err = events.Reserve(ctx, tx, reg.EventID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// GetByID returns a registration by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations r WHERE r.id = $1`, id))
}

// GetByStudentAndEvent returns the registration of a student for an event.
func (r *Repository) GetByStudentAndEvent(ctx context.Context, studentID, eventID uuid.UUID) (*models.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations r
		WHERE r.student_id = $1 AND r.event_id = $2`, studentID, eventID))
}

// FindByToken returns the registration matching the decoded claim and the exact stored token.
func (r *Repository) FindByToken(ctx context.Context, studentID, eventID uuid.UUID, token string) (*models.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations r
		WHERE r.student_id = $1 AND r.event_id = $2 AND r.token = $3`, studentID, eventID, token))
}

// MarkScanned records attendance only if the registration is still unscanned.
// It reports whether this call made the transition.
func (r *Repository) MarkScanned(ctx context.Context, id, scannedBy uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE registrations SET scanned = TRUE, scanned_at = $3, scanned_by = $2
		WHERE id = $1 AND scanned = FALSE`, id, scannedBy, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Withdraw deletes an unscanned registration and gives its seat back to eventID in one
// transaction, so the counter never drifts from the rows.
func (r *Repository) Withdraw(ctx context.Context, id, eventID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM registrations WHERE id = $1 AND event_id = $2 AND scanned = FALSE`, id, eventID)
		if err != nil {
			return fmt.Errorf("delete registration: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := scanRegistration(tx.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations r
				WHERE r.id = $1 AND r.event_id = $2`, id, eventID)); err != nil {
				return err
			}
			return ErrCannotCancelScanned
		}
		return events.Release(ctx, tx, eventID)
	})
}

// ListByStudent returns a student's registrations with their event, newest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.RegistrationWithEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+registrationColumns+`, e.id, e.title, e.date, e.venue, e.poster_url, e.status
		FROM registrations r JOIN events e ON e.id = r.event_id
		WHERE r.student_id = $1 ORDER BY r.created_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.RegistrationWithEvent
	for rows.Next() {
		var ev models.EventSummary
		reg, err := scanRegistration(rows, &ev.ID, &ev.Title, &ev.Date, &ev.Venue, &ev.PosterURL, &ev.Status)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		list = append(list, models.RegistrationWithEvent{Registration: *reg, Event: ev})
	}
	return list, rows.Err()
}

// ListByEvent returns an event's registrations with their student, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.RegistrationWithStudent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+registrationColumns+`, u.id, u.name, u.email,
		COALESCE(u.roll_number,''), COALESCE(u.profile_pic_url,'')
		FROM registrations r JOIN users u ON u.id = r.student_id
		WHERE r.event_id = $1 ORDER BY r.created_at DESC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.RegistrationWithStudent
	for rows.Next() {
		var st models.StudentSummary
		reg, err := scanRegistration(rows, &st.ID, &st.Name, &st.Email, &st.RollNumber, &st.ProfilePicURL)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		list = append(list, models.RegistrationWithStudent{Registration: *reg, Student: st})
	}
	return list, rows.Err()
}

// ListStudentIDsByEvent returns the students registered for an event.
func (r *Repository) ListStudentIDsByEvent(ctx context.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT student_id FROM registrations WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// CountByEvent returns how many students registered for an event and how many were scanned in.
func (r *Repository) CountByEvent(ctx context.Context, eventID uuid.UUID) (total, scanned int, err error) {
	const q = `SELECT COUNT(*), COUNT(*) FILTER (WHERE scanned) FROM registrations WHERE event_id = $1`
	err = r.pool.QueryRow(ctx, q, eventID).Scan(&total, &scanned)
	return total, scanned, err
}
