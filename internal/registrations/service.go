// Package registrations manages student registrations, their passes and rosters.
package registrations

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
	"github.com/campuspass/backend/pkg/database"
)

var (
	ErrAlreadyRegistered    = errors.New("already registered for this event")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrNoRegistrations      = errors.New("no registrations found for this event")
	ErrCannotCancelScanned  = errors.New("a scanned registration cannot be cancelled")
	ErrStudentsOnly         = errors.New("only students can register for events")
	ErrAdminOnly            = errors.New("admin access required")
)

// csvHeader is the fixed column order of roster exports.
var csvHeader = []string{"Name", "Email", "RollNumber", "RegisteredAt", "Status"}

// Store is the registration persistence the service needs. Create and Withdraw move
// the row and the event's seat counter together.
type Store interface {
	Create(ctx context.Context, reg *models.Registration, now time.Time) (*models.Event, error)
	Withdraw(ctx context.Context, id, eventID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	GetByStudentAndEvent(ctx context.Context, studentID, eventID uuid.UUID) (*models.Registration, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]models.RegistrationWithEvent, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.RegistrationWithStudent, error)
}

// EventReader loads events.
type EventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Issuer signs pass tokens.
type Issuer interface {
	Issue(studentID, eventID uuid.UUID) (string, error)
}

// Result is a freshly created registration and the event as it stands after the seat was taken.
type Result struct {
	Registration models.Registration
	Event        models.Event
}

// Service implements registration, cancellation, rosters and exports.
type Service struct {
	store     Store
	events    EventReader
	issuer    Issuer
	broadcast notifications.Broadcaster
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a registrations service. timeout bounds each store call.
func NewService(store Store, events EventReader, issuer Issuer, broadcast notifications.Broadcaster, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcast == nil {
		broadcast = notifications.Discard{}
	}
	return &Service{
		store:     store,
		events:    events,
		issuer:    issuer,
		broadcast: broadcast,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger,
	}
}

// Register creates a pass for the calling student: sign a token, then store the row and
// take a seat together. A duplicate never holds a seat, so it cannot turn another
// student away with ErrEventFull.
func (s *Service) Register(ctx context.Context, p models.Principal, eventID uuid.UUID) (*Result, error) {
	if !p.IsStudent() {
		return nil, ErrStudentsOnly
	}
	token, err := s.issuer.Issue(p.UserID, eventID)
	if err != nil {
		return nil, fmt.Errorf("issue pass: %w", err)
	}

	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()

	reg := &models.Registration{StudentID: p.UserID, EventID: eventID, Token: token}
	event, err := s.store.Create(ctx, reg, s.now())
	if err != nil {
		return nil, database.Timeout(err)
	}

	s.logger.Info("student registered",
		zap.String("registration_id", reg.ID.String()),
		zap.String("event_id", eventID.String()),
		zap.String("student_id", p.UserID.String()),
	)
	s.broadcast.ToRole(models.RoleAdmin, notifications.Notice{
		Message: fmt.Sprintf("New registration for %s (%d/%d seats taken)", event.Title, event.CurrentRegistrations, event.Capacity),
		Type:    models.NotificationOther,
		EventID: &event.ID,
	})
	return &Result{Registration: *reg, Event: *event}, nil
}

// Cancel withdraws the calling student's unscanned registration for an upcoming event
// and frees the seat.
func (s *Service) Cancel(ctx context.Context, p models.Principal, eventID uuid.UUID) error {
	if !p.IsStudent() {
		return ErrStudentsOnly
	}
	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()

	reg, err := s.store.GetByStudentAndEvent(ctx, p.UserID, eventID)
	if err != nil {
		return database.Timeout(err)
	}
	if reg.Scanned {
		return ErrCannotCancelScanned
	}
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return database.Timeout(err)
	}
	if !event.OpenForRegistration(s.now()) {
		return events.ErrEventClosed
	}
	if err := s.store.Withdraw(ctx, reg.ID, eventID); err != nil {
		return database.Timeout(err)
	}
	s.logger.Info("registration cancelled", zap.String("registration_id", reg.ID.String()), zap.String("event_id", eventID.String()))
	return nil
}

// ListByStudent returns the calling student's passes, newest first.
func (s *Service) ListByStudent(ctx context.Context, p models.Principal) ([]models.RegistrationWithEvent, error) {
	if !p.IsStudent() {
		return nil, ErrStudentsOnly
	}
	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()
	list, err := s.store.ListByStudent(ctx, p.UserID)
	if err != nil {
		return nil, database.Timeout(err)
	}
	return list, nil
}

// ListByEvent returns the roster of an event for an admin, newest first.
func (s *Service) ListByEvent(ctx context.Context, p models.Principal, eventID uuid.UUID) ([]models.RegistrationWithStudent, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, database.Timeout(err)
	}
	list, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, database.Timeout(err)
	}
	return list, nil
}

// ExportCSV renders the roster of an event as CSV with a fixed header row.
func (s *Service) ExportCSV(ctx context.Context, p models.Principal, eventID uuid.UUID) ([]byte, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()
	list, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, database.Timeout(err)
	}
	if len(list) == 0 {
		return nil, ErrNoRegistrations
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range list {
		status := "Pending"
		if row.Scanned {
			status = "Scanned"
		}
		record := []string{
			orDash(row.Student.Name),
			orDash(row.Student.Email),
			orDash(row.Student.RollNumber),
			row.CreatedAt.UTC().Format(time.RFC3339),
			status,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Pass returns a registration visible to the caller: its owner or any admin.
func (s *Service) Pass(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Registration, error) {
	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()
	reg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, database.Timeout(err)
	}
	if !p.IsAdmin() && reg.StudentID != p.UserID {
		return nil, ErrRegistrationNotFound
	}
	return reg, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
