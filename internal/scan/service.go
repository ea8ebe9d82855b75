// Package scan verifies passes at the door and records attendance exactly once.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
	"github.com/campuspass/backend/internal/passes"
	"github.com/campuspass/backend/internal/registrations"
	"github.com/campuspass/backend/pkg/database"
)

var (
	ErrAlreadyScanned = errors.New("QR code already used")
	ErrAdminOnly      = errors.New("admin access required")
)

// AlreadyScannedError carries the original scan so the door sees who got in and when.
type AlreadyScannedError struct {
	ScannedAt    time.Time
	Registration models.Registration
}

func (e *AlreadyScannedError) Error() string {
	return fmt.Sprintf("%s at %s", ErrAlreadyScanned, e.ScannedAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAlreadyScanned) hold.
func (e *AlreadyScannedError) Is(target error) bool { return target == ErrAlreadyScanned }

// Store is the registration persistence the verifier needs.
type Store interface {
	FindByToken(ctx context.Context, studentID, eventID uuid.UUID, token string) (*models.Registration, error)
	MarkScanned(ctx context.Context, id, scannedBy uuid.UUID, at time.Time) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
}

// Verifier decodes tokens.
type Verifier interface {
	Verify(token string) (*passes.Claim, error)
}

// Service is the scan verifier.
type Service struct {
	store     Store
	verifier  Verifier
	broadcast notifications.Broadcaster
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a scan service. timeout bounds each store call.
func NewService(store Store, verifier Verifier, broadcast notifications.Broadcaster, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcast == nil {
		broadcast = notifications.Discard{}
	}
	return &Service{store: store, verifier: verifier, broadcast: broadcast, timeout: timeout, now: time.Now, logger: logger}
}

// Scan checks token against its stored registration and marks it attended.
// It returns passes.ErrInvalidToken, registrations.ErrRegistrationNotFound or an
// *AlreadyScannedError when the pass cannot be admitted.
func (s *Service) Scan(ctx context.Context, p models.Principal, token string) (*models.Registration, error) {
	if !p.IsAdmin() {
		return nil, ErrAdminOnly
	}
	claim, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Info("scan rejected: invalid token", zap.String("admin_id", p.UserID.String()))
		return nil, passes.ErrInvalidToken
	}

	ctx, cancel := database.Bounded(ctx, s.timeout)
	defer cancel()

	reg, err := s.store.FindByToken(ctx, claim.StudentID, claim.EventID, token)
	if err != nil {
		if errors.Is(err, registrations.ErrRegistrationNotFound) {
			s.logger.Info("scan rejected: no matching registration",
				zap.String("student_id", claim.StudentID.String()),
				zap.String("event_id", claim.EventID.String()),
			)
		}
		return nil, database.Timeout(err)
	}
	if reg.Scanned {
		return nil, alreadyScanned(reg)
	}

	at := s.now().UTC().Truncate(time.Microsecond)
	won, err := s.store.MarkScanned(ctx, reg.ID, p.UserID, at)
	if err != nil {
		return nil, database.Timeout(fmt.Errorf("mark scanned: %w", err))
	}
	if !won {
		// Another scan committed first; report its timestamp.
		current, err := s.store.GetByID(ctx, reg.ID)
		if err != nil {
			return nil, database.Timeout(err)
		}
		return nil, alreadyScanned(current)
	}

	reg.Scanned = true
	reg.ScannedAt = &at
	reg.ScannedBy = &p.UserID
	s.logger.Info("pass scanned",
		zap.String("registration_id", reg.ID.String()),
		zap.String("event_id", reg.EventID.String()),
		zap.String("admin_id", p.UserID.String()),
	)
	s.broadcast.ToUsers([]uuid.UUID{reg.StudentID}, notifications.Notice{
		Message: "Your pass was scanned. Enjoy the event!",
		Type:    models.NotificationOther,
		EventID: &reg.EventID,
	})
	return reg, nil
}

func alreadyScanned(reg *models.Registration) error {
	e := &AlreadyScannedError{Registration: *reg}
	if reg.ScannedAt != nil {
		e.ScannedAt = *reg.ScannedAt
	}
	return e
}
