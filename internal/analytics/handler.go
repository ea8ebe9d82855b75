// Package analytics reports attendance figures for an event.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/database"
	"github.com/campuspass/backend/pkg/response"
)

// EventReader loads an event.
type EventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// RegistrationCounter counts registrations and scans of an event.
type RegistrationCounter interface {
	CountByEvent(ctx context.Context, eventID uuid.UUID) (total, scanned int, err error)
}

// Handler handles GET /events/:id/analytics.
type Handler struct {
	events        EventReader
	registrations RegistrationCounter
	timeout       time.Duration
	logger        *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(events EventReader, registrations RegistrationCounter, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{events: events, registrations: registrations, timeout: timeout, logger: logger}
}

// SummaryResponse is the JSON shape for event analytics.
type SummaryResponse struct {
	EventID            uuid.UUID          `json:"event_id"`
	Status             models.EventStatus `json:"status"`
	Capacity           int                `json:"capacity"`
	SeatsLeft          int                `json:"seats_left"`
	TotalRegistrations int                `json:"total_registrations"`
	TotalAttended      int                `json:"total_attended"`
	TotalNoShow        int                `json:"total_no_show"`
	FillRate           float64            `json:"fill_rate"`
	AttendanceRate     *float64           `json:"attendance_rate,omitempty"`
}

// Summarize builds the summary from an event and its registration counts.
func Summarize(e *models.Event, total, attended int) SummaryResponse {
	out := SummaryResponse{
		EventID:            e.ID,
		Status:             e.Status,
		Capacity:           e.Capacity,
		SeatsLeft:          e.Capacity - e.CurrentRegistrations,
		TotalRegistrations: total,
		TotalAttended:      attended,
		TotalNoShow:        total - attended,
	}
	if out.SeatsLeft < 0 {
		out.SeatsLeft = 0
	}
	if e.Capacity > 0 {
		out.FillRate = float64(total) / float64(e.Capacity)
	}
	// No-shows are only known once the doors have opened.
	if total > 0 && e.Status != models.EventStatusUpcoming {
		rate := float64(attended) / float64(total)
		out.AttendanceRate = &rate
	}
	return out
}

// GetByEvent handles GET /events/:id/analytics (admin only, enforced by route middleware).
func (h *Handler) GetByEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}

	ctx, cancel := database.Bounded(c.Request.Context(), h.timeout)
	defer cancel()

	e, err := h.events.GetByID(ctx, id)
	if err != nil {
		h.fail(c, "load event", err)
		return
	}
	total, attended, err := h.registrations.CountByEvent(ctx, id)
	if err != nil {
		h.fail(c, "load registration counts", err)
		return
	}
	response.OK(c, Summarize(e, total, attended))
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	err = database.Timeout(err)
	switch {
	case errors.Is(err, events.ErrEventNotFound):
		response.NotFound(c, events.ErrEventNotFound.Error())
	case errors.Is(err, database.ErrTimeout):
		h.logger.Warn(op+" timed out", zap.Error(err))
		response.ServiceUnavailable(c, "service temporarily unavailable, retry")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.Internal(c, "failed to "+op)
	}
}
