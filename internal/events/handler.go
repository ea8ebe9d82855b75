package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
	"github.com/campuspass/backend/pkg/database"
	"github.com/campuspass/backend/pkg/response"
	"github.com/campuspass/backend/pkg/storage"
)

// CreateRequest is the body for POST /events.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
	Date        string `json:"date" binding:"required"` // RFC3339
	Venue       string `json:"venue" binding:"required"`
	Capacity    int    `json:"capacity" binding:"required,min=1"`
	PosterURL   string `json:"poster_url"`
}

// UpdateRequest is the body for PUT /events/:id. Omitted fields keep their value.
type UpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Date        *string `json:"date"`
	Venue       *string `json:"venue"`
	Capacity    *int    `json:"capacity" binding:"omitempty,min=1"`
	PosterURL   *string `json:"poster_url"`
}

// Store is the event persistence the handler needs.
type Store interface {
	Create(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context, status models.EventStatus) ([]models.Event, error)
	Update(ctx context.Context, e *models.Event) error
	SetPoster(ctx context.Context, id uuid.UUID, url string) error
	Purge(ctx context.Context, id uuid.UUID) error
}

// ImageUploader stores poster images and returns their public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Handler handles event HTTP endpoints.
type Handler struct {
	store     Store
	posters   ImageUploader
	broadcast notifications.Broadcaster
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewHandler creates an events handler. posters may be nil when no blob store is configured.
func NewHandler(store Store, posters ImageUploader, broadcast notifications.Broadcaster, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcast == nil {
		broadcast = notifications.Discard{}
	}
	return &Handler{store: store, posters: posters, broadcast: broadcast, timeout: timeout, now: time.Now, logger: logger}
}

// List handles GET /events. Optional ?status= filters by lifecycle state.
func (h *Handler) List(c *gin.Context) {
	status := models.EventStatus(c.Query("status"))
	switch status {
	case "", models.EventStatusUpcoming, models.EventStatusOngoing, models.EventStatusCompleted, models.EventStatusArchived:
	default:
		response.BadRequest(c, "invalid status")
		return
	}
	ctx, cancel := database.Bounded(c.Request.Context(), h.timeout)
	defer cancel()
	list, err := h.store.List(ctx, status)
	if err != nil {
		h.fail(c, "list events", err)
		return
	}
	if list == nil {
		list = []models.Event{}
	}
	response.OK(c, list)
}

// GetByID handles GET /events/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx, cancel := database.Bounded(c.Request.Context(), h.timeout)
	defer cancel()
	e, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.fail(c, "get event", err)
		return
	}
	response.OK(c, e)
}

// Create handles POST /events (admin only). Every student is told about the new event.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		response.BadRequest(c, "invalid date")
		return
	}
	if !date.After(h.now()) {
		response.BadRequest(c, "date must be in the future")
		return
	}

	e := &models.Event{
		Title:       req.Title,
		Description: req.Description,
		Date:        date,
		Venue:       req.Venue,
		Capacity:    req.Capacity,
		PosterURL:   req.PosterURL,
		CreatedBy:   middleware.Principal(c).UserID,
	}
	ctx, cancel := database.Bounded(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.store.Create(ctx, e); err != nil {
		h.fail(c, "create event", err)
		return
	}

	h.broadcast.ToRole(models.RoleStudent, notifications.Notice{
		Message: fmt.Sprintf("New event: %s on %s at %s", e.Title, e.Date.Format(time.RFC1123), e.Venue),
		Type:    models.NotificationNewEvent,
		EventID: &e.ID,
	})
	response.Created(c, "event created successfully", e)
}

// Update handles PUT /events/:id (admin only). Registered students are told about the change.
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ctx, cancel := database.Bounded(c.Request.Context(), h.timeout)
	defer cancel()
	e, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.fail(c, "get event", err)
		return
	}
	if req.Title != nil {
		e.Title = *req.Title
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Date != nil {
		date, err := time.Parse(time.RFC3339, *req.Date)
		if err != nil {
			response.BadRequest(c, "invalid date")
			return
		}
		e.Date = date
	}
	if req.Venue != nil {
		e.Venue = *req.Venue
	}
	if req.Capacity != nil {
		e.Capacity = *req.Capacity
	}
	if req.PosterURL != nil {
		e.PosterURL = *req.PosterURL
	}

	if err := h.store.Update(ctx, e); err != nil {
		h.fail(c, "update event", err)
		return
	}

	h.broadcast.ToAttendees(e.ID, notifications.Notice{
		Message: fmt.Sprintf("Event updated: %s, %s at %s", e.Title, e.Date.Format(time.RFC1123), e.Venue),
		Type:    models.NotificationEventUpdate,
		EventID: &e.ID,
	})
	response.OKWithMessage(c, "event updated successfully", e)
}

// Delete handles DELETE /events/:id (admin only). Registrations go with the event;
// notifications about it are kept and marked deleted.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx, cancel := database.Bounded(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.store.Purge(ctx, id); err != nil {
		h.fail(c, "delete event", err)
		return
	}
	response.OKWithMessage(c, "event deleted successfully", gin.H{"id": id})
}

// UploadPoster handles POST /events/:id/poster (admin only, multipart field "poster").
func (h *Handler) UploadPoster(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if h.posters == nil {
		response.ServiceUnavailable(c, "poster storage is not configured")
		return
	}
	fh, err := c.FormFile("poster")
	if err != nil {
		response.BadRequest(c, "poster file required")
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if !storage.ValidateImageType(contentType, fh.Filename) {
		response.BadRequest(c, "poster must be a jpeg, png, gif or webp image")
		return
	}
	if fh.Size > storage.MaxImageSize {
		response.BadRequest(c, "poster exceeds 5MB")
		return
	}
	contentType = storage.ImageContentType(contentType, fh.Filename)

	ctx, cancel := database.Bounded(c.Request.Context(), h.timeout)
	defer cancel()
	if _, err := h.store.GetByID(ctx, id); err != nil {
		h.fail(c, "get event", err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable poster file")
		return
	}
	defer f.Close()
	url, err := h.posters.UploadImage(c.Request.Context(), storage.PosterKey(id, fh.Filename), contentType, f, fh.Size)
	if err != nil {
		h.logger.Error("poster upload failed", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "failed to upload poster")
		return
	}
	if err := h.store.SetPoster(ctx, id, url); err != nil {
		h.fail(c, "set poster", err)
		return
	}
	response.OK(c, gin.H{"id": id, "poster_url": url})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	err = database.Timeout(err)
	switch {
	case errors.Is(err, ErrEventNotFound):
		response.NotFound(c, ErrEventNotFound.Error())
	case errors.Is(err, ErrCapacityBelowRegistrations):
		response.BadRequest(c, ErrCapacityBelowRegistrations.Error())
	case errors.Is(err, database.ErrTimeout):
		h.logger.Warn(op+" timed out", zap.Error(err))
		response.ServiceUnavailable(c, "service temporarily unavailable, retry")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.Internal(c, "failed to "+op)
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return uuid.Nil, false
	}
	return id, true
}
