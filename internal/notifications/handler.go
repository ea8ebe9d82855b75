package notifications

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/response"
)

// Store is the persistence the handler needs.
type Store interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Handler handles notification HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// List handles GET /notifications.
func (h *Handler) List(c *gin.Context) {
	p := middleware.Principal(c)
	list, err := h.store.ListByUser(c.Request.Context(), p.UserID)
	if err != nil {
		h.logger.Error("list notifications failed", zap.Error(err), zap.String("user_id", p.UserID.String()))
		response.Internal(c, "failed to list notifications")
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	response.OK(c, list)
}

// MarkRead handles PATCH /notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	p := middleware.Principal(c)
	if err := h.store.MarkRead(c.Request.Context(), id, p.UserID); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			response.NotFound(c, "notification not found")
			return
		}
		h.logger.Error("mark notification read failed", zap.Error(err))
		response.Internal(c, "failed to update notification")
		return
	}
	response.OK(c, gin.H{"id": id, "read": true})
}

// MarkAllRead handles PATCH /notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	p := middleware.Principal(c)
	n, err := h.store.MarkAllRead(c.Request.Context(), p.UserID)
	if err != nil {
		h.logger.Error("mark all notifications read failed", zap.Error(err))
		response.Internal(c, "failed to update notifications")
		return
	}
	response.OK(c, gin.H{"updated": n})
}
