package scan

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/passes"
	"github.com/campuspass/backend/internal/registrations"
	"github.com/campuspass/backend/pkg/database"
	"github.com/campuspass/backend/pkg/response"
)

// ScanRequest is the body for POST /scan.
type ScanRequest struct {
	Token string `json:"token" binding:"required"`
}

// Handler handles the door scanner endpoint.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a scan handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Scan handles POST /scan (admin only).
func (h *Handler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg, err := h.svc.Scan(c.Request.Context(), middleware.Principal(c), req.Token)
	if err != nil {
		var used *AlreadyScannedError
		switch {
		case errors.As(err, &used):
			response.BadRequestWithData(c, ErrAlreadyScanned.Error(), gin.H{
				"scanned_at":   used.ScannedAt,
				"registration": used.Registration,
			})
		case errors.Is(err, passes.ErrInvalidToken):
			response.BadRequest(c, "invalid QR code")
		case errors.Is(err, registrations.ErrRegistrationNotFound):
			response.NotFound(c, registrations.ErrRegistrationNotFound.Error())
		case errors.Is(err, ErrAdminOnly):
			response.Forbidden(c, ErrAdminOnly.Error())
		case errors.Is(err, database.ErrTimeout):
			h.logger.Warn("scan timed out", zap.Error(err))
			response.ServiceUnavailable(c, "service temporarily unavailable, retry")
		default:
			h.logger.Error("scan failed", zap.Error(err))
			response.Internal(c, "server error during scan")
		}
		return
	}
	response.OKWithMessage(c, "entry verified successfully", gin.H{"registration": reg})
}
