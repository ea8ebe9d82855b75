package registrations

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/passes"
	"github.com/campuspass/backend/pkg/database"
	"github.com/campuspass/backend/pkg/response"
)

// PassView is one entry of "my registrations": the pass, its event and a renderable QR image.
type PassView struct {
	models.RegistrationWithEvent
	QRCodeImage string `json:"qr_code_image,omitempty"`
}

// Handler handles registration HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a registrations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /registrations/:eventId.
func (h *Handler) Register(c *gin.Context) {
	eventID, ok := parseUUID(c, "eventId", "invalid event id")
	if !ok {
		return
	}
	res, err := h.svc.Register(c.Request.Context(), middleware.Principal(c), eventID)
	if err != nil {
		h.fail(c, "register", err)
		return
	}
	response.Created(c, "registration successful", gin.H{
		"registration":  res.Registration,
		"event":         res.Event.Summary(),
		"token":         res.Registration.Token,
		"qr_code_image": h.qrDataURL(res.Registration.ID, res.Registration.Token),
	})
}

// Cancel handles DELETE /registrations/:eventId.
func (h *Handler) Cancel(c *gin.Context) {
	eventID, ok := parseUUID(c, "eventId", "invalid event id")
	if !ok {
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), middleware.Principal(c), eventID); err != nil {
		h.fail(c, "cancel registration", err)
		return
	}
	response.OKWithMessage(c, "registration cancelled", gin.H{"event_id": eventID})
}

// MyRegistrations handles GET /registrations/my-registrations.
func (h *Handler) MyRegistrations(c *gin.Context) {
	list, err := h.svc.ListByStudent(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		h.fail(c, "list registrations", err)
		return
	}
	out := make([]PassView, 0, len(list))
	for _, row := range list {
		out = append(out, PassView{RegistrationWithEvent: row, QRCodeImage: h.qrDataURL(row.ID, row.Token)})
	}
	response.OK(c, out)
}

// EventRegistrations handles GET /registrations/event/:eventId (admin).
func (h *Handler) EventRegistrations(c *gin.Context) {
	eventID, ok := parseUUID(c, "eventId", "invalid event id")
	if !ok {
		return
	}
	list, err := h.svc.ListByEvent(c.Request.Context(), middleware.Principal(c), eventID)
	if err != nil {
		h.fail(c, "list event registrations", err)
		return
	}
	if list == nil {
		list = []models.RegistrationWithStudent{}
	}
	response.OK(c, list)
}

// Export handles GET /registrations/export/:eventId (admin) and responds with a CSV attachment.
func (h *Handler) Export(c *gin.Context) {
	eventID, ok := parseUUID(c, "eventId", "invalid event id")
	if !ok {
		return
	}
	body, err := h.svc.ExportCSV(c.Request.Context(), middleware.Principal(c), eventID)
	if err != nil {
		h.fail(c, "export registrations", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="registrations-%s.csv"`, eventID))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", body)
}

// QRCode handles GET /registrations/pass/:id/qr.png for the pass owner or an admin.
func (h *Handler) QRCode(c *gin.Context) {
	id, ok := parseUUID(c, "id", "invalid registration id")
	if !ok {
		return
	}
	reg, err := h.svc.Pass(c.Request.Context(), middleware.Principal(c), id)
	if err != nil {
		h.fail(c, "get pass", err)
		return
	}
	png, err := passes.RenderPNG(reg.Token, passes.DefaultQRSize)
	if err != nil {
		h.logger.Error("render qr failed", zap.Error(err), zap.String("registration_id", id.String()))
		response.Internal(c, "failed to render pass")
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}

// qrDataURL renders the pass image. A renderer failure only drops the image.
func (h *Handler) qrDataURL(id uuid.UUID, token string) string {
	url, err := passes.DataURL(token)
	if err != nil {
		h.logger.Warn("render qr failed", zap.Error(err), zap.String("registration_id", id.String()))
		return ""
	}
	return url
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, events.ErrEventFull),
		errors.Is(err, events.ErrEventClosed),
		errors.Is(err, ErrCannotCancelScanned):
		response.BadRequest(c, err.Error())
	case errors.Is(err, events.ErrEventNotFound),
		errors.Is(err, ErrRegistrationNotFound),
		errors.Is(err, ErrNoRegistrations):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrStudentsOnly), errors.Is(err, ErrAdminOnly):
		response.Forbidden(c, err.Error())
	case errors.Is(err, database.ErrTimeout):
		h.logger.Warn(op+" timed out", zap.Error(err))
		response.ServiceUnavailable(c, "service temporarily unavailable, retry")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.Internal(c, "failed to "+op)
	}
}

func parseUUID(c *gin.Context, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}
