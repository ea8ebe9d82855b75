package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/response"
	"github.com/campuspass/backend/pkg/storage"
	"github.com/campuspass/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register (JSON or multipart with profile_pic).
type RegisterRequest struct {
	Name       string `json:"name" form:"name" binding:"required"`
	Email      string `json:"email" form:"email" binding:"required,email"`
	Password   string `json:"password" form:"password" binding:"required,min=6"`
	Role       string `json:"role" form:"role"` // optional, defaults to student
	RollNumber string `json:"roll_number" form:"roll_number"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ProfileRequest is the body for PUT /auth/profile. Empty fields are left unchanged.
type ProfileRequest struct {
	Name       string `json:"name" form:"name"`
	Email      string `json:"email" form:"email" binding:"omitempty,email"`
	RollNumber string `json:"roll_number" form:"roll_number"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// UserStore is the user persistence the handler needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	UpdateProfile(ctx context.Context, u *models.User) error
}

// ImageStore uploads and removes profile pictures.
type ImageStore interface {
	UploadImage(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	DeleteImage(ctx context.Context, key string) error
	KeyFromURL(url string) string
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   UserStore
	jwt    *JWTService
	images ImageStore
	logger *zap.Logger
}

// NewHandler creates an auth handler. images may be nil, in which case profile pictures are ignored.
func NewHandler(repo UserStore, jwt *JWTService, images ImageStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, images: images, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := models.RoleStudent
	if req.Role != "" {
		role = models.Role(req.Role)
		if !role.Valid() {
			response.BadRequest(c, ErrInvalidRole.Error())
			return
		}
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user := &models.User{
		Name:     strings.TrimSpace(req.Name),
		Email:    req.Email,
		Password: hash,
		Role:     role,
	}
	if role == models.RoleStudent {
		user.RollNumber = strings.TrimSpace(req.RollNumber)
	}
	user.ProfilePicURL = h.uploadProfilePic(c)

	if err := h.repo.Create(c.Request.Context(), user); err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrRollNumberTaken):
			response.BadRequest(c, "user with this email or roll number already exists")
		default:
			h.logger.Error("create user failed", zap.Error(err))
			response.Internal(c, "failed to create user")
		}
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	response.Created(c, "user registered successfully", TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("login lookup failed", zap.Error(err))
		}
		response.Unauthorized(c, ErrInvalidCredentials.Error())
		return
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, ErrInvalidCredentials.Error())
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, response.Body{Success: true, Message: "login successful", Data: TokenResponse{Token: token, User: user.ToPublic()}})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.Principal(c).UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Internal(c, "failed to fetch user")
		return
	}
	response.OK(c, gin.H{"user": user.ToPublic()})
}

// UpdateProfile handles PUT /auth/profile. A new profile picture replaces the old object.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	user, err := h.repo.GetByID(ctx, middleware.Principal(c).UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Internal(c, "failed to fetch user")
		return
	}

	if req.Name != "" {
		user.Name = strings.TrimSpace(req.Name)
	}
	if req.Email != "" {
		user.Email = req.Email
	}
	if req.RollNumber != "" && user.Role == models.RoleStudent {
		user.RollNumber = strings.TrimSpace(req.RollNumber)
	}
	oldPic := user.ProfilePicURL
	if url := h.uploadProfilePic(c); url != "" {
		user.ProfilePicURL = url
	}

	if err := h.repo.UpdateProfile(ctx, user); err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrRollNumberTaken):
			response.BadRequest(c, "user with this email or roll number already exists")
		default:
			h.logger.Error("update profile failed", zap.Error(err), zap.String("user_id", user.ID.String()))
			response.Internal(c, "failed to update profile")
		}
		return
	}
	if oldPic != "" && oldPic != user.ProfilePicURL && h.images != nil {
		if key := h.images.KeyFromURL(oldPic); key != "" {
			if err := h.images.DeleteImage(ctx, key); err != nil {
				h.logger.Warn("delete old profile picture failed", zap.Error(err), zap.String("key", key))
			}
		}
	}
	response.OKWithMessage(c, "profile updated successfully", gin.H{"user": user.ToPublic()})
}

// uploadProfilePic stores the optional profile_pic form file and returns its URL.
// Blob store failures are logged and the request proceeds without a picture.
func (h *Handler) uploadProfilePic(c *gin.Context) string {
	if h.images == nil || c.ContentType() != "multipart/form-data" {
		return ""
	}
	fh, err := c.FormFile("profile_pic")
	if err != nil {
		return ""
	}
	contentType := fh.Header.Get("Content-Type")
	if fh.Size > storage.MaxImageSize || !storage.ValidateImageType(contentType, fh.Filename) {
		h.logger.Info("profile picture rejected", zap.String("filename", fh.Filename), zap.Int64("size", fh.Size))
		return ""
	}
	f, err := fh.Open()
	if err != nil {
		return ""
	}
	defer f.Close()
	contentType = storage.ImageContentType(contentType, fh.Filename)
	url, err := h.images.UploadImage(c.Request.Context(), storage.ProfileKey(fh.Filename), contentType, f, fh.Size)
	if err != nil {
		h.logger.Warn("profile picture upload failed", zap.Error(err))
		return ""
	}
	return url
}
