package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/authflow/backend/internal/model"
	"github.com/authflow/backend/internal/service"
	"github.com/gin-gonic/gin"
)

// AuthService is the session lifecycle the handlers drive.
type AuthService interface {
	SignUp(ctx context.Context, email, password, name string) (*model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	Profile(ctx context.Context, userID string) (model.PublicUser, error)
}

type AuthHandler struct {
	svc    AuthService
	logger *slog.Logger
}

func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{svc: svc, logger: logger}
}

// Register godoc
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.RegisterRequest true "Email, password and display name"
// @Success 201 {object} model.MessageResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request")
		return
	}

	if _, err := h.svc.SignUp(c.Request.Context(), req.Email, req.Password, req.Name); err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.MessageResponse{
		Success: true,
		Message: "user registered",
	})
}

// Login godoc
// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Email and password"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request")
		return
	}

	sess, err := h.svc.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.LoginResponse{
		Success: true,
		Data: model.LoginData{
			AccessToken:  sess.Tokens.AccessToken,
			RefreshToken: sess.Tokens.RefreshToken,
			AtExpiry:     sess.Tokens.AtExpiry,
			User:         model.UserRef{ID: sess.User.ID, Email: sess.User.Email},
		},
	})
}

// Refresh godoc
// @Summary Refresh the token pair
// @Description Trades the current refresh token for a new pair. The presented token stops working.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.RefreshRequest true "Current refresh token"
// @Success 200 {object} model.RefreshResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req model.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		abortWithError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.RefreshResponse{Success: true, Data: pair})
}

// Logout godoc
// @Summary Logout
// @Description Revokes the caller's refresh token.
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.MessageResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		abortWithError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.svc.Logout(c.Request.Context(), user.ID); err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.MessageResponse{
		Success: true,
		Message: "logged out",
	})
}

// Me godoc
// @Summary Get current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.MeResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		abortWithError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.svc.Profile(c.Request.Context(), user.ID)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.MeResponse{Success: true, Data: profile})
}

func (h *AuthHandler) writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		abortWithError(c, http.StatusBadRequest, "invalid input")
	case errors.Is(err, service.ErrInvalidCredentials):
		abortWithError(c, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrUnauthorized):
		abortWithError(c, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrConflict):
		abortWithError(c, http.StatusConflict, "user already exists")
	default:
		h.logger.ErrorContext(c.Request.Context(), "auth request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		abortWithError(c, http.StatusInternalServerError, "server error")
	}
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, model.ErrorResponse{
		Success:    false,
		Message:    message,
		StatusCode: status,
	})
}
