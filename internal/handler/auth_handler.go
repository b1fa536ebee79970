package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"portfolio/internal/auth"
	"portfolio/internal/errors"
	"portfolio/internal/middleware"
	"portfolio/internal/model"
	"portfolio/internal/service"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService service.AuthService
	cookies     middleware.CookieConfig
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService service.AuthService, cookies middleware.CookieConfig) *AuthHandler {
	return &AuthHandler{authService: authService, cookies: cookies}
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Username string `json:"username" validate:"omitempty,max=64"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest carries a refresh token for clients that do not use cookies.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest represents a password change request.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max=72"`
}

// AuthResponse represents an authentication response.
type AuthResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         *model.User `json:"user,omitempty"`
}

// respondError renders err with the shared error body.
func respondError(err error) error {
	httpErr := errors.MapErrorToHTTP(err)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse()).SetInternal(err)
}

// checkPasswordBytes enforces bcrypt's byte limit, which the validator's
// character-based max tag cannot express.
func checkPasswordBytes(password string) error {
	if len(password) > auth.MaxPasswordBytes {
		return respondError(errors.ErrPasswordTooLong)
	}
	return nil
}

func badRequest(message string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
		Error: message,
		Code:  "INVALID_REQUEST",
	})
}

func (h *AuthHandler) respondWithTokens(c echo.Context, status int, pair *service.TokenPair, user *model.User) error {
	middleware.SetAuthCookies(c, h.cookies, pair.AccessToken, pair.RefreshToken)
	return c.JSON(status, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         user,
	})
}

// refreshTokenFrom prefers the JSON body, then the cookie or header.
func refreshTokenFrom(c echo.Context) string {
	var req RefreshRequest
	_ = c.Bind(&req)
	if req.RefreshToken != "" {
		return req.RefreshToken
	}
	return middleware.RefreshTokenFrom(c)
}

// Register godoc
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration data"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(err.Error())
	}
	if err := checkPasswordBytes(req.Password); err != nil {
		return err
	}

	pair, user, err := h.authService.Register(c.Request().Context(), req.Email, req.Password, req.Username)
	if err != nil {
		return respondError(err)
	}
	return h.respondWithTokens(c, http.StatusCreated, pair, user)
}

// Login godoc
// @Summary Login user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(err.Error())
	}

	pair, user, err := h.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(err)
	}
	return h.respondWithTokens(c, http.StatusOK, pair, user)
}

// GuestLogin godoc
// @Summary Create a guest account and log in
// @Tags auth
// @Produce json
// @Success 201 {object} AuthResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/guest-login [post]
func (h *AuthHandler) GuestLogin(c echo.Context) error {
	pair, user, err := h.authService.GuestLogin(c.Request().Context())
	if err != nil {
		return respondError(err)
	}
	return h.respondWithTokens(c, http.StatusCreated, pair, user)
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest false "Refresh token, if not sent as cookie"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/refresh-token [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	pair, user, err := h.authService.RotateRefreshToken(c.Request().Context(), refreshTokenFrom(c))
	if err != nil {
		middleware.ClearAuthCookies(c, h.cookies)
		return respondError(err)
	}
	return h.respondWithTokens(c, http.StatusOK, pair, user)
}

// Logout godoc
// @Summary Revoke the refresh token and clear auth cookies
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest false "Refresh token, if not sent as cookie"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} errors.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	revoked, err := h.authService.RevokeRefreshToken(c.Request().Context(), refreshTokenFrom(c))
	if err != nil {
		return respondError(err)
	}
	middleware.ClearAuthCookies(c, h.cookies)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "logged out",
		"revoked": revoked,
	})
}

// Me godoc
// @Summary Current user
// @Tags auth
// @Produce json
// @Success 200 {object} model.User
// @Failure 401 {object} errors.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(errors.ErrUnauthorized)
	}
	return c.JSON(http.StatusOK, user)
}

// ChangePassword godoc
// @Summary Change password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ChangePasswordRequest true "Passwords"
// @Success 200 {object} map[string]string
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /auth/password [put]
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(errors.ErrUnauthorized)
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(err.Error())
	}
	if err := checkPasswordBytes(req.NewPassword); err != nil {
		return err
	}

	if err := h.authService.ChangePassword(c.Request().Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password changed"})
}

// DeleteAccount godoc
// @Summary Delete the current account
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} errors.ErrorResponse
// @Router /auth/delete-account [delete]
func (h *AuthHandler) DeleteAccount(c echo.Context) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return respondError(errors.ErrUnauthorized)
	}
	if err := h.authService.DeleteUser(c.Request().Context(), user.ID); err != nil {
		return respondError(err)
	}
	middleware.ClearAuthCookies(c, h.cookies)
	return c.JSON(http.StatusOK, map[string]string{"message": "account deleted"})
}
