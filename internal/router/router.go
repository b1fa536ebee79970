package router

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	apperrors "portfolio/internal/errors"
	"portfolio/internal/handler"
	"portfolio/internal/metrics"
	"portfolio/internal/middleware"
)

// SignInPath is where unauthenticated page requests are sent.
const SignInPath = "/auth/signin"

// tokenRoutes manage tokens themselves and must not trigger an implicit refresh.
var tokenRoutes = map[string]struct{}{
	"/api/auth/register":      {},
	"/api/auth/login":         {},
	"/api/auth/guest-login":   {},
	"/api/auth/refresh-token": {},
	"/api/auth/logout":        {},
	"/healthz":                {},
	"/metrics":                {},
}

// SkipAuthentication is the authenticator skipper for routes that handle tokens directly.
func SkipAuthentication(c echo.Context) bool {
	_, ok := tokenRoutes[c.Path()]
	return ok
}

// Handlers bundles the HTTP handlers mounted by Register.
type Handlers struct {
	Auth  *handler.AuthHandler
	Users *handler.UserHandler
}

// Register wires middleware and routes. Every route declares its guard policy.
func Register(e *echo.Echo, authn *middleware.Authenticator, m *metrics.Metrics, logger logrus.FieldLogger, h Handlers) {
	e.HTTPErrorHandler = NewHTTPErrorHandler(logger)
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(RequestLogger(logger))
	e.Use(echomw.Recover())
	e.Use(authn.Middleware())

	public := middleware.Guard(middleware.PublicPolicy, m)
	authenticated := middleware.Guard(middleware.AuthenticatedPolicy, m)
	member := middleware.Guard(middleware.MemberPolicy, m)
	admin := middleware.Guard(middleware.AdminPolicy, m)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, public)
	e.GET("/metrics", echo.WrapHandler(m.Handler()), public)

	api := e.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.POST("/register", h.Auth.Register, public)
	authRoutes.POST("/login", h.Auth.Login, public)
	authRoutes.POST("/guest-login", h.Auth.GuestLogin, public)
	authRoutes.POST("/refresh-token", h.Auth.Refresh, public)
	authRoutes.POST("/logout", h.Auth.Logout, public)
	authRoutes.GET("/me", h.Auth.Me, authenticated)
	authRoutes.PUT("/password", h.Auth.ChangePassword, member)
	authRoutes.DELETE("/delete-account", h.Auth.DeleteAccount, authenticated)

	users := api.Group("/users", admin)
	users.GET("", h.Users.ListUsers)
	users.GET("/:id", h.Users.GetUser)
	users.POST("/:id/promote", h.Users.Promote)
	users.DELETE("/:id", h.Users.DeleteUser)
}

// RequestLogger writes one logrus entry per request.
func RequestLogger(logger logrus.FieldLogger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			})
			if user := middleware.CurrentUser(c); user != nil {
				entry = entry.WithField("user_id", user.ID)
			}
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	})
}

// NewHTTPErrorHandler renders errors as JSON for /api routes and redirects
// unauthenticated page requests to the sign-in page.
func NewHTTPErrorHandler(logger logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := toResponse(err)
		if status >= http.StatusInternalServerError {
			logger.WithError(err).WithField("uri", c.Request().RequestURI).Error("request failed")
		}

		if status == http.StatusUnauthorized && isPageRequest(c) {
			_ = c.Redirect(http.StatusFound, SignInPath)
			return
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func toResponse(err error) (int, apperrors.ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch msg := he.Message.(type) {
		case apperrors.ErrorResponse:
			return he.Code, msg
		case string:
			return he.Code, apperrors.ErrorResponse{Error: msg, Code: codeForStatus(he.Code)}
		default:
			return he.Code, apperrors.ErrorResponse{Error: http.StatusText(he.Code), Code: codeForStatus(he.Code)}
		}
	}
	httpErr := apperrors.MapErrorToHTTP(err)
	return httpErr.StatusCode, httpErr.ToErrorResponse()
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func isPageRequest(c echo.Context) bool {
	r := c.Request()
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return !strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/api"
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
