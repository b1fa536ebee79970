package middleware

import (
	"context"
	"errors"
	"fmt"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"portfolio/internal/auth"
	apperrors "portfolio/internal/errors"
	"portfolio/internal/metrics"
	"portfolio/internal/model"
	"portfolio/internal/service"
)

// Authentication outcomes, also used as metric labels.
const (
	OutcomeAnonymous = "anonymous"
	OutcomeAccess    = "access"
	OutcomeRefreshed = "refreshed"
	OutcomeError     = "error"
)

const (
	// identityContextKey is where the echo adapter stores the *Identity.
	identityContextKey = "identity"
	// accessTokenContextKey holds the raw access token extracted by echo-jwt.
	accessTokenContextKey = "access_token"
)

// UserLookup resolves the subject of an access token.
type UserLookup interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
}

// Refresher rotates a refresh token into a new pair.
type Refresher interface {
	RotateRefreshToken(ctx context.Context, refreshToken string) (*service.TokenPair, *model.User, error)
}

// Credentials are the raw tokens presented by a request.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Result is the authenticator's decision for one request.
type Result struct {
	User    *model.User
	Outcome string
	// Tokens is set when a refresh succeeded and new cookies must be written.
	Tokens *service.TokenPair
	// ClearCookies is set when a refresh was attempted and failed.
	ClearCookies bool
}

// Authenticator resolves request identity from an access token, falling back
// to at most one refresh-token rotation.
type Authenticator struct {
	jwtService *auth.JWTService
	users      UserLookup
	refresher  Refresher
	cookies    CookieConfig
	skipper    echomw.Skipper
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
}

// AuthenticatorConfig wires an Authenticator.
type AuthenticatorConfig struct {
	JWT       *auth.JWTService
	Users     UserLookup
	Refresher Refresher
	Cookies   CookieConfig
	// Skipper excludes routes that manage tokens themselves.
	Skipper echomw.Skipper
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	skipper := cfg.Skipper
	if skipper == nil {
		skipper = echomw.DefaultSkipper
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Authenticator{
		jwtService: cfg.JWT,
		users:      cfg.Users,
		refresher:  cfg.Refresher,
		cookies:    cfg.Cookies,
		skipper:    skipper,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// Authenticate runs the full decision for creds. Only internal failures are
// returned as errors; every other failure yields an anonymous Result.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Result, error) {
	if creds.AccessToken != "" {
		user, err := a.resolveAccess(ctx, creds.AccessToken)
		if err == nil {
			return &Result{User: user, Outcome: OutcomeAccess}, nil
		}
		if errors.Is(err, apperrors.ErrInternal) {
			return nil, err
		}
	}
	return a.resolveRefresh(ctx, creds.RefreshToken)
}

// resolveAccess verifies the token and loads its subject. A subject that no
// longer exists makes the token invalid.
func (a *Authenticator) resolveAccess(ctx context.Context, token string) (*model.User, error) {
	claims, err := a.jwtService.ParseAccessToken(token)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: token subject no longer exists", apperrors.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Authenticator) resolveRefresh(ctx context.Context, refreshToken string) (*Result, error) {
	if refreshToken == "" {
		return &Result{Outcome: OutcomeAnonymous}, nil
	}
	pair, user, err := a.refresher.RotateRefreshToken(ctx, refreshToken)
	if errors.Is(err, apperrors.ErrInternal) {
		return nil, err
	}
	if err != nil {
		a.logger.WithError(err).Debug("refresh token rejected")
		return &Result{Outcome: OutcomeAnonymous, ClearCookies: true}, nil
	}
	return &Result{User: user, Outcome: OutcomeRefreshed, Tokens: pair}, nil
}

// apply writes the side effects of res onto the request and response.
// Rotated tokens are also echoed in response headers when the refresh token
// arrived in a header, so header-only clients can keep their session.
func (a *Authenticator) apply(c echo.Context, res *Result, refreshViaHeader bool) {
	if res.Tokens != nil {
		SetAuthCookies(c, a.cookies, res.Tokens.AccessToken, res.Tokens.RefreshToken)
		if refreshViaHeader {
			h := c.Response().Header()
			h.Set(AccessTokenHeader, res.Tokens.AccessToken)
			h.Set(RefreshTokenHeader, res.Tokens.RefreshToken)
		}
	}
	if res.ClearCookies {
		ClearAuthCookies(c, a.cookies)
	}
	if res.User != nil {
		c.Set(identityContextKey, attachIdentity(c, res.User))
	}
	a.metrics.AuthenticatorOutcome(res.Outcome)
}

// Middleware returns the echo middleware. echo-jwt only extracts the access
// token from the Authorization header or the access_token cookie; every
// decision is made by Authenticate.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	extract := echojwt.WithConfig(echojwt.Config{
		Skipper:                a.skipper,
		ContextKey:             accessTokenContextKey,
		TokenLookup:            "header:" + echo.HeaderAuthorization + ":Bearer ,cookie:" + AccessTokenCookie,
		ContinueOnIgnoredError: true,
		ParseTokenFunc: func(_ echo.Context, token string) (interface{}, error) {
			return token, nil
		},
		// A missing or malformed carrier is the same as no access token.
		ErrorHandler: func(echo.Context, error) error {
			return nil
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return extract(func(c echo.Context) error {
			if a.skipper(c) {
				return next(c)
			}
			accessToken, _ := c.Get(accessTokenContextKey).(string)
			refreshToken, viaHeader := refreshTokenCarrier(c)

			res, err := a.Authenticate(c.Request().Context(), Credentials{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
			})
			if err != nil {
				a.metrics.AuthenticatorOutcome(OutcomeError)
				return err
			}
			a.apply(c, res, viaHeader)
			return next(c)
		})
	}
}
