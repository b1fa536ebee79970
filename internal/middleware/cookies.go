package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	// RefreshTokenHeader carries the refresh token for clients without cookies.
	RefreshTokenHeader = "X-Refresh-Token"
	// AccessTokenHeader returns a rotated access token to clients without cookies.
	AccessTokenHeader = "X-Access-Token"
)

// CookieConfig controls the auth cookies written on login and refresh.
type CookieConfig struct {
	Secure        bool
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

// DefaultCookieConfig matches the default token lifetimes.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		AccessMaxAge:  15 * time.Minute,
		RefreshMaxAge: 7 * 24 * time.Hour,
	}
}

func (cfg CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetAuthCookies writes both token cookies.
func SetAuthCookies(c echo.Context, cfg CookieConfig, accessToken, refreshToken string) {
	c.SetCookie(cfg.cookie(AccessTokenCookie, accessToken, int(cfg.AccessMaxAge.Seconds())))
	c.SetCookie(cfg.cookie(RefreshTokenCookie, refreshToken, int(cfg.RefreshMaxAge.Seconds())))
}

// ClearAuthCookies expires both token cookies.
func ClearAuthCookies(c echo.Context, cfg CookieConfig) {
	c.SetCookie(cfg.cookie(AccessTokenCookie, "", -1))
	c.SetCookie(cfg.cookie(RefreshTokenCookie, "", -1))
}

// RefreshTokenFrom reads the refresh token from its cookie, then from the header.
func RefreshTokenFrom(c echo.Context) string {
	token, _ := refreshTokenCarrier(c)
	return token
}

// refreshTokenCarrier is RefreshTokenFrom that also reports whether the token came from the header.
func refreshTokenCarrier(c echo.Context) (string, bool) {
	if ck, err := c.Cookie(RefreshTokenCookie); err == nil && ck.Value != "" {
		return ck.Value, false
	}
	if token := c.Request().Header.Get(RefreshTokenHeader); token != "" {
		return token, true
	}
	return "", false
}
