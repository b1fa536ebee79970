package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"portfolio/internal/model"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	User *model.User
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity on ctx, or nil for anonymous requests.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	if id == nil || id.User == nil {
		return nil
	}
	return id
}

// CurrentUser returns the authenticated user of the request, or nil.
func CurrentUser(c echo.Context) *model.User {
	if id := IdentityFrom(c.Request().Context()); id != nil {
		return id.User
	}
	return nil
}

func attachIdentity(c echo.Context, user *model.User) *Identity {
	id := &Identity{User: user}
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
	return id
}
