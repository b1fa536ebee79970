package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"

	apperrors "portfolio/internal/errors"
	"portfolio/internal/metrics"
	"portfolio/internal/model"
)

// Policy is the access rule declared for a route.
type Policy struct {
	// Public routes skip every other check.
	Public bool
	// Roles, when non-empty, lists the roles allowed through.
	Roles []model.Role
	// RejectGuests denies guest accounts even when their role would pass.
	RejectGuests bool
}

// Common policies.
var (
	PublicPolicy        = Policy{Public: true}
	AuthenticatedPolicy = Policy{}
	MemberPolicy        = Policy{RejectGuests: true}
	AdminPolicy         = Policy{Roles: []model.Role{model.RoleAdmin}}
)

// Authorize applies p to id. A nil id is an anonymous request.
func Authorize(p Policy, id *Identity) error {
	if p.Public {
		return nil
	}
	if id == nil || id.User == nil {
		return apperrors.ErrUnauthorized
	}
	if len(p.Roles) > 0 && !hasRole(p.Roles, id.User.Role) {
		return apperrors.ErrInsufficientRole
	}
	if p.RejectGuests && id.User.IsGuest {
		return apperrors.ErrGuestNotAllowed
	}
	return nil
}

func hasRole(allowed []model.Role, role model.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// Guard enforces p on a route. Denials are returned as errors for the HTTP error handler.
func Guard(p Policy, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := Authorize(p, IdentityFrom(c.Request().Context())); err != nil {
				m.GuardDecision(decisionLabel(err))
				return err
			}
			m.GuardDecision("allow")
			return next(c)
		}
	}
}

func decisionLabel(err error) string {
	if errors.Is(err, apperrors.ErrUnauthorized) {
		return "deny_unauthorized"
	}
	return "deny_forbidden"
}
