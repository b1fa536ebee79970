package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	apperrors "portfolio/internal/errors"
	"portfolio/internal/model"
)

const (
	// AccessTokenExpiry is the default lifetime of access tokens.
	AccessTokenExpiry = 15 * time.Minute
	// RefreshTokenExpiry is the default lifetime of refresh tokens.
	RefreshTokenExpiry = 7 * 24 * time.Hour
)

// Kind distinguishes access tokens from refresh tokens inside the payload.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	errUnknownKind    = errors.New("unknown token kind")
	errUnknownRole    = errors.New("unknown role")
	errMissingSubject = errors.New("missing subject")
	errMissingExpiry  = errors.New("missing expiry")
	errTokenExpired   = errors.New("token is expired")
)

// Claims is the complete token payload. A token with no subject, no expiry, or an
// unknown kind or role fails to decode.
type Claims struct {
	Subject   uint             `json:"sub"`
	Email     string           `json:"email"`
	Role      model.Role       `json:"role"`
	IsGuest   bool             `json:"isGuest"`
	Kind      Kind             `json:"kind"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

// Valid implements jwt.Claims.
func (c Claims) Valid() error {
	if c.Subject == 0 {
		return errMissingSubject
	}
	if c.Kind != KindAccess && c.Kind != KindRefresh {
		return errUnknownKind
	}
	if !c.Role.Valid() {
		return errUnknownRole
	}
	if c.ExpiresAt == nil {
		return errMissingExpiry
	}
	if !jwt.TimeFunc().Before(c.ExpiresAt.Time) {
		return errTokenExpired
	}
	return nil
}

// JWTService signs and verifies HS256 tokens with a shared secret.
type JWTService struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewJWTService creates a new JWT service with the given secret.
// A non-positive accessTTL selects AccessTokenExpiry.
func NewJWTService(secret string, accessTTL time.Duration) *JWTService {
	if accessTTL <= 0 {
		accessTTL = AccessTokenExpiry
	}
	return &JWTService{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// AccessTTL returns the configured access token lifetime.
func (s *JWTService) AccessTTL() time.Duration {
	return s.accessTTL
}

// Encode signs claims, stamping iat and exp from ttl.
func (s *JWTService) Encode(claims Claims, ttl time.Duration) (string, time.Time, error) {
	issued := s.now()
	expires := issued.Add(ttl)
	claims.IssuedAt = jwt.NewNumericDate(issued)
	claims.ExpiresAt = jwt.NewNumericDate(expires)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// Decode verifies signature, expiry and payload shape.
// Every failure wraps errors.ErrUnauthorized.
func (s *JWTService) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	return claims, nil
}

// IssueAccessToken builds the access token payload for user.
func (s *JWTService) IssueAccessToken(user *model.User) (string, time.Time, error) {
	return s.Encode(Claims{
		Subject: user.ID,
		Email:   user.Email,
		Role:    user.Role,
		IsGuest: user.IsGuest,
		Kind:    KindAccess,
	}, s.accessTTL)
}

// ParseAccessToken decodes tokenString and requires it to be an access token.
func (s *JWTService) ParseAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.Decode(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != KindAccess {
		return nil, fmt.Errorf("%w: not an access token", apperrors.ErrUnauthorized)
	}
	return claims, nil
}
