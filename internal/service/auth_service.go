package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"portfolio/internal/auth"
	apperrors "portfolio/internal/errors"
	"portfolio/internal/metrics"
	"portfolio/internal/model"
	"portfolio/internal/repository"
)

// guestPasswordBytes sizes the random password given to guest accounts.
const guestPasswordBytes = 32

// TokenPair is a freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// AuthService handles authentication operations.
type AuthService interface {
	Signup(ctx context.Context, email, password, username string) (*model.User, error)
	CreateGuestUser(ctx context.Context) (*model.User, error)
	// ValidateUser returns (nil, nil) for an unknown email or a wrong password.
	ValidateUser(ctx context.Context, email, password string) (*model.User, error)
	IssueAccessToken(user *model.User) (string, time.Time, error)
	IssueRefreshToken(ctx context.Context, userID uint) (string, time.Time, error)
	RotateRefreshToken(ctx context.Context, refreshToken string) (*TokenPair, *model.User, error)
	// RevokeRefreshToken reports whether a live token was removed.
	RevokeRefreshToken(ctx context.Context, refreshToken string) (bool, error)
	ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error
	DeleteUser(ctx context.Context, userID uint) error
	PromoteToAdmin(ctx context.Context, userID uint) error

	Login(ctx context.Context, email, password string) (*TokenPair, *model.User, error)
	Register(ctx context.Context, email, password, username string) (*TokenPair, *model.User, error)
	GuestLogin(ctx context.Context) (*TokenPair, *model.User, error)
	PurgeExpiredRefreshTokens(ctx context.Context) (int64, error)
}

// AuthServiceDeps wires an AuthService. Users, Tokens, JWT, Hasher and
// Fingerprinter are required.
type AuthServiceDeps struct {
	Users         repository.UserRepository
	Tokens        repository.RefreshTokenRepository
	JWT           *auth.JWTService
	Hasher        *auth.PasswordHasher
	Fingerprinter *auth.Fingerprinter
	// UserCache is invalidated after every user mutation.
	UserCache       UserService
	Logger          logrus.FieldLogger
	Metrics         *metrics.Metrics
	RefreshTokenTTL time.Duration
}

type authService struct {
	users         repository.UserRepository
	tokens        repository.RefreshTokenRepository
	jwtService    *auth.JWTService
	hasher        *auth.PasswordHasher
	fingerprinter *auth.Fingerprinter
	userCache     UserService
	logger        logrus.FieldLogger
	metrics       *metrics.Metrics
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(deps AuthServiceDeps) AuthService {
	ttl := deps.RefreshTokenTTL
	if ttl <= 0 {
		ttl = auth.RefreshTokenExpiry
	}
	return &authService{
		users:         deps.Users,
		tokens:        deps.Tokens,
		jwtService:    deps.JWT,
		hasher:        deps.Hasher,
		fingerprinter: deps.Fingerprinter,
		userCache:     deps.UserCache,
		logger:        orDiscard(deps.Logger),
		metrics:       deps.Metrics,
		refreshTTL:    ttl,
		now:           time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// internal logs a collaborator failure and wraps it as an internal error.
func (s *authService) internal(op string, err error, fields logrus.Fields) error {
	s.logger.WithFields(fields).WithError(err).Error(op)
	return apperrors.Internal(op, err)
}

func (s *authService) invalidate(ctx context.Context, userID uint) {
	if s.userCache != nil {
		s.userCache.Invalidate(ctx, userID)
	}
}

// Signup creates a regular account. The store is left untouched on conflict.
func (s *authService) Signup(ctx context.Context, email, password, username string) (*model.User, error) {
	email = normalizeEmail(email)

	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, apperrors.ErrEmailTaken
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, s.internal("check user existence", err, logrus.Fields{"op": "signup"})
	}

	hashed, err := s.hasher.Hash(password)
	if errors.Is(err, apperrors.ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return nil, s.internal("hash password", err, logrus.Fields{"op": "signup"})
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}

	user := &model.User{
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
		Role:         model.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, s.internal("create user", err, logrus.Fields{"op": "signup"})
	}

	s.logger.WithField("user_id", user.ID).Info("user signed up")
	return user, nil
}

// CreateGuestUser creates an anonymous account with a random, never-disclosed password.
func (s *authService) CreateGuestUser(ctx context.Context) (*model.User, error) {
	id := uuid.New()
	short := strings.ReplaceAll(id.String(), "-", "")[:12]

	secret, err := auth.RandomSecret(guestPasswordBytes)
	if err != nil {
		return nil, s.internal("generate guest password", err, logrus.Fields{"op": "guest"})
	}
	hashed, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, s.internal("hash password", err, logrus.Fields{"op": "guest"})
	}

	user := &model.User{
		Email:        "guest_" + id.String() + "@guest.local",
		Username:     "Guest_" + short,
		PasswordHash: hashed,
		Role:         model.RoleUser,
		IsGuest:      true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, s.internal("create guest user", err, logrus.Fields{"op": "guest"})
	}
	return user, nil
}

func (s *authService) ValidateUser(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.internal("find user", err, logrus.Fields{"op": "validate"})
	}

	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		// unusable stored hash: the account cannot log in with a password
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("stored password hash is unusable")
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return user, nil
}

func (s *authService) IssueAccessToken(user *model.User) (string, time.Time, error) {
	token, exp, err := s.jwtService.IssueAccessToken(user)
	if err != nil {
		return "", time.Time{}, s.internal("issue access token", err, logrus.Fields{"user_id": user.ID})
	}
	return token, exp, nil
}

func (s *authService) IssueRefreshToken(ctx context.Context, userID uint) (string, time.Time, error) {
	_, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", time.Time{}, apperrors.ErrUserNotFound
	}
	if err != nil {
		return "", time.Time{}, s.internal("find user", err, logrus.Fields{"user_id": userID})
	}
	return s.createRefreshToken(ctx, userID)
}

func (s *authService) newRefreshToken(userID uint) (string, *model.RefreshToken, error) {
	raw, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", nil, err
	}
	return raw, &model.RefreshToken{
		TokenHash: s.fingerprinter.Fingerprint(raw),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}, nil
}

func (s *authService) createRefreshToken(ctx context.Context, userID uint) (string, time.Time, error) {
	raw, record, err := s.newRefreshToken(userID)
	if err != nil {
		return "", time.Time{}, s.internal("generate refresh token", err, logrus.Fields{"user_id": userID})
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return "", time.Time{}, s.internal("store refresh token", err, logrus.Fields{"user_id": userID})
	}
	return raw, record.ExpiresAt, nil
}

func (s *authService) issuePair(ctx context.Context, user *model.User) (*TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.createRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

// RotateRefreshToken consumes refreshToken and returns a new pair for its owner.
// Expired tokens and tokens of deleted users are removed as a side effect.
func (s *authService) RotateRefreshToken(ctx context.Context, refreshToken string) (pair *TokenPair, user *model.User, err error) {
	defer func() { s.recordEvent("refresh", err) }()

	if refreshToken == "" {
		return nil, nil, apperrors.ErrInvalidRefreshToken
	}
	hash := s.fingerprinter.Fingerprint(refreshToken)

	stored, err := s.tokens.FindByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, nil, s.internal("find refresh token", err, nil)
	}

	if stored.Expired(s.now()) {
		if _, err := s.tokens.DeleteByHash(ctx, hash); err != nil {
			return nil, nil, s.internal("delete expired refresh token", err, logrus.Fields{"user_id": stored.UserID})
		}
		return nil, nil, apperrors.ErrRefreshTokenExpired
	}

	user, err = s.users.FindByID(ctx, stored.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		if _, err := s.tokens.DeleteByHash(ctx, hash); err != nil {
			return nil, nil, s.internal("delete orphan refresh token", err, logrus.Fields{"user_id": stored.UserID})
		}
		return nil, nil, apperrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, nil, s.internal("find user", err, logrus.Fields{"user_id": stored.UserID})
	}

	raw, next, err := s.newRefreshToken(user.ID)
	if err != nil {
		return nil, nil, s.internal("generate refresh token", err, logrus.Fields{"user_id": user.ID})
	}
	access, accessExp, err := s.IssueAccessToken(user)
	if err != nil {
		return nil, nil, err
	}

	if err := s.tokens.Rotate(ctx, hash, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// lost a race with a concurrent rotation or revocation
			return nil, nil, apperrors.ErrInvalidRefreshToken
		}
		return nil, nil, s.internal("rotate refresh token", err, logrus.Fields{"user_id": user.ID})
	}

	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          raw,
		RefreshTokenExpiresAt: next.ExpiresAt,
	}, user, nil
}

func (s *authService) RevokeRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	if refreshToken == "" {
		return false, nil
	}
	n, err := s.tokens.DeleteByHash(ctx, s.fingerprinter.Fingerprint(refreshToken))
	if err != nil {
		s.recordEvent("logout", err)
		return false, s.internal("revoke refresh token", err, nil)
	}
	s.recordEvent("logout", nil)
	return n > 0, nil
}

func (s *authService) ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.ErrUserNotFound
	}
	if err != nil {
		return s.internal("find user", err, logrus.Fields{"user_id": userID})
	}

	ok, err := s.hasher.Compare(user.PasswordHash, currentPassword)
	if err != nil || !ok {
		return apperrors.ErrCurrentPasswordIncorrect
	}

	hashed, err := s.hasher.Hash(newPassword)
	if errors.Is(err, apperrors.ErrInvalidInput) {
		return err
	}
	if err != nil {
		return s.internal("hash password", err, logrus.Fields{"user_id": userID})
	}
	if err := s.users.UpdatePassword(ctx, userID, hashed); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.ErrUserNotFound
		}
		return s.internal("update password", err, logrus.Fields{"user_id": userID})
	}
	s.invalidate(ctx, userID)
	s.logger.WithField("user_id", userID).Info("password changed")
	return nil
}

// DeleteUser removes the user's refresh tokens first, then the user.
func (s *authService) DeleteUser(ctx context.Context, userID uint) error {
	if _, err := s.tokens.DeleteAllForUser(ctx, userID); err != nil {
		return s.internal("delete user refresh tokens", err, logrus.Fields{"user_id": userID})
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.ErrUserNotFound
		}
		return s.internal("delete user", err, logrus.Fields{"user_id": userID})
	}
	s.invalidate(ctx, userID)
	s.logger.WithField("user_id", userID).Info("user deleted")
	return nil
}

// PromoteToAdmin grants ADMIN. Guests cannot be promoted; promoting an admin is a no-op.
func (s *authService) PromoteToAdmin(ctx context.Context, userID uint) error {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.ErrUserNotFound
	}
	if err != nil {
		return s.internal("find user", err, logrus.Fields{"user_id": userID})
	}
	if user.IsGuest {
		return apperrors.ErrGuestNotAllowed
	}
	if user.Role == model.RoleAdmin {
		return nil
	}

	if err := s.users.UpdateRole(ctx, userID, model.RoleAdmin); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.ErrUserNotFound
		}
		return s.internal("update role", err, logrus.Fields{"user_id": userID})
	}
	s.invalidate(ctx, userID)
	s.logger.WithField("user_id", userID).Info("user promoted to admin")
	return nil
}

func (s *authService) Login(ctx context.Context, email, password string) (pair *TokenPair, user *model.User, err error) {
	defer func() { s.recordEvent("login", err) }()

	user, err = s.ValidateUser(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperrors.ErrBadLogin
	}
	pair, err = s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

func (s *authService) Register(ctx context.Context, email, password, username string) (pair *TokenPair, user *model.User, err error) {
	defer func() { s.recordEvent("register", err) }()

	user, err = s.Signup(ctx, email, password, username)
	if err != nil {
		return nil, nil, err
	}
	pair, err = s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

func (s *authService) GuestLogin(ctx context.Context) (pair *TokenPair, user *model.User, err error) {
	defer func() { s.recordEvent("guest_login", err) }()

	user, err = s.CreateGuestUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	pair, err = s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

func (s *authService) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, s.internal("purge expired refresh tokens", err, nil)
	}
	return n, nil
}

func (s *authService) recordEvent(event string, err error) {
	switch {
	case err == nil:
		s.metrics.AuthEvent(event, metrics.OutcomeSuccess)
	case errors.Is(err, apperrors.ErrInternal):
		s.metrics.AuthEvent(event, metrics.OutcomeError)
	default:
		s.metrics.AuthEvent(event, metrics.OutcomeFailure)
	}
}
