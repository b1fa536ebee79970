package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"portfolio/internal/cache"
	apperrors "portfolio/internal/errors"
	"portfolio/internal/logging"
	"portfolio/internal/model"
	"portfolio/internal/repository"
)

const defaultUserCacheTTL = 5 * time.Minute

// UserService serves user lookups through the cache.
// Cached users carry no password hash, so callers that verify passwords go to the repository.
type UserService interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	Invalidate(ctx context.Context, id uint)
}

type userService struct {
	repo   repository.UserRepository
	cache  *cache.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewUserService builds a UserService with repository and cache. A nil cache disables caching.
func NewUserService(repo repository.UserRepository, cache *cache.Client, ttl time.Duration, logger logrus.FieldLogger) UserService {
	if ttl <= 0 {
		ttl = defaultUserCacheTTL
	}
	return &userService{repo: repo, cache: cache, ttl: ttl, logger: orDiscard(logger)}
}

func (s *userService) cacheKey(id uint) string {
	return fmt.Sprintf("user:%d", id)
}

func (s *userService) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var cached model.User
	if s.cache.GetJSON(ctx, s.cacheKey(id), &cached) {
		return &cached, nil
	}

	user, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		s.logger.WithError(err).WithField("user_id", id).Error("find user")
		return nil, apperrors.Internal("find user", err)
	}

	_ = s.cache.SetJSON(ctx, s.cacheKey(id), user, s.ttl)
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("list users")
		return nil, apperrors.Internal("list users", err)
	}
	return users, nil
}

func (s *userService) Invalidate(ctx context.Context, id uint) {
	_ = s.cache.Delete(ctx, s.cacheKey(id))
}

func orDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return logging.Discard()
	}
	return logger
}
