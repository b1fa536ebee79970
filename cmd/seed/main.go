package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"portfolio/internal/auth"
	"portfolio/internal/config"
	"portfolio/internal/db"
	apperrors "portfolio/internal/errors"
	"portfolio/internal/logging"
	"portfolio/internal/model"
	"portfolio/internal/repository"
	"portfolio/internal/service"
)

// seed bootstraps an administrator account. It is idempotent: an existing
// account with ADMIN_EMAIL is promoted instead of recreated.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, "text")

	email := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")
	username := os.Getenv("ADMIN_USERNAME")
	if email == "" {
		logger.Fatal("ADMIN_EMAIL is required")
	}

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	if err := db.Migrate(gormDB); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	userRepo := repository.NewUserRepository(gormDB)
	authService := service.NewAuthService(service.AuthServiceDeps{
		Users:           userRepo,
		Tokens:          repository.NewRefreshTokenRepository(gormDB),
		JWT:             auth.NewJWTService(cfg.AccessTokenSecret, cfg.AccessTokenTTL),
		Hasher:          auth.NewPasswordHasher(cfg.BcryptCost),
		Fingerprinter:   auth.NewFingerprinter(cfg.RefreshTokenSecret),
		Logger:          logger,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})

	user, created, err := seedAdmin(context.Background(), authService, userRepo, email, password, username)
	if err != nil {
		logger.WithError(err).Fatal("seed failed")
	}

	logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"email":   user.Email,
		"created": created,
	}).Info("admin account ready")
}

// seedAdmin creates the account if needed and grants it the ADMIN role.
func seedAdmin(ctx context.Context, svc service.AuthService, users repository.UserRepository, email, password, username string) (*model.User, bool, error) {
	created := false
	user, err := users.FindByEmail(ctx, strings.ToLower(email))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if password == "" {
			return nil, false, fmt.Errorf("ADMIN_PASSWORD is required to create %s", email)
		}
		user, err = svc.Signup(ctx, email, password, username)
		if err != nil && !errors.Is(err, apperrors.ErrEmailTaken) {
			return nil, false, fmt.Errorf("signup: %w", err)
		}
		if err != nil {
			if user, err = users.FindByEmail(ctx, strings.ToLower(email)); err != nil {
				return nil, false, fmt.Errorf("lookup after conflict: %w", err)
			}
		} else {
			created = true
		}
	case err != nil:
		return nil, false, fmt.Errorf("lookup %s: %w", email, err)
	}

	if err := svc.PromoteToAdmin(ctx, user.ID); err != nil {
		return nil, false, fmt.Errorf("promote: %w", err)
	}
	user.Role = model.RoleAdmin
	return user, created, nil
}
