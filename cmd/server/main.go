package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"portfolio/internal/auth"
	"portfolio/internal/cache"
	"portfolio/internal/config"
	"portfolio/internal/db"
	"portfolio/internal/handler"
	"portfolio/internal/logging"
	"portfolio/internal/metrics"
	"portfolio/internal/middleware"
	"portfolio/internal/model"
	"portfolio/internal/repository"
	"portfolio/internal/router"
	"portfolio/internal/service"
)

// @title Portfolio API
// @version 1.0
// @description Authentication and session API for the portfolio site.
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.AccessTokenSecret == "change-me" {
		logger.Warn("ACCESS_TOKEN_SECRET is not set, using the development default")
	}

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		logger.WithError(err).Fatal("database init")
	}

	if os.Getenv("RESET_DB") == "true" {
		logger.Warn("RESET_DB=true detected, dropping auth tables")
		for _, table := range []interface{}{&model.RefreshToken{}, &model.User{}} {
			if err := gormDB.Migrator().DropTable(table); err != nil {
				logger.WithError(err).Warn("drop table failed (may not exist)")
			}
		}
	}

	if err := db.Migrate(gormDB); err != nil {
		logger.WithError(err).Fatal("migrate")
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cacheClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cacheClient.Ping(ctx); err != nil {
		logger.WithError(err).Warn("redis unavailable, user cache disabled until it recovers")
	}

	userRepo := repository.NewUserRepository(gormDB)
	var tokenRepo repository.RefreshTokenRepository
	switch cfg.RefreshTokenStore {
	case config.TokenStoreRedis:
		tokenRepo = auth.NewTokenStore(cacheClient)
	default:
		tokenRepo = repository.NewRefreshTokenRepository(gormDB)
	}
	logger.WithField("store", cfg.RefreshTokenStore).Info("refresh token store selected")

	m := metrics.New()
	jwtService := auth.NewJWTService(cfg.AccessTokenSecret, cfg.AccessTokenTTL)
	userService := service.NewUserService(userRepo, cacheClient, cfg.UserCacheTTL, logger)
	authService := service.NewAuthService(service.AuthServiceDeps{
		Users:           userRepo,
		Tokens:          tokenRepo,
		JWT:             jwtService,
		Hasher:          auth.NewPasswordHasher(cfg.BcryptCost),
		Fingerprinter:   auth.NewFingerprinter(cfg.RefreshTokenSecret),
		UserCache:       userService,
		Logger:          logger,
		Metrics:         m,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})

	cookies := middleware.CookieConfig{
		Secure:        cfg.CookieSecure,
		AccessMaxAge:  cfg.AccessTokenTTL,
		RefreshMaxAge: cfg.RefreshTokenTTL,
	}
	authn := middleware.NewAuthenticator(middleware.AuthenticatorConfig{
		JWT:       jwtService,
		Users:     userService,
		Refresher: authService,
		Cookies:   cookies,
		Skipper:   router.SkipAuthentication,
		Logger:    logger,
		Metrics:   m,
	})

	e := echo.New()
	e.HideBanner = true
	router.Register(e, authn, m, logger, router.Handlers{
		Auth:  handler.NewAuthHandler(authService, cookies),
		Users: handler.NewUserHandler(userService, authService),
	})

	go purgeExpiredTokens(ctx, authService, cfg.TokenPurgeInterval, logger)

	go func() {
		addr := ":" + cfg.ServerPort
		logger.WithField("addr", addr).Info("server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server start")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}

// purgeExpiredTokens deletes expired refresh tokens every interval until ctx is done.
func purgeExpiredTokens(ctx context.Context, svc service.AuthService, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpiredRefreshTokens(ctx)
			if err != nil {
				logger.WithError(err).Warn("purge expired refresh tokens")
				continue
			}
			if n > 0 {
				logger.WithField("deleted", n).Info("purged expired refresh tokens")
			}
		}
	}
}
