package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/voicedb/internal/config"
	"github.com/ehr/voicedb/internal/domain/execution"
	"github.com/ehr/voicedb/internal/domain/schema"
	"github.com/ehr/voicedb/internal/platform/auth"
	"github.com/ehr/voicedb/internal/platform/db"
	"github.com/ehr/voicedb/internal/platform/hipaa"
	"github.com/ehr/voicedb/internal/platform/middleware"
)

const (
	version = "0.1.0"
	devUser = "dev-user"
)

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	p, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start pipeline")
	}
	defer p.Close()
	logger.Info().Msg("connected to database")

	e := newServer(cfg, p.svc, p.reg, p.retention, p.pool, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, svc *execution.Service, reg *schema.Registry, retention *hipaa.RetentionService, database db.Pinger, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	jwtCfg := jwtConfig(cfg)
	if cfg.IsDev() {
		e.Use(auth.DevCallerMiddleware(jwtCfg, devUser, logger))
	} else {
		e.Use(auth.CallerMiddleware(jwtCfg, logger))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(database))

	apiV1 := e.Group("/api/v1")
	execution.NewHandler(svc, reg).RegisterRoutes(apiV1)
	hipaa.RegisterRetentionRoutes(apiV1, retention)
	return e
}
