package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ytakahashi/firetodo/internal/auth"
	"github.com/ytakahashi/firetodo/internal/config"
	"github.com/ytakahashi/firetodo/internal/handlers"
	"github.com/ytakahashi/firetodo/internal/herr"
	"github.com/ytakahashi/firetodo/internal/live"
	"github.com/ytakahashi/firetodo/internal/logging"
	"github.com/ytakahashi/firetodo/internal/metrics"
	"github.com/ytakahashi/firetodo/internal/middleware"
	"github.com/ytakahashi/firetodo/internal/services"
	"github.com/ytakahashi/firetodo/internal/session"
	"github.com/ytakahashi/firetodo/internal/view"
)

const shutdownTimeout = 10 * time.Second

func main() {
	dotenv := config.LoadDotEnv()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logOpts := logging.DefaultOptions()
	logOpts.Level = cfg.LogLevel
	logOpts.Format = cfg.LogFormat
	logger, err := logging.New(os.Stderr, logOpts)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	slog.SetDefault(logger)
	if !dotenv {
		logger.Info("No .env file found")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	firestoreService, err := services.NewFirestoreService(ctx, cfg.ProjectID, logger)
	if err != nil {
		return err
	}
	defer firestoreService.Close()

	identityService, err := services.NewIdentityService(ctx, cfg.FirebaseAPIKey)
	if err != nil {
		return err
	}

	sessionStore, err := session.NewSQLiteStore(cfg.SessionDB)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	sessions := session.NewManager(sessionStore, firestoreService, identityService, logger, session.Options{
		Expiration:  cfg.SessionTTL,
		IdleTimeout: cfg.IdleTimeout,
		Secure:      cfg.Production(),
	})
	defer sessions.Close()
	go sessions.Run(ctx)

	var google *auth.GoogleOAuth
	if cfg.GoogleEnabled() {
		google = auth.NewGoogleOAuth(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL(),
		})
	} else {
		logger.Info("Google sign-in disabled")
	}

	renderer, err := view.New()
	if err != nil {
		return err
	}
	schemas, err := handlers.NewSchemas()
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(5, 10, logger)
	go limiter.Cleanup(ctx, time.Minute, 10*time.Minute)

	e := echo.New()
	e.IPExtractor = middleware.IPExtractor(cfg.BehindProxy)
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = herr.Handler(logger)

	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	app := e.Group("", sessions.Middleware())
	handlers.NewHandler(handlers.Config{
		Sessions: sessions,
		Schemas:  schemas,
		Google:   google,
		Logger:   logger,
		Secure:   cfg.Production(),
	}).Register(app, limiter.Middleware())
	app.GET("/ws", live.NewHandler(renderer, logger).Serve)

	errc := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "url", cfg.BaseURL)
		errc <- e.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
