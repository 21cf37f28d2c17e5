package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/healthcampaign/triage/internal/config"
	"github.com/healthcampaign/triage/internal/domain/triage"
	"github.com/healthcampaign/triage/internal/platform/auth"
	"github.com/healthcampaign/triage/internal/platform/db"
	"github.com/healthcampaign/triage/internal/platform/metrics"
	"github.com/healthcampaign/triage/internal/platform/middleware"
	"github.com/healthcampaign/triage/internal/platform/notification"
	"github.com/healthcampaign/triage/internal/platform/reporting"
)

const version = "0.3.0"

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: every request is authenticated as admin, do not expose this server")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg), logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()

	notifier := newNotificationManager(cfg, logger)

	triageSvc := triage.NewService(triage.NewRepoPG(pool))
	triageSvc.SetLogger(logger.With().Str("component", "triage").Logger())
	if alerter := newAlerter(cfg, notifier); alerter != nil {
		triageSvc.SetAlerter(alerter)
	} else {
		logger.Info().Msg("no TRIAGE_ALERT_EMAIL or TRIAGE_ALERT_PHONE configured, HIGH priority alerts disabled")
	}

	e, err := newEcho(cfg, logger)
	if err != nil {
		return err
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	apiV1 := e.Group("/api/v1",
		authMiddleware(cfg),
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
		}),
	)
	triage.NewHandler(triageSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifier).RegisterRoutes(apiV1)
	reporting.NewHandler(reporting.NewPGRunner(pool)).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// newEcho builds the server with the middleware that wraps every route.
func newEcho(cfg *config.Config, logger zerolog.Logger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	extractor, err := ipExtractor(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	e.IPExtractor = extractor

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.MetricsEnabled {
		e.Use(metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.TenantHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	return e, nil
}

// ipExtractor uses the peer address unless trusted proxy ranges are set,
// in which case X-Forwarded-For is honoured only for hops inside them.
func ipExtractor(trusted []string) (echo.IPExtractor, error) {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trusted {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

// newNotificationManager picks Resend and the SMS gateway when configured
// and falls back to logging otherwise.
func newNotificationManager(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	nlog := logger.With().Str("component", "notification").Logger()

	var email notification.EmailSender = notification.NewLogSender(nlog)
	if cfg.EmailConfigured() {
		email = notification.NewResendSender(cfg.ResendAPIKey, cfg.NotifyEmailFrom, nlog)
	}
	var sms notification.SMSSender = notification.NewLogSender(nlog)
	if cfg.SMSConfigured() {
		sms = notification.NewSMSGatewaySender(notification.SMSGatewayConfig{
			BaseURL: cfg.SMSGatewayURL,
			Token:   cfg.SMSGatewayToken,
			Sender:  cfg.SMSSender,
			Retries: 2,
		}, nlog)
	}

	mgr := notification.NewManager(email, sms, notification.NewTemplateEngine())
	mgr.SetLogger(nlog)
	return mgr
}
