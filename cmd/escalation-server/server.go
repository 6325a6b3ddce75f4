package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/config"
	"github.com/docai/escalation/internal/domain/account"
	"github.com/docai/escalation/internal/domain/emergency"
	"github.com/docai/escalation/internal/domain/hospital"
	"github.com/docai/escalation/internal/domain/messaging"
	"github.com/docai/escalation/internal/domain/triage"
	"github.com/docai/escalation/internal/platform/auth"
	"github.com/docai/escalation/internal/platform/db"
	"github.com/docai/escalation/internal/platform/metrics"
	"github.com/docai/escalation/internal/platform/middleware"
	"github.com/docai/escalation/internal/platform/webhook"
	"github.com/docai/escalation/internal/platform/websocket"
)

const version = "0.1.0"

// stores groups the repositories the server runs on. pool is nil in
// in-memory mode.
type stores struct {
	pool        *pgxpool.Pool
	emergencies emergency.Repository
	messages    messaging.Repository
	accounts    account.Repository
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.InMemory() {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		return memoryStores(), nil
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")
	return &stores{
		pool:        pool,
		emergencies: emergency.NewRepoPG(pool),
		messages:    messaging.NewRepoPG(pool),
		accounts:    account.NewRepoPG(pool),
	}, nil
}

func memoryStores() *stores {
	return &stores{
		emergencies: emergency.NewMemoryRepo(),
		messages:    messaging.NewMemoryRepo(),
		accounts:    account.NewMemoryRepo(),
	}
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// authMiddleware selects identity verification for the resolved auth mode.
func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch mode := cfg.ResolvedAuthMode(); mode {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware(), nil
	case config.AuthModeSecret:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}), nil
	case config.AuthModeExternal:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// buildServer wires every route and middleware onto a new echo instance.
// Background workers started here stop when ctx is cancelled.
func buildServer(ctx context.Context, cfg *config.Config, st *stores, logger zerolog.Logger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(metrics.Middleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	e.Use(authMW)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.pool))
	e.GET("/metrics", metrics.Handler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	// Registered accounts supply the role for tokens that carry only a subject.
	accountSvc := account.NewService(st.accounts, logger)
	api := e.Group("/api", middleware.RateLimit(rateLimitCfg), account.RoleResolver(accountSvc))
	apiV1 := api.Group("/v1")

	// Realtime hub; emergency transitions are pushed to the queue room.
	hub := websocket.NewHub(logger)
	websocket.NewRoomHandler(hub, cfg.CORSOrigins, logger).RegisterRoutes(e.Group(""))

	emergencySvc := emergency.NewService(st.emergencies, logger)
	publisher, err := dispatchPublisher(ctx, cfg, hub, logger)
	if err != nil {
		return nil, err
	}
	emergencySvc.SetPublisher(publisher)
	emergency.NewHandler(emergencySvc).RegisterRoutes(api)

	messaging.NewHandler(messaging.NewService(st.messages, logger)).RegisterRoutes(api)
	account.NewHandler(accountSvc).RegisterRoutes(api)

	triage.NewHandler(triage.DefaultPipeline(cfg.EmergencyThreshold), logger).RegisterRoutes(apiV1)

	dir, err := hospital.LoadDirectory(cfg.HospitalDirectoryFile)
	if err != nil {
		return nil, err
	}
	matcher := hospital.NewMatcher(dir, hospital.Config{
		SpeedKmh:      cfg.AssumedSpeedKmh,
		DefaultCity:   cfg.DefaultCity,
		LocateTimeout: cfg.GeoTimeout,
	}, logger)
	hospital.NewHandler(matcher, cfg.EmergencyNumber).RegisterRoutes(apiV1)

	return e, nil
}

// dispatchPublisher fans emergency events out to the hub and, when
// DISPATCH_WEBHOOK_URLS is set, to the outbound webhook dispatcher.
func dispatchPublisher(ctx context.Context, cfg *config.Config, hub *websocket.Hub, logger zerolog.Logger) (emergency.Publisher, error) {
	if len(cfg.DispatchWebhookURLs) == 0 {
		return hub, nil
	}
	endpoints := make([]webhook.Endpoint, 0, len(cfg.DispatchWebhookURLs))
	for _, u := range cfg.DispatchWebhookURLs {
		endpoints = append(endpoints, webhook.Endpoint{
			URL:    u,
			Secret: cfg.DispatchWebhookSecret,
			Events: []string{"emergency.*"},
		})
	}
	d, err := webhook.NewDispatcher(endpoints, logger)
	if err != nil {
		return nil, fmt.Errorf("dispatch webhooks: %w", err)
	}
	go d.Run(ctx)
	logger.Info().Int("endpoints", len(endpoints)).Msg("dispatch webhooks enabled")
	return emergency.Fanout{hub, d}, nil
}
