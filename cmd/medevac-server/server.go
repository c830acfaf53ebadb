package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/config"
	"github.com/medevac/medevac/internal/domain/dashboard"
	"github.com/medevac/medevac/internal/domain/evacuation"
	"github.com/medevac/medevac/internal/domain/patient"
	"github.com/medevac/medevac/internal/domain/tenant"
	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
	"github.com/medevac/medevac/internal/platform/db"
	"github.com/medevac/medevac/internal/platform/events"
	"github.com/medevac/medevac/internal/platform/memstore"
	"github.com/medevac/medevac/internal/platform/middleware"
	"github.com/medevac/medevac/internal/platform/websocket"
)

const wsPath = "/ws"

// stores holds the repositories of one backing store.
type stores struct {
	name        string
	health      db.Pinger
	pool        *pgxpool.Pool
	tenants     tenant.Repository
	patients    patient.Repository
	evacuations evacuation.Repository
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		mem, err := memstore.New()
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
		return &stores{
			name:        config.StoreMemory,
			health:      mem,
			tenants:     tenant.NewRepoMem(mem),
			patients:    patient.NewRepoMem(mem),
			evacuations: evacuation.NewRepoMem(mem),
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &stores{
		name:        config.StorePostgres,
		health:      pool,
		pool:        pool,
		tenants:     tenant.NewRepoPG(pool),
		patients:    patient.NewRepoPG(pool),
		evacuations: evacuation.NewRepoPG(pool),
	}, nil
}

// newVerifier builds the credential verifier for the configured auth mode.
func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	roles := auth.NewRoles(cfg.AdminEmails)

	switch mode := cfg.ResolvedAuthMode(); mode {
	case config.AuthModeJWT:
		return auth.NewJWTVerifier(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthJWTSecret),
			Roles:      roles,
		}), nil
	case config.AuthModeJWKS:
		url := cfg.AuthJWKSURL
		if url == "" {
			discovered, err := auth.DiscoverJWKSURL(ctx, cfg.AuthIssuer)
			if err != nil {
				return nil, fmt.Errorf("discover jwks url: %w", err)
			}
			url = discovered
		}
		return auth.NewJWTVerifier(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			Keys:     auth.NewKeySet(url, cfg.AuthJWKSCacheTTL),
			Roles:    roles,
		}), nil
	case config.AuthModeRemote:
		return auth.NewRemoteVerifier(auth.RemoteConfig{
			BaseURL: cfg.AuthServiceURL,
			APIKey:  cfg.AuthServiceAPIKey,
			Timeout: cfg.AuthTimeout,
			Roles:   roles,
		}), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// server is everything serve constructs. Fields are nil when the matching
// feature is disabled.
type server struct {
	echo   *echo.Echo
	hub    *websocket.Hub
	stores *stores
	redis  *redis.Client
	relay  *events.RedisRelay
	bus    *events.Bus
	feed   *events.ChangeFeed
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv := &server{stores: st, hub: websocket.NewHub(logger)}

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		srv.close()
		return nil, err
	}

	var relay events.Relay
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			srv.close()
			return nil, err
		}
		srv.redis = client
		srv.relay = events.NewRedisRelay(client, cfg.RedisChannel, logger)
		relay = srv.relay
	}
	bus := events.NewBus(srv.hub, relay, logger)
	srv.bus = bus

	if cfg.ChangeFeedEnabled && st.pool != nil {
		srv.feed = events.NewChangeFeed(st.pool, db.ChangeChannel, bus, logger)
	}

	tenantSvc := tenant.NewService(st.tenants, bus)
	patientSvc := patient.NewService(st.patients, bus)
	evacSvc := evacuation.NewService(st.evacuations, patientSvc, tenantSvc, bus)
	dashSvc := dashboard.NewService(patientSvc, evacSvc, tenantSvc)

	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}

	gate := access.NewGate(verifier, tenantSvc, logger)
	gate.Use(middleware.RateLimit(rl))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityConfig{HSTS: cfg.IsProduction()}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
		ExposeHeaders: []string{echo.HeaderXRequestID, echo.HeaderContentDisposition},
	}))
	// the socket upgrade must not be wrapped by a compressing writer
	e.Use(echomw.GzipWithConfig(echomw.GzipConfig{Level: 5, Skipper: auth.AuthSkipper}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.Metrics())
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(st.name, st.health))
	e.GET("/metrics", middleware.MetricsHandler())

	websocket.NewHandler(srv.hub, gate, cfg.CORSOrigins, logger).RegisterRoutes(e)

	api := e.Group("/api/v1")
	api.GET("/realtime", realtimeInfo(cfg.PollIntervalSecs), middleware.RateLimit(rl))

	tenant.NewHandler(tenantSvc).RegisterRoutes(api, gate)
	patient.NewHandler(patientSvc).RegisterRoutes(api, gate)
	evacuation.NewHandler(evacSvc).RegisterRoutes(api, gate)
	dashboard.NewHandler(dashSvc).RegisterRoutes(api, gate)

	srv.echo = e
	return srv, nil
}

// realtimeInfo tells clients where the socket lives and how often to poll
// when it is unavailable.
func realtimeInfo(pollSeconds int) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"ws_path":               wsPath,
			"poll_interval_seconds": pollSeconds,
		})
	}
}

// run serves until ctx is cancelled, then shuts down within timeout.
func (s *server) run(ctx context.Context, addr string, timeout time.Duration, logger zerolog.Logger) error {
	bg, stop := context.WithCancel(ctx)
	defer stop()

	if s.relay != nil {
		go func() {
			if err := s.relay.Run(bg, s.hub); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
	}
	// the outbox is flushed before the Redis client closes
	flushed := make(chan struct{})
	go func() {
		s.bus.Run(bg)
		close(flushed)
	}()
	if s.feed != nil {
		go func() {
			if err := s.feed.Run(bg); err != nil {
				logger.Error().Err(err).Msg("change feed stopped")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("store", s.stores.name).Msg("starting server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result *multierror.Error
	select {
	case err := <-serveErr:
		result = multierror.Append(result, err)
	case <-ctx.Done():
		logger.Info().Msg("shutting down server")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	select {
	case <-flushed:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("event outbox not flushed before shutdown timeout")
	}
	if err := s.close(); err != nil {
		result = multierror.Append(result, err)
	}

	logger.Info().Msg("server stopped")
	return result.ErrorOrNil()
}

func (s *server) close() error {
	var result *multierror.Error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.stores != nil && s.stores.pool != nil {
		s.stores.pool.Close()
	}
	return result.ErrorOrNil()
}
