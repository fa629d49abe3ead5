package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/sopkit/sopkit/internal/config"
	"github.com/sopkit/sopkit/internal/domain/conflict"
	"github.com/sopkit/sopkit/internal/domain/lookup"
	"github.com/sopkit/sopkit/internal/domain/matching"
	"github.com/sopkit/sopkit/internal/domain/rule"
	"github.com/sopkit/sopkit/internal/domain/sop"
	"github.com/sopkit/sopkit/internal/platform/db"
	"github.com/sopkit/sopkit/internal/platform/kv"
	"github.com/sopkit/sopkit/internal/platform/llm"
	"github.com/sopkit/sopkit/internal/platform/middleware"
	"github.com/sopkit/sopkit/migrations"
)

const version = "0.1.0"

// Routes with payloads larger than a JSON call.
const (
	importPath  = "/api/v1/rules/import"
	extractPath = "/api/v1/rules/extract"
)

// app holds the wired services shared by the server and the offline commands.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   kv.Store
	pool    *pgxpool.Pool
	lookups *lookup.Service
	matcher *matching.Matcher
	rules   *rule.Service
	sops    *sop.Service
	resolve *conflict.Resolver
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured key-value backend. The pool is nil unless
// the driver is postgres; the kv_entries table is migrated on open.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (kv.Store, *pgxpool.Pool, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		if n > 0 {
			logger.Info().Int("applied", n).Msg("database migrated")
		}
		return kv.NewPostgresStore(pool), pool, nil
	default:
		store, err := kv.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil, nil
	}
}

// newApp wires every service on top of store. The lookup registry is
// restored from the store; when nothing was stored and a seed file is
// configured, the seed becomes the initial vocabulary.
func newApp(ctx context.Context, cfg *config.Config, store kv.Store, logger zerolog.Logger) (*app, error) {
	reg := lookup.NewRegistry()
	lookupStore := lookup.NewStore(store)
	loaded, err := lookupStore.Load(ctx, reg)
	if err != nil {
		return nil, err
	}
	lookups := lookup.NewService(reg, lookupStore, logger)
	if !loaded && cfg.LookupSeedFile != "" {
		tags, err := lookup.LoadSeedFile(cfg.LookupSeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read lookup seed: %w", err)
		}
		if _, err := lookups.Seed(ctx, tags); err != nil {
			return nil, err
		}
	}

	matcher := matching.NewMatcher(reg, matching.Thresholds{
		Semantic:    cfg.MatchSemanticThreshold,
		Keyword:     cfg.MatchKeywordThreshold,
		CodeOverlap: cfg.MatchCodeOverlapThreshold,
	})

	sops := sop.NewService(sop.NewKVRepo(store), logger)

	ruleRepo := rule.NewKVRepo(store)
	rules := rule.NewService(ruleRepo, reg, lookups, logger)
	rules.SetMatcher(matcher)
	rules.SetSOPActivator(sops)
	rules.SetExtractor(llm.NewClient(llm.Config{
		BaseURL: cfg.LLMAPIURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout(),
	}))

	resolver := conflict.NewResolver(ruleRepo, reg, lookups, conflict.NewAuditLog(store), logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		lookups: lookups,
		matcher: matcher,
		rules:   rules,
		sops:    sops,
		resolve: resolver,
	}, nil
}

func (a *app) Close() error {
	err := a.store.Close()
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

// server builds the echo instance with the middleware chain and all routes.
func (a *app) server() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimitBytes, map[string]int64{
		http.MethodPost + " " + importPath:  16 * cfg.BodyLimitBytes,
		http.MethodPost + " " + extractPath: 4 * cfg.BodyLimitBytes,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout(), extractPath))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	a.registerStoreHealth(e)

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	api := e.Group("/api/v1", middleware.RateLimit(rl))

	lookup.NewHandler(a.lookups).RegisterRoutes(api)
	matching.NewHandler(a.matcher).RegisterRoutes(api)
	rule.NewHandler(a.rules).RegisterRoutes(api)
	conflict.NewHandler(a.resolve).RegisterRoutes(api)
	sop.NewHandler(a.sops).RegisterRoutes(api)

	return e
}

func (a *app) registerStoreHealth(e *echo.Echo) {
	p, ok := a.store.(db.Pinger)
	if !ok {
		return
	}
	var stats func() interface{}
	if a.pool != nil {
		pool := a.pool
		stats = func() interface{} { return db.GetPoolStats(pool) }
	}
	e.GET("/health/db", db.HealthHandler(a.cfg.StoreDriver, p, stats))
}
