package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fl1X12/doctor-side-sub000/internal/config"
	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
	"github.com/fl1X12/doctor-side-sub000/internal/domain/reports"
	"github.com/fl1X12/doctor-side-sub000/internal/importer"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/auth"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/blobstore"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/cache"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/db"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/metrics"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/middleware"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/mongodb"
)

const version = "0.1.0"

// serverDeps are the services the router needs. runServer builds them from
// configuration; tests build them directly.
type serverDeps struct {
	patients    *patient.Service
	reports     *reports.Service
	metrics     *metrics.Collector
	storeHealth echo.HandlerFunc
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	collector := metrics.NewCollector("opd", nil)

	var (
		repo        patient.Repository
		storeHealth echo.HandlerFunc
		mongoDB     *mongo.Database
	)
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mongo")
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		mongoDB = client.Database(cfg.MongoDatabase)
		repo, err = patient.NewPatientRepoMongo(ctx, mongoDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare patient collection")
		}
		storeHealth = mongodb.HealthHandler(client)
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongo")
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		repo = patient.NewPatientRepoPG(pool)
		storeHealth = db.HealthHandler(pool)
		logger.Info().Msg("connected to postgres; run `opd-server migrate up` after upgrades")
	}

	listCache, err := cache.New(ctx, cache.Config{URL: cfg.RedisURL, TTL: cfg.ListCacheTTL}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("list cache unavailable, listings go straight to the store")
		listCache, _ = cache.New(ctx, cache.Config{}, logger)
	}
	defer listCache.Close()

	var blobs blobstore.BlobStore
	switch cfg.ReportStore {
	case config.ReportStoreGridFS:
		gridfs, err := blobstore.NewGridFSBlobStore(ctx, mongoDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open report bucket")
		}
		blobs = gridfs
	default:
		logger.Warn().Msg("reports are kept in memory and lost on restart")
		blobs = blobstore.NewInMemoryBlobStore()
	}

	patients := patient.NewService(repo,
		patient.WithListCache(listCache),
		patient.WithRecorder(collector),
		patient.WithLogger(logger.With().Str("component", "patient").Logger()),
	)

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", cfg.Port)
	}
	reportSvc := reports.NewService(blobs, patients, baseURL, logger.With().Str("component", "reports").Logger())

	e := newRouter(cfg, logger, serverDeps{
		patients:    patients,
		reports:     reportSvc,
		metrics:     collector,
		storeHealth: storeHealth,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Bool("list_cache", listCache.IsEnabled()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, d serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger, d.metrics))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(d.metrics.Middleware())

	if cfg.ResolvedAuthMode() == config.AuthModeJWT {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	} else {
		e.Use(auth.DevAuthMiddleware())
	}

	e.Use(middleware.Audit(logger, d.metrics))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if d.storeHealth != nil {
		e.GET("/health/store", d.storeHealth)
	}
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.Sanitize(logger))

	patient.NewHandler(d.patients, importer.Parse).RegisterRoutes(apiV1)
	apiV1.GET("/patients/import/template", importer.TemplateHandler,
		auth.RequireRole(auth.RoleFrontDesk, auth.RoleNurse))
	reports.NewHandler(d.reports).RegisterRoutes(apiV1)

	for _, r := range e.Routes() {
		if strings.HasPrefix(r.Path, "/api/") {
			logger.Debug().Str("method", r.Method).Str("path", r.Path).Msg("route registered")
		}
	}
	return e
}
