package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/purushoth411/postmanback/api"
	"github.com/purushoth411/postmanback/config"
	"github.com/purushoth411/postmanback/notify"
	"github.com/purushoth411/postmanback/progression"
	"github.com/purushoth411/postmanback/storage"
	"github.com/purushoth411/postmanback/storage/sqlstore"
)

type backend interface {
	progression.Store
	progression.Catalog
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var (
		catalog progression.Catalog = store
		deduper api.Deduper
		sinks   []notify.Sink
	)
	if opts := cfg.RedisOptions(); opts != nil {
		rc := redis.NewClient(opts)
		defer rc.Close()
		catalog = storage.NewCachedCatalog(store, rc, cfg.CatalogCacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		sinks = append(sinks, notify.NewRedisSink(rc, cfg.EventsChannel))
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set, catalog cache and idempotency keys disabled")
	}
	if cfg.StorageConnectionString != "" && cfg.EventsQueue != "" {
		qs, err := notify.NewQueueSink(cfg.StorageConnectionString, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		sinks = append(sinks, qs)
	}

	dispatcher := notify.NewDispatcher(notify.Options{
		Workers:        cfg.NotifyWorkers,
		Buffer:         cfg.NotifyBuffer,
		HandoffTimeout: cfg.NotifyHandoffTimeout,
		Logger:         logger,
	}, sinks...)
	defer dispatcher.Close()

	engine := progression.New(store, catalog, progression.Options{
		Policy:   progression.Policy{Threshold: cfg.CooldownThreshold, Window: cfg.CooldownWindow},
		Notifier: dispatcher,
		Logger:   logger,
	})

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, engine, auth, deduper, logger)
	if cfg.PprofEnabled {
		pprof.Register(e)
	}

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	if cfg.StoreBackend == config.BackendTables {
		s, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.MilestonesTable, cfg.AdminsTable, cfg.CountersTable)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}

	dialect, err := sqlstore.ParseDialect(cfg.StoreBackend)
	if err != nil {
		return nil, nil, err
	}
	dsn := cfg.MySQLDSN
	if dialect == sqlstore.SQLite {
		dsn = cfg.SQLitePath
	}
	s, err := sqlstore.Open(dialect, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return s, func() {
		if err := s.Close(); err != nil {
			log.WithError(err).Warn("close store")
		}
	}, nil
}

func newAuth(cfg *config.Config) (*api.Auth, error) {
	if cfg.AuthTestMode {
		log.Warn("AUTH0_TEST_MODE enabled, accepting HS256 test tokens")
		return api.NewTestAuth([]byte(cfg.TestJWTSecret), cfg.AuthAudience, ""), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.AuthAudience, "https://"+cfg.AuthDomain+"/"), nil
}
