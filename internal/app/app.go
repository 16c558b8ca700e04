// Package app wires the game server's components together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/clock"
	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/handler"
	"github.com/snake-arena/internal/kafka"
	"github.com/snake-arena/internal/liveplayers"
	"github.com/snake-arena/internal/metrics"
	"github.com/snake-arena/internal/postgres"
	"github.com/snake-arena/internal/redis"
	"github.com/snake-arena/internal/service"
	"github.com/snake-arena/internal/sqlite"
	"github.com/snake-arena/internal/storage"
	"github.com/snake-arena/internal/storage/memory"
	"github.com/snake-arena/internal/websocket"
	"github.com/snake-arena/internal/worker"
)

// App contains all wired application components
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store    storage.Store
	Registry *liveplayers.Registry
	Ranking  *redis.RankingCache
	Producer *kafka.Producer
	Hub      *websocket.Hub

	MetricsRegistry *prometheus.Registry
	Metrics         *metrics.Collector

	Auth        *auth.Service
	Leaderboard *service.LeaderboardService
	LivePlayers *service.LivePlayerService
	Admin       *service.AdminService

	Sweeper     *worker.Sweeper
	RankingSync *worker.RankingSync
	Consumer    *kafka.Consumer

	Handler http.Handler
	server  *http.Server
}

// OpenStore opens the datastore selected by cfg.Database.Driver, applying
// migrations for the SQL drivers.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory datastore, data is lost on restart")
		return memory.New(), nil
	case config.DriverSQLite:
		logger.Info("opening SQLite database", "path", cfg.SQLite.Path)
		return sqlite.Open(ctx, cfg.SQLite.Path, logger)
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		if err := postgres.RunMigrations(cfg.Postgres.ConnectionString()); err != nil {
			return nil, err
		}
		return postgres.NewRepository(ctx, &cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Migrate applies pending migrations without starting the server
func Migrate(cfg *config.DatabaseConfig) error {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.RunMigrations(cfg.SQLite.Path)
	case config.DriverPostgres:
		return postgres.RunMigrations(cfg.Postgres.ConnectionString())
	case config.DriverMemory:
		return nil
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// New builds the application. Redis and Kafka are connected only when enabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := OpenStore(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening datastore: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Store: store}

	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		a.Ranking, err = redis.NewRankingCache(ctx, &cfg.Redis, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}

	if cfg.Kafka.Enabled {
		a.Producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to kafka: %w", err)
		}
	}

	a.wire(clock.New())
	return a, nil
}

// wire builds everything that does not hold an external connection
func (a *App) wire(clk clock.Clock) {
	cfg, logger := a.Config, a.Logger

	a.MetricsRegistry = prometheus.NewRegistry()
	a.MetricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewCollector(a.MetricsRegistry)

	a.Registry = liveplayers.NewRegistry(liveplayers.Config{
		TTL:    cfg.LivePlayers.TTL,
		Shards: cfg.LivePlayers.Shards,
	}, clk)
	a.Metrics.WatchLivePlayers(a.Registry.Len)

	a.Hub = websocket.NewHub(cfg.Server.CORSOrigins, a.Metrics, logger)

	deps := service.Deps{
		Store:    a.Store,
		Registry: a.Registry,
		Notifier: a.Hub,
		Metrics:  a.Metrics,
		Logger:   logger,
	}
	// Typed nils must not reach the optional interfaces.
	if a.Ranking != nil {
		deps.Ranking = a.Ranking
	}
	if a.Producer != nil {
		deps.Publisher = a.Producer
	}

	gateway := auth.NewGateway(cfg.Auth.JWTSecret, cfg.Auth.BcryptCost, clk)
	a.Auth = auth.NewService(a.Store, gateway, auth.Config{TokenTTL: cfg.Auth.TokenTTL}, logger)
	a.Leaderboard = service.NewLeaderboardService(deps, &cfg.Leaderboard)
	a.LivePlayers = service.NewLivePlayerService(deps)
	a.Admin = service.NewAdminService(deps, a.LivePlayers)

	a.Sweeper = worker.NewSweeper(a.LivePlayers, cfg.LivePlayers.SweepInterval, logger)
	a.RankingSync = worker.NewRankingSync(a.Leaderboard, &cfg.RankingSync, logger)

	a.Handler = handler.NewHandler(handler.Deps{
		Auth:        a.Auth,
		Leaderboard: a.Leaderboard,
		LivePlayers: a.LivePlayers,
		Admin:       a.Admin,
		Hub:         a.Hub,
		Store:       a.Store,
		Metrics:     a.Metrics,
		Gatherer:    a.MetricsRegistry,
		Logger:      logger,
	}, cfg).Router()
}

// Start runs the background workers and the HTTP server. It returns once
// everything is started; server errors are sent on the returned channel.
func (a *App) Start(ctx context.Context) (<-chan error, error) {
	cfg, logger := a.Config, a.Logger

	go a.Hub.Run()

	if a.Ranking != nil {
		logger.Info("rebuilding rankings from database")
		if err := a.RankingSync.RunOnce(ctx); err != nil {
			logger.Warn("failed to rebuild rankings on startup", "error", err)
		}
		if cfg.RankingSync.Enabled {
			if err := a.RankingSync.Start(ctx); err != nil {
				return nil, fmt.Errorf("starting ranking sync: %w", err)
			}
		}
	}

	if cfg.LivePlayers.TTL > 0 {
		if err := a.Sweeper.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting sweeper: %w", err)
		}
	}

	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(&cfg.Kafka, a.Leaderboard, a.Metrics, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka ingestion", "error", err)
		} else if err := consumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka ingestion", "error", err)
			_ = consumer.Stop()
		} else {
			a.Consumer = consumer
		}
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "api_prefix", cfg.Server.APIPrefix)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown stops the server and workers, then closes connections
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down http server: %w", err))
		}
	}

	a.Hub.Stop()

	if a.Consumer != nil {
		if err := a.Consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping kafka consumer: %w", err))
		}
	}
	if err := a.Sweeper.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.RankingSync.Stop(); err != nil {
		errs = append(errs, err)
	}

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases external connections
func (a *App) Close() error {
	var errs []error
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing kafka producer: %w", err))
		}
	}
	if a.Ranking != nil {
		if err := a.Ranking.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing datastore: %w", err))
	}
	return errors.Join(errs...)
}
