package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/wolfeidau/queryjobs/internal/async"
	"github.com/wolfeidau/queryjobs/internal/config"
	"github.com/wolfeidau/queryjobs/internal/logger"
	"github.com/wolfeidau/queryjobs/internal/notify"
	"github.com/wolfeidau/queryjobs/internal/payload"
	"github.com/wolfeidau/queryjobs/internal/server"
	"github.com/wolfeidau/queryjobs/internal/store"
	postgresstore "github.com/wolfeidau/queryjobs/internal/store/postgres"
	"github.com/wolfeidau/queryjobs/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen  string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"QUERYJOBS_LISTEN"`
	BaseURL string `help:"external base URL used in job view links" default:"http://localhost:8080/v1" env:"QUERYJOBS_BASE_URL"`
	Config  string `help:"path to optional YAML config file; file values override flags" default:"" env:"QUERYJOBS_CONFIG"`

	// Wait protocol configuration
	DefaultAsyncAfter time.Duration `help:"how long an await request blocks when the client does not say" default:"10s" env:"QUERYJOBS_DEFAULT_ASYNC_AFTER"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"*" env:"QUERYJOBS_CORS_ORIGINS"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"QUERYJOBS_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"QUERYJOBS_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`

	// Notification bus configuration
	BusType string   `help:"notification bus type (channel or redis)" default:"channel" env:"QUERYJOBS_BUS_TYPE" enum:"channel,redis"`
	Redis   BusFlags `embed:"" prefix:"redis-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"QUERYJOBS_POSTGRES_AUTO_MIGRATE"`
}

type BusFlags struct {
	Addr    string `help:"redis address for the notification bus" default:"localhost:6379" env:"QUERYJOBS_REDIS_ADDR"`
	Channel string `help:"redis pub/sub channel for result notifications" default:"queryjobs.results" env:"QUERYJOBS_REDIS_CHANNEL"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Config != "" {
		cfg, err := config.Load(c.Config)
		if err != nil {
			return err
		}
		c.applyConfig(cfg)
		log.Info().Str("path", c.Config).Msg("Loaded config file")
	}

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "queryjobs-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create stores based on store type
	var (
		jobStore    store.JobStore
		resultStore store.ResultStore
	)

	switch c.StoreType {
	case "postgres":
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		jobStore = postgresstore.NewJobStore(pool)
		resultStore, err = postgresstore.NewResultStore(pool)
		if err != nil {
			return fmt.Errorf("failed to create result store: %w", err)
		}

		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		jobStore = store.NewMemoryJobStore()
		resultStore = store.NewMemoryResultStore()
		log.Info().Msg("Using in-memory stores")
	}

	if err := jobStore.Start(); err != nil {
		return err
	}
	defer func() {
		if err := jobStore.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop job store")
		}
	}()

	// Create the notification bus
	var bus notify.Bus
	switch c.BusType {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.Redis.Addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		bus = notify.NewRedisBus(client, c.Redis.Channel)
		log.Info().Str("addr", c.Redis.Addr).Str("channel", c.Redis.Channel).Msg("Using redis notification bus")

	default:
		bus = notify.NewChannelBus()
		log.Info().Msg("Using in-process notification bus")
	}

	builder := payload.NewDefaultBuilder(c.BaseURL)
	coordinator := async.NewCoordinator(jobStore, resultStore, bus, builder)

	api := server.New(coordinator, jobStore, resultStore, bus, c.DefaultAsyncAfter)

	handler := withCORS(c.CORSOrigins, logger.Requests(log)(api.Routes()))

	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return configureHTTPServer(c.Listen, handler).ListenAndServe()
}

// applyConfig layers file-provided values over the flag defaults.
func (c *ServerCmd) applyConfig(cfg *config.Config) {
	if cfg.Listen != "" {
		c.Listen = cfg.Listen
	}
	if cfg.DefaultAsyncAfter > 0 {
		c.DefaultAsyncAfter = cfg.DefaultAsyncAfter
	}
	if cfg.Store.Type != "" {
		c.StoreType = cfg.Store.Type
	}
	if cfg.Store.Postgres.ConnString != "" {
		c.PostgresStore.ConnString = cfg.Store.Postgres.ConnString
	}
	if cfg.Store.Postgres.MaxConns > 0 {
		c.PostgresStore.MaxConns = cfg.Store.Postgres.MaxConns
	}
	if cfg.Store.Postgres.MinConns > 0 {
		c.PostgresStore.MinConns = cfg.Store.Postgres.MinConns
	}
	if cfg.Store.Postgres.AutoMigrate {
		c.PostgresStore.AutoMigrate = true
	}
	if cfg.Bus.Type != "" {
		c.BusType = cfg.Bus.Type
	}
	if cfg.Bus.Redis.Addr != "" {
		c.Redis.Addr = cfg.Bus.Redis.Addr
	}
	if cfg.Bus.Redis.Channel != "" {
		c.Redis.Channel = cfg.Bus.Redis.Channel
	}
}

// withCORS adds CORS support to the API handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return middleware.Handler(h)
}
