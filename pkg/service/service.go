// Package service wires the assessor's components from a configuration.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	"github.com/jphoke/mailtls-assessor/pkg/certchain"
	"github.com/jphoke/mailtls-assessor/pkg/config"
	"github.com/jphoke/mailtls-assessor/pkg/metrics"
	"github.com/jphoke/mailtls-assessor/pkg/orchestrator"
	"github.com/jphoke/mailtls-assessor/pkg/publish"
	"github.com/jphoke/mailtls-assessor/pkg/queue"
	"github.com/jphoke/mailtls-assessor/pkg/resolve"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
	"github.com/jphoke/mailtls-assessor/pkg/trust"
)

// Service holds the long-lived components of a running assessor.
type Service struct {
	Config   config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	// Redis and DB are nil when nothing configured needs them.
	Redis *redis.Client
	DB    *sql.DB

	Assessor  *assess.Assessor
	Queue     queue.Queue
	Producer  queue.Producer
	Publisher publish.Multi
	Hub       *publish.Hub
}

// New connects to the configured backends and builds every component.
// Tables are created when Postgres is in use.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Service, error) {
	reg := prometheus.NewRegistry()
	s := &Service{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}

	var err error
	if s.Redis, err = OpenRedis(cfg); err != nil {
		return nil, err
	}
	if s.DB, err = OpenDatabase(cfg); err != nil {
		s.Close()
		return nil, err
	}

	if s.Assessor, err = NewAssessor(cfg, logger, s.Metrics, s.Redis); err != nil {
		s.Close()
		return nil, err
	}

	switch cfg.Queue.Driver {
	case "postgres":
		q := queue.NewPostgres(s.DB, cfg.Queue.Table, logger.With().Str("component", "queue").Logger())
		if err := q.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.Queue, s.Producer = q, q
	default:
		q := queue.NewRedis(s.Redis, cfg.Queue.Key, logger.With().Str("component", "queue").Logger())
		s.Queue, s.Producer = q, q
	}

	if cfg.Publish.RedisChannel != "" {
		s.Publisher = append(s.Publisher, publish.NewRedis(s.Redis, cfg.Publish.RedisChannel))
	}
	if cfg.Publish.PostgresTable != "" {
		p := publish.NewPostgres(s.DB, cfg.Publish.PostgresTable)
		if err := p.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.Publisher = append(s.Publisher, p)
	}
	if cfg.Publish.Stream {
		s.Hub = publish.NewHub(logger.With().Str("component", "stream").Logger())
		s.Publisher = append(s.Publisher, s.Hub)
	}
	return s, nil
}

// OpenRedis returns a client when the queue, a publisher or the
// revocation cache uses Redis, and nil otherwise.
func OpenRedis(cfg config.Config) (*redis.Client, error) {
	needed := cfg.Queue.Driver == "redis" || cfg.Publish.RedisChannel != "" ||
		(cfg.Revocation.Enabled && cfg.Revocation.Cache == "redis")
	if !needed {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// OpenDatabase returns a pool when the queue or a publisher uses
// Postgres, and nil otherwise.
func OpenDatabase(cfg config.Config) (*sql.DB, error) {
	if cfg.Queue.Driver != "postgres" && cfg.Publish.PostgresTable == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers + 4)
	return db, nil
}

// NewAssessor builds the handshake driver, the trusted-root store and
// the certificate pipeline, and combines them into an assessor. rdb may
// be nil unless the revocation cache is Redis.
func NewAssessor(cfg config.Config, logger zerolog.Logger, rec *metrics.Recorder, rdb *redis.Client) (*assess.Assessor, error) {
	resolver := resolve.New(cfg.DNS.Servers, cfg.DNS.Timeout)
	driver := scanner.NewDriver(cfg.DriverConfig(),
		scanner.WithResolver(resolver),
		scanner.WithLogger(logger.With().Str("component", "driver").Logger()),
		scanner.WithMetrics(rec),
	)

	trustOpts := cfg.TrustOptions()
	trustOpts.Logger = logger
	store, err := trust.Load(trustOpts)
	if err != nil {
		return nil, err
	}

	certOpts := []certchain.Option{
		certchain.WithThresholds(cfg.Thresholds()),
		certchain.WithLogger(logger.With().Str("component", "certificates").Logger()),
	}
	if cfg.Revocation.Enabled {
		var cache certchain.Cache = certchain.NewMemoryCache()
		if cfg.Revocation.Cache == "redis" {
			if rdb == nil {
				return nil, errors.New("redis revocation cache configured without a redis client")
			}
			cache = certchain.NewRedisCache(rdb, logger)
		}
		checker := certchain.NewChecker(
			certchain.WithHTTPClient(&http.Client{Timeout: cfg.Revocation.Timeout}),
			certchain.WithCache(cache, cfg.Revocation.CacheTTL),
			certchain.WithCheckerLogger(logger.With().Str("component", "revocation").Logger()),
			certchain.WithCheckerMetrics(rec),
		)
		certOpts = append(certOpts, certchain.WithRevocation(checker))
	}
	certs := certchain.NewEvaluator(store, certOpts...)

	ac, err := cfg.AssessConfig()
	if err != nil {
		return nil, err
	}
	return assess.New(ac, driver, certs, logger)
}

// Processor builds the queue processor.
func (s *Service) Processor() *orchestrator.Processor {
	cfg := orchestrator.Config{
		Workers:       s.Config.Workers,
		HostTimeout:   s.Config.HostTimeout,
		PollInterval:  s.Config.Queue.PollInterval,
		BatchSize:     s.Config.Batch.Size,
		FlushInterval: s.Config.Batch.FlushInterval,
	}
	return orchestrator.New(cfg, s.Queue, s.Assessor, s.Publisher,
		orchestrator.WithLogger(s.Logger.With().Str("component", "processor").Logger()),
		orchestrator.WithMetrics(s.Metrics),
	)
}

// Health pings every configured backend. The map holds "up" or "down"
// per backend.
func (s *Service) Health(ctx context.Context) (map[string]string, bool) {
	status := map[string]string{}
	healthy := true
	if s.DB != nil {
		status["database"] = "up"
		if err := s.DB.PingContext(ctx); err != nil {
			status["database"] = "down"
			healthy = false
		}
	}
	if s.Redis != nil {
		status["redis"] = "up"
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
			healthy = false
		}
	}
	return status, healthy
}

// Close releases the stream subscribers and backend connections.
func (s *Service) Close() {
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn().Err(err).Msg("closing redis")
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.Logger.Warn().Err(err).Msg("closing database")
		}
	}
}
