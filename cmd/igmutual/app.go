package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"igmutual/internal/store"
	"igmutual/pkg/auth"
	"igmutual/pkg/cache"
	"igmutual/pkg/checkpoint"
	"igmutual/pkg/config"
	"igmutual/pkg/engine"
	"igmutual/pkg/instagram"
	"igmutual/pkg/logger"
	"igmutual/pkg/metrics"
	"igmutual/pkg/notify"
	"igmutual/pkg/queue"
	"igmutual/pkg/scraper"
	"igmutual/pkg/session"
)

// app holds the wired engine and the resources it owns
type app struct {
	cfg      *config.Config
	store    *store.Store
	redis    *cache.RedisCache
	registry *prometheus.Registry
	engine   *engine.Engine
	logger   logger.Logger
}

// newApp opens the state database and wires the engine from cfg
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.GetLogger()

	st, err := store.Open(ctx, cfg.Storage.DatabasePath, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, logger: log}

	var checkpoints checkpoint.Store = st.Checkpoints()
	if cfg.Storage.CheckpointBackend == "file" {
		fs, err := checkpoint.NewFileStore(cfg.Storage.CheckpointDir, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		checkpoints = fs
	}

	creds, err := auth.NewManager(cfg.Session.CredentialBackend, cfg.Session.CredentialsFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewCollector(a.registry)
	}

	notifier := notify.FromConfig(cfg.Notifications, log)
	client := instagram.NewClient(&cfg.Instagram, log)

	sessions := session.NewManager(cfg.Session, st, client, creds,
		session.WithLogger(log),
		session.WithMetrics(recorder),
		session.WithAlerter(notifier))
	if err := sessions.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	fetcher := scraper.New(client, sessions, cfg.Scraper, cfg.RateLimit,
		scraper.WithLogger(log),
		scraper.WithMetrics(recorder))

	q := queue.New(st, cfg.Queue.MaxConcurrent,
		queue.WithLogger(log),
		queue.WithMetrics(recorder),
		queue.WithDefaultDuration(cfg.Queue.EstimatedDuration))

	deps := engine.Deps{
		Repo:        st,
		Queue:       q,
		Fetcher:     fetcher,
		Sessions:    sessions,
		Credentials: creds,
		Checkpoints: checkpoints,
		Notifier:    notifier,
		Metrics:     recorder,
		Logger:      log,
	}

	if cfg.Cache.Enabled {
		rc, err := cache.Connect(ctx, cfg.Cache, cfg.Check.FreshnessWindow)
		if err != nil {
			// The store still answers freshness lookups
			log.WithError(err).Warn("Result cache unavailable, continuing without it")
		} else {
			a.redis = rc
			deps.Cache = rc
		}
	}

	a.engine = engine.New(cfg, deps)
	return a, nil
}

// Close releases the database and cache connections
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close result cache")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}

// withApp wires the app for the duration of fn
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
