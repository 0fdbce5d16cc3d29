// Package daemon composes the inbox core into one fx application: providers
// for every component and the lifecycle hooks that start and drain them.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker/baileys"
	"github.com/victorbrgs/omnibox/internal/broker/cloudapi"
	"github.com/victorbrgs/omnibox/internal/broker/meow"
	"github.com/victorbrgs/omnibox/internal/bus"
	"github.com/victorbrgs/omnibox/internal/config"
	"github.com/victorbrgs/omnibox/internal/httpapi"
	"github.com/victorbrgs/omnibox/internal/ingest"
	"github.com/victorbrgs/omnibox/internal/lock"
	"github.com/victorbrgs/omnibox/internal/logging"
	"github.com/victorbrgs/omnibox/internal/model"
	"github.com/victorbrgs/omnibox/internal/orchestrator"
	"github.com/victorbrgs/omnibox/internal/session"
	"github.com/victorbrgs/omnibox/internal/share"
	"github.com/victorbrgs/omnibox/internal/status"
	"github.com/victorbrgs/omnibox/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds what the fx module cannot derive itself.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLockRegistry,
			provideStore,
			provideOrchestrator,
			provideSessionManager,
			provideStateMachine,
			providePipeline,
			provideShareService,
			provideServer,
		),
		fx.Invoke(registerAdapters, registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLockRegistry() *lock.Registry {
	return lock.NewRegistry()
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath))
	return db, nil
}

func provideOrchestrator(cfg *config.Config, logger *zap.Logger) *orchestrator.Orchestrator {
	order := make([]model.BrokerType, 0, len(cfg.Orchestrator.FallbackOrder))
	for _, bt := range cfg.Orchestrator.FallbackOrder {
		order = append(order, model.BrokerType(bt))
	}
	return orchestrator.New(orchestrator.Config{
		EnableFallback: cfg.Orchestrator.EnableFallback,
		FallbackOrder:  order,
		MaxRetries:     cfg.Orchestrator.MaxRetries,
		RetryDelay:     cfg.Orchestrator.RetryDelay(),
		HealthTimeout:  cfg.Orchestrator.HealthTimeout(),
		CacheEnabled:   cfg.Orchestrator.CacheEnabled,
		CacheTTL:       cfg.Orchestrator.CacheTTL(),
	}, logger)
}

func provideSessionManager(db *store.DB, logger *zap.Logger) *session.Manager {
	return session.NewManager(db, logger)
}

func provideStateMachine(db *store.DB, b *bus.Bus, logger *zap.Logger) *status.Machine {
	return status.NewMachine(db, b, logger)
}

func providePipeline(cfg *config.Config, orch *orchestrator.Orchestrator, sessions *session.Manager, machine *status.Machine, db *store.DB, locks *lock.Registry, b *bus.Bus, logger *zap.Logger) *ingest.Pipeline {
	return ingest.New(orch, sessions, machine, db, locks, b, cfg.LockTimeout(), logger)
}

func provideShareService(cfg *config.Config, db *store.DB, logger *zap.Logger) *share.Service {
	return share.New(db, cfg.ShareBaseURL, logger)
}

func provideServer(cfg *config.Config, pipeline *ingest.Pipeline, orch *orchestrator.Orchestrator, sessions *session.Manager, db *store.DB, shares *share.Service, b *bus.Bus, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(httpapi.Options{
		Addr:         cfg.HTTPAddr,
		VerifyToken:  cfg.VerifyToken,
		VerifySecret: cfg.VerifySecret,
	}, pipeline, orch, sessions, db, shares, b, logger)
}

// registerAdapters wires the webhook brokers into the orchestrator. The
// direct channel is handled separately because it owns a live client.
func registerAdapters(cfg *config.Config, orch *orchestrator.Orchestrator, logger *zap.Logger) {
	client := &http.Client{Timeout: 15 * time.Second}
	orch.Register(cloudapi.New(cfg.Brokers.CloudAPIBaseURL, client, logger))
	orch.Register(baileys.New(cfg.Brokers.BaileysBaseURL, client, logger))
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *httpapi.Server, pipeline *ingest.Pipeline, orch *orchestrator.Orchestrator, sessions *session.Manager, shares *share.Service, machine *status.Machine, db *store.DB, logger *zap.Logger) {
	sweepDone := make(chan struct{})
	var direct *meow.Adapter

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Brokers.MeowEnabled {
				adapter, err := startDirectChannel(ctx, cfg, pipeline, machine, db, logger)
				if err != nil {
					return err
				}
				direct = adapter
				orch.Register(adapter)
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			go runSweeps(cfg.SweepInterval(), sessions, shares, sweepDone)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(sweepDone)
			if direct != nil {
				direct.Disconnect()
			}
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("http shutdown error", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close error", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// startDirectChannel brings up the embedded client and feeds its events into
// the ingestion pipeline like any other broker's webhooks.
func startDirectChannel(ctx context.Context, cfg *config.Config, pipeline *ingest.Pipeline, machine *status.Machine, db *store.DB, logger *zap.Logger) (*meow.Adapter, error) {
	connectionID := cfg.Brokers.MeowConnectionID

	if _, err := db.Connection(connectionID); errors.Is(err, store.ErrNotFound) {
		if err := db.UpsertConnection(&model.Connection{
			ID:         connectionID,
			BrokerType: model.BrokerMeow,
			Status:     model.ConnDisconnected,
		}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	sink := meow.Sink(func(connID string, raw []byte) {
		if _, err := pipeline.Ingest(context.Background(), connID, raw, model.BrokerMeow); err != nil {
			logger.Warn("direct channel event dropped",
				zap.String("connection_id", connID),
				zap.Error(err))
		}
	})

	adapter, err := meow.New(ctx, connectionID, cfg.Brokers.MeowDBPath, sink, logger)
	if err != nil {
		return nil, err
	}

	if err := machine.Transition(connectionID, model.ConnConnecting, "daemon start"); err != nil {
		logger.Warn("connection status not updated", zap.Error(err))
	}
	go func() {
		if err := adapter.Connect(context.Background()); err != nil {
			logger.Error("direct channel connect failed", zap.Error(err))
			_ = machine.Transition(connectionID, model.ConnError, err.Error())
		}
	}()
	return adapter, nil
}

// runSweeps periodically lifts lapsed auto-response blocks and deletes
// expired share tokens.
func runSweeps(interval time.Duration, sessions *session.Manager, shares *share.Service, done <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = sessions.SweepExpiredBlocks()
			_, _ = shares.Sweep()
		case <-done:
			return
		}
	}
}
