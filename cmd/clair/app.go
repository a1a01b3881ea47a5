package main

import (
	"context"
	"fmt"

	"github.com/easeaico/ctrl-clair/internal/config"
	"github.com/easeaico/ctrl-clair/internal/flux"
	"github.com/easeaico/ctrl-clair/internal/llm"
	"github.com/easeaico/ctrl-clair/internal/memory"
	"github.com/easeaico/ctrl-clair/internal/metrics"
	"github.com/easeaico/ctrl-clair/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the components shared by every command.
type app struct {
	store      memory.SnapshotStore
	graph      *memory.Graph
	registry   *prometheus.Registry
	generator  *flux.Client
	dispatcher *service.Dispatcher
}

// newApp opens the snapshot store and wires the graph, the generator and
// the dispatcher. A missing or broken genai setup is not fatal: image
// generation then reports a client initialization failure.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	graph := memory.NewGraph(store,
		memory.WithLogger(logger.Named("memory")),
		memory.WithObserver(m),
	)
	if err := graph.Load(ctx); err != nil {
		logger.Warn("starting with an empty memory graph", zap.Error(err))
	}

	generator := newGenerator(ctx, cfg, logger.Named("flux"))

	dispatcher := service.NewDispatcher(service.Config{
		Graph:              graph,
		Generator:          generator,
		Logger:             logger.Named("dispatcher"),
		Metrics:            m,
		MaxDelegationDepth: cfg.MaxDelegationDepth,
	})

	return &app{
		store:      store,
		graph:      graph,
		registry:   registry,
		generator:  generator,
		dispatcher: dispatcher,
	}, nil
}

// Close flushes the graph and releases the store.
func (a *app) Close(ctx context.Context) error {
	flushErr := a.graph.Flush(ctx)
	if err := a.graph.Close(); err != nil {
		return fmt.Errorf("failed to close memory store: %w", err)
	}
	return flushErr
}

func openStore(ctx context.Context, cfg config.Config) (memory.SnapshotStore, error) {
	switch cfg.DBType {
	case config.DBMemory:
		return memory.NewMemStore(), nil

	case config.DBSQLite:
		store, err := memory.NewSQLiteStore(ctx, cfg.DatabaseURL, cfg.SnapshotKey)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		if err := store.InitSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
		}
		return store, nil

	case config.DBPostgres:
		store, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.SnapshotKey)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := store.InitSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to init postgres schema: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported db_type %q", cfg.DBType)
	}
}

func newGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) *flux.Client {
	opts := []flux.Option{
		flux.WithModel(cfg.FluxModel),
		flux.WithTimeout(cfg.FluxTimeout),
		flux.WithLogger(logger),
	}

	client, err := llm.NewClient(ctx, genaiSettings(cfg))
	if err != nil {
		logger.Warn("image generation disabled", zap.Error(err))
		return flux.NewClient(nil, append(opts, flux.WithInitError(err))...)
	}
	return flux.NewClient(client.Models, opts...)
}

func genaiSettings(cfg config.Config) llm.Settings {
	return llm.Settings{
		APIKey:   cfg.APIKey,
		Project:  cfg.Project,
		Location: cfg.Location,
	}
}
