package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/easeaico/ctrl-clair/internal/server"
	"github.com/easeaico/ctrl-clair/internal/tools"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var allowedOrigins []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agents, flux and memory HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "cors-origin", nil, "Allowed CORS origins (default: any)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to close memory graph", zap.Error(err))
		}
	}()

	srv := server.New(server.Config{
		Dispatcher:     a.dispatcher,
		Graph:          a.graph,
		Generator:      a.generator,
		Tools:          tools.NewHandler(tools.ToolsConfig{Graph: a.graph, Generator: a.generator}),
		Gatherer:       a.registry,
		Logger:         logger.Named("http"),
		Environment:    cfg.Environment,
		AllowedOrigins: allowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr), zap.String("db", cfg.DBType))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
