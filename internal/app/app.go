// Package app provides the top-level application lifecycle for a pulse
// market node. It wires together the store, relay transport, custody client,
// and engine, and runs the relay dispatcher loop.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/akindolabs/pulsemarket/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and blocks serving the relay dispatcher until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting node",
		slog.String("node", a.cfg.Node.ID),
		slog.String("home_node", a.cfg.Node.HomeNode),
		slog.String("store", a.cfg.Store),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Engine.IsHomeNode() {
		a.logger.InfoContext(ctx, "this node is the market's home node")
	}

	g, ctx := errgroup.WithContext(ctx)

	// Every node listens for envelopes addressed to it. Non-home nodes drop
	// relayed bets with a home-node rejection, which guards against address
	// confusion.
	g.Go(func() error {
		return deps.Dispatcher.Run(ctx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down node")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
