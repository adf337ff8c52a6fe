package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	redisbus "github.com/akindolabs/pulsemarket/internal/bus/redis"
	"github.com/akindolabs/pulsemarket/internal/config"
	"github.com/akindolabs/pulsemarket/internal/crypto"
	"github.com/akindolabs/pulsemarket/internal/custody"
	"github.com/akindolabs/pulsemarket/internal/domain"
	"github.com/akindolabs/pulsemarket/internal/engine"
	"github.com/akindolabs/pulsemarket/internal/relay"
	"github.com/akindolabs/pulsemarket/internal/store/memory"
	"github.com/akindolabs/pulsemarket/internal/store/postgres"
)

// Dependencies bundles everything the running node needs: the market engine,
// the relay plumbing, and the backing stores. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Engine     *engine.Engine
	Dispatcher *relay.Dispatcher
	Store      domain.MarketStore
	Audit      domain.AuditStore
	Custody    domain.CustodyGateway
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Market store ---
	switch cfg.Store {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Store = postgres.NewMarketStore(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
	case "memory":
		deps.Store = memory.NewMarketStore()
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported store %q", cfg.Store)
	}

	// --- Relay transport ---
	redisClient, err := redisbus.New(ctx, redisbus.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	transport := redisbus.NewTransport(redisClient)
	codec := relay.NewCodec(cfg.Node.ClusterSecret)
	sender := relay.NewSender(codec, transport)

	// --- Custody gateway ---
	deps.Custody = custody.NewClient(cfg.Custody.BaseURL, &crypto.HMACAuth{
		Key:    cfg.Custody.ApiKey,
		Secret: cfg.Custody.ApiSecret,
	})

	// --- Engine ---
	params, err := cfg.MarketParams()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	deps.Engine = engine.New(engine.Config{
		Node:    domain.NodeID(cfg.Node.ID),
		Home:    domain.NodeID(cfg.Node.HomeNode),
		Market:  params.ID,
		Store:   deps.Store,
		Custody: deps.Custody,
		Relay:   sender,
		Audit:   deps.Audit,
		Logger:  logger,
	})

	// First boot of a node instantiates its local copy of the market.
	if _, err := deps.Store.Load(ctx, params.ID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load market: %w", err)
		}
		if err := deps.Engine.CreateMarket(ctx, params); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
	}

	deps.Dispatcher = relay.NewDispatcher(
		domain.NodeID(cfg.Node.ID), codec, transport, deps.Engine, logger,
	)

	return deps, cleanup, nil
}
