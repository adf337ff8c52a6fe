// Package redis implements the cross-node relay transport using go-redis/v9
// Pub/Sub. Channel naming is one channel per node; delivery guarantees are
// the substrate's contract.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/akindolabs/pulsemarket/internal/domain"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis Client, pings it to verify connectivity, and
// returns the wrapper. It returns an error if the connection cannot be
// established.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// channelFor returns the Pub/Sub channel carrying envelopes for a node.
func channelFor(node domain.NodeID) string {
	return "pulsemarket:relay:" + string(node)
}

// Transport implements domain.RelayTransport over Redis Pub/Sub.
type Transport struct {
	rdb *redis.Client
}

// NewTransport creates a Transport backed by the given Client.
func NewTransport(c *Client) *Transport {
	return &Transport{rdb: c.rdb}
}

// Publish delivers a raw envelope payload to the node's channel.
func (t *Transport) Publish(ctx context.Context, node domain.NodeID, payload []byte) error {
	if err := t.rdb.Publish(ctx, channelFor(node), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channelFor(node), err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription for the node's channel and
// returns a read-only channel of raw payloads. The subscription is closed
// and the channel drained when ctx is cancelled.
func (t *Transport) Subscribe(ctx context.Context, node domain.NodeID) (<-chan []byte, error) {
	pubsub := t.rdb.Subscribe(ctx, channelFor(node))

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channelFor(node), err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.RelayTransport = (*Transport)(nil)
