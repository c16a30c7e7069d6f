package keystore

import (
	"context"
	"crypto/tls"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection behind the keystore.
type Options struct {
	// Redis server address.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config.
	TLSConfig *tls.Config
}

// DefaultOptions returns options for a local unauthenticated Redis.
func DefaultOptions() Options {
	return Options{
		Address:  "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	}
}

// Client wraps a Redis connection used for replication locks and
// idempotency markers.
type Client struct {
	rdb *redis.Client
}

// Open creates a keystore client. The connection is established lazily;
// use Ping to verify reachability.
func Open(options Options) *Client {
	rdb := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	})
	return &Client{rdb: rdb}
}

// NewClient wraps an existing Redis connection. Used by tests and by
// components sharing one connection pool.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies the Redis server is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Redis exposes the underlying connection so the queue runtime can share it
func (c *Client) Redis() *redis.Client {
	return c.rdb
}
