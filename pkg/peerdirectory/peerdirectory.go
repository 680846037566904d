// Package peerdirectory caches peer static identities and endpoints in
// Redis, so a node can resolve a peer name to its out-of-band static
// public key and gateway address without a round trip to the config file
// on every handshake.
package peerdirectory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pqvpn/pqvpn/pkg/logging"
)

// Peer is one peer's directory entry: its name, out-of-band static public
// key, and the gateway endpoint to dial to reach it.
type Peer struct {
	Name            string `json:"name"`
	StaticPublicKey []byte `json:"static_public_key"`
	Endpoint        string `json:"endpoint"`
}

// Directory caches Peer entries in Redis.
type Directory struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration
	logger *logging.Logger
}

// Config holds the Redis connection settings for a Directory.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and returns a Directory. A nil logger falls back to
// logging.GetDefaultLogger().
func New(cfg Config, logger *logging.Logger) (*Directory, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to peer directory redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	logger.Info("peer directory redis connection established", logging.Fields{"host": cfg.Host, "port": cfg.Port})
	return &Directory{client: client, ctx: ctx, ttl: ttl, logger: logger}, nil
}

func peerKey(name string) string { return fmt.Sprintf("peer:%s", name) }

// Put caches a peer's directory entry.
func (d *Directory) Put(peer Peer) error {
	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("failed to marshal peer %q: %w", peer.Name, err)
	}
	if err := d.client.Set(d.ctx, peerKey(peer.Name), data, d.ttl).Err(); err != nil {
		return err
	}
	d.logger.Debug("cached peer directory entry", logging.Fields{"peer": peer.Name, "endpoint": peer.Endpoint})
	return nil
}

// Get resolves a peer by name. Returns redis.Nil-wrapped error if absent.
func (d *Directory) Get(name string) (Peer, error) {
	var peer Peer
	data, err := d.client.Get(d.ctx, peerKey(name)).Result()
	if err == redis.Nil {
		return peer, fmt.Errorf("peer %q not in directory: %w", name, redis.Nil)
	}
	if err != nil {
		return peer, err
	}
	if err := json.Unmarshal([]byte(data), &peer); err != nil {
		return peer, fmt.Errorf("failed to unmarshal peer %q: %w", name, err)
	}
	return peer, nil
}

// Invalidate removes a peer's cached entry, e.g. after its static key rotates.
func (d *Directory) Invalidate(name string) error {
	return d.client.Del(d.ctx, peerKey(name)).Err()
}

// RecordSenderIndex caches which peer a live handshake sender_index
// belongs to, so a responder can correlate message 2 delivery failures
// back to a peer name for logging.
func (d *Directory) RecordSenderIndex(index uint32, peerName string, ttl time.Duration) error {
	key := fmt.Sprintf("sender_index:%d", index)
	return d.client.Set(d.ctx, key, peerName, ttl).Err()
}

// ResolveSenderIndex looks up the peer name recorded for a sender_index.
func (d *Directory) ResolveSenderIndex(index uint32) (string, error) {
	key := fmt.Sprintf("sender_index:%d", index)
	name, err := d.client.Get(d.ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("sender_index %d not recorded", index)
	}
	return name, err
}

// Close closes the Redis connection.
func (d *Directory) Close() error {
	d.logger.Info("closing peer directory redis connection")
	return d.client.Close()
}

// Health checks Redis connectivity.
func (d *Directory) Health() error {
	return d.client.Ping(d.ctx).Err()
}
