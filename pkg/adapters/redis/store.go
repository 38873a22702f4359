package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const (
	defaultHistoryPrefix = "parley:history:"
	defaultRunPrefix     = "parley:run:"

	// Index score used when entries never expire (2100-01-01).
	noExpiryScore = 4102444800
)

type options struct {
	prefix string
	ttl    time.Duration
}

// Option configures a Redis-backed store.
type Option func(*options)

// WithTTL sets the expiration for stored entries.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func buildOptions(prefix string, opts []Option) options {
	o := options{prefix: prefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient dials a Redis client for the given address.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

// Store implements ports.HistoryStore using Redis.
// Each session is one JSON string key, indexed by a sorted set for listing.
type Store struct {
	client *backend.Client
	options
}

// New creates a new Redis history store with options.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(NewClient(address, password, db), opts...)
}

// NewFromClient creates a new Redis history store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	return &Store{
		client:  client,
		options: buildOptions(defaultHistoryPrefix, opts),
	}
}

// Save persists the history to Redis.
func (s *Store) Save(ctx context.Context, sessionID string, history domain.History) error {
	data, err := domain.EncodeHistory(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return putIndexed(ctx, s.client, s.options, sessionID, data)
}

// Load retrieves the history from Redis.
func (s *Store) Load(ctx context.Context, sessionID string) (domain.History, error) {
	val, err := s.client.Get(ctx, s.prefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to get from redis: %v", domain.ErrStorageUnavailable, err)
	}
	return domain.DecodeHistory(val)
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return deleteIndexed(ctx, s.client, s.options, sessionID)
}

// List returns stored sessions, pruning expired ones from the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return listIndexed(ctx, s.client, s.options)
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func putIndexed(ctx context.Context, client *backend.Client, o options, id string, data []byte) error {
	pipe := client.Pipeline()

	// Use 0 for no expiration if ttl is not set.
	pipe.Set(ctx, o.prefix+id, data, o.ttl)

	score := float64(time.Now().Add(o.ttl).Unix())
	if o.ttl == 0 {
		score = noExpiryScore
	}
	pipe.ZAdd(ctx, o.prefix+"index", backend.Z{
		Score:  score,
		Member: id,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to save to redis: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func deleteIndexed(ctx context.Context, client *backend.Client, o options, id string) error {
	pipe := client.Pipeline()
	pipe.Del(ctx, o.prefix+id)
	pipe.ZRem(ctx, o.prefix+"index", id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to delete from redis: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func listIndexed(ctx context.Context, client *backend.Client, o options) ([]string, error) {
	// Lazy cleanup of index members whose key has expired
	now := float64(time.Now().Unix())
	err := client.ZRemRangeByScore(ctx, o.prefix+"index", "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to prune expired entries: %v", domain.ErrStorageUnavailable, err)
	}

	ids, err := client.ZRange(ctx, o.prefix+"index", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list entries: %v", domain.ErrStorageUnavailable, err)
	}
	return ids, nil
}
