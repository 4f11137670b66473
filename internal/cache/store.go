package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultURL is the Redis instance used when none is configured
const DefaultURL = "redis://localhost:6379"

var (
	// ErrUnavailable is returned when the cache cannot be reached, even after one reconnect
	ErrUnavailable = errors.New("cache unavailable")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("cache closed")
)

// Store is a best-effort TTL cache backed by Redis.
//
// The connection is created lazily by the first operation. Every operation probes the
// connection first, except right after connecting; a failed probe drops the client and
// reconnects exactly once.
type Store struct {
	opts   *redis.Options
	logger *slog.Logger

	connect singleflight.Group

	mu     sync.Mutex
	client *redis.Client
	closed bool
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDialTimeout bounds connection setup
func WithDialTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.opts.DialTimeout = d
		}
	}
}

// New parses url and returns a store. No connection is made until first use.
func New(url string, opts ...Option) (*Store, error) {
	if url == "" {
		url = DefaultURL
	}
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	redisOpts.DialTimeout = 2 * time.Second
	redisOpts.MaxRetries = -1 // reconnect policy lives in this package

	s := &Store{
		opts:   redisOpts,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping establishes the connection if needed and checks liveness
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

// Get returns the cached value for key. A miss is (nil, false, nil).
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, false, err
	}
	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key for ttl
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Keys lists keys starting with prefix
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.Scan(ctx, cursor, prefix+"*", 500).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s*: %w", prefix, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// AddToSet adds members to the set stored at key
func (s *Store) AddToSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

// Members returns the members of the set stored at key
func (s *Store) Members(ctx context.Context, key string) ([]string, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	members, err := c.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

// Close releases the connection. It is safe to call when no connection was ever made.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// conn returns a probed client, connecting or reconnecting as needed. A client created by
// this call was pinged while connecting and is not probed again.
func (s *Store) conn(ctx context.Context) (*redis.Client, error) {
	c, fresh, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if fresh {
		return c, nil
	}

	if err := c.Ping(ctx).Err(); err == nil {
		return c, nil
	} else {
		s.logger.Warn("cache probe failed, reconnecting", "addr", s.opts.Addr, "err", err)
	}

	s.drop(c)
	c, fresh, err = s.current(ctx)
	if err != nil {
		return nil, err
	}
	if fresh {
		return c, nil
	}
	if err := c.Ping(ctx).Err(); err != nil {
		s.drop(c)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}

// current returns the existing client or single-flights the creation of a new one.
// fresh reports that the client was created, and pinged, by this call.
func (s *Store) current(ctx context.Context) (*redis.Client, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrClosed
	}
	if s.client != nil {
		c := s.client
		s.mu.Unlock()
		return c, false, nil
	}
	s.mu.Unlock()

	type connected struct {
		client *redis.Client
		fresh  bool
	}
	v, err, _ := s.connect.Do("connect", func() (interface{}, error) {
		s.mu.Lock()
		if s.client != nil {
			c := s.client
			s.mu.Unlock()
			return connected{client: c}, nil
		}
		s.mu.Unlock()

		start := time.Now()
		c := redis.NewClient(s.opts)
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			s.logger.Error("cache connect failed", "addr", s.opts.Addr, "err", err)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			_ = c.Close()
			return nil, ErrClosed
		}
		s.client = c
		s.logger.Info("cache connected", "addr", s.opts.Addr, "duration", time.Since(start))
		return connected{client: c, fresh: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(connected)
	return res.client, res.fresh, nil
}

// drop forgets c if it is still the active client
func (s *Store) drop(c *redis.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == c {
		_ = s.client.Close()
		s.client = nil
	}
}
