package flowq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"

	"github.com/petrijr/flowq/pkg/api"
)

// Option customizes New.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger   *slog.Logger
	observer api.Observer
	redis    *redis.Client
	db       *sql.DB
	mongo    *mongo.Client
}

func newOptions(opts []Option) *runtimeOptions {
	o := &runtimeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.observer == nil {
		o.observer = api.NewLoggingObserver(o.logger)
	}
	return o
}

// WithLogger sets the logger of every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runtimeOptions) { o.logger = logger }
}

// WithObserver replaces the default logging observer of the worker.
func WithObserver(obs api.Observer) Option {
	return func(o *runtimeOptions) { o.observer = obs }
}

// WithRedisClient supplies the Redis client instead of dialing
// Settings.RedisURL. The caller keeps ownership.
func WithRedisClient(client *redis.Client) Option {
	return func(o *runtimeOptions) { o.redis = client }
}

// WithDB supplies the SQL database for the sqlite and postgres stores and
// the postgres locker. The caller keeps ownership.
func WithDB(db *sql.DB) Option {
	return func(o *runtimeOptions) { o.db = db }
}

// WithMongoClient supplies the MongoDB client. The caller keeps ownership.
func WithMongoClient(client *mongo.Client) Option {
	return func(o *runtimeOptions) { o.mongo = client }
}

// connections opens shared clients lazily and closes the ones it opened.
type connections struct {
	opts *runtimeOptions

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

func (c *connections) own(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

func (c *connections) redisClient(settings Settings) (*redis.Client, error) {
	if c.opts.redis != nil {
		return c.opts.redis, nil
	}
	opt, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	c.opts.redis = client
	c.own(client.Close)
	return client, nil
}

// dedicatedRedisClient returns a new client with the options of shared,
// for a component that closes its own client.
func (c *connections) dedicatedRedisClient(shared *redis.Client) *redis.Client {
	return redis.NewClient(shared.Options())
}

func (c *connections) sqlDB(driver, dsn string) (*sql.DB, error) {
	if c.opts.db != nil {
		return c.opts.db, nil
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	c.opts.db = db
	c.own(db.Close)
	return db, nil
}

func (c *connections) mongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	if c.opts.mongo != nil {
		return c.opts.mongo, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	c.opts.mongo = client
	c.own(func() error { return client.Disconnect(context.Background()) })
	return client, nil
}

// close closes owned connections in reverse order of opening. Later calls
// are no-ops.
func (c *connections) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
