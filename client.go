package docq

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/db/memory"
	dbRedis "github.com/kailas-cloud/docq/internal/db/redis"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/navigation"
	"github.com/kailas-cloud/docq/internal/pipeline"
	"github.com/kailas-cloud/docq/internal/query/translate"
)

const defaultReadinessTimeout = 10 * time.Second

// Client is the docq SDK entry point. It owns the store connection, the
// type registry and the query pipeline; sessions are cheap and per unit of
// work.
type Client struct {
	gw       db.Gateway
	registry *model.Registry
	table    *codec.Table
	tr       *translate.Translator
	pipe     *pipeline.Pipeline
	pool     *ants.Pool
	log      *zap.Logger
}

// New creates a Client and connects to the store.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{driver: "memory", database: "default", readiness: defaultReadinessTimeout}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	verbosity, err := pipeline.ParseVerbosity(string(cfg.verbosity))
	if err != nil {
		return nil, fmt.Errorf("docq: %w", err)
	}

	gw, err := createGateway(cfg)
	if err != nil {
		return nil, err
	}
	if err := gw.WaitForReady(context.Background(), cfg.readiness); err != nil {
		gw.Close()
		return nil, fmt.Errorf("docq: database not ready: %w", err)
	}

	c, err := wireClient(gw, cfg, verbosity)
	if err != nil {
		gw.Close()
		return nil, err
	}
	return c, nil
}

func createGateway(cfg *clientConfig) (db.Gateway, error) {
	switch cfg.driver {
	case "memory":
		return memory.New(cfg.database), nil
	case "redis", "valkey":
		if len(cfg.addrs) == 0 {
			return nil, fmt.Errorf("docq: %s address required", cfg.driver)
		}
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
			Prefix:   cfg.prefix,
			Database: cfg.database,
		})
		if err != nil {
			return nil, fmt.Errorf("docq: create %s store: %w", cfg.driver, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("docq: unknown driver %q", cfg.driver)
	}
}

func wireClient(gw db.Gateway, cfg *clientConfig, verbosity pipeline.Verbosity) (*Client, error) {
	if cfg.metricsReg != nil {
		if err := metrics.Register(cfg.metricsReg); err != nil {
			return nil, fmt.Errorf("docq: %w", err)
		}
	}
	pool, err := navigation.NewPool(cfg.concurrency, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("docq: %w", err)
	}

	table := codec.NewTable(cfg.enums...)
	registry := model.NewRegistry()
	pipe, err := pipeline.New(
		pipeline.Config{LazyLoading: cfg.lazyLoading, Verbosity: verbosity},
		pipeline.Deps{Gateway: gw, Registry: registry, Table: table, Pool: pool, Logger: cfg.logger},
	)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("docq: %w", err)
	}
	return &Client{
		gw:       gw,
		registry: registry,
		table:    table,
		tr:       translate.New(table),
		pipe:     pipe,
		pool:     pool,
		log:      cfg.logger,
	}, nil
}

// Close releases the worker pool and the store connection.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Release()
	}
	if c.gw != nil {
		c.gw.Close()
	}
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.gw.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Database returns the name of the logical database.
func (c *Client) Database() string { return c.gw.Database() }

// Session starts a unit of work with its own identity map.
func (c *Client) Session() *Session {
	return &Session{c: c, tracker: pipeline.NewTracker()}
}

// EntityOption configures the registration of one type.
type EntityOption = model.Option

// WithConstructor materializes the type through fn instead of assigning
// fields. params name, in order, the member bound to each argument.
func WithConstructor(fn any, params ...string) EntityOption {
	return model.WithConstructor(fn, params...)
}

// Register describes T, stored in the root collection collection. Types
// reachable from T through embedded values, references and child
// collections are described with it.
func Register[T any](c *Client, collection string, opts ...EntityOption) error {
	if _, err := c.registry.Register(reflect.TypeFor[T](), collection, opts...); err != nil {
		return fmt.Errorf("register %s: %w", reflect.TypeFor[T](), err)
	}
	return nil
}

func (c *Client) entity(typ reflect.Type) (*model.Entity, error) {
	e, ok := c.registry.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", ErrInvalidSchema, typ)
	}
	return e, nil
}
