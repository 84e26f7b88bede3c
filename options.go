package docq

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/pipeline"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "memory", "redis" or "valkey"
	database string
	addrs    []string
	password string
	prefix   string

	lazyLoading bool
	verbosity   pipeline.Verbosity
	concurrency int
	readiness   time.Duration
	enums       []*codec.Enum

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithMemory keeps documents in process. It is the default.
func WithMemory(database string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
		c.database = database
	})
}

// WithRedis stores documents in Redis.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithValkey stores documents in Valkey.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithDatabase names the logical database documents live in.
func WithDatabase(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.database = name
	})
}

// WithReadinessTimeout bounds how long New waits for the store to answer.
// Default: 10s.
func WithReadinessTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.readiness = d
	})
}

// WithKeyPrefix namespaces every Redis/Valkey key.
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.prefix = prefix
	})
}

// WithLazyLoading makes unloaded references fetch their target on first
// Ref.Load instead of failing.
func WithLazyLoading(enabled bool) Option {
	return optionFunc(func(c *clientConfig) {
		c.lazyLoading = enabled
	})
}

// WithQueryLogging sets the query log verbosity: "off", "summary" or
// "verbose". Queries are logged at debug level.
func WithQueryLogging(verbosity string) Option {
	return optionFunc(func(c *clientConfig) {
		c.verbosity = pipeline.Verbosity(verbosity)
	})
}

// WithSideLoadConcurrency bounds the concurrent fetches issued for
// includes and projected subcollections. Default: 8.
func WithSideLoadConcurrency(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.concurrency = n
	})
}

// WithEnum stores values of E by name instead of by number.
func WithEnum[E codec.Integer](names map[E]string) Option {
	return optionFunc(func(c *clientConfig) {
		c.enums = append(c.enums, codec.NewEnum(names))
	})
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers docq metrics on reg. Pass nil to skip
// registration (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
