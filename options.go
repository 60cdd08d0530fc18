package dirgo

import (
	"log/slog"

	"github.com/hupe1980/dirgo/plugin"
	"github.com/hupe1980/dirgo/resource"
)

type options struct {
	pipeline         *plugin.Pipeline
	metricsCollector MetricsCollector
	logger           *Logger
	resources        resource.Config
	domain           string
}

// Option configures Server constructor behavior.
type Option func(*options)

// WithPlugins replaces the standard constraint pipeline.
//
// The order matters: identifier assignment must run before uniqueness
// checks, and reference cleanup before membership derivation. Use this
// to append custom plugins to plugin.Default()'s set, not to skip the
// built-in constraints.
func WithPlugins(ps ...plugin.Plugin) Option {
	return func(o *options) {
		o.pipeline = plugin.NewPipeline(ps...)
	}
}

// WithResourceLimits configures operational limits: concurrent search
// admission, background job slots and archive IO throughput.
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = cfg
	}
}

// WithDomain sets the domain name recorded on the domain_info entry
// during Initialize. Defaults to "localdomain".
func WithDomain(domain string) Option {
	return func(o *options) {
		o.domain = domain
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &dirgo.BasicMetricsCollector{}
//	s, _ := dirgo.New(store, dirgo.WithMetricsCollector(metrics))
//	// ... use s ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := dirgo.NewJSONLogger(slog.LevelInfo)
//	s, _ := dirgo.New(store, dirgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		pipeline:         plugin.Default(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		domain:           "localdomain",
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
