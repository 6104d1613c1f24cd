package kernel

import (
	"context"
	"log/slog"
	"time"

	"otogi-invite/pkg/otogi"
)

const (
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionLanes  = 1
	defaultHandlerTimeout     = 3 * time.Second
)

// Option configures a Kernel at construction.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	onAsyncError func(context.Context, string, error)

	moduleHookTimeout time.Duration
	shutdownTimeout   time.Duration
	bus               BusDefaults

	// redeliveryWindow is the number of recent driver event keys remembered
	// for duplicate suppression. Zero disables suppression.
	redeliveryWindow int

	defaultRoute *ModuleRoute
	moduleRoutes map[string]ModuleRoute
}

// ModuleRoute restricts which driver instances feed one module.
type ModuleRoute struct {
	// Sources restricts inbound delivery to matching event sources.
	Sources []otogi.EventSource
}

func newConfig(options []Option) config {
	cfg := config{
		moduleHookTimeout: defaultModuleHookTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		bus: BusDefaults{
			Buffer:         defaultSubscriptionBuffer,
			Lanes:          defaultSubscriptionLanes,
			HandlerTimeout: defaultHandlerTimeout,
		},
		moduleRoutes: map[string]ModuleRoute{},
	}
	for _, option := range options {
		option(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.onAsyncError == nil {
		logger := cfg.logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "kernel async error", "scope", scope, "error", err)
		}
	}

	return cfg
}

// WithLogger sets the kernel logger. Unless WithAsyncErrorHandler is also
// given, asynchronous failures are logged here at error level.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithAsyncErrorHandler replaces the sink for handler failures and dropped deliveries.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.moduleHookTimeout = timeout
		}
	}
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithDefaultSubscriptionBuffer sets the per-lane queue depth for subscriptions
// that leave Buffer unset.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.bus.Buffer = size
		}
	}
}

// WithDefaultSubscriptionWorkers sets the lane count for subscriptions that
// leave Workers unset.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(cfg *config) {
		if workers > 0 {
			cfg.bus.Lanes = workers
		}
	}
}

// WithDefaultHandlerTimeout sets the handler bound for subscriptions that
// leave HandlerTimeout unset.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.bus.HandlerTimeout = timeout
		}
	}
}

// WithRedeliveryWindow drops driver events whose kind, source and id match
// one of the last size events already published. Platforms replay events
// after reconnects and a replayed join must not be counted twice.
func WithRedeliveryWindow(size int) Option {
	return func(cfg *config) {
		if size >= 0 {
			cfg.redeliveryWindow = size
		}
	}
}

// WithModuleRouting restricts module subscriptions to the listed sources.
// A module without its own route falls back to defaultRoute when set.
func WithModuleRouting(defaultRoute *ModuleRoute, routes map[string]ModuleRoute) Option {
	return func(cfg *config) {
		cfg.defaultRoute = nil
		if defaultRoute != nil {
			route := defaultRoute.clone()
			cfg.defaultRoute = &route
		}
		cfg.moduleRoutes = make(map[string]ModuleRoute, len(routes))
		for name, route := range routes {
			cfg.moduleRoutes[name] = route.clone()
		}
	}
}

func (r ModuleRoute) clone() ModuleRoute {
	return ModuleRoute{Sources: append([]otogi.EventSource(nil), r.Sources...)}
}
