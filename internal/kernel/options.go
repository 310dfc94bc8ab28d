package kernel

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tether/pkg/tether"
)

const (
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 1
	defaultHandlerTimeout     = 3 * time.Second
)

type config struct {
	moduleHookTimeout  time.Duration
	shutdownTimeout    time.Duration
	subscriptionBuffer int
	subscriptionWorker int
	handlerTimeout     time.Duration
	botUsername        string
	logger             *slog.Logger
	onAsyncError       func(context.Context, string, error)
	defaultRoute       *ModuleRoute
	moduleRoutes       map[string]ModuleRoute
}

// ModuleRoute pins one module to driver instances.
type ModuleRoute struct {
	// Sources restricts inbound delivery to matching event sources.
	Sources []tether.EventSource
	// Sink is used for outbound requests whose target names no sink.
	Sink *tether.SinkRef
}

// Option mutates kernel construction configuration.
type Option func(*config)

func defaultConfig() config {
	cfg := config{
		moduleHookTimeout:  defaultModuleHookTimeout,
		shutdownTimeout:    defaultShutdownTimeout,
		subscriptionBuffer: defaultSubscriptionBuffer,
		subscriptionWorker: defaultSubscriptionWorker,
		handlerTimeout:     defaultHandlerTimeout,
		moduleRoutes:       make(map[string]ModuleRoute),
	}
	WithLogger(slog.Default())(&cfg)

	return cfg
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

// WithDefaultSubscriptionBuffer sets the queue depth for subscriptions that
// do not choose one.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.subscriptionBuffer = size
		}
	}
}

// WithDefaultSubscriptionWorkers sets the worker count for subscriptions that
// do not choose one.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(cfg *config) {
		if workers > 0 {
			cfg.subscriptionWorker = workers
		}
	}
}

// WithDefaultHandlerTimeout sets the per-event handler timeout.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.handlerTimeout = timeout
		}
	}
}

// WithBotUsername makes command derivation ignore `/name@other` invocations
// addressed to a different bot.
func WithBotUsername(username string) Option {
	return func(cfg *config) {
		cfg.botUsername = strings.TrimPrefix(strings.TrimSpace(username), "@")
	}
}

// WithLogger sets the kernel logger and logs async errors through it.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}
		cfg.logger = logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "tether async error", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler replaces the async error sink.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithModuleRouting sets per-module routes; defaultRoute applies to modules
// without an entry.
func WithModuleRouting(defaultRoute *ModuleRoute, routes map[string]ModuleRoute) Option {
	return func(cfg *config) {
		cfg.defaultRoute = cloneRoute(defaultRoute)
		cfg.moduleRoutes = make(map[string]ModuleRoute, len(routes))
		for name, route := range routes {
			cfg.moduleRoutes[name] = *cloneRoute(&route)
		}
	}
}

func cloneRoute(route *ModuleRoute) *ModuleRoute {
	if route == nil {
		return nil
	}
	cloned := ModuleRoute{Sources: append([]tether.EventSource(nil), route.Sources...)}
	if route.Sink != nil {
		sink := *route.Sink
		cloned.Sink = &sink
	}

	return &cloned
}
