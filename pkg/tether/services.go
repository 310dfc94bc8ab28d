package tether

import (
	"fmt"
	"log/slog"
	"reflect"
)

// Service registry keys shared by the kernel, drivers and modules.
const (
	// ServiceLogger holds the shared *slog.Logger. Modules fall back to
	// slog.Default when it is absent.
	ServiceLogger = "logger"
	// ServiceOutboundDispatcher holds the OutboundDispatcher that routes
	// sends, edits and deletes to driver sinks.
	ServiceOutboundDispatcher = "tether.outbound_dispatcher"
	// ServiceLLMProviderRegistry holds the LLMProviderRegistry.
	ServiceLLMProviderRegistry = "tether.llm_provider_registry"
	// ServiceCommandCatalog holds the kernel's CommandCatalog.
	ServiceCommandCatalog = "tether.command_catalog"
)

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves name and asserts the service to T. A service of any
// other type fails with ErrServiceTypeMismatch.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T
	if registry == nil {
		return zero, fmt.Errorf("resolve service %s: nil registry", name)
	}

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: %T is not %v: %w",
			name, service, reflect.TypeFor[T](), ErrServiceTypeMismatch)
	}

	return typed, nil
}

// ModuleLogger returns the registered logger, or fallback when none is
// registered, tagged with the module name.
func ModuleLogger(registry ServiceRegistry, moduleName string, fallback *slog.Logger) *slog.Logger {
	logger, err := ResolveAs[*slog.Logger](registry, ServiceLogger)
	if err != nil || logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = slog.Default()
	}

	return logger.With("module", moduleName)
}
