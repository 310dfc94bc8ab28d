package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"tether/pkg/tether"
)

// Kernel wires drivers to modules through the event bus and owns their
// lifecycles.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string
	commands    map[string]commandRegistration
	drivers     map[string]tether.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a kernel.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	kernel := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.subscriptionBuffer, cfg.subscriptionWorker, cfg.handlerTimeout, cfg.onAsyncError),
		services: NewServiceRegistry(),
		modules:  make(map[string]*moduleRecord),
		commands: make(map[string]commandRegistration),
		drivers:  make(map[string]tether.Driver),
	}
	// The registry is fresh, so this cannot collide.
	_ = kernel.services.Register(tether.ServiceCommandCatalog, tether.CommandCatalog(kernel))

	return kernel
}

// EventBus exposes the bus, mainly for tests and integration code.
func (k *Kernel) EventBus() tether.EventBus {
	return k.bus
}

// Services exposes the service registry.
func (k *Kernel) Services() tether.ServiceRegistry {
	return k.services
}

// RegisterService binds a service singleton by name.
func (k *Kernel) RegisterService(name string, service any) error {
	return k.services.Register(name, service)
}

// RegisterModule validates module's spec, claims its commands, calls
// OnRegister and subscribes its declared handlers. Any failure rolls the
// module back out.
func (k *Kernel) RegisterModule(ctx context.Context, module tether.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	record := &moduleRecord{name: name, module: module, capabilities: spec.Capabilities()}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, tether.ErrModuleAlreadyRegistered)
	}
	k.modules[name] = record
	k.moduleOrder = append(k.moduleOrder, name)
	k.mu.Unlock()

	route := k.routeFor(name)
	runtime := &moduleRuntime{
		moduleName:  name,
		services:    k.services,
		bus:         k.bus,
		record:      record,
		defaultSink: route.Sink,
	}

	if err := k.registerModuleCommands(name, spec.Commands); err != nil {
		k.rollbackModule(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()
	if err := runSafely("module "+name+" OnRegister", func() error {
		return module.OnRegister(hookCtx, runtime)
	}); err != nil {
		k.rollbackModule(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	for index, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-%s", name, declared.Capability.Name)
		}
		interest := declared.Capability.Interest
		if len(route.Sources) > 0 {
			interest.Sources = slices.Clone(route.Sources)
		}
		if _, err := runtime.Subscribe(hookCtx, interest, subscription, declared.Handler); err != nil {
			k.rollbackModule(ctx, record)
			return fmt.Errorf("register module %s handler %d: %w", name, index, err)
		}
	}

	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"handlers", len(spec.Handlers),
		"commands", len(spec.Commands),
	)

	return nil
}

// RegisterDriver adds a platform driver.
func (k *Kernel) RegisterDriver(driver tether.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, tether.ErrDriverAlreadyRegistered)
	}
	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules, runs drivers until ctx ends or one driver fails, then
// shuts everything down.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.beginRun(); err != nil {
		return err
	}
	defer k.endRun()

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdownAll(ctx))
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	driverFailed, waitDrivers := k.startDrivers(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-driverFailed:
	}
	cancelRun()
	waitDrivers()

	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdownAll(ctx))
}

func (k *Kernel) beginRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) endRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

func (k *Kernel) moduleSnapshot() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	records := make([]*moduleRecord, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		records = append(records, k.modules[name])
	}

	return records
}

func (k *Kernel) driverSnapshot() []tether.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	drivers := make([]tether.Driver, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		drivers = append(drivers, k.drivers[name])
	}

	return drivers
}

func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.moduleSnapshot() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// startDrivers runs every driver in its own goroutine. The channel yields
// the first fatal driver error, or context.Canceled once all drivers have
// returned. Without drivers it never yields. wait blocks for driver exit, bounded by the shutdown timeout.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	failed := make(chan error, 1)
	done := make(chan struct{})
	sink := k.newDriverEventSink()
	drivers := k.driverSnapshot()
	if len(drivers) == 0 {
		close(done)
		return failed, func() {}
	}

	var running sync.WaitGroup
	for _, driver := range drivers {
		running.Add(1)
		go func() {
			defer running.Done()
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(ctx, sink)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case failed <- fmt.Errorf("run driver %s: %w", driver.Name(), err):
			default:
			}
		}()
	}

	go func() {
		running.Wait()
		close(done)
		select {
		case failed <- context.Canceled:
		default:
		}
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			k.cfg.logger.Warn("drivers did not stop before shutdown timeout")
		}
	}

	return failed, wait
}

// shutdownAll stops drivers, then modules, then the bus, each in reverse
// registration order. It keeps going past errors and outlives ctx.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	drivers := k.driverSnapshot()
	for _, driver := range slices.Backward(drivers) {
		if err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		}); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", driver.Name(), err))
		}
	}

	for _, record := range slices.Backward(k.moduleSnapshot()) {
		if err := record.closeSubscriptions(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		hookCtx, cancelHook := context.WithTimeout(shutdownCtx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancelHook()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	if err := k.bus.Close(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

func (k *Kernel) rollbackModule(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleCommands(record.name)

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, record.name)
	k.moduleOrder = slices.DeleteFunc(k.moduleOrder, func(name string) bool { return name == record.name })
}

func (k *Kernel) checkRequiredServices(capabilities []tether.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

func (k *Kernel) routeFor(moduleName string) ModuleRoute {
	if route, ok := k.cfg.moduleRoutes[moduleName]; ok {
		return route
	}
	if k.cfg.defaultRoute != nil {
		return *k.cfg.defaultRoute
	}

	return ModuleRoute{}
}

func validateModuleSpec(spec tether.ModuleSpec) error {
	capabilities := make(map[string]struct{}, len(spec.Handlers))
	subscriptions := make(map[string]struct{}, len(spec.Handlers))
	for index, handler := range spec.Handlers {
		name := handler.Capability.Name
		switch {
		case name == "":
			return fmt.Errorf("module handler %d: empty capability name", index)
		case handler.Handler == nil:
			return fmt.Errorf("module handler %s: nil handler", name)
		}
		if _, dup := capabilities[name]; dup {
			return fmt.Errorf("module handler %d: duplicate capability name %s", index, name)
		}
		capabilities[name] = struct{}{}

		if sub := handler.Subscription.Name; sub != "" {
			if _, dup := subscriptions[sub]; dup {
				return fmt.Errorf("module handler %s: duplicate subscription name %s", name, sub)
			}
			subscriptions[sub] = struct{}{}
		}
	}

	return nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
