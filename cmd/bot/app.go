package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tether/internal/driver"
	"tether/internal/kernel"
	"tether/modules/help"
	"tether/modules/llmreply"
	"tether/modules/move"
	"tether/modules/xkcd"
	"tether/pkg/llm"
	llmconfig "tether/pkg/llm/config"
	"tether/pkg/tether"

	"golang.org/x/sync/errgroup"
)

const (
	envConfigFile             = "TETHER_CONFIG_FILE"
	envLogLevel               = "TETHER_LOG_LEVEL"
	defaultConfigFilePath     = "config/bot.json"
	alternateConfigFilePath   = "bin/config/bot.json"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	botUsername         string

	drivers        []driver.Definition
	routingDefault *kernel.ModuleRoute
	moduleRoutes   map[string]kernel.ModuleRoute

	xkcd     xkcd.Config
	llmReply *llmreply.Config
	move     move.Config
	llm      *llmconfig.Config

	metricsAddress string
}

type fileConfig struct {
	LogLevel string            `json:"log_level"`
	Kernel   fileKernelConfig  `json:"kernel"`
	Drivers  []fileDriverEntry `json:"drivers"`
	Routing  fileRoutingConfig `json:"routing"`
	Modules  fileModulesConfig `json:"modules"`
	LLM      json.RawMessage   `json:"llm"`
	Metrics  fileMetricsConfig `json:"metrics"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
	BotUsername         string `json:"bot_username"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileRoutingConfig struct {
	Default *fileModuleRoute           `json:"default"`
	Modules map[string]fileModuleRoute `json:"modules"`
}

type fileModuleRoute struct {
	Sources []fileSourceRef `json:"sources"`
	Sink    *fileSinkRef    `json:"sink"`
}

type fileSourceRef struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

type fileSinkRef struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

type fileModulesConfig struct {
	XKCD     json.RawMessage `json:"xkcd"`
	LLMReply json.RawMessage `json:"llmreply"`
	Move     json.RawMessage `json:"move"`
}

type fileMetricsConfig struct {
	ListenAddress string `json:"listen_address"`
}

func run(args []string) error {
	flags := flag.NewFlagSet("bot", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to the JSON configuration file (overrides "+envConfigFile+")")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(*configPath, registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))
	kernelRuntime := buildKernelRuntime(logger, cfg)

	drivers, router, err := buildDriverRuntime(context.Background(), logger, cfg, registry)
	if err != nil {
		return err
	}

	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, router, cfg); err != nil {
		return err
	}
	if err := registerRuntimeModules(context.Background(), kernelRuntime, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancelRun()
		if err := kernelRuntime.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if cfg.metricsAddress != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, logger, cfg.metricsAddress)
		})
	}

	return group.Wait()
}

func loadConfig(explicitPath string, registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath(explicitPath)
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if rawLevel := strings.TrimSpace(os.Getenv(envLogLevel)); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", envLogLevel, err)
		}
		cfg.logLevel = level
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(explicitPath string) (string, error) {
	if configFile := strings.TrimSpace(explicitPath); configFile != "" {
		return configFile, nil
	}
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, pass -config, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		drivers:      make([]driver.Definition, 0),
		moduleRoutes: make(map[string]kernel.ModuleRoute),

		xkcd: xkcd.DefaultConfig(),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
	}

	cfg.routingDefault = nil
	if parsed.Routing.Default != nil {
		route, err := parseModuleRoute(*parsed.Routing.Default, "routing.default")
		if err != nil {
			return err
		}
		cfg.routingDefault = &route
	}

	cfg.moduleRoutes = make(map[string]kernel.ModuleRoute, len(parsed.Routing.Modules))
	for moduleName, rawRoute := range parsed.Routing.Modules {
		route, err := parseModuleRoute(rawRoute, fmt.Sprintf("routing.modules.%s", moduleName))
		if err != nil {
			return err
		}
		cfg.moduleRoutes[moduleName] = route
	}

	if err := applyModulesConfig(cfg, parsed.Modules); err != nil {
		return err
	}

	cfg.llm = nil
	if isPresent(parsed.LLM) {
		llmCfg, err := llmconfig.Parse(parsed.LLM)
		if err != nil {
			return fmt.Errorf("parse llm: %w", err)
		}
		cfg.llm = &llmCfg
	}

	cfg.metricsAddress = strings.TrimSpace(parsed.Metrics.ListenAddress)

	return nil
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	for _, field := range []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{name: "kernel.module_hook_timeout", raw: parsed.ModuleHookTimeout, target: &cfg.moduleHookTimeout},
		{name: "kernel.shutdown_timeout", raw: parsed.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{name: "kernel.handler_timeout", raw: parsed.HandlerTimeout, target: &cfg.handlerTimeout},
	} {
		rawTimeout := strings.TrimSpace(field.raw)
		if rawTimeout == "" {
			continue
		}
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return fmt.Errorf("parse %s: %w", field.name, err)
		}
		if timeout <= 0 {
			return fmt.Errorf("parse %s: must be > 0", field.name)
		}
		*field.target = timeout
	}
	if parsed.SubscriptionBuffer != nil {
		if *parsed.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.SubscriptionBuffer
	}
	if parsed.SubscriptionWorkers != nil {
		if *parsed.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.SubscriptionWorkers
	}
	cfg.botUsername = strings.TrimPrefix(strings.TrimSpace(parsed.BotUsername), "@")

	return nil
}

func applyModulesConfig(cfg *appConfig, parsed fileModulesConfig) error {
	if isPresent(parsed.XKCD) {
		xkcdCfg, err := xkcd.ParseConfig(parsed.XKCD)
		if err != nil {
			return fmt.Errorf("parse modules.xkcd: %w", err)
		}
		cfg.xkcd = xkcdCfg
	}

	cfg.llmReply = nil
	if isPresent(parsed.LLMReply) {
		llmReplyCfg, err := llmreply.ParseConfig(parsed.LLMReply)
		if err != nil {
			return fmt.Errorf("parse modules.llmreply: %w", err)
		}
		cfg.llmReply = &llmReplyCfg
	}

	moveCfg, err := move.ParseConfig(parsed.Move)
	if err != nil {
		return fmt.Errorf("parse modules.move: %w", err)
	}
	cfg.move = moveCfg

	return nil
}

// isPresent reports whether a raw section was given and is not null.
func isPresent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

func parseModuleRoute(raw fileModuleRoute, scope string) (kernel.ModuleRoute, error) {
	if len(raw.Sources) == 0 {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sources is required", scope)
	}
	if raw.Sink == nil {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sink is required", scope)
	}

	sources := make([]tether.EventSource, 0, len(raw.Sources))
	for index, sourceRef := range raw.Sources {
		source := tether.EventSource{
			Platform: tether.Platform(strings.TrimSpace(sourceRef.Platform)),
			ID:       strings.TrimSpace(sourceRef.ID),
		}
		if source.Platform == "" && source.ID == "" {
			return kernel.ModuleRoute{}, fmt.Errorf("%s.sources[%d]: empty source reference", scope, index)
		}
		sources = append(sources, source)
	}

	sink := tether.SinkRef{
		Platform: tether.Platform(strings.TrimSpace(raw.Sink.Platform)),
		ID:       strings.TrimSpace(raw.Sink.ID),
	}
	if sink.Platform == "" && sink.ID == "" {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sink: empty sink reference", scope)
	}

	return kernel.ModuleRoute{Sources: sources, Sink: &sink}, nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	seen := make(map[string]struct{}, len(cfg.drivers))
	enabledDrivers := make([]driver.Definition, 0, len(cfg.drivers))
	enabledByName := make(map[string]driver.Definition, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seen[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabledDrivers = append(enabledDrivers, definition)
		enabledByName[definition.Name] = definition
	}
	if len(enabledDrivers) == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	if cfg.llmReply != nil {
		if cfg.llm == nil {
			return fmt.Errorf("modules.llmreply requires the llm section")
		}
		if _, exists := cfg.llm.Providers[cfg.llmReply.Provider]; !exists {
			return fmt.Errorf("modules.llmreply.provider: unknown llm provider %s", cfg.llmReply.Provider)
		}
	}

	moduleNames := cfg.runtimeModuleNames()
	knownModules := make(map[string]struct{}, len(moduleNames))
	for _, moduleName := range moduleNames {
		knownModules[moduleName] = struct{}{}
	}
	for moduleName, route := range cfg.moduleRoutes {
		if _, known := knownModules[moduleName]; !known {
			return fmt.Errorf("routing.modules.%s: unknown module", moduleName)
		}
		if err := validateRouteRefs(route, enabledByName, fmt.Sprintf("routing.modules.%s", moduleName)); err != nil {
			return err
		}
	}
	if cfg.routingDefault != nil {
		if err := validateRouteRefs(*cfg.routingDefault, enabledByName, "routing.default"); err != nil {
			return err
		}
	}

	if len(enabledDrivers) == 1 && cfg.routingDefault == nil {
		sole := enabledDrivers[0]
		platform, err := registry.PlatformForType(sole.Type)
		if err != nil {
			return fmt.Errorf("derive default route from driver %s: %w", sole.Name, err)
		}
		cfg.routingDefault = &kernel.ModuleRoute{
			Sources: []tether.EventSource{{Platform: platform, ID: sole.Name}},
			Sink:    &tether.SinkRef{Platform: platform, ID: sole.Name},
		}
	}

	if len(enabledDrivers) >= 2 && cfg.routingDefault == nil {
		for _, moduleName := range moduleNames {
			if _, exists := cfg.moduleRoutes[moduleName]; !exists {
				return fmt.Errorf("routing.default is required in multi-driver mode unless all modules override")
			}
		}
	}

	return nil
}

// runtimeModuleNames lists the modules this configuration registers.
func (cfg appConfig) runtimeModuleNames() []string {
	names := []string{"xkcd"}
	if cfg.llmReply != nil {
		names = append(names, "llmreply")
	}

	return append(names, "move", "help")
}

func validateRouteRefs(
	route kernel.ModuleRoute,
	enabledByName map[string]driver.Definition,
	scope string,
) error {
	for index, source := range route.Sources {
		if source.ID != "" {
			if _, exists := enabledByName[source.ID]; !exists {
				return fmt.Errorf("%s.sources[%d]: unknown driver id %s", scope, index, source.ID)
			}
		}
	}
	if route.Sink != nil && route.Sink.ID != "" {
		if _, exists := enabledByName[route.Sink.ID]; !exists {
			return fmt.Errorf("%s.sink: unknown driver id %s", scope, route.Sink.ID)
		}
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	options := []kernel.Option{
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithModuleRouting(cfg.routingDefault, cfg.moduleRoutes),
	}
	if cfg.handlerTimeout > 0 {
		options = append(options, kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout))
	}
	if cfg.botUsername != "" {
		options = append(options, kernel.WithBotUsername(cfg.botUsername))
	}

	return kernel.New(options...)
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry,
) ([]tether.Driver, *driver.Router, error) {
	if registry == nil {
		return nil, nil, fmt.Errorf("build drivers: nil driver registry")
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build drivers: %w", err)
	}

	drivers := make([]tether.Driver, 0, len(runtimes))
	for _, runtime := range runtimes {
		drivers = append(drivers, runtime.Driver)
	}

	router, err := driver.NewRouter(runtimes)
	if err != nil {
		return nil, nil, fmt.Errorf("build outbound router: %w", err)
	}

	return drivers, router, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	router *driver.Router,
	cfg appConfig,
) error {
	if err := kernelRuntime.RegisterService(tether.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}
	if router == nil {
		return fmt.Errorf("register outbound dispatcher service: nil router")
	}
	if err := kernelRuntime.RegisterService(tether.ServiceOutboundDispatcher, router); err != nil {
		return fmt.Errorf("register outbound dispatcher service: %w", err)
	}
	if cfg.llm == nil || len(cfg.llm.Providers) == 0 {
		return nil
	}

	providers, err := llm.NewRegistryFromConfig(*cfg.llm)
	if err != nil {
		return fmt.Errorf("build llm provider registry: %w", err)
	}
	if err := kernelRuntime.RegisterService(tether.ServiceLLMProviderRegistry, providers); err != nil {
		return fmt.Errorf("register llm provider registry service: %w", err)
	}

	return nil
}

func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, cfg appConfig) error {
	modules := make([]tether.Module, 0, 4)

	xkcdModule, err := xkcd.New(cfg.xkcd)
	if err != nil {
		return fmt.Errorf("new xkcd module: %w", err)
	}
	modules = append(modules, xkcdModule)

	if cfg.llmReply != nil {
		llmReplyModule, err := llmreply.New(*cfg.llmReply)
		if err != nil {
			return fmt.Errorf("new llmreply module: %w", err)
		}
		modules = append(modules, llmReplyModule)
	}

	moveModule, err := move.New(cfg.move)
	if err != nil {
		return fmt.Errorf("new move module: %w", err)
	}
	modules = append(modules, moveModule, help.New())

	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []tether.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}
