// Package llmreply answers prompt messages with an LLM-generated reply that
// follows the prompt through edits and deletion.
package llmreply

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"tether/pkg/linker"
	"tether/pkg/reconcile"
	"tether/pkg/tether"
	"tether/pkg/ttrcache"
)

const (
	moduleName       = "llmreply"
	truncationNotice = "\n\n(answer truncated)"
	truncatedItems   = -1
)

// answer is one memoized generation.
type answer struct {
	Text      string
	Truncated bool
}

// Module posts LLM answers to triggered messages.
type Module struct {
	cfg     Config
	answers *ttrcache.Cache[string, answer]
	links   *linker.Linker
	clock   func() time.Time

	provider   tether.LLMProvider
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// Option mutates one llmreply module construction input.
type Option func(*Module)

// WithClock overrides the clock used by the answer memo and link table.
func WithClock(clock func() time.Time) Option {
	return func(m *Module) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// New creates one llmreply module instance.
func New(cfg Config, options ...Option) (*Module, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new llmreply module: %w", err)
	}

	module := &Module{
		cfg:    cfg,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	answers, err := ttrcache.New(cfg.RefreshInterval, module.generateAnswer,
		ttrcache.WithName(moduleName),
		ttrcache.WithClock(module.clock),
		ttrcache.WithFetchTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("new llmreply module: %w", err)
	}
	module.answers = answers
	module.links = linker.New(linker.WithClock(module.clock))

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares interest in message lifecycle events and reply buttons.
func (m *Module) Spec() tether.ModuleSpec {
	return tether.ModuleSpec{
		Handlers: []tether.ModuleHandler{
			{
				Capability: tether.Capability{
					Name:        "llm-reply",
					Description: "answers triggered prompts and reconciles the answer on edit and delete",
					Interest: tether.InterestSet{
						Kinds: []tether.EventKind{
							tether.EventKindMessageCreated,
							tether.EventKindMessageEdited,
							tether.EventKindMessageRetracted,
							tether.EventKindInteractionReceived,
						},
					},
					RequiredServices: []string{
						tether.ServiceOutboundDispatcher,
						tether.ServiceLLMProviderRegistry,
					},
				},
				Subscription: tether.NewOrderedSubscriptionSpec("llmreply-prompts"),
				Handler:      m.handleEvent,
			},
		},
	}
}

// OnRegister resolves the provider and outbound dispatcher.
func (m *Module) OnRegister(_ context.Context, runtime tether.ModuleRuntime) error {
	dispatcher, err := tether.ResolveAs[tether.OutboundDispatcher](
		runtime.Services(),
		tether.ServiceOutboundDispatcher,
	)
	if err != nil {
		return fmt.Errorf("llmreply resolve outbound dispatcher: %w", err)
	}
	registry, err := tether.ResolveAs[tether.LLMProviderRegistry](
		runtime.Services(),
		tether.ServiceLLMProviderRegistry,
	)
	if err != nil {
		return fmt.Errorf("llmreply resolve provider registry: %w", err)
	}
	provider, err := registry.Resolve(m.cfg.Provider)
	if err != nil {
		return fmt.Errorf("llmreply resolve provider %s: %w", m.cfg.Provider, err)
	}
	m.logger = tether.ModuleLogger(runtime.Services(), moduleName, m.logger)

	reconciler, err := reconcile.New(moduleName, m.links, reconcile.GeneratorFunc(m.generate), dispatcher,
		reconcile.WithCreateViewTimeout(m.cfg.CreateViewTimeout),
		reconcile.WithViewTimeout(m.cfg.EditViewTimeout),
		reconcile.WithModerator(m.isModerator),
		reconcile.WithPhrases("asked this question", "asked this question"),
		reconcile.WithLogger(m.logger),
		reconcile.WithClock(m.clock),
	)
	if err != nil {
		return fmt.Errorf("llmreply build reconciler: %w", err)
	}

	m.provider = provider
	m.reconciler = reconciler

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown drops pending button removals.
func (m *Module) OnShutdown(_ context.Context) error {
	if m.reconciler != nil {
		m.reconciler.Close()
	}

	return nil
}

func (m *Module) handleEvent(ctx context.Context, event *tether.Event) error {
	if event == nil {
		return nil
	}
	if m.reconciler == nil {
		return fmt.Errorf("llmreply handle event: module not registered")
	}

	return m.reconciler.HandleEvent(ctx, event)
}

// Prompt extracts the prompt from text, reporting false when text does not
// start with the trigger or carries nothing after it.
func (m *Module) Prompt(text string) (string, bool) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if len(trimmed) < len(m.cfg.Trigger) || !strings.EqualFold(trimmed[:len(m.cfg.Trigger)], m.cfg.Trigger) {
		return "", false
	}
	prompt := strings.TrimSpace(trimmed[len(m.cfg.Trigger):])

	return prompt, prompt != ""
}

// generate renders the answer for msg. Answers are memoized per prompt so
// regenerating an unchanged prompt during an edit yields the same content.
func (m *Module) generate(ctx context.Context, msg reconcile.Message) (reconcile.Content, error) {
	prompt, ok := m.Prompt(msg.Text)
	if !ok {
		return reconcile.Content{}, nil
	}

	generated, err := m.answers.Get(ctx, prompt)
	if err != nil {
		return reconcile.Content{}, fmt.Errorf("llmreply answer: %w", err)
	}
	switch {
	case generated.Text == "":
		return reconcile.Content{}, nil
	case generated.Truncated:
		return reconcile.Content{
			Text:               generated.Text + truncationNotice,
			Items:              truncatedItems,
			DisableLinkPreview: true,
		}, nil
	default:
		return reconcile.Content{Text: generated.Text, Items: 1, DisableLinkPreview: true}, nil
	}
}

func (m *Module) generateAnswer(ctx context.Context, prompt string) (answer, error) {
	if m.provider == nil {
		return answer{}, fmt.Errorf("llmreply generate: provider not configured")
	}

	requestCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	stream, err := m.provider.GenerateStream(requestCtx, tether.LLMGenerateRequest{
		Model: m.cfg.Model,
		Messages: []tether.LLMMessage{
			{Role: tether.LLMMessageRoleSystem, Content: m.cfg.SystemPrompt},
			{Role: tether.LLMMessageRoleUser, Content: prompt},
		},
		MaxOutputTokens: m.cfg.MaxOutputTokens,
		Temperature:     m.cfg.Temperature,
	})
	if err != nil {
		return answer{}, fmt.Errorf("llmreply start stream: %w", err)
	}
	text, truncated, err := tether.CollectLLMStream(requestCtx, stream, m.cfg.MaxReplyRunes)
	if err != nil {
		return answer{}, fmt.Errorf("llmreply collect stream: %w", err)
	}
	m.logger.DebugContext(ctx, "llm answer generated",
		"prompt_runes", len([]rune(prompt)),
		"answer_runes", len([]rune(text)),
		"truncated", truncated,
	)

	return answer{Text: strings.TrimSpace(text), Truncated: truncated}, nil
}

func (m *Module) isModerator(actor tether.Actor) bool {
	return slices.Contains(m.cfg.Moderators, actor.ID)
}
