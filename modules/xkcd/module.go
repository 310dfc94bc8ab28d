// Package xkcd answers xkcd#<n> mentions with comic previews and keeps the
// preview in step with the mentioning message.
package xkcd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"tether/pkg/linker"
	"tether/pkg/reconcile"
	"tether/pkg/tether"
	"tether/pkg/ttrcache"

	"golang.org/x/sync/errgroup"
)

const (
	moduleName           = "xkcd"
	fetchConcurrency     = 4
	transcriptDataPrefix = "xkcd:t:"
	maxActionDataBytes   = 64
)

// Module posts comic previews for xkcd mentions.
type Module struct {
	cfg     Config
	fetcher comicFetcher
	comics  *ttrcache.Cache[int, Comic]
	links   *linker.Linker
	clock   func() time.Time

	dispatcher tether.OutboundDispatcher
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// Option mutates one xkcd module construction input.
type Option func(*Module)

// WithHTTPClient overrides the client used for metadata requests.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Module) {
		if client != nil {
			m.fetcher.client = client
		}
	}
}

// WithClock overrides the clock used by the comic cache and link table.
func WithClock(clock func() time.Time) Option {
	return func(m *Module) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// New creates one xkcd module instance.
func New(cfg Config, options ...Option) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new xkcd module: %w", err)
	}

	module := &Module{
		cfg: cfg,
		fetcher: comicFetcher{
			client:  &http.Client{Timeout: cfg.RequestTimeout},
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		},
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	comics, err := ttrcache.New(cfg.RefreshInterval, module.fetcher.fetch,
		ttrcache.WithName(moduleName),
		ttrcache.WithClock(module.clock),
		ttrcache.WithFetchTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("new xkcd module: %w", err)
	}
	module.comics = comics
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
					Name:        "xkcd-mentions",
					Description: "previews mentioned xkcd comics and reconciles the preview on edit and delete",
					Interest: tether.InterestSet{
						Kinds: []tether.EventKind{
							tether.EventKindMessageCreated,
							tether.EventKindMessageEdited,
							tether.EventKindMessageRetracted,
							tether.EventKindInteractionReceived,
						},
					},
					RequiredServices: []string{tether.ServiceOutboundDispatcher},
				},
				Subscription: tether.NewOrderedSubscriptionSpec("xkcd-mentions"),
				Handler:      m.handleEvent,
			},
		},
	}
}

// OnRegister resolves outbound dependencies and builds the reconciler.
func (m *Module) OnRegister(_ context.Context, runtime tether.ModuleRuntime) error {
	dispatcher, err := tether.ResolveAs[tether.OutboundDispatcher](
		runtime.Services(),
		tether.ServiceOutboundDispatcher,
	)
	if err != nil {
		return fmt.Errorf("xkcd resolve outbound dispatcher: %w", err)
	}
	m.logger = tether.ModuleLogger(runtime.Services(), moduleName, m.logger)

	reconciler, err := reconcile.New(moduleName, m.links, reconcile.GeneratorFunc(m.generate), dispatcher,
		reconcile.WithActions(m.actions),
		reconcile.WithCreateViewTimeout(m.cfg.ViewTimeout),
		reconcile.WithViewTimeout(m.cfg.ViewTimeout),
		reconcile.WithModerator(m.isModerator),
		reconcile.WithPhrases("linked this XKCD comic", "linked these XKCD comics"),
		reconcile.WithLogger(m.logger),
		reconcile.WithClock(m.clock),
	)
	if err != nil {
		return fmt.Errorf("xkcd build reconciler: %w", err)
	}

	m.dispatcher = dispatcher
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
		return fmt.Errorf("xkcd handle event: module not registered")
	}
	if event.Interaction != nil && strings.HasPrefix(event.Interaction.Data, transcriptDataPrefix) {
		return m.handleTranscript(ctx, event)
	}

	return m.reconciler.HandleEvent(ctx, event)
}

func (m *Module) generate(ctx context.Context, msg reconcile.Message) (reconcile.Content, error) {
	numbers, omitted := Mentions(msg.Text)
	if len(numbers) == 0 {
		return reconcile.Content{}, nil
	}

	return render(m.lookup(ctx, numbers), omitted, m.fetcher.comicURL), nil
}

// lookup resolves comics concurrently. Lookups that fail render as
// unavailable rather than failing the reply.
func (m *Module) lookup(ctx context.Context, numbers []int) []Comic {
	comics := make([]Comic, len(numbers))
	var group errgroup.Group
	group.SetLimit(fetchConcurrency)
	for index, number := range numbers {
		group.Go(func() error {
			comic, err := m.comics.Get(ctx, number)
			if err != nil {
				m.logger.DebugContext(ctx, "xkcd lookup failed", "comic", number, "error", err)
				comic = Comic{Number: number, Status: ComicUnavailable}
			}
			comics[index] = comic
			return nil
		})
	}
	_ = group.Wait()

	return comics
}

func (m *Module) actions(original reconcile.Message, items int) []tether.MessageAction {
	actions := reconcile.DefaultActions(original, items)

	numbers, _ := Mentions(original.Text)
	data := transcriptDataPrefix
	listed := 0
	for _, number := range numbers {
		comic, ok := m.comics.Peek(number)
		if !ok || comic.Status != ComicFound || comic.Transcript == "" {
			continue
		}
		next := strconv.Itoa(number)
		if listed > 0 {
			next = "," + next
		}
		if len(data)+len(next) > maxActionDataBytes {
			break
		}
		data += next
		listed++
	}
	if listed == 0 {
		return actions
	}

	return append(actions, tether.MessageAction{Label: "📜 Transcript", Data: data})
}

// handleTranscript answers a transcript button with a reply carrying the
// transcripts of the listed comics.
func (m *Module) handleTranscript(ctx context.Context, event *tether.Event) error {
	target, err := tether.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("xkcd transcript target: %w", err)
	}
	if _, linked := m.links.GetOriginal(tether.MessageRef{Target: target, ID: event.Interaction.MessageID}); !linked {
		return nil
	}

	var numbers []int
	for _, raw := range strings.Split(strings.TrimPrefix(event.Interaction.Data, transcriptDataPrefix), ",") {
		number, err := strconv.Atoi(raw)
		if err != nil || slices.Contains(numbers, number) {
			continue
		}
		numbers = append(numbers, number)
	}

	text, entities := renderTranscripts(m.lookup(ctx, numbers), m.fetcher.comicURL)
	if text == "" {
		return m.answer(ctx, target, event.Interaction.QueryID, "No transcript available.", true)
	}
	_, err = m.dispatcher.SendMessage(ctx, tether.SendMessageRequest{
		Target:             target,
		Text:               text,
		Entities:           entities,
		ReplyToMessageID:   event.Interaction.MessageID,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("xkcd send transcript: %w", err)
	}

	return m.answer(ctx, target, event.Interaction.QueryID, "", false)
}

func (m *Module) answer(ctx context.Context, target tether.OutboundTarget, queryID, text string, alert bool) error {
	if queryID == "" {
		return nil
	}
	err := m.dispatcher.AnswerInteraction(ctx, tether.AnswerInteractionRequest{
		Target:  target,
		QueryID: queryID,
		Text:    text,
		Alert:   alert,
	})
	if err != nil {
		return fmt.Errorf("xkcd answer transcript: %w", err)
	}

	return nil
}

func (m *Module) isModerator(actor tether.Actor) bool {
	return slices.Contains(m.cfg.Moderators, actor.ID)
}
