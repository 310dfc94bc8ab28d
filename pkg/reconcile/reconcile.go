// Package reconcile keeps derived companion messages in step with the
// messages that produced them.
//
// A Reconciler owns no state of its own beyond pending view timers: links
// and freeze flags live in a linker.Linker, content comes from a Generator,
// and every platform mutation goes through a tether.OutboundDispatcher.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"tether/pkg/linker"
	"tether/pkg/tether"
)

const (
	// DefaultCreateViewTimeout is how long actions stay on a fresh reply.
	DefaultCreateViewTimeout = 60 * time.Second
	// DefaultEditViewTimeout is how long actions stay on an edited reply.
	DefaultEditViewTimeout = 30 * time.Second
)

// Message is one side of a reconciliation: a platform message with the
// fields content generators and hooks read.
type Message struct {
	Ref       tether.MessageRef
	Author    tether.Actor
	Text      string
	Entities  []tether.TextEntity
	Media     []tether.MediaAttachment
	Reactions []tether.MessageReaction
}

// Content is the rendered payload a Generator derives from one message.
//
// Items counts the rendered objects. Zero means nothing to show; negative
// values mean content existed but had to be omitted entirely. Both suppress
// the reply.
type Content struct {
	Text               string
	Entities           []tether.TextEntity
	Items              int
	DisableLinkPreview bool
}

// Equal reports whether two renders would produce the same reply.
func (c Content) Equal(other Content) bool {
	return c.Text == other.Text &&
		c.Items == other.Items &&
		c.DisableLinkPreview == other.DisableLinkPreview &&
		slices.Equal(c.Entities, other.Entities)
}

// Generator renders companion content for a message.
type Generator interface {
	Generate(ctx context.Context, msg Message) (Content, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, msg Message) (Content, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, msg Message) (Content, error) {
	return f(ctx, msg)
}

// Interactor handles a message that should be treated as brand new.
type Interactor func(ctx context.Context, msg Message) error

// ActionsFunc builds the buttons shown under a reply to original.
type ActionsFunc func(original Message, items int) []tether.MessageAction

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInteractor replaces Create as the handler for newly relevant messages.
func WithInteractor(interactor Interactor) Option {
	return func(r *Reconciler) {
		if interactor != nil {
			r.interactor = interactor
		}
	}
}

// WithActions overrides DefaultActions.
func WithActions(actions ActionsFunc) Option {
	return func(r *Reconciler) {
		if actions != nil {
			r.actions = actions
		}
	}
}

// WithViewTimeout sets how long actions stay on a reply after an edit.
func WithViewTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.editViewTimeout = timeout
		}
	}
}

// WithCreateViewTimeout sets how long actions stay on a fresh reply.
func WithCreateViewTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.createViewTimeout = timeout
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithModerator marks actors that may act on any reply.
func WithModerator(isModerator func(tether.Actor) bool) Option {
	return func(r *Reconciler) {
		if isModerator != nil {
			r.isModerator = isModerator
		}
	}
}

// WithPhrases sets how rejection notices describe the original author, for
// one and for several items ("linked this comic", "linked these comics").
func WithPhrases(singular, plural string) Option {
	return func(r *Reconciler) {
		if singular != "" {
			r.phraseSingular = singular
		}
		if plural != "" {
			r.phrasePlural = plural
		}
	}
}

// WithClock overrides the clock used to date replies.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Reconciler applies the edit, delete, and create transitions for one
// content kind.
type Reconciler struct {
	name       string
	links      *linker.Linker
	generator  Generator
	dispatcher tether.OutboundDispatcher

	interactor        Interactor
	actions           ActionsFunc
	createViewTimeout time.Duration
	editViewTimeout   time.Duration
	isModerator       func(tether.Actor) bool
	phraseSingular    string
	phrasePlural      string
	logger            *slog.Logger
	clock             func() time.Time

	views *viewScheduler
}

// New creates a Reconciler. name labels logs and metrics.
func New(
	name string,
	links *linker.Linker,
	generator Generator,
	dispatcher tether.OutboundDispatcher,
	opts ...Option,
) (*Reconciler, error) {
	if name == "" {
		return nil, fmt.Errorf("new reconciler: empty name")
	}
	if links == nil {
		return nil, fmt.Errorf("new reconciler %s: nil linker", name)
	}
	if generator == nil {
		return nil, fmt.Errorf("new reconciler %s: nil generator", name)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("new reconciler %s: nil dispatcher", name)
	}

	r := &Reconciler{
		name:              name,
		links:             links,
		generator:         generator,
		dispatcher:        dispatcher,
		actions:           DefaultActions,
		createViewTimeout: DefaultCreateViewTimeout,
		editViewTimeout:   DefaultEditViewTimeout,
		isModerator:       func(tether.Actor) bool { return false },
		phraseSingular:    "sent this message",
		phrasePlural:      "sent this message",
		logger:            slog.Default(),
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interactor == nil {
		r.interactor = r.Create
	}
	r.logger = r.logger.With("reconciler", name)
	r.views = newViewScheduler(dispatcher, r.logger)

	return r, nil
}

// Linker returns the link table the reconciler works on.
func (r *Reconciler) Linker() *linker.Linker {
	return r.links
}

// Close cancels pending view removals and waits for running ones.
func (r *Reconciler) Close() {
	r.views.close()
}

// Create sends a reply for msg when its content has at least one item, links
// it, and schedules removal of its actions.
func (r *Reconciler) Create(ctx context.Context, msg Message) error {
	if msg.Author.IsBot {
		observeTransition(r.name, hookCreate, outcomeBotAuthor)
		return nil
	}

	content, err := r.generator.Generate(ctx, msg)
	if err != nil {
		return fmt.Errorf("%s create generate %s: %w", r.name, msg.Ref.Key(), err)
	}
	if content.Items < 1 {
		observeTransition(r.name, hookCreate, outcomeNoItems)
		return nil
	}

	sent, err := r.dispatcher.SendMessage(ctx, tether.SendMessageRequest{
		Target:             msg.Ref.Target,
		Text:               content.Text,
		Entities:           content.Entities,
		ReplyToMessageID:   msg.Ref.ID,
		Actions:            r.actions(msg, content.Items),
		DisableLinkPreview: content.DisableLinkPreview,
	})
	if err != nil {
		return fmt.Errorf("%s create reply to %s: %w", r.name, msg.Ref.Key(), err)
	}

	derived := r.derivedRef(msg.Ref.Target, sent)
	if err := r.links.Link(msg.Ref, derived); err != nil {
		return fmt.Errorf("%s create link %s: %w", r.name, msg.Ref.Key(), err)
	}
	r.views.schedule(derived, r.createViewTimeout)
	observeTransition(r.name, hookCreate, outcomeCreated)
	r.logger.DebugContext(ctx, "reply created",
		"original", msg.Ref.Key().String(),
		"reply", derived.Key().String(),
		"items", content.Items,
	)

	return nil
}

func (r *Reconciler) derivedRef(fallback tether.OutboundTarget, sent *tether.OutboundMessage) tether.MessageRef {
	ref := tether.MessageRef{Target: fallback, CreatedAt: r.clock()}
	if sent == nil {
		return ref
	}
	ref.ID = sent.ID
	if sent.Target.Conversation.ID != "" {
		ref.Target = sent.Target
	}
	if !sent.SentAt.IsZero() {
		ref.CreatedAt = sent.SentAt
	}

	return ref
}

func (r *Reconciler) deleteDerived(ctx context.Context, derived tether.MessageRef) error {
	r.views.cancel(derived.Key())
	err := r.dispatcher.DeleteMessage(ctx, tether.DeleteMessageRequest{
		Target:    derived.Target,
		MessageID: derived.ID,
		Revoke:    true,
	})
	if err != nil && !tether.IsOutboundNotFound(err) {
		return fmt.Errorf("%s delete reply %s: %w", r.name, derived.Key(), err)
	}

	return nil
}
