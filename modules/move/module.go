// Package move relocates a message into another conversation on a
// moderator's request, recording its author and route in a subtext block.
package move

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"tether/pkg/linker"
	"tether/pkg/reconcile"
	"tether/pkg/subtext"
	"tether/pkg/tether"
)

const (
	moduleName      = "move"
	moveCommandName = "move"
)

const (
	noticeNotModerator  = "Only moderators can move messages."
	noticeUsage         = "Reply to the message you want to move with /move <conversation-id>."
	noticeSameChat      = "That message is already in this conversation."
	noticeTooLong       = "That message is too long to move."
	noticePostForbidden = "I am not allowed to post in "
	noticeKeptOriginal  = "Moved the message, but I am not allowed to delete the original."
)

// Module implements the /move command.
type Module struct {
	cfg   Config
	links *linker.Linker
	clock func() time.Time

	dispatcher tether.OutboundDispatcher
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// Option mutates one move module construction input.
type Option func(*Module)

// WithClock overrides the clock used for subtext timestamps and link expiry.
func WithClock(clock func() time.Time) Option {
	return func(m *Module) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// New creates one move module instance.
func New(cfg Config, options ...Option) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new move module: %w", err)
	}

	module := &Module{
		cfg:    Config{Moderators: append([]string(nil), cfg.Moderators...)},
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(module)
	}
	module.links = linker.New(linker.WithClock(module.clock))

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares the /move command and the moved-copy button handler.
func (m *Module) Spec() tether.ModuleSpec {
	return tether.ModuleSpec{
		Handlers: []tether.ModuleHandler{
			{
				Capability: tether.Capability{
					Name:        "move-command",
					Description: "moves the replied-to message into another conversation",
					Interest: tether.InterestSet{
						Kinds:    []tether.EventKind{tether.EventKindCommandReceived},
						Commands: []string{moveCommandName},
					},
					RequiredServices: []string{tether.ServiceOutboundDispatcher},
				},
				Subscription: tether.NewOrderedSubscriptionSpec("move-commands"),
				Handler:      m.handleCommand,
			},
			{
				Capability: tether.Capability{
					Name:        "move-copies",
					Description: "deletes moved copies on request and forgets them once gone",
					Interest: tether.InterestSet{
						Kinds: []tether.EventKind{
							tether.EventKindMessageRetracted,
							tether.EventKindInteractionReceived,
						},
					},
					RequiredServices: []string{tether.ServiceOutboundDispatcher},
				},
				Subscription: tether.NewOrderedSubscriptionSpec("move-copies"),
				Handler:      m.handleCopyEvent,
			},
		},
		Commands: []tether.CommandSpec{
			{
				Name:        moveCommandName,
				Description: "move the replied-to message into another conversation",
				Usage:       "<conversation-id>",
			},
		},
	}
}

// OnRegister resolves outbound dependencies and builds the reconciler.
//
// Moved copies are linked to themselves: the source is gone after a move, so
// the copy is the only message whose lifecycle matters. The reconciler then
// only serves the Delete button and forgets copies once they are deleted.
func (m *Module) OnRegister(_ context.Context, runtime tether.ModuleRuntime) error {
	dispatcher, err := tether.ResolveAs[tether.OutboundDispatcher](
		runtime.Services(),
		tether.ServiceOutboundDispatcher,
	)
	if err != nil {
		return fmt.Errorf("move resolve outbound dispatcher: %w", err)
	}
	m.logger = tether.ModuleLogger(runtime.Services(), moduleName, m.logger)

	reconciler, err := reconcile.New(moduleName, m.links,
		reconcile.GeneratorFunc(func(context.Context, reconcile.Message) (reconcile.Content, error) {
			return reconcile.Content{}, nil
		}),
		dispatcher,
		reconcile.WithInteractor(func(context.Context, reconcile.Message) error { return nil }),
		reconcile.WithActions(reconcile.DeleteOnlyActions),
		reconcile.WithModerator(m.isModerator),
		reconcile.WithPhrases("wrote this message", "wrote this message"),
		reconcile.WithLogger(m.logger),
		reconcile.WithClock(m.clock),
	)
	if err != nil {
		return fmt.Errorf("move build reconciler: %w", err)
	}

	m.dispatcher = dispatcher
	m.reconciler = reconciler

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	if m.reconciler != nil {
		m.reconciler.Close()
	}

	return nil
}

func (m *Module) handleCopyEvent(ctx context.Context, event *tether.Event) error {
	if event == nil || m.reconciler == nil {
		return nil
	}

	return m.reconciler.HandleEvent(ctx, event)
}

func (m *Module) handleCommand(ctx context.Context, event *tether.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != tether.EventKindCommandReceived || event.Command.Name != moveCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("move handle command: module not registered")
	}

	here, err := tether.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("move derive outbound target: %w", err)
	}
	if !m.isModerator(event.Actor) {
		return m.notify(ctx, here, event.Message.ID, noticeNotModerator)
	}
	source := event.Message.ReplyTo
	if source == nil || event.Message.ReplyToID == "" || len(event.Command.Args) != 1 {
		return m.notify(ctx, here, event.Message.ID, noticeUsage)
	}
	destinationID := event.Command.Args[0]
	if destinationID == here.Conversation.ID {
		return m.notify(ctx, here, event.Message.ID, noticeSameChat)
	}

	copied := compose(*source, here.Conversation.ID, event.Actor.ID, m.clock())
	if utf16Len(copied.Text) > maxMessageLength {
		return m.notify(ctx, here, event.Message.ID, noticeTooLong)
	}

	destination := tether.OutboundTarget{
		Conversation: tether.Conversation{ID: destinationID},
		Sink:         here.Sink,
	}
	sent, err := m.dispatcher.SendMessage(ctx, tether.SendMessageRequest{
		Target:             destination,
		Text:               copied.Text,
		Entities:           copied.Entities,
		Actions:            reconcile.DeleteOnlyActions(reconcile.Message{Author: tether.Actor{ID: copied.AuthorID}}, 1),
		DisableLinkPreview: true,
	})
	switch {
	case err == nil:
	case tether.IsOutboundForbidden(err), tether.IsOutboundNotFound(err):
		return m.notify(ctx, here, event.Message.ID, noticePostForbidden+subtext.ChannelMention(destinationID)+".")
	default:
		return fmt.Errorf("move post copy to %s: %w", destinationID, err)
	}
	m.linkCopy(ctx, destination, sent)

	err = m.dispatcher.DeleteMessage(ctx, tether.DeleteMessageRequest{
		Target:    here,
		MessageID: event.Message.ReplyToID,
		Revoke:    true,
	})
	switch {
	case err == nil, tether.IsOutboundNotFound(err):
	case tether.IsOutboundForbidden(err):
		return m.notify(ctx, here, event.Message.ID, noticeKeptOriginal)
	default:
		return fmt.Errorf("move delete source %s: %w", event.Message.ReplyToID, err)
	}

	m.logger.InfoContext(ctx, "message moved",
		"from", here.Conversation.ID,
		"to", destinationID,
		"source", event.Message.ReplyToID,
		"mover", event.Actor.ID,
	)
	m.removeCommand(ctx, here, event.Message.ID)

	return nil
}

func (m *Module) linkCopy(ctx context.Context, fallback tether.OutboundTarget, sent *tether.OutboundMessage) {
	if sent == nil || sent.ID == "" {
		return
	}
	ref := tether.MessageRef{Target: fallback, ID: sent.ID, CreatedAt: sent.SentAt}
	if sent.Target.Conversation.ID != "" {
		ref.Target = sent.Target
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = m.clock()
	}
	if err := m.links.Link(ref, ref); err != nil && !errors.Is(err, linker.ErrAlreadyLinked) {
		m.logger.WarnContext(ctx, "link moved copy failed", "copy", ref.Key().String(), "error", err)
	}
}

// removeCommand deletes the /move message itself. Failures are logged.
func (m *Module) removeCommand(ctx context.Context, target tether.OutboundTarget, messageID string) {
	err := m.dispatcher.DeleteMessage(ctx, tether.DeleteMessageRequest{
		Target:    target,
		MessageID: messageID,
		Revoke:    true,
	})
	if err != nil && !tether.IsOutboundNotFound(err) {
		m.logger.DebugContext(ctx, "remove move command failed", "message", messageID, "error", err)
	}
}

// notify answers the invoker in place.
func (m *Module) notify(ctx context.Context, target tether.OutboundTarget, replyTo, text string) error {
	_, err := m.dispatcher.SendMessage(ctx, tether.SendMessageRequest{
		Target:           target,
		Text:             text,
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		return fmt.Errorf("move notify invoker: %w", err)
	}

	return nil
}

func (m *Module) isModerator(actor tether.Actor) bool {
	return slices.Contains(m.cfg.Moderators, actor.ID)
}
