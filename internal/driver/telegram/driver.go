package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tether/pkg/tether"
)

const (
	defaultPublishTimeout = 2 * time.Second
	defaultFetchTimeout   = 3 * time.Second
)

// UpdateHandler consumes decoded Telegram updates.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource streams Telegram updates into the driver. GotdSessionSource is
// the production implementation.
type UpdateSource interface {
	// Consume runs the update loop until context cancellation or a fatal error.
	Consume(ctx context.Context, handler UpdateHandler) error
}

// MessageFetcher loads one message from Telegram when it is not remembered.
type MessageFetcher interface {
	// FetchMessage returns the current state of messageID in chat. The found
	// flag is false when Telegram no longer has the message.
	FetchMessage(ctx context.Context, chat ChatRef, messageID string) (StoredMessage, bool, error)
}

// driverConfig contains runtime controls for publish timeout and error reporting.
type driverConfig struct {
	name           string
	publishTimeout time.Duration
	fetchTimeout   time.Duration
	logger         *slog.Logger
	store          *SnapshotStore
	fetcher        MessageFetcher
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout configures sink publish timeout per event.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler configures async callback errors.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithLogger configures driver diagnostics.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(cfg *driverConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithSnapshotStore shares a snapshot store with the outbound dispatcher.
func WithSnapshotStore(store *SnapshotStore) DriverOption {
	return func(cfg *driverConfig) {
		if store != nil {
			cfg.store = store
		}
	}
}

// WithMessageFetcher resolves reply parents that are not remembered.
func WithMessageFetcher(fetcher MessageFetcher) DriverOption {
	return func(cfg *driverConfig) {
		cfg.fetcher = fetcher
	}
}

// Driver adapts Telegram updates into neutral tether events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder

	sinkMu sync.RWMutex
	sink   tether.EventSink
}

// NewDriver creates a Telegram driver.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new telegram driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		fetchTimeout:   defaultFetchTimeout,
		logger:         slog.Default(),
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.store == nil {
		cfg.store = NewSnapshotStore(0, 0)
	}

	return &Driver{
		cfg:     cfg,
		source:  source,
		decoder: decoder,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Store returns the snapshot store backing update enrichment.
func (d *Driver) Store() *SnapshotStore {
	return d.cfg.store
}

// Start consumes Telegram updates and publishes neutral events.
func (d *Driver) Start(ctx context.Context, sink tether.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start telegram driver: nil sink")
	}
	d.setSink(sink)
	defer d.setSink(nil)

	handler := func(handlerCtx context.Context, update Update) error {
		return d.handleUpdate(handlerCtx, update, sink)
	}

	if err := d.source.Consume(ctx, handler); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("start telegram driver: consume updates: %w", err)
	}

	return nil
}

// PublishRetraction announces the deletion of a message the bot removed
// itself. Telegram does not echo such deletions back to bots.
//
// It is a no-op while the driver is not running.
func (d *Driver) PublishRetraction(ctx context.Context, chat ChatRef, stored StoredMessage) error {
	sink := d.currentSink()
	if sink == nil {
		return nil
	}

	before := stored.Message.Snapshot(stored.Author)
	update := Update{
		Type:       UpdateTypeDelete,
		OccurredAt: time.Now().UTC(),
		Chat:       chat,
		Actor:      actorRefFrom(stored.Author),
		Delete: &DeletePayload{
			MessageID: stored.Message.ID,
			Before:    &before,
		},
		Metadata: map[string]string{"origin": "outbound_delete"},
	}

	return d.publish(ctx, update, sink)
}

// handleUpdate enriches and decodes one platform update and publishes it with bounded latency.
func (d *Driver) handleUpdate(ctx context.Context, update Update, sink tether.EventSink) error {
	switch update.Type {
	case UpdateTypeReactions:
		d.applyReactions(update)
		return nil
	case UpdateTypeMessage:
		d.prepareMessage(ctx, &update)
	case UpdateTypeEdit:
		d.prepareEdit(&update)
	case UpdateTypeDelete:
		if !d.prepareDelete(&update) {
			d.cfg.logger.DebugContext(ctx, "telegram delete for unknown message dropped",
				"driver", d.cfg.name,
				"message_id", deleteMessageID(update),
			)
			return nil
		}
	}

	return d.publish(ctx, update, sink)
}

func (d *Driver) publish(ctx context.Context, update Update, sink tether.EventSink) error {
	event, err := d.decodeSafely(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return fmt.Errorf("handle update %s: %w", update.Type, err)
	}
	if event.Source.Platform == "" {
		event.Source.Platform = DriverPlatform
	}
	if event.Source.ID == "" {
		event.Source.ID = d.cfg.name
	}

	publishCtx := ctx
	cancel := func() {}
	if d.cfg.publishTimeout > 0 {
		publishCtx, cancel = context.WithTimeout(ctx, d.cfg.publishTimeout)
	}
	defer cancel()

	if err := sink.Publish(publishCtx, event); err != nil {
		return fmt.Errorf("handle update %s publish: %w", update.Type, err)
	}

	return nil
}

func (d *Driver) prepareMessage(ctx context.Context, update *Update) {
	payload := update.Message
	if payload == nil {
		return
	}
	scope := scopeOf(update.Chat)
	if payload.ReplyToID != "" && payload.ReplyTo == nil {
		if parent, ok := d.resolveParent(ctx, update.Chat, payload.ReplyToID); ok {
			snapshot := parent.Message.Snapshot(parent.Author)
			payload.ReplyTo = &snapshot
		}
	}

	d.cfg.store.Remember(scope, StoredMessage{
		Conversation: mapConversation(update.Chat),
		Author:       mapActor(update.Actor),
		Message:      mapMessage(*payload),
	})
}

func (d *Driver) resolveParent(ctx context.Context, chat ChatRef, messageID string) (StoredMessage, bool) {
	scope := scopeOf(chat)
	if stored, ok := d.cfg.store.Lookup(scope, messageID); ok {
		return stored, true
	}
	if d.cfg.fetcher == nil {
		return StoredMessage{}, false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.fetchTimeout)
	defer cancel()

	stored, found, err := d.cfg.fetcher.FetchMessage(fetchCtx, chat, messageID)
	if err != nil {
		d.cfg.logger.WarnContext(ctx, "telegram reply parent fetch failed",
			"driver", d.cfg.name,
			"conversation_id", chat.ID,
			"message_id", messageID,
			"error", err,
		)
		return StoredMessage{}, false
	}
	if !found {
		return StoredMessage{}, false
	}
	d.cfg.store.Remember(scope, stored)

	return stored, true
}

func (d *Driver) prepareEdit(update *Update) {
	payload := update.Edit
	if payload == nil {
		return
	}
	scope := scopeOf(update.Chat)
	author := mapActor(update.Actor)
	if previous, ok := d.cfg.store.Lookup(scope, payload.Message.ID); ok {
		if payload.Before == nil {
			before := previous.Message.Snapshot(previous.Author)
			payload.Before = &before
		}
		if author.ID == "" {
			author = previous.Author
			update.Actor = actorRefFrom(author)
		}
		if payload.Message.CreatedAt.IsZero() {
			payload.Message.CreatedAt = previous.Message.CreatedAt
		}
		if payload.Message.ReplyToID == "" {
			payload.Message.ReplyToID = previous.Message.ReplyToID
		}
	}

	d.cfg.store.Remember(scope, StoredMessage{
		Conversation: mapConversation(update.Chat),
		Author:       author,
		Message:      mapMessage(payload.Message),
	})
}

func (d *Driver) prepareDelete(update *Update) bool {
	payload := update.Delete
	if payload == nil || payload.MessageID == "" {
		return false
	}
	scope := scopeOf(update.Chat)
	stored, ok := d.cfg.store.Lookup(scope, payload.MessageID)
	if !ok {
		return false
	}
	d.cfg.store.Forget(scope, payload.MessageID)

	if update.Chat.ID == "" {
		update.Chat = ChatRef{
			ID:    stored.Conversation.ID,
			Title: stored.Conversation.Title,
			Type:  stored.Conversation.Type,
		}
	}
	if update.Chat.Title == "" {
		update.Chat.Title = stored.Conversation.Title
	}
	if update.Actor.ID == "" {
		update.Actor = actorRefFrom(stored.Author)
	}
	if payload.Before == nil {
		before := stored.Message.Snapshot(stored.Author)
		payload.Before = &before
	}

	return true
}

func (d *Driver) applyReactions(update Update) {
	if update.Reactions == nil {
		return
	}
	d.cfg.store.UpdateReactions(scopeOf(update.Chat), update.Reactions.MessageID, update.Reactions.Reactions)
}

// decodeSafely protects decoder panics at the adapter boundary.
func (d *Driver) decodeSafely(ctx context.Context, update Update) (decoded *tether.Event, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("decode telegram update %s panic: %v", update.Type, recovered)
	}()

	decoded, err = d.decoder.Decode(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("decode telegram update %s: %w", update.Type, err)
	}

	return decoded, nil
}

func (d *Driver) setSink(sink tether.EventSink) {
	d.sinkMu.Lock()
	defer d.sinkMu.Unlock()
	d.sink = sink
}

func (d *Driver) currentSink() tether.EventSink {
	d.sinkMu.RLock()
	defer d.sinkMu.RUnlock()

	return d.sink
}

// Shutdown releases resources not controlled by Start context.
func (d *Driver) Shutdown(_ context.Context) error {
	return nil
}

func deleteMessageID(update Update) string {
	if update.Delete == nil {
		return ""
	}

	return update.Delete.MessageID
}
