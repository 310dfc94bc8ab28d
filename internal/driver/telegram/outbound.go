package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"tether/pkg/tether"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"
)

const (
	defaultOutboundTimeout = 3 * time.Second
	// Telegram tolerates roughly 30 messages per second per bot overall.
	defaultOutboundRate  = 25
	defaultOutboundBurst = 5
)

// DeleteHook observes messages deleted through the dispatcher.
type DeleteHook func(ctx context.Context, chat ChatRef, stored StoredMessage) error

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSinkRef configures the sink identity reported in outbound errors.
func WithSinkRef(ref tether.SinkRef) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = ref
		if cfg.sink.Platform == "" {
			cfg.sink.Platform = DriverPlatform
		}
	}
}

// WithRateLimiter replaces the default outbound RPC limiter.
func WithRateLimiter(limiter *rate.Limiter) OutboundOption {
	return func(cfg *outboundConfig) {
		if limiter != nil {
			cfg.limiter = limiter
		}
	}
}

// WithOutboundStore records sent and edited messages in store.
func WithOutboundStore(store *SnapshotStore) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.store = store
	}
}

// WithDeleteHook registers a callback run after each successful deletion.
func WithDeleteHook(hook DeleteHook) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.onDeleted = hook
	}
}

// SinkDispatcher adapts neutral outbound operations to Telegram RPC calls.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
	clock    func() time.Time

	selfMu sync.RWMutex
	self   tether.Actor
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	sink       tether.SinkRef
	limiter    *rate.Limiter
	store      *SnapshotStore
	onDeleted  DeleteHook
}

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client.API()), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		logger:     slog.Default(),
		sink:       tether.SinkRef{Platform: DriverPlatform},
		limiter:    rate.NewLimiter(defaultOutboundRate, defaultOutboundBurst),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
		clock:    time.Now,
	}, nil
}

// SetSelf records the authenticated account as author of sent messages.
func (d *SinkDispatcher) SetSelf(actor tether.Actor) {
	d.selfMu.Lock()
	defer d.selfMu.Unlock()
	d.self = actor
}

func (d *SinkDispatcher) selfActor() tether.Actor {
	d.selfMu.RLock()
	defer d.selfMu.RUnlock()

	return d.self
}

// SendMessage publishes a text message to a Telegram conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request tether.SendMessageRequest,
) (*tether.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	peer, chat, err := d.resolvePeer(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}

	rpcCtx, cancel, err := d.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, peer, request)
	if err != nil {
		err = mapTelegramOutboundError(tether.OutboundOperationSendMessage, d.cfg.sink, err)
		return nil, fmt.Errorf("send message to %s: %w", request.Target.Conversation.ID, err)
	}
	sentAt := d.clock().UTC()
	messageID := strconv.Itoa(id)

	d.cfg.store.Remember(scopeOf(chat), StoredMessage{
		Conversation: request.Target.Conversation,
		Author:       d.selfActor(),
		Message: tether.Message{
			ID:        messageID,
			ReplyToID: request.ReplyToMessageID,
			Text:      request.Text,
			Entities:  request.Entities,
			CreatedAt: sentAt,
		},
	})
	d.logOutbound(ctx, tether.OutboundOperationSendMessage,
		"conversation_id", request.Target.Conversation.ID,
		"message_id", messageID,
		"reply_to_message_id", request.ReplyToMessageID,
		"actions", len(request.Actions),
	)

	return &tether.OutboundMessage{
		ID:     messageID,
		Target: request.Target,
		SentAt: sentAt,
	}, nil
}

// EditMessage replaces text and buttons of an existing Telegram message.
// An empty Text only replaces the buttons.
func (d *SinkDispatcher) EditMessage(ctx context.Context, request tether.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}
	peer, chat, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("edit message resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message parse id %s: %w", request.MessageID, err)
	}

	rpcCtx, cancel, err := d.acquire(ctx)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	defer cancel()

	if err := d.telegram.EditText(rpcCtx, peer, messageID, request); err != nil {
		err = mapTelegramOutboundError(tether.OutboundOperationEditMessage, d.cfg.sink, err)
		return fmt.Errorf("edit message %s: %w", request.MessageID, err)
	}

	if request.Text != "" {
		scope := scopeOf(chat)
		stored, ok := d.cfg.store.Lookup(scope, request.MessageID)
		if !ok {
			stored = StoredMessage{
				Conversation: request.Target.Conversation,
				Author:       d.selfActor(),
				Message:      tether.Message{ID: request.MessageID},
			}
		}
		stored.Message.Text = request.Text
		stored.Message.Entities = request.Entities
		stored.Message.EditedAt = d.clock().UTC()
		d.cfg.store.Remember(scope, stored)
	}
	d.logOutbound(ctx, tether.OutboundOperationEditMessage,
		"conversation_id", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"actions_only", request.Text == "",
	)

	return nil
}

// DeleteMessage removes an existing Telegram message.
func (d *SinkDispatcher) DeleteMessage(ctx context.Context, request tether.DeleteMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("delete message validate: %w", err)
	}
	peer, chat, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("delete message resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("delete message parse id %s: %w", request.MessageID, err)
	}

	rpcCtx, cancel, err := d.acquire(ctx)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	defer cancel()

	if err := d.telegram.DeleteMessage(rpcCtx, peer, messageID, request.Revoke); err != nil {
		err = mapTelegramOutboundError(tether.OutboundOperationDeleteMessage, d.cfg.sink, err)
		return fmt.Errorf("delete message %s: %w", request.MessageID, err)
	}

	scope := scopeOf(chat)
	stored, ok := d.cfg.store.Lookup(scope, request.MessageID)
	if !ok {
		stored = StoredMessage{
			Conversation: request.Target.Conversation,
			Message:      tether.Message{ID: request.MessageID},
		}
	}
	d.cfg.store.Forget(scope, request.MessageID)
	d.logOutbound(ctx, tether.OutboundOperationDeleteMessage,
		"conversation_id", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"revoke", request.Revoke,
	)

	if d.cfg.onDeleted != nil {
		if err := d.cfg.onDeleted(ctx, chat, stored); err != nil {
			d.cfg.logger.WarnContext(ctx, "telegram delete hook failed",
				"sink_id", d.cfg.sink.ID,
				"message_id", request.MessageID,
				"error", err,
			)
		}
	}

	return nil
}

// AnswerInteraction acknowledges one callback query.
func (d *SinkDispatcher) AnswerInteraction(ctx context.Context, request tether.AnswerInteractionRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("answer interaction validate: %w", err)
	}
	queryID, err := strconv.ParseInt(strings.TrimSpace(request.QueryID), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid query id %q", tether.ErrInvalidOutboundRequest, request.QueryID)
	}

	rpcCtx, cancel, err := d.acquire(ctx)
	if err != nil {
		return fmt.Errorf("answer interaction: %w", err)
	}
	defer cancel()

	if err := d.telegram.AnswerCallback(rpcCtx, queryID, request.Text, request.Alert); err != nil {
		err = mapTelegramOutboundError(tether.OutboundOperationAnswerInteraction, d.cfg.sink, err)
		return fmt.Errorf("answer interaction %s: %w", request.QueryID, err)
	}

	return nil
}

// acquire waits for the rate limiter and bounds the following RPC.
func (d *SinkDispatcher) acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := d.cfg.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("wait for rate limiter: %w", err)
	}
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}, nil
	}
	rpcCtx, cancel := context.WithTimeout(ctx, d.cfg.rpcTimeout)

	return rpcCtx, cancel, nil
}

func (d *SinkDispatcher) resolvePeer(target tether.OutboundTarget) (tg.InputPeerClass, ChatRef, error) {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != DriverPlatform {
		return nil, ChatRef{}, fmt.Errorf("%w: platform %s", tether.ErrOutboundUnsupported, target.Sink.Platform)
	}

	peer, chat, err := d.peers.ResolveChat(target.Conversation)
	if err != nil {
		return nil, ChatRef{}, fmt.Errorf("resolve conversation %s: %w", target.Conversation.ID, err)
	}

	return peer, chat, nil
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation tether.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 4+len(attrs))
	values = append(values, "operation", operation, "sink_id", d.cfg.sink.ID)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", tether.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", tether.ErrInvalidOutboundRequest)
	}

	return value, nil
}

// mapOutboundTextEntities converts neutral entities, whose offsets are
// already UTF-16 code units, into Telegram entities.
func mapOutboundTextEntities(entities []tether.TextEntity) ([]tg.MessageEntityClass, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	converted := make([]tg.MessageEntityClass, 0, len(entities))
	for index, entity := range entities {
		telegramEntity, err := convertOutboundTextEntity(entity)
		if err != nil {
			return nil, fmt.Errorf("entity[%d] convert: %w", index, err)
		}
		converted = append(converted, telegramEntity)
	}

	return converted, nil
}

func convertOutboundTextEntity(entity tether.TextEntity) (tg.MessageEntityClass, error) {
	offset, length := entity.Offset, entity.Length

	switch entity.Type {
	case "mention":
		return &tg.MessageEntityMention{Offset: offset, Length: length}, nil
	case "hashtag":
		return &tg.MessageEntityHashtag{Offset: offset, Length: length}, nil
	case "cashtag":
		return &tg.MessageEntityCashtag{Offset: offset, Length: length}, nil
	case "bot_command":
		return &tg.MessageEntityBotCommand{Offset: offset, Length: length}, nil
	case "url":
		return &tg.MessageEntityURL{Offset: offset, Length: length}, nil
	case "text_url":
		return &tg.MessageEntityTextURL{Offset: offset, Length: length, URL: entity.URL}, nil
	case "email":
		return &tg.MessageEntityEmail{Offset: offset, Length: length}, nil
	case "phone":
		return &tg.MessageEntityPhone{Offset: offset, Length: length}, nil
	case "bold":
		return &tg.MessageEntityBold{Offset: offset, Length: length}, nil
	case "italic":
		return &tg.MessageEntityItalic{Offset: offset, Length: length}, nil
	case "underline":
		return &tg.MessageEntityUnderline{Offset: offset, Length: length}, nil
	case "strike":
		return &tg.MessageEntityStrike{Offset: offset, Length: length}, nil
	case "code":
		return &tg.MessageEntityCode{Offset: offset, Length: length}, nil
	case "pre":
		return &tg.MessageEntityPre{Offset: offset, Length: length}, nil
	case "spoiler":
		return &tg.MessageEntitySpoiler{Offset: offset, Length: length}, nil
	case "blockquote":
		return &tg.MessageEntityBlockquote{Offset: offset, Length: length}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported text entity type %q", tether.ErrOutboundUnsupported, entity.Type)
	}
}

// inlineKeyboard renders actions as one row of callback buttons.
func inlineKeyboard(actions []tether.MessageAction) tg.ReplyMarkupClass {
	if len(actions) == 0 {
		return nil
	}

	buttons := make([]tg.KeyboardButtonClass, 0, len(actions))
	for _, action := range actions {
		buttons = append(buttons, &tg.KeyboardButtonCallback{
			Text: action.Label,
			Data: []byte(action.Data),
		})
	}

	return &tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{{Buttons: buttons}}}
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, request tether.SendMessageRequest) (int, error)
	EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, request tether.EditMessageRequest) error
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error
	AnswerCallback(ctx context.Context, queryID int64, text string, alert bool) error
}

type gotdOutboundRPC struct {
	raw  *tg.Client
	rand io.Reader
}

func newGotdOutboundRPC(raw *tg.Client) gotdOutboundRPC {
	return gotdOutboundRPC{
		raw:  raw,
		rand: crypto.DefaultRand(),
	}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	request tether.SendMessageRequest,
) (int, error) {
	entities, err := mapOutboundTextEntities(request.Entities)
	if err != nil {
		return 0, fmt.Errorf("map outbound entities: %w", err)
	}

	sendRequest := &tg.MessagesSendMessageRequest{
		Peer:        peer,
		Message:     request.Text,
		NoWebpage:   request.DisableLinkPreview,
		Silent:      request.Silent,
		Entities:    entities,
		ReplyMarkup: inlineKeyboard(request.Actions),
	}
	if request.ReplyToMessageID != "" {
		replyID, err := parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return 0, fmt.Errorf("send text parse reply id %s: %w", request.ReplyToMessageID, err)
		}
		sendRequest.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyID}
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	sendRequest.RandomID = randomID

	messageID, err := unpack.MessageID(r.raw.MessagesSendMessage(ctx, sendRequest))
	if err != nil {
		return 0, fmt.Errorf("messages.sendMessage: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditText(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	request tether.EditMessageRequest,
) error {
	entities, err := mapOutboundTextEntities(request.Entities)
	if err != nil {
		return fmt.Errorf("map outbound entities: %w", err)
	}

	editRequest := &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          messageID,
		ReplyMarkup: inlineKeyboard(request.Actions),
	}
	if request.Text != "" {
		editRequest.Message = request.Text
		editRequest.Entities = entities
		editRequest.NoWebpage = request.DisableLinkPreview
	}

	if _, err := r.raw.MessagesEditMessage(ctx, editRequest); err != nil {
		return fmt.Errorf("messages.editMessage: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) DeleteMessage(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	revoke bool,
) error {
	if channel, ok := inputChannelFromPeer(peer); ok {
		_, err := r.raw.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: channel,
			ID:      []int{messageID},
		})
		if err != nil {
			return fmt.Errorf("channels.deleteMessages: %w", err)
		}

		return nil
	}

	_, err := r.raw.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		Revoke: revoke,
		ID:     []int{messageID},
	})
	if err != nil {
		return fmt.Errorf("messages.deleteMessages: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) AnswerCallback(ctx context.Context, queryID int64, text string, alert bool) error {
	_, err := r.raw.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: queryID,
		Message: text,
		Alert:   alert,
	})
	if err != nil {
		return fmt.Errorf("messages.setBotCallbackAnswer: %w", err)
	}

	return nil
}
