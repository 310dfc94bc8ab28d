package telegram

import (
	"time"

	"tether/pkg/tether"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new message updates.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeEdit identifies edited message updates.
	UpdateTypeEdit UpdateType = "edit"
	// UpdateTypeDelete identifies deleted message updates.
	UpdateTypeDelete UpdateType = "delete"
	// UpdateTypeCallback identifies inline button presses.
	UpdateTypeCallback UpdateType = "callback"
	// UpdateTypeReactions identifies reaction tally refreshes.
	//
	// Reaction updates only refresh remembered message state and never
	// produce a neutral event.
	UpdateTypeReactions UpdateType = "reactions"
)

// Update is the Telegram adapter's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Edit       *EditPayload
	Delete     *DeletePayload
	Callback   *CallbackPayload
	Reactions  *ReactionsPayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
//
// Telegram message IDs are per-chat only for channels and supergroups;
// ChannelPeer marks chats whose IDs live in that separate space.
type ChatRef struct {
	ID          string
	Title       string
	Type        tether.ConversationType
	ChannelPeer bool
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload represents a Telegram message projection.
type MessagePayload struct {
	ID        string
	ReplyToID string
	ReplyTo   *tether.MessageSnapshot
	Text      string
	Entities  []tether.TextEntity
	Media     []tether.MediaAttachment
	Reactions []tether.MessageReaction
	CreatedAt time.Time
	EditedAt  time.Time
}

// EditPayload carries the message state after an edit.
type EditPayload struct {
	Message MessagePayload
	Before  *tether.MessageSnapshot
}

// DeletePayload identifies one deleted message.
//
// Chat is only known for channel peers; the driver recovers the rest from
// its snapshot store.
type DeletePayload struct {
	MessageID string
	Before    *tether.MessageSnapshot
}

// CallbackPayload captures one inline button press.
type CallbackPayload struct {
	QueryID   string
	MessageID string
	Data      string
}

// ReactionsPayload carries the current reaction tally of one message.
type ReactionsPayload struct {
	MessageID string
	Reactions []tether.MessageReaction
}

func scopeOf(chat ChatRef) string {
	if chat.ChannelPeer {
		return chat.ID
	}

	return ""
}
