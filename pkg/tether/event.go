package tether

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMessageEdited is emitted when an existing message is edited.
	EventKindMessageEdited EventKind = "message.edited"
	// EventKindMessageRetracted is emitted when a message is deleted.
	EventKindMessageRetracted EventKind = "message.retracted"
	// EventKindInteractionReceived is emitted when a user presses a message action.
	EventKindInteractionReceived EventKind = "interaction.received"
	// EventKindCommandReceived is derived by the kernel from a registered command message.
	EventKindCommandReceived EventKind = "command.received"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct/private conversation.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a channel-style conversation.
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource identifies the driver instance that produced an event.
type EventSource struct {
	// Platform identifies the upstream platform.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// Event is the neutral protocol envelope that all drivers publish and modules consume.
//
// Message, Mutation, Interaction, and Command are optional payload branches
// selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Source identifies the driver instance that published the event.
	Source EventSource
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event when available.
	Actor Actor
	// Message carries message content for message.created and command.received events.
	Message *Message
	// Mutation carries before/after context for edit and retraction events.
	Mutation *Mutation
	// Interaction carries action button presses.
	Interaction *Interaction
	// Command carries the bound command for command.received events.
	Command *CommandInvocation
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the neutral destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
}

// Message holds neutral message content.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// ReplyToID is the parent message identifier when this is a reply.
	ReplyToID string
	// ReplyTo is the parent message state when the driver could resolve it.
	ReplyTo *MessageSnapshot
	// Text is the normalized message text body.
	Text string
	// Entities describes formatted ranges inside Text.
	Entities []TextEntity
	// Media contains normalized attachments associated with the message.
	Media []MediaAttachment
	// Reactions is the reaction tally in first-seen order.
	Reactions []MessageReaction
	// CreatedAt is the platform creation time of the message.
	CreatedAt time.Time
	// EditedAt is the last platform edit time, zero when never edited.
	EditedAt time.Time
}

// TextEntity marks a rich text fragment.
type TextEntity struct {
	// Type identifies the entity class (for example url, mention, or bold).
	Type string
	// Offset is the zero-based UTF-16 offset in the message text.
	Offset int
	// Length is the UTF-16 span of the entity.
	Length int
	// URL is the link target for text_url entities.
	URL string
}

// MediaType identifies attachment media categories.
type MediaType string

const (
	// MediaTypePhoto identifies an image attachment.
	MediaTypePhoto MediaType = "photo"
	// MediaTypeVideo identifies a video attachment.
	MediaTypeVideo MediaType = "video"
	// MediaTypeDocument identifies a generic file attachment.
	MediaTypeDocument MediaType = "document"
	// MediaTypePoll identifies a poll attachment.
	MediaTypePoll MediaType = "poll"
)

// MediaAttachment represents rich media payload metadata.
type MediaAttachment struct {
	// ID is the stable attachment identifier when provided by the platform.
	ID string
	// Type is the normalized media category.
	Type MediaType
	// MIMEType is the attachment content type when known.
	MIMEType string
	// FileName is the original attachment filename when available.
	FileName string
	// SizeBytes is the attachment size in bytes when available.
	SizeBytes int64
	// Closed reports a finished poll.
	Closed bool
}

// MessageReaction is one emoji tally entry.
type MessageReaction struct {
	Emoji string
	Count int
}

// MutationType identifies message mutation kind.
type MutationType string

const (
	// MutationTypeEdit indicates message edit.
	MutationTypeEdit MutationType = "edit"
	// MutationTypeRetraction indicates message deletion.
	MutationTypeRetraction MutationType = "retraction"
)

// Mutation holds before/after message mutation context.
type Mutation struct {
	// Type identifies the mutation operation.
	Type MutationType
	// TargetMessageID identifies the message affected by the mutation.
	TargetMessageID string
	// Before captures message state before mutation when the driver remembers it.
	Before *MessageSnapshot
	// After captures message state after mutation. Nil for retractions.
	After *MessageSnapshot
	// ChangedAt is the platform time of the mutation when known.
	ChangedAt *time.Time
}

// MessageSnapshot stores an immutable message state.
type MessageSnapshot struct {
	// Author identifies who wrote the message.
	Author Actor
	// Text is the text snapshot.
	Text string
	// Entities is the entity snapshot.
	Entities []TextEntity
	// Media is the media snapshot.
	Media []MediaAttachment
	// Reactions is the reaction tally snapshot.
	Reactions []MessageReaction
	// CreatedAt is the creation time of the underlying message.
	CreatedAt time.Time
	// EditedAt is the last edit time of the underlying message.
	EditedAt time.Time
}

// Interaction describes a pressed message action.
type Interaction struct {
	// QueryID identifies the platform callback that must be answered.
	QueryID string
	// MessageID identifies the message carrying the action.
	MessageID string
	// Data is the opaque payload attached to the action.
	Data string
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	case EventKindMessageEdited:
		if e.Mutation == nil || e.Mutation.After == nil {
			return fmt.Errorf("%w: message.edited requires mutation after snapshot", ErrInvalidEvent)
		}
	case EventKindMessageRetracted:
		if e.Mutation == nil {
			return fmt.Errorf("%w: message.retracted requires mutation payload", ErrInvalidEvent)
		}
	case EventKindInteractionReceived:
		if e.Interaction == nil {
			return fmt.Errorf("%w: interaction.received requires interaction payload", ErrInvalidEvent)
		}
	case EventKindCommandReceived:
		if e.Command == nil || e.Message == nil {
			return fmt.Errorf("%w: command.received requires command and message payloads", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// Snapshot captures the message as an immutable snapshot attributed to author.
func (m Message) Snapshot(author Actor) MessageSnapshot {
	return MessageSnapshot{
		Author:    author,
		Text:      m.Text,
		Entities:  append([]TextEntity(nil), m.Entities...),
		Media:     append([]MediaAttachment(nil), m.Media...),
		Reactions: append([]MessageReaction(nil), m.Reactions...),
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
}
