package tether

import (
	"context"
	"fmt"
	"time"
	"unicode/utf16"
)

// OutboundDispatcher sends neutral outbound operations to a platform sink.
//
// Implementations enforce platform-specific constraints while preserving
// these protocol-level request semantics.
type OutboundDispatcher interface {
	// SendMessage publishes a new outbound message to a destination conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// EditMessage replaces text and actions of an existing message.
	EditMessage(ctx context.Context, request EditMessageRequest) error
	// DeleteMessage removes an existing message.
	DeleteMessage(ctx context.Context, request DeleteMessageRequest) error
	// AnswerInteraction acknowledges a pressed message action.
	AnswerInteraction(ctx context.Context, request AnswerInteractionRequest) error
}

// SinkRef identifies one configured driver instance used for outbound routing.
type SinkRef struct {
	// Platform identifies the destination platform.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
	// Sink optionally pins routing to one driver instance.
	Sink *SinkRef
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && t.Sink.Platform == "" && t.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a reply destination from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{Conversation: event.Conversation}
	if event.Source.Platform != "" || event.Source.ID != "" {
		target.Sink = &SinkRef{Platform: event.Source.Platform, ID: event.Source.ID}
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// MessageAction is one inline button rendered under a message.
type MessageAction struct {
	// Label is the visible button caption.
	Label string
	// Data is returned verbatim in Interaction.Data when pressed.
	Data string
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
	// SentAt is the platform creation time of the message.
	SentAt time.Time
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	// Target identifies where the message should be sent.
	Target OutboundTarget
	// Text is the message body.
	Text string
	// Entities decorates Text with formatting ranges.
	Entities []TextEntity
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
	// Actions renders inline buttons under the message.
	Actions []MessageAction
	// DisableLinkPreview disables link previews when supported.
	DisableLinkPreview bool
	// Silent suppresses destination-side notifications when supported.
	Silent bool
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}
	if err := ValidateTextEntities(r.Text, r.Entities); err != nil {
		return fmt.Errorf("%w: validate send message entities: %w", ErrInvalidOutboundRequest, err)
	}
	if err := validateActions(r.Actions); err != nil {
		return fmt.Errorf("%w: validate send message actions: %w", ErrInvalidOutboundRequest, err)
	}

	return nil
}

// EditMessageRequest describes a text edit for an existing message.
//
// Actions replace the current buttons; an empty slice removes them. An empty
// Text keeps the current body and only replaces the buttons.
type EditMessageRequest struct {
	// Target identifies where the message exists.
	Target OutboundTarget
	// MessageID identifies which message should be edited.
	MessageID string
	// Text is the replacement message body.
	Text string
	// Entities decorates Text with formatting ranges.
	Entities []TextEntity
	// Actions replaces inline buttons under the message.
	Actions []MessageAction
	// DisableLinkPreview disables link previews when supported.
	DisableLinkPreview bool
}

// Validate checks the request envelope before dispatch.
func (r EditMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate edit message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}
	if r.Text == "" && len(r.Entities) > 0 {
		return fmt.Errorf("%w: entities without message text", ErrInvalidOutboundRequest)
	}
	if err := ValidateTextEntities(r.Text, r.Entities); err != nil {
		return fmt.Errorf("%w: validate edit message entities: %w", ErrInvalidOutboundRequest, err)
	}
	if err := validateActions(r.Actions); err != nil {
		return fmt.Errorf("%w: validate edit message actions: %w", ErrInvalidOutboundRequest, err)
	}

	return nil
}

// DeleteMessageRequest describes message deletion behavior.
type DeleteMessageRequest struct {
	// Target identifies where the message exists.
	Target OutboundTarget
	// MessageID identifies which message should be deleted.
	MessageID string
	// Revoke requests deletion for all participants when supported.
	Revoke bool
}

// Validate checks the request envelope before dispatch.
func (r DeleteMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate delete message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}

// AnswerInteractionRequest acknowledges one interaction.
type AnswerInteractionRequest struct {
	// Target identifies the sink that delivered the interaction.
	Target OutboundTarget
	// QueryID is Interaction.QueryID.
	QueryID string
	// Text is an optional toast shown to the presser.
	Text string
	// Alert shows Text as a modal alert instead of a toast.
	Alert bool
}

// Validate checks the request envelope before dispatch.
func (r AnswerInteractionRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate answer interaction target: %w", err)
	}
	if r.QueryID == "" {
		return fmt.Errorf("%w: missing query id", ErrInvalidOutboundRequest)
	}

	return nil
}

// ValidateTextEntities checks that every entity range lies inside text.
//
// Offsets and lengths are measured in UTF-16 code units.
func ValidateTextEntities(text string, entities []TextEntity) error {
	if len(entities) == 0 {
		return nil
	}
	size := len(utf16.Encode([]rune(text)))
	for index, entity := range entities {
		if entity.Type == "" {
			return fmt.Errorf("entities[%d]: missing type", index)
		}
		if entity.Offset < 0 || entity.Length <= 0 {
			return fmt.Errorf("entities[%d]: invalid range offset=%d length=%d", index, entity.Offset, entity.Length)
		}
		if entity.Offset+entity.Length > size {
			return fmt.Errorf("entities[%d]: range exceeds text length %d", index, size)
		}
		if entity.Type == "text_url" && entity.URL == "" {
			return fmt.Errorf("entities[%d]: text_url requires url", index)
		}
	}

	return nil
}

func validateActions(actions []MessageAction) error {
	for index, action := range actions {
		if action.Label == "" {
			return fmt.Errorf("actions[%d]: missing label", index)
		}
		if action.Data == "" {
			return fmt.Errorf("actions[%d]: missing data", index)
		}
		if len(action.Data) > 64 {
			return fmt.Errorf("actions[%d]: data exceeds 64 bytes", index)
		}
	}

	return nil
}
