package telegram

import (
	"context"
	"fmt"
	"time"

	"tether/pkg/tether"

	"github.com/google/uuid"
)

// Decoder converts Telegram update DTOs into neutral events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*tether.Event, error)
}

// DefaultDecoder provides default Telegram-to-tether mappings.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*tether.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		event.Kind = tether.EventKindMessageCreated
		message, err := decodeMessage(update.Message)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		event.Message = message
	case UpdateTypeEdit:
		event.Kind = tether.EventKindMessageEdited
		mutation, err := decodeEdit(update.Edit, mapActor(update.Actor), event.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("decode edit: %w", err)
		}
		event.Mutation = mutation
	case UpdateTypeDelete:
		event.Kind = tether.EventKindMessageRetracted
		mutation, err := decodeDelete(update.Delete, event.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("decode delete: %w", err)
		}
		event.Mutation = mutation
	case UpdateTypeCallback:
		event.Kind = tether.EventKindInteractionReceived
		interaction, err := decodeCallback(update.Callback)
		if err != nil {
			return nil, fmt.Errorf("decode callback: %w", err)
		}
		event.Interaction = interaction
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

// newBaseEvent builds the shared envelope fields used by all update mappings.
func newBaseEvent(update Update) *tether.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	id := update.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &tether.Event{
		ID:           id,
		OccurredAt:   occurredAt,
		Conversation: mapConversation(update.Chat),
		Actor:        mapActor(update.Actor),
		Metadata:     update.Metadata,
	}
}

func decodeMessage(payload *MessagePayload) (*tether.Message, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing message payload")
	}
	message := mapMessage(*payload)

	return &message, nil
}

func decodeEdit(payload *EditPayload, author tether.Actor, occurredAt time.Time) (*tether.Mutation, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing edit payload")
	}

	after := mapMessage(payload.Message).Snapshot(author)
	changedAt := occurredAt
	if !payload.Message.EditedAt.IsZero() {
		changedAt = payload.Message.EditedAt
	}

	return &tether.Mutation{
		Type:            tether.MutationTypeEdit,
		TargetMessageID: payload.Message.ID,
		Before:          payload.Before,
		After:           &after,
		ChangedAt:       &changedAt,
	}, nil
}

func decodeDelete(payload *DeletePayload, occurredAt time.Time) (*tether.Mutation, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing delete payload")
	}
	if payload.MessageID == "" {
		return nil, fmt.Errorf("missing deleted message id")
	}

	changedAt := occurredAt

	return &tether.Mutation{
		Type:            tether.MutationTypeRetraction,
		TargetMessageID: payload.MessageID,
		Before:          payload.Before,
		ChangedAt:       &changedAt,
	}, nil
}

func decodeCallback(payload *CallbackPayload) (*tether.Interaction, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing callback payload")
	}
	if payload.QueryID == "" {
		return nil, fmt.Errorf("missing callback query id")
	}

	return &tether.Interaction{
		QueryID:   payload.QueryID,
		MessageID: payload.MessageID,
		Data:      payload.Data,
	}, nil
}

func mapMessage(payload MessagePayload) tether.Message {
	return tether.Message{
		ID:        payload.ID,
		ReplyToID: payload.ReplyToID,
		ReplyTo:   payload.ReplyTo,
		Text:      payload.Text,
		Entities:  payload.Entities,
		Media:     payload.Media,
		Reactions: payload.Reactions,
		CreatedAt: payload.CreatedAt,
		EditedAt:  payload.EditedAt,
	}
}

func mapConversation(chat ChatRef) tether.Conversation {
	return tether.Conversation{
		ID:    chat.ID,
		Type:  chat.Type,
		Title: chat.Title,
	}
}

// mapActor converts adapter actor references to neutral actor values.
func mapActor(actor ActorRef) tether.Actor {
	return tether.Actor{
		ID:          actor.ID,
		Username:    actor.Username,
		DisplayName: actor.DisplayName,
		IsBot:       actor.IsBot,
	}
}

func actorRefFrom(actor tether.Actor) ActorRef {
	return ActorRef{
		ID:          actor.ID,
		Username:    actor.Username,
		DisplayName: actor.DisplayName,
		IsBot:       actor.IsBot,
	}
}
