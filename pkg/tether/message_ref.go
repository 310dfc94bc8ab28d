package tether

import (
	"fmt"
	"time"
)

// MessageKey is the comparable identity of one message.
type MessageKey struct {
	ConversationID string
	MessageID      string
}

// String renders the key as conversation/message.
func (k MessageKey) String() string {
	return k.ConversationID + "/" + k.MessageID
}

// MessageRef identifies one message together with where it lives and when it
// was created. CreatedAt drives age-based expiry.
type MessageRef struct {
	// Target routes outbound operations on the message.
	Target OutboundTarget
	// ID is the platform message identifier.
	ID string
	// CreatedAt is the platform creation time.
	CreatedAt time.Time
}

// Key returns the comparable identity of the referenced message.
func (r MessageRef) Key() MessageKey {
	return MessageKey{ConversationID: r.Target.Conversation.ID, MessageID: r.ID}
}

// MessageRefFromEvent references the message an event is about.
//
// For message.created and command.received events it is Event.Message; for
// mutations it is the mutation target, dated by the best known snapshot.
func MessageRefFromEvent(event *Event) (MessageRef, error) {
	if event == nil {
		return MessageRef{}, fmt.Errorf("message ref from event: nil event")
	}
	target, err := OutboundTargetFromEvent(event)
	if err != nil {
		return MessageRef{}, fmt.Errorf("message ref from event: %w", err)
	}

	switch {
	case event.Message != nil:
		return MessageRef{Target: target, ID: event.Message.ID, CreatedAt: event.Message.CreatedAt}, nil
	case event.Mutation != nil:
		ref := MessageRef{Target: target, ID: event.Mutation.TargetMessageID}
		switch {
		case event.Mutation.Before != nil && !event.Mutation.Before.CreatedAt.IsZero():
			ref.CreatedAt = event.Mutation.Before.CreatedAt
		case event.Mutation.After != nil:
			ref.CreatedAt = event.Mutation.After.CreatedAt
		}
		if ref.ID == "" {
			return MessageRef{}, fmt.Errorf("message ref from event %s: missing target message id", event.Kind)
		}
		return ref, nil
	default:
		return MessageRef{}, fmt.Errorf("message ref from event %s: no message payload", event.Kind)
	}
}
