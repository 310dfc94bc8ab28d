package reconcile

import (
	"context"
	"errors"
	"fmt"

	"tether/pkg/tether"
)

const expiredNotice = "These buttons have expired."

// ErrNoPriorState reports an edit whose previous content is unknown.
var ErrNoPriorState = errors.New("reconcile: edit without prior message state")

// MessageFromEvent builds the Message a created or command event is about.
func MessageFromEvent(event *tether.Event) (Message, error) {
	if event == nil || event.Message == nil {
		return Message{}, fmt.Errorf("message from event: missing message payload")
	}
	ref, err := tether.MessageRefFromEvent(event)
	if err != nil {
		return Message{}, fmt.Errorf("message from event: %w", err)
	}

	return Message{
		Ref:       ref,
		Author:    event.Actor,
		Text:      event.Message.Text,
		Entities:  event.Message.Entities,
		Media:     event.Message.Media,
		Reactions: event.Message.Reactions,
	}, nil
}

// EditFromEvent splits an edit event into the before and after messages.
// It returns ErrNoPriorState when the event has no before snapshot.
func EditFromEvent(event *tether.Event) (Message, Message, error) {
	if event == nil || event.Mutation == nil || event.Mutation.After == nil {
		return Message{}, Message{}, fmt.Errorf("edit from event: missing mutation")
	}
	if event.Mutation.Before == nil {
		return Message{}, Message{}, ErrNoPriorState
	}
	ref, err := tether.MessageRefFromEvent(event)
	if err != nil {
		return Message{}, Message{}, fmt.Errorf("edit from event: %w", err)
	}

	before := fromSnapshot(ref, *event.Mutation.Before, event.Actor)
	after := fromSnapshot(ref, *event.Mutation.After, event.Actor)

	return before, after, nil
}

// RetractionFromEvent builds the Message a retraction event removed. Fields
// the platform did not report stay empty.
func RetractionFromEvent(event *tether.Event) (Message, error) {
	if event == nil || event.Mutation == nil {
		return Message{}, fmt.Errorf("retraction from event: missing mutation")
	}
	ref, err := tether.MessageRefFromEvent(event)
	if err != nil {
		return Message{}, fmt.Errorf("retraction from event: %w", err)
	}
	if event.Mutation.Before == nil {
		return Message{Ref: ref, Author: event.Actor}, nil
	}

	return fromSnapshot(ref, *event.Mutation.Before, event.Actor), nil
}

func fromSnapshot(ref tether.MessageRef, snapshot tether.MessageSnapshot, actor tether.Actor) Message {
	author := snapshot.Author
	if author.ID == "" {
		author = actor
	}

	return Message{
		Ref:       ref,
		Author:    author,
		Text:      snapshot.Text,
		Entities:  snapshot.Entities,
		Media:     snapshot.Media,
		Reactions: snapshot.Reactions,
	}
}

// HandleEvent routes one protocol event to the matching hook. Events the
// reconciler has nothing to do with are ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, event *tether.Event) error {
	if event == nil {
		return nil
	}

	switch event.Kind {
	case tether.EventKindMessageCreated:
		msg, err := MessageFromEvent(event)
		if err != nil {
			return err
		}
		return r.interactor(ctx, msg)
	case tether.EventKindMessageEdited:
		before, after, err := EditFromEvent(event)
		if errors.Is(err, ErrNoPriorState) {
			r.logger.DebugContext(ctx, "skip edit without prior state", "event_id", event.ID)
			return nil
		}
		if err != nil {
			return err
		}
		return r.HandleEdit(ctx, before, after)
	case tether.EventKindMessageRetracted:
		msg, err := RetractionFromEvent(event)
		if err != nil {
			return err
		}
		return r.HandleDelete(ctx, msg)
	case tether.EventKindInteractionReceived:
		// Several reconcilers can share one stream; each answers for its own replies.
		switch r.interactionOwnership(event) {
		case replyLinked:
			_, err := r.HandleInteraction(ctx, event)
			return err
		case replyRetired:
			return r.answerExpired(ctx, event)
		default:
			return nil
		}
	default:
		return nil
	}
}

type ownership int

const (
	replyForeign ownership = iota
	replyLinked
	replyRetired
)

func (r *Reconciler) interactionOwnership(event *tether.Event) ownership {
	if event.Interaction == nil {
		return replyForeign
	}
	target, err := tether.OutboundTargetFromEvent(event)
	if err != nil {
		return replyForeign
	}
	reply := tether.MessageRef{Target: target, ID: event.Interaction.MessageID}
	if _, linked := r.links.GetOriginal(reply); linked {
		return replyLinked
	}
	if r.links.IsRetired(reply) {
		return replyRetired
	}

	return replyForeign
}

// answerExpired closes a button press on a reply this reconciler no longer
// tracks, so the client stops waiting.
func (r *Reconciler) answerExpired(ctx context.Context, event *tether.Event) error {
	if _, ok := ParseAction(event.Interaction.Data); !ok {
		return nil
	}
	target, err := tether.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("%s interaction target: %w", r.name, err)
	}
	observeTransition(r.name, hookInteraction, outcomeReplyExpired)

	return r.answer(ctx, target, event.Interaction.QueryID, expiredNotice, true)
}
