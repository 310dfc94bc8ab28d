package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tether/pkg/tether"
)

// ActionKind names what a reply button does.
type ActionKind string

const (
	// ActionDelete removes the reply.
	ActionDelete ActionKind = "d"
	// ActionFreeze stops reconciliation for the original message.
	ActionFreeze ActionKind = "f"
)

const actionDataPrefix = "rc"

// Action is the decoded payload of a reply button.
type Action struct {
	Kind ActionKind
	// AuthorID is the author of the original message.
	AuthorID string
	// Items is how many items the reply showed when the button was made.
	Items int
}

// Data encodes a into button data.
func (a Action) Data() string {
	return strings.Join([]string{actionDataPrefix, string(a.Kind), a.AuthorID, strconv.Itoa(a.Items)}, ":")
}

// ParseAction decodes button data made by Action.Data.
func ParseAction(data string) (Action, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 || parts[0] != actionDataPrefix {
		return Action{}, false
	}
	kind := ActionKind(parts[1])
	if kind != ActionDelete && kind != ActionFreeze {
		return Action{}, false
	}
	items, err := strconv.Atoi(parts[3])
	if err != nil {
		return Action{}, false
	}

	return Action{Kind: kind, AuthorID: parts[2], Items: items}, true
}

// DefaultActions offers Delete and Freeze buttons.
func DefaultActions(original Message, items int) []tether.MessageAction {
	return []tether.MessageAction{
		deleteAction(original.Author.ID, items),
		{Label: "❄️ Freeze", Data: Action{Kind: ActionFreeze, AuthorID: original.Author.ID, Items: items}.Data()},
	}
}

// DeleteOnlyActions offers just the Delete button.
func DeleteOnlyActions(original Message, items int) []tether.MessageAction {
	return []tether.MessageAction{deleteAction(original.Author.ID, items)}
}

func deleteAction(authorID string, items int) tether.MessageAction {
	return tether.MessageAction{
		Label: "❌ Delete",
		Data:  Action{Kind: ActionDelete, AuthorID: authorID, Items: items}.Data(),
	}
}

// HandleInteraction applies a pressed reply button. It reports false when
// the interaction carries data this package did not produce.
//
// Only the original author or a moderator may use the buttons. Delete
// removes the reply; Freeze marks the original so later edits and deletes
// leave the reply alone.
func (r *Reconciler) HandleInteraction(ctx context.Context, event *tether.Event) (bool, error) {
	if event == nil || event.Interaction == nil {
		return false, nil
	}
	action, ok := ParseAction(event.Interaction.Data)
	if !ok {
		return false, nil
	}
	target, err := tether.OutboundTargetFromEvent(event)
	if err != nil {
		return true, fmt.Errorf("%s interaction target: %w", r.name, err)
	}
	reply := tether.MessageRef{Target: target, ID: event.Interaction.MessageID}

	if event.Actor.ID != action.AuthorID && !r.isModerator(event.Actor) {
		verb := "remove"
		if action.Kind == ActionFreeze {
			verb = "freeze"
		}
		observeTransition(r.name, hookInteraction, outcomeRejected)
		return true, r.answer(ctx, target, event.Interaction.QueryID, r.rejection(action.Items, verb), true)
	}

	switch action.Kind {
	case ActionDelete:
		if err := r.deleteDerived(ctx, reply); err != nil {
			return true, err
		}
		observeTransition(r.name, hookInteraction, outcomeDeleted)
		return true, r.answer(ctx, target, event.Interaction.QueryID, "", false)
	default:
		if original, linked := r.links.GetOriginal(reply); linked {
			r.links.Freeze(original)
		}
		err := r.dispatcher.EditMessage(ctx, tether.EditMessageRequest{
			Target:    target,
			MessageID: reply.ID,
			Actions:   []tether.MessageAction{deleteAction(action.AuthorID, action.Items)},
		})
		if err != nil && !tether.IsOutboundNotFound(err) && !tether.IsOutboundNotModified(err) {
			return true, fmt.Errorf("%s freeze reply %s: %w", r.name, reply.Key(), err)
		}
		observeTransition(r.name, hookInteraction, outcomeFrozen)
		return true, r.answer(ctx, target, event.Interaction.QueryID,
			"Message frozen. I will no longer react to what happens to your original message.", true)
	}
}

func (r *Reconciler) rejection(items int, verb string) string {
	phrase := r.phrasePlural
	if items == 1 {
		phrase = r.phraseSingular
	}

	return "Only the person who " + phrase + " can " + verb + " this message."
}

func (r *Reconciler) answer(ctx context.Context, target tether.OutboundTarget, queryID, text string, alert bool) error {
	if queryID == "" {
		return nil
	}
	err := r.dispatcher.AnswerInteraction(ctx, tether.AnswerInteractionRequest{
		Target:  target,
		QueryID: queryID,
		Text:    text,
		Alert:   alert,
	})
	if err != nil {
		return fmt.Errorf("%s answer interaction: %w", r.name, err)
	}

	return nil
}
