package reconcile

import (
	"context"
	"fmt"

	"tether/pkg/tether"
)

// HandleEdit reconciles the reply of before after it was edited into after.
//
// Checks run in a fixed order: unchanged text, expired original, unchanged
// content, missing link, expired reply, freeze, emptied content, and finally
// an in-place edit of the reply.
func (r *Reconciler) HandleEdit(ctx context.Context, before, after Message) error {
	if before.Text == after.Text {
		observeTransition(r.name, hookEdit, outcomeSameText)
		return nil
	}

	if r.links.IsExpired(before.Ref) {
		r.links.Unlink(before.Ref)
		observeTransition(r.name, hookEdit, outcomeOriginalExpired)
		return nil
	}

	oldContent, err := r.generator.Generate(ctx, before)
	if err != nil {
		return fmt.Errorf("%s edit generate before %s: %w", r.name, before.Ref.Key(), err)
	}
	newContent, err := r.generator.Generate(ctx, after)
	if err != nil {
		return fmt.Errorf("%s edit generate after %s: %w", r.name, after.Ref.Key(), err)
	}
	if oldContent.Equal(newContent) {
		observeTransition(r.name, hookEdit, outcomeSameContent)
		return nil
	}

	reply, linked := r.links.Get(before.Ref)
	if !linked {
		if r.links.IsFrozen(before.Ref) {
			observeTransition(r.name, hookEdit, outcomeFrozen)
			return nil
		}
		if oldContent.Items > 0 {
			// The reply was removed independently; it stays gone.
			observeTransition(r.name, hookEdit, outcomeNotRelinked)
			return nil
		}
		if err := r.interactor(ctx, after); err != nil {
			return fmt.Errorf("%s edit create %s: %w", r.name, after.Ref.Key(), err)
		}
		observeTransition(r.name, hookEdit, outcomeCreated)
		return nil
	}

	if r.links.IsExpired(reply) {
		r.links.UnlinkFromReply(reply)
		r.links.Unfreeze(before.Ref)
		observeTransition(r.name, hookEdit, outcomeReplyExpired)
		return nil
	}

	if r.links.IsFrozen(before.Ref) {
		observeTransition(r.name, hookEdit, outcomeFrozen)
		return nil
	}

	if newContent.Items <= 0 {
		r.links.Unlink(before.Ref)
		if err := r.deleteDerived(ctx, reply); err != nil {
			return err
		}
		observeTransition(r.name, hookEdit, outcomeDeleted)
		return nil
	}

	err = r.dispatcher.EditMessage(ctx, tether.EditMessageRequest{
		Target:             reply.Target,
		MessageID:          reply.ID,
		Text:               newContent.Text,
		Entities:           newContent.Entities,
		Actions:            r.actions(after, newContent.Items),
		DisableLinkPreview: newContent.DisableLinkPreview,
	})
	switch {
	case err == nil:
	case tether.IsOutboundNotFound(err):
		r.views.cancel(reply.Key())
		observeTransition(r.name, hookEdit, outcomeReplyGone)
		return nil
	default:
		return fmt.Errorf("%s edit reply %s: %w", r.name, reply.Key(), err)
	}
	r.views.schedule(reply, r.editViewTimeout)
	observeTransition(r.name, hookEdit, outcomeEdited)

	return nil
}

// HandleDelete reconciles the removal of msg.
//
// A deleted reply releases its original. A deleted original takes its reply
// with it unless the original is frozen or expired. The freeze flag of msg is
// always cleared.
func (r *Reconciler) HandleDelete(ctx context.Context, msg Message) error {
	defer r.links.Unfreeze(msg.Ref)

	if msg.Author.IsBot {
		if original, ok := r.links.GetOriginal(msg.Ref); ok {
			r.views.cancel(msg.Ref.Key())
			r.links.Unlink(original)
			r.links.Unfreeze(original)
			observeTransition(r.name, hookDelete, outcomeReleased)
			return nil
		}
	}

	reply, linked := r.links.Get(msg.Ref)
	if !linked || r.links.IsFrozen(msg.Ref) {
		observeTransition(r.name, hookDelete, outcomeNoop)
		return nil
	}
	if r.links.IsExpired(msg.Ref) {
		r.links.Unlink(msg.Ref)
		observeTransition(r.name, hookDelete, outcomeOriginalExpired)
		return nil
	}

	// The reply's own deletion notice unlinks it.
	if err := r.deleteDerived(ctx, reply); err != nil {
		return err
	}
	observeTransition(r.name, hookDelete, outcomeDeleted)

	return nil
}
