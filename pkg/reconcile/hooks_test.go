package reconcile

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"tether/pkg/tether"
)

func notFound(operation tether.OutboundOperation) error {
	return &tether.OutboundError{
		Operation: operation,
		Kind:      tether.OutboundErrorKindNotFound,
		Cause:     errors.New("MESSAGE_ID_INVALID"),
	}
}

func TestHandleEditSameText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo", 0, false)

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}
	if f.generator.calls.Load() != 0 {
		t.Fatalf("generator calls = %d, want 0", f.generator.calls.Load())
	}
	assertNoPlatformCalls(t, f.dispatcher)
}

func TestHandleEditOriginalExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo", 48*time.Hour, false)
	f.link(t, msg, msg)

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "bar")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}
	if f.generator.calls.Load() != 0 {
		t.Fatalf("generator calls = %d, want 0", f.generator.calls.Load())
	}
	if f.links.Len() != 0 {
		t.Fatalf("links = %d, want 0", f.links.Len())
	}
	assertNoPlatformCalls(t, f.dispatcher)
}

func TestHandleEditSameContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1", 0, false)

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "bar 1")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}
	if f.interactor.count() != 0 {
		t.Fatalf("interactor calls = %d, want 0", f.interactor.count())
	}
	assertNoPlatformCalls(t, f.dispatcher)
}

func TestHandleEditUnlinked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		before          string
		after           string
		frozen          bool
		wantInteraction bool
	}{
		{name: "frozen", before: "foo 1", after: "foo 2", frozen: true},
		{name: "reply removed earlier", before: "foo 1", after: "foo 2"},
		{name: "items edited in", before: "foo", after: "foo 1", wantInteraction: true},
		{name: "items edited in while frozen", before: "foo", after: "foo 1", frozen: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			msg := f.message(testCase.before, 0, false)
			if testCase.frozen {
				f.links.Freeze(msg.Ref)
			}

			after := edited(msg, testCase.after)
			if err := f.reconciler.HandleEdit(context.Background(), msg, after); err != nil {
				t.Fatalf("HandleEdit error = %v", err)
			}
			if got := f.interactor.count() == 1; got != testCase.wantInteraction {
				t.Fatalf("interactor called = %v, want %v", got, testCase.wantInteraction)
			}
			if testCase.wantInteraction && f.interactor.calls[0].Text != testCase.after {
				t.Fatalf("interactor text = %q, want %q", f.interactor.calls[0].Text, testCase.after)
			}
			if f.links.IsFrozen(msg.Ref) != testCase.frozen {
				t.Fatalf("IsFrozen = %v, want %v", f.links.IsFrozen(msg.Ref), testCase.frozen)
			}
			assertNoPlatformCalls(t, f.dispatcher)
		})
	}
}

func TestHandleEditLinkedFrozen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1", 0, false)
	reply := f.message("0x1", 0, true)
	f.link(t, msg, reply)
	f.links.Freeze(msg.Ref)

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo 2")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}
	assertNoPlatformCalls(t, f.dispatcher)
	if _, ok := f.links.Get(msg.Ref); !ok {
		t.Fatal("link removed, want kept")
	}
	if !f.links.IsFrozen(msg.Ref) {
		t.Fatal("freeze cleared, want kept")
	}
}

func TestHandleEditReplyExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1", 0, false)
	reply := f.message("0x1", 25*time.Hour, true)
	f.link(t, msg, reply)
	f.links.Freeze(msg.Ref)

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo 2")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}
	assertNoPlatformCalls(t, f.dispatcher)
	if f.links.Len() != 0 {
		t.Fatalf("links = %d, want 0", f.links.Len())
	}
	if f.links.IsFrozen(msg.Ref) {
		t.Fatal("freeze kept, want cleared")
	}
}

func TestHandleEditItemsEditedOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1 2", 0, false)
	reply := f.message("0x1,x2", 0, true)
	f.link(t, msg, reply)

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}
	if f.links.Len() != 0 {
		t.Fatalf("links = %d, want 0", f.links.Len())
	}
	_, _, deletes, _ := f.dispatcher.counts()
	if deletes != 1 || f.dispatcher.deletes[0].MessageID != reply.Ref.ID {
		t.Fatalf("deletes = %+v, want reply %s", f.dispatcher.deletes, reply.Ref.ID)
	}
}

func TestHandleEditItemsEditedOutReplyGone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.deleteErr = notFound(tether.OutboundOperationDeleteMessage)
	msg := f.message("foo 1", 0, false)
	f.link(t, msg, f.message("0x1", 0, true))

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo")); err != nil {
		t.Fatalf("HandleEdit error = %v, want not-found swallowed", err)
	}
}

func TestHandleEditItemsEdited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithViewTimeout(5*time.Millisecond))
	msg := f.message("foo 1", 0, false)
	reply := f.message("0x1", 0, true)
	f.link(t, msg, reply)

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo 2")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}

	first := f.dispatcher.editAt(0)
	if first.MessageID != reply.Ref.ID || first.Text != "0x2" {
		t.Fatalf("first edit = %+v, want reply text 0x2", first)
	}
	if len(first.Actions) != 2 {
		t.Fatalf("first edit actions = %d, want 2", len(first.Actions))
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, edits, _, _ := f.dispatcher.counts(); edits == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("view removal edit did not happen")
		}
		time.Sleep(time.Millisecond)
	}
	second := f.dispatcher.editAt(1)
	if second.Text != "" || len(second.Actions) != 0 {
		t.Fatalf("second edit = %+v, want actions-only removal", second)
	}
}

func TestHandleEditErrors(t *testing.T) {
	t.Parallel()

	t.Run("generator", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		errGenerate := errors.New("boom")
		f.generator.err = errGenerate
		msg := f.message("foo 1", 0, false)

		if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo 2")); !errors.Is(err, errGenerate) {
			t.Fatalf("HandleEdit error = %v, want %v", err, errGenerate)
		}
	})

	t.Run("forbidden edit", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.dispatcher.editErr = &tether.OutboundError{
			Operation: tether.OutboundOperationEditMessage,
			Kind:      tether.OutboundErrorKindForbidden,
			Cause:     errors.New("CHAT_ADMIN_REQUIRED"),
		}
		msg := f.message("foo 1", 0, false)
		f.link(t, msg, f.message("0x1", 0, true))

		if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo 2")); !tether.IsOutboundForbidden(err) {
			t.Fatalf("HandleEdit error = %v, want forbidden", err)
		}
	})

	t.Run("reply gone", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.dispatcher.editErr = notFound(tether.OutboundOperationEditMessage)
		msg := f.message("foo 1", 0, false)
		f.link(t, msg, f.message("0x1", 0, true))

		if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "foo 2")); err != nil {
			t.Fatalf("HandleEdit error = %v, want nil", err)
		}
		if f.reconciler.views.pending() != 0 {
			t.Fatalf("pending views = %d, want 0", f.reconciler.views.pending())
		}
	})
}

func TestHandleDeleteOriginal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1", 0, false)
	reply := f.message("0x1", 0, true)
	f.link(t, msg, reply)

	if err := f.reconciler.HandleDelete(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelete(original) error = %v", err)
	}
	_, _, deletes, _ := f.dispatcher.counts()
	if deletes != 1 {
		t.Fatalf("deletes = %d, want 1", deletes)
	}
	if f.links.Len() != 1 {
		t.Fatalf("links = %d, want link kept until the reply deletion arrives", f.links.Len())
	}

	if err := f.reconciler.HandleDelete(context.Background(), reply); err != nil {
		t.Fatalf("HandleDelete(reply) error = %v", err)
	}
	if f.links.Len() != 0 {
		t.Fatalf("links = %d, want 0", f.links.Len())
	}
}

func TestHandleDeleteOriginalFrozen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1", 0, false)
	f.link(t, msg, f.message("0x1", 0, true))
	f.links.Freeze(msg.Ref)

	if err := f.reconciler.HandleDelete(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelete error = %v", err)
	}
	assertNoPlatformCalls(t, f.dispatcher)
	if f.links.Len() != 1 {
		t.Fatalf("links = %d, want 1", f.links.Len())
	}
	if f.links.IsFrozen(msg.Ref) {
		t.Fatal("freeze kept, want cleared")
	}
}

func TestHandleDeleteNotLinked(t *testing.T) {
	t.Parallel()

	for _, freeze := range []bool{true, false} {
		t.Run("freeze="+strconv.FormatBool(freeze), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			msg := f.message("foo", 0, false)
			if freeze {
				f.links.Freeze(msg.Ref)
			}

			if err := f.reconciler.HandleDelete(context.Background(), msg); err != nil {
				t.Fatalf("HandleDelete error = %v", err)
			}
			if f.links.IsFrozen(msg.Ref) {
				t.Fatal("freeze kept, want cleared")
			}
			assertNoPlatformCalls(t, f.dispatcher)
		})
	}
}

func TestHandleDeleteOriginalExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1", 48*time.Hour, false)
	f.link(t, msg, f.message("0x1", 0, true))

	if err := f.reconciler.HandleDelete(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelete error = %v", err)
	}
	assertNoPlatformCalls(t, f.dispatcher)
	if f.links.Len() != 0 {
		t.Fatalf("links = %d, want 0", f.links.Len())
	}
}

func TestHandleDeleteReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("foo 1", 0, false)
	reply := f.message("0x1", 0, true)
	f.link(t, msg, reply)
	f.links.Freeze(msg.Ref)

	if err := f.reconciler.HandleDelete(context.Background(), reply); err != nil {
		t.Fatalf("HandleDelete error = %v", err)
	}
	if f.links.Len() != 0 {
		t.Fatalf("links = %d, want 0", f.links.Len())
	}
	if f.links.IsFrozen(msg.Ref) {
		t.Fatal("original freeze kept, want cleared")
	}
	assertNoPlatformCalls(t, f.dispatcher)
}

func TestHandleDeleteBotNotLinked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("0x1", 0, true)
	f.links.Freeze(msg.Ref)

	if err := f.reconciler.HandleDelete(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelete error = %v", err)
	}
	if f.links.IsFrozen(msg.Ref) {
		t.Fatal("freeze kept, want cleared")
	}
}

func TestHandleDeleteReplyAlreadyGone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.deleteErr = notFound(tether.OutboundOperationDeleteMessage)
	msg := f.message("foo 1", 0, false)
	f.link(t, msg, f.message("0x1", 0, true))

	if err := f.reconciler.HandleDelete(context.Background(), msg); err != nil {
		t.Fatalf("HandleDelete error = %v, want not-found swallowed", err)
	}
}

func TestHandleDeleteForbiddenPropagates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.deleteErr = &tether.OutboundError{
		Operation: tether.OutboundOperationDeleteMessage,
		Kind:      tether.OutboundErrorKindForbidden,
		Cause:     errors.New("MESSAGE_DELETE_FORBIDDEN"),
	}
	msg := f.message("foo 1", 0, false)
	f.link(t, msg, f.message("0x1", 0, true))

	if err := f.reconciler.HandleDelete(context.Background(), msg); !tether.IsOutboundForbidden(err) {
		t.Fatalf("HandleDelete error = %v, want forbidden", err)
	}
}
