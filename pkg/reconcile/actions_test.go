package reconcile

import (
	"context"
	"strings"
	"testing"

	"tether/pkg/tether"
)

func interactionEvent(actorID, messageID, data string) *tether.Event {
	return &tether.Event{
		Kind:         tether.EventKindInteractionReceived,
		Conversation: tether.Conversation{ID: "chat-1", Type: tether.ConversationTypeGroup},
		Actor:        tether.Actor{ID: actorID},
		Interaction:  &tether.Interaction{QueryID: "q1", MessageID: messageID, Data: data},
	}
}

func TestHandleInteractionIgnoresForeignData(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	handled, err := f.reconciler.HandleInteraction(context.Background(), interactionEvent("u", "m1", "other:payload"))
	if handled || err != nil {
		t.Fatalf("HandleInteraction = (%v, %v), want (false, nil)", handled, err)
	}
	assertNoPlatformCalls(t, f.dispatcher)
}

func TestHandleInteractionRejectsStrangers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithPhrases("linked this comic", "linked these comics"))
	tests := []struct {
		name  string
		data  string
		wantS string
	}{
		{
			name:  "delete one item",
			data:  Action{Kind: ActionDelete, AuthorID: "owner", Items: 1}.Data(),
			wantS: "Only the person who linked this comic can remove this message.",
		},
		{
			name:  "freeze many items",
			data:  Action{Kind: ActionFreeze, AuthorID: "owner", Items: 3}.Data(),
			wantS: "Only the person who linked these comics can freeze this message.",
		},
	}

	for index, testCase := range tests {
		handled, err := f.reconciler.HandleInteraction(context.Background(), interactionEvent("stranger", "m1", testCase.data))
		if !handled || err != nil {
			t.Fatalf("%s: HandleInteraction = (%v, %v), want (true, nil)", testCase.name, handled, err)
		}
		answer := f.dispatcher.answers[index]
		if answer.Text != testCase.wantS || !answer.Alert {
			t.Fatalf("%s: answer = %+v, want alert %q", testCase.name, answer, testCase.wantS)
		}
	}
	if _, _, deletes, _ := f.dispatcher.counts(); deletes != 0 {
		t.Fatalf("deletes = %d, want 0", deletes)
	}
}

func TestHandleInteractionDeleteByAuthor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := f.message("1", 0, false)
	reply := f.message("0x1", 0, true)
	f.link(t, msg, reply)

	data := Action{Kind: ActionDelete, AuthorID: "user-1", Items: 1}.Data()
	handled, err := f.reconciler.HandleInteraction(context.Background(), interactionEvent("user-1", reply.Ref.ID, data))
	if !handled || err != nil {
		t.Fatalf("HandleInteraction = (%v, %v), want (true, nil)", handled, err)
	}
	_, _, deletes, answers := f.dispatcher.counts()
	if deletes != 1 || f.dispatcher.deletes[0].MessageID != reply.Ref.ID {
		t.Fatalf("deletes = %+v, want reply deleted", f.dispatcher.deletes)
	}
	if answers != 1 {
		t.Fatalf("answers = %d, want 1", answers)
	}
}

func TestHandleInteractionFreezeByModerator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithModerator(func(actor tether.Actor) bool { return actor.ID == "mod" }))
	msg := f.message("1", 0, false)
	reply := f.message("0x1", 0, true)
	f.link(t, msg, reply)

	data := Action{Kind: ActionFreeze, AuthorID: "user-1", Items: 1}.Data()
	handled, err := f.reconciler.HandleInteraction(context.Background(), interactionEvent("mod", reply.Ref.ID, data))
	if !handled || err != nil {
		t.Fatalf("HandleInteraction = (%v, %v), want (true, nil)", handled, err)
	}
	if !f.links.IsFrozen(msg.Ref) {
		t.Fatal("original not frozen")
	}

	edit := f.dispatcher.editAt(0)
	if edit.Text != "" || len(edit.Actions) != 1 {
		t.Fatalf("edit = %+v, want delete-only actions", edit)
	}
	if action, ok := ParseAction(edit.Actions[0].Data); !ok || action.Kind != ActionDelete {
		t.Fatalf("remaining action = (%+v, %v), want delete", action, ok)
	}
	if answer := f.dispatcher.answers[0]; !strings.HasPrefix(answer.Text, "Message frozen.") {
		t.Fatalf("answer = %q, want freeze notice", answer.Text)
	}

	if err := f.reconciler.HandleEdit(context.Background(), msg, edited(msg, "2")); err != nil {
		t.Fatalf("HandleEdit error = %v", err)
	}
	if _, edits, _, _ := f.dispatcher.counts(); edits != 1 {
		t.Fatalf("edits = %d, want frozen original left alone", edits)
	}
}
