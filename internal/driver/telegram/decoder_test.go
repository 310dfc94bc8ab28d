package telegram

import (
	"context"
	"testing"
	"time"

	"tether/pkg/tether"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultDecoderDecode(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	editedAt := createdAt.Add(time.Minute)
	chat := ChatRef{ID: "42", Title: "lobby", Type: tether.ConversationTypeGroup}
	actor := ActorRef{ID: "7", Username: "alice", DisplayName: "Alice"}
	before := &tether.MessageSnapshot{Text: "old"}

	tests := []struct {
		name    string
		update  Update
		want    *tether.Event
		wantErr bool
	}{
		{
			name: "message",
			update: Update{
				ID: "e1", Type: UpdateTypeMessage, OccurredAt: createdAt, Chat: chat, Actor: actor,
				Message: &MessagePayload{ID: "100", ReplyToID: "99", Text: "xkcd#927", CreatedAt: createdAt},
			},
			want: &tether.Event{
				ID: "e1", Kind: tether.EventKindMessageCreated, OccurredAt: createdAt,
				Conversation: tether.Conversation{ID: "42", Title: "lobby", Type: tether.ConversationTypeGroup},
				Actor:        tether.Actor{ID: "7", Username: "alice", DisplayName: "Alice"},
				Message:      &tether.Message{ID: "100", ReplyToID: "99", Text: "xkcd#927", CreatedAt: createdAt},
			},
		},
		{
			name: "edit",
			update: Update{
				ID: "e2", Type: UpdateTypeEdit, OccurredAt: editedAt, Chat: chat, Actor: actor,
				Edit: &EditPayload{
					Message: MessagePayload{ID: "100", Text: "new", CreatedAt: createdAt, EditedAt: editedAt},
					Before:  before,
				},
			},
			want: &tether.Event{
				ID: "e2", Kind: tether.EventKindMessageEdited, OccurredAt: editedAt,
				Conversation: tether.Conversation{ID: "42", Title: "lobby", Type: tether.ConversationTypeGroup},
				Actor:        tether.Actor{ID: "7", Username: "alice", DisplayName: "Alice"},
				Mutation: &tether.Mutation{
					Type:            tether.MutationTypeEdit,
					TargetMessageID: "100",
					Before:          before,
					After: &tether.MessageSnapshot{
						Author:    tether.Actor{ID: "7", Username: "alice", DisplayName: "Alice"},
						Text:      "new",
						CreatedAt: createdAt,
						EditedAt:  editedAt,
					},
					ChangedAt: &editedAt,
				},
			},
		},
		{
			name: "delete",
			update: Update{
				ID: "e3", Type: UpdateTypeDelete, OccurredAt: editedAt, Chat: chat, Actor: actor,
				Delete: &DeletePayload{MessageID: "100", Before: before},
			},
			want: &tether.Event{
				ID: "e3", Kind: tether.EventKindMessageRetracted, OccurredAt: editedAt,
				Conversation: tether.Conversation{ID: "42", Title: "lobby", Type: tether.ConversationTypeGroup},
				Actor:        tether.Actor{ID: "7", Username: "alice", DisplayName: "Alice"},
				Mutation: &tether.Mutation{
					Type:            tether.MutationTypeRetraction,
					TargetMessageID: "100",
					Before:          before,
					ChangedAt:       &editedAt,
				},
			},
		},
		{
			name: "callback",
			update: Update{
				ID: "e4", Type: UpdateTypeCallback, OccurredAt: createdAt, Chat: chat, Actor: actor,
				Callback: &CallbackPayload{QueryID: "555", MessageID: "101", Data: "delete"},
			},
			want: &tether.Event{
				ID: "e4", Kind: tether.EventKindInteractionReceived, OccurredAt: createdAt,
				Conversation: tether.Conversation{ID: "42", Title: "lobby", Type: tether.ConversationTypeGroup},
				Actor:        tether.Actor{ID: "7", Username: "alice", DisplayName: "Alice"},
				Interaction:  &tether.Interaction{QueryID: "555", MessageID: "101", Data: "delete"},
			},
		},
		{
			name:    "missing payload",
			update:  Update{ID: "e5", Type: UpdateTypeMessage, OccurredAt: createdAt, Chat: chat},
			wantErr: true,
		},
		{
			name:    "delete without conversation",
			update:  Update{ID: "e6", Type: UpdateTypeDelete, OccurredAt: createdAt, Delete: &DeletePayload{MessageID: "1"}},
			wantErr: true,
		},
		{
			name:    "reactions carry no event",
			update:  Update{ID: "e7", Type: UpdateTypeReactions, OccurredAt: createdAt, Chat: chat},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := NewDefaultDecoder().Decode(context.Background(), testCase.update)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if diff := cmp.Diff(testCase.want, got); diff != "" {
				t.Fatalf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
