package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestFlattenGotdUpdates(t *testing.T) {
	t.Parallel()

	date := int(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix())

	tests := []struct {
		name        string
		updates     tg.UpdatesClass
		wantClasses []string
		wantErr     bool
	}{
		{
			name: "batch splits deletions",
			updates: &tg.Updates{
				Date: date,
				Updates: []tg.UpdateClass{
					&tg.UpdateNewMessage{Message: &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 7}}},
					&tg.UpdateDeleteMessages{Messages: []int{2, 3}},
				},
				Users: []tg.UserClass{&tg.User{ID: 7}},
			},
			wantClasses: []string{"updateNewMessage", "updateDeleteMessages", "updateDeleteMessages"},
		},
		{
			name:        "short update",
			updates:     &tg.UpdateShort{Date: date, Update: &tg.UpdateDeleteChannelMessages{ChannelID: 42, Messages: []int{4}}},
			wantClasses: []string{"updateDeleteChannelMessages"},
		},
		{
			name:        "short message",
			updates:     &tg.UpdateShortMessage{ID: 5, UserID: 7, Message: "hi", Date: date},
			wantClasses: []string{"updateShortMessage"},
		},
		{
			name:        "short chat message",
			updates:     &tg.UpdateShortChatMessage{ID: 6, FromID: 7, ChatID: 9, Message: "hi", Date: date},
			wantClasses: []string{"updateShortChatMessage"},
		},
		{
			name:    "too long",
			updates: &tg.UpdatesTooLong{},
		},
		{
			name:    "nil",
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			batch, err := flattenGotdUpdates(testCase.updates)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("flatten failed: %v", err)
			}
			if len(batch) != len(testCase.wantClasses) {
				t.Fatalf("batch size = %d, want %d", len(batch), len(testCase.wantClasses))
			}
			for index, envelope := range batch {
				if envelope.updateClass != testCase.wantClasses[index] {
					t.Fatalf("batch[%d] class = %q, want %q", index, envelope.updateClass, testCase.wantClasses[index])
				}
				if envelope.occurredAt.Unix() != int64(date) {
					t.Fatalf("batch[%d] occurred at = %v, want unix %d", index, envelope.occurredAt, date)
				}
			}
		})
	}
}

func TestFlattenGotdUpdatesSplitsDeletionsPerMessage(t *testing.T) {
	t.Parallel()

	batch, err := flattenGotdUpdates(&tg.Updates{
		Updates: []tg.UpdateClass{&tg.UpdateDeleteChannelMessages{ChannelID: 42, Messages: []int{2, 3}}},
	})
	if err != nil {
		t.Fatalf("flatten failed: %v", err)
	}

	for index, want := range []int{2, 3} {
		deletion, ok := batch[index].update.(*tg.UpdateDeleteChannelMessages)
		if !ok {
			t.Fatalf("batch[%d] = %T, want channel deletion", index, batch[index].update)
		}
		if len(deletion.Messages) != 1 || deletion.Messages[0] != want {
			t.Fatalf("batch[%d] messages = %v, want [%d]", index, deletion.Messages, want)
		}
	}
}

func TestGotdUpdateChannelHandle(t *testing.T) {
	t.Parallel()

	stream := NewGotdUpdateChannel(1)
	updates, err := stream.Updates(context.Background())
	if err != nil {
		t.Fatalf("updates failed: %v", err)
	}

	if err := stream.Handle(context.Background(), &tg.UpdateShortMessage{ID: 5, UserID: 7, Message: "hi"}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	raw := <-updates
	envelope, ok := raw.(gotdUpdateEnvelope)
	if !ok {
		t.Fatalf("raw = %T, want gotdUpdateEnvelope", raw)
	}
	newMessage, ok := envelope.update.(*tg.UpdateNewMessage)
	if !ok {
		t.Fatalf("update = %T, want *tg.UpdateNewMessage", envelope.update)
	}
	if message, ok := newMessage.Message.(*tg.Message); !ok || message.Message != "hi" {
		t.Fatalf("message = %#v, want text hi", newMessage.Message)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := stream.Handle(ctx, &tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateDeleteMessages{Messages: []int{1, 2}},
	}}); err == nil {
		t.Fatal("expected canceled handle to fail on a full buffer")
	}
}
