package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"
)

type immediateClient struct{}

func (immediateClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return fn(ctx)
}

type staticStream struct {
	updates chan any
}

func (s staticStream) Updates(context.Context) (<-chan any, error) {
	return s.updates, nil
}

type panicMapper struct{}

func (panicMapper) Map(context.Context, any) (Update, bool, error) {
	panic("boom")
}

func TestGotdSessionSourceConsume(t *testing.T) {
	t.Parallel()

	updates := make(chan any, 2)
	updates <- gotdUpdateEnvelope{update: &tg.UpdateUserTyping{UserID: 1, Action: &tg.SendMessageTypingAction{}}}
	updates <- gotdUpdateEnvelope{update: &tg.UpdateNewMessage{
		Message: &tg.Message{ID: 5, PeerID: &tg.PeerUser{UserID: 7}, Message: "hi"},
	}}
	close(updates)

	source, err := NewGotdSessionSource(immediateClient{}, staticStream{updates: updates}, NewDefaultGotdUpdateMapper())
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	var handled []Update
	err = source.Consume(context.Background(), func(_ context.Context, update Update) error {
		handled = append(handled, update)
		return nil
	})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(handled) != 1 {
		t.Fatalf("handled = %d, want 1", len(handled))
	}
	if handled[0].Type != UpdateTypeMessage || handled[0].Message.Text != "hi" {
		t.Fatalf("handled = %+v, want message hi", handled[0])
	}
}

func TestGotdSessionSourceConsumeFailures(t *testing.T) {
	t.Parallel()

	message := gotdUpdateEnvelope{update: &tg.UpdateNewMessage{
		Message: &tg.Message{ID: 5, PeerID: &tg.PeerUser{UserID: 7}, Message: "hi"},
	}}

	tests := []struct {
		name    string
		mapper  GotdUpdateMapper
		handler UpdateHandler
	}{
		{
			name:    "mapper panic",
			mapper:  panicMapper{},
			handler: func(context.Context, Update) error { return nil },
		},
		{
			name:    "handler error",
			mapper:  NewDefaultGotdUpdateMapper(),
			handler: func(context.Context, Update) error { return errors.New("sink closed") },
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			updates := make(chan any, 1)
			updates <- message
			source, err := NewGotdSessionSource(immediateClient{}, staticStream{updates: updates}, testCase.mapper)
			if err != nil {
				t.Fatalf("new source failed: %v", err)
			}
			if err := source.Consume(context.Background(), testCase.handler); err == nil {
				t.Fatal("expected consume error")
			}
		})
	}
}

func TestNewGotdSessionSourceValidates(t *testing.T) {
	t.Parallel()

	stream := staticStream{updates: make(chan any)}
	if _, err := NewGotdSessionSource(nil, stream, NewDefaultGotdUpdateMapper()); err == nil {
		t.Fatal("expected nil client error")
	}
	if _, err := NewGotdSessionSource(immediateClient{}, nil, NewDefaultGotdUpdateMapper()); err == nil {
		t.Fatal("expected nil stream error")
	}
	if _, err := NewGotdSessionSource(immediateClient{}, stream, nil); err == nil {
		t.Fatal("expected nil mapper error")
	}
}
