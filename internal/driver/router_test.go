package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tether/pkg/tether"
)

func newTestRouter(t *testing.T) (*Router, *stubDispatcher, *stubDispatcher) {
	t.Helper()

	primary := &stubDispatcher{}
	secondary := &stubDispatcher{}
	router, err := NewRouter([]Runtime{
		{Source: tether.EventSource{Platform: tether.PlatformTelegram, ID: "tg-main"}, Dispatcher: primary},
		{Source: tether.EventSource{Platform: tether.PlatformTelegram, ID: "tg-alt"}, Dispatcher: secondary},
		{Source: tether.EventSource{Platform: tether.PlatformTelegram, ID: "tg-readonly"}},
	})
	if err != nil {
		t.Fatalf("new router failed: %v", err)
	}

	return router, primary, secondary
}

func TestRouterRoutesBySinkID(t *testing.T) {
	t.Parallel()

	router, primary, secondary := newTestRouter(t)
	_, err := router.SendMessage(context.Background(), tether.SendMessageRequest{
		Target: tether.OutboundTarget{
			Conversation: tether.Conversation{ID: "1", Type: tether.ConversationTypeGroup},
			Sink:         &tether.SinkRef{ID: "tg-alt"},
		},
		Text: "hello",
	})
	if err != nil {
		t.Fatalf("send message failed: %v", err)
	}
	if primary.calls != 0 || secondary.calls != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 0 and 1", primary.calls, secondary.calls)
	}

	want := []tether.SinkRef{
		{Platform: tether.PlatformTelegram, ID: "tg-alt"},
		{Platform: tether.PlatformTelegram, ID: "tg-main"},
	}
	if diff := cmp.Diff(want, router.Sinks()); diff != "" {
		t.Fatalf("sinks mismatch (-want +got):\n%s", diff)
	}
}

func TestRouterRejectsUnroutableTargets(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestRouter(t)
	tests := []struct {
		name string
		sink *tether.SinkRef
	}{
		{name: "missing sink with several configured"},
		{name: "unknown id", sink: &tether.SinkRef{ID: "tg-readonly"}},
		{name: "ambiguous platform", sink: &tether.SinkRef{Platform: tether.PlatformTelegram}},
		{name: "platform mismatch", sink: &tether.SinkRef{Platform: "discord", ID: "tg-main"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := router.DeleteMessage(context.Background(), tether.DeleteMessageRequest{
				Target:    tether.OutboundTarget{Conversation: tether.Conversation{ID: "1"}, Sink: testCase.sink},
				MessageID: "7",
			})
			if !errors.Is(err, tether.ErrOutboundUnsupported) {
				t.Fatalf("error = %v, want %v", err, tether.ErrOutboundUnsupported)
			}
		})
	}
}

func TestRouterSingleSinkIsDefault(t *testing.T) {
	t.Parallel()

	only := &stubDispatcher{}
	router, err := NewRouter([]Runtime{
		{Source: tether.EventSource{Platform: tether.PlatformTelegram, ID: "tg-main"}, Dispatcher: only},
	})
	if err != nil {
		t.Fatalf("new router failed: %v", err)
	}

	err = router.AnswerInteraction(context.Background(), tether.AnswerInteractionRequest{
		Target:  tether.OutboundTarget{Conversation: tether.Conversation{ID: "1"}},
		QueryID: "q",
	})
	if err != nil {
		t.Fatalf("answer interaction failed: %v", err)
	}
	if only.calls != 1 {
		t.Fatalf("calls = %d, want 1", only.calls)
	}
}

type stubDispatcher struct {
	calls int
}

func (d *stubDispatcher) SendMessage(_ context.Context, request tether.SendMessageRequest) (*tether.OutboundMessage, error) {
	d.calls++
	return &tether.OutboundMessage{ID: "1", Target: request.Target}, nil
}

func (d *stubDispatcher) EditMessage(context.Context, tether.EditMessageRequest) error {
	d.calls++
	return nil
}

func (d *stubDispatcher) DeleteMessage(context.Context, tether.DeleteMessageRequest) error {
	d.calls++
	return nil
}

func (d *stubDispatcher) AnswerInteraction(context.Context, tether.AnswerInteractionRequest) error {
	d.calls++
	return nil
}
