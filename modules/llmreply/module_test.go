package llmreply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tether/pkg/reconcile"
	"tether/pkg/tether"

	"github.com/google/go-cmp/cmp"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		want       Config
		wantErrSub string
	}{
		{
			name: "defaults",
			raw:  `{"provider":"main","model":"gpt-5-mini"}`,
			want: Config{
				Trigger:         defaultTrigger,
				Provider:        "main",
				Model:           "gpt-5-mini",
				SystemPrompt:    defaultSystemPrompt,
				MaxReplyRunes:   defaultMaxReplyRunes,
				RefreshInterval: defaultRefreshInterval,
				RequestTimeout:  defaultRequestTimeout,
			},
		},
		{
			name: "overrides",
			raw: `{"trigger":"!q ","provider":"main","model":"m","system_prompt":"be terse",` +
				`"max_reply_runes":100,"refresh_interval":"10m","edit_view_timeout":"5s","moderators":["9"]}`,
			want: Config{
				Trigger:         "!q ",
				Provider:        "main",
				Model:           "m",
				SystemPrompt:    "be terse",
				MaxReplyRunes:   100,
				RefreshInterval: 10 * time.Minute,
				RequestTimeout:  defaultRequestTimeout,
				EditViewTimeout: 5 * time.Second,
				Moderators:      []string{"9"},
			},
		},
		{name: "empty section", raw: ``, wantErrSub: "empty section"},
		{name: "missing provider", raw: `{"model":"m"}`, wantErrSub: "missing provider"},
		{name: "missing model", raw: `{"provider":"p"}`, wantErrSub: "missing model"},
		{name: "reply too long", raw: `{"provider":"p","model":"m","max_reply_runes":5000}`, wantErrSub: "max_reply_runes"},
		{name: "bad duration", raw: `{"provider":"p","model":"m","request_timeout":"x"}`, wantErrSub: "request_timeout"},
		{name: "unknown field", raw: `{"provider":"p","model":"m","agents":[]}`, wantErrSub: "unknown field"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := ParseConfig(json.RawMessage(testCase.raw))
			if testCase.wantErrSub != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSub) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if diff := cmp.Diff(testCase.want, cfg); diff != "" {
				t.Fatalf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModulePrompt(t *testing.T) {
	t.Parallel()

	module, err := New(Config{Provider: "main", Model: "m"})
	if err != nil {
		t.Fatalf("new module failed: %v", err)
	}

	tests := []struct {
		text       string
		wantPrompt string
		wantOK     bool
	}{
		{text: "?ask what is tether?", wantPrompt: "what is tether?", wantOK: true},
		{text: "  ?ASK  loud  ", wantPrompt: "loud", wantOK: true},
		{text: "?ask", wantOK: false},
		{text: "?ask    ", wantOK: false},
		{text: "please ?ask later", wantOK: false},
		{text: "?asking", wantOK: false},
	}

	for _, testCase := range tests {
		prompt, ok := module.Prompt(testCase.text)
		if prompt != testCase.wantPrompt || ok != testCase.wantOK {
			t.Fatalf("Prompt(%q) = (%q, %v), want (%q, %v)", testCase.text, prompt, ok, testCase.wantPrompt, testCase.wantOK)
		}
	}
}

func TestModuleAnswersPrompt(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{deltas: []string{"Forty", "-two."}}
	module, dispatcher := newRegisteredModule(t, provider, Config{Provider: "main", Model: "gpt-5-mini"})

	if err := module.handleEvent(context.Background(), createdEvent("10", "?ask meaning of life")); err != nil {
		t.Fatalf("handle created failed: %v", err)
	}

	sent := dispatcher.sentMessages()
	if len(sent) != 1 || sent[0].Text != "Forty-two." || sent[0].ReplyToMessageID != "10" {
		t.Fatalf("sent = %+v, want one answer reply", sent)
	}
	request := provider.lastRequest()
	wantMessages := []tether.LLMMessage{
		{Role: tether.LLMMessageRoleSystem, Content: defaultSystemPrompt},
		{Role: tether.LLMMessageRoleUser, Content: "meaning of life"},
	}
	if diff := cmp.Diff(wantMessages, request.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if request.Model != "gpt-5-mini" {
		t.Fatalf("model = %q, want gpt-5-mini", request.Model)
	}
}

func TestModuleMemoizesAnswersAcrossEdits(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{deltas: []string{"Paris."}}
	module, dispatcher := newRegisteredModule(t, provider, Config{Provider: "main", Model: "m"})

	if err := module.handleEvent(context.Background(), createdEvent("10", "?ask capital of France")); err != nil {
		t.Fatalf("handle created failed: %v", err)
	}
	if err := module.handleEvent(context.Background(), editedEvent("10", "?ask capital of France", "?ask  capital of France ")); err != nil {
		t.Fatalf("handle edit failed: %v", err)
	}

	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
	if edits := dispatcher.editRequests(); len(edits) != 0 {
		t.Fatalf("edits = %+v, want unchanged answer left alone", edits)
	}
}

func TestModuleSkipsTruncatedAnswers(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{deltas: []string{strings.Repeat("a", 20)}}
	module, dispatcher := newRegisteredModule(t, provider, Config{Provider: "main", Model: "m", MaxReplyRunes: 10})

	if err := module.handleEvent(context.Background(), createdEvent("10", "?ask ramble")); err != nil {
		t.Fatalf("handle created failed: %v", err)
	}
	if sent := dispatcher.sentMessages(); len(sent) != 0 {
		t.Fatalf("sent = %+v, want truncated answer withheld", sent)
	}

	content, err := module.generate(context.Background(), messageFromText("?ask ramble"))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if content.Items != truncatedItems || !strings.HasSuffix(content.Text, truncationNotice) {
		t.Fatalf("content = %+v, want truncated marker", content)
	}
}

func TestModulePropagatesProviderFailure(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{err: errors.New("quota exceeded")}
	module, dispatcher := newRegisteredModule(t, provider, Config{Provider: "main", Model: "m"})

	err := module.handleEvent(context.Background(), createdEvent("10", "?ask anything"))
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("error = %v, want quota exceeded", err)
	}
	if len(dispatcher.sentMessages()) != 0 {
		t.Fatal("sent a reply despite provider failure")
	}
}

func TestModuleOnRegisterRequiresProvider(t *testing.T) {
	t.Parallel()

	module, err := New(Config{Provider: "missing", Model: "m"})
	if err != nil {
		t.Fatalf("new module failed: %v", err)
	}
	runtime := moduleRuntimeStub{registry: serviceRegistryStub{values: map[string]any{
		tether.ServiceOutboundDispatcher:  &recordingDispatcher{},
		tether.ServiceLLMProviderRegistry: providerRegistryStub{"main": &stubProvider{}},
	}}}
	if err := module.OnRegister(context.Background(), runtime); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("OnRegister error = %v, want missing provider", err)
	}
}

func newRegisteredModule(t *testing.T, provider *stubProvider, cfg Config) (*Module, *recordingDispatcher) {
	t.Helper()

	module, err := New(cfg, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("new module failed: %v", err)
	}
	dispatcher := &recordingDispatcher{}
	runtime := moduleRuntimeStub{registry: serviceRegistryStub{values: map[string]any{
		tether.ServiceOutboundDispatcher:  dispatcher,
		tether.ServiceLLMProviderRegistry: providerRegistryStub{cfg.Provider: provider},
	}}}
	if err := module.OnRegister(context.Background(), runtime); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	t.Cleanup(func() { _ = module.OnShutdown(context.Background()) })

	return module, dispatcher
}

func baseEvent(kind tether.EventKind) *tether.Event {
	return &tether.Event{
		ID:           "event-1",
		Kind:         kind,
		OccurredAt:   testNow,
		Source:       tether.EventSource{Platform: tether.PlatformTelegram, ID: "tg-main"},
		Conversation: tether.Conversation{ID: "chat-1", Type: tether.ConversationTypeGroup},
		Actor:        tether.Actor{ID: "user-1", DisplayName: "Alice"},
	}
}

func createdEvent(id, text string) *tether.Event {
	event := baseEvent(tether.EventKindMessageCreated)
	event.Message = &tether.Message{ID: id, Text: text, CreatedAt: testNow}

	return event
}

func editedEvent(id, before, after string) *tether.Event {
	event := baseEvent(tether.EventKindMessageEdited)
	event.Mutation = &tether.Mutation{
		Type:            tether.MutationTypeEdit,
		TargetMessageID: id,
		Before:          &tether.MessageSnapshot{Author: event.Actor, Text: before, CreatedAt: testNow},
		After:           &tether.MessageSnapshot{Author: event.Actor, Text: after, CreatedAt: testNow},
	}

	return event
}

func messageFromText(text string) reconcile.Message {
	return reconcile.Message{
		Ref:    tether.MessageRef{ID: "10", CreatedAt: testNow},
		Author: tether.Actor{ID: "user-1"},
		Text:   text,
	}
}

type stubProvider struct {
	deltas []string
	err    error
	calls  atomic.Int64

	mu       sync.Mutex
	requests []tether.LLMGenerateRequest
}

func (p *stubProvider) GenerateStream(_ context.Context, req tether.LLMGenerateRequest) (tether.LLMStream, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}

	return &stubStream{deltas: append([]string(nil), p.deltas...)}, nil
}

func (p *stubProvider) lastRequest() tether.LLMGenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.requests) == 0 {
		return tether.LLMGenerateRequest{}
	}
	return p.requests[len(p.requests)-1]
}

type stubStream struct {
	deltas []string
}

func (s *stubStream) Recv(context.Context) (tether.LLMGenerateChunk, error) {
	if len(s.deltas) == 0 {
		return tether.LLMGenerateChunk{}, io.EOF
	}
	delta := s.deltas[0]
	s.deltas = s.deltas[1:]

	return tether.LLMGenerateChunk{Delta: delta}, nil
}

func (s *stubStream) Close() error {
	return nil
}

type providerRegistryStub map[string]tether.LLMProvider

func (r providerRegistryStub) Resolve(name string) (tether.LLMProvider, error) {
	provider, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("provider %s missing", name)
	}

	return provider, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []tether.SendMessageRequest
	edits  []tether.EditMessageRequest
	nextID int
}

func (d *recordingDispatcher) SendMessage(_ context.Context, request tether.SendMessageRequest) (*tether.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sent = append(d.sent, request)
	d.nextID++
	return &tether.OutboundMessage{ID: fmt.Sprintf("reply-%d", d.nextID), Target: request.Target, SentAt: testNow}, nil
}

func (d *recordingDispatcher) EditMessage(_ context.Context, request tether.EditMessageRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.edits = append(d.edits, request)
	return nil
}

func (d *recordingDispatcher) DeleteMessage(context.Context, tether.DeleteMessageRequest) error {
	return nil
}

func (d *recordingDispatcher) AnswerInteraction(context.Context, tether.AnswerInteractionRequest) error {
	return nil
}

func (d *recordingDispatcher) sentMessages() []tether.SendMessageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]tether.SendMessageRequest(nil), d.sent...)
}

func (d *recordingDispatcher) editRequests() []tether.EditMessageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]tether.EditMessageRequest(nil), d.edits...)
}

type moduleRuntimeStub struct {
	registry tether.ServiceRegistry
}

func (r moduleRuntimeStub) Services() tether.ServiceRegistry {
	return r.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	tether.InterestSet,
	tether.SubscriptionSpec,
	tether.EventHandler,
) (tether.Subscription, error) {
	return nil, fmt.Errorf("subscribe not supported in stub")
}

type serviceRegistryStub struct {
	values map[string]any
}

func (s serviceRegistryStub) Register(string, any) error {
	return fmt.Errorf("register not supported in stub")
}

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, tether.ErrServiceNotFound
	}

	return value, nil
}

func TestModuleSpecOrdersConversationEvents(t *testing.T) {
	t.Parallel()

	module, err := New(Config{Provider: "main", Model: "m"})
	if err != nil {
		t.Fatalf("new module failed: %v", err)
	}
	for _, handler := range module.Spec().Handlers {
		if handler.Subscription.Ordering != tether.OrderingConversation {
			t.Fatalf("%s ordering = %q, want %q", handler.Capability.Name, handler.Subscription.Ordering, tether.OrderingConversation)
		}
	}
}
