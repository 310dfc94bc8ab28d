package tether

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAsOutboundErrorPreservesUnwrap(t *testing.T) {
	t.Parallel()

	rootCause := errors.New("rpc failed")
	err := fmt.Errorf("outer wrapper: %w", &OutboundError{
		Operation: OutboundOperationDeleteMessage,
		Kind:      OutboundErrorKindNotFound,
		Platform:  PlatformTelegram,
		SinkID:    "tg-main",
		Code:      400,
		Type:      "MESSAGE_ID_INVALID",
		Cause:     rootCause,
	})

	outboundErr, ok := AsOutboundError(err)
	if !ok {
		t.Fatal("AsOutboundError = false, want true")
	}
	if outboundErr.Operation != OutboundOperationDeleteMessage {
		t.Fatalf("operation = %s, want %s", outboundErr.Operation, OutboundOperationDeleteMessage)
	}
	if !errors.Is(err, rootCause) {
		t.Fatalf("errors.Is(err, rootCause) = false, want true (err=%v)", err)
	}
}

func TestOutboundErrorKindPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		err             error
		wantNotFound    bool
		wantForbidden   bool
		wantNotModified bool
	}{
		{name: "nil error"},
		{name: "plain error", err: errors.New("boom")},
		{
			name:         "not found wrapped twice",
			err:          fmt.Errorf("a: %w", fmt.Errorf("b: %w", &OutboundError{Kind: OutboundErrorKindNotFound})),
			wantNotFound: true,
		},
		{
			name:          "forbidden",
			err:           &OutboundError{Kind: OutboundErrorKindForbidden},
			wantForbidden: true,
		},
		{
			name:            "not modified",
			err:             &OutboundError{Kind: OutboundErrorKindNotModified},
			wantNotModified: true,
		},
		{
			name: "temporary is none of them",
			err:  &OutboundError{Kind: OutboundErrorKindTemporary},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := IsOutboundNotFound(testCase.err); got != testCase.wantNotFound {
				t.Fatalf("IsOutboundNotFound = %v, want %v", got, testCase.wantNotFound)
			}
			if got := IsOutboundForbidden(testCase.err); got != testCase.wantForbidden {
				t.Fatalf("IsOutboundForbidden = %v, want %v", got, testCase.wantForbidden)
			}
			if got := IsOutboundNotModified(testCase.err); got != testCase.wantNotModified {
				t.Fatalf("IsOutboundNotModified = %v, want %v", got, testCase.wantNotModified)
			}
		})
	}
}

func TestAsOutboundRateLimit(t *testing.T) {
	t.Parallel()

	delay, ok := AsOutboundRateLimit(fmt.Errorf("wrapped: %w", &OutboundError{
		Kind:       OutboundErrorKindRateLimited,
		RetryAfter: 7 * time.Second,
	}))
	if !ok || delay != 7*time.Second {
		t.Fatalf("AsOutboundRateLimit = (%v, %v), want (7s, true)", delay, ok)
	}

	if _, ok := AsOutboundRateLimit(&OutboundError{Kind: OutboundErrorKindPermanent}); ok {
		t.Fatal("AsOutboundRateLimit(permanent) ok = true, want false")
	}
}

func TestOutboundErrorMessage(t *testing.T) {
	t.Parallel()

	err := &OutboundError{
		Operation:  OutboundOperationEditMessage,
		Kind:       OutboundErrorKindRateLimited,
		RetryAfter: 2 * time.Second,
		Cause:      errors.New("FLOOD_WAIT"),
	}
	want := "outbound error: operation=edit_message kind=rate_limited retry_after=2s: FLOOD_WAIT"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
