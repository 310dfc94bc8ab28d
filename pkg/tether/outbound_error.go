package tether

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	// OutboundOperationSendMessage identifies SendMessage operations.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationEditMessage identifies EditMessage operations.
	OutboundOperationEditMessage OutboundOperation = "edit_message"
	// OutboundOperationDeleteMessage identifies DeleteMessage operations.
	OutboundOperationDeleteMessage OutboundOperation = "delete_message"
	// OutboundOperationAnswerInteraction identifies AnswerInteraction operations.
	OutboundOperationAnswerInteraction OutboundOperation = "answer_interaction"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindTemporary indicates retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates non-retryable permanent failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindNotFound indicates the target message or conversation no longer exists.
	OutboundErrorKindNotFound OutboundErrorKind = "not_found"
	// OutboundErrorKindForbidden indicates missing permissions for the operation.
	OutboundErrorKindForbidden OutboundErrorKind = "forbidden"
	// OutboundErrorKindNotModified indicates an edit that would not change the message.
	OutboundErrorKindNotModified OutboundErrorKind = "not_modified"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one outbound operation failure.
type OutboundError struct {
	// Operation identifies which outbound operation failed.
	Operation OutboundOperation
	// Kind classifies whether and how callers should retry.
	Kind OutboundErrorKind
	// Platform identifies which destination platform produced the failure.
	Platform Platform
	// SinkID identifies which configured sink produced the failure when known.
	SinkID string
	// RetryAfter carries suggested retry delay for rate-limited failures when known.
	RetryAfter time.Duration
	// Code carries optional platform RPC/status code when known.
	Code int
	// Type carries optional platform error type token when known.
	Type string
	// Cause is the wrapped platform/transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 7)
	if e.Operation != "" {
		fields = append(fields, "operation="+string(e.Operation))
	}
	if e.Kind != "" {
		fields = append(fields, "kind="+string(e.Kind))
	}
	if e.Platform != "" {
		fields = append(fields, "platform="+string(e.Platform))
	}
	if sinkID := strings.TrimSpace(e.SinkID); sinkID != "" {
		fields = append(fields, "sink_id="+sinkID)
	}
	if e.RetryAfter > 0 {
		fields = append(fields, "retry_after="+e.RetryAfter.String())
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}
	if errorType := strings.TrimSpace(e.Type); errorType != "" {
		fields = append(fields, "type="+errorType)
	}

	summary := "outbound error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	if err == nil {
		return nil, false
	}

	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) && outboundErr != nil {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit extracts retry delay metadata from outbound rate-limit errors.
//
// It returns (0, false) if err is not classified as rate-limited, and
// (0, true) when rate-limited without a retry-after hint.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}

// IsOutboundNotFound reports whether err says the target no longer exists.
func IsOutboundNotFound(err error) bool {
	return isOutboundKind(err, OutboundErrorKindNotFound)
}

// IsOutboundForbidden reports whether err is a permission failure.
func IsOutboundForbidden(err error) bool {
	return isOutboundKind(err, OutboundErrorKindForbidden)
}

// IsOutboundNotModified reports whether err is a no-op edit rejection.
func IsOutboundNotModified(err error) bool {
	return isOutboundKind(err, OutboundErrorKindNotModified)
}

func isOutboundKind(err error, kind OutboundErrorKind) bool {
	outboundErr, ok := AsOutboundError(err)

	return ok && outboundErr.Kind == kind
}
