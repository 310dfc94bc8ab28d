package telegram

import (
	"errors"
	"slices"

	"tether/pkg/tether"

	"github.com/gotd/td/tgerr"
)

var (
	notFoundErrorTypes = []string{
		"MESSAGE_ID_INVALID",
		"MSG_ID_INVALID",
	}
	forbiddenErrorTypes = []string{
		"CHAT_WRITE_FORBIDDEN",
		"CHAT_ADMIN_REQUIRED",
		"MESSAGE_AUTHOR_REQUIRED",
		"MESSAGE_DELETE_FORBIDDEN",
		"USER_IS_BLOCKED",
		"CHANNEL_PRIVATE",
	}
)

// mapTelegramOutboundError wraps RPC failures into classified outbound errors.
// Request validation errors pass through unchanged.
func mapTelegramOutboundError(
	operation tether.OutboundOperation,
	sink tether.SinkRef,
	err error,
) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, tether.ErrInvalidOutboundRequest) || errors.Is(err, tether.ErrOutboundUnsupported) {
		return err
	}

	outboundErr := &tether.OutboundError{
		Operation: operation,
		Kind:      tether.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}
	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = tether.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter

		return outboundErr
	}
	outboundErr.Kind = classifyTelegramRPCError(rpcErr)

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) tether.OutboundErrorKind {
	switch {
	case rpcErr.Code == 420 || rpcErr.Code == 429:
		return tether.OutboundErrorKindRateLimited
	case rpcErr.Type == "MESSAGE_NOT_MODIFIED":
		return tether.OutboundErrorKindNotModified
	case rpcErr.Code == 404 || slices.Contains(notFoundErrorTypes, rpcErr.Type):
		return tether.OutboundErrorKindNotFound
	case rpcErr.Code == 403 || slices.Contains(forbiddenErrorTypes, rpcErr.Type):
		return tether.OutboundErrorKindForbidden
	case rpcErr.Code >= 500:
		return tether.OutboundErrorKindTemporary
	case rpcErr.Code >= 400:
		return tether.OutboundErrorKindPermanent
	default:
		return tether.OutboundErrorKindUnknown
	}
}
