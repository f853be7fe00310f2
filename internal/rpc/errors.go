package rpc

import (
	"errors"

	"github.com/nugget/spaced/internal/dispatcher"
	"github.com/nugget/spaced/internal/model"
	"github.com/nugget/spaced/internal/mutation"
)

// JSON-RPC error codes (spec §6.2.1's error table).
const (
	codeInvalidEnvelope  = -32600
	codeUnknownMethod    = -32601
	codeInvalidParams    = -32602
	codeInternalError    = -32603
	codeOperationFailed  = -32000
	codeWindowNotFound   = -32001
	codeAXResolveFailed  = -32002
	codePartialSuccess   = -32003
)

// codeForError maps a domain sentinel error onto the RPC error code and
// client-facing message spec §7 assigns it. Unrecognized errors fall back
// to -32603 internal error, never leaking an unclassified error string's
// implementation detail beyond what errors.Error() already says.
func codeForError(err error) (int, string) {
	var invalidParams *invalidParamsError
	switch {
	case err == nil:
		return 0, ""
	case errors.As(err, &invalidParams):
		return codeInvalidParams, err.Error()
	case errors.Is(err, dispatcher.ErrUnknownMethod):
		return codeUnknownMethod, err.Error()
	case errors.Is(err, model.ErrWindowNotFound),
		errors.Is(err, model.ErrSpaceNotFound),
		errors.Is(err, model.ErrDisplayNotFound),
		errors.Is(err, model.ErrApplicationNotFound):
		return codeWindowNotFound, err.Error()
	case errors.Is(err, mutation.ErrAXUnavailable):
		return codeAXResolveFailed, err.Error()
	case errors.Is(err, mutation.ErrVerificationFailed):
		return codePartialSuccess, err.Error()
	case errors.Is(err, mutation.ErrSameSpace),
		errors.Is(err, mutation.ErrFullscreenTarget),
		errors.Is(err, mutation.ErrLastSpaceOnDisplay),
		errors.Is(err, mutation.ErrMissionControlActive),
		errors.Is(err, mutation.ErrHelperRequired),
		errors.Is(err, mutation.ErrHelperUnavailable):
		return codeOperationFailed, err.Error()
	default:
		return codeInternalError, err.Error()
	}
}
