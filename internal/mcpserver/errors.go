package mcpserver

import (
	"errors"
	"fmt"

	"github.com/contextfabric/context-fabric/internal/memerrors"
)

// Standard JSON-RPC error codes plus the engine's own range, mirrored from
// the MCP spec's reserved -32000..-32099 server-error band.
const (
	ErrCodeNotFound              = -32001
	ErrCodeUnsupportedTransition = -32002
	ErrCodeValidation            = -32003
	ErrCodeStorage               = -32004
	ErrCodeEmbeddingUnavailable  = -32005
	ErrCodeCancelled             = -32006

	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is the protocol-facing error shape: a JSON-RPC style code plus
// the spec §7 {kind, message} pair the engine actually produced.
type MCPError struct {
	Code    int    `json:"-"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// mapEngineError converts an engine error into the wire error shape.
// Every engine failure that reaches the adapter is wrapped in a
// *memerrors.Error (spec §7 propagation); a bare error that isn't is
// treated as an internal error.
func mapEngineError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *memerrors.Error
	if errors.As(err, &me) {
		return &MCPError{
			Code:    codeForKind(me.Kind),
			Kind:    string(me.Kind),
			Message: me.Error(),
		}
	}

	return &MCPError{
		Code:    ErrCodeInternalError,
		Kind:    "StorageError",
		Message: err.Error(),
	}
}

func codeForKind(kind memerrors.Kind) int {
	switch kind {
	case memerrors.NotFound:
		return ErrCodeNotFound
	case memerrors.UnsupportedTransition:
		return ErrCodeUnsupportedTransition
	case memerrors.ValidationError:
		return ErrCodeValidation
	case memerrors.StorageError:
		return ErrCodeStorage
	case memerrors.EmbeddingUnavailable:
		return ErrCodeEmbeddingUnavailable
	case memerrors.Cancelled:
		return ErrCodeCancelled
	default:
		return ErrCodeInternalError
	}
}

// newValidationError builds an MCPError for malformed tool input, without
// going through the engine (spec §7's ValidationError kind).
func newValidationError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Kind: string(memerrors.ValidationError), Message: msg}
}
