package types

import (
	"context"
	"errors"
	"fmt"
)

// EIP-1193 / EIP-1474 error codes. These must stay stable across the whole
// pipeline: a rejection synthesized in the broker reaches the page with the
// same code a locally detected one would carry.
const (
	ErrCodeUserRejected        = 4001
	ErrCodeUnauthorized        = 4100
	ErrCodeUnsupportedMethod   = 4200
	ErrCodeDisconnected        = 4900
	ErrCodeChainNotAdded       = 4901
	ErrCodeResourceUnavailable = 4902
	ErrCodeInvalidParams       = -32602
	ErrCodeInternal            = -32603
)

// RPCError is the structured error the dApp receives; never a bare string.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func ErrUserRejected() *RPCError {
	return &RPCError{Code: ErrCodeUserRejected, Message: "User rejected the request."}
}

func ErrUnauthorized(msg string) *RPCError {
	if msg == "" {
		msg = "The requested method and/or account has not been authorized by the user."
	}
	return &RPCError{Code: ErrCodeUnauthorized, Message: msg}
}

func ErrUnsupportedMethod(method string) *RPCError {
	return &RPCError{Code: ErrCodeUnsupportedMethod, Message: fmt.Sprintf("The method %s is not supported.", method)}
}

// ErrMalformedRequest covers payloads missing required fields. The provider
// protocol fixes these at 4200.
func ErrMalformedRequest(msg string) *RPCError {
	return &RPCError{Code: ErrCodeUnsupportedMethod, Message: msg}
}

func ErrDisconnected(msg string) *RPCError {
	if msg == "" {
		msg = "The provider is disconnected."
	}
	return &RPCError{Code: ErrCodeDisconnected, Message: msg}
}

// ErrChainNotAdded must be preserved verbatim so callers can react by
// offering wallet_addEthereumChain.
func ErrChainNotAdded(chainID string) *RPCError {
	return &RPCError{Code: ErrCodeChainNotAdded, Message: fmt.Sprintf("Unrecognized chain ID %q. Try adding the chain first.", chainID)}
}

func ErrResourceUnavailable(msg string) *RPCError {
	if msg == "" {
		msg = "Resource unavailable."
	}
	return &RPCError{Code: ErrCodeResourceUnavailable, Message: msg}
}

func ErrInvalidParams(msg string) *RPCError {
	if msg == "" {
		msg = "Invalid method parameters."
	}
	return &RPCError{Code: ErrCodeInvalidParams, Message: msg}
}

func ErrInternal(msg string) *RPCError {
	if msg == "" {
		msg = "Internal error."
	}
	return &RPCError{Code: ErrCodeInternal, Message: msg}
}

// Sentinel causes used below the RPC boundary.
var (
	ErrRequestTimeout   = errors.New("request timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

// MapError folds an arbitrary failure into the fixed taxonomy. Structured
// errors pass through untouched.
func MapError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrDisconnected("Request timed out.")
	case errors.Is(err, ErrConnectionClosed):
		return ErrDisconnected("")
	default:
		return ErrInternal(err.Error())
	}
}
