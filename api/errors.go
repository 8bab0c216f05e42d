// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for duplexws.

package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors used across the library.
var (
	ErrTransportClosed   = errors.New("transport is closed")
	ErrMessageTooLarge   = errors.New("message exceeds maximum message size")
	ErrInvalidState      = errors.New("operation not valid in current connection state")
	ErrNotUpgradeRequest = errors.New("request is not a websocket upgrade request")
	ErrAlreadyAccepted   = errors.New("connection already owns a transport")
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeMessageTooLarge
	ErrCodeInvalidState
	ErrCodeHandshake
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel this error was built from.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap records the sentinel returned by Unwrap.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// AuthError is returned by Accept when the authorization hook denies the
// request. Status is http.StatusUnauthorized when the request carried no
// authenticated identity and http.StatusForbidden otherwise.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization denied: %d %s", e.Status, http.StatusText(e.Status))
}

func (e *AuthError) Unwrap() error { return ErrHandshakeRejected }
