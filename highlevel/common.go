// Package highlevel serves duplexws connections over net/http.
package highlevel

import "errors"

// Version of the duplexws library
const Version = "1.0.0"

// Common error types
var (
	// ErrServerClosed is returned by ListenAndServe after Shutdown.
	ErrServerClosed = errors.New("duplexws: server closed")

	// ErrNilHandlerFactory is the panic value for Handle(pattern, nil).
	ErrNilHandlerFactory = errors.New("duplexws: nil handler factory")
)
