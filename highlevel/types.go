// File: highlevel/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler factories, middleware and request identity.

package highlevel

import (
	"context"
	"net/http"

	"github.com/momentics/duplexws/api"
)

// HandlerFactory builds the handler for one connection.
type HandlerFactory func() api.Handler

// Middleware wraps the server's HTTP handling, typically to attach an
// Identity before the upgrade is authorized.
type Middleware func(next http.Handler) http.Handler

// Identity is the authenticated principal behind an upgrade request.
type Identity struct {
	Subject       string
	Authenticated bool
}

type identityKey struct{}

// WithIdentity returns r carrying id.
func WithIdentity(r *http.Request, id Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey{}, id))
}

// IdentityFrom returns the identity attached by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
