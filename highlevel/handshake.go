// File: highlevel/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Upgrade handshake over gorilla.Upgrader.

package highlevel

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"

	"github.com/momentics/duplexws/api"
	"github.com/momentics/duplexws/transport"
)

// handshake is the api.HandshakeContext for one HTTP upgrade request.
type handshake struct {
	w        http.ResponseWriter
	r        *http.Request
	params   map[string]string
	upgrader gorilla.Upgrader
	header   http.Header
}

func newHandshake(w http.ResponseWriter, r *http.Request, params map[string]string, upgrader gorilla.Upgrader) *handshake {
	return &handshake{
		w:        w,
		r:        r,
		params:   params,
		upgrader: upgrader,
		header:   http.Header{},
	}
}

func (h *handshake) Request() *http.Request { return h.r }

func (h *handshake) IsUpgradeRequest() bool { return gorilla.IsWebSocketUpgrade(h.r) }

// Authenticated reports whether middleware attached an authenticated Identity.
func (h *handshake) Authenticated() bool {
	id, ok := IdentityFrom(h.r.Context())
	return ok && id.Authenticated
}

func (h *handshake) Args() map[string]string { return h.params }

// DisableBuffering turns off per-message compression and asks reverse
// proxies not to buffer the upgraded stream.
func (h *handshake) DisableBuffering() {
	h.upgrader.EnableCompression = false
	h.header.Set("X-Accel-Buffering", "no")
}

// Accept upgrades the request and hands the transport over. On failure the
// upgrader has already written an HTTP error response.
func (h *handshake) Accept(established func(api.Transport)) error {
	conn, err := h.upgrader.Upgrade(h.w, h.r, h.header)
	if err != nil {
		return err
	}
	established(transport.NewWebSocket(conn))
	return nil
}

func (h *handshake) Reject(status int) {
	http.Error(h.w, http.StatusText(status), status)
}
