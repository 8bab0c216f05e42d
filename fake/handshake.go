// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/momentics/duplexws/api"
)

// Handshake is a controllable api.HandshakeContext. Accept hands Transport
// to the established callback synchronously unless Async is set.
type Handshake struct {
	Req         *http.Request
	Upgrade     bool
	Identity    bool
	Params      map[string]string
	Transport   api.Transport
	AcceptError error
	Async       bool

	mu                sync.Mutex
	rejected          int
	accepted          bool
	bufferingDisabled bool
}

// NewHandshake returns an upgrade request for "/" that will hand over tr.
func NewHandshake(tr api.Transport) *Handshake {
	return &Handshake{
		Req:       httptest.NewRequest(http.MethodGet, "/", nil),
		Upgrade:   true,
		Params:    map[string]string{},
		Transport: tr,
	}
}

func (h *Handshake) Request() *http.Request  { return h.Req }
func (h *Handshake) IsUpgradeRequest() bool  { return h.Upgrade }
func (h *Handshake) Authenticated() bool     { return h.Identity }
func (h *Handshake) Args() map[string]string { return h.Params }

// DisableBuffering records the call.
func (h *Handshake) DisableBuffering() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bufferingDisabled = true
}

// Accept implements api.HandshakeContext.
func (h *Handshake) Accept(established func(api.Transport)) error {
	if h.AcceptError != nil {
		return h.AcceptError
	}
	h.mu.Lock()
	h.accepted = true
	h.mu.Unlock()
	if h.Async {
		go established(h.Transport)
		return nil
	}
	established(h.Transport)
	return nil
}

// Reject records status.
func (h *Handshake) Reject(status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected = status
}

// RejectedWith returns the status passed to Reject, or 0.
func (h *Handshake) RejectedWith() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rejected
}

// Accepted reports whether the transport was handed over.
func (h *Handshake) Accepted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

// BufferingDisabled reports whether DisableBuffering was called.
func (h *Handshake) BufferingDisabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bufferingDisabled
}
