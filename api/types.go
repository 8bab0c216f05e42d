// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import "strconv"

// LifecycleState enumerates the state of a Connection.
type LifecycleState int32

const (
	StateIdle LifecycleState = iota
	StateAccepting
	StateOpen
	StateClosing
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccepting:
		return "accepting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportState mirrors the close-handshake progress of the live transport.
type TransportState int32

const (
	TransportNone TransportState = iota
	TransportConnecting
	TransportOpen
	TransportCloseSent
	TransportCloseReceived
	TransportClosed
	TransportAborted
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportCloseSent:
		return "close-sent"
	case TransportCloseReceived:
		return "close-received"
	case TransportClosed:
		return "closed"
	case TransportAborted:
		return "aborted"
	default:
		return "none"
	}
}

// Terminal reports whether no further close handshake is possible.
func (s TransportState) Terminal() bool {
	return s == TransportClosed || s == TransportAborted
}

// MessageKind distinguishes application payloads. Values match RFC 6455 opcodes.
type MessageKind int

const (
	// MessageText denotes a UTF-8 text message.
	MessageText MessageKind = 1
	// MessageBinary denotes a binary message.
	MessageBinary MessageKind = 2
	// MessageClose is reported by a transport when the peer sent a close frame.
	MessageClose MessageKind = 8
)

func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessageClose:
		return "close"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// CloseStatus is an RFC 6455 close code. Zero means no status was reported.
type CloseStatus int

const (
	CloseStatusEmpty        CloseStatus = 0
	CloseNormalClosure      CloseStatus = 1000
	CloseGoingAway          CloseStatus = 1001
	CloseProtocolError      CloseStatus = 1002
	CloseUnsupportedData    CloseStatus = 1003
	CloseNoStatusReceived   CloseStatus = 1005
	CloseAbnormalClosure    CloseStatus = 1006
	CloseInvalidPayload     CloseStatus = 1007
	ClosePolicyViolation    CloseStatus = 1008
	CloseMessageTooBig      CloseStatus = 1009
	CloseMandatoryExtension CloseStatus = 1010
	CloseInternalError      CloseStatus = 1011
)

// Fragment describes one chunk delivered by Transport.ReceiveFragment.
type Fragment struct {
	Count        int         // bytes written into the caller's buffer
	Kind         MessageKind // kind of the message this fragment belongs to
	EndOfMessage bool        // final fragment of the message
}

// Message is a reassembled inbound message. Payload aliases the connection's
// receive buffer and is only valid until the message hook returns.
type Message struct {
	Payload []byte
	Kind    MessageKind
}
