// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer recycling for duplexws. Receive buffers are sized to a connection's
// maximum message size and live for the whole connection, so they are pooled
// per size and returned when the connection closes.
package pool
