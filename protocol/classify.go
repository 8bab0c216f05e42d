// File: protocol/classify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive-error classification. Low-level socket errors that mean the peer
// went away are treated as a normal close; everything else is a fault.

package protocol

import (
	"errors"
	"io"
	"strings"
	"syscall"
)

// ErrorClass is the outcome of classifying a receive error.
type ErrorClass int

const (
	// Fatal errors are reported through Handler.OnReceiveError.
	Fatal ErrorClass = iota
	// Benign errors end the connection like a normal close.
	Benign
)

func (c ErrorClass) String() string {
	if c == Benign {
		return "benign"
	}
	return "fatal"
}

// Classifier maps errors to an ErrorClass using a table of errno values.
// Errors whose chain lost the errno (gorilla flattens net errors to text)
// are matched by the errno message suffix instead.
// The zero value has an empty table: only nil and end-of-stream errors are
// Benign.
type Classifier struct {
	benign map[syscall.Errno]string
}

// DefaultClassifier uses the benign errno table for the build platform.
func DefaultClassifier() *Classifier {
	c := &Classifier{benign: make(map[syscall.Errno]string, len(benignErrnos))}
	for errno, name := range benignErrnos {
		c.benign[errno] = name
	}
	return c
}

// WithBenign returns a copy of c that also treats errno as benign.
func (c *Classifier) WithBenign(errno syscall.Errno, name string) *Classifier {
	out := &Classifier{benign: make(map[syscall.Errno]string, len(c.benign)+1)}
	for k, v := range c.benign {
		out.benign[k] = v
	}
	out.benign[errno] = name
	return out
}

// BenignCodes returns the table in use, keyed by errno.
func (c *Classifier) BenignCodes() map[syscall.Errno]string {
	out := make(map[syscall.Errno]string, len(c.benign))
	for k, v := range c.benign {
		out[k] = v
	}
	return out
}

// Classify reports whether err is a benign transport teardown. A nil error
// is Benign.
func (c *Classifier) Classify(err error) ErrorClass {
	if err == nil {
		return Benign
	}
	// Peer vanished mid-stream without a close frame.
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Benign
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if _, ok := c.benign[errno]; ok {
			return Benign
		}
		return Fatal
	}
	if _, ok := c.matchText(err.Error()); ok {
		return Benign
	}
	return Fatal
}

// matchText finds the benign errno whose message ends msg, e.g.
// "read tcp 127.0.0.1:80->127.0.0.1:5000: read: connection reset by peer".
func (c *Classifier) matchText(msg string) (syscall.Errno, bool) {
	msg = strings.TrimRight(msg, ". \r\n")
	for errno := range c.benign {
		text := strings.TrimRight(errno.Error(), ". \r\n")
		if text != "" && strings.HasSuffix(msg, text) {
			return errno, true
		}
	}
	return 0, false
}
