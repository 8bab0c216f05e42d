// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Fragment reassembly. A message may arrive split across any number of
// fragments; ReadMessage accumulates them into a caller-owned buffer until
// the fragment marked final, without allocating.

package protocol

import (
	"context"

	"github.com/momentics/duplexws/api"
)

// ReadMessage reads fragments from tr into buf until one is marked
// end-of-message and returns buf[:n] with the kind of the final fragment.
//
// A close fragment ends the read immediately and is returned with kind
// api.MessageClose. Once buf is full the transport is probed with an empty
// slice: a message that fits exactly still ends cleanly, anything more yields
// an *api.Error wrapping api.ErrMessageTooLarge. After that error the
// transport is mid-message and must not be read again.
func ReadMessage(ctx context.Context, tr api.Transport, buf []byte) (api.Message, error) {
	count := 0
	for {
		frag, err := tr.ReceiveFragment(ctx, buf[count:])
		if err != nil {
			return api.Message{}, err
		}
		if frag.Kind == api.MessageClose {
			return api.Message{Kind: api.MessageClose}, nil
		}
		count += frag.Count
		if frag.EndOfMessage {
			return api.Message{Payload: buf[:count], Kind: frag.Kind}, nil
		}
		if count == len(buf) && frag.Count == 0 {
			return api.Message{}, api.NewError(api.ErrCodeMessageTooLarge, "message exceeds receive buffer").
				Wrap(api.ErrMessageTooLarge).
				WithContext("limit", len(buf))
		}
	}
}
