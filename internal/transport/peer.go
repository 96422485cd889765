// Package transport implements the host side of the unidirectional
// shared-memory RPC link to a worker process: sending frames, waiting for
// replies (by request ID or for whichever arrives next), and launching the
// worker itself.
package transport

import (
	"time"

	"github.com/veoffload/veo-host/internal/wire"
)

// Peer is the transport's view of a single worker connection. A Context
// owns exactly one Peer for its lifetime.
type Peer interface {
	// Send encodes cmd/format/args as a frame and hands it to the
	// transport, returning the request ID the reply will be tagged with.
	Send(cmd wire.Cmd, format string, args ...any) (reqID uint64, err error)

	// RecvTimeout blocks for up to timeout waiting specifically for the
	// reply to reqID.
	RecvTimeout(reqID uint64, timeout time.Duration) (mb wire.Mailbox, payload []byte, err error)

	// PollNextReply returns the next available reply without blocking, for
	// whichever request it answers. ok is false if none is available yet.
	PollNextReply() (mb wire.Mailbox, payload []byte, ok bool, err error)

	// MaxSendPayload reports the largest payload a single frame may carry.
	MaxSendPayload() int

	// Close tears down the peer connection. Idempotent.
	Close() error
}
