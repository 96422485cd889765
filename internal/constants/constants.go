// Package constants holds protocol and ABI constants shared across the
// runtime: wire timing, call-argument layout, and memory-transfer
// fragmentation defaults.
package constants

import "time"

// Request ID sentinel and call-argument ABI layout.
const (
	// InvalidRequestID is never issued by Context.issueRequestID; it marks
	// a call that failed before a request was ever queued.
	InvalidRequestID = ^uint64(0)

	// NumArgsOnRegister is the number of call arguments passed purely in
	// registers. Arguments at or beyond this index also occupy a slot in
	// the stack image's parameter area.
	NumArgsOnRegister = 8

	// ParamAreaOffset is the byte offset of the parameter area within a
	// constructed stack image; bytes before it are reserved for the
	// worker's own frame bookkeeping.
	ParamAreaOffset = 176

	// MaxNumArgs bounds the number of arguments a single call may carry.
	MaxNumArgs = 256

	// StackAlignment is the alignment (in bytes) required of the final
	// stack image size.
	StackAlignment = 16

	// DefaultStackSize is the default per-context worker stack size (128MiB).
	DefaultStackSize = 0x8000000

	// MinStackSize is the smallest stack size a caller may request (4MiB).
	MinStackSize = 4 * 1024 * 1024

	// ReservedStackSize is subtracted from a context's stack pointer before
	// building call arguments, leaving headroom for the worker's own use.
	ReservedStackSize = 512 * 1024
)

// Timing constants for the transport and call lifecycle.
//
// The RPC protocol has no independent heartbeat: a stalled worker is only
// detected when a blocking call exceeds its timeout. These values mirror
// what the reference runtime uses and were not re-tuned here.
const (
	// ReplyTimeout bounds the wait for the reply to one SENDBUFF/RECVBUFF
	// fragment, and Context.Close's wait for the worker's EXIT reply.
	ReplyTimeout = 20 * time.Second

	// CallSyncTimeout bounds how long a synchronous request (CallSync and
	// the Proc-level LoadLibrary/GetSym/AllocBuff family) waits for its
	// reply once sent; a timeout tears the context down. The synchronize
	// step that runs before the send is not counted against it.
	CallSyncTimeout = 15 * ReplyTimeout

	// AttachPollInterval is a polling period for the worker's attach
	// handshake. Nothing references it: PeerCreate's wait goes through
	// RecvTimeout, which polls every millisecond.
	AttachPollInterval = 5 * time.Millisecond

	// AttachTimeout bounds how long PeerCreate waits for a freshly
	// launched worker to complete its attach handshake.
	AttachTimeout = 10 * time.Second
)

// Memory-transfer fragmentation defaults.
const (
	// DefaultFragmentSize is the fragment size used for SENDBUFF/RECVBUFF
	// splitting when no VEO_SENDFRAG/VEO_RECVFRAG override is set (4MiB).
	DefaultFragmentSize = 4 * 1024 * 1024

	// StackPageMask identifies the 64MiB page a stack pointer falls into;
	// a call whose stack image would cross this boundary is rejected, since
	// the worker-side ABI assumes its growth stays within one huge page.
	StackPageMask = ^uint64(0x3FFFFFF)
)

// Align16 rounds n up to the next multiple of 16.
func Align16(n int) int {
	return (n + 15) &^ 15
}

// Align8 rounds n up to the next multiple of 8.
func Align8(n int) int {
	return (n + 7) &^ 7
}

// FragmentSize applies the same heuristic halving the reference runtime
// uses to keep mid-size transfers from waiting on one huge fragment: below
// four fragments' worth of data, the transfer is split into 2, 3, or 4
// fragments as it grows past 120KiB, 240KiB, and 512KiB.
func FragmentSize(size, override int) int {
	maxfrag := DefaultFragmentSize
	if override > 0 {
		maxfrag = override
	}
	if size < DefaultFragmentSize*4 {
		switch {
		case size > 512*1024:
			maxfrag = Align8(size / 4)
		case size > 240*1024:
			maxfrag = Align8(size / 3)
		case size > 120*1024:
			maxfrag = Align8(size / 2)
		}
	}
	return maxfrag
}
