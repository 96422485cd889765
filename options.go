package veo

import (
	"github.com/veoffload/veo-host/internal/constants"
	"github.com/veoffload/veo-host/internal/interfaces"
	"github.com/veoffload/veo-host/internal/logging"
	"github.com/veoffload/veo-host/internal/transport"
)

// ProcOptions configures CreateProc. NodeID of -1 asks for the default VE
// node (VE_NODE_NUMBER, restricted to _VENODELIST when that's set, or 0).
// CoreID of -1 asks for VE_CORE_NUMBER (or -1, meaning no affinity pinning).
// BinaryPath overrides VEORUN_BIN.
//
// Peer and NewPeer exist for tests: Peer supplies the main context's
// transport directly (e.g. a *transport.SimulatorPeer), and NewPeer, when
// set, is used to build additional peers for OpenContext instead of
// launching a real worker process.
type ProcOptions struct {
	NodeID     int
	CoreID     int
	BinaryPath string
	Logger     *logging.Logger
	Observer   interfaces.Observer

	Peer    transport.Peer
	NewPeer func(core int) (transport.Peer, error)
}

// ContextAttr configures OpenContext.
type ContextAttr struct {
	// StackSize is the worker thread's stack size in bytes, clamped to at
	// least constants.MinStackSize.
	StackSize uint64
	// Core is the core number OpenContext passes to ProcOptions.NewPeer;
	// -1 requests no specific core. The runtime does not choose a core
	// itself.
	Core int
}

// DefaultContextAttr returns the attributes OpenContext uses when called
// with a nil attr.
func DefaultContextAttr() *ContextAttr {
	return &ContextAttr{StackSize: constants.DefaultStackSize, Core: -1}
}

func (a *ContextAttr) normalized() *ContextAttr {
	out := *a
	if out.StackSize < constants.MinStackSize {
		out.StackSize = constants.MinStackSize
	}
	return &out
}
