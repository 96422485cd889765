package veo

import (
	"github.com/veoffload/veo-host/internal/logging"
	"github.com/veoffload/veo-host/internal/transport"
)

// NewSimulatedProc returns a Proc whose main (and every additional) context
// runs against an in-process transport.SimulatorPeer rather than a real
// worker, for tests that want to exercise the full Proc/Context/CallArgs
// pipeline without an accelerator. The returned *transport.SimulatorPeer
// backs the main context; callers that need to register bespoke symbols
// (beyond hello/empty/empty2/xorbuf/boom) can do so against it before
// issuing calls.
func NewSimulatedProc() (*Proc, *transport.SimulatorPeer, error) {
	sim := transport.NewSimulatorPeer()
	p, err := CreateProc(&ProcOptions{
		Peer:   sim,
		Logger: logging.NewLogger(&logging.Config{Level: logging.LevelError}),
		NewPeer: func(core int) (transport.Peer, error) {
			return transport.NewSimulatorPeer(), nil
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return p, sim, nil
}
