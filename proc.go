package veo

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/veoffload/veo-host/internal/constants"
	"github.com/veoffload/veo-host/internal/interfaces"
	"github.com/veoffload/veo-host/internal/logging"
	"github.com/veoffload/veo-host/internal/transport"
	"github.com/veoffload/veo-host/internal/wire"
)

var procIDSeq atomic.Int64

// Proc is one accelerator worker process: a VE node/core pair, its main
// context (context 0, used for every Proc-level operation below), and
// whatever additional contexts OpenContext has created on it.
type Proc struct {
	id     int
	nodeID int

	mu          sync.Mutex
	contexts    []*Context
	freeIDs     []int
	peerFactory func(core int) (transport.Peer, error)

	symMu    sync.Mutex
	symCache map[symKey]uint64

	logger   *logging.Logger
	observer interfaces.Observer

	closed atomic.Bool
}

type symKey struct {
	lib  uint64
	name string
}

// CreateProc launches (or, in tests, attaches to a simulated) a worker
// process per opts and opens its main context. opts.Peer, when set, is
// used directly instead of launching a real worker — the path tests take.
func CreateProc(opts *ProcOptions) (*Proc, error) {
	if opts == nil {
		opts = &ProcOptions{}
	}
	nodeID := opts.NodeID
	if nodeID < 0 {
		nodeID = envNodeID()
		if nodes := envNodeList(); len(nodes) > 0 {
			// _VENODELIST restricts placement to a fixed set of VE nodes;
			// fall back to its first entry if the resolved node isn't
			// one of them.
			allowed := false
			for _, n := range nodes {
				if n == nodeID {
					allowed = true
					break
				}
			}
			if !allowed {
				nodeID = nodes[0]
			}
		}
	}
	coreID := opts.CoreID
	if coreID < 0 {
		coreID = envCoreID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(&logging.Config{Level: envLogLevel(), Output: os.Stderr, Format: "text"})
	}

	var mainPeer transport.Peer
	var err error
	switch {
	case opts.Peer != nil:
		mainPeer = opts.Peer
	case opts.NewPeer != nil:
		mainPeer, err = opts.NewPeer(coreID)
	default:
		binPath := opts.BinaryPath
		if binPath == "" {
			binPath = envWorkerBinary()
		}
		mainPeer, err = transport.PeerCreate(nodeID, coreID, binPath, logger)
	}
	if err != nil {
		return nil, wrapError("CreateProc", ErrTransport, "launch worker", err)
	}

	id := int(procIDSeq.Add(1)) - 1
	p := &Proc{
		id:          id,
		nodeID:      nodeID,
		peerFactory: opts.NewPeer,
		symCache:    make(map[symKey]uint64),
		logger:      logger.WithProc(id),
		observer:    opts.Observer,
	}

	main := newContext(0, id, mainPeer, p.logger, p.observer, p.resolveSymbol)
	if err := main.attach(); err != nil {
		mainPeer.Close()
		return nil, wrapError("CreateProc", ErrTransport, "attach handshake", err)
	}
	p.contexts = []*Context{main}

	registerProc(p)
	return p, nil
}

// ID is the process's unique handle within this host runtime.
func (p *Proc) ID() int { return p.id }

// MainContext returns context 0, created implicitly by CreateProc.
func (p *Proc) MainContext() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contexts[0]
}

// NumContexts reports how many contexts (including the main one) are
// currently open on this process.
func (p *Proc) NumContexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.contexts {
		if c != nil {
			n++
		}
	}
	return n
}

// GetContext returns the context with the given id, or nil if it does not
// exist or has been deleted.
func (p *Proc) GetContext(id int) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.contexts) {
		return nil
	}
	return p.contexts[id]
}

// OpenContext creates a new worker context alongside the main one, on a
// transport.Peer built by ProcOptions.NewPeer (a second SimulatorPeer in
// tests). No NEWPEER frame is sent. Without a NewPeer factory, as for a
// process launched from a worker binary, OpenContext fails with
// ErrInvalidArgument.
func (p *Proc) OpenContext(attr *ContextAttr) (*Context, error) {
	if attr == nil {
		attr = DefaultContextAttr()
	}
	attr = attr.normalized()

	if p.peerFactory == nil {
		return nil, newError("OpenContext", ErrInvalidArgument, "process has no additional-peer factory configured")
	}
	peer, err := p.peerFactory(attr.Core)
	if err != nil {
		return nil, wrapError("OpenContext", ErrTransport, "create peer", err)
	}

	p.mu.Lock()
	var id int
	if n := len(p.freeIDs); n > 0 {
		id = p.freeIDs[n-1]
		p.freeIDs = p.freeIDs[:n-1]
	} else {
		id = len(p.contexts)
		p.contexts = append(p.contexts, nil)
	}
	p.mu.Unlock()

	c := newContext(id, p.id, peer, p.logger.WithContext(id), p.observer, p.resolveSymbol)
	if err := c.attach(); err != nil {
		peer.Close()
		return nil, wrapError("OpenContext", ErrTransport, "attach handshake", err)
	}

	p.mu.Lock()
	p.contexts[id] = c
	p.mu.Unlock()
	return c, nil
}

// DelContext closes and removes a non-main context, freeing its id for
// reuse by a future OpenContext call.
func (p *Proc) DelContext(c *Context) error {
	if c == nil {
		return nil
	}
	if c.ID() == 0 {
		return newError("DelContext", ErrInvalidArgument, "cannot delete the main context; use ExitProc")
	}
	if err := c.Close(); err != nil {
		return err
	}
	p.mu.Lock()
	if c.ID() < len(p.contexts) {
		p.contexts[c.ID()] = nil
		p.freeIDs = append(p.freeIDs, c.ID())
	}
	p.mu.Unlock()
	return nil
}

// ExitProc closes every open context and marks the process unusable.
// Idempotent.
func (p *Proc) ExitProc() error {
	if p.closed.Swap(true) {
		return nil
	}
	unregisterProc(p)
	p.mu.Lock()
	contexts := append([]*Context(nil), p.contexts...)
	p.mu.Unlock()
	var firstErr error
	for _, c := range contexts {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoadLibrary loads the shared library at path into the worker's address
// space, returning an opaque handle for use with GetSym/UnloadLibrary.
func (p *Proc) LoadLibrary(path string) (uint64, error) {
	mb, payload, err := p.MainContext().simpleCall(wire.CmdLoadLib, constants.CallSyncTimeout, "P", []byte(path))
	if err != nil {
		return 0, err
	}
	return decodeSimpleResult(mb, payload)
}

// UnloadLibrary unloads a library previously returned by LoadLibrary.
func (p *Proc) UnloadLibrary(libhdl uint64) error {
	_, _, err := p.MainContext().simpleCall(wire.CmdUnloadLib, constants.CallSyncTimeout, "L", libhdl)
	return err
}

// GetSym resolves name within libhdl, consulting and populating the
// per-process symbol cache first.
func (p *Proc) GetSym(libhdl uint64, name string) (uint64, error) {
	return p.resolveSymbol(libhdl, name)
}

func (p *Proc) resolveSymbol(libhdl uint64, name string) (uint64, error) {
	key := symKey{lib: libhdl, name: name}
	p.symMu.Lock()
	if addr, ok := p.symCache[key]; ok {
		p.symMu.Unlock()
		return addr, nil
	}
	p.symMu.Unlock()

	mb, payload, err := p.MainContext().simpleCall(wire.CmdGetSym, constants.CallSyncTimeout, "LP", libhdl, []byte(name))
	if err != nil {
		return 0, err
	}
	addr, err := decodeSimpleResult(mb, payload)
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return 0, newError("GetSym", ErrNotFound, fmt.Sprintf("symbol %q not found", name))
	}
	p.symMu.Lock()
	p.symCache[key] = addr
	p.symMu.Unlock()
	return addr, nil
}

// AllocBuff allocates size bytes in the worker's address space.
func (p *Proc) AllocBuff(size uint64) (uint64, error) {
	mb, payload, err := p.MainContext().simpleCall(wire.CmdAlloc, constants.CallSyncTimeout, "L", size)
	if err != nil {
		return 0, err
	}
	return decodeSimpleResult(mb, payload)
}

// FreeBuff releases a buffer previously returned by AllocBuff.
func (p *Proc) FreeBuff(addr uint64) error {
	_, _, err := p.MainContext().simpleCall(wire.CmdFree, constants.CallSyncTimeout, "L", addr)
	return err
}

// ReadMem copies len(dst) bytes from the worker's addr into dst, fragmenting
// the transfer as needed.
func (p *Proc) ReadMem(dst []byte, addr uint64) error {
	c := p.MainContext()
	id, err := c.AsyncReadMem(dst, addr)
	if err != nil {
		return err
	}
	status, _, err := c.CallWaitResult(id)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return newError("ReadMem", ErrTransport, "transfer failed")
	}
	return nil
}

// WriteMem copies src into the worker's addr, fragmenting as needed.
func (p *Proc) WriteMem(addr uint64, src []byte) error {
	c := p.MainContext()
	id, err := c.AsyncWriteMem(addr, src)
	if err != nil {
		return err
	}
	status, _, err := c.CallWaitResult(id)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return newError("WriteMem", ErrTransport, "transfer failed")
	}
	return nil
}

// CallSync is a convenience wrapper invoking addr synchronously on the
// main context.
func (p *Proc) CallSync(addr uint64, args *CallArgs) (uint64, error) {
	return p.MainContext().CallSync(addr, args)
}

func decodeSimpleResult(mb wire.Mailbox, payload []byte) (uint64, error) {
	if mb.Cmd == wire.CmdException {
		var signum uint64
		var msg []byte
		_ = wire.Unpack(payload, "LP", &signum, &msg)
		return 0, newError("simpleCall", ErrException, string(msg))
	}
	var v uint64
	if err := wire.Unpack(payload, "L", &v); err != nil {
		return 0, err
	}
	return v, nil
}
