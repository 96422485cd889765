package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/veoffload/veo-host/internal/wire"
)

// WorkerFunc is a simulated symbol implementation: given the stack image a
// CALL frame carried (for a plain register-only CALL, the packed register
// vector instead), it returns a return value and, when out != nil,
// the (possibly mutated) stack bytes to send back in a RES_STK reply.
// Returning exception=true simulates the worker raising a signal.
type WorkerFunc func(stackImage []byte) (retval uint64, out []byte, exception bool)

// SimulatorPeer is an in-process stand-in for a real worker process: it
// understands the wire protocol directly against an in-memory address
// space, so tests can drive the full Context/CommQueue/CallArgs pipeline
// without spawning anything. This plays the same role the reference
// runner's stub mode plays for queue testing: a deterministic double for
// the one dependency (a live worker) the runtime cannot provide in a test
// environment.
type SimulatorPeer struct {
	mu           sync.Mutex
	mem          map[uint64][]byte
	nextAddr     uint64
	nextID       uint64
	stackPointer uint64

	symbols map[string]uint64
	funcs   map[uint64]WorkerFunc
	libs    map[uint64]bool

	queue  []pendingReply
	closed bool
}

// NewSimulatorPeer returns a SimulatorPeer pre-registered with the synthetic
// symbols the end-to-end scenarios exercise: hello (returns 42), empty and
// empty2 (no-ops, exercising register-only and two-register-arg calls),
// xorbuf (XORs a stack buffer in place, exercising INOUT stack arguments),
// and boom (always raises a simulated exception).
func NewSimulatorPeer() *SimulatorPeer {
	s := &SimulatorPeer{
		mem:          make(map[uint64][]byte),
		nextAddr:     0x1000,
		stackPointer: 0x7f0000000000,
		symbols:      make(map[string]uint64),
		funcs:        make(map[uint64]WorkerFunc),
		libs:         make(map[uint64]bool),
	}
	s.registerBuiltin("hello", func(stack []byte) (uint64, []byte, bool) {
		return 42, nil, false
	})
	s.registerBuiltin("empty", func(stack []byte) (uint64, []byte, bool) {
		return 0, nil, false
	})
	s.registerBuiltin("empty2", func(stack []byte) (uint64, []byte, bool) {
		return 0, nil, false
	})
	s.registerBuiltin("xorbuf", func(stack []byte) (uint64, []byte, bool) {
		out := make([]byte, len(stack))
		for i, b := range stack {
			out[i] = b ^ 0xFF
		}
		return 0, out, false
	})
	s.registerBuiltin("boom", func(stack []byte) (uint64, []byte, bool) {
		return 0, nil, true
	})
	return s
}

func (s *SimulatorPeer) registerBuiltin(name string, fn WorkerFunc) {
	addr := s.nextAddr
	s.nextAddr += 0x100
	s.symbols[name] = addr
	s.funcs[addr] = fn
}

// RegisterFunc adds or replaces a callable symbol at runtime, for tests that
// need bespoke worker-side behavior beyond the built-ins.
func (s *SimulatorPeer) RegisterFunc(name string, fn WorkerFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.symbols[name]
	if !ok {
		addr = s.nextAddr
		s.nextAddr += 0x100
		s.symbols[name] = addr
	}
	s.funcs[addr] = fn
	return addr
}

func (s *SimulatorPeer) enqueue(mb wire.Mailbox, payload []byte) {
	s.queue = append(s.queue, pendingReply{mb: mb, payload: payload})
}

func (s *SimulatorPeer) Send(cmd wire.Cmd, format string, args ...any) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("transport: simulator peer closed")
	}
	reqID := s.nextID + 1
	s.nextID = reqID

	// Encode then immediately decode the call, the same way a real peer
	// would only ever see bytes on the wire — this keeps the simulator
	// honest about what the protocol can actually express.
	encoded, err := wire.Pack(format, args...)
	if err != nil {
		return 0, err
	}

	switch cmd {
	case wire.CmdLoadLib:
		var path []byte
		if err := wire.Unpack(encoded, "P", &path); err != nil {
			return 0, err
		}
		handle := s.nextAddr
		s.nextAddr += 0x1000
		s.libs[handle] = true
		reply, _ := wire.Pack("L", handle)
		s.enqueue(wire.Mailbox{Cmd: wire.CmdResult, RequestID: reqID}, reply)

	case wire.CmdUnloadLib:
		reply, _ := wire.Pack("L", uint64(0))
		s.enqueue(wire.Mailbox{Cmd: wire.CmdResult, RequestID: reqID}, reply)

	case wire.CmdGetSym:
		var libhdl uint64
		var name []byte
		if err := wire.Unpack(encoded, "LP", &libhdl, &name); err != nil {
			return 0, err
		}
		addr, ok := s.symbols[string(name)]
		if !ok {
			addr = 0
		}
		reply, _ := wire.Pack("L", addr)
		s.enqueue(wire.Mailbox{Cmd: wire.CmdResult, RequestID: reqID}, reply)

	case wire.CmdAlloc:
		var size uint64
		if err := wire.Unpack(encoded, "L", &size); err != nil {
			return 0, err
		}
		addr := s.nextAddr
		s.nextAddr += alignUp(size, 16)
		s.mem[addr] = make([]byte, size)
		reply, _ := wire.Pack("L", addr)
		s.enqueue(wire.Mailbox{Cmd: wire.CmdResult, RequestID: reqID}, reply)

	case wire.CmdFree:
		var addr uint64
		if err := wire.Unpack(encoded, "L", &addr); err != nil {
			return 0, err
		}
		delete(s.mem, addr)
		reply, _ := wire.Pack("L", uint64(0))
		s.enqueue(wire.Mailbox{Cmd: wire.CmdResult, RequestID: reqID}, reply)

	case wire.CmdSendBuff:
		var dst uint64
		var data []byte
		if err := wire.Unpack(encoded, "LP", &dst, &data); err != nil {
			return 0, err
		}
		s.writeMem(dst, data)
		reply, _ := wire.Pack("L", uint64(0))
		s.enqueue(wire.Mailbox{Cmd: wire.CmdAck, RequestID: reqID}, reply)

	case wire.CmdRecvBuff:
		var src, dst, size uint64
		if err := wire.Unpack(encoded, "LLL", &src, &dst, &size); err != nil {
			return 0, err
		}
		data := s.readMem(src, size)
		reply, _ := wire.Pack("LP", dst, data)
		s.enqueue(wire.Mailbox{Cmd: wire.CmdAck, RequestID: reqID}, reply)

	case wire.CmdCall:
		if format == "LLL" {
			var addr, scratch, size uint64
			if err := wire.Unpack(encoded, "LLL", &addr, &scratch, &size); err != nil {
				return 0, err
			}
			// The image arrived as SENDBUFF fragments stored under their own addresses.
			stack := make([]byte, size)
			for base, buf := range s.mem {
				if base >= scratch && base < scratch+size {
					copy(stack[base-scratch:], buf)
				}
			}
			mb, reply := s.dispatchCall(reqID, addr, stack)
			if mb.Cmd == wire.CmdResultStk {
				var retval uint64
				var out []byte
				_ = wire.Unpack(reply, "LP", &retval, &out)
				for base, buf := range s.mem {
					if base >= scratch && base < scratch+uint64(len(out)) {
						copy(buf, out[base-scratch:])
					}
				}
				reply, _ = wire.Pack("LP", retval, []byte{})
			}
			s.enqueue(mb, reply)
			break
		}
		// Register-only call: the payload is the packed register vector,
		// not a stack image, and carries no parameter area to decode.
		var addr uint64
		var regs []byte
		if err := wire.Unpack(encoded, "LP", &addr, &regs); err != nil {
			return 0, err
		}
		mb, reply := s.dispatchCall(reqID, addr, regs)
		s.enqueue(mb, reply)

	case wire.CmdCallStkIn, wire.CmdCallStkInOut:
		// addr, regs, stack_top, sp, image: regs/stack_top/sp describe the
		// call's register vector and worker-side stack placement but the
		// simulator dispatches directly against the image bytes, so only
		// addr and image matter here.
		var addr, stackTop, sp uint64
		var regs, image []byte
		if err := wire.Unpack(encoded, "LPLLP", &addr, &regs, &stackTop, &sp, &image); err != nil {
			return 0, err
		}
		mb, reply := s.dispatchCall(reqID, addr, image)
		s.enqueue(mb, reply)

	case wire.CmdCallStkOut:
		// addr, regs, stack_top, sp, sz: no image travels host->worker for a
		// pure OUT call, just a size declaration for the reply's buffer.
		var addr, stackTop, sp, sz uint64
		var regs []byte
		if err := wire.Unpack(encoded, "LPLLQ", &addr, &regs, &stackTop, &sp, &sz); err != nil {
			return 0, err
		}
		mb, reply := s.dispatchCall(reqID, addr, make([]byte, sz))
		s.enqueue(mb, reply)

	case wire.CmdNewPeer:
		reply, _ := wire.Pack("L", uint64(0))
		s.enqueue(wire.Mailbox{Cmd: wire.CmdAck, RequestID: reqID}, reply)

	case wire.CmdExit, wire.CmdPing:
		reply, _ := wire.Pack("L", uint64(0))
		s.enqueue(wire.Mailbox{Cmd: wire.CmdAck, RequestID: reqID}, reply)

	default:
		return 0, fmt.Errorf("transport: simulator does not understand command %s", cmd)
	}
	return reqID, nil
}

// dispatchCall resolves and invokes addr's worker function (or, for addr
// 0, answers the attach handshake's stack-pointer probe with a synthetic
// value) and returns the reply mailbox and payload the caller should
// enqueue.
func (s *SimulatorPeer) dispatchCall(reqID, addr uint64, stack []byte) (wire.Mailbox, []byte) {
	if addr == 0 {
		reply, _ := wire.Pack("L", s.stackPointer)
		return wire.Mailbox{Cmd: wire.CmdResult, RequestID: reqID}, reply
	}
	fn, ok := s.funcs[addr]
	if !ok {
		reply, _ := wire.Pack("LP", uint64(0), []byte(fmt.Sprintf("no symbol registered at 0x%x", addr)))
		return wire.Mailbox{Cmd: wire.CmdException, RequestID: reqID}, reply
	}
	retval, out, exception := fn(stack)
	if exception {
		reply, _ := wire.Pack("LP", uint64(11), []byte("simulated worker exception"))
		return wire.Mailbox{Cmd: wire.CmdException, RequestID: reqID}, reply
	}
	if out != nil {
		reply, _ := wire.Pack("LP", retval, out)
		return wire.Mailbox{Cmd: wire.CmdResultStk, RequestID: reqID}, reply
	}
	reply, _ := wire.Pack("L", retval)
	return wire.Mailbox{Cmd: wire.CmdResult, RequestID: reqID}, reply
}

func (s *SimulatorPeer) writeMem(addr uint64, data []byte) {
	buf, ok := s.mem[addr]
	if !ok || len(buf) < len(data) {
		buf = make([]byte, len(data))
		s.mem[addr] = buf
	}
	copy(buf, data)
}

func (s *SimulatorPeer) readMem(addr, size uint64) []byte {
	buf, ok := s.mem[addr]
	if !ok {
		return make([]byte, size)
	}
	if uint64(len(buf)) < size {
		out := make([]byte, size)
		copy(out, buf)
		return out
	}
	return buf[:size]
}

func (s *SimulatorPeer) RecvTimeout(reqID uint64, timeout time.Duration) (wire.Mailbox, []byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		for i, r := range s.queue {
			if r.mb.RequestID == reqID {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				s.mu.Unlock()
				return r.mb, r.payload, nil
			}
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			return wire.Mailbox{}, nil, fmt.Errorf("transport: timed out waiting for reply to request %d", reqID)
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *SimulatorPeer) PollNextReply() (wire.Mailbox, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return wire.Mailbox{}, nil, false, nil
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	return r.mb, r.payload, true, nil
}

func (s *SimulatorPeer) MaxSendPayload() int { return 4 * 1024 * 1024 }

func (s *SimulatorPeer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
