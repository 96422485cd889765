package veo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/veoffload/veo-host/internal/constants"
	"github.com/veoffload/veo-host/internal/interfaces"
	"github.com/veoffload/veo-host/internal/logging"
	"github.com/veoffload/veo-host/internal/queue"
	"github.com/veoffload/veo-host/internal/transport"
	"github.com/veoffload/veo-host/internal/wire"
)

// ContextState is a Context's lifecycle state. Exit is absorbing: a
// context that has entered it never returns to Running.
type ContextState int32

const (
	StateUnknown ContextState = iota
	StateRunning
	StateExit
)

func (s ContextState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Status is a completed (or not yet completed) command's outcome.
type Status = queue.Status

const (
	StatusUnfinished = queue.StatusUnfinished
	StatusOK         = queue.StatusOK
	StatusError      = queue.StatusError
	StatusException  = queue.StatusException
)

// Context is one worker thread's command queue, transport peer, and stack
// pointer. Contexts belonging to the same Proc run fully in parallel on the
// worker; a single Context serializes its own submissions behind submitMtx
// and its own progress steps behind progMtx.
type Context struct {
	id     int
	procID int
	peer   transport.Peer
	q      *queue.CommQueue

	state atomic.Int32

	submitMtx sync.Mutex
	progMtx   sync.Mutex
	reqMtx    sync.Mutex

	nextReqID     uint64
	outstanding   map[uint64]struct{}
	scratchCursor uint64

	stackBase uint64

	resolveSymbol func(libhdl uint64, name string) (uint64, error)

	logger   *logging.Logger
	observer interfaces.Observer

	sendFragmentOverride int
	recvFragmentOverride int
	closeOnce            sync.Once
}

func newContext(id, procID int, peer transport.Peer, logger *logging.Logger, observer interfaces.Observer, resolveSymbol func(uint64, string) (uint64, error)) *Context {
	c := &Context{
		id:                   id,
		procID:               procID,
		peer:                 peer,
		q:                    queue.NewCommQueue(),
		outstanding:          make(map[uint64]struct{}),
		logger:               logger,
		observer:             observer,
		resolveSymbol:        resolveSymbol,
		sendFragmentOverride: envSendFragmentSize(),
		recvFragmentOverride: envRecvFragmentSize(),
	}
	c.state.Store(int32(StateUnknown))
	return c
}

// ID is the context's index within its owning Proc (0 for the main context).
func (c *Context) ID() int { return c.id }

// State reports the context's current lifecycle state.
func (c *Context) State() ContextState { return ContextState(c.state.Load()) }

func (c *Context) enterExit() { c.state.Store(int32(StateExit)) }

// fail marks the context Exit and cancels every pending command, the
// response to any transport-level error: a context that has lost sync with
// its worker cannot be trusted to resume.
func (c *Context) fail(err error) {
	c.enterExit()
	c.q.CancelAll()
	if c.logger != nil {
		c.logger.WithContext(c.id).WithError(err).Error("context transport failure")
	}
}

func (c *Context) observeCall(d time.Duration, ok bool) {
	if c.observer != nil {
		c.observer.ObserveCall(uint64(d.Nanoseconds()), ok)
	}
}

func (c *Context) observeException() {
	if c.observer != nil {
		c.observer.ObserveException(c.id)
	}
}

// attach performs the boot handshake this context's peer must complete
// before any real call can be issued: a CALL with addr 0 carries no
// meaning to a real symbol, so the worker special-cases it into an echo of
// its own current stack pointer, letting the host discover where the
// worker's call frames begin.
func (c *Context) attach() error {
	reqID, err := c.peer.Send(wire.CmdCall, "LP", uint64(0), []byte{})
	if err != nil {
		return errors.Wrap(err, "context attach")
	}
	mb, payload, err := c.peer.RecvTimeout(reqID, constants.AttachTimeout)
	if err != nil {
		return errors.Wrap(err, "context attach: reply")
	}
	if mb.Cmd != wire.CmdResult {
		return newError("attach", ErrTransport, fmt.Sprintf("unexpected reply %s to stack-pointer probe", mb.Cmd))
	}
	var sp uint64
	if err := wire.Unpack(payload, "L", &sp); err != nil {
		return errors.Wrap(err, "context attach: decode")
	}
	c.stackBase = sp - constants.ReservedStackSize
	c.scratchCursor = c.stackBase - constants.DefaultStackSize
	c.state.Store(int32(StateRunning))
	return nil
}

// selectCallCmd picks the wire command a small call should use: plain CALL
// for a register-only argument list, and the matching CALL_STKIN/STKOUT/
// STKINOUT variant when the call carries an IN and/or OUT stack buffer.
func selectCallCmd(built *builtImage) wire.Cmd {
	switch {
	case built.copyIn && built.copyOut:
		return wire.CmdCallStkInOut
	case built.copyIn:
		return wire.CmdCallStkIn
	case built.copyOut:
		return wire.CmdCallStkOut
	default:
		return wire.CmdCall
	}
}

// callFormatArgs returns the wire format string and packed arguments for a
// small call's CALL frame, matching the payload shape each command code
// carries: a register-only CALL sends just addr and regs, while the
// CALL_STKIN/STKOUT/STKINOUT variants add stack_top (the image's base
// worker address) and sp (the context's stack pointer) ahead of either the
// image bytes (STKIN/STKINOUT) or a bare size declaration (STKOUT, which
// carries no image host->worker since nothing needs to travel that way).
func callFormatArgs(cmdCode wire.Cmd, addr uint64, args *CallArgs, built *builtImage, stackBase uint64) (string, []any) {
	regs := regBytes(args.RegValues())
	if cmdCode == wire.CmdCall {
		return "LP", []any{addr, regs}
	}
	stackTop := stackBase - uint64(built.stackSize)
	if cmdCode == wire.CmdCallStkOut {
		return "LPLLQ", []any{addr, regs, stackTop, stackBase, uint64(len(built.image))}
	}
	return "LPLLP", []any{addr, regs, stackTop, stackBase, built.image}
}

func checkStackPageCrossing(sp uint64, size uint64) error {
	if size == 0 {
		return nil
	}
	top := sp
	bottom := sp - size
	if top&constants.StackPageMask != bottom&constants.StackPageMask {
		return newError("CallAsync", ErrInvalidArgument, "call stack image crosses a 64MiB-aligned page boundary")
	}
	return nil
}

func (c *Context) issueRequestID() uint64 {
	c.reqMtx.Lock()
	defer c.reqMtx.Unlock()
	for {
		c.nextReqID++
		if c.nextReqID != constants.InvalidRequestID {
			break
		}
	}
	id := c.nextReqID
	c.outstanding[id] = struct{}{}
	return id
}

// nextScratchAddr hands out a fresh region of the context's simulated
// address space for a large call's stack image to live in while its
// oversized argument bytes travel by SENDBUFF/RECVBUFF instead of inline in
// the CALL frame.
func (c *Context) nextScratchAddr(size uint64) uint64 {
	c.reqMtx.Lock()
	defer c.reqMtx.Unlock()
	addr := c.scratchCursor
	c.scratchCursor -= uint64(constants.Align16(int(size)))
	return addr
}

// Progress drives up to maxOps drain/submit cycles (unbounded if maxOps <=
// 0), returning early once a full cycle does no work. It is the only place
// that polls for replies to queued commands (synchronous paths and
// fragment transfers wait on their own reply IDs with RecvTimeout);
// callers normally reach it indirectly
// through CallWaitResult/Synchronize rather than calling it directly.
func (c *Context) Progress(maxOps int) error {
	c.progMtx.Lock()
	defer c.progMtx.Unlock()
	return c.progressLocked(maxOps)
}

func (c *Context) progressLocked(maxOps int) error {
	ops := 0
	for maxOps <= 0 || ops < maxOps {
		didWork, err := c.progressStep()
		if err != nil {
			return err
		}
		if !didWork {
			break
		}
		ops++
	}
	return nil
}

func (c *Context) progressStep() (bool, error) {
	didWork := false

	mb, payload, ok, err := c.peer.PollNextReply()
	if err != nil {
		werr := errors.Wrap(err, "progress: poll reply")
		c.fail(werr)
		return false, werr
	}
	if ok {
		cmd := c.q.PopInFlight()
		if cmd == nil {
			err := newError("progress", ErrTransport, "reply arrived with no in-flight command")
			c.fail(err)
			return false, err
		}
		if cmd.Complete != nil {
			if cerr := cmd.Complete(cmd, uint32(mb.Cmd), payload); cerr != nil {
				c.q.PushCompletion(cmd)
				c.fail(cerr)
				return false, cerr
			}
		} else {
			cmd.SetResult(0, queue.StatusOK)
		}
		c.q.PushCompletion(cmd)
		didWork = true
	}

	if c.q.EmptyInFlight() {
		if cmd := c.q.PopRequest(); cmd != nil {
			switch {
			case cmd.IsHostOnly && !c.q.EmptyInFlight():
				c.q.PushRequestFront(cmd)
			case cmd.IsHostOnly:
				if err := cmd.Submit(cmd); err != nil {
					cmd.SetResult(0, queue.StatusError)
				}
				c.q.PushCompletion(cmd)
				didWork = true
			default:
				if err := cmd.Submit(cmd); err != nil {
					cmd.SetResult(0, queue.StatusError)
					c.q.PushCompletion(cmd)
				} else {
					c.q.PushInFlight(cmd)
				}
				didWork = true
			}
		}
	}

	if c.observer != nil {
		c.observer.ObserveQueueDepth(c.id, c.q.Request.Len(), boolToInt(!c.q.EmptyInFlight()))
	}

	return didWork, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Synchronize drains the request and in-flight queues, blocking until both
// are empty.
func (c *Context) Synchronize() error {
	c.submitMtx.Lock()
	defer c.submitMtx.Unlock()
	return c.synchronizeNolock()
}

func (c *Context) synchronizeNolock() error {
	for !c.q.EmptyRequest() || !c.q.EmptyInFlight() {
		if c.State() == StateExit {
			return newError("Synchronize", ErrClosed, "context exited while synchronizing")
		}
		if err := c.Progress(1); err != nil {
			return err
		}
	}
	return nil
}

// simpleCall submits a request/reply exchange that must observe an empty
// in-flight queue first, the same discipline CallSync uses: acquire the
// submit lock, drain, send, wait.
func (c *Context) simpleCall(cmd wire.Cmd, timeout time.Duration, format string, args ...any) (wire.Mailbox, []byte, error) {
	if c.State() == StateExit {
		return wire.Mailbox{}, nil, newError("simpleCall", ErrClosed, "context is closed")
	}
	c.submitMtx.Lock()
	defer c.submitMtx.Unlock()
	if err := c.synchronizeNolock(); err != nil {
		return wire.Mailbox{}, nil, err
	}
	reqID, err := c.peer.Send(cmd, format, args...)
	if err != nil {
		c.fail(err)
		return wire.Mailbox{}, nil, err
	}
	mb, payload, err := c.peer.RecvTimeout(reqID, timeout)
	if err != nil {
		c.fail(err)
		return wire.Mailbox{}, nil, errors.Wrap(err, "simpleCall: reply")
	}
	return mb, payload, nil
}

// CallSync invokes the function at addr synchronously: builds args,
// submits, and blocks for the result.
func (c *Context) CallSync(addr uint64, args *CallArgs) (uint64, error) {
	if args == nil {
		args = NewCallArgs()
	}
	if c.State() == StateExit {
		return 0, newError("CallSync", ErrClosed, "context is closed")
	}
	if addr == 0 {
		return 0, newError("CallSync", ErrInvalidArgument, "address 0 is reserved for the stack-pointer probe")
	}
	built, err := args.Build(c.stackBase)
	if err != nil {
		return 0, err
	}
	if err := checkStackPageCrossing(c.stackBase, uint64(built.stackSize)); err != nil {
		return 0, err
	}
	if len(built.image) > c.peer.MaxSendPayload() {
		id, err := c.callAsyncLarge(addr, args, built)
		if err != nil {
			return 0, err
		}
		status, result, err := c.CallWaitResult(id)
		if err != nil {
			return 0, err
		}
		if status == queue.StatusException {
			return result, newError("CallSync", ErrException, "worker raised an exception")
		}
		if status != queue.StatusOK {
			return 0, newError("CallSync", ErrTransport, "call failed")
		}
		return result, nil
	}

	start := time.Now()
	cmdCode := selectCallCmd(built)
	format, wireArgs := callFormatArgs(cmdCode, addr, args, built, c.stackBase)
	mb, payload, err := c.simpleCall(cmdCode, constants.CallSyncTimeout, format, wireArgs...)
	if err != nil {
		c.observeCall(time.Since(start), false)
		return 0, err
	}
	result, status, err := decodeCallReply(mb, payload, args, built)
	c.observeCall(time.Since(start), err == nil && status == queue.StatusOK)
	if err != nil {
		return 0, err
	}
	if status == queue.StatusException {
		c.observeException()
		c.enterExit()
		return result, newError("CallSync", ErrException, "worker raised an exception")
	}
	return result, nil
}

func decodeCallReply(mb wire.Mailbox, payload []byte, args *CallArgs, built *builtImage) (uint64, queue.Status, error) {
	switch mb.Cmd {
	case wire.CmdResult:
		var result uint64
		if err := wire.Unpack(payload, "L", &result); err != nil {
			return 0, queue.StatusError, errors.Wrap(err, "decode RESULT")
		}
		return result, queue.StatusOK, nil
	case wire.CmdResultStk:
		var result uint64
		var stack []byte
		if err := wire.Unpack(payload, "LP", &result, &stack); err != nil {
			return 0, queue.StatusError, errors.Wrap(err, "decode RES_STK")
		}
		if built != nil && built.copyOut {
			if err := args.copyOut(stack); err != nil {
				return 0, queue.StatusError, err
			}
		}
		return result, queue.StatusOK, nil
	case wire.CmdException:
		var signum uint64
		var msg []byte
		_ = wire.Unpack(payload, "LP", &signum, &msg)
		return signum, queue.StatusException, nil
	default:
		return 0, queue.StatusError, fmt.Errorf("veo: unexpected reply command %s to a call", mb.Cmd)
	}
}

// CallAsync submits addr/args for execution without blocking, returning a
// request id to later pass to CallPeekResult/CallWaitResult.
func (c *Context) CallAsync(addr uint64, args *CallArgs) (uint64, error) {
	if args == nil {
		args = NewCallArgs()
	}
	if c.State() == StateExit {
		return constants.InvalidRequestID, newError("CallAsync", ErrClosed, "context is closed")
	}
	if addr == 0 {
		return constants.InvalidRequestID, newError("CallAsync", ErrInvalidArgument, "address 0 is reserved for the stack-pointer probe")
	}
	built, err := args.Build(c.stackBase)
	if err != nil {
		return constants.InvalidRequestID, err
	}
	if err := checkStackPageCrossing(c.stackBase, uint64(built.stackSize)); err != nil {
		return constants.InvalidRequestID, err
	}
	if len(built.image) > c.peer.MaxSendPayload() {
		return c.callAsyncLarge(addr, args, built)
	}
	return c.callAsyncSmall(addr, args, built)
}

func (c *Context) callAsyncSmall(addr uint64, args *CallArgs, built *builtImage) (uint64, error) {
	id := c.issueRequestID()
	start := time.Now()
	cmdCode := selectCallCmd(built)
	format, wireArgs := callFormatArgs(cmdCode, addr, args, built, c.stackBase)
	cmd := queue.NewCommand(id,
		func(cmd *queue.Command) error {
			reqID, err := c.peer.Send(cmdCode, format, wireArgs...)
			if err != nil {
				return err
			}
			cmd.SetURPCReq(int64(reqID))
			return nil
		},
		func(cmd *queue.Command, replyCmd uint32, payload []byte) error {
			mb := wire.Mailbox{Cmd: wire.Cmd(replyCmd)}
			result, status, err := decodeCallReply(mb, payload, args, built)
			c.observeCall(time.Since(start), err == nil && status == queue.StatusOK)
			if err != nil {
				cmd.SetResult(0, queue.StatusError)
				return err
			}
			if status == queue.StatusException {
				c.observeException()
				c.enterExit()
			}
			cmd.SetResult(result, status)
			return nil
		},
	)
	if !c.q.PushRequest(cmd) {
		return constants.InvalidRequestID, newError("CallAsync", ErrClosed, "request queue closed")
	}
	if err := c.Progress(0); err != nil {
		return constants.InvalidRequestID, err
	}
	return id, nil
}

// callAsyncLarge handles a call whose stack image does not fit in one
// transport payload. Rather than recursing back into progress to await a
// nested sub-call (which would need a reentrant progress lock), its submit
// step talks to the transport directly: write the oversized image to a
// scratch region via fragmented SENDBUFF, issue the CALL against that
// region, and read any OUT bytes back the same way. This is the "restructure
// as a state machine advanced by the outer progress loop" resolution of the
// composite-command design, not the reference runtime's own recursive one.
func (c *Context) callAsyncLarge(addr uint64, args *CallArgs, built *builtImage) (uint64, error) {
	id := c.issueRequestID()
	start := time.Now()
	cmd := queue.NewCommand(id, func(cmd *queue.Command) error {
		scratch := c.nextScratchAddr(uint64(len(built.image)))

		if err := c.transferFragmented(scratch, built.image, true); err != nil {
			cmd.SetResult(0, queue.StatusError)
			return nil
		}

		reqID, err := c.peer.Send(wire.CmdCall, "LLL", addr, scratch, uint64(len(built.image)))
		if err != nil {
			cmd.SetResult(0, queue.StatusError)
			return nil
		}
		mb, payload, err := c.peer.RecvTimeout(reqID, constants.CallSyncTimeout)
		if err != nil {
			cmd.SetResult(0, queue.StatusError)
			return nil
		}
		result, status, derr := decodeCallReply(mb, payload, args, nil)
		if derr != nil {
			cmd.SetResult(0, queue.StatusError)
			return nil
		}
		if status == queue.StatusOK && built.copyOut {
			outBuf := queue.GetFragmentBuffer(len(built.image))
			defer queue.PutFragmentBuffer(outBuf)
			if err := c.transferFragmented(scratch, outBuf, false); err != nil {
				cmd.SetResult(0, queue.StatusError)
				return nil
			}
			if err := args.copyOut(outBuf); err != nil {
				cmd.SetResult(0, queue.StatusError)
				return nil
			}
		}
		c.observeCall(time.Since(start), status == queue.StatusOK)
		if status == queue.StatusException {
			c.observeException()
			c.enterExit()
		}
		cmd.SetResult(result, status)
		return nil
	}, nil)
	cmd.IsHostOnly = true

	if !c.q.PushRequest(cmd) {
		return constants.InvalidRequestID, newError("CallAsync", ErrClosed, "request queue closed")
	}
	if err := c.Progress(0); err != nil {
		return constants.InvalidRequestID, err
	}
	return id, nil
}

// CallAsyncByName resolves name within libhdl (consulting the owning Proc's
// symbol cache) before dispatching through CallAsync.
func (c *Context) CallAsyncByName(libhdl uint64, name string, args *CallArgs) (uint64, error) {
	if c.resolveSymbol == nil {
		return constants.InvalidRequestID, newError("CallAsyncByName", ErrInvalidArgument, "context has no symbol resolver")
	}
	addr, err := c.resolveSymbol(libhdl, name)
	if err != nil {
		return constants.InvalidRequestID, err
	}
	if addr == 0 {
		return constants.InvalidRequestID, newError("CallAsyncByName", ErrNotFound, fmt.Sprintf("symbol %q not found", name))
	}
	return c.CallAsync(addr, args)
}

// CallVHAsync submits fn(arg) as a host-only command: it never touches the
// transport, running entirely as a callback invoked from the progress loop.
func (c *Context) CallVHAsync(fn func(arg any) (uint64, error), arg any) (uint64, error) {
	if c.State() == StateExit {
		return constants.InvalidRequestID, newError("CallVHAsync", ErrClosed, "context is closed")
	}
	id := c.issueRequestID()
	cmd := queue.NewCommand(id, func(cmd *queue.Command) error {
		result, err := fn(arg)
		if err != nil {
			cmd.SetResult(0, queue.StatusError)
			return nil
		}
		cmd.SetResult(result, queue.StatusOK)
		return nil
	}, nil)
	cmd.IsHostOnly = true
	if !c.q.PushRequest(cmd) {
		return constants.InvalidRequestID, newError("CallVHAsync", ErrClosed, "request queue closed")
	}
	if err := c.Progress(0); err != nil {
		return constants.InvalidRequestID, err
	}
	return id, nil
}

// AsyncWriteMem and AsyncReadMem fragment a bulk transfer into
// FragmentSize-sized SENDBUFF/RECVBUFF sub-requests fanned out concurrently
// via errgroup, completing when every fragment has.
func (c *Context) AsyncWriteMem(dstAddr uint64, src []byte) (uint64, error) {
	return c.asyncTransfer(dstAddr, src, true)
}

func (c *Context) AsyncReadMem(dst []byte, srcAddr uint64) (uint64, error) {
	return c.asyncTransfer(srcAddr, dst, false)
}

func (c *Context) asyncTransfer(addr uint64, buf []byte, write bool) (uint64, error) {
	if c.State() == StateExit {
		return constants.InvalidRequestID, newError("asyncTransfer", ErrClosed, "context is closed")
	}
	id := c.issueRequestID()
	cmd := queue.NewCommand(id, func(cmd *queue.Command) error {
		start := time.Now()
		err := c.transferFragmented(addr, buf, write)
		ok := err == nil
		dir := "read"
		if write {
			dir = "write"
		}
		if c.observer != nil {
			c.observer.ObserveTransfer(dir, uint64(len(buf)), uint64(time.Since(start).Nanoseconds()), ok)
		}
		if err != nil {
			cmd.SetResult(0, queue.StatusError)
			return nil
		}
		cmd.SetResult(uint64(len(buf)), queue.StatusOK)
		return nil
	}, nil)
	cmd.IsHostOnly = true
	if !c.q.PushRequest(cmd) {
		return constants.InvalidRequestID, newError("asyncTransfer", ErrClosed, "request queue closed")
	}
	if err := c.Progress(0); err != nil {
		return constants.InvalidRequestID, err
	}
	return id, nil
}

func (c *Context) transferFragmented(addr uint64, buf []byte, write bool) error {
	size := len(buf)
	if size == 0 {
		return nil
	}
	override := c.recvFragmentOverride
	if write {
		override = c.sendFragmentOverride
	}
	fragSize := constants.FragmentSize(size, override)
	var g errgroup.Group
	for off := 0; off < size; off += fragSize {
		off := off
		end := off + fragSize
		if end > size {
			end = size
		}
		g.Go(func() error {
			if write {
				return c.sendFragment(addr+uint64(off), buf[off:end])
			}
			return c.recvFragment(addr+uint64(off), buf[off:end])
		})
	}
	return g.Wait()
}

func (c *Context) sendFragment(dst uint64, data []byte) error {
	reqID, err := c.peer.Send(wire.CmdSendBuff, "LP", dst, data)
	if err != nil {
		return err
	}
	mb, _, err := c.peer.RecvTimeout(reqID, constants.ReplyTimeout)
	if err != nil {
		return errors.Wrap(err, "sendFragment")
	}
	if mb.Cmd != wire.CmdAck {
		return fmt.Errorf("veo: unexpected reply %s to SENDBUFF", mb.Cmd)
	}
	return nil
}

func (c *Context) recvFragment(src uint64, dst []byte) error {
	reqID, err := c.peer.Send(wire.CmdRecvBuff, "LLL", src, uint64(0), uint64(len(dst)))
	if err != nil {
		return err
	}
	mb, payload, err := c.peer.RecvTimeout(reqID, constants.ReplyTimeout)
	if err != nil {
		return errors.Wrap(err, "recvFragment")
	}
	if mb.Cmd != wire.CmdAck {
		return fmt.Errorf("veo: unexpected reply %s to RECVBUFF", mb.Cmd)
	}
	var unusedDst uint64
	var data []byte
	if err := wire.Unpack(payload, "LP", &unusedDst, &data); err != nil {
		return errors.Wrap(err, "recvFragment: decode")
	}
	copy(dst, data)
	return nil
}

// AllocAsync and FreeAsync are the context-bound async forms of buffer
// allocation, driven through the same request/completion pipeline as a
// call rather than Proc's blocking AllocBuff/FreeBuff.
func (c *Context) AllocAsync(size uint64) (uint64, error) {
	return c.simpleAsync(wire.CmdAlloc, "L", size)
}

func (c *Context) FreeAsync(addr uint64) (uint64, error) {
	return c.simpleAsync(wire.CmdFree, "L", addr)
}

func (c *Context) simpleAsync(cmd wire.Cmd, format string, args ...any) (uint64, error) {
	if c.State() == StateExit {
		return constants.InvalidRequestID, newError("simpleAsync", ErrClosed, "context is closed")
	}
	id := c.issueRequestID()
	qcmd := queue.NewCommand(id,
		func(qcmd *queue.Command) error {
			reqID, err := c.peer.Send(cmd, format, args...)
			if err != nil {
				return err
			}
			qcmd.SetURPCReq(int64(reqID))
			return nil
		},
		func(qcmd *queue.Command, replyCmd uint32, payload []byte) error {
			var result uint64
			if len(payload) >= 8 {
				_ = wire.Unpack(payload, "L", &result)
			}
			qcmd.SetResult(result, queue.StatusOK)
			return nil
		},
	)
	if !c.q.PushRequest(qcmd) {
		return constants.InvalidRequestID, newError("simpleAsync", ErrClosed, "request queue closed")
	}
	if err := c.Progress(0); err != nil {
		return constants.InvalidRequestID, err
	}
	return id, nil
}

// CallPeekResult reports id's current status without blocking: Unfinished
// if it is still outstanding, OK/Error/Exception (consuming the completion
// entry) otherwise, or an error if id was never issued or was already
// consumed by an earlier peek/wait.
func (c *Context) CallPeekResult(id uint64) (Status, uint64, error) {
	if cmd := c.q.PeekCompletion(id); cmd != nil {
		c.reqMtx.Lock()
		delete(c.outstanding, id)
		c.reqMtx.Unlock()
		return cmd.Status(), cmd.Result(), nil
	}

	c.reqMtx.Lock()
	_, known := c.outstanding[id]
	c.reqMtx.Unlock()
	if !known {
		return StatusError, 0, newError("CallPeekResult", ErrInvalidArgument, fmt.Sprintf("request %d was never issued or already consumed", id))
	}

	if err := c.Progress(1); err != nil {
		return StatusError, 0, err
	}
	return StatusUnfinished, 0, nil
}

// CallWaitResult busy-polls CallPeekResult until id resolves.
func (c *Context) CallWaitResult(id uint64) (Status, uint64, error) {
	for {
		status, result, err := c.CallPeekResult(id)
		if err != nil || status != StatusUnfinished {
			return status, result, err
		}
	}
}

// Close sends EXIT, waits for the worker's ACK (or times out), and tears
// down the transport peer. A second Close on an already-Exit context is a
// no-op that performs no transport I/O.
func (c *Context) Close() error {
	if c.State() == StateExit {
		return nil
	}
	var closeErr error
	c.closeOnce.Do(func() {
		reqID, err := c.peer.Send(wire.CmdExit, "")
		if err == nil {
			_, _, err = c.peer.RecvTimeout(reqID, constants.ReplyTimeout)
		}
		c.enterExit()
		c.q.CancelAll()
		c.q.Close()
		c.reqMtx.Lock()
		c.outstanding = make(map[uint64]struct{})
		c.reqMtx.Unlock()
		if cerr := c.peer.Close(); cerr != nil && err == nil {
			err = cerr
		}
		closeErr = err
	})
	return closeErr
}
