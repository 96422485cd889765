package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/veoffload/veo-host/internal/constants"
	"github.com/veoffload/veo-host/internal/interfaces"
	"github.com/veoffload/veo-host/internal/wire"
)

// processPeer is the real Peer implementation: a worker binary launched via
// os/exec, talking frames over its stdin/stdout pipes. For the attach
// handshake the host sends nothing: it waits for the first frame the worker
// sends with request ID 0 once its own event loop comes up.
type processPeer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	writeMu sync.Mutex // guards stdin writes; only one frame in flight at a time
	nextID  atomic.Uint64

	// queue buffers every reply the read loop has decoded but no caller has
	// yet claimed, the same FIFO discipline SimulatorPeer uses: RecvTimeout
	// scans it for a specific request id, PollNextReply pops whatever is at
	// the front.
	mu      sync.Mutex
	queue   []pendingReply
	readErr error
	closed  atomic.Bool
	logger  interfaces.Logger
}

type pendingReply struct {
	mb      wire.Mailbox
	payload []byte
}

// PeerCreate launches binPath as a worker process bound to the given VE
// node/core pair (passed through the environment the way VEORUN_BIN
// consumers expect) and waits for its attach handshake.
func PeerCreate(nodeID, coreID int, binPath string, logger interfaces.Logger) (Peer, error) {
	if binPath == "" {
		return nil, fmt.Errorf("transport: empty worker binary path")
	}
	cmd := exec.Command(binPath)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("VE_NODE_NUMBER=%d", nodeID),
		fmt.Sprintf("VE_CORE_NUMBER=%d", coreID),
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if logger != nil {
		logger.Debugf("launching worker %q (node=%d core=%d, io_uring=%v)", binPath, nodeID, coreID, ioUringAvailable())
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start worker: %w", err)
	}

	if coreID >= 0 {
		if err := pinToCore(cmd.Process.Pid, coreID); err != nil && logger != nil {
			logger.Debugf("core pinning unavailable for pid %d core %d: %v", cmd.Process.Pid, coreID, err)
		}
	}

	p := &processPeer{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: logger,
	}
	go p.readLoop()

	if _, _, err := p.RecvTimeout(0, constants.AttachTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("transport: attach handshake: %w", err)
	}
	return p, nil
}

// pinToCore binds pid's scheduling affinity to a single core, the same
// unix.CPUSet/SchedSetaffinity pairing the reference queue runner uses to
// pin its polling goroutines to a fixed CPU.
func pinToCore(pid, core int) error {
	var mask unix.CPUSet
	mask.Set(core)
	return unix.SchedSetaffinity(pid, &mask)
}

func (p *processPeer) readLoop() {
	for {
		header := make([]byte, wire.HeaderSize)
		if _, err := io.ReadFull(p.stdout, header); err != nil {
			p.setReadErr(err)
			return
		}
		mb, err := wire.DecodeHeader(header)
		if err != nil {
			p.setReadErr(err)
			return
		}
		lenBuf := make([]byte, 8)
		if _, err := io.ReadFull(p.stdout, lenBuf); err != nil {
			p.setReadErr(err)
			return
		}
		plen := int(binary.LittleEndian.Uint64(lenBuf))
		payload := make([]byte, plen)
		if plen > 0 {
			if _, err := io.ReadFull(p.stdout, payload); err != nil {
				p.setReadErr(err)
				return
			}
		}

		p.mu.Lock()
		p.queue = append(p.queue, pendingReply{mb: mb, payload: payload})
		p.mu.Unlock()
	}
}

func (p *processPeer) setReadErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr == nil {
		p.readErr = err
	}
}

func (p *processPeer) Send(cmd wire.Cmd, format string, args ...any) (uint64, error) {
	if p.closed.Load() {
		return 0, fmt.Errorf("transport: peer closed")
	}
	payload, err := wire.Pack(format, args...)
	if err != nil {
		return 0, err
	}
	reqID := p.nextID.Add(1)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	header := wire.EncodeHeader(wire.Mailbox{Cmd: cmd, RequestID: reqID})
	if _, err := p.stdin.Write(header); err != nil {
		return 0, err
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := p.stdin.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if len(payload) > 0 {
		if _, err := p.stdin.Write(payload); err != nil {
			return 0, err
		}
	}
	return reqID, nil
}

func (p *processPeer) RecvTimeout(reqID uint64, timeout time.Duration) (wire.Mailbox, []byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		for i, r := range p.queue {
			if r.mb.RequestID == reqID {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				p.mu.Unlock()
				return r.mb, r.payload, nil
			}
		}
		readErr := p.readErr
		p.mu.Unlock()
		if readErr != nil {
			return wire.Mailbox{}, nil, fmt.Errorf("transport: connection closed waiting for reply: %w", readErr)
		}
		if time.Now().After(deadline) {
			return wire.Mailbox{}, nil, fmt.Errorf("transport: timed out waiting for reply to request %d", reqID)
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *processPeer) PollNextReply() (wire.Mailbox, []byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return wire.Mailbox{}, nil, false, p.readErr
	}
	if len(p.queue) == 0 {
		return wire.Mailbox{}, nil, false, nil
	}
	r := p.queue[0]
	p.queue = p.queue[1:]
	return r.mb, r.payload, true, nil
}

func (p *processPeer) MaxSendPayload() int { return constants.DefaultFragmentSize }

// Close tears down the worker process and its pipes. It does not send its
// own EXIT frame: Context.Close already performs the EXIT handshake before
// calling Close, and a second EXIT would be sent into a worker that's
// already tearing down.
func (p *processPeer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	_ = p.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-done
	}
	return nil
}
