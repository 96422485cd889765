package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/veoffload/veo-host/internal/wire"
)

func TestSimulatorPeer_LoadLibGetSymCall(t *testing.T) {
	s := NewSimulatorPeer()

	reqID, err := s.Send(wire.CmdLoadLib, "P", []byte("libhello.so"))
	if err != nil {
		t.Fatalf("Send LOADLIB: %v", err)
	}
	mb, payload, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout LOADLIB: %v", err)
	}
	if mb.Cmd != wire.CmdResult {
		t.Fatalf("LOADLIB reply cmd = %s, want RESULT", mb.Cmd)
	}
	var libhdl uint64
	if err := wire.Unpack(payload, "L", &libhdl); err != nil {
		t.Fatalf("Unpack LOADLIB reply: %v", err)
	}
	if libhdl == 0 {
		t.Fatal("expected non-zero library handle")
	}

	reqID, err = s.Send(wire.CmdGetSym, "LP", libhdl, []byte("hello"))
	if err != nil {
		t.Fatalf("Send GETSYM: %v", err)
	}
	mb, payload, err = s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout GETSYM: %v", err)
	}
	if mb.Cmd != wire.CmdResult {
		t.Fatalf("GETSYM reply cmd = %s, want RESULT", mb.Cmd)
	}
	var addr uint64
	if err := wire.Unpack(payload, "L", &addr); err != nil {
		t.Fatalf("Unpack GETSYM reply: %v", err)
	}
	if addr == 0 {
		t.Fatal("expected hello symbol to resolve to a non-zero address")
	}

	reqID, err = s.Send(wire.CmdCall, "LP", addr, []byte{})
	if err != nil {
		t.Fatalf("Send CALL: %v", err)
	}
	mb, payload, err = s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout CALL: %v", err)
	}
	if mb.Cmd != wire.CmdResult {
		t.Fatalf("CALL reply cmd = %s, want RESULT", mb.Cmd)
	}
	var retval uint64
	if err := wire.Unpack(payload, "L", &retval); err != nil {
		t.Fatalf("Unpack CALL reply: %v", err)
	}
	if retval != 42 {
		t.Errorf("hello() = %d, want 42", retval)
	}
}

func TestSimulatorPeer_GetSymUnknownReturnsZero(t *testing.T) {
	s := NewSimulatorPeer()
	reqID, err := s.Send(wire.CmdGetSym, "LP", uint64(1), []byte("does_not_exist"))
	if err != nil {
		t.Fatalf("Send GETSYM: %v", err)
	}
	_, payload, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	var addr uint64
	if err := wire.Unpack(payload, "L", &addr); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if addr != 0 {
		t.Errorf("unknown symbol resolved to 0x%x, want 0", addr)
	}
}

func TestSimulatorPeer_XorbufMutatesStack(t *testing.T) {
	s := NewSimulatorPeer()
	addr, ok := s.symbols["xorbuf"]
	if !ok {
		t.Fatal("xorbuf not registered")
	}
	in := []byte{0x00, 0xFF, 0x0F}
	reqID, err := s.Send(wire.CmdCall, "LP", addr, in)
	if err != nil {
		t.Fatalf("Send CALL: %v", err)
	}
	mb, payload, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	if mb.Cmd != wire.CmdResultStk {
		t.Fatalf("xorbuf reply cmd = %s, want RES_STK", mb.Cmd)
	}
	var retval uint64
	var out []byte
	if err := wire.Unpack(payload, "LP", &retval, &out); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	want := []byte{0xFF, 0x00, 0xF0}
	if !bytes.Equal(out, want) {
		t.Errorf("xorbuf output = %x, want %x", out, want)
	}
}

func TestSimulatorPeer_BoomRaisesException(t *testing.T) {
	s := NewSimulatorPeer()
	addr := s.symbols["boom"]
	reqID, err := s.Send(wire.CmdCall, "LP", addr, []byte{})
	if err != nil {
		t.Fatalf("Send CALL: %v", err)
	}
	mb, _, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	if mb.Cmd != wire.CmdException {
		t.Fatalf("boom reply cmd = %s, want EXCEPTION", mb.Cmd)
	}
}

func TestSimulatorPeer_CallUnknownAddressRaisesException(t *testing.T) {
	s := NewSimulatorPeer()
	reqID, err := s.Send(wire.CmdCall, "LP", uint64(0xdeadbeef), []byte{})
	if err != nil {
		t.Fatalf("Send CALL: %v", err)
	}
	mb, _, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	if mb.Cmd != wire.CmdException {
		t.Fatalf("reply cmd = %s, want EXCEPTION", mb.Cmd)
	}
}

func TestSimulatorPeer_AllocFreeSendRecvBuff(t *testing.T) {
	s := NewSimulatorPeer()

	reqID, err := s.Send(wire.CmdAlloc, "L", uint64(64))
	if err != nil {
		t.Fatalf("Send ALLOC: %v", err)
	}
	_, payload, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout ALLOC: %v", err)
	}
	var addr uint64
	if err := wire.Unpack(payload, "L", &addr); err != nil {
		t.Fatalf("Unpack ALLOC reply: %v", err)
	}
	if addr == 0 {
		t.Fatal("expected non-zero allocation address")
	}

	data := []byte("the quick brown fox")
	reqID, err = s.Send(wire.CmdSendBuff, "LP", addr, data)
	if err != nil {
		t.Fatalf("Send SENDBUFF: %v", err)
	}
	if mb, _, err := s.RecvTimeout(reqID, time.Second); err != nil || mb.Cmd != wire.CmdAck {
		t.Fatalf("SENDBUFF reply = %+v, err %v", mb, err)
	}

	reqID, err = s.Send(wire.CmdRecvBuff, "LLL", addr, uint64(0), uint64(len(data)))
	if err != nil {
		t.Fatalf("Send RECVBUFF: %v", err)
	}
	mb, payload, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout RECVBUFF: %v", err)
	}
	if mb.Cmd != wire.CmdAck {
		t.Fatalf("RECVBUFF reply cmd = %s, want ACK", mb.Cmd)
	}
	var dst uint64
	var got []byte
	if err := wire.Unpack(payload, "LP", &dst, &got); err != nil {
		t.Fatalf("Unpack RECVBUFF reply: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round-tripped buffer = %q, want %q", got, data)
	}

	reqID, err = s.Send(wire.CmdFree, "L", addr)
	if err != nil {
		t.Fatalf("Send FREE: %v", err)
	}
	if mb, _, err := s.RecvTimeout(reqID, time.Second); err != nil || mb.Cmd != wire.CmdResult {
		t.Fatalf("FREE reply = %+v, err %v", mb, err)
	}
}

func TestSimulatorPeer_PollNextReplyDrainsQueueInOrder(t *testing.T) {
	s := NewSimulatorPeer()
	first, _ := s.Send(wire.CmdPing, "")
	second, _ := s.Send(wire.CmdPing, "")

	mb, _, ok, err := s.PollNextReply()
	if err != nil || !ok {
		t.Fatalf("PollNextReply: ok=%v err=%v", ok, err)
	}
	if mb.RequestID != first {
		t.Errorf("first reply request id = %d, want %d", mb.RequestID, first)
	}

	mb, _, ok, err = s.PollNextReply()
	if err != nil || !ok {
		t.Fatalf("PollNextReply: ok=%v err=%v", ok, err)
	}
	if mb.RequestID != second {
		t.Errorf("second reply request id = %d, want %d", mb.RequestID, second)
	}

	if _, _, ok, _ := s.PollNextReply(); ok {
		t.Fatal("expected queue to be drained")
	}
}

func TestSimulatorPeer_RegisterFuncOverridesBuiltin(t *testing.T) {
	s := NewSimulatorPeer()
	addr := s.RegisterFunc("hello", func(stack []byte) (uint64, []byte, bool) {
		return 7, nil, false
	})
	reqID, err := s.Send(wire.CmdCall, "LP", addr, []byte{})
	if err != nil {
		t.Fatalf("Send CALL: %v", err)
	}
	_, payload, err := s.RecvTimeout(reqID, time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	var retval uint64
	if err := wire.Unpack(payload, "L", &retval); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if retval != 7 {
		t.Errorf("overridden hello() = %d, want 7", retval)
	}
}

func TestSimulatorPeer_SendAfterCloseErrors(t *testing.T) {
	s := NewSimulatorPeer()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Send(wire.CmdPing, ""); err == nil {
		t.Fatal("expected Send on a closed peer to error")
	}
}

func TestSimulatorPeer_RecvTimeoutExpiresForUnknownRequest(t *testing.T) {
	s := NewSimulatorPeer()
	if _, _, err := s.RecvTimeout(999999, 10*time.Millisecond); err == nil {
		t.Fatal("expected timeout error for a request with no pending reply")
	}
}

func TestSimulatorPeer_MaxSendPayload(t *testing.T) {
	s := NewSimulatorPeer()
	if s.MaxSendPayload() <= 0 {
		t.Fatal("expected a positive max send payload")
	}
}
