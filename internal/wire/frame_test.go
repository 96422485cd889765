package wire

import (
	"bytes"
	"testing"
)

func TestPackUnpack_RoundTrip(t *testing.T) {
	payload, err := Pack("LIP", uint64(42), int32(-7), []byte("hello"))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	var l uint64
	var i int32
	var p []byte
	if err := Unpack(payload, "LIP", &l, &i, &p); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if l != 42 {
		t.Errorf("l = %d, want 42", l)
	}
	if i != -7 {
		t.Errorf("i = %d, want -7", i)
	}
	if !bytes.Equal(p, []byte("hello")) {
		t.Errorf("p = %q, want %q", p, "hello")
	}
}

func TestPack_ArgCountMismatch(t *testing.T) {
	if _, err := Pack("LL", uint64(1)); err == nil {
		t.Fatal("expected error for mismatched arg count")
	}
}

func TestUnpack_TruncatedPayload(t *testing.T) {
	var l uint64
	if err := Unpack([]byte{1, 2, 3}, "L", &l); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestUnpack_PTokenTruncatedLength(t *testing.T) {
	payload, _ := Pack("P", []byte("x"))
	var p []byte
	if err := Unpack(payload[:len(payload)-1], "P", &p); err == nil {
		t.Fatal("expected error for truncated P body")
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	mb := Mailbox{Cmd: CmdCall, RequestID: 123456}
	buf := EncodeHeader(mb)
	if len(buf) != HeaderSize {
		t.Fatalf("encoded header len = %d, want %d", len(buf), HeaderSize)
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != mb {
		t.Errorf("got %+v, want %+v", got, mb)
	}
}

func TestDecodeHeader_ShortBuffer(t *testing.T) {
	if _, err := DecodeHeader([]byte{1, 2, 3}); err != ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestCmd_String(t *testing.T) {
	if CmdCall.String() != "CALL" {
		t.Errorf("CmdCall.String() = %q, want CALL", CmdCall.String())
	}
	if Cmd(999).String() != "UNKNOWN" {
		t.Errorf("unknown cmd String() = %q, want UNKNOWN", Cmd(999).String())
	}
}
