// Package wire implements the frame format exchanged between the host and
// the worker process: a command code, a format string describing the
// payload's layout, and the encoded payload bytes.
package wire

// Cmd identifies the kind of frame crossing the transport. Values match the
// reference runtime's wire enumeration so a trace of raw frames can be
// cross-checked against it.
type Cmd uint32

const (
	CmdNone      Cmd = 0
	CmdPing      Cmd = 1
	CmdExit      Cmd = 2
	CmdAck       Cmd = 3
	CmdResult    Cmd = 4
	CmdResultStk Cmd = 5
	CmdException Cmd = 6
	CmdLoadLib   Cmd = 7
	CmdUnloadLib Cmd = 8
	CmdGetSym    Cmd = 9
	CmdAlloc     Cmd = 10
	CmdFree      Cmd = 11
	CmdSendBuff  Cmd = 12
	CmdRecvBuff  Cmd = 13
	CmdCall      Cmd = 14
	CmdCallStkIn    Cmd = 15
	CmdCallStkOut   Cmd = 16
	CmdCallStkInOut Cmd = 17
	CmdNewPeer      Cmd = 19
)

func (c Cmd) String() string {
	switch c {
	case CmdNone:
		return "NONE"
	case CmdPing:
		return "PING"
	case CmdExit:
		return "EXIT"
	case CmdAck:
		return "ACK"
	case CmdResult:
		return "RESULT"
	case CmdResultStk:
		return "RES_STK"
	case CmdException:
		return "EXCEPTION"
	case CmdLoadLib:
		return "LOADLIB"
	case CmdUnloadLib:
		return "UNLOADLIB"
	case CmdGetSym:
		return "GETSYM"
	case CmdAlloc:
		return "ALLOC"
	case CmdFree:
		return "FREE"
	case CmdSendBuff:
		return "SENDBUFF"
	case CmdRecvBuff:
		return "RECVBUFF"
	case CmdCall:
		return "CALL"
	case CmdCallStkIn:
		return "CALL_STKIN"
	case CmdCallStkOut:
		return "CALL_STKOUT"
	case CmdCallStkInOut:
		return "CALL_STKINOUT"
	case CmdNewPeer:
		return "NEWPEER"
	default:
		return "UNKNOWN"
	}
}

// Mailbox is the small fixed header every frame carries ahead of its
// payload: which command it is, and the request ID it answers. Every
// request the host sends, PING included, gets an ID of 1 or more and its
// reply carries the same ID; zero marks a frame that answers no request,
// such as the worker's attach signal.
type Mailbox struct {
	Cmd       Cmd
	RequestID uint64
}
