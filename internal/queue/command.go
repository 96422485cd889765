// Package queue implements the request/in-flight/completion command
// pipeline a Context drives on every progress step, grounded on the
// producer/consumer discipline the reference runtime's queue runner uses
// to serialize exactly one submission per slot at a time.
package queue

// Status is the lifecycle state of a Command.
type Status int

const (
	StatusUnfinished Status = iota
	StatusOK
	StatusError
	StatusException
)

// Command is one queued unit of work: a submit step that hands the request
// to the transport, and a complete step that consumes the matching reply.
// isHostOnly commands do all their work in the submit step and never enter
// the in-flight queue: VH callbacks run entirely on the host, while the
// fragmented-transfer and large-call coordinators run their own
// send/receive exchanges with the transport from inside that step.
type Command struct {
	ID uint64
	// Submit hands the request to the transport (or, for a host-only
	// command, performs its work directly).
	Submit func(*Command) error
	// Complete consumes the reply frame matching this command: replyCmd is
	// the wire command code the reply carried (RESULT, RES_STK, EXCEPTION),
	// passed as a plain uint32 so this package does not need to depend on
	// the wire package.
	Complete   func(cmd *Command, replyCmd uint32, payload []byte) error
	IsHostOnly bool

	urpcReq int64 // -1 until the submit step hands it to the transport
	status  Status
	result  uint64
}

// NewCommand builds a Command around the given submit/complete closures.
// complete may be nil for host-only commands that never see a transport
// reply; the Command base class it mirrors keeps both entry points
// independently overridable.
func NewCommand(id uint64, submit func(*Command) error, complete func(cmd *Command, replyCmd uint32, payload []byte) error) *Command {
	return &Command{
		ID:       id,
		Submit:   submit,
		Complete: complete,
		urpcReq:  -1,
		status:   StatusUnfinished,
	}
}

func (c *Command) SetURPCReq(req int64) { c.urpcReq = req }
func (c *Command) URPCReq() int64       { return c.urpcReq }

func (c *Command) SetResult(result uint64, status Status) {
	c.result = result
	c.status = status
}

func (c *Command) Result() uint64 { return c.result }
func (c *Command) Status() Status { return c.status }
