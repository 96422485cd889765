package queue

// CommQueue composes the three stages a command moves through: queued
// request, single-slot in-flight, and completion. Only one command may
// occupy the in-flight slot at a time per context, matching the transport's
// one-outstanding-send-per-peer discipline.
type CommQueue struct {
	Request    BlockingQueue
	InFlight   BlockingQueue
	Completion BlockingMap
}

// NewCommQueue returns an empty CommQueue.
func NewCommQueue() *CommQueue {
	return &CommQueue{Completion: *NewBlockingMap()}
}

func (q *CommQueue) PushRequest(cmd *Command) bool      { return q.Request.Push(cmd) }
func (q *CommQueue) PushRequestFront(cmd *Command) bool { return q.Request.PushFront(cmd) }
func (q *CommQueue) PopRequest() *Command               { return q.Request.TryPop() }
func (q *CommQueue) EmptyRequest() bool                 { return q.Request.Empty() }

func (q *CommQueue) PushInFlight(cmd *Command) bool { return q.InFlight.Push(cmd) }
func (q *CommQueue) PopInFlight() *Command          { return q.InFlight.TryPop() }
func (q *CommQueue) EmptyInFlight() bool            { return q.InFlight.Empty() }

func (q *CommQueue) PushCompletion(cmd *Command) { q.Completion.Insert(cmd) }
func (q *CommQueue) PeekCompletion(id uint64) *Command {
	return q.Completion.TryFind(id)
}

// CancelAll drains every request and in-flight command into the completion
// map marked StatusError, so any caller blocked in CallWaitResult observes
// termination instead of waiting forever. Used when a context transitions
// to Exit mid-flight.
func (q *CommQueue) CancelAll() {
	for _, cmd := range q.Request.DrainAll() {
		cmd.SetResult(0, StatusError)
		q.Completion.Insert(cmd)
	}
	for _, cmd := range q.InFlight.DrainAll() {
		cmd.SetResult(0, StatusError)
		q.Completion.Insert(cmd)
	}
}

// Close closes the request and in-flight queues so no further commands may
// be enqueued once a context has exited.
func (q *CommQueue) Close() {
	q.Request.Close()
	q.InFlight.Close()
}
