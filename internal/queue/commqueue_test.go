package queue

import "testing"

func newTestCommand(id uint64) *Command {
	return NewCommand(id, func(c *Command) error { return nil }, nil)
}

func TestCommQueue_RequestToInFlightToCompletion(t *testing.T) {
	q := NewCommQueue()

	cmd := newTestCommand(1)
	if !q.PushRequest(cmd) {
		t.Fatal("PushRequest returned false on open queue")
	}
	if q.EmptyRequest() {
		t.Fatal("expected non-empty request queue")
	}

	popped := q.PopRequest()
	if popped.ID != 1 {
		t.Fatalf("popped ID = %d, want 1", popped.ID)
	}
	if !q.EmptyRequest() {
		t.Fatal("expected empty request queue after pop")
	}

	if !q.PushInFlight(popped) {
		t.Fatal("PushInFlight returned false")
	}
	if q.EmptyInFlight() {
		t.Fatal("expected non-empty in-flight queue")
	}

	inflight := q.PopInFlight()
	inflight.SetResult(42, StatusOK)
	q.PushCompletion(inflight)

	done := q.PeekCompletion(1)
	if done == nil {
		t.Fatal("expected completion for id 1")
	}
	if done.Result() != 42 || done.Status() != StatusOK {
		t.Fatalf("unexpected completion state: result=%d status=%d", done.Result(), done.Status())
	}

	// A second peek for the same id must miss: completions are consumed once.
	if q.PeekCompletion(1) != nil {
		t.Fatal("expected completion to be consumed on first peek")
	}
}

func TestCommQueue_PushRequestFrontOrdering(t *testing.T) {
	q := NewCommQueue()
	q.PushRequest(newTestCommand(1))
	q.PushRequestFront(newTestCommand(2))

	first := q.PopRequest()
	if first.ID != 2 {
		t.Fatalf("expected front-pushed command first, got %d", first.ID)
	}
	second := q.PopRequest()
	if second.ID != 1 {
		t.Fatalf("expected originally-pushed command second, got %d", second.ID)
	}
}

func TestCommQueue_CancelAll(t *testing.T) {
	q := NewCommQueue()
	q.PushRequest(newTestCommand(1))
	q.PushRequest(newTestCommand(2))
	inflight := newTestCommand(3)
	q.PushInFlight(inflight)

	q.CancelAll()

	if !q.EmptyRequest() || !q.EmptyInFlight() {
		t.Fatal("expected request and in-flight queues drained after CancelAll")
	}
	for _, id := range []uint64{1, 2, 3} {
		cmd := q.PeekCompletion(id)
		if cmd == nil {
			t.Fatalf("expected id %d to land in completion map as an error", id)
		}
		if cmd.Status() != StatusError {
			t.Fatalf("expected StatusError for id %d, got %d", id, cmd.Status())
		}
	}
}

func TestCommQueue_CloseRejectsFurtherPushes(t *testing.T) {
	q := NewCommQueue()
	q.Close()
	if q.PushRequest(newTestCommand(1)) {
		t.Fatal("expected PushRequest to fail after Close")
	}
	if q.PushInFlight(newTestCommand(1)) {
		t.Fatal("expected PushInFlight to fail after Close")
	}
}

func TestBlockingMap_TryFindMissReturnsNil(t *testing.T) {
	m := NewBlockingMap()
	if m.TryFind(99) != nil {
		t.Fatal("expected nil for missing id")
	}
	if !m.Empty() {
		t.Fatal("expected empty map")
	}
}
