package queue

import "sync"

// BlockingMap is the completion map: requests land here once their reply
// has been processed, keyed by request ID, to be collected later by
// CallPeekResult/CallWaitResult.
type BlockingMap struct {
	mu    sync.Mutex
	items map[uint64]*Command
}

// NewBlockingMap returns an empty completion map.
func NewBlockingMap() *BlockingMap {
	return &BlockingMap{items: make(map[uint64]*Command)}
}

// Insert records a completed command under its ID.
func (m *BlockingMap) Insert(cmd *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[cmd.ID] = cmd
}

// TryFind removes and returns the command for id, or nil if not present.
func (m *BlockingMap) TryFind(id uint64) *Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.items[id]
	if !ok {
		return nil
	}
	delete(m.items, id)
	return cmd
}

// Empty reports whether no completions are currently buffered.
func (m *BlockingMap) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) == 0
}

// DrainAll removes and returns every buffered completion.
func (m *BlockingMap) DrainAll() []*Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Command, 0, len(m.items))
	for _, cmd := range m.items {
		out = append(out, cmd)
	}
	m.items = make(map[uint64]*Command)
	return out
}
