package uploader

import "sync"

// message is anything posted to the run loop: I/O completions and commands.
type message any

// mailbox is an unbounded queue with a single consumer. Posting never blocks, so
// goroutines and listeners can post while the loop is busy.
type mailbox struct {
	mu    sync.Mutex
	items []message
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg message) {
	m.mu.Lock()
	m.items = append(m.items, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// drain removes and returns every posted message in posting order.
func (m *mailbox) drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) ready() <-chan struct{} {
	return m.wake
}
