package device

import (
	"sync"
)

// mailbox is an unbounded FIFO of closures drained by a single goroutine. Posting never
// blocks, so engine callbacks can hand off without waiting on the actor.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// post enqueues fn. It reports false once the mailbox is closed.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// run executes posted closures in order until close is called and the queue is empty.
func (m *mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.signal
			continue
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
	}
}

// close stops accepting closures. Closures already queued still run.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}
