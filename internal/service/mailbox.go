package service

import "sync"

type streamKind int

const (
	captureStream streamKind = iota
	playbackStream
)

// deviceEvent is a completion callback waiting to be handled on the controller goroutine
type deviceEvent struct {
	kind       streamKind
	generation uint64
	success    bool
	err        error
}

// mailbox is an unbounded queue, so device callbacks never block even when
// they fire synchronously from inside a device call made by the controller.
type mailbox struct {
	mutex  sync.Mutex
	queue  []deviceEvent
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev deviceEvent) {
	m.mutex.Lock()
	m.queue = append(m.queue, ev)
	m.mutex.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []deviceEvent {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	events := m.queue
	m.queue = nil
	return events
}
