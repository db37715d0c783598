package local

import (
	"sync"
	"time"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

type eventKind int

const (
	eventData eventKind = iota
	eventWarning
	eventStatus
	eventComplete
	eventException
	eventFail
)

// workEvent is a worker report travelling back to the submitting client.
type workEvent struct {
	taskID      uint64
	kind        eventKind
	payload     []byte
	numerator   uint32
	denominator uint32
}

// mailbox is an unbounded FIFO of work events. Senders never block, so a
// worker can report to a client that is not currently running its loop.
type mailbox struct {
	mu    sync.Mutex
	items []workEvent
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{})}
}

func (m *mailbox) put(ev workEvent) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	close(m.wake)
	m.wake = make(chan struct{})
	m.mu.Unlock()
}

// next pops the oldest event. It returns StatusIOWait when nonBlocking is
// set and the mailbox is empty, and StatusTimeout when timeout elapses.
// A non-positive timeout waits forever.
func (m *mailbox) next(timeout time.Duration, nonBlocking bool) (workEvent, engine.Status) {
	var deadline <-chan time.Time
	if timeout > 0 && !nonBlocking {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			ev := m.items[0]
			m.items[0] = workEvent{}
			m.items = m.items[1:]
			m.mu.Unlock()
			return ev, engine.StatusSuccess
		}
		wake := m.wake
		m.mu.Unlock()

		if nonBlocking {
			return workEvent{}, engine.StatusIOWait
		}

		select {
		case <-wake:
		case <-deadline:
			return workEvent{}, engine.StatusTimeout
		}
	}
}
