package stream

import "sync"

// Subscriber receives the events of the topics it is on. Delivery never
// blocks the publisher: when the buffer is full the event is dropped and
// counted.
type Subscriber struct {
	id string
	ch chan *Event

	mu      sync.Mutex
	closed  bool
	dropped int64
}

func newSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{id: id, ch: make(chan *Event, bufferSize)}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed
// or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns the number of events lost to a full buffer.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) send(evt *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped++
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
