package upload

import "sync"

// EventType distinguishes progress updates from the terminal result.
type EventType string

const (
	// EventProgress carries a transfer fraction.
	EventProgress EventType = "progress"
	// EventResult is the single terminal event of a stream.
	EventResult EventType = "result"
)

// Outcome is the terminal result published on a Stream.
type Outcome struct {
	// State is the terminal state name of the operation.
	State string `json:"state"`
	// Ref is the public reference of the uploaded media, if any.
	Ref string `json:"ref,omitempty"`
	// ErrorKind classifies a failure, empty on success.
	ErrorKind string `json:"error_kind,omitempty"`
	// Reason is the enumerated failure reason, if any.
	Reason string `json:"reason,omitempty"`
	// Message is a human readable failure description.
	Message string `json:"message,omitempty"`
}

// Event is one element of a progress stream.
type Event struct {
	Type     EventType `json:"type"`
	Attempt  int       `json:"attempt,omitempty"`
	Fraction float64   `json:"fraction"`
	Retrying bool      `json:"retrying,omitempty"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
}

const subscriberBuffer = 64

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Stream is a finite, non-restartable sequence of progress events terminated
// by exactly one result event. Subscribers that fall behind miss intermediate
// progress events but always receive the result.
type Stream struct {
	mu     sync.Mutex
	latest *Event
	result *Event
	subs   map[*subscriber]struct{}
}

// NewStream creates an open stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[*subscriber]struct{})}
}

// Publish records a progress update. Updates after Close are ignored.
func (s *Stream) Publish(p Progress) {
	ev := Event{Type: EventProgress, Attempt: p.Attempt, Fraction: p.Fraction, Retrying: p.Retrying}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return
	}
	s.latest = &ev
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close publishes the terminal outcome and ends the stream. It returns false
// if the stream was already closed.
func (s *Stream) Close(o Outcome) bool {
	ev := Event{Type: EventResult, Outcome: &o}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return false
	}
	if s.latest != nil {
		ev.Attempt = s.latest.Attempt
		ev.Fraction = s.latest.Fraction
	}
	s.result = &ev
	for sub := range s.subs {
		go deliver(sub, ev)
	}
	s.subs = nil
	return true
}

// Closed reports whether the result event was published.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result != nil
}

// Latest returns the most recent event, the result once the stream is closed.
func (s *Stream) Latest() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.result != nil:
		return *s.result, true
	case s.latest != nil:
		return *s.latest, true
	default:
		return Event{}, false
	}
}

// Subscribe returns a channel of events and a function to stop receiving.
// The latest known progress is replayed first. The channel is closed after
// the result event, or when the returned cancel function is called.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result != nil {
		if s.latest != nil {
			sub.ch <- *s.latest
		}
		sub.ch <- *s.result
		close(sub.ch)
		return sub.ch, sub.stop
	}

	if s.latest != nil {
		sub.ch <- *s.latest
	}
	s.subs[sub] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		_, active := s.subs[sub]
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.stop()
		if active {
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// deliver sends the result and closes the subscriber channel, unless the
// subscriber went away.
func deliver(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
	case <-sub.done:
	}
	close(sub.ch)
}
