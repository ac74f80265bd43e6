package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}
}

func TestStream_EndsWithExactlyOneResult(t *testing.T) {
	s := NewStream()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(Progress{Attempt: 1, Fraction: 0})
	s.Publish(Progress{Attempt: 1, Fraction: 0.5})
	require.True(t, s.Close(Outcome{State: "COMMITTED", Ref: "https://cdn/x"}))
	assert.False(t, s.Close(Outcome{State: "FAILED"}), "a stream closes once")
	s.Publish(Progress{Attempt: 1, Fraction: 0.9})

	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, EventProgress, events[0].Type)
	assert.Equal(t, 0.5, events[1].Fraction)

	last := events[2]
	assert.Equal(t, EventResult, last.Type)
	require.NotNil(t, last.Outcome)
	assert.Equal(t, "COMMITTED", last.Outcome.State)
	assert.Equal(t, "https://cdn/x", last.Outcome.Ref)
}

func TestStream_LateSubscriberGetsLatestAndResult(t *testing.T) {
	s := NewStream()
	s.Publish(Progress{Attempt: 2, Fraction: 0.25})
	s.Publish(Progress{Attempt: 2, Fraction: 1})
	s.Close(Outcome{State: "FAILED", ErrorKind: "transfer"})

	ch, cancel := s.Subscribe()
	defer cancel()

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventProgress, Attempt: 2, Fraction: 1}, events[0])
	assert.Equal(t, EventResult, events[1].Type)
	assert.Equal(t, "transfer", events[1].Outcome.ErrorKind)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, EventResult, latest.Type)
	assert.True(t, s.Closed())
}

func TestStream_SubscriberJoiningMidway(t *testing.T) {
	s := NewStream()
	s.Publish(Progress{Attempt: 1, Fraction: 0.3})

	ch, cancel := s.Subscribe()
	defer cancel()
	s.Close(Outcome{State: "COMMITTED"})

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, 0.3, events[0].Fraction)
	assert.Equal(t, EventResult, events[1].Type)
}

func TestStream_CancelledSubscriberStopsReceiving(t *testing.T) {
	s := NewStream()
	ch, cancel := s.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	s.Publish(Progress{Attempt: 1, Fraction: 0.1})
	assert.True(t, s.Close(Outcome{State: "CANCELLED"}))
}

func TestStream_SlowSubscriberStillGetsResult(t *testing.T) {
	s := NewStream()
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		s.Publish(Progress{Attempt: 1, Fraction: float64(i) / float64(subscriberBuffer*2)})
	}
	s.Close(Outcome{State: "COMMITTED"})

	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, EventResult, events[len(events)-1].Type)
}

func TestStream_LatestBeforeAnyEvent(t *testing.T) {
	_, ok := NewStream().Latest()
	assert.False(t, ok)
}
