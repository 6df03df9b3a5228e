package client

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luma/nt4/protocol"
	"github.com/luma/nt4/registry"
)

type EventKind uint8

const (
	EventAnnounce EventKind = iota
	EventUnannounce
	EventValue
	EventProperties
)

func (k EventKind) String() string {
	switch k {
	case EventAnnounce:
		return "announce"
	case EventUnannounce:
		return "unannounce"
	case EventValue:
		return "value"
	case EventProperties:
		return "properties"
	default:
		return "unknown"
	}
}

// Event is delivered to a Subscriber. Timestamp and Value are only set for
// EventValue.
type Event struct {
	Kind  EventKind
	Topic registry.Topic

	// Timestamp is the server time of the value in microseconds
	Timestamp int64
	Value     interface{}
}

type SubscribeOptions struct {
	protocol.SubscriptionOptions

	// Persist subscriptions are sent again after a reconnect
	Persist bool

	// Buffer is the number of events held for a slow reader. When it is full
	// the oldest event is dropped.
	Buffer int
}

// Subscriber receives the events of one subscription. The channel returned by
// Events is closed when the subscription ends.
type Subscriber struct {
	id       int32
	patterns []string
	options  SubscribeOptions

	mu      sync.Mutex
	closed  bool
	events  chan Event
	dropped prometheus.Counter
}

func newSubscriber(id int32, patterns []string, options SubscribeOptions, dropped prometheus.Counter) *Subscriber {
	buffer := options.Buffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	return &Subscriber{
		id:       id,
		patterns: append([]string(nil), patterns...),
		options:  options,
		events:   make(chan Event, buffer),
		dropped:  dropped,
	}
}

func (s *Subscriber) ID() int32 {
	return s.id
}

func (s *Subscriber) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

func (s *Subscriber) Options() SubscribeOptions {
	return s.options
}

func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// deliver never blocks. It makes room by discarding the oldest event.
func (s *Subscriber) deliver(event Event) bool {
	if event.Kind == EventValue && s.options.TopicsOnly {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	for {
		select {
		case s.events <- event:
			return true
		default:
		}

		select {
		case <-s.events:
			s.dropped.Inc()
		default:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.events)
}
