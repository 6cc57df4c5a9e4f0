package broker

import (
	"context"
	"sync"
)

const memoryBuffer = 64

// Memory is an in-process Broker. A subscriber that falls more than its
// buffer behind misses events rather than stalling publishers.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{} // channel -> subscriber set
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (m *Memory) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	ch := make(chan Event, memoryBuffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.subs[channel] == nil {
		m.subs[channel] = map[chan Event]struct{}{}
	}
	m.subs[channel][ch] = struct{}{}
	return &Subscription{C: ch, cancel: func() { m.unsubscribe(channel, ch) }}, nil
}

func (m *Memory) unsubscribe(channel string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.subs[channel]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(m.subs, channel)
	}
	close(ch)
}

// Publish delivers evt to every current subscriber of channel. Sends happen
// under the lock so each subscriber sees events in publish order.
func (m *Memory) Publish(_ context.Context, channel string, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for ch := range m.subs[channel] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, set := range m.subs {
		for ch := range set {
			close(ch)
		}
	}
	m.subs = map[string]map[chan Event]struct{}{}
	return nil
}
