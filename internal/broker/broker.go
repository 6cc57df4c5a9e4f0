// Package broker fans order events out to subscribers of per-order channels.
package broker

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"orderflow/internal/lifecycle"
)

const (
	TypeStatusUpdate   = "status-update"
	TypeLocationUpdate = "location-update"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Event is one message on an order channel.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func StatusUpdate(status lifecycle.Status) Event {
	return Event{Type: TypeStatusUpdate, Data: map[string]any{"status": string(status)}}
}

func LocationUpdate(lat, lng float64) Event {
	return Event{Type: TypeLocationUpdate, Data: map[string]any{"lat": lat, "lng": lng}}
}

// Channel returns the channel name for an order.
func Channel(orderID int64) string { return "order-" + strconv.FormatInt(orderID, 10) }

// Publisher sends events to a channel. Delivery is best effort to the
// subscribers present at publish time.
type Publisher interface {
	Publish(ctx context.Context, channel string, evt Event) error
}

// Broker is a Publisher that also accepts subscriptions.
type Broker interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	Close() error
}

// Subscription receives the events of one channel on C until Close is called
// or the broker goes away, after which C is closed.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
