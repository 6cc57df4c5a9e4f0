//go:build amqp_integration

package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"orderflow/internal/lifecycle"
)

// AMQPSuite runs the broker against a real RabbitMQ. It uses AMQP_URL when
// set and a throwaway container otherwise.
type AMQPSuite struct {
	suite.Suite
	container *rabbitmq.RabbitMQContainer
	url       string
	broker    *AMQP
}

func (s *AMQPSuite) SetupSuite() {
	ctx := context.Background()
	s.url = os.Getenv("AMQP_URL")
	if s.url == "" {
		container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
		s.Require().NoError(err)
		s.container = container
		s.url, err = container.AmqpURL(ctx)
		s.Require().NoError(err)
	}
}

func (s *AMQPSuite) TearDownSuite() {
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *AMQPSuite) SetupTest() {
	b, err := DialAMQP(s.url, nil)
	s.Require().NoError(err)
	s.broker = b
}

func (s *AMQPSuite) TearDownTest() {
	_ = s.broker.Close()
}

func (s *AMQPSuite) recv(sub *Subscription) Event {
	select {
	case evt, ok := <-sub.C:
		s.Require().True(ok, "subscription closed")
		return evt
	case <-time.After(5 * time.Second):
		s.FailNow("timeout waiting for event")
	}
	return Event{}
}

func (s *AMQPSuite) TestPublishSubscribeInOrder() {
	ctx := context.Background()
	sub, err := s.broker.Subscribe(ctx, Channel(42))
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(s.broker.Publish(ctx, Channel(42), StatusUpdate(lifecycle.OutForDelivery)))
	s.Require().NoError(s.broker.Publish(ctx, Channel(42), LocationUpdate(12.9, 77.6)))
	s.Require().NoError(s.broker.Publish(ctx, Channel(42), StatusUpdate(lifecycle.Delivered)))

	first := s.recv(sub)
	s.Equal(TypeStatusUpdate, first.Type)
	s.Equal("OUT_FOR_DELIVERY", first.Data["status"])
	second := s.recv(sub)
	s.Equal(TypeLocationUpdate, second.Type)
	s.InDelta(12.9, second.Data["lat"], 1e-9)
	s.InDelta(77.6, second.Data["lng"], 1e-9)
	s.Equal("DELIVERED", s.recv(sub).Data["status"])
}

func (s *AMQPSuite) TestChannelsAreIsolated() {
	ctx := context.Background()
	one, err := s.broker.Subscribe(ctx, Channel(1))
	s.Require().NoError(err)
	defer one.Close()
	two, err := s.broker.Subscribe(ctx, Channel(2))
	s.Require().NoError(err)
	defer two.Close()

	s.Require().NoError(s.broker.Publish(ctx, Channel(2), StatusUpdate(lifecycle.Cancelled)))
	s.Equal("CANCELLED", s.recv(two).Data["status"])
	select {
	case evt := <-one.C:
		s.Failf("unexpected event", "%+v", evt)
	case <-time.After(200 * time.Millisecond):
	}
}

func (s *AMQPSuite) TestFanOutToEverySubscriber() {
	ctx := context.Background()
	a, err := s.broker.Subscribe(ctx, Channel(7))
	s.Require().NoError(err)
	defer a.Close()
	b, err := s.broker.Subscribe(ctx, Channel(7))
	s.Require().NoError(err)
	defer b.Close()

	s.Require().NoError(s.broker.Publish(ctx, Channel(7), LocationUpdate(1, 2)))
	s.Equal(TypeLocationUpdate, s.recv(a).Type)
	s.Equal(TypeLocationUpdate, s.recv(b).Type)
}

func (s *AMQPSuite) TestCloseEndsSubscriptions() {
	sub, err := s.broker.Subscribe(context.Background(), Channel(9))
	s.Require().NoError(err)
	s.Require().NoError(s.broker.Close())

	select {
	case _, ok := <-sub.C:
		s.False(ok)
	case <-time.After(5 * time.Second):
		s.FailNow("subscription stayed open after close")
	}
	// TearDownTest closes again.
	b, err := DialAMQP(s.url, nil)
	s.Require().NoError(err)
	s.broker = b
}

func TestAMQPSuite(t *testing.T) {
	suite.Run(t, new(AMQPSuite))
}
