package broker

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/lifecycle"
)

func newRedisBroker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b := NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestRedisPublishSubscribe(t *testing.T) {
	b, _ := newRedisBroker(t)
	require.NoError(t, b.Ping(t.Context()))

	sub, err := b.Subscribe(t.Context(), Channel(42))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(t.Context(), Channel(42), StatusUpdate(lifecycle.OutForDelivery)))
	require.NoError(t, b.Publish(t.Context(), Channel(42), LocationUpdate(12.9, 77.6)))

	first := recv(t, sub)
	assert.Equal(t, TypeStatusUpdate, first.Type)
	assert.Equal(t, "OUT_FOR_DELIVERY", first.Data["status"])
	second := recv(t, sub)
	assert.Equal(t, TypeLocationUpdate, second.Type)
	assert.InDelta(t, 12.9, second.Data["lat"], 1e-9)
	assert.InDelta(t, 77.6, second.Data["lng"], 1e-9)
}

func TestRedisUsesOrderChannelName(t *testing.T) {
	b, mr := newRedisBroker(t)
	sub, err := b.Subscribe(t.Context(), Channel(5))
	require.NoError(t, err)
	defer sub.Close()

	assert.Contains(t, mr.PubSubChannels(""), "order-5")
	n := mr.Publish("order-5", `{"type":"status-update","data":{"status":"DELIVERED"}}`)
	assert.Equal(t, 1, n)
	assert.Equal(t, "DELIVERED", recv(t, sub).Data["status"])
}

func TestRedisSkipsUndecodablePayloads(t *testing.T) {
	b, mr := newRedisBroker(t)
	sub, err := b.Subscribe(t.Context(), Channel(5))
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish("order-5", "not json")
	mr.Publish("order-5", `{"type":"location-update","data":{"lat":1,"lng":2}}`)
	assert.Equal(t, TypeLocationUpdate, recv(t, sub).Type)
}

func TestRedisCloseSubscription(t *testing.T) {
	b, _ := newRedisBroker(t)
	sub, err := b.Subscribe(t.Context(), Channel(9))
	require.NoError(t, err)
	sub.Close()
	for range sub.C {
	}
}
