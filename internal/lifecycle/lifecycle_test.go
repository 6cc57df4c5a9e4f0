package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	all := []Status{Pending, OutForDelivery, Delivered, Cancelled}
	legal := map[[2]Status]bool{
		{Pending, OutForDelivery}:   true,
		{OutForDelivery, Delivered}: true,
		{Pending, Cancelled}:        true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
			if want {
				assert.NoError(t, Transition(from, to))
			} else {
				assert.ErrorIs(t, Transition(from, to), ErrIllegalTransition)
			}
		}
	}
}

func TestTerminalAndAssigned(t *testing.T) {
	assert.False(t, Pending.Terminal())
	assert.False(t, OutForDelivery.Terminal())
	assert.True(t, Delivered.Terminal())
	assert.True(t, Cancelled.Terminal())

	assert.True(t, OutForDelivery.Assigned())
	assert.True(t, Delivered.Assigned())
	assert.False(t, Pending.Assigned())
	assert.False(t, Cancelled.Assigned())
}

func TestSources(t *testing.T) {
	assert.Equal(t, []Status{Pending}, Sources(OutForDelivery))
	assert.Equal(t, []Status{OutForDelivery}, Sources(Delivered))
	assert.Equal(t, []Status{Pending}, Sources(Cancelled))
	assert.Empty(t, Sources(Pending))
}

func TestParse(t *testing.T) {
	st, err := Parse("OUT_FOR_DELIVERY")
	require.NoError(t, err)
	assert.Equal(t, OutForDelivery, st)

	_, err = Parse("shipped")
	assert.Error(t, err)
	assert.False(t, Status("").Valid())
}
