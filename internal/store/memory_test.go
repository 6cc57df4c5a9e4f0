package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryContract(t *testing.T) {
	runContract(t, func(*testing.T) Store { return NewMemory() })
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	o := seedOrder(t, m)
	o.Pickup.Lat = 0

	got, err := m.GetOrder(t.Context(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.90, got.Pickup.Lat)
}
