package store

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/lifecycle"
	"orderflow/internal/model"
)

// runContract exercises the behaviour every Store backend must share.
// newStore must return an empty store.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("ClaimRace", func(t *testing.T) { testClaimRace(t, newStore(t)) })
	t.Run("NoReclaim", func(t *testing.T) { testNoReclaim(t, newStore(t)) })
	t.Run("CompleteAuthorization", func(t *testing.T) { testCompleteAuthorization(t, newStore(t)) })
	t.Run("Cancel", func(t *testing.T) { testCancel(t, newStore(t)) })
	t.Run("ListTasks", func(t *testing.T) { testListTasks(t, newStore(t)) })
	t.Run("ListVendorOrders", func(t *testing.T) { testListVendorOrders(t, newStore(t)) })
	t.Run("Agents", func(t *testing.T) { testAgents(t, newStore(t)) })
}

func seedAgent(t *testing.T, s Store, userID int64) model.DeliveryAgent {
	t.Helper()
	a, err := s.UpsertAgent(context.Background(), model.DeliveryAgent{UserID: userID, Available: true, VehicleType: "bike"})
	require.NoError(t, err)
	return a
}

func seedOrder(t *testing.T, s Store) model.Order {
	t.Helper()
	o, err := s.CreateOrder(context.Background(), model.NewOrder{
		VendorID:   3,
		CustomerID: 11,
		Pickup:     &model.GeoPoint{Lat: 12.90, Lng: 77.60},
		Dropoff:    &model.GeoPoint{Lat: 12.95, Lng: 77.65},
		Amount:     decimal.RequireFromString("249.50"),
	})
	require.NoError(t, err)
	return o
}

func testCreateAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	created := seedOrder(t, s)
	assert.Equal(t, lifecycle.Pending, created.Status)
	assert.Nil(t, created.DeliveryAgentID)

	got, err := s.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(11), got.CustomerID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("249.5")), "amount %s", got.Amount)
	require.NotNil(t, got.Pickup)
	assert.Equal(t, model.GeoPoint{Lat: 12.90, Lng: 77.60}, *got.Pickup)

	_, err = s.GetOrder(ctx, created.ID+1000)
	assert.ErrorIs(t, err, ErrNotFound)

	mine, err := s.ListCustomerOrders(ctx, 11)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	others, err := s.ListCustomerOrders(ctx, 12)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func testClaimRace(t *testing.T, s Store) {
	ctx := context.Background()
	o := seedOrder(t, s)
	const n = 16
	agents := make([]int64, n)
	for i := range agents {
		agents[i] = seedAgent(t, s, int64(100+i)).ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []int64
		losses  int
	)
	start := make(chan struct{})
	for _, agentID := range agents {
		wg.Add(1)
		go func(agentID int64) {
			defer wg.Done()
			<-start
			_, err := s.ClaimOrder(ctx, o.ID, agentID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, agentID)
				return
			}
			assert.ErrorIs(t, err, ErrConflict)
			losses++
		}(agentID)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, losses)
	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutForDelivery, got.Status)
	require.NotNil(t, got.DeliveryAgentID)
	assert.Equal(t, winners[0], *got.DeliveryAgentID)
}

func testNoReclaim(t *testing.T, s Store) {
	ctx := context.Background()
	a1 := seedAgent(t, s, 1)
	a2 := seedAgent(t, s, 2)
	o := seedOrder(t, s)

	_, err := s.ClaimOrder(ctx, o.ID+1000, a1.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	claimed, err := s.ClaimOrder(ctx, o.ID, a1.ID)
	require.NoError(t, err)
	assert.True(t, claimed.AssignedTo(a1.ID))

	for _, agentID := range []int64{a1.ID, a2.ID} {
		_, err = s.ClaimOrder(ctx, o.ID, agentID)
		assert.ErrorIs(t, err, ErrConflict)
	}
	_, err = s.CompleteOrder(ctx, o.ID, a1.ID)
	require.NoError(t, err)
	_, err = s.ClaimOrder(ctx, o.ID, a2.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func testCompleteAuthorization(t *testing.T, s Store) {
	ctx := context.Background()
	owner := seedAgent(t, s, 1)
	other := seedAgent(t, s, 2)
	o := seedOrder(t, s)

	_, err := s.CompleteOrder(ctx, o.ID, owner.ID)
	assert.ErrorIs(t, err, ErrNotAssigned, "pending orders have no agent")

	_, err = s.ClaimOrder(ctx, o.ID, owner.ID)
	require.NoError(t, err)

	_, err = s.CompleteOrder(ctx, o.ID, other.ID)
	assert.ErrorIs(t, err, ErrNotAssigned)
	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutForDelivery, got.Status)

	done, err := s.CompleteOrder(ctx, o.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Delivered, done.Status)
	assert.True(t, done.AssignedTo(owner.ID))

	again, err := s.CompleteOrder(ctx, o.ID, owner.ID)
	assert.ErrorIs(t, err, ErrAlreadyDone)
	assert.Equal(t, lifecycle.Delivered, again.Status)

	_, err = s.CompleteOrder(ctx, o.ID+1000, owner.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testCancel(t *testing.T, s Store) {
	ctx := context.Background()
	a := seedAgent(t, s, 1)
	pending := seedOrder(t, s)
	claimed := seedOrder(t, s)
	_, err := s.ClaimOrder(ctx, claimed.ID, a.ID)
	require.NoError(t, err)

	out, err := s.CancelOrder(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Cancelled, out.Status)

	_, err = s.CancelOrder(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = s.CancelOrder(ctx, claimed.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = s.CancelOrder(ctx, claimed.ID+1000)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ClaimOrder(ctx, pending.ID, a.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func testListTasks(t *testing.T, s Store) {
	ctx := context.Background()
	a1 := seedAgent(t, s, 1)
	a2 := seedAgent(t, s, 2)
	open := seedOrder(t, s)
	mine := seedOrder(t, s)
	theirs := seedOrder(t, s)
	cancelled := seedOrder(t, s)
	delivered := seedOrder(t, s)

	_, err := s.ClaimOrder(ctx, mine.ID, a1.ID)
	require.NoError(t, err)
	_, err = s.ClaimOrder(ctx, theirs.ID, a2.ID)
	require.NoError(t, err)
	_, err = s.CancelOrder(ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = s.ClaimOrder(ctx, delivered.ID, a1.ID)
	require.NoError(t, err)
	_, err = s.CompleteOrder(ctx, delivered.ID, a1.ID)
	require.NoError(t, err)

	tasks, err := s.ListTasks(ctx, a1.ID)
	require.NoError(t, err)
	ids := make([]int64, 0, len(tasks))
	for _, o := range tasks {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{open.ID, mine.ID}, ids)
}

func testListVendorOrders(t *testing.T, s Store) {
	ctx := context.Background()
	a := seedAgent(t, s, 1)
	first := seedOrder(t, s)
	second := seedOrder(t, s)
	third := seedOrder(t, s)
	_, err := s.CreateOrder(ctx, model.NewOrder{VendorID: 4, CustomerID: 11, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = s.ClaimOrder(ctx, second.ID, a.ID)
	require.NoError(t, err)

	ids := func(orders []model.Order) []int64 {
		out := make([]int64, 0, len(orders))
		for _, o := range orders {
			out = append(out, o.ID)
		}
		return out
	}

	all, err := s.ListVendorOrders(ctx, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{third.ID, second.ID, first.ID}, ids(all))

	pending := lifecycle.Pending
	open, err := s.ListVendorOrders(ctx, 3, &pending)
	require.NoError(t, err)
	assert.Equal(t, []int64{third.ID, first.ID}, ids(open))

	out := lifecycle.OutForDelivery
	moving, err := s.ListVendorOrders(ctx, 3, &out)
	require.NoError(t, err)
	assert.Equal(t, []int64{second.ID}, ids(moving))

	none, err := s.ListVendorOrders(ctx, 99, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testAgents(t *testing.T, s Store) {
	ctx := context.Background()
	a := seedAgent(t, s, 77)
	assert.NotZero(t, a.ID)
	assert.Nil(t, a.Position)

	updated, err := s.UpsertAgent(ctx, model.DeliveryAgent{UserID: 77, Available: false, VehicleType: "van", VehicleNumber: "KA-01"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, updated.ID)
	assert.False(t, updated.Available)
	assert.Equal(t, "van", updated.VehicleType)

	byUser, err := s.GetAgentByUser(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byUser.ID)

	require.NoError(t, s.UpdateAgentPosition(ctx, a.ID, model.GeoPoint{Lat: 12.91, Lng: 77.61}))
	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Position)
	assert.Equal(t, model.GeoPoint{Lat: 12.91, Lng: 77.61}, *got.Position)

	_, err = s.GetAgent(ctx, a.ID+1000)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAgentByUser(ctx, 78)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateAgentPosition(ctx, a.ID+1000, model.GeoPoint{}), ErrNotFound)
}
