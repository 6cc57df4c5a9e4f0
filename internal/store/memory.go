package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"orderflow/internal/lifecycle"
	"orderflow/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set. Its
// conditional writes compare and set under a single mutex.
type Memory struct {
	mu        sync.Mutex
	orders    map[int64]model.Order
	agents    map[int64]model.DeliveryAgent
	byUser    map[int64]int64 // userId -> agentId
	nextOrder int64
	nextAgent int64
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders: map[int64]model.Order{},
		agents: map[int64]model.DeliveryAgent{},
		byUser: map[int64]int64{},
		now:    time.Now,
	}
}

func (m *Memory) CreateOrder(_ context.Context, in model.NewOrder) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrder++
	now := m.now().UTC()
	o := model.Order{
		ID:         m.nextOrder,
		Status:     lifecycle.Pending,
		VendorID:   in.VendorID,
		CustomerID: in.CustomerID,
		Pickup:     clonePoint(in.Pickup),
		Dropoff:    clonePoint(in.Dropoff),
		Amount:     in.Amount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.orders[o.ID] = o
	return cloneOrder(o), nil
}

func (m *Memory) GetOrder(_ context.Context, id int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *Memory) ListCustomerOrders(_ context.Context, customerID int64) ([]model.Order, error) {
	return m.list(func(o model.Order) bool { return o.CustomerID == customerID }), nil
}

func (m *Memory) ListVendorOrders(_ context.Context, vendorID int64, status *lifecycle.Status) ([]model.Order, error) {
	out := m.list(func(o model.Order) bool {
		return o.VendorID == vendorID && (status == nil || o.Status == *status)
	})
	slices.Reverse(out)
	return out, nil
}

func (m *Memory) ListTasks(_ context.Context, agentID int64) ([]model.Order, error) {
	return m.list(func(o model.Order) bool {
		switch o.Status {
		case lifecycle.OutForDelivery:
			return o.AssignedTo(agentID)
		case lifecycle.Pending:
			return o.DeliveryAgentID == nil
		}
		return false
	}), nil
}

func (m *Memory) list(keep func(model.Order) bool) []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) ClaimOrder(_ context.Context, orderID, agentID int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	if !lifecycle.CanTransition(o.Status, lifecycle.OutForDelivery) || o.DeliveryAgentID != nil {
		return model.Order{}, ErrConflict
	}
	id := agentID
	o.DeliveryAgentID = &id
	o.Status = lifecycle.OutForDelivery
	o.UpdatedAt = m.now().UTC()
	m.orders[orderID] = o
	return cloneOrder(o), nil
}

func (m *Memory) CompleteOrder(_ context.Context, orderID, agentID int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	switch {
	case !ok:
		return model.Order{}, ErrNotFound
	case !o.AssignedTo(agentID):
		return model.Order{}, ErrNotAssigned
	case o.Status == lifecycle.Delivered:
		return cloneOrder(o), ErrAlreadyDone
	case !lifecycle.CanTransition(o.Status, lifecycle.Delivered):
		return model.Order{}, ErrInvalidStatus
	}
	o.Status = lifecycle.Delivered
	o.UpdatedAt = m.now().UTC()
	m.orders[orderID] = o
	return cloneOrder(o), nil
}

func (m *Memory) CancelOrder(_ context.Context, orderID int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	if !lifecycle.CanTransition(o.Status, lifecycle.Cancelled) || o.DeliveryAgentID != nil {
		return model.Order{}, ErrInvalidStatus
	}
	o.Status = lifecycle.Cancelled
	o.UpdatedAt = m.now().UTC()
	m.orders[orderID] = o
	return cloneOrder(o), nil
}

func (m *Memory) UpsertAgent(_ context.Context, a model.DeliveryAgent) (model.DeliveryAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byUser[a.UserID]; ok {
		cur := m.agents[id]
		cur.Available = a.Available
		cur.VehicleType = a.VehicleType
		cur.VehicleNumber = a.VehicleNumber
		cur.UpdatedAt = m.now().UTC()
		m.agents[id] = cur
		return cloneAgent(cur), nil
	}
	m.nextAgent++
	a.ID = m.nextAgent
	a.Position = clonePoint(a.Position)
	a.UpdatedAt = m.now().UTC()
	m.agents[a.ID] = a
	m.byUser[a.UserID] = a.ID
	return cloneAgent(a), nil
}

func (m *Memory) GetAgent(_ context.Context, id int64) (model.DeliveryAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return model.DeliveryAgent{}, ErrNotFound
	}
	return cloneAgent(a), nil
}

func (m *Memory) GetAgentByUser(_ context.Context, userID int64) (model.DeliveryAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[userID]
	if !ok {
		return model.DeliveryAgent{}, ErrNotFound
	}
	return cloneAgent(m.agents[id]), nil
}

func (m *Memory) UpdateAgentPosition(_ context.Context, agentID int64, pos model.GeoPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.Position = &pos
	a.UpdatedAt = m.now().UTC()
	m.agents[agentID] = a
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func clonePoint(p *model.GeoPoint) *model.GeoPoint {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneOrder(o model.Order) model.Order {
	o.Pickup = clonePoint(o.Pickup)
	o.Dropoff = clonePoint(o.Dropoff)
	if o.DeliveryAgentID != nil {
		id := *o.DeliveryAgentID
		o.DeliveryAgentID = &id
	}
	return o
}

func cloneAgent(a model.DeliveryAgent) model.DeliveryAgent {
	a.Position = clonePoint(a.Position)
	return a
}
