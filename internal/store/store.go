package store

import (
	"context"
	"errors"

	"orderflow/internal/lifecycle"
	"orderflow/internal/model"
)

// Store is the persistence interface for orders and delivery agents.
//
// ClaimOrder, CompleteOrder and CancelOrder are conditional writes: the
// predicate is checked by the backend at write time, so concurrent callers
// in any number of processes cannot both succeed.
type Store interface {
	// Orders
	CreateOrder(ctx context.Context, in model.NewOrder) (model.Order, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	ListCustomerOrders(ctx context.Context, customerID int64) ([]model.Order, error)
	// ListVendorOrders returns a vendor's orders newest first, only those in
	// status when it is non-nil.
	ListVendorOrders(ctx context.Context, vendorID int64, status *lifecycle.Status) ([]model.Order, error)
	// ListTasks returns the orders out for delivery with agentID followed by
	// unassigned pending orders, oldest first.
	ListTasks(ctx context.Context, agentID int64) ([]model.Order, error)

	// Transitions
	ClaimOrder(ctx context.Context, orderID, agentID int64) (model.Order, error)
	CompleteOrder(ctx context.Context, orderID, agentID int64) (model.Order, error)
	CancelOrder(ctx context.Context, orderID int64) (model.Order, error)

	// Delivery agents
	UpsertAgent(ctx context.Context, a model.DeliveryAgent) (model.DeliveryAgent, error)
	GetAgent(ctx context.Context, id int64) (model.DeliveryAgent, error)
	GetAgentByUser(ctx context.Context, userID int64) (model.DeliveryAgent, error)
	UpdateAgentPosition(ctx context.Context, agentID int64, pos model.GeoPoint) error

	Ping(ctx context.Context) error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row exists but no longer matches the write predicate.
	ErrConflict = errors.New("precondition failed")
	// ErrNotAssigned means the order is not held by the requesting agent.
	ErrNotAssigned = errors.New("order not assigned to agent")
	// ErrInvalidStatus means the order's status does not allow the transition.
	ErrInvalidStatus = errors.New("invalid order status for transition")
	// ErrAlreadyDone is returned with the order when its agent completes an
	// order that is already delivered.
	ErrAlreadyDone = errors.New("order already delivered")
)
