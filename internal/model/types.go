package model

import (
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/lifecycle"
)

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Order is the persistent record of one customer order.
// DeliveryAgentID is set exactly when Status is OUT_FOR_DELIVERY or DELIVERED.
type Order struct {
	ID              int64            `json:"id"`
	Status          lifecycle.Status `json:"status"`
	VendorID        int64            `json:"vendorId"`
	CustomerID      int64            `json:"customerId"`
	DeliveryAgentID *int64           `json:"deliveryAgentId"`
	Pickup          *GeoPoint        `json:"pickupLocation"`
	Dropoff         *GeoPoint        `json:"dropoffLocation"`
	Amount          decimal.Decimal  `json:"amount"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// AssignedTo reports whether the order is held by agentID.
func (o Order) AssignedTo(agentID int64) bool {
	return o.DeliveryAgentID != nil && *o.DeliveryAgentID == agentID
}

// NewOrder is the input for placing an order.
type NewOrder struct {
	VendorID   int64           `json:"vendorId"`
	CustomerID int64           `json:"customerId"`
	Pickup     *GeoPoint       `json:"pickupLocation,omitempty"`
	Dropoff    *GeoPoint       `json:"dropoffLocation,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// DeliveryAgent is the availability profile of a delivery user.
type DeliveryAgent struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Available     bool      `json:"isAvailable"`
	VehicleType   string    `json:"vehicleType,omitempty"`
	VehicleNumber string    `json:"vehicleNumber,omitempty"`
	Position      *GeoPoint `json:"position"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Tracking is what a customer sees for one order.
type Tracking struct {
	OrderID       int64            `json:"orderId"`
	Status        lifecycle.Status `json:"status"`
	Pickup        *GeoPoint        `json:"pickupLocation"`
	Dropoff       *GeoPoint        `json:"dropoffLocation"`
	AgentPosition *GeoPoint        `json:"deliveryAgentLocation"`
}
