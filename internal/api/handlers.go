package api

import (
	"errors"
	"net/http"

	"orderflow/internal/auth"
	"orderflow/internal/lifecycle"
	"orderflow/internal/model"
	"orderflow/internal/store"
)

// agentFor resolves the delivery profile of the calling user.
func (s *Server) agentFor(w http.ResponseWriter, r *http.Request, p auth.Principal) (model.DeliveryAgent, bool) {
	a, err := s.Store.GetAgentByUser(r.Context(), p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Delivery profile not found", "create one with PUT /v1/delivery/profile", r.URL.Path)
		return a, false
	}
	if err != nil {
		s.writeDispatchError(w, r, err)
		return a, false
	}
	return a, true
}

// loadOrder fetches an order and hides it from callers that may not see it.
func (s *Server) loadOrder(w http.ResponseWriter, r *http.Request, p auth.Principal, id int64) (model.Order, bool) {
	o, err := s.Store.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
		} else {
			s.writeDispatchError(w, r, err)
		}
		return o, false
	}
	if !s.canSee(r, p, o) {
		writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
		return o, false
	}
	return o, true
}

func (s *Server) canSee(r *http.Request, p auth.Principal, o model.Order) bool {
	switch p.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleCustomer:
		return o.CustomerID == p.UserID
	case auth.RoleVendor:
		return o.VendorID == p.UserID
	case auth.RoleDelivery:
		if o.DeliveryAgentID == nil {
			return o.Status == lifecycle.Pending
		}
		a, err := s.Store.GetAgentByUser(r.Context(), p.UserID)
		return err == nil && o.AssignedTo(a.ID)
	}
	return false
}

// GET /v1/delivery/tasks
func (s *Server) TasksHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleDelivery)
	if !ok {
		return
	}
	a, ok := s.agentFor(w, r, p)
	if !ok {
		return
	}
	tasks, err := s.Store.ListTasks(r.Context(), a.ID)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// POST /v1/delivery/tasks/{orderId}/accept
func (s *Server) AcceptHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleDelivery)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	a, ok := s.agentFor(w, r, p)
	if !ok {
		return
	}
	o, err := s.Coord.Claim(r.Context(), id, a.ID)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Order accepted", "order": o})
}

// POST /v1/delivery/tasks/{orderId}/complete
func (s *Server) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleDelivery)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	a, ok := s.agentFor(w, r, p)
	if !ok {
		return
	}
	o, err := s.Coord.Complete(r.Context(), id, a.ID)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Order delivered", "order": o})
}

// GET /v1/delivery/profile
func (s *Server) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleDelivery)
	if !ok {
		return
	}
	a, ok := s.agentFor(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type profileRequest struct {
	Available     bool   `json:"isAvailable"`
	VehicleType   string `json:"vehicleType"`
	VehicleNumber string `json:"vehicleNumber"`
}

// PUT /v1/delivery/profile
func (s *Server) PutProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleDelivery)
	if !ok {
		return
	}
	var in profileRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	a, err := s.Store.UpsertAgent(r.Context(), model.DeliveryAgent{
		UserID:        p.UserID,
		Available:     in.Available,
		VehicleType:   in.VehicleType,
		VehicleNumber: in.VehicleNumber,
	})
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// POST /v1/orders
func (s *Server) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleCustomer)
	if !ok {
		return
	}
	var in model.NewOrder
	if !decodeJSON(w, r, &in) {
		return
	}
	in.CustomerID = p.UserID
	if err := validateNewOrder(&in); err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error(), r.URL.Path)
		return
	}
	o, err := s.Store.CreateOrder(r.Context(), in)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	s.Log.InfoContext(r.Context(), "order created", "order_id", o.ID, "customer_id", o.CustomerID)
	writeJSON(w, http.StatusCreated, o)
}

// GET /v1/orders
func (s *Server) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleCustomer)
	if !ok {
		return
	}
	orders, err := s.Store.ListCustomerOrders(r.Context(), p.UserID)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// GET /v1/orders/{orderId}/track
func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleCustomer, auth.RoleAdmin)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, ok := s.loadOrder(w, r, p, id)
	if !ok {
		return
	}
	t := model.Tracking{OrderID: o.ID, Status: o.Status, Pickup: o.Pickup, Dropoff: o.Dropoff}
	if o.DeliveryAgentID != nil {
		if a, err := s.Store.GetAgent(r.Context(), *o.DeliveryAgentID); err == nil {
			t.AgentPosition = a.Position
		}
	}
	writeJSON(w, http.StatusOK, t)
}

// POST /v1/orders/{orderId}/cancel
func (s *Server) CancelHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleCustomer, auth.RoleAdmin)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if _, ok := s.loadOrder(w, r, p, id); !ok {
		return
	}
	o, err := s.Coord.Cancel(r.Context(), id)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GET /v1/vendor/orders?status=
func (s *Server) VendorOrdersHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRole(w, r, auth.RoleVendor)
	if !ok {
		return
	}
	var filter *lifecycle.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := lifecycle.Parse(raw)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid status filter", err.Error(), r.URL.Path)
			return
		}
		filter = &st
	}
	orders, err := s.Store.ListVendorOrders(r.Context(), p.UserID, filter)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
