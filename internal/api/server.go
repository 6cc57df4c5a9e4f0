package api

import (
	"log/slog"
	"net/http"

	"orderflow/internal/auth"
	"orderflow/internal/broker"
	"orderflow/internal/dispatch"
	"orderflow/internal/metrics"
	"orderflow/internal/store"
)

type Server struct {
	Coord  *dispatch.Coordinator
	Store  store.Store
	Broker broker.Broker
	Auth   *auth.Verifier
	Log    *slog.Logger

	// Info is shown on /debug/info next to build info.
	Info map[string]any
}

// Routes returns the service handler with logging and metrics applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Delivery agents
	mux.HandleFunc("GET /v1/delivery/tasks", s.TasksHandler)
	mux.HandleFunc("POST /v1/delivery/tasks/{orderId}/accept", s.AcceptHandler)
	mux.HandleFunc("POST /v1/delivery/tasks/{orderId}/complete", s.CompleteHandler)
	mux.HandleFunc("GET /v1/delivery/profile", s.GetProfileHandler)
	mux.HandleFunc("PUT /v1/delivery/profile", s.PutProfileHandler)

	// Customers
	mux.HandleFunc("POST /v1/orders", s.CreateOrderHandler)
	mux.HandleFunc("GET /v1/orders", s.ListOrdersHandler)
	mux.HandleFunc("GET /v1/orders/{orderId}/track", s.TrackHandler)
	mux.HandleFunc("POST /v1/orders/{orderId}/cancel", s.CancelHandler)

	// Vendors
	mux.HandleFunc("GET /v1/vendor/orders", s.VendorOrdersHandler)

	// Live order events
	mux.HandleFunc("GET /v1/orders/{orderId}/events", s.EventsStreamHandler)
	mux.HandleFunc("GET /v1/orders/{orderId}/ws", s.EventsWSHandler)

	// Health & ops
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /debug/info", s.DebugJSON)

	return s.logMiddleware(mux)
}

func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
