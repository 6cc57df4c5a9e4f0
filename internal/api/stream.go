package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"orderflow/internal/auth"
	"orderflow/internal/broker"
)

var (
	heartbeatInterval = 15 * time.Second
	wsPingInterval    = 20 * time.Second
	wsPongWait        = 60 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// subscribeOrder authorizes the caller for the order in the path and
// subscribes to its channel.
func (s *Server) subscribeOrder(w http.ResponseWriter, r *http.Request) (int64, *broker.Subscription, bool) {
	p, ok := s.requireRole(w, r, auth.RoleCustomer, auth.RoleDelivery, auth.RoleVendor, auth.RoleAdmin)
	if !ok {
		return 0, nil, false
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return 0, nil, false
	}
	if _, ok := s.loadOrder(w, r, p, id); !ok {
		return 0, nil, false
	}
	sub, err := s.Broker.Subscribe(r.Context(), broker.Channel(id))
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Event stream unavailable", err.Error(), r.URL.Path)
		return 0, nil, false
	}
	return id, sub, true
}

// EventsStreamHandler streams order events as server-sent events.
// GET /v1/orders/{orderId}/events
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	id, sub, ok := s.subscribeOrder(w, r)
	if !ok {
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"orderId\":%d,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// EventsWSHandler streams order events over a websocket as {type,data} frames.
// GET /v1/orders/{orderId}/ws
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	_, sub, ok := s.subscribeOrder(w, r)
	if !ok {
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// Client frames are ignored; reading drives pong handling and close detection.
	closed := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
