// Package main runs a demo WebSocket client that places an order, accepts it
// as a delivery agent and prints the order's live events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func call(base, method, path, role, user string, body any, out any) {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, base+path, rd)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", role)
	req.Header.Set("X-User-Id", user)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		log.Fatalf("%s %s: %d %s", method, path, resp.StatusCode, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatal(err)
		}
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	call(base, http.MethodPut, "/v1/delivery/profile", "delivery", "100",
		map[string]any{"isAvailable": true, "vehicleType": "bike"}, nil)

	var order struct {
		ID int64 `json:"id"`
	}
	call(base, http.MethodPost, "/v1/orders", "customer", "7", map[string]any{
		"vendorId":        5,
		"amount":          "300",
		"pickupLocation":  map[string]float64{"lat": 12.9716, "lng": 77.5946},
		"dropoffLocation": map[string]float64{"lat": 12.9352, "lng": 77.6245},
	}, &order)
	log.Printf("order %d placed", order.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: fmt.Sprintf("/v1/orders/%d/ws", order.ID)}
	hdr := http.Header{}
	hdr.Set("X-Role", "customer")
	hdr.Set("X-User-Id", "7")
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	call(base, http.MethodPost, fmt.Sprintf("/v1/delivery/tasks/%d/accept", order.ID), "delivery", "100", nil, nil)
	log.Printf("order %d accepted", order.ID)

	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var evt event
		if err := conn.ReadJSON(&evt); err != nil {
			log.Fatal(err)
		}
		log.Printf("%s %v", evt.Type, evt.Data)
		if evt.Type == "status-update" && evt.Data["status"] == "DELIVERED" {
			return
		}
	}
}
