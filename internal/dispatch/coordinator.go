// Package dispatch assigns pending orders to delivery agents and completes
// them, publishing status events and driving route playback.
//
// The store's conditional write is the only authority on who won a claim.
// Events and playback are side effects of a successful write; their failure
// never changes the outcome reported to the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderflow/internal/broker"
	"orderflow/internal/lifecycle"
	"orderflow/internal/metrics"
	"orderflow/internal/model"
	"orderflow/internal/obs"
	"orderflow/internal/playback"
	"orderflow/internal/polyline"
	"orderflow/internal/routing"
	"orderflow/internal/store"
)

// Caller-visible failures.
var (
	ErrClaimConflict     = errors.New("order is no longer available to accept")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("order is not assigned to this agent")
	ErrInvalidTransition = errors.New("order status does not allow this action")
)

type Config struct {
	// RouteTimeout bounds the route fetch that follows a successful claim.
	RouteTimeout   time.Duration
	PublishTimeout time.Duration
	// StatusAttempts bounds publishing of each status event.
	StatusAttempts int
	// AutoComplete marks the order delivered in the store when playback
	// reaches its terminal event.
	AutoComplete bool
	Playback     playback.Options
	Logger       *slog.Logger
}

type Coordinator struct {
	store  store.Store
	pub    broker.Publisher
	routes routing.Source
	engine *playback.Engine
	cfg    Config
	log    *slog.Logger

	// startMu orders playback starts against completion cancels.
	startMu sync.Mutex
	wg      sync.WaitGroup
}

func New(st store.Store, pub broker.Publisher, routes routing.Source, cfg Config) *Coordinator {
	if cfg.RouteTimeout <= 0 {
		cfg.RouteTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.StatusAttempts < 1 {
		cfg.StatusAttempts = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Coordinator{
		store:  st,
		pub:    pub,
		routes: routes,
		cfg:    cfg,
		log:    cfg.Logger.With("component", "dispatch"),
	}
	opts := cfg.Playback
	opts.Logger = cfg.Logger
	opts.PublishTimeout = cfg.PublishTimeout
	opts.OnPosition = c.recordPosition
	if cfg.AutoComplete {
		opts.OnFinish = c.autoComplete
	}
	c.engine = playback.New(pub, opts)
	return c
}

// Engine exposes the playback engine owned by the coordinator.
func (c *Coordinator) Engine() *playback.Engine { return c.engine }

// Claim assigns orderID to agentID if it is still pending and unassigned.
// On success the OUT_FOR_DELIVERY event is published and route playback is
// started in the background.
func (c *Coordinator) Claim(ctx context.Context, orderID, agentID int64) (o model.Order, err error) {
	defer obs.Time(ctx, c.log, "dispatch.claim")(&err)

	if _, aerr := c.store.GetAgent(ctx, agentID); aerr != nil {
		if errors.Is(aerr, store.ErrNotFound) {
			metrics.Claims.WithLabelValues("not_found").Inc()
			return model.Order{}, fmt.Errorf("delivery agent %d: %w", agentID, ErrNotFound)
		}
		return model.Order{}, aerr
	}

	o, err = c.store.ClaimOrder(ctx, orderID, agentID)
	switch {
	case errors.Is(err, store.ErrConflict):
		metrics.Claims.WithLabelValues("conflict").Inc()
		return model.Order{}, ErrClaimConflict
	case errors.Is(err, store.ErrNotFound):
		metrics.Claims.WithLabelValues("not_found").Inc()
		return model.Order{}, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	case err != nil:
		metrics.Claims.WithLabelValues("error").Inc()
		return model.Order{}, err
	}
	metrics.Claims.WithLabelValues("won").Inc()
	c.log.InfoContext(ctx, "order claimed", "order_id", orderID, "agent_id", agentID)

	c.publishStatus(ctx, orderID, lifecycle.OutForDelivery)
	c.startRoute(o, agentID)
	return o, nil
}

// Complete marks orderID delivered by agentID, stops its playback and
// publishes DELIVERED. Completing an already delivered order again by the
// same agent succeeds without a second event.
func (c *Coordinator) Complete(ctx context.Context, orderID, agentID int64) (o model.Order, err error) {
	defer obs.Time(ctx, c.log, "dispatch.complete")(&err)

	o, err = c.store.CompleteOrder(ctx, orderID, agentID)
	switch {
	case errors.Is(err, store.ErrAlreadyDone):
		metrics.Completions.WithLabelValues("repeat").Inc()
		return o, nil
	case errors.Is(err, store.ErrNotFound):
		metrics.Completions.WithLabelValues("not_found").Inc()
		return model.Order{}, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	case errors.Is(err, store.ErrNotAssigned):
		metrics.Completions.WithLabelValues("unauthorized").Inc()
		return model.Order{}, ErrUnauthorized
	case errors.Is(err, store.ErrInvalidStatus):
		metrics.Completions.WithLabelValues("invalid").Inc()
		return model.Order{}, ErrInvalidTransition
	case err != nil:
		metrics.Completions.WithLabelValues("error").Inc()
		return model.Order{}, err
	}
	metrics.Completions.WithLabelValues("ok").Inc()

	// Only the stop signal needs startMu; waiting happens outside it.
	c.startMu.Lock()
	h := c.engine.Stop(orderID)
	c.startMu.Unlock()

	announced := false
	if h != nil {
		select {
		case <-h.Done():
			announced = h.State() == playback.Finished && h.Announced()
		case <-ctx.Done():
		}
	}
	c.log.InfoContext(ctx, "order delivered", "order_id", orderID, "agent_id", agentID,
		"playback_stopped", h != nil, "announced_by_playback", announced)

	if !announced {
		c.publishStatus(ctx, orderID, lifecycle.Delivered)
	}
	return o, nil
}

// Cancel moves a pending order to CANCELLED.
func (c *Coordinator) Cancel(ctx context.Context, orderID int64) (model.Order, error) {
	o, err := c.store.CancelOrder(ctx, orderID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Order{}, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	case errors.Is(err, store.ErrInvalidStatus):
		return model.Order{}, ErrInvalidTransition
	case err != nil:
		return model.Order{}, err
	}
	c.publishStatus(ctx, orderID, lifecycle.Cancelled)
	return o, nil
}

// Wait blocks until background route fetches started by Claim are done.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Shutdown waits for route fetches, then stops all playback.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.engine.Shutdown(ctx)
}

func (c *Coordinator) publishStatus(ctx context.Context, orderID int64, st lifecycle.Status) {
	ctx = context.WithoutCancel(ctx)
	evt := broker.StatusUpdate(st)
	channel := broker.Channel(orderID)
	for attempt := 1; attempt <= c.cfg.StatusAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
		err := c.pub.Publish(pctx, channel, evt)
		cancel()
		if err == nil {
			return
		}
		c.log.WarnContext(ctx, "status event publish failed",
			"order_id", orderID, "status", st, "attempt", attempt, "err", err)
	}
	c.log.ErrorContext(ctx, "status event lost", "order_id", orderID, "status", st)
}

func (c *Coordinator) startRoute(o model.Order, agentID int64) {
	log := c.log.With("order_id", o.ID, "agent_id", agentID)
	if o.Pickup == nil || o.Dropoff == nil {
		log.Info("order lacks coordinates; no playback")
		return
	}
	pickup, dropoff := *o.Pickup, *o.Dropoff
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RouteTimeout)
		defer cancel()

		enc, err := c.routes.Route(ctx, pickup, dropoff)
		if err != nil {
			log.Warn("route unavailable; no playback", "err", err)
			return
		}
		pts, err := polyline.Decode(enc)
		if err != nil {
			log.Warn("malformed route; no playback", "err", err, "polyline", enc)
			return
		}
		if len(pts) == 0 {
			log.Warn("empty route; no playback")
			return
		}

		c.startMu.Lock()
		defer c.startMu.Unlock()
		cur, err := c.store.GetOrder(ctx, o.ID)
		if err != nil {
			log.Warn("reload order before playback", "err", err)
			return
		}
		if cur.Status != lifecycle.OutForDelivery || !cur.AssignedTo(agentID) {
			log.Info("order moved on before playback started", "status", cur.Status)
			return
		}
		h, err := c.engine.Start(playback.Trip{OrderID: o.ID, AgentID: agentID, Waypoints: pts})
		if err != nil {
			log.Warn("playback not started", "err", err)
			return
		}
		log.Info("playback scheduled", "run_id", h.ID, "waypoints", len(pts))
	}()
}

func (c *Coordinator) recordPosition(ctx context.Context, trip playback.Trip, p polyline.Point) {
	if err := c.store.UpdateAgentPosition(ctx, trip.AgentID, model.GeoPoint{Lat: p.Lat, Lng: p.Lng}); err != nil && ctx.Err() == nil {
		c.log.DebugContext(ctx, "agent position not saved", "agent_id", trip.AgentID, "err", err)
	}
}

// autoComplete marks the order delivered once playback has published its
// terminal event. It publishes nothing itself.
func (c *Coordinator) autoComplete(ctx context.Context, trip playback.Trip) {
	_, err := c.store.CompleteOrder(ctx, trip.OrderID, trip.AgentID)
	switch {
	case errors.Is(err, store.ErrAlreadyDone):
	case err != nil:
		c.log.WarnContext(ctx, "auto-complete failed", "order_id", trip.OrderID, "agent_id", trip.AgentID, "err", err)
	default:
		metrics.Completions.WithLabelValues("playback").Inc()
	}
}
