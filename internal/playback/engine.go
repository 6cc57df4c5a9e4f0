// Package playback replays a decoded route as timed location events on the
// order's channel, ending with a DELIVERED status event.
//
// The Engine keeps a registry of running trips keyed by order id. At most
// one trip runs per order; a second Start for the same order is rejected
// until the first finishes or is cancelled.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/broker"
	"orderflow/internal/lifecycle"
	"orderflow/internal/metrics"
	"orderflow/internal/polyline"
)

var (
	ErrAlreadyRunning = errors.New("playback already running for order")
	ErrNoWaypoints    = errors.New("route has no waypoints")
	ErrStopped        = errors.New("playback engine stopped")
)

// State is the lifecycle of one trip.
type State int32

const (
	None State = iota
	Running
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	case Cancelled:
		return "CANCELLED"
	}
	return "NONE"
}

// Trip is one simulated delivery.
type Trip struct {
	OrderID   int64
	AgentID   int64
	Waypoints []polyline.Point
}

type Options struct {
	// Interval is the pause after each location event.
	Interval time.Duration
	// TerminalAttempts bounds publishing of the final DELIVERED event. At least 2.
	TerminalAttempts int
	TerminalBackoff  time.Duration
	PublishTimeout   time.Duration

	// OnPosition runs after each waypoint is published.
	OnPosition func(ctx context.Context, trip Trip, p polyline.Point)
	// OnFinish runs once after a trip reaches its terminal event. It is not
	// called for cancelled trips.
	OnFinish func(ctx context.Context, trip Trip)

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.TerminalAttempts < 2 {
		o.TerminalAttempts = 2
	}
	if o.TerminalBackoff <= 0 {
		o.TerminalBackoff = 200 * time.Millisecond
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Handle is the ownership token of one running trip.
type Handle struct {
	ID      string
	OrderID int64

	cancel    context.CancelFunc
	done      chan struct{}
	state     atomic.Int32
	announced atomic.Bool
}

// Done is closed once the trip has stopped and its OnFinish hook returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State { return State(h.state.Load()) }

// Announced reports whether the trip published its DELIVERED event.
func (h *Handle) Announced() bool { return h.announced.Load() }

type Engine struct {
	pub  broker.Publisher
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	runs    map[int64]*Handle
	stopped bool
	wg      sync.WaitGroup
}

func New(pub broker.Publisher, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		pub:  pub,
		opts: opts,
		log:  opts.Logger.With("component", "playback"),
		runs: map[int64]*Handle{},
	}
}

// Start launches playback of trip and returns its handle.
func (e *Engine) Start(trip Trip) (*Handle, error) {
	if len(trip.Waypoints) == 0 {
		return nil, ErrNoWaypoints
	}
	trip.Waypoints = append([]polyline.Point(nil), trip.Waypoints...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrStopped
	}
	if _, ok := e.runs[trip.OrderID]; ok {
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{ID: uuid.NewString(), OrderID: trip.OrderID, cancel: cancel, done: make(chan struct{})}
	h.state.Store(int32(Running))
	e.runs[trip.OrderID] = h
	e.wg.Add(1)
	metrics.PlaybacksActive.Inc()
	go e.play(ctx, h, trip)
	return h, nil
}

// Stop signals the trip of orderID to stop and returns its handle without
// waiting, or nil when no trip is registered.
func (e *Engine) Stop(orderID int64) *Handle {
	e.mu.Lock()
	h := e.runs[orderID]
	e.mu.Unlock()
	if h != nil {
		h.cancel()
	}
	return h
}

// Cancel stops the trip of orderID, waits for it to exit and returns its
// final state. None means no trip was registered.
func (e *Engine) Cancel(orderID int64) State {
	h := e.Stop(orderID)
	if h == nil {
		return None
	}
	<-h.done
	return h.State()
}

// Active reports whether a trip is running for orderID.
func (e *Engine) Active(orderID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[orderID]
	return ok
}

// Running returns the number of trips in flight.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Shutdown cancels every trip, refuses new ones and waits for emitters to
// exit or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	for _, h := range e.runs {
		h.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) play(ctx context.Context, h *Handle, trip Trip) {
	defer e.wg.Done()
	defer close(h.done)
	log := e.log.With("order_id", trip.OrderID, "agent_id", trip.AgentID, "run_id", h.ID)
	log.Info("playback started", "waypoints", len(trip.Waypoints))

	// The trip stays registered until OnFinish returns so a concurrent Stop
	// always observes its outcome.
	defer func() {
		e.mu.Lock()
		if e.runs[trip.OrderID] == h {
			delete(e.runs, trip.OrderID)
		}
		e.mu.Unlock()
		metrics.PlaybacksActive.Dec()
	}()

	finished, announced := e.emit(ctx, trip, log)
	h.cancel()
	h.announced.Store(announced)

	if !finished {
		h.state.Store(int32(Cancelled))
		log.Info("playback cancelled")
		return
	}
	h.state.Store(int32(Finished))
	log.Info("playback finished", "announced", announced)
	if e.opts.OnFinish != nil {
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		e.opts.OnFinish(fctx, trip)
		cancel()
	}
}

// emit publishes the trip. finished reports whether it ran to its terminal
// step, announced whether the DELIVERED event went out.
func (e *Engine) emit(ctx context.Context, trip Trip, log *slog.Logger) (finished, announced bool) {
	channel := broker.Channel(trip.OrderID)
	for i, p := range trip.Waypoints {
		if ctx.Err() != nil {
			return false, false
		}
		if err := e.publish(ctx, channel, broker.LocationUpdate(p.Lat, p.Lng)); err != nil {
			log.WarnContext(ctx, "location event dropped", "index", i, "err", err)
		} else if e.opts.OnPosition != nil {
			e.opts.OnPosition(ctx, trip, p)
		}
		if !sleep(ctx, e.opts.Interval) {
			return false, false
		}
	}

	evt := broker.StatusUpdate(lifecycle.Delivered)
	for attempt := 1; attempt <= e.opts.TerminalAttempts; attempt++ {
		if ctx.Err() != nil {
			return false, false
		}
		err := e.publish(ctx, channel, evt)
		if err == nil {
			return true, true
		}
		log.WarnContext(ctx, "terminal event publish failed", "attempt", attempt, "err", err)
		if attempt < e.opts.TerminalAttempts && !sleep(ctx, e.opts.TerminalBackoff) {
			return false, false
		}
	}
	log.ErrorContext(ctx, "terminal event lost", "attempts", e.opts.TerminalAttempts)
	return true, false
}

func (e *Engine) publish(ctx context.Context, channel string, evt broker.Event) error {
	pctx, cancel := context.WithTimeout(ctx, e.opts.PublishTimeout)
	defer cancel()
	err := e.pub.Publish(pctx, channel, evt)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PlaybackEvents.WithLabelValues(evt.Type, result).Inc()
	return err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
