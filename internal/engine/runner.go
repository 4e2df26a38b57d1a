package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Runner calls made after Stop.
var ErrStopped = errors.New("runner stopped")

type request struct {
	ev    Event
	snap  bool
	reply chan response
}

type response struct {
	err  error
	snap Snapshot
}

// Runner owns an Engine on one goroutine: events and ticks are serialized
// through a single loop, so callers on any goroutine may Send.
type Runner struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	requests chan request
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	running bool
}

// NewRunner wraps e. A non-positive interval uses the engine's tick
// interval.
func NewRunner(e *Engine, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = e.Interval()
	}
	return &Runner{
		engine:   e,
		interval: interval,
		logger:   e.logger,
		requests: make(chan request),
	}
}

// Start launches the loop and returns immediately.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.running = true
	go r.run(ctx, r.stopCh, r.doneCh)
	r.logger.Debug("runner started", zap.Duration("interval", r.interval))
}

// Stop ends the loop and waits for it to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()
	<-done
	r.logger.Debug("runner stopped")
}

func (r *Runner) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.engine.Tick()
		case req := <-r.requests:
			var resp response
			if req.ev != nil {
				resp.err = r.engine.Handle(req.ev)
			}
			if req.snap {
				resp.snap = r.engine.Snapshot()
			}
			req.reply <- resp
		}
	}
}

func (r *Runner) call(ctx context.Context, req request) (response, error) {
	r.mu.Lock()
	running, stopCh, doneCh := r.running, r.stopCh, r.doneCh
	r.mu.Unlock()
	if !running {
		return response{}, ErrStopped
	}

	req.reply = make(chan response, 1)
	select {
	case r.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-stopCh:
		return response{}, ErrStopped
	case <-doneCh:
		return response{}, ErrStopped
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Send hands ev to the loop and returns the engine's result.
func (r *Runner) Send(ctx context.Context, ev Event) error {
	resp, err := r.call(ctx, request{ev: ev})
	if err != nil {
		return err
	}
	return resp.err
}

// Snapshot returns a state copy taken on the loop.
func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	resp, err := r.call(ctx, request{snap: true})
	return resp.snap, err
}

// WaitIdle blocks until no animation is in flight.
func (r *Runner) WaitIdle(ctx context.Context) (Snapshot, error) {
	for {
		snap, err := r.Snapshot(ctx)
		if err != nil || !snap.Animating {
			return snap, err
		}
		select {
		case <-time.After(r.interval):
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}
