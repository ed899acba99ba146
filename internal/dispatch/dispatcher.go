// Package dispatch provides the single UI execution context of the map host.
//
// Every mutation of command state, draw session and map layers runs on the
// dispatcher goroutine, one func at a time, in the order it was posted.
// Async work (remote queries) posts its completion back onto the dispatcher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("dispatch: dispatcher closed")

type Dispatcher struct {
	logger  *slog.Logger
	queue   chan func()
	stop    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	running   atomic.Bool
}

func New(logger *slog.Logger, buffer int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		logger:  logger,
		queue:   make(chan func(), buffer),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the loop goroutine; later calls are no-ops
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.running.Store(true)
		go d.loop()
	})
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	defer d.running.Store(false)
	for {
		select {
		case <-d.stop:
			return
		case fn := <-d.queue:
			d.exec(fn)
		}
	}
}

func (d *Dispatcher) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic on ui dispatcher", "err", fmt.Sprint(rec))
		}
	}()
	fn()
}

// Post enqueues fn without waiting for it to run. It reports false once the
// dispatcher is closed.
func (d *Dispatcher) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-d.stop:
		return false
	default:
	}
	select {
	case <-d.stop:
		return false
	case d.queue <- fn:
		return true
	}
}

// Do runs fn on the dispatcher and waits for it. It must not be called from
// code already running on the dispatcher.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !d.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-d.stop:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("dispatch: wait: %w", ctx.Err())
	}
}

// Run starts the loop and blocks until ctx is done or the dispatcher is
// closed, then closes it
func (d *Dispatcher) Run(ctx context.Context) {
	d.Start()
	select {
	case <-ctx.Done():
	case <-d.stopped:
	}
	d.Close()
}

func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Close stops the loop and waits for the running func to return. Queued
// funcs that have not started are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.stop)
	})
	d.startOnce.Do(func() { close(d.stopped) })
	<-d.stopped
}
