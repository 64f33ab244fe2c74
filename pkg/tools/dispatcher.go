package tools

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Dispatch once Shutdown has been called.
var ErrClosed = errors.New("dispatcher is shutting down")

// ToolFunc defines a function executed asynchronously.
type ToolFunc func(ctx context.Context) error

// Dispatcher tracks background tasks so shutdown can wait for them.
type Dispatcher struct {
	mu     sync.Mutex
	closed bool
	n      int
	idle   chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

var std = NewDispatcher()

// Dispatch runs the provided tool in a separate goroutine. Failures are
// logged under name; the caller does not wait for the result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, fn ToolFunc) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.n == 0 {
		d.idle = make(chan struct{})
	}
	d.n++
	d.mu.Unlock()

	go func() {
		defer d.done()
		log := logrus.WithFields(logrus.Fields{"component": "dispatch", "task": name})
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("task panicked: %v", r)
			}
		}()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("background task failed")
		}
	}()
	return nil
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n--
	if d.n == 0 {
		close(d.idle)
	}
}

// Wait blocks until every dispatched task returned or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	if d.n == 0 {
		d.mu.Unlock()
		return nil
	}
	idle := d.idle
	d.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses further work and waits for the running tasks.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Wait(ctx)
}

// Dispatch runs fn on the process-wide dispatcher.
func Dispatch(ctx context.Context, name string, fn ToolFunc) error {
	return std.Dispatch(ctx, name, fn)
}

// Wait waits on the process-wide dispatcher.
func Wait(ctx context.Context) error {
	return std.Wait(ctx)
}

// Shutdown closes the process-wide dispatcher.
func Shutdown(ctx context.Context) error {
	return std.Shutdown(ctx)
}
