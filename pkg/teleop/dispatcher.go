package teleop

import (
	"context"
	"errors"
	"fmt"

	"github.com/gwillem/lerobot-remote/pkg/logger"
)

// DefaultQueueSize is the capacity of the shared event queue.
const DefaultQueueSize = 256

// ErrQueueClosed is returned by Submit after the dispatcher has stopped.
var ErrQueueClosed = errors.New("dispatcher stopped")

// Dispatcher applies events from every input source to one engine, in
// arrival order, from a single goroutine.
type Dispatcher struct {
	engine *Engine
	status func() Status
	queue  chan Event
	done   chan struct{}
	log    *logger.Logger
}

// NewDispatcher returns a dispatcher for engine. status supplies the snapshot
// sent in reply to status events; when nil only engine state is reported.
func NewDispatcher(engine *Engine, status func() Status, size int, log *logger.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		engine: engine,
		status: status,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Submit enqueues ev, waiting for room until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	select {
	case d.queue <- ev:
		return nil
	case <-d.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.queue:
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("event handler panicked", "kind", ev.Kind, "source", ev.Source, "panic", fmt.Sprint(r))
		}
	}()

	switch ev.Kind {
	case EventKeyPress:
		d.engine.Press(ctx, ev.Key)
	case EventKeyRelease:
		d.engine.Release(ev.Key)
	case EventEmergencyStop:
		active := d.engine.ToggleEmergency(ctx)
		d.log.Infow("emergency stop toggled", "active", active, "source", ev.Source)
	case EventSetTarget:
		if err := d.engine.SetTarget(ev.Arm, ev.Motor, ev.Position); err != nil {
			d.log.Warnw("set target rejected", "arm", ev.Arm, "motor", ev.Motor, "err", err, "source", ev.Source)
		}
	case EventStatus:
		if ev.Reply != nil {
			ev.Reply(d.snapshot())
		}
	default:
		d.log.Warnw("unknown event", "kind", ev.Kind, "source", ev.Source)
	}
}

func (d *Dispatcher) snapshot() Status {
	if d.status != nil {
		return d.status()
	}
	return d.engine.Status()
}
