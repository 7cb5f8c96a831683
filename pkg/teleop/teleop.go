// Package teleop turns operator input into motor goals for robot arms.
//
// An Engine holds targets, speed and emergency-stop state. A Dispatcher feeds
// it events from keyboards, remote clients and HTTP requests. A Controller runs
// the fixed-rate loop that reads the bus, asks the engine for goals, filters
// them and writes them back.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

// Loop defaults.
const (
	DefaultHz      = 20
	DefaultBackoff = time.Second
)

// ErrMultiArmBus is returned by Run when the engine drives several arms over
// a bus that cannot write their goals atomically.
var ErrMultiArmBus = errors.New("bus cannot write several arms as one unit")

// GoalFilter adjusts a goal before it is written. It must return a vector of
// the same length.
type GoalFilter interface {
	Apply(arm string, goal, present robot.JointVector) robot.JointVector
}

// ControllerConfig holds configuration for the controller.
type ControllerConfig struct {
	Hz       int
	Backoff  time.Duration // pause after a failed tick or connect attempt
	Limiter  GoalFilter    // optional
	Leader   Sampler       // optional, feeds Engine.Follow every tick
	Logger   *logger.Logger
	Recorder Recorder
}

// Controller manages the teleoperation control loop. It is the only user of
// the bus; every bus call happens under busMu.
type Controller struct {
	bus     robot.Bus
	engine  *Engine
	limiter GoalFilter
	leader  Sampler
	hz      int
	backoff time.Duration
	logger  *logger.Logger
	rec     Recorder

	busMu     sync.Mutex
	connected atomic.Bool
	running   atomic.Bool
	status    atomic.Pointer[Status]

	stateCh chan Status
	logCh   chan string
}

// NewController creates a controller driving bus with engine's goals. The
// controller becomes the engine's position source for emergency stops.
func NewController(bus robot.Bus, engine *Engine, cfg ControllerConfig) *Controller {
	if cfg.Hz <= 0 {
		cfg.Hz = DefaultHz
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	c := &Controller{
		bus:     bus,
		engine:  engine,
		limiter: cfg.Limiter,
		leader:  cfg.Leader,
		hz:      cfg.Hz,
		backoff: cfg.Backoff,
		logger:  cfg.Logger,
		rec:     cfg.Recorder,
		stateCh: make(chan Status, 1),
		logCh:   make(chan string, 10),
	}
	c.status.Store(&Status{Timestamp: time.Now()})
	engine.AttachReader(c)
	return c
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan Status {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// Engine returns the engine this controller drives.
func (c *Controller) Engine() *Engine {
	return c.engine
}

// Status returns the last published snapshot.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Snapshot returns the last published bus state combined with the engine's
// current state.
func (c *Controller) Snapshot() Status {
	s := c.Status()
	c.engine.snapshot(&s)
	s.Timestamp = time.Now()
	return s
}

// ReadPositions reads every arm under the bus lock.
func (c *Controller) ReadPositions(ctx context.Context) (map[string]robot.JointVector, error) {
	c.busMu.Lock()
	defer c.busMu.Unlock()
	if !c.connected.Load() {
		return nil, robot.ErrNotConnected
	}
	return c.readAll(ctx)
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Run connects, then drives the loop until ctx is cancelled. Bus failures
// never end the loop; it returns ctx.Err() after a best-effort disconnect.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("already running")
	}
	defer c.running.Store(false)

	if _, ok := c.bus.(robot.GoalWriter); !ok && len(c.engine.Arms()) > 1 {
		return ErrMultiArmBus
	}
	if err := c.connect(ctx); err != nil {
		return err
	}
	defer c.shutdown()

	c.log("Control loop started at %d Hz", c.hz)
	c.logger.Infow("control loop started", "hz", c.hz)

	// Ticks missed while a step runs are dropped by the ticker.
	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := c.step(ctx, now); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log("Tick failed: %v", err)
				c.logger.Warnw("tick failed, backing off", "err", err, "backoff", c.backoff)
				c.rec.Record("bus_error", err.Error(), nil)
				if !sleep(ctx, c.backoff) {
					return ctx.Err()
				}
			}
		}
	}
}

func (c *Controller) connect(ctx context.Context) error {
	c.publish(Status{})
	for attempt := 1; ; attempt++ {
		c.busMu.Lock()
		err := c.bus.Connect(ctx)
		if err == nil {
			c.connected.Store(true)
		}
		c.busMu.Unlock()

		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log("Connect failed (attempt %d): %v", attempt, err)
		c.logger.Warnw("connect failed", "attempt", attempt, "err", err)
		if attempt == 1 {
			c.rec.Record("bus_error", "connect failed: "+err.Error(), nil)
		}
		c.publish(Status{Error: err})
		if !sleep(ctx, c.backoff) {
			return ctx.Err()
		}
	}

	c.log("Bus connected")
	c.logger.Infow("bus connected")
	c.rec.Record("bus", "connected", nil)

	current, err := c.ReadPositions(ctx)
	if err != nil {
		// ComputeGoals seeds targets from the first successful read instead.
		c.logger.Warnw("initial position read failed", "err", err)
		c.publish(Status{Connected: true, Error: err})
		return nil
	}
	c.engine.InitTargets(current)
	c.publish(c.snapshot(current, nil, nil))
	return nil
}

// step runs one tick. On error nothing has been written for this tick.
func (c *Controller) step(ctx context.Context, now time.Time) error {
	c.engine.Advance(now)

	if c.leader != nil {
		sample, err := c.leader.Sample(ctx)
		if err != nil {
			return fmt.Errorf("leader: %w", err)
		}
		for arm, pos := range sample {
			if err := c.engine.Follow(arm, pos); err != nil && !errors.Is(err, ErrEmergencyStop) {
				return err
			}
		}
	}

	current, goals, err := c.exchange(ctx)
	if err != nil {
		prev := c.Status()
		c.publish(Status{Connected: c.connected.Load(), Positions: prev.Positions, Error: err})
		return err
	}
	c.publish(c.snapshot(current, goals, nil))
	return nil
}

// exchange reads every arm, computes and filters goals, and writes them, all
// under one hold of the bus lock.
func (c *Controller) exchange(ctx context.Context) (current, goals map[string]robot.JointVector, err error) {
	c.busMu.Lock()
	defer c.busMu.Unlock()

	current, err = c.readAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	goals, err = c.engine.ComputeGoals(current)
	if err != nil {
		return nil, nil, err
	}
	if c.limiter != nil {
		for arm, goal := range goals {
			goals[arm] = c.limiter.Apply(arm, goal, current[arm])
		}
	}
	if err := c.writeAll(ctx, goals); err != nil {
		return nil, nil, err
	}
	return current, goals, nil
}

// writeAll writes the goals of every arm. Run only allows per-arm writes for a
// single arm, so a failed tick never leaves some arms written. Caller holds
// busMu.
func (c *Controller) writeAll(ctx context.Context, goals map[string]robot.JointVector) error {
	if w, ok := c.bus.(robot.GoalWriter); ok {
		return w.WriteGoals(ctx, goals)
	}
	for _, spec := range c.engine.Arms() {
		goal, ok := goals[spec.Name]
		if !ok {
			continue
		}
		if err := c.bus.WriteGoalPositions(ctx, spec.Name, goal); err != nil {
			return fmt.Errorf("write %s: %w", spec.Name, err)
		}
	}
	return nil
}

// readAll reads each configured arm. Caller holds busMu.
func (c *Controller) readAll(ctx context.Context) (map[string]robot.JointVector, error) {
	arms := c.engine.Arms()
	out := make(map[string]robot.JointVector, len(arms))
	for _, spec := range arms {
		pos, err := c.bus.ReadPositions(ctx, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", spec.Name, err)
		}
		out[spec.Name] = pos
	}
	return out, nil
}

func (c *Controller) snapshot(current, goals map[string]robot.JointVector, err error) Status {
	s := Status{
		Connected: c.connected.Load(),
		Positions: robot.ClonePositions(current),
		Goals:     robot.ClonePositions(goals),
		Error:     err,
	}
	c.engine.snapshot(&s)
	return s
}

func (c *Controller) publish(s Status) {
	s.Timestamp = time.Now()
	c.status.Store(&s)
	c.sendState(s)
}

func (c *Controller) sendState(s Status) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.busMu.Lock()
	err := c.bus.Disconnect(ctx)
	c.connected.Store(false)
	c.busMu.Unlock()

	if err != nil {
		c.log("Warning: disconnect failed: %v", err)
		c.logger.Warnw("disconnect failed", "err", err)
	} else {
		c.log("Bus disconnected")
		c.logger.Infow("bus disconnected")
	}
	c.rec.Record("bus", "disconnected", nil)
	prev := c.Status()
	c.publish(Status{Positions: prev.Positions})
	c.log("Teleoperation stopped")
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
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
