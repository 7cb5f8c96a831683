package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/gwillem/lerobot-remote/pkg/config"
	"github.com/gwillem/lerobot-remote/pkg/journal"
	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/relay"
	"github.com/gwillem/lerobot-remote/pkg/robot"
	"github.com/gwillem/lerobot-remote/pkg/safety"
	"github.com/gwillem/lerobot-remote/pkg/teleop"
)

// simMaxStep is how far a simulated joint moves per control tick.
const simMaxStep = 4.0

// runtime holds what every command needs before it touches an arm: settings,
// a logger and, when enabled, the event journal.
type runtime struct {
	cfg     config.Config
	log     *logger.Logger
	journal *journal.Journal
	closers []io.Closer
}

// newRuntime loads settings. TUI commands log to the configured file so the
// alternate screen stays clean.
func newRuntime(tui bool) (*runtime, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	if tui && cfg.Logging.File != "" {
		log, closer, err := logger.File(cfg.Logging.File, cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		rt.log = log
		rt.closers = append(rt.closers, closer)
	} else {
		rt.log = logger.Stdout(cfg.Logging.Level)
	}

	if cfg.Journal.Path != "" {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, db)
		rt.journal = journal.New(db, 0, rt.log.Named("journal"))
	}
	return rt, nil
}

// recorder returns the journal as a Recorder, or nil when it is disabled.
func (rt *runtime) recorder() teleop.Recorder {
	if rt.journal == nil {
		return nil
	}
	return rt.journal
}

func (rt *runtime) lister() relay.EventLister {
	if rt.journal == nil {
		return nil
	}
	return rt.journal
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
	rt.closers = nil
}

// followerBus returns the bus the control loop drives and its arm layout.
func (rt *runtime) followerBus(sim bool) (robot.Bus, []robot.ArmSpec, error) {
	if sim {
		arms := rt.cfg.Arms()
		bus := robot.NewSimBus(arms...)
		bus.MaxStep = simMaxStep
		return bus, arms, nil
	}

	rc, err := robot.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("no arm configuration found, run 'lerobot setup' first: %w", err)
	}
	if err := rc.Follower.Ready("follower"); err != nil {
		return nil, nil, fmt.Errorf("%w, run 'lerobot setup' first", err)
	}
	bus := robot.NewFeetechBus(rc.FollowerPort(rt.cfg.Control.Arm))
	return bus, bus.Specs(), nil
}

// stack is the local control pipeline: engine, safety stage, control loop
// and the dispatcher every input source feeds.
type stack struct {
	*runtime
	engine *teleop.Engine
	ctrl   *teleop.Controller
	disp   *teleop.Dispatcher
}

func (rt *runtime) newStack(bus robot.Bus, arms []robot.ArmSpec, leader teleop.Sampler) (*stack, error) {
	rec := rt.recorder()

	engineCfg, err := rt.cfg.Engine(arms)
	if err != nil {
		return nil, err
	}
	engine, err := teleop.NewEngine(engineCfg,
		teleop.WithLogger(rt.log.Named("engine")),
		teleop.WithRecorder(rec),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	limiter, err := safety.New(rt.cfg.Limiter(), arms, rt.log.Named("safety"), rec)
	if err != nil {
		return nil, fmt.Errorf("safety: %w", err)
	}

	ctrlCfg := rt.cfg.Controller()
	if limiter.Enabled() {
		ctrlCfg.Limiter = limiter
	}
	ctrlCfg.Leader = leader
	ctrlCfg.Logger = rt.log.Named("control")
	ctrlCfg.Recorder = rec
	ctrl := teleop.NewController(bus, engine, ctrlCfg)

	return &stack{
		runtime: rt,
		engine:  engine,
		ctrl:    ctrl,
		disp:    teleop.NewDispatcher(engine, ctrl.Snapshot, rt.cfg.Relay.QueueSize, rt.log.Named("dispatch")),
	}, nil
}

// start runs the control loop, the dispatcher and the journal writer in g.
func (s *stack) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return s.ctrl.Run(ctx) })
	g.Go(func() error { return s.disp.Run(ctx) })
	if s.journal != nil {
		g.Go(func() error { return s.journal.Run(ctx) })
	}
}

func (s *stack) newRelay() *relay.Relay {
	return relay.New(s.disp, s.ctrl.Snapshot, relay.Options{
		StatusInterval: s.cfg.StatusInterval(),
		PingInterval:   s.cfg.PingInterval(),
		Journal:        s.lister(),
		Recorder:       s.recorder(),
		Logger:         s.log.Named("relay"),
	})
}

// wait returns the first error from g other than cancellation.
func wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
