package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type ServeCommand struct {
	Sim  bool   `long:"sim" description:"Drive a simulated arm instead of the configured follower"`
	Bind string `long:"bind" description:"Listen address (default from settings)"`
}

func (c *ServeCommand) Execute(args []string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()
	if c.Bind != "" {
		rt.cfg.Relay.Bind = c.Bind
	}

	bus, arms, err := rt.followerBus(c.Sim)
	if err != nil {
		rt.log.Errorw("no arm to drive", "err", err)
		return err
	}
	s, err := rt.newStack(bus, arms, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	s.start(gctx, g)
	r := s.newRelay()
	g.Go(func() error { return r.Serve(gctx, rt.cfg.Relay.Bind) })

	rt.log.Infow("serving", "bind", rt.cfg.Relay.Bind, "sim", c.Sim, "hz", s.ctrl.Hz())
	err = wait(g)
	rt.log.Infow("stopped", "err", err)
	return err
}
