package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/gwillem/lerobot-remote/pkg/input"
)

type KeyboardCommand struct {
	Sim   bool `long:"sim" description:"Drive a simulated arm instead of the configured follower"`
	Relay bool `long:"relay" description:"Also accept remote operators on the relay address from settings"`
}

func (c *KeyboardCommand) Execute(args []string) error {
	rt, err := newRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	bus, arms, err := rt.followerBus(c.Sim)
	if err != nil {
		return err
	}
	s, err := rt.newStack(bus, arms, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	s.start(gctx, g)
	if c.Relay {
		r := s.newRelay()
		g.Go(func() error { return r.Serve(gctx, rt.cfg.Relay.Bind) })
	}

	title := "LeRobot Keyboard"
	if c.Sim {
		title += " (simulated)"
	}
	p := tea.NewProgram(newTeleopModel(tuiConfig{
		title:  title,
		arm:    rt.cfg.Control.Arm,
		motors: arms[0].Motors,
		hz:     s.ctrl.Hz(),
		views:  localViews(gctx, s.ctrl),
		logs:   s.ctrl.Logs(),
		keys:   dispatchSink{ctx: gctx, disp: s.disp},
		hold:   input.NewKeyHold(rt.cfg.ReleaseAfter(), 0),
		help:   "wasd/qe/rf/zx/cv move, +/- speed, * reset, esc emergency stop, ctrl+c quit",
	}), tea.WithAltScreen())
	go func() {
		<-gctx.Done()
		p.Quit()
	}()
	_, runErr := p.Run()

	cancel()
	if err := wait(g); err != nil {
		return err
	}
	return runErr
}
