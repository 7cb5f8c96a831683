package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/gwillem/lerobot-remote/pkg/robot"
	"github.com/gwillem/lerobot-remote/pkg/teleop"
)

type TeleoperateCommand struct {
	Hz     int  `long:"hz" description:"Control loop frequency (default from settings)"`
	Mirror bool `long:"mirror" description:"Mirror mode: invert shoulder_pan and wrist_roll positions"`
}

func (c *TeleoperateCommand) Execute(args []string) error {
	// Load config
	cfg, err := robot.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'lerobot setup' first.")
		os.Exit(1)
	}
	for role, arm := range map[string]*robot.ArmConfig{"leader": &cfg.Leader, "follower": &cfg.Follower} {
		if err := arm.Ready(role); err != nil {
			fmt.Fprintf(os.Stderr, "%v. Run 'lerobot setup' first.\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Loaded configuration from %s\n", robot.DefaultConfigFile)

	rt, err := newRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()
	if c.Hz > 0 {
		rt.cfg.Control.Hz = c.Hz
	}

	// The leader is moved by hand, so its torque stays off.
	leader, err := robot.NewArm(cfg.Leader.Port, cfg.Leader.Calibration)
	if err != nil {
		return fmt.Errorf("leader arm: %w", err)
	}
	defer leader.Close()
	if err := leader.Disable(context.Background()); err != nil {
		return fmt.Errorf("leader arm: %w", err)
	}

	arm := rt.cfg.Control.Arm
	bus := robot.NewFeetechBus(cfg.FollowerPort(arm))
	s, err := rt.newStack(bus, bus.Specs(), teleop.NewLeaderSource(leader, arm, c.Mirror))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	s.start(gctx, g)

	// Run TUI
	p := tea.NewProgram(newTeleopModel(tuiConfig{
		title:   "LeRobot Teleoperate",
		arm:     arm,
		motors:  leader.Motors(),
		hz:      s.ctrl.Hz(),
		views:   localViews(gctx, s.ctrl),
		logs:    s.ctrl.Logs(),
		keys:    estopOnly{keySink: dispatchSink{ctx: gctx, disp: s.disp}, key: rt.cfg.Keyboard.EmergencyStop},
		quitKey: "q",
		help:    "Press 'q' to quit, esc toggles the emergency stop",
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
