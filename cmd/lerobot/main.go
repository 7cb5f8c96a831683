package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config string `short:"c" long:"config" default:"lerobot.toml" description:"Teleoperation settings file"`

	Setup       SetupCommand       `command:"setup" description:"Scan for arms and calibrate them"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Start teleoperation (leader-follower control)"`
	Keyboard    KeyboardCommand    `command:"keyboard" alias:"kb" description:"Drive the follower arm from this terminal's keyboard"`
	Serve       ServeCommand       `command:"serve" description:"Run the control loop with the remote relay, without a TUI"`
	Remote      RemoteCommand      `command:"remote" description:"Drive an arm on a remote relay from this terminal"`
	Events      EventsCommand      `command:"events" description:"Show the event journal"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "LeRobot - Robot arm control CLI for SO-100/SO-101 arms, locally or over the network"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
