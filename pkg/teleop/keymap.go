package teleop

import (
	"fmt"
	"strings"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/robot"
)

// Binding moves one motor slot by Delta units per application. The applied
// delta in degrees is Delta * base speed * speed scale. An empty Arm means the
// engine's default arm.
type Binding struct {
	Arm   string
	Motor int
	Delta float64
}

// KeyMap maps lower-case key tokens to motor bindings. Tokens are opaque; the
// engine never interprets them beyond lookup.
type KeyMap map[string]Binding

// Controls names the keys with special meaning to the engine.
type Controls struct {
	EmergencyStop string
	Modifiers     []string
	SpeedUp       []string
	SpeedDown     []string
	SpeedReset    []string
}

// Validate checks that every control token is set and lower case. Press
// lower-cases incoming keys, so an upper-case control token could never fire.
func (c Controls) Validate() error {
	if c.EmergencyStop == "" {
		return fmt.Errorf("no emergency stop key configured")
	}
	groups := []struct {
		name   string
		tokens []string
	}{
		{"emergency stop", []string{c.EmergencyStop}},
		{"modifier", c.Modifiers},
		{"speed up", c.SpeedUp},
		{"speed down", c.SpeedDown},
		{"speed reset", c.SpeedReset},
	}
	for _, g := range groups {
		for _, key := range g.tokens {
			if key == "" {
				return fmt.Errorf("%s key: empty token", g.name)
			}
			if key != strings.ToLower(key) {
				return fmt.Errorf("%s key %q: tokens must be lower case", g.name, key)
			}
		}
	}
	return nil
}

// Timing configures continuous-press repeat.
type Timing struct {
	InitialDelay   time.Duration
	RepeatInterval time.Duration
}

// DefaultTiming returns a 100 ms initial delay and 50 ms repeat interval.
func DefaultTiming() Timing {
	return Timing{
		InitialDelay:   100 * time.Millisecond,
		RepeatInterval: 50 * time.Millisecond,
	}
}

// DefaultControls returns the keyboard layout's special keys.
func DefaultControls() Controls {
	return Controls{
		EmergencyStop: "escape",
		Modifiers:     []string{"control_l", "control_r"},
		SpeedUp:       []string{"plus", "equal"},
		SpeedDown:     []string{"minus"},
		SpeedReset:    []string{"asterisk", "multiply"},
	}
}

// DefaultKeyMap returns the keyboard layout for a six-motor arm. Some
// directions are inverted to match the physical mounting of the SO-100.
func DefaultKeyMap() KeyMap {
	const (
		pan = iota
		lift
		elbow
		wristFlex
		wristRoll
		gripper
	)
	return KeyMap{
		"w": {Motor: lift, Delta: 0.5},
		"s": {Motor: lift, Delta: -0.5},
		"a": {Motor: pan, Delta: -0.5},
		"d": {Motor: pan, Delta: 0.5},

		"q": {Motor: elbow, Delta: 0.5},
		"e": {Motor: elbow, Delta: -0.5},

		"r": {Motor: wristFlex, Delta: 0.5},
		"f": {Motor: wristFlex, Delta: -0.5},

		"z": {Motor: wristRoll, Delta: -0.5},
		"x": {Motor: wristRoll, Delta: 0.5},

		"c": {Motor: gripper, Delta: -0.5},
		"v": {Motor: gripper, Delta: 0.5},

		"up":    {Motor: lift, Delta: 0.5},
		"down":  {Motor: lift, Delta: -0.5},
		"left":  {Motor: pan, Delta: -0.5},
		"right": {Motor: pan, Delta: 0.5},

		"1": {Motor: pan, Delta: -0.5},
		"2": {Motor: lift, Delta: 0.5},
		"3": {Motor: elbow, Delta: 0.5},
		"4": {Motor: wristFlex, Delta: 0.5},
		"5": {Motor: wristRoll, Delta: -0.5},
		"6": {Motor: gripper, Delta: -0.5},

		// shifted digits run the other way
		"exclam":      {Motor: pan, Delta: 0.5},
		"at":          {Motor: lift, Delta: -0.5},
		"numbersign":  {Motor: elbow, Delta: -0.5},
		"dollar":      {Motor: wristFlex, Delta: -0.5},
		"percent":     {Motor: wristRoll, Delta: 0.5},
		"asciicircum": {Motor: gripper, Delta: 0.5},
	}
}

// Validate checks every binding against the arm layouts. defaultArm resolves
// bindings without an explicit arm.
func (m KeyMap) Validate(arms []robot.ArmSpec, defaultArm string) error {
	if len(m) == 0 {
		return fmt.Errorf("key map is empty")
	}
	sizes := make(map[string]int, len(arms))
	for _, a := range arms {
		sizes[a.Name] = len(a.Motors)
	}
	for key, b := range m {
		if key != strings.ToLower(key) {
			return fmt.Errorf("key %q: tokens must be lower case", key)
		}
		arm := b.Arm
		if arm == "" {
			arm = defaultArm
		}
		n, ok := sizes[arm]
		if !ok {
			return fmt.Errorf("key %q: %w %q", key, ErrUnknownArm, arm)
		}
		if b.Motor < 0 || b.Motor >= n {
			return fmt.Errorf("key %q: %w: %d not in [0, %d)", key, ErrMotorIndex, b.Motor, n)
		}
	}
	return nil
}

func contains(list []string, key string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}
