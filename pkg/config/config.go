// Package config loads lerobot.toml, the teleoperation settings file. Every
// section maps to a typed struct; omitted fields keep their defaults.
//
// Arm ports and calibration live in lerobot.json, written by "lerobot setup"
// (see package robot). This file only holds behavior.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/robot"
	"github.com/gwillem/lerobot-remote/pkg/safety"
	"github.com/gwillem/lerobot-remote/pkg/teleop"
)

// DefaultFile is the settings file looked up in the working directory.
const DefaultFile = "lerobot.toml"

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Control  ControlConfig  `toml:"control"`
	Keyboard KeyboardConfig `toml:"keyboard"`
	Safety   SafetyConfig   `toml:"safety"`
	Relay    RelayConfig    `toml:"relay"`
	Remote   RemoteConfig   `toml:"remote"`
	Logging  LoggingConfig  `toml:"logging"`
	Journal  JournalConfig  `toml:"journal"`
}

type ControlConfig struct {
	Hz        int    `toml:"hz"`
	BackoffMS int    `toml:"backoff_ms"`
	Arm       string `toml:"arm"`
}

type KeyboardConfig struct {
	InitialDelayMS   int                   `toml:"initial_delay_ms"`
	RepeatIntervalMS int                   `toml:"repeat_interval_ms"`
	ReleaseAfterMS   int                   `toml:"release_after_ms"`
	BaseSpeed        float64               `toml:"base_speed"`
	EmergencyStop    string                `toml:"emergency_stop"`
	Modifiers        []string              `toml:"modifiers"`
	SpeedUp          []string              `toml:"speed_up"`
	SpeedDown        []string              `toml:"speed_down"`
	SpeedReset       []string              `toml:"speed_reset"`
	ReplaceKeys      bool                  `toml:"replace_keys"`
	Keys             map[string]KeyBinding `toml:"keys,omitempty"`
}

// KeyBinding is one [keyboard.keys.<token>] table. Motor is a motor name such
// as "shoulder_lift"; Arm defaults to the control arm.
type KeyBinding struct {
	Arm   string  `toml:"arm"`
	Motor string  `toml:"motor"`
	Delta float64 `toml:"delta"`
}

type SafetyConfig struct {
	RobotType         string               `toml:"robot_type"`
	Absolute          bool                 `toml:"absolute"`
	Limits            map[string][]float64 `toml:"limits,omitempty"`
	MaxRelativeTarget []float64            `toml:"max_relative_target,omitempty"`
}

type RelayConfig struct {
	Bind             string `toml:"bind"`
	StatusIntervalMS int    `toml:"status_interval_ms"`
	PingIntervalS    int    `toml:"ping_interval_s"`
	QueueSize        int    `toml:"queue_size"`
}

type RemoteConfig struct {
	URL        string `toml:"url"`
	ReconnectS int    `toml:"reconnect_s"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type JournalConfig struct {
	Path string `toml:"path"` // empty disables the journal
}

// Default returns a Config populated with defaults. Values here are used
// whenever the TOML file omits a field.
func Default() Config {
	timing := teleop.DefaultTiming()
	controls := teleop.DefaultControls()
	return Config{
		Control: ControlConfig{
			Hz:        teleop.DefaultHz,
			BackoffMS: int(teleop.DefaultBackoff / time.Millisecond),
			Arm:       robot.DefaultArm,
		},
		Keyboard: KeyboardConfig{
			InitialDelayMS:   int(timing.InitialDelay / time.Millisecond),
			RepeatIntervalMS: int(timing.RepeatInterval / time.Millisecond),
			ReleaseAfterMS:   550,
			BaseSpeed:        teleop.DefaultBaseSpeed,
			EmergencyStop:    controls.EmergencyStop,
			Modifiers:        controls.Modifiers,
			SpeedUp:          controls.SpeedUp,
			SpeedDown:        controls.SpeedDown,
			SpeedReset:       controls.SpeedReset,
		},
		Safety: SafetyConfig{
			RobotType: "so100",
		},
		Relay: RelayConfig{
			Bind:             "0.0.0.0:8765",
			StatusIntervalMS: 100,
			PingIntervalS:    20,
			QueueSize:        teleop.DefaultQueueSize,
		},
		Remote: RemoteConfig{
			URL:        "ws://localhost:8765/ws",
			ReconnectS: 5,
		},
		Logging: LoggingConfig{
			Level: logger.InfoLevel,
			File:  "lerobot.log",
		},
		Journal: JournalConfig{
			Path: "lerobot-events.db",
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Save writes cfg as TOML to path.
func Save(path string, cfg Config) error {
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Control.Hz < 1 || cfg.Control.Hz > 1000 {
		return errors.New("control.hz must be between 1 and 1000")
	}
	if cfg.Control.BackoffMS < 0 {
		return errors.New("control.backoff_ms must be >= 0")
	}
	if cfg.Control.Arm == "" {
		return errors.New("control.arm must not be empty")
	}
	if cfg.Keyboard.InitialDelayMS < 0 {
		return errors.New("keyboard.initial_delay_ms must be >= 0")
	}
	if cfg.Keyboard.RepeatIntervalMS < 1 {
		return errors.New("keyboard.repeat_interval_ms must be >= 1")
	}
	if cfg.Keyboard.ReleaseAfterMS < 1 {
		return errors.New("keyboard.release_after_ms must be >= 1")
	}
	if cfg.Keyboard.BaseSpeed <= 0 {
		return errors.New("keyboard.base_speed must be > 0")
	}
	if cfg.Keyboard.EmergencyStop == "" {
		return errors.New("keyboard.emergency_stop must not be empty")
	}
	if err := cfg.controls().Validate(); err != nil {
		return fmt.Errorf("keyboard: %w", err)
	}
	for token := range cfg.Keyboard.Keys {
		if token != strings.ToLower(token) {
			return fmt.Errorf("keyboard.keys.%s: tokens must be lower case", token)
		}
	}
	if cfg.Keyboard.ReplaceKeys && len(cfg.Keyboard.Keys) == 0 {
		return errors.New("keyboard.replace_keys is set but keyboard.keys is empty")
	}
	for m, r := range cfg.Safety.Limits {
		if len(r) != 2 {
			return fmt.Errorf("safety.limits.%s must be [min, max]", m)
		}
	}
	if cfg.Relay.Bind == "" {
		return errors.New("relay.bind must not be empty")
	}
	if cfg.Relay.StatusIntervalMS < 1 {
		return errors.New("relay.status_interval_ms must be >= 1")
	}
	if cfg.Relay.PingIntervalS < 1 {
		return errors.New("relay.ping_interval_s must be >= 1")
	}
	if cfg.Relay.QueueSize < 1 {
		return errors.New("relay.queue_size must be >= 1")
	}
	if cfg.Remote.ReconnectS < 1 {
		return errors.New("remote.reconnect_s must be >= 1")
	}
	return nil
}

// Arms returns the arm layout driven by the control loop.
func (c Config) Arms() []robot.ArmSpec {
	return []robot.ArmSpec{{Name: c.Control.Arm, Motors: robot.AllMotors()}}
}

// Engine builds the engine configuration for arms.
func (c Config) Engine(arms []robot.ArmSpec) (teleop.Config, error) {
	keys, err := c.KeyMap(arms)
	if err != nil {
		return teleop.Config{}, err
	}
	return teleop.Config{
		Arms:       arms,
		DefaultArm: c.Control.Arm,
		Keys:       keys,
		Controls: c.controls(),
		Timing: teleop.Timing{
			InitialDelay:   ms(c.Keyboard.InitialDelayMS),
			RepeatInterval: ms(c.Keyboard.RepeatIntervalMS),
		},
		BaseSpeed: c.Keyboard.BaseSpeed,
	}, nil
}

func (c Config) controls() teleop.Controls {
	return teleop.Controls{
		EmergencyStop: c.Keyboard.EmergencyStop,
		Modifiers:     c.Keyboard.Modifiers,
		SpeedUp:       c.Keyboard.SpeedUp,
		SpeedDown:     c.Keyboard.SpeedDown,
		SpeedReset:    c.Keyboard.SpeedReset,
	}
}

// KeyMap merges [keyboard.keys] over the default layout, or replaces it when
// replace_keys is set.
func (c Config) KeyMap(arms []robot.ArmSpec) (teleop.KeyMap, error) {
	keys := teleop.KeyMap{}
	if !c.Keyboard.ReplaceKeys {
		keys = teleop.DefaultKeyMap()
	}
	for token, kb := range c.Keyboard.Keys {
		arm := kb.Arm
		if arm == "" {
			arm = c.Control.Arm
		}
		idx := -1
		for _, a := range arms {
			if a.Name == arm {
				idx = a.Index(robot.MotorName(kb.Motor))
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("keyboard.keys.%s: no motor %q on arm %q", token, kb.Motor, arm)
		}
		keys[token] = teleop.Binding{Arm: kb.Arm, Motor: idx, Delta: kb.Delta}
	}
	return keys, nil
}

// Limiter builds the safety stage settings.
func (c Config) Limiter() safety.Config {
	var limits safety.Table
	if len(c.Safety.Limits) > 0 {
		limits = make(safety.Table, len(c.Safety.Limits))
		for m, r := range c.Safety.Limits {
			limits[robot.MotorName(m)] = safety.Range{Min: r[0], Max: r[1]}
		}
	}
	var maxDelta safety.MaxDelta
	if len(c.Safety.MaxRelativeTarget) > 0 {
		maxDelta = safety.MaxDelta(c.Safety.MaxRelativeTarget)
	}
	return safety.Config{
		RobotType:   c.Safety.RobotType,
		Absolute:    c.Safety.Absolute,
		Limits:      limits,
		MaxRelative: maxDelta,
	}
}

// Controller builds the loop settings. Limiter, leader and sinks are wired
// by the caller.
func (c Config) Controller() teleop.ControllerConfig {
	return teleop.ControllerConfig{
		Hz:      c.Control.Hz,
		Backoff: ms(c.Control.BackoffMS),
	}
}

// ReleaseAfter is how long a terminal key counts as held after its last repeat.
func (c Config) ReleaseAfter() time.Duration {
	return ms(c.Keyboard.ReleaseAfterMS)
}

// StatusInterval is the relay's status_update period.
func (c Config) StatusInterval() time.Duration {
	return ms(c.Relay.StatusIntervalMS)
}

// PingInterval is the relay's websocket keepalive period.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.Relay.PingIntervalS) * time.Second
}

// ReconnectInterval is the remote client's redial delay.
func (c Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Remote.ReconnectS) * time.Second
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
