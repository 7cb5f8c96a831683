package teleop

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

var (
	ErrUnknownArm    = errors.New("unknown arm")
	ErrMotorIndex    = errors.New("motor index out of range")
	ErrNotSeeded     = errors.New("target positions not initialized")
	ErrEmergencyStop = errors.New("emergency stop active")
)

// Mode is the engine's coarse state. Idle and Active differ only in whether
// any motion key is held.
type Mode int

const (
	ModeIdle Mode = iota
	ModeActive
	ModeEmergencyStopped
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeActive:
		return "active"
	case ModeEmergencyStopped:
		return "emergency_stopped"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// gravityBias is added to goals, never to targets, to counteract sag under load.
var gravityBias = map[robot.MotorName]float64{
	robot.ShoulderLift: 6.0,
	robot.ElbowFlex:    3.0,
}

// Config describes the arms an engine drives and how keys move them.
type Config struct {
	Arms       []robot.ArmSpec
	DefaultArm string // empty selects the first arm
	Keys       KeyMap
	Controls   Controls // zero value selects DefaultControls
	Timing     Timing   // zero value selects DefaultTiming
	BaseSpeed  float64  // zero selects DefaultBaseSpeed
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for press timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder sets where safety events are journaled.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

// Engine turns input events into per-arm target positions and per-tick goal
// positions. It is the only writer of target, speed, press and emergency
// state; every method is safe for concurrent use and serializes on one mutex.
type Engine struct {
	mu sync.Mutex

	arms       []robot.ArmSpec
	specs      map[string]robot.ArmSpec
	defaultArm string
	keys       KeyMap
	controls   Controls
	timing     Timing
	baseSpeed  float64

	speed    SpeedProfile
	targets  map[string]robot.JointVector
	pressed  map[string]time.Time // key -> next repeat due
	modifier bool
	estop    bool

	reader robot.PositionReader
	now    func() time.Time
	log    *logger.Logger
	rec    Recorder
}

// NewEngine validates cfg and returns an engine with no targets yet.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if len(cfg.Arms) == 0 {
		return nil, errors.New("no arms configured")
	}
	specs := make(map[string]robot.ArmSpec, len(cfg.Arms))
	for _, a := range cfg.Arms {
		if a.Name == "" {
			return nil, errors.New("arm with empty name")
		}
		if len(a.Motors) == 0 {
			return nil, fmt.Errorf("arm %s has no motors", a.Name)
		}
		if _, dup := specs[a.Name]; dup {
			return nil, fmt.Errorf("arm %s configured twice", a.Name)
		}
		specs[a.Name] = a
	}

	defaultArm := cfg.DefaultArm
	if defaultArm == "" {
		defaultArm = cfg.Arms[0].Name
	}
	if _, ok := specs[defaultArm]; !ok {
		return nil, fmt.Errorf("default arm: %w %q", ErrUnknownArm, defaultArm)
	}

	controls := cfg.Controls
	if controls.EmergencyStop == "" && len(controls.Modifiers) == 0 &&
		len(controls.SpeedUp) == 0 && len(controls.SpeedDown) == 0 && len(controls.SpeedReset) == 0 {
		controls = DefaultControls()
	}
	if err := controls.Validate(); err != nil {
		return nil, err
	}

	timing := cfg.Timing
	if timing == (Timing{}) {
		timing = DefaultTiming()
	}
	if timing.RepeatInterval <= 0 || timing.InitialDelay < 0 {
		return nil, fmt.Errorf("invalid repeat timing %+v", timing)
	}

	baseSpeed := cfg.BaseSpeed
	if baseSpeed == 0 {
		baseSpeed = DefaultBaseSpeed
	}
	if baseSpeed < 0 {
		return nil, fmt.Errorf("base speed must be positive, got %v", baseSpeed)
	}

	if err := cfg.Keys.Validate(cfg.Arms, defaultArm); err != nil {
		return nil, err
	}
	special := append([]string{controls.EmergencyStop}, controls.Modifiers...)
	special = append(special, controls.SpeedUp...)
	special = append(special, controls.SpeedDown...)
	special = append(special, controls.SpeedReset...)
	for _, k := range special {
		if _, ok := cfg.Keys[k]; ok {
			return nil, fmt.Errorf("key %q is both a control key and a motion key", k)
		}
	}

	e := &Engine{
		arms:       cfg.Arms,
		specs:      specs,
		defaultArm: defaultArm,
		keys:       cfg.Keys,
		controls:   controls,
		timing:     timing,
		baseSpeed:  baseSpeed,
		speed:      DefaultSpeed(),
		targets:    make(map[string]robot.JointVector, len(cfg.Arms)),
		pressed:    make(map[string]time.Time),
		now:        time.Now,
		log:        logger.Nop(),
		rec:        nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AttachReader sets the source used to latch the present pose when the
// emergency stop engages. The controller attaches itself.
func (e *Engine) AttachReader(r robot.PositionReader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reader = r
}

// Arms returns the configured arm layouts.
func (e *Engine) Arms() []robot.ArmSpec {
	return e.arms
}

// Press handles a key going down.
func (e *Engine) Press(ctx context.Context, key string) {
	key = strings.ToLower(key)
	if key == e.controls.EmergencyStop {
		e.ToggleEmergency(ctx)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.estop {
		e.log.Infow("key blocked, emergency stop active", "key", key)
		return
	}

	switch {
	case contains(e.controls.Modifiers, key):
		e.modifier = true
		return
	case contains(e.controls.SpeedUp, key):
		e.adjustSpeed(+1)
		return
	case contains(e.controls.SpeedDown, key):
		e.adjustSpeed(-1)
		return
	case contains(e.controls.SpeedReset, key):
		e.resetSpeed()
		return
	}

	b, ok := e.keys[key]
	if !ok {
		e.log.Debugw("key has no mapping", "key", key)
		return
	}
	if _, held := e.pressed[key]; held {
		return
	}
	e.pressed[key] = e.now().Add(e.timing.InitialDelay)
	e.apply(key, b)
}

// Release handles a key going up. Targets keep their accumulated value.
func (e *Engine) Release(key string) {
	key = strings.ToLower(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if contains(e.controls.Modifiers, key) {
		e.modifier = false
		return
	}
	if _, held := e.pressed[key]; !held {
		return
	}
	delete(e.pressed, key)
	if b, ok := e.keys[key]; ok {
		if t, ok := e.targets[e.armOf(b)]; ok {
			e.log.Debugw("key released", "key", key, "motor", b.Motor, "target", t[b.Motor])
		}
	}
}

// ToggleEmergency flips the emergency stop and reports whether it is now
// active. Activation drops all held keys and latches the present pose into
// the targets. If the pose cannot be read the stop stays engaged and targets
// are left as they were.
func (e *Engine) ToggleEmergency(ctx context.Context) bool {
	e.mu.Lock()
	if e.estop {
		e.estop = false
		e.mu.Unlock()
		e.log.Infow("emergency stop released")
		e.rec.Record("emergency_stop", "released", nil)
		return false
	}
	e.estop = true
	e.modifier = false
	clear(e.pressed)
	reader := e.reader
	e.mu.Unlock()

	e.log.Warnw("emergency stop engaged")
	e.rec.Record("emergency_stop", "engaged", nil)

	if reader == nil {
		e.log.Errorw("emergency stop: no position source attached, targets unchanged")
		return true
	}

	// The engine lock is not held across bus I/O; the controller takes the bus
	// lock before the engine lock.
	pos, err := reader.ReadPositions(ctx)
	if err != nil {
		e.log.Errorw("emergency stop: position latch failed, targets unchanged", "err", err)
		e.rec.Record("emergency_stop", "position latch failed", map[string]any{"err": err.Error()})
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.estop {
		return false
	}
	for arm, p := range pos {
		spec, ok := e.specs[arm]
		if !ok || len(p) != len(spec.Motors) {
			continue
		}
		e.targets[arm] = p.Clone()
	}
	return true
}

// SetTarget sets one motor's target directly. An empty arm selects the default arm.
func (e *Engine) SetTarget(arm string, motor int, position float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.estop {
		return ErrEmergencyStop
	}
	if arm == "" {
		arm = e.defaultArm
	}
	spec, ok := e.specs[arm]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArm, arm)
	}
	if motor < 0 || motor >= len(spec.Motors) {
		return fmt.Errorf("%w: %d", ErrMotorIndex, motor)
	}
	t, ok := e.targets[arm]
	if !ok {
		return ErrNotSeeded
	}
	t[motor] = position
	return nil
}

// Follow replaces an arm's targets with a raw position sample, as produced by
// a leader arm.
func (e *Engine) Follow(arm string, positions robot.JointVector) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.estop {
		return ErrEmergencyStop
	}
	spec, ok := e.specs[arm]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArm, arm)
	}
	if err := positions.CheckLen(len(spec.Motors)); err != nil {
		return fmt.Errorf("follow %s: %w", arm, err)
	}
	e.targets[arm] = positions.Clone()
	return nil
}

// InitTargets seeds targets from a position read, overwriting existing ones.
func (e *Engine) InitTargets(current map[string]robot.JointVector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for arm, p := range current {
		spec, ok := e.specs[arm]
		if !ok || len(p) != len(spec.Motors) {
			continue
		}
		e.targets[arm] = p.Clone()
		e.log.Infow("targets initialized", "arm", arm, "positions", []float64(p))
	}
}

// Advance applies one delta per held key for every repeat interval that has
// elapsed by now. It is the only repeat scheduler; releasing a key is all it
// takes to stop its repeats.
func (e *Engine) Advance(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, due := range e.pressed {
		if now.Before(due) {
			continue
		}
		b := e.keys[key]
		for !now.Before(due) {
			e.apply(key, b)
			due = due.Add(e.timing.RepeatInterval)
		}
		e.pressed[key] = due
	}
}

// ComputeGoals returns the goal for every arm in current. While the emergency
// stop is engaged the goal is the present pose and targets follow it;
// otherwise the goal is the target plus gravity bias. An arm without targets
// is seeded from current first.
func (e *Engine) ComputeGoals(current map[string]robot.JointVector) (map[string]robot.JointVector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for arm, cur := range current {
		spec, ok := e.specs[arm]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownArm, arm)
		}
		if err := cur.CheckLen(len(spec.Motors)); err != nil {
			return nil, fmt.Errorf("arm %s: %w", arm, err)
		}
	}

	goals := make(map[string]robot.JointVector, len(current))
	for arm, cur := range current {
		if e.estop {
			e.targets[arm] = cur.Clone()
			goals[arm] = cur.Clone()
			continue
		}

		t, ok := e.targets[arm]
		if !ok {
			t = cur.Clone()
			e.targets[arm] = t
			e.log.Infow("targets seeded from present position", "arm", arm)
		}
		goal := t.Clone()
		for i, m := range e.specs[arm].Motors {
			goal[i] += gravityBias[m]
		}
		goals[arm] = goal
	}
	return goals, nil
}

// Targets returns a copy of the current targets.
func (e *Engine) Targets() map[string]robot.JointVector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return robot.ClonePositions(e.targets)
}

// Pressed returns the held motion keys, sorted.
func (e *Engine) Pressed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.pressed))
	for k := range e.pressed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Speed returns the current speed profile.
func (e *Engine) Speed() SpeedProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// EmergencyActive reports whether the emergency stop is engaged.
func (e *Engine) EmergencyActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estop
}

// Mode returns the engine's state.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode()
}

func (e *Engine) mode() Mode {
	switch {
	case e.estop:
		return ModeEmergencyStopped
	case len(e.pressed) > 0:
		return ModeActive
	default:
		return ModeIdle
	}
}

// Status returns a snapshot of engine state alone, with no bus readings.
func (e *Engine) Status() Status {
	s := Status{Timestamp: e.now()}
	e.snapshot(&s)
	return s
}

// snapshot fills the engine-owned fields of a status under one lock.
func (e *Engine) snapshot(s *Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.Targets = robot.ClonePositions(e.targets)
	s.EmergencyStop = e.estop
	s.Mode = e.mode()
	s.Speed = e.speed
	s.Pressed = make([]string, 0, len(e.pressed))
	for k := range e.pressed {
		s.Pressed = append(s.Pressed, k)
	}
	sort.Strings(s.Pressed)
}

func (e *Engine) armOf(b Binding) string {
	if b.Arm == "" {
		return e.defaultArm
	}
	return b.Arm
}

// apply adds one step of b to its target. Caller holds e.mu.
func (e *Engine) apply(key string, b Binding) {
	arm := e.armOf(b)
	t, ok := e.targets[arm]
	if !ok {
		e.log.Debugw("target update skipped, not initialized", "key", key, "arm", arm)
		return
	}
	delta := b.Delta * e.speed.Step(e.baseSpeed)
	t[b.Motor] += delta
	e.log.Debugw("target updated", "key", key, "arm", arm, "motor", b.Motor, "delta", delta, "target", t[b.Motor])
}

// adjustSpeed moves the scale, or the hold speed while a modifier is held.
// Caller holds e.mu.
func (e *Engine) adjustSpeed(dir float64) {
	if e.modifier {
		if e.speed.AdjustHold(dir * HoldSpeedStep) {
			e.log.Infow("hold speed adjusted", "hold", e.speed.Hold)
		}
		return
	}
	if e.speed.AdjustScale(dir * SpeedScaleStep) {
		e.log.Infow("speed adjusted", "scale", e.speed.Scale, "step_deg", e.speed.Step(e.baseSpeed))
	}
}

func (e *Engine) resetSpeed() {
	if e.modifier {
		if e.speed.ResetHold() {
			e.log.Infow("hold speed reset", "hold", e.speed.Hold)
		}
		return
	}
	if e.speed.ResetScale() {
		e.log.Infow("speed reset", "scale", e.speed.Scale)
	}
}
