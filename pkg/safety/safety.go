// Package safety clamps goal positions before they are written to a motor bus.
//
// Two stages run in order: an absolute per-motor range table chosen by robot
// type, then a relative limit on how far a goal may lead the present position.
// Both are off unless configured. Neither stage reorders or resizes a goal.
package safety

import (
	"fmt"
	"math"
	"sync"

	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

// Range bounds one motor's goal, in degrees.
type Range struct {
	Min float64
	Max float64
}

// Table holds absolute ranges keyed by motor role. Motors without an entry
// are not limited.
type Table map[robot.MotorName]Range

// MaxDelta is the largest allowed |goal - present| per tick. A single value
// applies to every motor; otherwise there is one value per motor slot. Nil
// disables the relative stage.
type MaxDelta []float64

var builtin = map[string]Table{
	"so100": {
		robot.ShoulderPan:  {Min: -110, Max: 110},
		robot.ShoulderLift: {Min: -100, Max: 100},
		robot.ElbowFlex:    {Min: -100, Max: 100},
		robot.WristFlex:    {Min: -100, Max: 100},
		robot.WristRoll:    {Min: -160, Max: 160},
		robot.Gripper:      {Min: -10, Max: 100},
	},
}

func init() {
	builtin["so101"] = builtin["so100"]
}

// BuiltinTable returns a copy of the range table for a robot type, or nil.
func BuiltinTable(robotType string) Table {
	t, ok := builtin[robotType]
	if !ok {
		return nil
	}
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// ClampAbsolute bounds each slot of goal by the table entry for its motor.
// An empty table passes goal through.
func ClampAbsolute(goal robot.JointVector, motors []robot.MotorName, table Table) robot.JointVector {
	out := goal.Clone()
	if len(table) == 0 {
		return out
	}
	for i, m := range motors {
		if i >= len(out) {
			break
		}
		r, ok := table[m]
		if !ok {
			continue
		}
		out[i] = math.Min(math.Max(out[i], r.Min), r.Max)
	}
	return out
}

// ClampRelative limits each slot of goal to within maxDelta of present and
// reports whether any value changed. An empty maxDelta passes goal through.
// Per-motor limits apply only when maxDelta has one value per slot of goal;
// any other length falls back to maxDelta[0] for every slot.
func ClampRelative(goal, present robot.JointVector, maxDelta MaxDelta) (robot.JointVector, bool) {
	out := goal.Clone()
	if len(maxDelta) == 0 {
		return out, false
	}
	perMotor := len(maxDelta) == len(out)
	changed := false
	for i := range out {
		if i >= len(present) {
			break
		}
		limit := maxDelta[0]
		if perMotor {
			limit = maxDelta[i]
		}
		switch diff := out[i] - present[i]; {
		case diff > limit:
			out[i] = present[i] + limit
			changed = true
		case diff < -limit:
			out[i] = present[i] - limit
			changed = true
		}
	}
	return out, changed
}

// Recorder journals clamp events.
type Recorder interface {
	Record(kind, message string, meta map[string]any)
}

// Config selects which stages run.
type Config struct {
	RobotType   string
	Absolute    bool
	Limits      Table // merged over the built-in table for RobotType
	MaxRelative MaxDelta
}

// Limiter applies the configured stages to every arm's goals.
type Limiter struct {
	motors   map[string][]robot.MotorName
	table    Table
	maxDelta MaxDelta
	log      *logger.Logger
	rec      Recorder

	mu       sync.Mutex
	clamping map[string]bool
}

// New returns a limiter for arms. rec may be nil.
func New(cfg Config, arms []robot.ArmSpec, log *logger.Logger, rec Recorder) (*Limiter, error) {
	if log == nil {
		log = logger.Nop()
	}
	l := &Limiter{
		motors:   make(map[string][]robot.MotorName, len(arms)),
		log:      log,
		rec:      rec,
		clamping: make(map[string]bool),
	}
	for _, a := range arms {
		l.motors[a.Name] = a.Motors
	}

	if cfg.Absolute {
		table := BuiltinTable(cfg.RobotType)
		if table == nil {
			table = make(Table, len(cfg.Limits))
		}
		for m, r := range cfg.Limits {
			if r.Min > r.Max {
				return nil, fmt.Errorf("limit for %s: min %v above max %v", m, r.Min, r.Max)
			}
			table[m] = r
		}
		if len(table) == 0 {
			log.Warnw("absolute limits enabled but no table for robot type", "robot_type", cfg.RobotType)
		}
		l.table = table
	}

	if cfg.MaxRelative != nil {
		for _, d := range cfg.MaxRelative {
			if d < 0 {
				return nil, fmt.Errorf("max relative target must not be negative, got %v", d)
			}
		}
		switch n := len(cfg.MaxRelative); {
		case n == 0:
			return nil, fmt.Errorf("max relative target is empty")
		case n > 1:
			for _, a := range arms {
				if len(a.Motors) != n {
					return nil, fmt.Errorf("arm %s has %d motors, max relative target has %d values", a.Name, len(a.Motors), n)
				}
			}
		}
		l.maxDelta = cfg.MaxRelative
	}
	return l, nil
}

// Enabled reports whether any stage is active.
func (l *Limiter) Enabled() bool {
	return len(l.table) > 0 || l.maxDelta != nil
}

// Apply runs the absolute stage, then the relative stage, on one arm's goal.
func (l *Limiter) Apply(arm string, goal, present robot.JointVector) robot.JointVector {
	out := ClampAbsolute(goal, l.motors[arm], l.table)
	if len(present) != len(out) {
		return out
	}

	safe, changed := ClampRelative(out, present, l.maxDelta)
	if changed {
		requested := make([]float64, len(out))
		clamped := make([]float64, len(out))
		for i := range out {
			requested[i] = out[i] - present[i]
			clamped[i] = safe[i] - present[i]
		}
		l.log.Warnw("relative goal position clamped", "arm", arm, "requested", requested, "clamped", clamped)
	}
	l.noteClamp(arm, changed)
	return safe
}

// noteClamp journals the start of a clamping episode, not every clamped tick.
func (l *Limiter) noteClamp(arm string, changed bool) {
	l.mu.Lock()
	was := l.clamping[arm]
	l.clamping[arm] = changed
	l.mu.Unlock()
	if changed && !was && l.rec != nil {
		l.rec.Record("clamp", "relative goal clamped", map[string]any{"arm": arm})
	}
}
