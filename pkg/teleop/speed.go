package teleop

import (
	"fmt"
	"math"
)

// Speed defaults and bounds.
const (
	DefaultSpeedScale = 1.0
	DefaultBaseSpeed  = 10.0 // degrees per unit of key delta
	DefaultHoldSpeed  = 2.0

	SpeedScaleMin = 0.1
	SpeedScaleMax = 5.0
	HoldSpeedMin  = 0.1
	HoldSpeedMax  = 10.0

	SpeedScaleStep = 0.1
	HoldSpeedStep  = 0.5
)

// SpeedProfile holds the operator-adjustable speed scalars. Hold is reserved
// for target-approach speed and does not affect key deltas.
type SpeedProfile struct {
	Scale float64
	Hold  float64
}

// DefaultSpeed returns the profile an engine starts with.
func DefaultSpeed() SpeedProfile {
	return SpeedProfile{Scale: DefaultSpeedScale, Hold: DefaultHoldSpeed}
}

// AdjustScale adds delta to Scale, bounded to [SpeedScaleMin, SpeedScaleMax].
// It reports whether the value changed.
func (s *SpeedProfile) AdjustScale(delta float64) bool {
	old := s.Scale
	s.Scale = bound(round2(s.Scale+delta), SpeedScaleMin, SpeedScaleMax)
	return s.Scale != old
}

// AdjustHold adds delta to Hold, bounded to [HoldSpeedMin, HoldSpeedMax].
func (s *SpeedProfile) AdjustHold(delta float64) bool {
	old := s.Hold
	s.Hold = bound(round2(s.Hold+delta), HoldSpeedMin, HoldSpeedMax)
	return s.Hold != old
}

// ResetScale restores the default scale.
func (s *SpeedProfile) ResetScale() bool {
	old := s.Scale
	s.Scale = DefaultSpeedScale
	return s.Scale != old
}

// ResetHold restores the default hold speed.
func (s *SpeedProfile) ResetHold() bool {
	old := s.Hold
	s.Hold = DefaultHoldSpeed
	return s.Hold != old
}

// Step returns the degrees one unit of key delta moves at this profile.
func (s SpeedProfile) Step(baseSpeed float64) float64 {
	return baseSpeed * s.Scale
}

func (s SpeedProfile) String() string {
	return fmt.Sprintf("Speed: %.1fx, Hold: %.1f°", s.Scale, s.Hold)
}

// round2 keeps repeated ±0.1 steps from drifting off the decimal grid.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func bound(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
