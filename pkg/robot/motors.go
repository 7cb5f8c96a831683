// Package robot provides abstractions for controlling robot arms.
package robot

import "fmt"

// MotorName identifies a motor in the arm.
type MotorName string

// Motor names for the SO-100/SO-101 arm.
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// DefaultArm is the name used for the single follower arm of an SO-100 setup.
const DefaultArm = "main"

// AllMotors returns all motor names in order (matching servo IDs 1-6).
func AllMotors() []MotorName {
	return []MotorName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}

// ArmSpec names an arm and fixes the order of its motor slots.
type ArmSpec struct {
	Name   string
	Motors []MotorName
}

// DefaultArmSpec returns the six-motor "main" arm.
func DefaultArmSpec() ArmSpec {
	return ArmSpec{Name: DefaultArm, Motors: AllMotors()}
}

// Index returns the slot of the named motor, or -1.
func (a ArmSpec) Index(name MotorName) int {
	for i, m := range a.Motors {
		if m == name {
			return i
		}
	}
	return -1
}

// JointVector holds one position in degrees per motor slot of an arm.
type JointVector []float64

// Zeros returns a vector of n zero positions.
func Zeros(n int) JointVector {
	return make(JointVector, n)
}

// Clone returns an independent copy.
func (v JointVector) Clone() JointVector {
	if v == nil {
		return nil
	}
	out := make(JointVector, len(v))
	copy(out, v)
	return out
}

// Equal reports whether both vectors have the same length and values.
func (v JointVector) Equal(o JointVector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// CheckLen returns an error unless the vector has exactly n entries.
func (v JointVector) CheckLen(n int) error {
	if len(v) != n {
		return fmt.Errorf("joint vector has %d entries, want %d", len(v), n)
	}
	return nil
}

// ClonePositions deep-copies a per-arm position map.
func ClonePositions(in map[string]JointVector) map[string]JointVector {
	if in == nil {
		return nil
	}
	out := make(map[string]JointVector, len(in))
	for name, v := range in {
		out[name] = v.Clone()
	}
	return out
}
