package teleop

import (
	"time"

	"github.com/gwillem/lerobot-remote/pkg/robot"
)

// Status is a point-in-time snapshot of the control loop. Maps are private
// copies; a published Status is never mutated.
type Status struct {
	Connected     bool
	Positions     map[string]robot.JointVector
	Targets       map[string]robot.JointVector
	Goals         map[string]robot.JointVector
	EmergencyStop bool
	Mode          Mode
	Pressed       []string
	Speed         SpeedProfile
	Timestamp     time.Time
	Error         error
}
