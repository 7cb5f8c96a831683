package teleop

import (
	"context"

	"github.com/gwillem/lerobot-remote/pkg/robot"
)

// Sampler produces raw target positions once per tick.
type Sampler interface {
	Sample(ctx context.Context) (map[string]robot.JointVector, error)
}

// LeaderArm is a passive arm moved by hand. *robot.Arm satisfies it.
type LeaderArm interface {
	ReadPositions(ctx context.Context) (robot.JointVector, error)
	Motors() []robot.MotorName
}

// LeaderSource samples a leader arm as targets for one follower arm.
type LeaderSource struct {
	arm    LeaderArm
	target string
	flip   []int
}

// NewLeaderSource returns a source feeding target from arm. With mirror set,
// shoulder_pan and wrist_roll are inverted so the follower moves like a
// reflection of the leader.
func NewLeaderSource(arm LeaderArm, target string, mirror bool) *LeaderSource {
	l := &LeaderSource{arm: arm, target: target}
	if mirror {
		for i, m := range arm.Motors() {
			if m == robot.ShoulderPan || m == robot.WristRoll {
				l.flip = append(l.flip, i)
			}
		}
	}
	return l
}

// Sample reads the leader arm.
func (l *LeaderSource) Sample(ctx context.Context) (map[string]robot.JointVector, error) {
	pos, err := l.arm.ReadPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, i := range l.flip {
		pos[i] = -pos[i]
	}
	return map[string]robot.JointVector{l.target: pos}, nil
}
