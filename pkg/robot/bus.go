package robot

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by bus operations issued before Connect or after Disconnect.
var ErrNotConnected = errors.New("bus not connected")

// ErrUnknownArm is returned when a bus is asked about an arm it does not drive.
var ErrUnknownArm = errors.New("unknown arm")

// Bus is the motor interface the control loop drives. Reads and writes block on
// serial I/O and must not be issued from two goroutines at once; callers
// serialize access themselves.
type Bus interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ReadPositions(ctx context.Context, arm string) (JointVector, error)
	WriteGoalPositions(ctx context.Context, arm string, goal JointVector) error
}

// GoalWriter is implemented by buses that write every arm's goal as one
// unit: either all goals are applied or none is.
type GoalWriter interface {
	WriteGoals(ctx context.Context, goals map[string]JointVector) error
}

// PositionReader reads the present pose of every arm it knows about.
type PositionReader interface {
	ReadPositions(ctx context.Context) (map[string]JointVector, error)
}
