package robot

import (
	"context"
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Arm represents a robot arm with multiple servos.
type Arm struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
	motors      []MotorName
}

// NewArm creates and initializes an arm connection.
func NewArm(port string, cal Calibration) (*Arm, error) {
	bus, err := openBus(port)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	// Create servo group from calibration IDs
	ids := cal.MotorIDs()
	group := feetech.NewServoGroupByIDs(bus, ids...)

	var motors []MotorName
	for _, name := range AllMotors() {
		if _, ok := cal[name]; ok {
			motors = append(motors, name)
		}
	}

	return &Arm{
		bus:         bus,
		group:       group,
		calibration: cal,
		motors:      motors,
	}, nil
}

// Motors returns the calibrated motors in slot order.
func (a *Arm) Motors() []MotorName {
	return a.motors
}

// Close closes the arm's bus connection.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Enable enables torque on all servos.
func (a *Arm) Enable(ctx context.Context) error {
	return a.group.EnableAll(ctx)
}

// Disable disables torque on all servos.
func (a *Arm) Disable(ctx context.Context) error {
	return a.group.DisableAll(ctx)
}

// ReadPositions reads current positions from all motors, in degrees and slot order.
func (a *Arm) ReadPositions(ctx context.Context) (JointVector, error) {
	rawPositions, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	positions := make(JointVector, len(a.motors))
	for i, name := range a.motors {
		cal := a.calibration[name]
		raw, ok := rawPositions[cal.ID]
		if !ok {
			return nil, fmt.Errorf("read positions: no reply from servo %d (%s)", cal.ID, name)
		}
		positions[i] = cal.Degrees(raw)
	}

	return positions, nil
}

// RawPositions reads uncalibrated servo positions, keyed by motor.
func (a *Arm) RawPositions(ctx context.Context) (map[MotorName]int, error) {
	raw, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	out := make(map[MotorName]int, len(a.motors))
	for _, name := range a.motors {
		if pos, ok := raw[a.calibration[name].ID]; ok {
			out[name] = pos
		}
	}
	return out, nil
}

// WritePositions writes goal positions, in degrees and slot order, to all motors.
func (a *Arm) WritePositions(ctx context.Context, goal JointVector) error {
	if err := goal.CheckLen(len(a.motors)); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}

	rawPositions := make(feetech.PositionMap, len(goal))
	for i, name := range a.motors {
		cal := a.calibration[name]
		rawPositions[cal.ID] = cal.Raw(goal[i])
	}

	// Write using sync write
	if err := a.group.SetPositions(ctx, rawPositions); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}

	return nil
}
