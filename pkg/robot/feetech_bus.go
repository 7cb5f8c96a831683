package robot

import (
	"context"
	"errors"
	"fmt"
)

// ArmPort pairs an arm name with its serial port and calibration.
type ArmPort struct {
	Name        string
	Port        string
	Calibration Calibration
}

// FeetechBus drives one or more Feetech arms as a single Bus. It is not safe
// for concurrent use.
type FeetechBus struct {
	ports []ArmPort
	arms  map[string]*Arm
}

// NewFeetechBus returns an unconnected bus for the given arms.
func NewFeetechBus(ports ...ArmPort) *FeetechBus {
	return &FeetechBus{ports: ports}
}

// Specs returns the arm layouts this bus drives, derived from calibration.
func (b *FeetechBus) Specs() []ArmSpec {
	specs := make([]ArmSpec, 0, len(b.ports))
	for _, p := range b.ports {
		var motors []MotorName
		for _, name := range AllMotors() {
			if _, ok := p.Calibration[name]; ok {
				motors = append(motors, name)
			}
		}
		specs = append(specs, ArmSpec{Name: p.Name, Motors: motors})
	}
	return specs
}

// Connect opens every arm's serial bus and enables torque.
func (b *FeetechBus) Connect(ctx context.Context) error {
	if b.arms != nil {
		return nil
	}
	arms := make(map[string]*Arm, len(b.ports))
	for _, p := range b.ports {
		arm, err := NewArm(p.Port, p.Calibration)
		if err != nil {
			closeArms(arms)
			return fmt.Errorf("connect %s on %s: %w", p.Name, p.Port, err)
		}
		if err := arm.Enable(ctx); err != nil {
			_ = arm.Close()
			closeArms(arms)
			return fmt.Errorf("enable torque on %s: %w", p.Name, err)
		}
		arms[p.Name] = arm
	}
	b.arms = arms
	return nil
}

// Disconnect disables torque and closes every arm's serial bus.
func (b *FeetechBus) Disconnect(ctx context.Context) error {
	if b.arms == nil {
		return ErrNotConnected
	}
	var errs []error
	for name, arm := range b.arms {
		if err := arm.Disable(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disable torque on %s: %w", name, err))
		}
		if err := arm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	b.arms = nil
	return errors.Join(errs...)
}

// ReadPositions reads the present position of one arm.
func (b *FeetechBus) ReadPositions(ctx context.Context, arm string) (JointVector, error) {
	a, err := b.arm(arm)
	if err != nil {
		return nil, err
	}
	return a.ReadPositions(ctx)
}

// WriteGoalPositions writes goal positions to one arm.
func (b *FeetechBus) WriteGoalPositions(ctx context.Context, arm string, goal JointVector) error {
	a, err := b.arm(arm)
	if err != nil {
		return err
	}
	return a.WritePositions(ctx, goal)
}

func (b *FeetechBus) arm(name string) (*Arm, error) {
	if b.arms == nil {
		return nil, ErrNotConnected
	}
	a, ok := b.arms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArm, name)
	}
	return a, nil
}

func closeArms(arms map[string]*Arm) {
	for _, a := range arms {
		_ = a.Close()
	}
}
