package robot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"
)

// Serial settings of an SO-100/SO-101 servo bus.
const (
	BaudRate    = 1_000_000
	busTimeout  = 100 * time.Millisecond
	scanTimeout = 2 * time.Second
	armServos   = 6
)

func openBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  busTimeout,
	})
}

// FoundArm is an arm discovered on a serial port.
type FoundArm struct {
	Port   string
	Servos []feetech.FoundServo
}

// IsSOArm reports whether ids are exactly the servo IDs 1 to 6.
func IsSOArm(ids []int) bool {
	if len(ids) != armServos {
		return false
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	for i, id := range sorted {
		if id != i+1 {
			return false
		}
	}
	return true
}

// ScanPorts probes every serial port for an SO arm. Ports that cannot be
// opened or answer with another servo layout are skipped.
func ScanPorts(ctx context.Context) ([]FoundArm, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	var found []FoundArm
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		servos, err := scanPort(ctx, port)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			continue
		}
		found = append(found, FoundArm{Port: port, Servos: servos})
	}
	return found, nil
}

func scanPort(ctx context.Context, port string) ([]feetech.FoundServo, error) {
	bus, err := openBus(port)
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()
	servos, err := bus.Scan(ctx, 1, armServos)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(servos))
	for i, s := range servos {
		ids[i] = s.ID
	}
	if !IsSOArm(ids) {
		return nil, fmt.Errorf("%s: not an SO arm (expected servos 1-%d)", port, armServos)
	}
	return servos, nil
}

// Wiggle turns shoulder_pan a little each way and back so the operator can
// tell which arm sits on the port. Torque is off again afterwards.
func Wiggle(ctx context.Context, arm FoundArm) error {
	var pan *feetech.FoundServo
	for i := range arm.Servos {
		if arm.Servos[i].ID == 1 {
			pan = &arm.Servos[i]
		}
	}
	if pan == nil {
		return errors.New("no shoulder_pan servo")
	}

	bus, err := openBus(arm.Port)
	if err != nil {
		return err
	}
	defer bus.Close()

	servo := feetech.NewServo(bus, pan.ID, pan.Model)
	origin, err := servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if err := servo.Enable(ctx); err != nil {
		return fmt.Errorf("enable servo: %w", err)
	}
	defer servo.Disable(ctx)

	const (
		amount = 30
		moveMs = 500
	)
	for _, pos := range []int{origin + amount, origin - amount, origin} {
		servo.SetPositionWithTime(ctx, pos, moveMs)
		time.Sleep((moveMs + 100) * time.Millisecond)
	}
	return nil
}

// DefaultCalibration maps each motor to its conventional servo ID with an
// empty range. It is enough to open an arm for calibration.
func DefaultCalibration() Calibration {
	cal := make(Calibration, armServos)
	for i, name := range AllMotors() {
		cal[name] = MotorCalibration{ID: i + 1}
	}
	return cal
}

// RangeRecorder tracks each motor's extreme raw positions while the operator
// moves the joints through their range.
type RangeRecorder struct {
	motors []MotorName
	cur    map[MotorName]int
	lo     map[MotorName]int
	hi     map[MotorName]int
}

// NewRangeRecorder returns a recorder for motors, in slot order.
func NewRangeRecorder(motors []MotorName) *RangeRecorder {
	return &RangeRecorder{
		motors: motors,
		cur:    make(map[MotorName]int, len(motors)),
		lo:     make(map[MotorName]int, len(motors)),
		hi:     make(map[MotorName]int, len(motors)),
	}
}

// Observe records one raw reading.
func (r *RangeRecorder) Observe(name MotorName, raw int) {
	if _, seen := r.cur[name]; !seen {
		r.lo[name], r.hi[name] = raw, raw
	}
	r.cur[name] = raw
	r.lo[name] = min(r.lo[name], raw)
	r.hi[name] = max(r.hi[name], raw)
}

// Motors returns the motors in slot order.
func (r *RangeRecorder) Motors() []MotorName {
	return r.motors
}

// Range returns the current reading and the extremes seen for a motor.
func (r *RangeRecorder) Range(name MotorName) (cur, lo, hi int) {
	return r.cur[name], r.lo[name], r.hi[name]
}

// Calibration returns the recorded ranges, with servo IDs in slot order.
func (r *RangeRecorder) Calibration() Calibration {
	cal := make(Calibration, len(r.motors))
	for i, name := range r.motors {
		cal[name] = MotorCalibration{ID: i + 1, RangeMin: r.lo[name], RangeMax: r.hi[name]}
	}
	return cal
}
