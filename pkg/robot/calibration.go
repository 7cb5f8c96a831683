package robot

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Servo resolution of the STS3215: one revolution spans 4096 ticks.
const (
	TicksPerRevolution = 4096
	MaxRawPosition     = TicksPerRevolution - 1
)

// MotorCalibration holds calibration data for a single motor.
type MotorCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// Calibration holds calibration data for all motors, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// LoadCalibration loads calibration data from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}

	cal := make(Calibration, len(raw))
	for name, mc := range raw {
		cal[MotorName(name)] = mc
	}

	return cal, nil
}

func (c MotorCalibration) center() float64 {
	return float64(c.RangeMin+c.RangeMax) / 2
}

func (c MotorCalibration) sign() float64 {
	if c.DriveMode == 1 {
		return -1
	}
	return 1
}

// Degrees converts a raw servo position to degrees, with 0 at the middle of the
// calibrated range.
func (c MotorCalibration) Degrees(raw int) float64 {
	return c.sign() * (float64(raw) - c.center()) * 360 / TicksPerRevolution
}

// Raw converts degrees back to a raw servo position, bounded to the register range.
func (c MotorCalibration) Raw(deg float64) int {
	raw := int(math.Round(c.center() + c.sign()*deg*TicksPerRevolution/360))
	if raw < 0 {
		return 0
	}
	if raw > MaxRawPosition {
		return MaxRawPosition
	}
	return raw
}

// MotorIDs returns the servo IDs for all motors in the calibration.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	// Use AllMotors() to ensure consistent ordering
	for _, name := range AllMotors() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns motor name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}
