package robot

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestMotorCalibration_Degrees(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 1024,
		RangeMax: 3072,
	}

	tests := []struct {
		raw      int
		expected float64
	}{
		{2048, 0.0},   // center -> 0
		{3072, 90.0},  // quarter turn above center
		{1024, -90.0}, // quarter turn below center
		{2560, 45.0},
	}

	for _, tt := range tests {
		got := cal.Degrees(tt.raw)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("Degrees(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestMotorCalibration_DriveModeInverts(t *testing.T) {
	cal := MotorCalibration{RangeMin: 1024, RangeMax: 3072, DriveMode: 1}

	if got := cal.Degrees(3072); math.Abs(got+90) > 0.001 {
		t.Errorf("Degrees(3072) = %f, want -90", got)
	}
	if got := cal.Raw(-90); got != 3072 {
		t.Errorf("Raw(-90) = %d, want 3072", got)
	}
}

func TestMotorCalibration_RawBounds(t *testing.T) {
	cal := MotorCalibration{RangeMin: 0, RangeMax: 4095}

	if got := cal.Raw(400); got != MaxRawPosition {
		t.Errorf("Raw(400) = %d, want %d", got, MaxRawPosition)
	}
	if got := cal.Raw(-400); got != 0 {
		t.Errorf("Raw(-400) = %d, want 0", got)
	}
}

func TestMotorCalibration_RoundTrip(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 823,
		RangeMax: 3540,
	}

	// Test round-trip: raw -> degrees -> raw
	for raw := cal.RangeMin; raw <= cal.RangeMax; raw += 100 {
		deg := cal.Degrees(raw)
		back := cal.Raw(deg)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, deg, back)
		}
	}
}

func TestCalibration_MotorIDs(t *testing.T) {
	cal := Calibration{
		ShoulderPan:  MotorCalibration{ID: 1},
		ShoulderLift: MotorCalibration{ID: 2},
		ElbowFlex:    MotorCalibration{ID: 3},
		WristFlex:    MotorCalibration{ID: 4},
		WristRoll:    MotorCalibration{ID: 5},
		Gripper:      MotorCalibration{ID: 6},
	}

	ids := cal.MotorIDs()
	expected := []int{1, 2, 3, 4, 5, 6}

	if len(ids) != len(expected) {
		t.Fatalf("MotorIDs returned %d IDs, want %d", len(ids), len(expected))
	}

	for i, id := range ids {
		if id != expected[i] {
			t.Errorf("MotorIDs()[%d] = %d, want %d", i, id, expected[i])
		}
	}
}

func TestCalibration_ByID(t *testing.T) {
	cal := Calibration{
		ShoulderPan: MotorCalibration{ID: 1, RangeMin: 100, RangeMax: 200},
		Gripper:     MotorCalibration{ID: 6, RangeMin: 300, RangeMax: 400},
	}

	name, mc, ok := cal.ByID(1)
	if !ok {
		t.Fatal("ByID(1) returned false")
	}
	if name != ShoulderPan {
		t.Errorf("ByID(1) returned name %s, want shoulder_pan", name)
	}
	if mc.RangeMin != 100 {
		t.Errorf("ByID(1) returned wrong calibration: %+v", mc)
	}

	_, _, ok = cal.ByID(99)
	if ok {
		t.Error("ByID(99) should return false")
	}
}

func TestLoadCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "follower.json")
	data := `{"shoulder_pan": {"id": 1, "range_min": 10, "range_max": 20}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cal, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if cal[ShoulderPan].RangeMax != 20 {
		t.Errorf("range_max = %d, want 20", cal[ShoulderPan].RangeMax)
	}

	if _, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	cfg := &Config{
		Follower: ArmConfig{Port: "/dev/ttyACM0", Calibration: Calibration{Gripper: {ID: 6}}},
	}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if err := loaded.Follower.Ready("follower"); err != nil {
		t.Errorf("follower not ready: %v", err)
	}
	if err := loaded.Leader.Ready("leader"); err == nil {
		t.Error("leader without port should not be ready")
	}
	if p := loaded.FollowerPort(""); p.Name != DefaultArm || p.Port != "/dev/ttyACM0" {
		t.Errorf("FollowerPort(\"\") = %+v", p)
	}
	if p := loaded.FollowerPort("right"); p.Name != "right" || len(p.Calibration) == 0 {
		t.Errorf("FollowerPort(right) = %+v", p)
	}
}
