package safety

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

type countingRecorder struct{ n int }

func (r *countingRecorder) Record(string, string, map[string]any) { r.n++ }

func TestClampAbsolute(t *testing.T) {
	motors := robot.AllMotors()
	table := BuiltinTable("so100")

	goal := robot.JointVector{200, -200, 0, 50, 170, -20}
	got := ClampAbsolute(goal, motors, table)
	want := robot.JointVector{110, -100, 0, 50, 160, -10}
	if !got.Equal(want) {
		t.Errorf("ClampAbsolute = %v, want %v", got, want)
	}
	if goal[0] != 200 {
		t.Error("input goal was modified")
	}

	if got := ClampAbsolute(goal, motors, nil); !got.Equal(goal) {
		t.Errorf("empty table changed goal to %v", got)
	}
	if BuiltinTable("koch") != nil {
		t.Error("unexpected table for unknown robot type")
	}
}

func TestClampRelative(t *testing.T) {
	present := robot.JointVector{0, 10, 20, 0, 0, 0}

	tests := []struct {
		name     string
		goal     robot.JointVector
		max      MaxDelta
		want     robot.JointVector
		wantFlag bool
	}{
		{"disabled", robot.JointVector{90, 0, 0, 0, 0, 0}, nil, robot.JointVector{90, 0, 0, 0, 0, 0}, false},
		{"within bounds", robot.JointVector{4, 14, 16, 0, 0, 0}, MaxDelta{5}, robot.JointVector{4, 14, 16, 0, 0, 0}, false},
		{"scalar", robot.JointVector{30, -10, 20, 0, 0, 0}, MaxDelta{5}, robot.JointVector{5, 5, 20, 0, 0, 0}, true},
		{"per motor", robot.JointVector{30, 30, 30, 30, 30, 30}, MaxDelta{1, 2, 3, 4, 5, 6}, robot.JointVector{1, 12, 23, 4, 5, 6}, true},
		{"empty", robot.JointVector{90, 0, 0, 0, 0, 0}, MaxDelta{}, robot.JointVector{90, 0, 0, 0, 0, 0}, false},
		{"length mismatch uses first", robot.JointVector{30, 30, 30, 30, 30, 30}, MaxDelta{1, 2}, robot.JointVector{1, 11, 21, 1, 1, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := ClampRelative(tt.goal, present, tt.max)
			if !got.Equal(tt.want) || changed != tt.wantFlag {
				t.Errorf("got %v (changed %v), want %v (changed %v)", got, changed, tt.want, tt.wantFlag)
			}
			if len(got) != len(tt.goal) {
				t.Errorf("length changed to %d", len(got))
			}
		})
	}
}

func TestLimiter_DefaultsOff(t *testing.T) {
	l, err := New(Config{RobotType: "so100"}, []robot.ArmSpec{robot.DefaultArmSpec()}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Enabled() {
		t.Error("limiter enabled without configuration")
	}
	goal := robot.JointVector{500, 0, 0, 0, 0, 0}
	if got := l.Apply(robot.DefaultArm, goal, robot.Zeros(6)); !got.Equal(goal) {
		t.Errorf("Apply = %v, want pass-through", got)
	}
}

func TestLimiter_BothStages(t *testing.T) {
	var buf bytes.Buffer
	rec := &countingRecorder{}
	l, err := New(Config{
		RobotType:   "so100",
		Absolute:    true,
		Limits:      Table{robot.Gripper: {Min: 0, Max: 50}},
		MaxRelative: MaxDelta{10},
	}, []robot.ArmSpec{robot.DefaultArmSpec()}, logger.New(&buf, logger.WarnLevel), rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	present := robot.JointVector{105, 0, 0, 0, 0, 45}
	got := l.Apply(robot.DefaultArm, robot.JointVector{300, 5, 0, 0, 0, 90}, present)
	want := robot.JointVector{110, 5, 0, 0, 0, 50}
	if !got.Equal(want) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
	if buf.Len() != 0 {
		t.Errorf("warning logged without relative clamp: %s", buf.String())
	}

	got = l.Apply(robot.DefaultArm, robot.JointVector{0, 50, 0, 0, 0, 0}, robot.Zeros(6))
	if want := (robot.JointVector{0, 10, 0, 0, 0, 0}); !got.Equal(want) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
	if !strings.Contains(buf.String(), "relative goal position clamped") {
		t.Errorf("no clamp warning in log: %q", buf.String())
	}

	_ = l.Apply(robot.DefaultArm, robot.JointVector{0, 50, 0, 0, 0, 0}, robot.Zeros(6))
	if rec.n != 1 {
		t.Errorf("recorded %d clamp events, want 1 per episode", rec.n)
	}
}

func TestLimiter_Validation(t *testing.T) {
	arms := []robot.ArmSpec{robot.DefaultArmSpec()}
	bad := []Config{
		{MaxRelative: MaxDelta{}},
		{MaxRelative: MaxDelta{-1}},
		{MaxRelative: MaxDelta{1, 2, 3}},
		{Absolute: true, Limits: Table{robot.Gripper: {Min: 10, Max: 0}}},
	}
	for i, cfg := range bad {
		if _, err := New(cfg, arms, nil, nil); err == nil {
			t.Errorf("config %d accepted", i)
		}
	}
}
