package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gwillem/lerobot-remote/pkg/robot"
	"github.com/gwillem/lerobot-remote/pkg/teleop"
)

func TestCommand_Event(t *testing.T) {
	idx, pos := 3, 12.5

	tests := []struct {
		name string
		cmd  Command
		want teleop.Event
		err  error
	}{
		{"press", Command{Type: TypeKeyPress, Key: "w"}, teleop.Press("w", "src"), nil},
		{"release", Command{Type: TypeKeyRelease, Key: "w"}, teleop.Release("w", "src"), nil},
		{"estop", Command{Type: TypeEmergencyStop}, teleop.EmergencyToggle("src"), nil},
		{"set target", Command{Type: TypeSetTarget, Arm: "left", MotorIdx: &idx, Position: &pos},
			teleop.Event{Kind: teleop.EventSetTarget, Arm: "left", Motor: 3, Position: 12.5, Source: "src"}, nil},
		{"press without key", Command{Type: TypeKeyPress}, teleop.Event{}, ErrMissingField},
		{"set target without position", Command{Type: TypeSetTarget, MotorIdx: &idx}, teleop.Event{}, ErrMissingField},
		{"unknown", Command{Type: "dance"}, teleop.Event{}, ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Event("src")
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if err != nil {
				return
			}
			if got.Kind != tt.want.Kind || got.Key != tt.want.Key || got.Arm != tt.want.Arm ||
				got.Motor != tt.want.Motor || got.Position != tt.want.Position || got.Source != tt.want.Source {
				t.Errorf("event = %+v, want %+v", got, tt.want)
			}
		})
	}

	got, err := Command{Type: TypeGetStatus}.Event("src")
	if err != nil || got.Kind != teleop.EventStatus {
		t.Errorf("get_status = %+v, %v", got, err)
	}
}

func TestStatusUpdate_WireShape(t *testing.T) {
	su := newStatusUpdate(teleop.Status{
		Connected: true,
		Positions: map[string]robot.JointVector{robot.DefaultArm: {1, 2}},
		Targets:   map[string]robot.JointVector{robot.DefaultArm: {3, 4}},
		Mode:      teleop.ModeActive,
	})

	raw, err := json.Marshal(su)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != TypeStatusUpdate {
		t.Errorf("type = %v", m["type"])
	}
	if _, ok := m["timestamp"].(float64); !ok {
		t.Errorf("timestamp = %v", m["timestamp"])
	}
	data, _ := m["data"].(map[string]any)
	for _, key := range []string{"connected", "positions", "target_positions", "emergency_stop"} {
		if _, ok := data[key]; !ok {
			t.Errorf("data lacks %q: %s", key, raw)
		}
	}

	var back Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	s, ok := back.Snapshot()
	if !ok || s.TargetPositions[robot.DefaultArm][1] != 4 {
		t.Errorf("snapshot = %+v, %v", s, ok)
	}
}
