package teleop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/robot"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	pos map[string]robot.JointVector
	err error
}

func (f fakeReader) ReadPositions(context.Context) (map[string]robot.JointVector, error) {
	if f.err != nil {
		return nil, f.err
	}
	return robot.ClonePositions(f.pos), nil
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	e, err := NewEngine(Config{
		Arms: []robot.ArmSpec{robot.DefaultArmSpec()},
		Keys: DefaultKeyMap(),
	}, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.InitTargets(map[string]robot.JointVector{robot.DefaultArm: robot.Zeros(6)})
	return e
}

func target(e *Engine, motor int) float64 {
	return e.Targets()[robot.DefaultArm][motor]
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEngine_PressRepeatRelease(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	e.Press(ctx, "w")
	if got := target(e, 1); got != 5.0 {
		t.Fatalf("after press: shoulder_lift target = %v, want 5", got)
	}
	if e.Mode() != ModeActive {
		t.Errorf("mode = %v, want active", e.Mode())
	}

	e.Advance(t0.Add(50 * time.Millisecond))
	if got := target(e, 1); got != 5.0 {
		t.Errorf("before initial delay: target = %v, want 5", got)
	}

	e.Advance(t0.Add(100 * time.Millisecond))
	if got := target(e, 1); got != 10.0 {
		t.Errorf("at initial delay: target = %v, want 10", got)
	}

	// due at 150 and 200, not yet at 250
	e.Advance(t0.Add(249 * time.Millisecond))
	if got := target(e, 1); got != 20.0 {
		t.Errorf("after catch-up: target = %v, want 20", got)
	}

	e.Release("w")
	e.Advance(t0.Add(time.Second))
	if got := target(e, 1); got != 20.0 {
		t.Errorf("after release: target = %v, want 20", got)
	}
	if e.Mode() != ModeIdle {
		t.Errorf("mode = %v, want idle", e.Mode())
	}
}

func TestEngine_DuplicateAndUnmappedPress(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	e.Press(ctx, "d")
	e.Press(ctx, "d")
	if got := target(e, 0); got != 5.0 {
		t.Errorf("duplicate press: shoulder_pan target = %v, want 5", got)
	}

	e.Press(ctx, "F12")
	e.Press(ctx, "y")
	want := robot.JointVector{5, 0, 0, 0, 0, 0}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(want) {
		t.Errorf("targets = %v, want %v", got, want)
	}
	if got := e.Pressed(); len(got) != 1 || got[0] != "d" {
		t.Errorf("pressed = %v, want [d]", got)
	}
}

func TestEngine_KeyTable(t *testing.T) {
	tests := []struct {
		key   string
		motor int
		want  float64
	}{
		{"w", 1, 5}, {"s", 1, -5}, {"a", 0, -5}, {"d", 0, 5},
		{"q", 2, 5}, {"e", 2, -5}, {"r", 3, 5}, {"f", 3, -5},
		{"z", 4, -5}, {"x", 4, 5}, {"c", 5, -5}, {"v", 5, 5},
		{"up", 1, 5}, {"left", 0, -5},
		{"1", 0, -5}, {"exclam", 0, 5}, {"6", 5, -5}, {"asciicircum", 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			e := newTestEngine(t)
			e.Press(context.Background(), tt.key)
			if got := target(e, tt.motor); got != tt.want {
				t.Errorf("target[%d] = %v, want %v", tt.motor, got, tt.want)
			}
		})
	}
}

func TestEngine_GravityBiasOnlyInGoals(t *testing.T) {
	e := newTestEngine(t)

	current := map[string]robot.JointVector{robot.DefaultArm: robot.Zeros(6)}
	goals, err := e.ComputeGoals(current)
	if err != nil {
		t.Fatalf("ComputeGoals: %v", err)
	}
	want := robot.JointVector{0, 6, 3, 0, 0, 0}
	if got := goals[robot.DefaultArm]; !got.Equal(want) {
		t.Errorf("goal = %v, want %v", got, want)
	}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(robot.Zeros(6)) {
		t.Errorf("targets changed to %v", got)
	}
}

func TestEngine_SeedsFromFirstRead(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(Config{Arms: []robot.ArmSpec{robot.DefaultArmSpec()}, Keys: DefaultKeyMap()},
		WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// no targets yet: the press is tracked but nothing moves
	e.Press(ctx, "w")
	if _, ok := e.Targets()[robot.DefaultArm]; ok {
		t.Fatal("targets exist before first read")
	}

	current := map[string]robot.JointVector{robot.DefaultArm: {10, 20, 30, 40, 50, 60}}
	goals, err := e.ComputeGoals(current)
	if err != nil {
		t.Fatalf("ComputeGoals: %v", err)
	}
	if want := (robot.JointVector{10, 26, 33, 40, 50, 60}); !goals[robot.DefaultArm].Equal(want) {
		t.Errorf("goal = %v, want %v", goals[robot.DefaultArm], want)
	}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(current[robot.DefaultArm]) {
		t.Errorf("seeded targets = %v, want %v", got, current[robot.DefaultArm])
	}

	e.Advance(t0.Add(100 * time.Millisecond))
	if got := target(e, 1); got != 25 {
		t.Errorf("repeat after seeding: target = %v, want 25", got)
	}
}

func TestEngine_ComputeGoalsRejectsBadReads(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.ComputeGoals(map[string]robot.JointVector{robot.DefaultArm: {1, 2}}); err == nil {
		t.Error("short vector accepted")
	}
	if _, err := e.ComputeGoals(map[string]robot.JointVector{"left": robot.Zeros(6)}); !errors.Is(err, ErrUnknownArm) {
		t.Errorf("unknown arm: got %v, want ErrUnknownArm", err)
	}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(robot.Zeros(6)) {
		t.Errorf("targets changed to %v", got)
	}
}

func TestEngine_EmergencyStop(t *testing.T) {
	ctx := context.Background()
	pose := robot.JointVector{1, 2, 3, 4, 5, 6}
	e := newTestEngine(t)
	e.AttachReader(fakeReader{pos: map[string]robot.JointVector{robot.DefaultArm: pose}})

	e.Press(ctx, "w")
	e.Press(ctx, "escape")

	if !e.EmergencyActive() || e.Mode() != ModeEmergencyStopped {
		t.Fatalf("emergency stop not engaged, mode %v", e.Mode())
	}
	if got := e.Pressed(); len(got) != 0 {
		t.Errorf("pressed = %v, want none", got)
	}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(pose) {
		t.Errorf("latched targets = %v, want %v", got, pose)
	}

	e.Press(ctx, "s")
	e.Advance(t0.Add(time.Second))
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(pose) {
		t.Errorf("blocked press moved targets to %v", got)
	}
	if err := e.SetTarget("", 0, 90); !errors.Is(err, ErrEmergencyStop) {
		t.Errorf("SetTarget during stop: got %v", err)
	}

	moved := robot.JointVector{7, 7, 7, 7, 7, 7}
	goals, err := e.ComputeGoals(map[string]robot.JointVector{robot.DefaultArm: moved})
	if err != nil {
		t.Fatalf("ComputeGoals: %v", err)
	}
	if !goals[robot.DefaultArm].Equal(moved) {
		t.Errorf("goal during stop = %v, want present %v", goals[robot.DefaultArm], moved)
	}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(moved) {
		t.Errorf("targets during stop = %v, want %v", got, moved)
	}

	e.Press(ctx, "escape")
	if e.EmergencyActive() {
		t.Fatal("emergency stop still engaged")
	}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(moved) {
		t.Errorf("targets after release = %v, want %v", got, moved)
	}
	e.Press(ctx, "w")
	if got := target(e, 1); got != 12 {
		t.Errorf("press after release: target = %v, want 12", got)
	}
}

func TestEngine_EmergencyStopReadFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.AttachReader(fakeReader{err: robot.ErrNotConnected})

	e.Press(ctx, "w")
	if !e.ToggleEmergency(ctx) {
		t.Fatal("ToggleEmergency returned false on activation")
	}
	if !e.EmergencyActive() {
		t.Error("flag cleared after read failure")
	}
	want := robot.JointVector{0, 5, 0, 0, 0, 0}
	if got := e.Targets()[robot.DefaultArm]; !got.Equal(want) {
		t.Errorf("targets = %v, want untouched %v", got, want)
	}
}

func TestEngine_ReleaseDuringStop(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.AttachReader(fakeReader{pos: map[string]robot.JointVector{robot.DefaultArm: robot.Zeros(6)}})

	e.Press(ctx, "control_l")
	e.ToggleEmergency(ctx)
	e.Release("control_l")
	e.ToggleEmergency(ctx)

	e.Press(ctx, "plus")
	if got := e.Speed(); got.Scale != 1.1 || got.Hold != DefaultHoldSpeed {
		t.Errorf("speed = %+v, want scale 1.1 with hold unchanged", got)
	}
}

func TestEngine_SpeedKeys(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	e.Press(ctx, "plus")
	e.Release("plus")
	if got := e.Speed().Scale; got != 1.1 {
		t.Errorf("scale after plus = %v, want 1.1", got)
	}

	e.Press(ctx, "w")
	if got := target(e, 1); !near(got, 5.5) {
		t.Errorf("scaled step = %v, want 5.5", got)
	}
	e.Release("w")

	e.Press(ctx, "control_r")
	e.Press(ctx, "equal")
	e.Release("equal")
	if got := e.Speed(); got.Hold != 2.5 || got.Scale != 1.1 {
		t.Errorf("speed after ctrl+equal = %+v, want hold 2.5 scale 1.1", got)
	}
	e.Press(ctx, "asterisk")
	if got := e.Speed().Hold; got != DefaultHoldSpeed {
		t.Errorf("hold after ctrl+reset = %v, want %v", got, DefaultHoldSpeed)
	}
	e.Release("control_r")

	for i := 0; i < 30; i++ {
		e.Press(ctx, "minus")
		e.Release("minus")
	}
	if got := e.Speed().Scale; got != SpeedScaleMin {
		t.Errorf("scale = %v, want floor %v", got, SpeedScaleMin)
	}
	e.Press(ctx, "multiply")
	if got := e.Speed().Scale; got != DefaultSpeedScale {
		t.Errorf("scale after reset = %v, want %v", got, DefaultSpeedScale)
	}
}

func repeatKey(key string, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = key
	}
	return keys
}

func TestEngine_SpeedBounds(t *testing.T) {
	tests := []struct {
		name     string
		modifier bool
		keys     []string
		want     SpeedProfile
	}{
		{"scale ceiling", false, repeatKey("plus", 60), SpeedProfile{Scale: SpeedScaleMax, Hold: DefaultHoldSpeed}},
		{"scale floor", false, repeatKey("minus", 60), SpeedProfile{Scale: SpeedScaleMin, Hold: DefaultHoldSpeed}},
		{"hold ceiling", true, repeatKey("equal", 40), SpeedProfile{Scale: DefaultSpeedScale, Hold: HoldSpeedMax}},
		{"hold floor", true, repeatKey("minus", 40), SpeedProfile{Scale: DefaultSpeedScale, Hold: HoldSpeedMin}},
		{"scale reset twice", false, []string{"plus", "plus", "asterisk", "asterisk"}, DefaultSpeed()},
		{"hold reset twice", true, []string{"minus", "minus", "multiply", "multiply"}, DefaultSpeed()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newTestEngine(t)
			if tt.modifier {
				e.Press(ctx, "control_l")
			}
			for _, k := range tt.keys {
				e.Press(ctx, k)
				e.Release(k)
			}
			if got := e.Speed(); got != tt.want {
				t.Errorf("speed = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSpeedProfile_ResetIsIdempotent(t *testing.T) {
	s := DefaultSpeed()
	s.AdjustScale(0.3)
	s.AdjustHold(-1)

	if !s.ResetScale() || !s.ResetHold() {
		t.Fatal("first reset reported no change")
	}
	once := s
	if s.ResetScale() || s.ResetHold() {
		t.Error("second reset reported a change")
	}
	if s != once {
		t.Errorf("second reset changed the profile: %+v, want %+v", s, once)
	}
}

func TestEngine_SetTargetAndFollow(t *testing.T) {
	e := newTestEngine(t)

	if err := e.SetTarget("", 2, 45); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if got := target(e, 2); got != 45 {
		t.Errorf("target = %v, want 45", got)
	}
	if err := e.SetTarget("", 6, 1); !errors.Is(err, ErrMotorIndex) {
		t.Errorf("index 6: got %v, want ErrMotorIndex", err)
	}
	if err := e.SetTarget("left", 0, 1); !errors.Is(err, ErrUnknownArm) {
		t.Errorf("unknown arm: got %v, want ErrUnknownArm", err)
	}

	sample := robot.JointVector{9, 8, 7, 6, 5, 4}
	if err := e.Follow(robot.DefaultArm, sample); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	sample[0] = 100
	if got := target(e, 0); got != 9 {
		t.Errorf("follow did not copy the sample: target = %v", got)
	}
	if err := e.Follow(robot.DefaultArm, robot.JointVector{1}); err == nil {
		t.Error("short follow sample accepted")
	}
}

func TestNewEngine_Validation(t *testing.T) {
	arms := []robot.ArmSpec{robot.DefaultArmSpec()}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no arms", Config{Keys: DefaultKeyMap()}},
		{"empty keys", Config{Arms: arms}},
		{"motor out of range", Config{Arms: arms, Keys: KeyMap{"w": {Motor: 6, Delta: 1}}}},
		{"unknown binding arm", Config{Arms: arms, Keys: KeyMap{"w": {Arm: "left", Delta: 1}}}},
		{"upper-case token", Config{Arms: arms, Keys: KeyMap{"W": {Delta: 1}}}},
		{"control collision", Config{Arms: arms, Keys: KeyMap{"escape": {Delta: 1}}}},
		{"upper-case stop key", Config{Arms: arms, Keys: DefaultKeyMap(), Controls: Controls{EmergencyStop: "Escape"}}},
		{"upper-case speed key", Config{Arms: arms, Keys: DefaultKeyMap(), Controls: Controls{EmergencyStop: "escape", SpeedUp: []string{"Plus"}}}},
		{"empty modifier", Config{Arms: arms, Keys: DefaultKeyMap(), Controls: Controls{EmergencyStop: "escape", Modifiers: []string{""}}}},
		{"unknown default arm", Config{Arms: arms, Keys: DefaultKeyMap(), DefaultArm: "left"}},
		{"duplicate arm", Config{Arms: append(arms, robot.DefaultArmSpec()), Keys: DefaultKeyMap()}},
		{"bad timing", Config{Arms: arms, Keys: DefaultKeyMap(), Timing: Timing{InitialDelay: time.Second}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.cfg); err == nil {
				t.Error("NewEngine succeeded, want error")
			}
		})
	}
}

func TestEngine_MultipleArms(t *testing.T) {
	ctx := context.Background()
	left := robot.ArmSpec{Name: "left", Motors: robot.AllMotors()}
	right := robot.ArmSpec{Name: "right", Motors: robot.AllMotors()}
	keys := KeyMap{
		"w": {Arm: "left", Motor: 1, Delta: 0.5},
		"i": {Arm: "right", Motor: 1, Delta: 0.5},
	}
	e, err := NewEngine(Config{Arms: []robot.ArmSpec{left, right}, Keys: keys})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.InitTargets(map[string]robot.JointVector{"left": robot.Zeros(6), "right": robot.Zeros(6)})

	e.Press(ctx, "i")
	targets := e.Targets()
	if targets["right"][1] != 5 || targets["left"][1] != 0 {
		t.Errorf("targets = %v, want only right moved", targets)
	}
	if err := e.SetTarget("", 0, 1); err != nil {
		t.Errorf("SetTarget on default arm: %v", err)
	}
	if got := e.Targets()["left"][0]; got != 1 {
		t.Errorf("default arm is not the first arm: left[0] = %v", got)
	}
}

func TestEngine_ConcurrentClients(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.AttachReader(fakeReader{pos: map[string]robot.JointVector{robot.DefaultArm: robot.Zeros(6)}})

	keys := []string{"w", "s", "a", "d", "q", "e", "r", "f"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				e.Press(ctx, key)
				e.Release(key)
				if j%50 == 0 {
					_ = e.SetTarget("", 5, float64(j))
				}
			}
		}(keys[i])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			// stays inside the initial delay so no repeat fires
			e.Advance(t0.Add(time.Duration(j%100) * time.Millisecond))
			if _, err := e.ComputeGoals(map[string]robot.JointVector{robot.DefaultArm: robot.Zeros(6)}); err != nil {
				t.Errorf("ComputeGoals: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	if got := e.Pressed(); len(got) != 0 {
		t.Errorf("pressed after all releases = %v", got)
	}
	// every key pair cancels out: w/s, a/d, q/e, r/f
	got := e.Targets()[robot.DefaultArm]
	for i := 0; i < 4; i++ {
		if !near(got[i], 0) {
			t.Errorf("target[%d] = %v, want 0", i, got[i])
		}
	}
}

func TestMode_String(t *testing.T) {
	for m, want := range map[Mode]string{
		ModeIdle:             "idle",
		ModeActive:           "active",
		ModeEmergencyStopped: "emergency_stopped",
		Mode(9):              "Mode(9)",
	} {
		if got := m.String(); got != want {
			t.Errorf("%d: got %q, want %q", int(m), got, want)
		}
	}
	if got := fmt.Sprint(EventSetTarget); got != "set_target" {
		t.Errorf("EventSetTarget = %q", got)
	}
}
