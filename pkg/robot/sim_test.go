package robot

import (
	"context"
	"errors"
	"testing"
)

func TestSimBus_RequiresConnect(t *testing.T) {
	ctx := context.Background()
	bus := NewSimBus(DefaultArmSpec())

	if _, err := bus.ReadPositions(ctx, DefaultArm); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("read before connect: got %v, want ErrNotConnected", err)
	}
	if err := bus.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := bus.ReadPositions(ctx, "other"); !errors.Is(err, ErrUnknownArm) {
		t.Errorf("read unknown arm: got %v, want ErrUnknownArm", err)
	}
	if err := bus.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if bus.Connected() {
		t.Error("bus still connected after Disconnect")
	}
}

func TestSimBus_MovesTowardGoal(t *testing.T) {
	ctx := context.Background()
	bus := NewSimBus(DefaultArmSpec())
	bus.MaxStep = 2
	_ = bus.Connect(ctx)

	goal := JointVector{5, -1, 0, 0, 0, 0}
	if err := bus.WriteGoalPositions(ctx, DefaultArm, goal); err != nil {
		t.Fatalf("write: %v", err)
	}

	pos, _ := bus.ReadPositions(ctx, DefaultArm)
	if want := (JointVector{2, -1, 0, 0, 0, 0}); !pos.Equal(want) {
		t.Errorf("after one read = %v, want %v", pos, want)
	}
	_, _ = bus.ReadPositions(ctx, DefaultArm)
	pos, _ = bus.ReadPositions(ctx, DefaultArm)
	if !pos.Equal(goal) {
		t.Errorf("after three reads = %v, want %v", pos, goal)
	}
}

func TestSimBus_FaultInjection(t *testing.T) {
	ctx := context.Background()
	bus := NewSimBus(DefaultArmSpec())

	bus.FailConnect(ErrInjected)
	if err := bus.Connect(ctx); !errors.Is(err, ErrInjected) {
		t.Fatalf("Connect: got %v, want injected error", err)
	}
	bus.FailConnect(nil)
	_ = bus.Connect(ctx)

	bus.FailReads(1)
	if _, err := bus.ReadPositions(ctx, DefaultArm); !errors.Is(err, ErrInjected) {
		t.Errorf("first read: got %v, want injected error", err)
	}
	if _, err := bus.ReadPositions(ctx, DefaultArm); err != nil {
		t.Errorf("second read: %v", err)
	}

	bus.FailWrites(1)
	if err := bus.WriteGoalPositions(ctx, DefaultArm, Zeros(6)); !errors.Is(err, ErrInjected) {
		t.Errorf("write: got %v, want injected error", err)
	}
	if err := bus.WriteGoalPositions(ctx, DefaultArm, Zeros(5)); err == nil {
		t.Error("short goal vector should be rejected")
	}

	reads, writes := bus.Counts()
	if reads != 2 || writes != 1 {
		t.Errorf("Counts() = %d, %d; want 2, 1", reads, writes)
	}
}

func TestJointVector(t *testing.T) {
	v := JointVector{1, 2, 3}
	c := v.Clone()
	c[0] = 9
	if v[0] != 1 {
		t.Error("Clone shares storage with the original")
	}
	if err := v.CheckLen(3); err != nil {
		t.Errorf("CheckLen(3): %v", err)
	}
	if err := v.CheckLen(6); err == nil {
		t.Error("CheckLen(6) should fail")
	}
	if DefaultArmSpec().Index(Gripper) != 5 {
		t.Error("gripper should be slot 5")
	}
	if DefaultArmSpec().Index("tail") != -1 {
		t.Error("unknown motor should have index -1")
	}
}

func TestSimBus_WriteGoalsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	left := ArmSpec{Name: "left", Motors: AllMotors()}
	right := ArmSpec{Name: "right", Motors: AllMotors()}
	bus := NewSimBus(left, right)
	_ = bus.Connect(ctx)

	goals := map[string]JointVector{
		"left":  {1, 2, 3, 4, 5, 6},
		"right": {6, 5, 4, 3, 2, 1},
	}
	bus.FailWrites(1)
	if err := bus.WriteGoals(ctx, goals); !errors.Is(err, ErrInjected) {
		t.Fatalf("WriteGoals: got %v, want injected error", err)
	}
	if bus.Goal("left") != nil || bus.Goal("right") != nil {
		t.Error("failed batch left a goal behind")
	}

	short := map[string]JointVector{"left": {1, 2, 3, 4, 5, 6}, "right": {1}}
	if err := bus.WriteGoals(ctx, short); err == nil {
		t.Fatal("short goal accepted")
	}
	if bus.Goal("left") != nil {
		t.Error("rejected batch wrote the valid arm")
	}

	if err := bus.WriteGoals(ctx, goals); err != nil {
		t.Fatalf("WriteGoals: %v", err)
	}
	if !bus.Goal("left").Equal(goals["left"]) || !bus.Goal("right").Equal(goals["right"]) {
		t.Errorf("goals = %v / %v", bus.Goal("left"), bus.Goal("right"))
	}
}
