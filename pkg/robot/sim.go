package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInjected is the transport error produced by SimBus fault injection.
var ErrInjected = errors.New("simulated transport error")

// SimBus is an in-memory Bus used for --sim runs and tests. Each read moves the
// present pose toward the last written goal by at most MaxStep degrees; with
// MaxStep zero the arm reaches its goal on the next read.
type SimBus struct {
	MaxStep float64
	// Latency is slept inside every read and write to imitate serial I/O.
	Latency time.Duration

	mu         sync.Mutex
	connected  bool
	specs      map[string]ArmSpec
	present    map[string]JointVector
	goal       map[string]JointVector
	connectErr error
	failReads  int
	failWrites int
	reads      int
	writes     int

	inUse      atomic.Int32
	overlapped atomic.Bool
}

// NewSimBus returns a simulated bus for the given arms, all at position zero.
func NewSimBus(specs ...ArmSpec) *SimBus {
	s := &SimBus{
		specs:   make(map[string]ArmSpec, len(specs)),
		present: make(map[string]JointVector, len(specs)),
		goal:    make(map[string]JointVector, len(specs)),
	}
	for _, spec := range specs {
		s.specs[spec.Name] = spec
		s.present[spec.Name] = Zeros(len(spec.Motors))
	}
	return s
}

// Connect marks the bus connected unless a connect failure was injected.
func (s *SimBus) Connect(ctx context.Context) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

// Disconnect marks the bus disconnected.
func (s *SimBus) Disconnect(ctx context.Context) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.connected = false
	return nil
}

// ReadPositions returns the simulated present pose of an arm.
func (s *SimBus) ReadPositions(ctx context.Context, arm string) (JointVector, error) {
	defer s.enter()()
	s.sleep()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(arm); err != nil {
		return nil, err
	}
	s.reads++
	if s.failReads > 0 {
		s.failReads--
		return nil, fmt.Errorf("read %s: %w", arm, ErrInjected)
	}
	s.move(arm)
	return s.present[arm].Clone(), nil
}

// WriteGoalPositions records a goal for an arm.
func (s *SimBus) WriteGoalPositions(ctx context.Context, arm string, goal JointVector) error {
	defer s.enter()()
	s.sleep()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(arm); err != nil {
		return err
	}
	if err := goal.CheckLen(len(s.specs[arm].Motors)); err != nil {
		return fmt.Errorf("write %s: %w", arm, err)
	}
	s.writes++
	if s.failWrites > 0 {
		s.failWrites--
		return fmt.Errorf("write %s: %w", arm, ErrInjected)
	}
	s.goal[arm] = goal.Clone()
	return nil
}

// WriteGoals validates every goal before applying any of them. An injected
// write failure rejects the whole batch.
func (s *SimBus) WriteGoals(ctx context.Context, goals map[string]JointVector) error {
	defer s.enter()()
	s.sleep()
	s.mu.Lock()
	defer s.mu.Unlock()
	for arm, goal := range goals {
		if err := s.check(arm); err != nil {
			return err
		}
		if err := goal.CheckLen(len(s.specs[arm].Motors)); err != nil {
			return fmt.Errorf("write %s: %w", arm, err)
		}
	}
	s.writes += len(goals)
	if s.failWrites > 0 {
		s.failWrites--
		return fmt.Errorf("write goals: %w", ErrInjected)
	}
	for arm, goal := range goals {
		s.goal[arm] = goal.Clone()
	}
	return nil
}

// SetPresent overrides the present pose of an arm.
func (s *SimBus) SetPresent(arm string, pos JointVector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[arm] = pos.Clone()
	delete(s.goal, arm)
}

// Goal returns the last goal written to an arm, or nil.
func (s *SimBus) Goal(arm string) JointVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goal[arm].Clone()
}

// FailConnect makes Connect return err until cleared with nil.
func (s *SimBus) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// FailReads makes the next n reads fail.
func (s *SimBus) FailReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// FailWrites makes the next n writes fail.
func (s *SimBus) FailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

// Counts returns the number of reads and writes attempted while connected.
func (s *SimBus) Counts() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

// Connected reports whether Connect succeeded and Disconnect has not been called.
func (s *SimBus) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Overlapped reports whether two calls were ever in flight at the same time.
func (s *SimBus) Overlapped() bool {
	return s.overlapped.Load()
}

func (s *SimBus) enter() func() {
	if s.inUse.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	return func() { s.inUse.Add(-1) }
}

func (s *SimBus) sleep() {
	if s.Latency > 0 {
		time.Sleep(s.Latency)
	}
}

func (s *SimBus) check(arm string) error {
	if !s.connected {
		return ErrNotConnected
	}
	if _, ok := s.specs[arm]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArm, arm)
	}
	return nil
}

func (s *SimBus) move(arm string) {
	goal, ok := s.goal[arm]
	if !ok {
		return
	}
	present := s.present[arm]
	for i := range present {
		d := goal[i] - present[i]
		if s.MaxStep > 0 && math.Abs(d) > s.MaxStep {
			d = math.Copysign(s.MaxStep, d)
		}
		present[i] += d
	}
}
