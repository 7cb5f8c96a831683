package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/robot"
	"github.com/gwillem/lerobot-remote/pkg/teleop"
)

// Message types on the wire.
const (
	TypeKeyPress      = "key_press"
	TypeKeyRelease    = "key_release"
	TypeEmergencyStop = "emergency_stop"
	TypeSetTarget     = "set_target"
	TypeGetStatus     = "get_status"

	TypeWelcome      = "welcome"
	TypeStatusUpdate = "status_update"
	TypeAck          = "ack"
)

var (
	ErrUnknownCommand = errors.New("unknown command type")
	ErrMissingField   = errors.New("missing field")
)

// Command is an inbound client message.
type Command struct {
	Type     string   `json:"type"`
	Key      string   `json:"key,omitempty"`
	MotorIdx *int     `json:"motor_idx,omitempty"`
	Position *float64 `json:"position,omitempty"`
	Arm      string   `json:"arm,omitempty"`
}

// Event converts the command to an engine event.
func (c Command) Event(source string) (teleop.Event, error) {
	switch c.Type {
	case TypeKeyPress, TypeKeyRelease:
		if c.Key == "" {
			return teleop.Event{}, fmt.Errorf("%s: %w: key", c.Type, ErrMissingField)
		}
		if c.Type == TypeKeyPress {
			return teleop.Press(c.Key, source), nil
		}
		return teleop.Release(c.Key, source), nil
	case TypeEmergencyStop:
		return teleop.EmergencyToggle(source), nil
	case TypeSetTarget:
		if c.MotorIdx == nil || c.Position == nil {
			return teleop.Event{}, fmt.Errorf("%s: %w: motor_idx and position", c.Type, ErrMissingField)
		}
		return teleop.Event{
			Kind:     teleop.EventSetTarget,
			Arm:      c.Arm,
			Motor:    *c.MotorIdx,
			Position: *c.Position,
			Source:   source,
		}, nil
	case TypeGetStatus:
		return teleop.Event{Kind: teleop.EventStatus, Source: source}, nil
	default:
		return teleop.Event{}, fmt.Errorf("%w %q", ErrUnknownCommand, c.Type)
	}
}

// StatusData is the wire form of a status snapshot. Position arrays follow
// each arm's motor order.
type StatusData struct {
	Connected       bool                 `json:"connected"`
	Positions       map[string][]float64 `json:"positions"`
	TargetPositions map[string][]float64 `json:"target_positions"`
	EmergencyStop   bool                 `json:"emergency_stop"`
	Mode            string               `json:"mode,omitempty"`
	SpeedScale      float64              `json:"speed_scale,omitempty"`
}

// NewStatusData converts a snapshot.
func NewStatusData(s teleop.Status) StatusData {
	return StatusData{
		Connected:       s.Connected,
		Positions:       arrays(s.Positions),
		TargetPositions: arrays(s.Targets),
		EmergencyStop:   s.EmergencyStop,
		Mode:            s.Mode.String(),
		SpeedScale:      s.Speed.Scale,
	}
}

func arrays(in map[string]robot.JointVector) map[string][]float64 {
	out := make(map[string][]float64, len(in))
	for arm, v := range in {
		out[arm] = append([]float64(nil), v...)
	}
	return out
}

// StatusUpdate is sent periodically and in reply to get_status.
type StatusUpdate struct {
	Type      string     `json:"type"`
	Data      StatusData `json:"data"`
	Timestamp float64    `json:"timestamp"`
}

// Welcome is the first message on every connection.
type Welcome struct {
	Type    string     `json:"type"`
	Message string     `json:"message"`
	Status  StatusData `json:"status"`
}

// Ack acknowledges one well-formed inbound message.
type Ack struct {
	Type      string  `json:"type"`
	Command   string  `json:"command"`
	Timestamp float64 `json:"timestamp"`
}

// Message is any outbound server message, as decoded by a client.
type Message struct {
	Type      string      `json:"type"`
	Message   string      `json:"message,omitempty"`
	Status    *StatusData `json:"status,omitempty"`
	Data      *StatusData `json:"data,omitempty"`
	Command   string      `json:"command,omitempty"`
	Timestamp float64     `json:"timestamp,omitempty"`
}

// Snapshot returns the status carried by a welcome or status_update message.
func (m Message) Snapshot() (StatusData, bool) {
	switch {
	case m.Data != nil:
		return *m.Data, true
	case m.Status != nil:
		return *m.Status, true
	default:
		return StatusData{}, false
	}
}

func newStatusUpdate(s teleop.Status) StatusUpdate {
	return StatusUpdate{Type: TypeStatusUpdate, Data: NewStatusData(s), Timestamp: unixSeconds(time.Now())}
}

func newAck(command string) Ack {
	return Ack{Type: TypeAck, Command: command, Timestamp: unixSeconds(time.Now())}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
