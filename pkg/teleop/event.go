package teleop

import "fmt"

// EventKind enumerates the inputs the engine accepts from any source.
type EventKind int

const (
	EventKeyPress EventKind = iota + 1
	EventKeyRelease
	EventEmergencyStop
	EventSetTarget
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventKeyPress:
		return "key_press"
	case EventKeyRelease:
		return "key_release"
	case EventEmergencyStop:
		return "emergency_stop"
	case EventSetTarget:
		return "set_target"
	case EventStatus:
		return "get_status"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one input for the engine. Key is used by press and release;
// Arm, Motor and Position by set-target. Reply, when set on a status event,
// receives the latest snapshot once every earlier event has been applied.
type Event struct {
	Kind     EventKind
	Key      string
	Arm      string
	Motor    int
	Position float64
	Source   string
	Reply    func(Status)
}

// Press returns a key-press event.
func Press(key, source string) Event {
	return Event{Kind: EventKeyPress, Key: key, Source: source}
}

// Release returns a key-release event.
func Release(key, source string) Event {
	return Event{Kind: EventKeyRelease, Key: key, Source: source}
}

// EmergencyToggle returns an emergency-stop toggle event.
func EmergencyToggle(source string) Event {
	return Event{Kind: EventEmergencyStop, Source: source}
}
