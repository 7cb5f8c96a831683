package teleop

// Recorder journals safety-relevant events. Record must not block.
type Recorder interface {
	Record(kind, message string, meta map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, string, map[string]any) {}
