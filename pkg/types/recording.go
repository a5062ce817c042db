package types

// RecordingMode controls whether a finalized recording is persisted.
type RecordingMode string

const (
	// RecordingAlways persists the log unconditionally at finalize.
	RecordingAlways RecordingMode = "always"
	// RecordingOnFailure persists the log only when the session exited
	// with a non-zero code; otherwise any partial file is deleted.
	RecordingOnFailure RecordingMode = "on-failure"
	// RecordingOff disables recording; a start request is rejected up
	// front rather than silently discarded at finalize.
	RecordingOff RecordingMode = "off"
)

// Valid reports whether m is a known recording mode.
func (m RecordingMode) Valid() bool {
	switch m {
	case RecordingAlways, RecordingOnFailure, RecordingOff:
		return true
	}
	return false
}

// RecordingMeta describes a finalized recording.
type RecordingMeta struct {
	ID       string  `json:"id"`
	Saved    bool    `json:"saved"`
	Path     string  `json:"path,omitempty"`
	Duration float64 `json:"duration"` // seconds from start to finalize
}
