package session

import "time"

// Status is the lifecycle state of a recording session
type Status string

const (
	StatusIdle      Status = "Idle"
	StatusResolving Status = "Resolving"
	StatusLive      Status = "Live"
	StatusRecording Status = "Recording"
	StatusNoStream  Status = "No stream"
	StatusError     Status = "Error"
)

// Process is the handle of a running capture process owned by a session
type Process interface {
	PID() int
	// Exited reports the exit code once the process has finished. It never blocks.
	Exited() (code int, exited bool)
	// Quit asks the process to finish its output and exit.
	Quit() error
	Kill() error
}

// Session tracks one source URL through resolving, monitoring and recording
type Session struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	ResolvedURL string    `json:"resolved_url,omitempty"`
	Status      Status    `json:"status"`
	AutoRecord  bool      `json:"autorecord"`
	CreatedAt   time.Time `json:"created_at"`
	OutputPath  string    `json:"output_path,omitempty"`

	// Process is non-nil exactly while Status is StatusRecording.
	Process Process `json:"-"`

	recordingStarted time.Time
	elapsed          time.Duration
}

// IsRecording reports whether the session currently owns a capture process
func (s Session) IsRecording() bool {
	return s.Status == StatusRecording && s.Process != nil
}

// HasLiveURL reports whether ResolvedURL can be trusted for starting a recording.
// A resolved URL is stale once the session has left the Live and Recording states.
func (s Session) HasLiveURL() bool {
	if s.ResolvedURL == "" {
		return false
	}
	return s.Status == StatusLive || s.Status == StatusRecording
}

// ElapsedSeconds returns how long the latest recording has been running.
// After the recording ends the value is frozen until the next start.
func (s Session) ElapsedSeconds(now time.Time) int64 {
	if s.Status == StatusRecording && !s.recordingStarted.IsZero() {
		return int64(now.Sub(s.recordingStarted) / time.Second)
	}
	return int64(s.elapsed / time.Second)
}

// RecordingStarted returns the start time of the latest recording
func (s Session) RecordingStarted() time.Time {
	return s.recordingStarted
}
