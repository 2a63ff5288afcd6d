package models

// Label is the classification emitted by the remote model for a detection.
type Label int

const (
	Civilian Label = 0
	Soldier  Label = 1
)

// JobEvent is one data message from a job stream, decoded from its
// positional fields. Each field is nil when the message did not carry it.
type JobEvent struct {
	Status   *string
	Label    *Label
	Artifact *Artifact
}

// Artifact is the terminal output of a job.
type Artifact struct {
	URL string `json:"url"`
}

// Counters holds the running classification tallies.
type Counters struct {
	Civilians int `json:"civilians"`
	Soldiers  int `json:"soldiers"`
}

// Severity classifies a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
)

// LogEntry is a single line in the job log
type LogEntry struct {
	Time     string   `json:"time"`
	Message  string   `json:"message"`
	Severity Severity `json:"type"`
}
