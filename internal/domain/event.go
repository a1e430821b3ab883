package domain

// EventKind is the closed set of progress event variants
type EventKind string

const (
	EventProgress  EventKind = "PROGRESS"
	EventCompleted EventKind = "COMPLETED"
	EventFailed    EventKind = "FAILED"
	EventConnected EventKind = "CONNECTED"
)

// IsTerminal reports whether the event ends a job's stream
func (k EventKind) IsTerminal() bool {
	return k == EventCompleted || k == EventFailed
}

// ProgressEvent is an ephemeral, ordered notification about one job.
// Seq is assigned by the stream hub when the event is published and is the
// ordering and dedup key; it is not a wall-clock timestamp.
type ProgressEvent struct {
	JobID      string
	Kind       EventKind
	Message    string
	Percentage int
	Seq        uint64

	// Only set if Kind=COMPLETED
	Result *Result
	// Only set if Kind=FAILED
	Error *JobError
}

// NewProgressEvent builds a PROGRESS event
func NewProgressEvent(jobID string, percentage int, message string) ProgressEvent {
	return ProgressEvent{
		JobID:      jobID,
		Kind:       EventProgress,
		Message:    message,
		Percentage: percentage,
	}
}

// NewCompletedEvent builds a COMPLETED event
func NewCompletedEvent(jobID string, result Result) ProgressEvent {
	return ProgressEvent{
		JobID:      jobID,
		Kind:       EventCompleted,
		Message:    StageMessageComplete,
		Percentage: 100,
		Result:     &result,
	}
}

// NewFailedEvent builds a FAILED event; an empty message is replaced so
// that a failure is never reported without an explanation.
func NewFailedEvent(jobID string, kind ErrorKind, message string) ProgressEvent {
	if message == "" {
		message = "evaluation failed"
	}
	return ProgressEvent{
		JobID:   jobID,
		Kind:    EventFailed,
		Message: "Error: " + message,
		Error:   &JobError{Kind: kind, Message: message},
	}
}

// Stage messages emitted by the service itself
const (
	StageMessageSubmitted = "Waiting for an evaluation slot"
	StageMessageStarted   = "Evaluation started"
	StageMessageComplete  = "Evaluation complete"
)
