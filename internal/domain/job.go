package domain

import "time"

// Status is the lifecycle state of an evaluation job
type Status string

// Job status constants
const (
	JobStatusSubmitted Status = "SUBMITTED"
	JobStatusRunning   Status = "RUNNING"
	JobStatusCompleted Status = "COMPLETED"
	JobStatusFailed    Status = "FAILED"
)

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case JobStatusSubmitted, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// MaxRunningProgress caps progress while a job is not yet COMPLETED.
const MaxRunningProgress = 99

// InputRefs points at the two uploaded documents in the blob store
type InputRefs struct {
	CV             string
	JobDescription string
}

// Result is set only on COMPLETED jobs
type Result struct {
	Decision  string
	ReportRef string
}

// ErrorKind classifies why a job failed
type ErrorKind string

const (
	ErrorKindPipeline    ErrorKind = "PIPELINE"
	ErrorKindCancelled   ErrorKind = "CANCELLED"
	ErrorKindPersistence ErrorKind = "PERSISTENCE_FAILURE"
	ErrorKindTimeout     ErrorKind = "TIMEOUT"
	ErrorKindInterrupted ErrorKind = "INTERRUPTED"
)

// JobError is set only on FAILED jobs
type JobError struct {
	Kind    ErrorKind
	Message string
}

// Job is one evaluation request and its lifecycle state
type Job struct {
	ID           string
	Owner        string
	Inputs       InputRefs
	Status       Status
	Progress     int
	StageMessage string
	Result       *Result
	Error        *JobError
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy so callers never share Result/Error pointers
// with the orchestrator's in-memory projection.
func (j Job) Clone() Job {
	out := j
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}

// StateEvent builds the event that replays the job's current state to a
// subscriber: the latest progress while active, the terminal outcome otherwise.
func (j Job) StateEvent() ProgressEvent {
	ev := ProgressEvent{
		JobID:      j.ID,
		Kind:       EventProgress,
		Message:    j.StageMessage,
		Percentage: j.Progress,
	}
	switch j.Status {
	case JobStatusCompleted:
		ev.Kind = EventCompleted
		if j.Result != nil {
			r := *j.Result
			ev.Result = &r
		}
	case JobStatusFailed:
		ev.Kind = EventFailed
		if j.Error != nil {
			e := *j.Error
			ev.Error = &e
		}
	}
	return ev
}
