package models

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobKindTranscription JobKind = "transcription"
	JobKindAnalysis      JobKind = "analysis"
)

type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusRunning     JobStatus = "running"
	JobStatusProgressing JobStatus = "progressing"
	JobStatusSucceeded   JobStatus = "succeeded"
	JobStatusFailed      JobStatus = "failed"
)

// validJobTransitions encodes the lifecycle state machine. Terminal states
// have no outgoing edges; a job is rerun by creating a new job, never by
// resetting an existing one.
var validJobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:     {JobStatusRunning, JobStatusFailed},
	JobStatusRunning:     {JobStatusProgressing, JobStatusSucceeded, JobStatusFailed},
	JobStatusProgressing: {JobStatusProgressing, JobStatusSucceeded, JobStatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validJobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the caller-visible unit of async work. It is created once, mutated
// only by the worker that claimed it, and read-only everywhere else.
type Job struct {
	ID           string          `json:"id"`
	Kind         JobKind         `json:"kind"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ResultID     string          `json:"result_id,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Retries      int             `json:"retries"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	HeartbeatAt  time.Time       `json:"heartbeat_at,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at,omitempty"`
}

func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

func (j *Job) IsSucceeded() bool { return j.Status == JobStatusSucceeded }
func (j *Job) IsFailed() bool    { return j.Status == JobStatusFailed }

// IsStale reports whether a non-terminal job has gone without a heartbeat
// past the liveness deadline and should be failed as worker-lost.
func (j *Job) IsStale(deadline time.Duration) bool {
	if j.IsTerminal() || j.Status == JobStatusPending {
		return false
	}
	last := j.HeartbeatAt
	if last.IsZero() {
		last = j.UpdatedAt
	}
	return time.Since(last) > deadline
}

// TranscriptionPayload is the input of a transcription job.
type TranscriptionPayload struct {
	Reference VideoReference `json:"reference"`
	Force     bool           `json:"force,omitempty"`
}

// AnalysisPayload is the input of an analysis job. Either TranscriptID or
// Text is set, never both.
type AnalysisPayload struct {
	TranscriptID string   `json:"transcript_id,omitempty"`
	Text         string   `json:"text,omitempty"`
	FrameworkIDs []string `json:"framework_ids"`
}
