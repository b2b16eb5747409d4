package models

import (
	"time"
)

type WorkflowStage string

const (
	StageTranscription WorkflowStage = "transcription"
	StageAnalysis      WorkflowStage = "analysis"
	StageReporting     WorkflowStage = "reporting"
)

type WorkflowStatus string

const (
	WorkflowCreated      WorkflowStatus = "created"
	WorkflowTranscribing WorkflowStatus = "transcribing"
	WorkflowAnalyzing    WorkflowStatus = "analyzing"
	WorkflowCompleted    WorkflowStatus = "completed"
	WorkflowFailed       WorkflowStatus = "failed"
	WorkflowTimedOut     WorkflowStatus = "timed_out"
)

// WorkflowRun composes a transcription job and an analysis job into one
// externally observable request. Mutated only by the orchestrator.
type WorkflowRun struct {
	ID                 string         `json:"id"`
	Reference          VideoReference `json:"reference"`
	FrameworkIDs       []string       `json:"framework_ids"`
	Stage              WorkflowStage  `json:"stage"`
	Status             WorkflowStatus `json:"status"`
	TranscriptionJobID string         `json:"transcription_job_id,omitempty"`
	AnalysisJobID      string         `json:"analysis_job_id,omitempty"`
	TranscriptID       string         `json:"transcript_id,omitempty"`
	ReportID           string         `json:"report_id,omitempty"`
	Attempts           int            `json:"attempts"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CompletedSteps     []string       `json:"completed_steps,omitempty"`
	CurrentStep        string         `json:"current_step,omitempty"`
	LastObservedAt     time.Time      `json:"last_observed_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	ExpiresAt          time.Time      `json:"expires_at,omitempty"`
}

func (w *WorkflowRun) IsTerminal() bool {
	switch w.Status {
	case WorkflowCompleted, WorkflowFailed, WorkflowTimedOut:
		return true
	}
	return false
}
