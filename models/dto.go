package models

// TranscriptionJobRequest is the body of POST /jobs/transcription.
type TranscriptionJobRequest struct {
	VideoRef string `json:"videoRef"`
	Language string `json:"language"`
	Force    bool   `json:"force,omitempty"`
}

// AnalysisJobRequest is the body of POST /jobs/analysis.
type AnalysisJobRequest struct {
	TranscriptID string   `json:"transcriptId,omitempty"`
	Text         string   `json:"text,omitempty"`
	FrameworkIDs []string `json:"frameworkIds"`
}

// WorkflowRequest is the body of POST /workflow.
type WorkflowRequest struct {
	VideoRef     string   `json:"videoRef"`
	Language     string   `json:"language"`
	FrameworkIDs []string `json:"frameworkIds"`
}

// JobCreatedResponse acknowledges an accepted job submission.
type JobCreatedResponse struct {
	JobID string `json:"jobId"`
}

// WorkflowCreatedResponse acknowledges an accepted workflow submission.
type WorkflowCreatedResponse struct {
	WorkflowID string `json:"workflowId"`
}

// JobErrorDetail is the error block of a job status response.
type JobErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TranscriptionJobResponse is the body of GET /jobs/transcription/{id}.
type TranscriptionJobResponse struct {
	JobID    string            `json:"jobId"`
	Status   JobStatus         `json:"status"`
	Progress *int              `json:"progress,omitempty"`
	Result   *TranscriptRecord `json:"result,omitempty"`
	Error    *JobErrorDetail   `json:"error,omitempty"`
}

// AnalysisJobResponse is the body of GET /jobs/analysis/{id}.
type AnalysisJobResponse struct {
	JobID    string          `json:"jobId"`
	Status   JobStatus       `json:"status"`
	Progress *int            `json:"progress,omitempty"`
	Report   *AnalysisReport `json:"results,omitempty"`
	Error    *JobErrorDetail `json:"error,omitempty"`
}

// WorkflowStatusResponse is the body of GET /workflow/{id}.
type WorkflowStatusResponse struct {
	WorkflowID     string          `json:"workflowId"`
	Stage          WorkflowStage   `json:"stage"`
	Status         WorkflowStatus  `json:"status"`
	CurrentStep    string          `json:"currentStep,omitempty"`
	CompletedSteps []string        `json:"completedSteps"`
	Data           *WorkflowData   `json:"data,omitempty"`
	Error          *JobErrorDetail `json:"error,omitempty"`
}

// WorkflowData carries stage outputs once available.
type WorkflowData struct {
	Transcript *TranscriptRecord `json:"transcript,omitempty"`
	Report     *AnalysisReport   `json:"report,omitempty"`
}

// FrameworkInfo describes one registered analyzer framework.
type FrameworkInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
