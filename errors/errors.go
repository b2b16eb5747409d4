package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes returned to clients. Codes are part of the wire
// contract; renaming one is a breaking change.
const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL"
	CodeRateLimited  = "RATE_LIMITED"
	CodeCancelled    = "CANCELLED"

	// Extraction failures.
	CodeNoCaptionsAvailable = "NO_CAPTIONS_AVAILABLE"
	CodeSourceBlocked       = "SOURCE_BLOCKED"
	CodeTimeout             = "TIMEOUT"
	CodeParseFailure        = "PARSE_FAILURE"
	CodeVideoUnavailable    = "VIDEO_UNAVAILABLE"
	CodeWorkerLost          = "WORKER_LOST"

	// Analysis failures.
	CodeFrameworkTimeout      = "FRAMEWORK_TIMEOUT"
	CodeFrameworkInvalidInput = "FRAMEWORK_INVALID_INPUT"
	CodeFrameworkCrashed      = "FRAMEWORK_CRASHED"

	// Workflow failures.
	CodeStageFailed       = "STAGE_FAILED"
	CodeStalledNoProgress = "STALLED_NO_PROGRESS"
	CodeTimedOut          = "TIMED_OUT"
)

type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"error"`
	Op      string `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func E(op string, code string, status int, err error, message string) *AppError {
	return &AppError{
		Code:    code,
		Status:  status,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func InvalidInput(op string, err error, message string) *AppError {
	return E(op, CodeInvalidInput, http.StatusBadRequest, err, message)
}

func NotFound(op string, err error, message string) *AppError {
	return E(op, CodeNotFound, http.StatusNotFound, err, message)
}

func Conflict(op string, err error, message string) *AppError {
	return E(op, CodeConflict, http.StatusConflict, err, message)
}

func Internal(op string, err error, message string) *AppError {
	return E(op, CodeInternal, http.StatusInternalServerError, err, message)
}

func RateLimitExceeded(op string) *AppError {
	return E(op, CodeRateLimited, http.StatusTooManyRequests, nil, "Rate limit exceeded")
}

// Extraction constructors.

func NoCaptions(op string, err error, message string) *AppError {
	return E(op, CodeNoCaptionsAvailable, http.StatusUnprocessableEntity, err, message)
}

func SourceBlocked(op string, err error, message string) *AppError {
	return E(op, CodeSourceBlocked, http.StatusUnprocessableEntity, err, message)
}

func Timeout(op string, err error, message string) *AppError {
	return E(op, CodeTimeout, http.StatusGatewayTimeout, err, message)
}

func ParseFailure(op string, err error, message string) *AppError {
	return E(op, CodeParseFailure, http.StatusUnprocessableEntity, err, message)
}

func VideoUnavailable(op string, err error, message string) *AppError {
	return E(op, CodeVideoUnavailable, http.StatusUnprocessableEntity, err, message)
}

func WorkerLost(op string, message string) *AppError {
	return E(op, CodeWorkerLost, http.StatusInternalServerError, nil, message)
}

// Analysis constructors.

func FrameworkTimeout(op string, err error, framework string) *AppError {
	return E(op, CodeFrameworkTimeout, http.StatusGatewayTimeout, err,
		fmt.Sprintf("Framework %s timed out", framework))
}

func FrameworkInvalidInput(op string, err error, message string) *AppError {
	return E(op, CodeFrameworkInvalidInput, http.StatusUnprocessableEntity, err, message)
}

func FrameworkCrashed(op string, err error, framework string) *AppError {
	return E(op, CodeFrameworkCrashed, http.StatusInternalServerError, err,
		fmt.Sprintf("Framework %s crashed", framework))
}

// Workflow constructors.

func StageFailed(op string, err error, stage string) *AppError {
	return E(op, CodeStageFailed, http.StatusInternalServerError, err,
		fmt.Sprintf("Stage %s failed", stage))
}

func StalledNoProgress(op string, stage string) *AppError {
	return E(op, CodeStalledNoProgress, http.StatusInternalServerError, nil,
		fmt.Sprintf("Stage %s stalled with no progress", stage))
}

func TimedOut(op string, stage string) *AppError {
	return E(op, CodeTimedOut, http.StatusGatewayTimeout, nil,
		fmt.Sprintf("Stage %s exceeded its polling budget", stage))
}

// CodeOf returns the stable code attached to err, or CodeInternal when err
// carries none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}

// terminalExtractionCodes short-circuit the strategy chain: trying another
// strategy cannot help when the video itself is gone.
var terminalExtractionCodes = map[string]struct{}{
	CodeVideoUnavailable: {},
}

// ChainContinuable reports whether the next extraction strategy should be
// tried after err.
func ChainContinuable(err error) bool {
	_, terminal := terminalExtractionCodes[CodeOf(err)]
	return !terminal
}

// transientAnalysisCodes are retried with backoff; a framework that rejects
// its input will reject it again, so invalid input never retries.
var transientAnalysisCodes = map[string]struct{}{
	CodeFrameworkTimeout: {},
	CodeFrameworkCrashed: {},
	CodeInternal:         {},
}

// TransientAnalysis reports whether a framework failure is worth retrying.
func TransientAnalysis(err error) bool {
	_, ok := transientAnalysisCodes[CodeOf(err)]
	return ok
}
