package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/cache"
	"classlens/errors"
	"classlens/models"
)

type memWorkflowStore struct {
	mu   sync.Mutex
	runs map[string]*models.WorkflowRun
}

func newMemWorkflowStore() *memWorkflowStore {
	return &memWorkflowStore{runs: make(map[string]*models.WorkflowRun)}
}

func (m *memWorkflowStore) Create(ctx context.Context, run *models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *memWorkflowStore) Find(ctx context.Context, id string) (*models.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.NotFound("memWorkflowStore.Find", nil, "Workflow not found")
	}
	copied := *run
	return &copied, nil
}

func (m *memWorkflowStore) Update(ctx context.Context, run *models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *memWorkflowStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, run := range m.runs {
		if run.IsTerminal() && !run.ExpiresAt.IsZero() && run.ExpiresAt.Before(now) {
			delete(m.runs, id)
			n++
		}
	}
	return n, nil
}

// observation is one scripted poll answer.
type observation struct {
	status   models.JobStatus
	progress int
	resultID string
	errCode  string
}

// fakeTranscription replays a scripted observation sequence; the last entry
// repeats forever.
type fakeTranscription struct {
	mu        sync.Mutex
	script    []observation
	idx       int
	submitErr error
	record    *models.TranscriptRecord
}

func (f *fakeTranscription) Submit(ctx context.Context, ref models.VideoReference, force bool) (*models.Job, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.Job{ID: "tjob-1", Kind: models.JobKindTranscription, Status: models.JobStatusPending}, nil
}

func (f *fakeTranscription) Get(ctx context.Context, jobID string) (*models.Job, *models.TranscriptRecord, error) {
	f.mu.Lock()
	obs := f.script[f.idx]
	if f.idx < len(f.script)-1 {
		f.idx++
	}
	f.mu.Unlock()

	job := &models.Job{
		ID: jobID, Kind: models.JobKindTranscription,
		Status: obs.status, Progress: obs.progress,
		ResultID: obs.resultID, ErrorCode: obs.errCode, ErrorMessage: obs.errCode,
	}
	return job, f.record, nil
}

type fakeAnalysis struct {
	mu     sync.Mutex
	script []observation
	idx    int
	report *models.AnalysisReport
}

func (f *fakeAnalysis) Submit(ctx context.Context, payload models.AnalysisPayload) (*models.Job, error) {
	return &models.Job{ID: "ajob-1", Kind: models.JobKindAnalysis, Status: models.JobStatusPending}, nil
}

func (f *fakeAnalysis) Get(ctx context.Context, jobID string) (*models.Job, *models.AnalysisReport, error) {
	f.mu.Lock()
	obs := f.script[f.idx]
	if f.idx < len(f.script)-1 {
		f.idx++
	}
	f.mu.Unlock()

	job := &models.Job{
		ID: jobID, Kind: models.JobKindAnalysis,
		Status: obs.status, Progress: obs.progress,
		ResultID: obs.resultID, ErrorCode: obs.errCode, ErrorMessage: obs.errCode,
	}
	return job, f.report, nil
}

func succeededAnalysis() *fakeAnalysis {
	return &fakeAnalysis{script: []observation{
		{status: models.JobStatusSucceeded, progress: 100, resultID: "report-1"},
	}}
}

func testOrchestrator(t *testing.T, transcription TranscriptionStage, analysis AnalysisStage, cfg Config) (*Orchestrator, *memWorkflowStore) {
	t.Helper()
	store := newMemWorkflowStore()
	o := NewOrchestrator(transcription, analysis, store, cache.New(100), nil, cfg)
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o, store
}

func fastConfig() Config {
	return Config{
		PollInterval:   time.Millisecond,
		MaxAttempts:    10,
		StuckThreshold: 3,
		Retention:      time.Hour,
		CacheTTL:       time.Minute,
	}
}

func waitWorkflowTerminal(t *testing.T, o *Orchestrator, id string) *models.WorkflowRun {
	t.Helper()
	var run *models.WorkflowRun
	require.Eventually(t, func() bool {
		var err error
		run, err = o.Get(context.Background(), id)
		return err == nil && run.IsTerminal()
	}, 3*time.Second, 2*time.Millisecond)
	return run
}

func testWorkflowRef() models.VideoReference {
	return models.VideoReference{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "en"}
}

func TestWorkflowCompletesBothStages(t *testing.T) {
	transcription := &fakeTranscription{script: []observation{
		{status: models.JobStatusRunning, progress: 0},
		{status: models.JobStatusProgressing, progress: 40},
		{status: models.JobStatusSucceeded, progress: 100, resultID: "t-1"},
	}}
	o, _ := testOrchestrator(t, transcription, succeededAnalysis(), fastConfig())

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil", "qta"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowCompleted, done.Status)
	assert.Equal(t, models.StageReporting, done.Stage)
	assert.Equal(t, "t-1", done.TranscriptID)
	assert.Equal(t, "report-1", done.ReportID)
	assert.Equal(t, []string{"transcription", "analysis", "reporting"}, done.CompletedSteps)
	assert.Empty(t, done.ErrorCode)
}

func TestWorkflowStallsOnFrozenProgress(t *testing.T) {
	// Progress reaches 10 and never moves again.
	transcription := &fakeTranscription{script: []observation{
		{status: models.JobStatusProgressing, progress: 10},
	}}
	cfg := fastConfig()
	cfg.StuckThreshold = 2
	cfg.MaxAttempts = 10
	o, _ := testOrchestrator(t, transcription, succeededAnalysis(), cfg)

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowFailed, done.Status)
	assert.Equal(t, errors.CodeStalledNoProgress, done.ErrorCode)
	// Stall detection fired well before the attempt budget.
	assert.Equal(t, 2, done.Attempts)
}

func TestWorkflowMovingProgressDoesNotStall(t *testing.T) {
	transcription := &fakeTranscription{script: []observation{
		{status: models.JobStatusProgressing, progress: 10},
		{status: models.JobStatusProgressing, progress: 20},
		{status: models.JobStatusProgressing, progress: 30},
		{status: models.JobStatusSucceeded, progress: 100, resultID: "t-1"},
	}}
	cfg := fastConfig()
	cfg.StuckThreshold = 2
	o, _ := testOrchestrator(t, transcription, succeededAnalysis(), cfg)

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowCompleted, done.Status)
}

func TestWorkflowTimesOutWhenBudgetExhausted(t *testing.T) {
	// Progress keeps inching forward, so stall detection never fires; the
	// attempt budget does.
	script := make([]observation, 0, 32)
	for i := 0; i < 32; i++ {
		script = append(script, observation{status: models.JobStatusProgressing, progress: i})
	}
	transcription := &fakeTranscription{script: script}
	cfg := fastConfig()
	cfg.MaxAttempts = 4
	cfg.StuckThreshold = 3
	o, _ := testOrchestrator(t, transcription, succeededAnalysis(), cfg)

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowTimedOut, done.Status)
	assert.Equal(t, errors.CodeTimedOut, done.ErrorCode)
	assert.Equal(t, 4, done.Attempts)
}

func TestWorkflowFailsWhenStageJobFails(t *testing.T) {
	transcription := &fakeTranscription{script: []observation{
		{status: models.JobStatusRunning, progress: 0},
		{status: models.JobStatusFailed, errCode: errors.CodeNoCaptionsAvailable},
	}}
	o, _ := testOrchestrator(t, transcription, succeededAnalysis(), fastConfig())

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowFailed, done.Status)
	assert.Equal(t, errors.CodeNoCaptionsAvailable, done.ErrorCode)
	assert.Equal(t, models.StageTranscription, done.Stage)
	assert.NotContains(t, done.CompletedSteps, "transcription")
}

func TestWorkflowAnalysisStageSequencing(t *testing.T) {
	transcription := &fakeTranscription{script: []observation{
		{status: models.JobStatusSucceeded, progress: 100, resultID: "t-1"},
	}}
	analysis := &fakeAnalysis{script: []observation{
		{status: models.JobStatusProgressing, progress: 50},
		{status: models.JobStatusSucceeded, progress: 100, resultID: "report-1"},
	}}
	o, store := testOrchestrator(t, transcription, analysis, fastConfig())

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil", "qta"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowCompleted, done.Status)

	// The analysis job was only submitted after transcription succeeded, and
	// the persisted run reflects both stage outputs.
	stored, err := store.Find(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "tjob-1", stored.TranscriptionJobID)
	assert.Equal(t, "ajob-1", stored.AnalysisJobID)
	assert.Equal(t, "t-1", stored.TranscriptID)
	assert.Equal(t, "report-1", stored.ReportID)
}

func TestWorkflowAnalysisFailureAfterTranscription(t *testing.T) {
	transcription := &fakeTranscription{script: []observation{
		{status: models.JobStatusSucceeded, progress: 100, resultID: "t-1"},
	}}
	analysis := &fakeAnalysis{script: []observation{
		{status: models.JobStatusFailed, errCode: errors.CodeFrameworkCrashed},
	}}
	o, _ := testOrchestrator(t, transcription, analysis, fastConfig())

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowFailed, done.Status)
	assert.Equal(t, errors.CodeFrameworkCrashed, done.ErrorCode)
	assert.Equal(t, models.StageAnalysis, done.Stage)
	// The completed transcription step survives the later failure.
	assert.Contains(t, done.CompletedSteps, "transcription")
}

func TestWorkflowSubmitFailureFailsRun(t *testing.T) {
	transcription := &fakeTranscription{
		submitErr: errors.Internal("test", nil, "queue full"),
		script:    []observation{{status: models.JobStatusPending}},
	}
	o, _ := testOrchestrator(t, transcription, succeededAnalysis(), fastConfig())

	run, err := o.Submit(context.Background(), testWorkflowRef(), []string{"cbil"})
	require.NoError(t, err)

	done := waitWorkflowTerminal(t, o, run.ID)
	assert.Equal(t, models.WorkflowFailed, done.Status)
	assert.Equal(t, errors.CodeStageFailed, done.ErrorCode)
}

func TestWorkflowGetUnknownID(t *testing.T) {
	o, _ := testOrchestrator(t, &fakeTranscription{script: []observation{{}}}, succeededAnalysis(), fastConfig())
	_, err := o.Get(context.Background(), "nope")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}
