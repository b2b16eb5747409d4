package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/errors"
	"classlens/models"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newJob(id string) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:        id,
		Kind:      models.JobKindTranscription,
		Status:    models.JobStatusPending,
		Payload:   []byte(`{}`),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestJobClaimIsExclusive(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("j1")))

	first, err := store.Claim(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Claim(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, second)

	job, err := store.Find(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.False(t, job.HeartbeatAt.IsZero())
}

func TestJobProgressIsMonotonic(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("j1")))
	_, err := store.Claim(ctx, "j1")
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, "j1", 40))
	require.NoError(t, store.UpdateProgress(ctx, "j1", 25))

	job, err := store.Find(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, models.JobStatusProgressing, job.Status)

	require.NoError(t, store.UpdateProgress(ctx, "j1", 90))
	job, err = store.Find(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 90, job.Progress)
}

func TestJobTerminalStatesAreImmutable(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("j1")))
	_, err := store.Claim(ctx, "j1")
	require.NoError(t, err)

	ok, err := store.MarkSucceeded(ctx, "j1", "result-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Neither terminal mark lands a second time.
	ok, err = store.MarkFailed(ctx, "j1", errors.CodeInternal, "late failure")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.MarkSucceeded(ctx, "j1", "result-2")
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := store.Find(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Equal(t, "result-1", job.ResultID)
	assert.Equal(t, 100, job.Progress)
}

func TestJobProgressIgnoredAfterTerminal(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newJob("j1")))
	_, err := store.Claim(ctx, "j1")
	require.NoError(t, err)

	_, err = store.MarkFailed(ctx, "j1", errors.CodeTimeout, "too slow")
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, "j1", 99))
	job, err := store.Find(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.Progress)
}

func TestJobFindStale(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newJob("stale")))
	require.NoError(t, store.Create(ctx, newJob("fresh")))
	require.NoError(t, store.Create(ctx, newJob("pending")))

	_, err := store.Claim(ctx, "stale")
	require.NoError(t, err)
	_, err = store.Claim(ctx, "fresh")
	require.NoError(t, err)

	// Heartbeats move both forward; the cutoff splits them.
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Heartbeat(ctx, "fresh"))

	stale, err := store.FindStale(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].ID)
}

func TestJobDeleteExpiredKeepsNonTerminal(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()

	expired := newJob("expired")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, expired))
	_, err := store.Claim(ctx, "expired")
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, "expired", errors.CodeTimeout, "gone")
	require.NoError(t, err)

	stillRunning := newJob("running")
	stillRunning.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, stillRunning))
	_, err = store.Claim(ctx, "running")
	require.NoError(t, err)

	n, err := store.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Find(ctx, "expired")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
	_, err = store.Find(ctx, "running")
	assert.NoError(t, err)
}

func TestTranscriptPutUpsertsOnKey(t *testing.T) {
	store := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	first := &models.TranscriptRecord{
		ID: "t1", Provider: "youtube", VideoID: "dQw4w9WgXcQ", Language: "en",
		Text: "version one", Method: "captions_api", CreatedAt: time.Now().UTC(),
	}
	first.Finalize()
	require.NoError(t, store.Put(ctx, first))

	second := &models.TranscriptRecord{
		ID: "t2", Provider: "youtube", VideoID: "dQw4w9WgXcQ", Language: "en",
		Text: "version two", Method: "whisper_stt", CreatedAt: time.Now().UTC(),
	}
	second.Finalize()
	require.NoError(t, store.Put(ctx, second))

	ref := models.VideoReference{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "en"}
	got, err := store.FindByKey(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "t2", got.ID)
	assert.Equal(t, "version two", got.Text)

	// The replaced version is no longer reachable by id.
	_, err = store.Find(ctx, "t1")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestTranscriptLanguagesAreSeparateKeys(t *testing.T) {
	store := NewTranscriptStore(testDB(t))
	ctx := context.Background()

	en := &models.TranscriptRecord{
		ID: "t-en", Provider: "youtube", VideoID: "dQw4w9WgXcQ", Language: "en",
		Text: "english", Method: "captions_api", CreatedAt: time.Now().UTC(),
	}
	ko := &models.TranscriptRecord{
		ID: "t-ko", Provider: "youtube", VideoID: "dQw4w9WgXcQ", Language: "ko",
		Text: "korean", Method: "captions_api", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, en))
	require.NoError(t, store.Put(ctx, ko))

	exists, err := store.ExistsByKeys(ctx, []models.VideoReference{
		{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "en"},
		{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "ko"},
		{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "fr"},
	})
	require.NoError(t, err)
	assert.True(t, exists["youtube:dQw4w9WgXcQ:en"])
	assert.True(t, exists["youtube:dQw4w9WgXcQ:ko"])
	assert.False(t, exists["youtube:dQw4w9WgXcQ:fr"])
}

func TestWorkflowRoundTrip(t *testing.T) {
	store := NewWorkflowStore(testDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	run := &models.WorkflowRun{
		ID:             "w1",
		Reference:      models.VideoReference{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "en"},
		FrameworkIDs:   []string{"cbil", "qta"},
		Stage:          models.StageTranscription,
		Status:         models.WorkflowCreated,
		CurrentStep:    "transcription",
		CompletedSteps: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	}
	require.NoError(t, store.Create(ctx, run))

	run.Stage = models.StageAnalysis
	run.Status = models.WorkflowAnalyzing
	run.TranscriptID = "t1"
	run.CompletedSteps = []string{"transcription"}
	run.Attempts = 3
	require.NoError(t, store.Update(ctx, run))

	got, err := store.Find(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, models.StageAnalysis, got.Stage)
	assert.Equal(t, models.WorkflowAnalyzing, got.Status)
	assert.Equal(t, "t1", got.TranscriptID)
	assert.Equal(t, []string{"transcription"}, got.CompletedSteps)
	assert.Equal(t, []string{"cbil", "qta"}, got.FrameworkIDs)
	assert.Equal(t, 3, got.Attempts)

	_, err = store.Find(ctx, "missing")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestWorkflowDeleteExpiredKeepsActive(t *testing.T) {
	store := NewWorkflowStore(testDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	done := &models.WorkflowRun{
		ID:        "done",
		Reference: models.VideoReference{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "en"},
		Stage:     models.StageReporting,
		Status:    models.WorkflowCompleted,
		CreatedAt: now, UpdatedAt: now,
		ExpiresAt: now.Add(-time.Minute),
	}
	active := &models.WorkflowRun{
		ID:        "active",
		Reference: models.VideoReference{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "ko"},
		Stage:     models.StageTranscription,
		Status:    models.WorkflowTranscribing,
		CreatedAt: now, UpdatedAt: now,
		ExpiresAt: now.Add(-time.Minute),
	}
	require.NoError(t, store.Create(ctx, done))
	require.NoError(t, store.Create(ctx, active))

	n, err := store.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Find(ctx, "active")
	assert.NoError(t, err)
}

func TestReportRoundTrip(t *testing.T) {
	store := NewReportStore(testDB(t))
	ctx := context.Background()

	report := &models.AnalysisReport{
		ID:           "r1",
		TranscriptID: "t1",
		Results: map[string]*models.AnalysisResult{
			"cbil": {ID: "a1", FrameworkID: "cbil", Score: 72.5, Urgency: 4},
		},
		Coverage:     0.5,
		OverallScore: 72.5,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, report))

	got, err := store.Find(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TranscriptID)
	assert.Equal(t, 72.5, got.Results["cbil"].Score)
	assert.Equal(t, 0.5, got.Coverage)

	_, err = store.Find(ctx, "missing")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}
