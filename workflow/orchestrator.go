package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classlens/cache"
	"classlens/errors"
	"classlens/models"
	"classlens/repository"
)

// TranscriptionStage is the first composed job.
type TranscriptionStage interface {
	Submit(ctx context.Context, ref models.VideoReference, force bool) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, *models.TranscriptRecord, error)
}

// AnalysisStage is the second composed job.
type AnalysisStage interface {
	Submit(ctx context.Context, payload models.AnalysisPayload) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, *models.AnalysisReport, error)
}

// Archiver receives completed runs for best-effort export.
type Archiver interface {
	ArchiveRun(ctx context.Context, run *models.WorkflowRun, transcript *models.TranscriptRecord, report *models.AnalysisReport) error
}

type Config struct {
	PollInterval   time.Duration
	MaxAttempts    int
	StuckThreshold int
	Retention      time.Duration
	CacheTTL       time.Duration
}

// Orchestrator composes a transcription job and an analysis job into one
// observable run, polling each stage with a bounded budget and explicit
// stuck-state detection.
type Orchestrator struct {
	transcription TranscriptionStage
	analysis      AnalysisStage
	store         repository.WorkflowRepository
	hot           *cache.Cache
	archiver      Archiver
	config        Config
	logger        *logrus.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewOrchestrator(
	transcription TranscriptionStage,
	analysis AnalysisStage,
	store repository.WorkflowRepository,
	hot *cache.Cache,
	archiver Archiver,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		transcription: transcription,
		analysis:      analysis,
		store:         store,
		hot:           hot,
		archiver:      archiver,
		config:        cfg,
		logger:        logrus.StandardLogger(),
	}
}

func (o *Orchestrator) Start(ctx context.Context) {
	o.baseCtx, o.stop = context.WithCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sweepLoop()
	}()
}

func (o *Orchestrator) sweepLoop() {
	ticker := time.NewTicker(o.config.Retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case <-ticker.C:
			removed, err := o.store.DeleteExpired(o.baseCtx, time.Now().UTC())
			if err != nil {
				o.logger.WithError(err).Error("Workflow sweep failed")
			} else if removed > 0 {
				o.logger.WithField("count", removed).Debug("Expired workflows removed")
			}
		}
	}
}

func (o *Orchestrator) Stop() {
	if o.stop != nil {
		o.stop()
	}
	o.wg.Wait()
}

// Submit creates a run and drives it in the background.
func (o *Orchestrator) Submit(ctx context.Context, ref models.VideoReference, frameworkIDs []string) (*models.WorkflowRun, error) {
	now := time.Now().UTC()
	run := &models.WorkflowRun{
		ID:             uuid.New().String(),
		Reference:      ref,
		FrameworkIDs:   frameworkIDs,
		Stage:          models.StageTranscription,
		Status:         models.WorkflowCreated,
		CurrentStep:    "transcription",
		CompletedSteps: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(o.config.Retention),
	}

	if err := o.store.Create(ctx, run); err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.drive(run)
	}()

	o.logger.WithFields(logrus.Fields{
		"workflow_id": run.ID,
		"video_id":    ref.SourceID,
		"frameworks":  frameworkIDs,
	}).Info("Workflow submitted")
	return run, nil
}

// Get is a non-blocking status read.
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.WorkflowRun, error) {
	cached := &models.WorkflowRun{}
	if o.hot != nil && o.hot.Get(workflowCacheKey(id), cached) {
		return cached, nil
	}

	run, err := o.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.IsTerminal() && o.hot != nil {
		_ = o.hot.Set(workflowCacheKey(id), run, o.config.CacheTTL)
	}
	return run, nil
}

func (o *Orchestrator) drive(run *models.WorkflowRun) {
	ctx := o.baseCtx
	logger := o.logger.WithField("workflow_id", run.ID)

	// Stage 1: transcription.
	job, err := o.transcription.Submit(ctx, run.Reference, false)
	if err != nil {
		o.finishFailed(ctx, run, models.StageTranscription, err)
		return
	}
	run.TranscriptionJobID = job.ID
	run.Status = models.WorkflowTranscribing
	o.persist(ctx, run)

	transcriptID, err := o.pollStage(ctx, run, models.StageTranscription)
	if err != nil {
		o.finishStageError(ctx, run, models.StageTranscription, err)
		return
	}
	run.TranscriptID = transcriptID
	run.CompletedSteps = append(run.CompletedSteps, "transcription")

	// Stage 2: analysis. Transcription terminal-success strictly precedes
	// this submission; the attempt budget starts over for the new stage.
	job, err = o.analysis.Submit(ctx, models.AnalysisPayload{
		TranscriptID: transcriptID,
		FrameworkIDs: run.FrameworkIDs,
	})
	if err != nil {
		o.finishFailed(ctx, run, models.StageAnalysis, err)
		return
	}
	run.AnalysisJobID = job.ID
	run.Stage = models.StageAnalysis
	run.Status = models.WorkflowAnalyzing
	run.CurrentStep = "analysis"
	o.persist(ctx, run)

	reportID, err := o.pollStage(ctx, run, models.StageAnalysis)
	if err != nil {
		o.finishStageError(ctx, run, models.StageAnalysis, err)
		return
	}
	run.ReportID = reportID
	run.CompletedSteps = append(run.CompletedSteps, "analysis")

	run.Stage = models.StageReporting
	run.CurrentStep = "reporting"
	o.persist(ctx, run)
	o.archive(ctx, run)
	run.CompletedSteps = append(run.CompletedSteps, "reporting")

	run.Status = models.WorkflowCompleted
	run.CurrentStep = ""
	o.persist(ctx, run)
	logger.Info("Workflow completed")
}

// pollStage polls one stage's job with a bounded attempt budget. Every poll
// lands in one of three buckets: terminal success, terminal failure, or no
// new information. A stage observed unchanged for StuckThreshold
// consecutive polls fails with STALLED_NO_PROGRESS before the hard
// attempt cap can elapse.
func (o *Orchestrator) pollStage(ctx context.Context, run *models.WorkflowRun, stage models.WorkflowStage) (string, error) {
	const op = "Orchestrator.pollStage"

	var (
		lastStatus     models.JobStatus
		lastProgress   = -1
		identicalPolls = 0
	)

	for attempt := 1; attempt <= o.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", errors.StageFailed(op, ctx.Err(), string(stage))
		case <-time.After(o.config.PollInterval):
		}

		job, err := o.observe(ctx, run, stage)
		if err != nil {
			return "", err
		}

		run.Attempts = attempt
		run.LastObservedAt = time.Now().UTC()

		if job.IsSucceeded() {
			o.persist(ctx, run)
			return job.ResultID, nil
		}
		if job.IsFailed() {
			o.persist(ctx, run)
			return "", errors.E(op, job.ErrorCode, 500, nil, job.ErrorMessage)
		}

		if job.Status == lastStatus && job.Progress == lastProgress {
			identicalPolls++
		} else {
			identicalPolls = 1
			lastStatus = job.Status
			lastProgress = job.Progress
		}
		o.persist(ctx, run)

		if identicalPolls >= o.config.StuckThreshold {
			return "", errors.StalledNoProgress(op, string(stage))
		}
	}

	return "", errors.TimedOut(op, string(stage))
}

func (o *Orchestrator) observe(ctx context.Context, run *models.WorkflowRun, stage models.WorkflowStage) (*models.Job, error) {
	if stage == models.StageTranscription {
		job, _, err := o.transcription.Get(ctx, run.TranscriptionJobID)
		return job, err
	}
	job, _, err := o.analysis.Get(ctx, run.AnalysisJobID)
	return job, err
}

// finishStageError maps poll outcomes onto the distinct terminal statuses:
// timed_out for an exhausted budget, failed for everything else.
func (o *Orchestrator) finishStageError(ctx context.Context, run *models.WorkflowRun, stage models.WorkflowStage, err error) {
	code := errors.CodeOf(err)
	if code == errors.CodeTimedOut {
		run.Status = models.WorkflowTimedOut
	} else {
		run.Status = models.WorkflowFailed
	}
	run.ErrorCode = code
	run.ErrorMessage = errors.MessageOf(err)
	run.CurrentStep = ""
	o.persist(ctx, run)

	o.logger.WithFields(logrus.Fields{
		"workflow_id": run.ID,
		"stage":       stage,
		"code":        code,
	}).Warn("Workflow stage did not complete")
}

func (o *Orchestrator) finishFailed(ctx context.Context, run *models.WorkflowRun, stage models.WorkflowStage, err error) {
	run.Status = models.WorkflowFailed
	run.ErrorCode = errors.CodeStageFailed
	run.ErrorMessage = errors.MessageOf(err)
	run.CurrentStep = ""
	o.persist(ctx, run)

	o.logger.WithError(err).WithFields(logrus.Fields{
		"workflow_id": run.ID,
		"stage":       stage,
	}).Error("Workflow stage submission failed")
}

func (o *Orchestrator) archive(ctx context.Context, run *models.WorkflowRun) {
	if o.archiver == nil {
		return
	}

	var transcript *models.TranscriptRecord
	var report *models.AnalysisReport
	if run.TranscriptionJobID != "" {
		_, transcript, _ = o.transcription.Get(ctx, run.TranscriptionJobID)
	}
	if run.AnalysisJobID != "" {
		_, report, _ = o.analysis.Get(ctx, run.AnalysisJobID)
	}

	if err := o.archiver.ArchiveRun(ctx, run, transcript, report); err != nil {
		o.logger.WithError(err).WithField("workflow_id", run.ID).Warn("Run archive failed")
	}
}

func (o *Orchestrator) persist(ctx context.Context, run *models.WorkflowRun) {
	if err := o.store.Update(ctx, run); err != nil {
		o.logger.WithError(err).WithField("workflow_id", run.ID).Error("Workflow persist failed")
	}
	if run.IsTerminal() && o.hot != nil {
		_ = o.hot.Set(workflowCacheKey(run.ID), run, o.config.CacheTTL)
	}
}

func workflowCacheKey(id string) string {
	return "workflow:" + id
}
