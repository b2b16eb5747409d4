package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classlens/cache"
	"classlens/errors"
	"classlens/models"
	"classlens/repository"
)

// HandlerFunc performs the actual work of a job. It returns the id of the
// persisted result. Progress calls are optional and clamped monotonic.
type HandlerFunc func(ctx context.Context, job *models.Job, progress func(int)) (resultID string, err error)

type Config struct {
	Workers          int
	QueueDepth       int
	MaxRetries       int
	RetryBackoffBase time.Duration
	LivenessDeadline time.Duration
	ReaperInterval   time.Duration
	JobTimeout       time.Duration
	Retention        time.Duration
	CacheTTL         time.Duration
}

type task struct {
	jobID   string
	handler HandlerFunc
}

// Manager runs jobs on a bounded worker pool over a durable store. Each job
// is claimed by exactly one worker, heartbeats while it runs, is retried by
// the manager on transient failure, and is reaped as worker-lost when its
// heartbeat goes silent.
type Manager struct {
	store  repository.JobRepository
	hot    *cache.Cache
	config Config
	logger *logrus.Logger

	queue chan task

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	dedup   map[string]string // dedup key -> active job id

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(store repository.JobRepository, hot *cache.Cache, cfg Config) *Manager {
	return &Manager{
		store:   store,
		hot:     hot,
		config:  cfg,
		logger:  logrus.StandardLogger(),
		queue:   make(chan task, cfg.QueueDepth),
		cancels: make(map[string]context.CancelFunc),
		dedup:   make(map[string]string),
	}
}

// Start launches the worker pool and the liveness reaper.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx, m.stop = context.WithCancel(ctx)

	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(i)
	}

	m.wg.Add(1)
	go m.reaperLoop()
}

// Stop drains the pool. In-flight handlers observe cancellation and their
// jobs fail with a shutdown message rather than hanging in running.
func (m *Manager) Stop() {
	if m.stop != nil {
		m.stop()
	}
	m.wg.Wait()
}

// Submit creates a job and queues it. When dedupKey is non-empty and an
// identical non-terminal job exists, that job is returned instead of a
// duplicate.
func (m *Manager) Submit(ctx context.Context, kind models.JobKind, payload interface{}, dedupKey string, handler HandlerFunc) (*models.Job, error) {
	const op = "Manager.Submit"

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to encode job payload")
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    models.JobStatusPending,
		Payload:   encoded,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.config.Retention),
	}

	if dedupKey == "" {
		if err := m.store.Create(ctx, job); err != nil {
			return nil, err
		}
	} else if existing, err := m.createDeduped(ctx, dedupKey, job); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	select {
	case m.queue <- task{jobID: job.ID, handler: handler}:
	case <-ctx.Done():
		_, _ = m.store.MarkFailed(context.Background(), job.ID, errors.CodeCancelled, "Submission cancelled")
		m.clearDedup(dedupKey, job.ID)
		return nil, ctx.Err()
	}

	m.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   kind,
	}).Info("Job submitted")
	return job, nil
}

// Get is a non-blocking status read: hot cache first for terminal
// snapshots, then the durable store.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	cached := &models.Job{}
	if m.hot != nil && m.hot.Get(jobCacheKey(id), cached) {
		return cached, nil
	}

	job, err := m.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() && m.hot != nil {
		_ = m.hot.Set(jobCacheKey(id), job, m.config.CacheTTL)
	}
	return job, nil
}

// Cancel sets the cooperative cancellation flag for a running job. The
// worker aborts at its next checkpoint.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	const op = "Manager.Cancel"

	job, err := m.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return errors.Conflict(op, nil, "Job already finished")
	}

	m.mu.Lock()
	cancel, running := m.cancels[id]
	m.mu.Unlock()

	if running {
		cancel()
		return nil
	}

	// Still pending: fail it before a worker claims it.
	if ok, err := m.store.MarkFailed(ctx, id, errors.CodeCancelled, "Cancelled before execution"); err != nil {
		return err
	} else if !ok {
		return errors.Conflict(op, nil, "Job already claimed")
	}
	return nil
}

// createDeduped creates job unless an active job already holds dedupKey, in
// which case that job is returned instead. Check, create, and reservation
// share one lock acquisition so two concurrent identical submissions cannot
// both miss and insert duplicate rows.
func (m *Manager) createDeduped(ctx context.Context, dedupKey string, job *models.Job) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.dedup[dedupKey]; ok {
		existing, err := m.store.Find(ctx, existingID)
		if err == nil && !existing.IsTerminal() {
			return existing, nil
		}
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}
	m.dedup[dedupKey] = job.ID
	return nil, nil
}

func (m *Manager) clearDedup(dedupKey, jobID string) {
	if dedupKey == "" {
		return
	}
	m.mu.Lock()
	if m.dedup[dedupKey] == jobID {
		delete(m.dedup, dedupKey)
	}
	m.mu.Unlock()
}

func (m *Manager) workerLoop(worker int) {
	defer m.wg.Done()
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case t := <-m.queue:
			m.process(worker, t)
		}
	}
}

func (m *Manager) process(worker int, t task) {
	logger := m.logger.WithFields(logrus.Fields{
		"job_id": t.jobID,
		"worker": worker,
	})

	claimed, err := m.store.Claim(m.baseCtx, t.jobID)
	if err != nil {
		logger.WithError(err).Error("Job claim failed")
		return
	}
	if !claimed {
		// Cancelled or already taken; nothing to do.
		return
	}

	job, err := m.store.Find(m.baseCtx, t.jobID)
	if err != nil {
		logger.WithError(err).Error("Claimed job vanished")
		return
	}

	ctx, cancel := context.WithTimeout(m.baseCtx, m.config.JobTimeout)
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, job.ID)
		m.mu.Unlock()
	}()

	stopHeartbeat := m.startHeartbeat(ctx, job.ID)
	defer stopHeartbeat()

	progress := m.progressFunc(job.ID)

	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := m.store.SetRetries(ctx, job.ID, attempt); err != nil {
				logger.WithError(err).Warn("Failed to record retry count")
			}
			backoff := m.config.RetryBackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				m.finishCancelled(ctx, job.ID, logger)
				return
			case <-time.After(backoff):
			}
		}

		resultID, err := t.handler(ctx, job, progress)
		if err == nil {
			if ok, err := m.store.MarkSucceeded(context.Background(), job.ID, resultID); err != nil {
				logger.WithError(err).Error("Failed to finalize job")
			} else if ok {
				logger.WithField("result_id", resultID).Info("Job succeeded")
				m.cacheTerminal(job.ID)
			}
			return
		}

		if ctx.Err() != nil {
			m.finishCancelled(ctx, job.ID, logger)
			return
		}

		lastErr = err
		if !retryable(err) {
			break
		}
		logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"code":    errors.CodeOf(err),
		}).Warn("Job attempt failed, retrying")
	}

	code := errors.CodeOf(lastErr)
	if ok, err := m.store.MarkFailed(context.Background(), job.ID, code, errors.MessageOf(lastErr)); err != nil {
		logger.WithError(err).Error("Failed to mark job failed")
	} else if ok {
		logger.WithField("code", code).Warn("Job failed")
		m.cacheTerminal(job.ID)
	}
}

// finishCancelled distinguishes a deliberate cancel from the job wall-clock
// timeout; both end failed, with different codes.
func (m *Manager) finishCancelled(ctx context.Context, jobID string, logger *logrus.Entry) {
	code := errors.CodeCancelled
	message := "Job cancelled"
	switch {
	case ctx.Err() == context.DeadlineExceeded && m.baseCtx.Err() == nil:
		code = errors.CodeTimeout
		message = "Job exceeded its time budget"
	case m.baseCtx.Err() != nil:
		message = "Shutting down"
	}

	if ok, err := m.store.MarkFailed(context.Background(), jobID, code, message); err != nil {
		logger.WithError(err).Error("Failed to mark cancelled job")
	} else if ok {
		logger.WithField("code", code).Info("Job stopped")
		m.cacheTerminal(jobID)
	}
}

func (m *Manager) progressFunc(jobID string) func(int) {
	var mu sync.Mutex
	last := 0
	return func(percent int) {
		mu.Lock()
		defer mu.Unlock()
		if percent <= last || percent > 100 {
			return
		}
		last = percent
		if err := m.store.UpdateProgress(context.Background(), jobID, percent); err != nil {
			m.logger.WithError(err).WithField("job_id", jobID).Warn("Progress update failed")
		}
	}
}

func (m *Manager) startHeartbeat(ctx context.Context, jobID string) (stop func()) {
	interval := m.config.LivenessDeadline / 3
	if interval < time.Second {
		interval = time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.store.Heartbeat(context.Background(), jobID); err != nil {
					m.logger.WithError(err).WithField("job_id", jobID).Warn("Heartbeat failed")
				}
			}
		}
	}()
	return func() { close(done) }
}

// reaperLoop enforces the liveness deadline: running jobs whose heartbeat
// went silent are forcibly failed so pollers can terminate, and expired
// terminal jobs are swept.
func (m *Manager) reaperLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			m.reapStale()
			m.sweepExpired()
		}
	}
}

func (m *Manager) reapStale() {
	cutoff := time.Now().Add(-m.config.LivenessDeadline)
	stale, err := m.store.FindStale(m.baseCtx, cutoff)
	if err != nil {
		m.logger.WithError(err).Error("Stale job scan failed")
		return
	}

	for _, job := range stale {
		ok, err := m.store.MarkFailed(m.baseCtx, job.ID, errors.CodeWorkerLost,
			"Worker stopped responding")
		if err != nil {
			m.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to reap job")
			continue
		}
		if ok {
			m.logger.WithField("job_id", job.ID).Warn("Reaped worker-lost job")
			m.cacheTerminal(job.ID)
		}
	}
}

func (m *Manager) sweepExpired() {
	n, err := m.store.DeleteExpired(m.baseCtx, time.Now())
	if err != nil {
		m.logger.WithError(err).Error("Expired job sweep failed")
		return
	}
	if n > 0 {
		m.logger.WithField("count", n).Debug("Swept expired jobs")
	}
}

func (m *Manager) cacheTerminal(jobID string) {
	if m.hot == nil {
		return
	}
	job, err := m.store.Find(context.Background(), jobID)
	if err != nil || !job.IsTerminal() {
		return
	}
	_ = m.hot.Set(jobCacheKey(jobID), job, m.config.CacheTTL)
}

// retryable reports whether the manager should re-run a failed attempt.
// Deterministic failures (bad input, missing video, exhausted captions)
// fail immediately.
func retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeTimeout, errors.CodeParseFailure, errors.CodeSourceBlocked,
		errors.CodeInternal, errors.CodeFrameworkTimeout, errors.CodeFrameworkCrashed:
		return true
	}
	return false
}

func jobCacheKey(id string) string {
	return "job:" + id
}
