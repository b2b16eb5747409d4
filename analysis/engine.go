package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classlens/errors"
	"classlens/models"
)

type Config struct {
	FrameworkTimeout time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	MaxConcurrent    int
	TopN             int
}

// Engine fans one transcript out across independent frameworks. One
// framework failing never aborts the others; synthesis runs over whatever
// succeeded and reports coverage honestly.
type Engine struct {
	registry *Registry
	config   Config
	logger   *logrus.Logger
}

func NewEngine(registry *Registry, cfg Config) *Engine {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Engine{
		registry: registry,
		config:   cfg,
		logger:   logrus.StandardLogger(),
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// Analyze runs the requested frameworks concurrently and synthesizes the
// report. It errors only when no framework produced a result.
func (e *Engine) Analyze(
	ctx context.Context,
	transcriptID, text string,
	frameworkIDs []string,
	progress func(int),
) (*models.AnalysisReport, error) {
	const op = "Engine.Analyze"

	if len(frameworkIDs) == 0 {
		return nil, errors.InvalidInput(op, nil, "No frameworks requested")
	}

	tracker := newProgressTracker(frameworkIDs, progress)

	var (
		mu      sync.Mutex
		results = make(map[string]*models.AnalysisResult, len(frameworkIDs))
		errs    = make(map[string]*models.AnalysisError)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, e.config.MaxConcurrent)
	)

	for _, id := range frameworkIDs {
		framework, ok := e.registry.Get(id)
		if !ok {
			mu.Lock()
			errs[id] = &models.AnalysisError{
				FrameworkID: id,
				Code:        errors.CodeFrameworkInvalidInput,
				Message:     "Unknown framework",
			}
			mu.Unlock()
			tracker.finish(id)
			continue
		}

		wg.Add(1)
		go func(framework Framework) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				errs[framework.ID] = &models.AnalysisError{
					FrameworkID: framework.ID,
					Code:        errors.CodeTimedOut,
					Message:     "Analysis cancelled before start",
				}
				mu.Unlock()
				tracker.finish(framework.ID)
				return
			}

			tracker.start(framework.ID)
			result, err := e.runFramework(ctx, framework, text)
			tracker.finish(framework.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[framework.ID] = &models.AnalysisError{
					FrameworkID: framework.ID,
					Code:        errors.CodeOf(err),
					Message:     errors.MessageOf(err),
				}
				return
			}
			results[framework.ID] = result
		}(framework)
	}

	wg.Wait()

	if len(results) == 0 {
		last := &models.AnalysisError{Code: errors.CodeFrameworkCrashed, Message: "All frameworks failed"}
		for _, e := range errs {
			last = e
		}
		return nil, errors.E(op, last.Code, 500, nil, "Analysis failed: "+last.Message)
	}

	report := &models.AnalysisReport{
		ID:           uuid.New().String(),
		TranscriptID: transcriptID,
		Results:      results,
		Errors:       errs,
		Coverage:     float64(len(results)) / float64(len(frameworkIDs)),
		CreatedAt:    time.Now().UTC(),
	}
	e.synthesize(report)

	e.logger.WithFields(logrus.Fields{
		"transcript_id": transcriptID,
		"requested":     len(frameworkIDs),
		"succeeded":     len(results),
		"coverage":      report.Coverage,
	}).Info("Analysis complete")

	return report, nil
}

// runFramework wraps one framework with its timeout and retry budget.
// Linear backoff, transient failure classes only.
func (e *Engine) runFramework(ctx context.Context, framework Framework, text string) (*models.AnalysisResult, error) {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.FrameworkTimeout("Engine.runFramework", ctx.Err(), framework.ID)
			case <-time.After(e.config.RetryBackoff * time.Duration(attempt)):
			}
		}

		fctx, cancel := context.WithTimeout(ctx, e.config.FrameworkTimeout)
		result, err := e.registry.invoker.Invoke(fctx, framework, text)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, errors.FrameworkTimeout("Engine.runFramework", ctx.Err(), framework.ID)
		}
		if !errors.TransientAnalysis(err) {
			return nil, err
		}

		e.logger.WithFields(logrus.Fields{
			"framework": framework.ID,
			"attempt":   attempt + 1,
			"code":      errors.CodeOf(err),
		}).Warn("Framework attempt failed")
	}
	return nil, lastErr
}

// progressTracker keeps per-framework progress and publishes the aggregate:
// the mean over started frameworks, never decreasing.
type progressTracker struct {
	mu       sync.Mutex
	state    map[string]int // 0 not started, 1 started, 2 finished
	total    int
	lastSent int
	publish  func(int)
}

func newProgressTracker(ids []string, publish func(int)) *progressTracker {
	return &progressTracker{
		state:   make(map[string]int, len(ids)),
		total:   len(ids),
		publish: publish,
	}
}

func (t *progressTracker) start(id string) {
	t.mu.Lock()
	t.state[id] = 1
	t.mu.Unlock()
	t.emit()
}

func (t *progressTracker) finish(id string) {
	t.mu.Lock()
	t.state[id] = 2
	t.mu.Unlock()
	t.emit()
}

func (t *progressTracker) emit() {
	if t.publish == nil || t.total == 0 {
		return
	}

	t.mu.Lock()
	sum := 0
	for _, s := range t.state {
		switch s {
		case 1:
			sum += 50
		case 2:
			sum += 100
		}
	}
	// Mean over frameworks that have started, not over the whole request;
	// the monotonic clamp below absorbs the dips a late start would cause.
	started := len(t.state)
	if started == 0 {
		t.mu.Unlock()
		return
	}
	aggregate := sum / started
	if started < t.total && aggregate > 99 {
		// 100 means the whole request finished.
		aggregate = 99
	}
	if aggregate <= t.lastSent {
		t.mu.Unlock()
		return
	}
	t.lastSent = aggregate
	t.mu.Unlock()

	t.publish(aggregate)
}
