package extraction

import (
	"context"
	"time"

	"classlens/errors"
	"classlens/models"
)

// SessionPool caps concurrent browser-automation sessions. Acquire blocks
// until a slot frees or ctx is done; the returned release must always run,
// error paths included.
type SessionPool struct {
	slots chan struct{}
}

func NewSessionPool(size int) *SessionPool {
	if size < 1 {
		size = 1
	}
	pool := &SessionPool{slots: make(chan struct{}, size)}
	for i := 0; i < size; i++ {
		pool.slots <- struct{}{}
	}
	return pool
}

func (p *SessionPool) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case <-p.slots:
		return func() { p.slots <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Available reports free session slots.
func (p *SessionPool) Available() int {
	return len(p.slots)
}

// BrowserStrategy drives a pooled headless-browser helper to scrape the
// transcript panel when the captions surface refuses automated access.
type BrowserStrategy struct {
	runner  *Runner
	pool    *SessionPool
	timeout time.Duration
}

func NewBrowserStrategy(runner *Runner, pool *SessionPool, timeout time.Duration) *BrowserStrategy {
	return &BrowserStrategy{runner: runner, pool: pool, timeout: timeout}
}

func (s *BrowserStrategy) Name() string           { return "browser_scrape" }
func (s *BrowserStrategy) Timeout() time.Duration { return s.timeout }

func (s *BrowserStrategy) Extract(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
	const op = "BrowserStrategy.Extract"

	release, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var result helperResult
	err = s.runner.Run(ctx, "browser_scrape.py", map[string]string{
		"url":  ref.WatchURL(),
		"lang": ref.Language,
	}, &result)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.SourceBlocked(op, err, "Browser scrape failed")
	}

	if !result.Success {
		return nil, classifyHelperFailure(op, result)
	}
	if result.Text == "" {
		return nil, errors.ParseFailure(op, nil, "Transcript panel yielded no text")
	}

	return recordFromHelper(result), nil
}
