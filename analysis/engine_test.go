package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/errors"
	"classlens/models"
)

// stubInvoker answers from a scripted table: a score means success, an error
// factory means failure. Per-framework call counts are recorded.
type stubInvoker struct {
	mu     sync.Mutex
	scores map[string]float64
	fails  map[string]func() error
	calls  map[string]int
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{
		scores: make(map[string]float64),
		fails:  make(map[string]func() error),
		calls:  make(map[string]int),
	}
}

func (s *stubInvoker) Invoke(ctx context.Context, framework Framework, text string) (*models.AnalysisResult, error) {
	s.mu.Lock()
	s.calls[framework.ID]++
	fail := s.fails[framework.ID]
	score := s.scores[framework.ID]
	s.mu.Unlock()

	if fail != nil {
		if err := fail(); err != nil {
			return nil, err
		}
	}
	return &models.AnalysisResult{
		ID:              framework.ID + "-result",
		FrameworkID:     framework.ID,
		Score:           score,
		Summary:         "scripted",
		Recommendations: []string{"improve " + framework.ID},
		Urgency:         framework.Urgency,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func (s *stubInvoker) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func testEngine(invoker Invoker) *Engine {
	registry := NewRegistry(invoker, DefaultFrameworks()...)
	return NewEngine(registry, Config{
		FrameworkTimeout: time.Second,
		MaxRetries:       2,
		RetryBackoff:     time.Millisecond,
		MaxConcurrent:    4,
		TopN:             10,
	})
}

func TestAnalyzeAllFrameworksSucceed(t *testing.T) {
	invoker := newStubInvoker()
	invoker.scores["cbil"] = 70
	invoker.scores["qta"] = 80
	invoker.scores["sei"] = 60
	engine := testEngine(invoker)

	report, err := engine.Analyze(context.Background(), "t1", "lesson text",
		[]string{"cbil", "qta", "sei"}, nil)
	require.NoError(t, err)

	assert.Len(t, report.Results, 3)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1.0, report.Coverage)
	assert.Equal(t, 70.0, report.OverallScore)
	assert.Equal(t, "t1", report.TranscriptID)
}

func TestAnalyzePartialFailureKeepsCoverage(t *testing.T) {
	invoker := newStubInvoker()
	invoker.scores["cbil"] = 70
	invoker.scores["qta"] = 80
	invoker.fails["sei"] = func() error {
		return errors.FrameworkInvalidInput("test", nil, "bad input")
	}
	engine := testEngine(invoker)

	report, err := engine.Analyze(context.Background(), "t1", "lesson text",
		[]string{"cbil", "qta", "sei"}, nil)
	require.NoError(t, err)

	assert.Len(t, report.Results, 2)
	require.Contains(t, report.Errors, "sei")
	assert.Equal(t, errors.CodeFrameworkInvalidInput, report.Errors["sei"].Code)
	assert.InDelta(t, 2.0/3.0, report.Coverage, 0.001)

	// Overall score covers succeeded frameworks only.
	assert.Equal(t, 75.0, report.OverallScore)
}

func TestAnalyzeInvalidInputNeverRetried(t *testing.T) {
	invoker := newStubInvoker()
	invoker.fails["cbil"] = func() error {
		return errors.FrameworkInvalidInput("test", nil, "bad input")
	}
	invoker.scores["qta"] = 80
	engine := testEngine(invoker)

	_, err := engine.Analyze(context.Background(), "t1", "text", []string{"cbil", "qta"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, invoker.callCount("cbil"))
}

func TestAnalyzeTransientFailureRetried(t *testing.T) {
	invoker := newStubInvoker()
	attempts := 0
	invoker.fails["cbil"] = func() error {
		attempts++
		if attempts < 3 {
			return errors.FrameworkTimeout("test", nil, "cbil")
		}
		return nil
	}
	invoker.scores["cbil"] = 65
	engine := testEngine(invoker)

	report, err := engine.Analyze(context.Background(), "t1", "text", []string{"cbil"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 65.0, report.Results["cbil"].Score)
}

func TestAnalyzeAllFailedReturnsError(t *testing.T) {
	invoker := newStubInvoker()
	invoker.fails["cbil"] = func() error {
		return errors.FrameworkInvalidInput("test", nil, "empty transcript")
	}
	invoker.fails["qta"] = func() error {
		return errors.FrameworkInvalidInput("test", nil, "empty transcript")
	}
	engine := testEngine(invoker)

	_, err := engine.Analyze(context.Background(), "t1", "", []string{"cbil", "qta"}, nil)
	assert.Error(t, err)
	assert.Equal(t, errors.CodeFrameworkInvalidInput, errors.CodeOf(err))
}

func TestAnalyzeUnknownFrameworkBecomesErrorEntry(t *testing.T) {
	invoker := newStubInvoker()
	invoker.scores["cbil"] = 70
	engine := testEngine(invoker)

	report, err := engine.Analyze(context.Background(), "t1", "text", []string{"cbil", "bogus"}, nil)
	require.NoError(t, err)
	require.Contains(t, report.Errors, "bogus")
	assert.Equal(t, 0.5, report.Coverage)
}

func TestAnalyzeEmptyFrameworkList(t *testing.T) {
	engine := testEngine(newStubInvoker())
	_, err := engine.Analyze(context.Background(), "t1", "text", nil, nil)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}

func TestAnalyzeProgressAveragesStartedFrameworks(t *testing.T) {
	invoker := newStubInvoker()
	invoker.scores["cbil"] = 70
	invoker.scores["qta"] = 80
	registry := NewRegistry(invoker, DefaultFrameworks()...)
	engine := NewEngine(registry, Config{
		FrameworkTimeout: time.Second,
		MaxConcurrent:    1,
		TopN:             10,
	})

	var mu sync.Mutex
	var seen []int
	_, err := engine.Analyze(context.Background(), "t1", "text", []string{"cbil", "qta"},
		func(pct int) {
			mu.Lock()
			seen = append(seen, pct)
			mu.Unlock()
		})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	// The first framework underway reports 50, not 25 of the whole request.
	assert.Equal(t, 50, seen[0])
	assert.Equal(t, 100, seen[len(seen)-1])
}

func TestAnalyzeProgressIsMonotonic(t *testing.T) {
	invoker := newStubInvoker()
	invoker.scores["cbil"] = 70
	invoker.scores["qta"] = 80
	engine := testEngine(invoker)

	var mu sync.Mutex
	var seen []int
	_, err := engine.Analyze(context.Background(), "t1", "text", []string{"cbil", "qta"},
		func(pct int) {
			mu.Lock()
			seen = append(seen, pct)
			mu.Unlock()
		})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 100, seen[len(seen)-1])
}
