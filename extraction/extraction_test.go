package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/errors"
	"classlens/models"
)

type stubStrategy struct {
	name    string
	timeout time.Duration
	extract func(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error)
	calls   int
}

func (s *stubStrategy) Name() string           { return s.name }
func (s *stubStrategy) Timeout() time.Duration { return s.timeout }
func (s *stubStrategy) Extract(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
	s.calls++
	return s.extract(ctx, ref)
}

func succeeding(name string) *stubStrategy {
	return &stubStrategy{
		name:    name,
		timeout: time.Second,
		extract: func(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
			return &models.TranscriptRecord{Text: "from " + name}, nil
		},
	}
}

func failing(name string, err error) *stubStrategy {
	return &stubStrategy{
		name:    name,
		timeout: time.Second,
		extract: func(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
			return nil, err
		},
	}
}

func chainRef() models.VideoReference {
	return models.VideoReference{Provider: "youtube", SourceID: "dQw4w9WgXcQ", Language: "en"}
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := succeeding("captions_api")
	second := succeeding("browser_scrape")
	chain := NewChain(time.Minute, first, second)

	record, err := chain.Extract(context.Background(), chainRef(), nil)
	require.NoError(t, err)
	assert.Equal(t, "captions_api", record.Method)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)

	assert.Equal(t, "dQw4w9WgXcQ", record.VideoID)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, len(record.Text), record.CharCount)
}

func TestChainFallsThroughContinuableFailures(t *testing.T) {
	first := failing("captions_api", errors.NoCaptions("test", nil, "none"))
	second := failing("browser_scrape", errors.SourceBlocked("test", nil, "blocked"))
	third := succeeding("whisper_stt")
	chain := NewChain(time.Minute, first, second, third)

	record, err := chain.Extract(context.Background(), chainRef(), nil)
	require.NoError(t, err)
	assert.Equal(t, "whisper_stt", record.Method)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChainShortCircuitsOnTerminalFailure(t *testing.T) {
	first := failing("captions_api", errors.VideoUnavailable("test", nil, "deleted"))
	second := succeeding("browser_scrape")
	chain := NewChain(time.Minute, first, second)

	_, err := chain.Extract(context.Background(), chainRef(), nil)
	assert.Equal(t, errors.CodeVideoUnavailable, errors.CodeOf(err))
	assert.Equal(t, 0, second.calls)
}

func TestChainReturnsLastErrorWhenExhausted(t *testing.T) {
	first := failing("captions_api", errors.NoCaptions("test", nil, "none"))
	second := failing("browser_scrape", errors.ParseFailure("test", nil, "garbled"))
	chain := NewChain(time.Minute, first, second)

	_, err := chain.Extract(context.Background(), chainRef(), nil)
	assert.Equal(t, errors.CodeParseFailure, errors.CodeOf(err))
}

func TestChainPerStrategyTimeoutIsContinuable(t *testing.T) {
	slow := &stubStrategy{
		name:    "captions_api",
		timeout: 10 * time.Millisecond,
		extract: func(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	second := succeeding("browser_scrape")
	chain := NewChain(time.Minute, slow, second)

	record, err := chain.Extract(context.Background(), chainRef(), nil)
	require.NoError(t, err)
	assert.Equal(t, "browser_scrape", record.Method)
}

func TestChainBudgetExceeded(t *testing.T) {
	slow := &stubStrategy{
		name:    "captions_api",
		timeout: time.Minute,
		extract: func(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	never := succeeding("browser_scrape")
	chain := NewChain(20*time.Millisecond, slow, never)

	_, err := chain.Extract(context.Background(), chainRef(), nil)
	assert.Equal(t, errors.CodeTimeout, errors.CodeOf(err))
	assert.Equal(t, 0, never.calls)
}

func TestChainProgressAdvancesPerStrategy(t *testing.T) {
	first := failing("captions_api", errors.NoCaptions("test", nil, "none"))
	second := succeeding("browser_scrape")
	chain := NewChain(time.Minute, first, second)

	var seen []int
	_, err := chain.Extract(context.Background(), chainRef(), func(pct int) {
		seen = append(seen, pct)
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Less(t, seen[0], seen[1])
}

func TestChainWithNoStrategies(t *testing.T) {
	chain := NewChain(time.Minute)
	_, err := chain.Extract(context.Background(), chainRef(), nil)
	assert.Equal(t, errors.CodeNoCaptionsAvailable, errors.CodeOf(err))
}

func TestSessionPoolBoundsConcurrency(t *testing.T) {
	pool := NewSessionPool(1)

	release, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.Error(t, err)

	release()
	release2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}
