package extraction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classlens/errors"
	"classlens/models"
)

// Strategy is one acquisition capability. Extract either returns a complete
// transcript record or a typed extraction error; the chain decides whether
// the next strategy runs.
type Strategy interface {
	Name() string
	Timeout() time.Duration
	Extract(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error)
}

// ProgressFunc receives coarse chain progress while strategies run.
type ProgressFunc func(percent int)

// Chain tries strategies in priority order under one wall-clock budget.
type Chain struct {
	strategies []Strategy
	budget     time.Duration
	logger     *logrus.Logger
}

func NewChain(budget time.Duration, strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		budget:     budget,
		logger:     logrus.StandardLogger(),
	}
}

// StrategyNames lists the configured strategy order.
func (c *Chain) StrategyNames() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract walks the chain until a strategy succeeds, a terminal failure
// short-circuits, or the overall budget runs out.
func (c *Chain) Extract(ctx context.Context, ref models.VideoReference, progress ProgressFunc) (*models.TranscriptRecord, error) {
	const op = "Chain.Extract"

	if len(c.strategies) == 0 {
		return nil, errors.NoCaptions(op, nil, "No extraction strategies configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	logger := c.logger.WithFields(logrus.Fields{
		"video_id": ref.SourceID,
		"language": ref.Language,
	})

	var lastErr error
	for i, strategy := range c.strategies {
		// Cooperative cancellation checkpoint between strategies.
		if err := ctx.Err(); err != nil {
			return nil, c.budgetError(op, err)
		}

		if progress != nil {
			progress(chainProgress(i, len(c.strategies)))
		}

		start := time.Now()
		record, err := c.runStrategy(ctx, strategy, ref)
		if err == nil {
			record.ID = uuid.New().String()
			record.Provider = ref.Provider
			record.VideoID = ref.SourceID
			record.Language = ref.Language
			record.Method = strategy.Name()
			record.Finalize()

			logger.WithFields(logrus.Fields{
				"strategy": strategy.Name(),
				"duration": time.Since(start),
				"chars":    record.CharCount,
			}).Info("Extraction succeeded")
			return record, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.budgetError(op, ctxErr)
		}

		lastErr = err
		logger.WithFields(logrus.Fields{
			"strategy": strategy.Name(),
			"duration": time.Since(start),
			"code":     errors.CodeOf(err),
		}).Warn("Extraction strategy failed")

		if !errors.ChainContinuable(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = errors.NoCaptions(op, nil, "All extraction strategies exhausted")
	}
	return nil, lastErr
}

func (c *Chain) runStrategy(ctx context.Context, strategy Strategy, ref models.VideoReference) (*models.TranscriptRecord, error) {
	sctx, cancel := context.WithTimeout(ctx, strategy.Timeout())
	defer cancel()

	record, err := strategy.Extract(sctx, ref)
	if err != nil && sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// Per-strategy timeout: typed but continuable.
		return nil, errors.Timeout("Chain.runStrategy", err, strategy.Name()+" timed out")
	}
	return record, err
}

func (c *Chain) budgetError(op string, ctxErr error) error {
	if ctxErr == context.DeadlineExceeded {
		return errors.Timeout(op, ctxErr, "Extraction budget exceeded")
	}
	return ctxErr
}

func chainProgress(index, total int) int {
	if total == 0 {
		return 0
	}
	return 5 + (90*index)/total
}
