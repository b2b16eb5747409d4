package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classlens/errors"
	"classlens/models"
	"classlens/repository"
)

// ExtractFunc produces a fresh transcript when both tiers miss.
type ExtractFunc func(ctx context.Context) (*models.TranscriptRecord, error)

type inflightCall struct {
	done   chan struct{}
	record *models.TranscriptRecord
	err    error
}

// TranscriptCache layers the hot tier over the durable store and coalesces
// concurrent extractions for the same key into one underlying run.
type TranscriptCache struct {
	hot     *Cache
	durable repository.TranscriptRepository
	ttl     time.Duration
	promote bool
	logger  *logrus.Logger

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

func NewTranscriptCache(
	hot *Cache,
	durable repository.TranscriptRepository,
	ttl time.Duration,
	promote bool,
) *TranscriptCache {
	return &TranscriptCache{
		hot:      hot,
		durable:  durable,
		ttl:      ttl,
		promote:  promote,
		logger:   logrus.StandardLogger(),
		inflight: make(map[string]*inflightCall),
	}
}

// Lookup consults tier 1 then tier 2, promoting tier-2 hits into tier 1.
func (t *TranscriptCache) Lookup(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
	key := ref.Key()

	record := &models.TranscriptRecord{}
	if t.hot.Get(key, record) {
		t.logger.WithFields(logrus.Fields{"key": key, "tier": 1}).Debug("Cache hit")
		return record, nil
	}

	record, err := t.durable.FindByKey(ctx, ref)
	if err != nil {
		return nil, err
	}

	if t.promote {
		if err := t.hot.Set(key, record, t.ttl); err != nil {
			t.logger.WithError(err).WithField("key", key).Warn("Tier-1 promotion failed")
		}
	}
	t.logger.WithFields(logrus.Fields{"key": key, "tier": 2}).Debug("Cache hit")
	return record, nil
}

// GetOrExtract returns the cached record for ref or runs extract exactly
// once, no matter how many callers arrive concurrently. The durable write
// must succeed before the result is handed out; the tier-1 write is best
// effort. With force set, the cache read is skipped and the extraction
// produces a new record version.
func (t *TranscriptCache) GetOrExtract(
	ctx context.Context,
	ref models.VideoReference,
	force bool,
	extract ExtractFunc,
) (*models.TranscriptRecord, error) {
	if !force {
		record, err := t.Lookup(ctx, ref)
		if err == nil {
			return record, nil
		}
		if errors.CodeOf(err) != errors.CodeNotFound {
			return nil, err
		}
	}

	key := ref.Key()

	t.mu.Lock()
	if call, exists := t.inflight[key]; exists {
		t.mu.Unlock()
		select {
		case <-call.done:
			return call.record, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	t.inflight[key] = call
	t.mu.Unlock()

	call.record, call.err = t.runExtraction(ctx, ref, extract)

	t.mu.Lock()
	delete(t.inflight, key)
	t.mu.Unlock()
	close(call.done)

	return call.record, call.err
}

func (t *TranscriptCache) runExtraction(
	ctx context.Context,
	ref models.VideoReference,
	extract ExtractFunc,
) (*models.TranscriptRecord, error) {
	record, err := extract(ctx)
	if err != nil {
		return nil, err
	}

	// Tier 2 is the write of record; failing it fails the extraction.
	if err := t.durable.Put(ctx, record); err != nil {
		return nil, err
	}

	key := ref.Key()
	if err := t.hot.Set(key, record, t.ttl); err != nil {
		t.logger.WithError(err).WithField("key", key).Warn("Tier-1 write skipped")
	}
	return record, nil
}

// InflightJob returns whether an extraction for ref is currently running.
func (t *TranscriptCache) InflightJob(ref models.VideoReference) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[ref.Key()]
	return ok
}

// Invalidate drops the hot-tier entry for ref. The durable row stays until
// an explicit re-extraction replaces it.
func (t *TranscriptCache) Invalidate(ref models.VideoReference) {
	t.hot.Delete(ref.Key())
}
