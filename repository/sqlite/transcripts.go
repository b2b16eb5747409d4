package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"classlens/errors"
	"classlens/models"
)

type TranscriptStore struct {
	db *sql.DB
}

func NewTranscriptStore(db *sql.DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// Put writes record as the authoritative row for its (video_id, language)
// key. A re-extraction replaces the previous version atomically.
func (s *TranscriptStore) Put(ctx context.Context, record *models.TranscriptRecord) error {
	const op = "TranscriptStore.Put"

	segments, err := json.Marshal(record.Segments)
	if err != nil {
		return errors.Internal(op, err, "Failed to encode segments")
	}

	_, err = execWithRetry(ctx, s.db, `
		INSERT INTO transcripts
			(id, provider, video_id, language, title, text, segments, method,
			 auto_generated, char_count, word_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id, language) DO UPDATE SET
			id = excluded.id,
			title = excluded.title,
			text = excluded.text,
			segments = excluded.segments,
			method = excluded.method,
			auto_generated = excluded.auto_generated,
			char_count = excluded.char_count,
			word_count = excluded.word_count,
			created_at = excluded.created_at`,
		record.ID, record.Provider, record.VideoID, record.Language,
		record.Title, record.Text, string(segments), record.Method,
		record.AutoGenerated, record.CharCount, record.WordCount, record.CreatedAt,
	)
	if err != nil {
		return errors.Internal(op, err, "Failed to save transcript")
	}
	return nil
}

func (s *TranscriptStore) Find(ctx context.Context, id string) (*models.TranscriptRecord, error) {
	const op = "TranscriptStore.Find"
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, video_id, language, title, text, segments, method,
		       auto_generated, char_count, word_count, created_at
		FROM transcripts WHERE id = ?`, id)
	return scanTranscript(op, row)
}

func (s *TranscriptStore) FindByKey(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
	const op = "TranscriptStore.FindByKey"
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, video_id, language, title, text, segments, method,
		       auto_generated, char_count, word_count, created_at
		FROM transcripts WHERE video_id = ? AND language = ?`,
		ref.SourceID, ref.Language)
	return scanTranscript(op, row)
}

func (s *TranscriptStore) ExistsByKeys(ctx context.Context, refs []models.VideoReference) (map[string]bool, error) {
	const op = "TranscriptStore.ExistsByKeys"

	out := make(map[string]bool, len(refs))
	for _, ref := range refs {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM transcripts WHERE video_id = ? AND language = ?`,
			ref.SourceID, ref.Language).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			out[ref.Key()] = false
		case err != nil:
			return nil, errors.Internal(op, err, "Failed to query transcript keys")
		default:
			out[ref.Key()] = true
		}
	}
	return out, nil
}

func scanTranscript(op string, row *sql.Row) (*models.TranscriptRecord, error) {
	record := &models.TranscriptRecord{}
	var segments string

	err := row.Scan(
		&record.ID, &record.Provider, &record.VideoID, &record.Language,
		&record.Title, &record.Text, &segments, &record.Method,
		&record.AutoGenerated, &record.CharCount, &record.WordCount, &record.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Transcript not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query transcript")
	}

	if err := json.Unmarshal([]byte(segments), &record.Segments); err != nil {
		return nil, errors.Internal(op, err, "Failed to decode segments")
	}
	return record, nil
}
