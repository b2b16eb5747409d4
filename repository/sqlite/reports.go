package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"classlens/errors"
	"classlens/models"
)

type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) Put(ctx context.Context, report *models.AnalysisReport) error {
	const op = "ReportStore.Put"

	body, err := json.Marshal(report)
	if err != nil {
		return errors.Internal(op, err, "Failed to encode report")
	}

	_, err = execWithRetry(ctx, s.db,
		`INSERT INTO reports (id, transcript_id, body, created_at) VALUES (?, ?, ?, ?)`,
		report.ID, report.TranscriptID, string(body), report.CreatedAt)
	if err != nil {
		return errors.Internal(op, err, "Failed to save report")
	}
	return nil
}

func (s *ReportStore) Find(ctx context.Context, id string) (*models.AnalysisReport, error) {
	const op = "ReportStore.Find"

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM reports WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Report not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query report")
	}

	report := &models.AnalysisReport{}
	if err := json.Unmarshal([]byte(body), report); err != nil {
		return nil, errors.Internal(op, err, "Failed to decode report")
	}
	return report, nil
}
