package extraction

import (
	"context"
	"time"

	"classlens/errors"
	"classlens/models"
)

// helperResult is the shared JSON contract of the extraction helpers.
type helperResult struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Title     string `json:"title,omitempty"`
	Auto      bool   `json:"auto_generated,omitempty"`
	Text      string `json:"text,omitempty"`
	Segments  []struct {
		Start    float64 `json:"start"`
		Duration float64 `json:"duration"`
		Text     string  `json:"text"`
	} `json:"segments,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
}

// CaptionsStrategy fetches published or auto-generated subtitle tracks
// through the structured captions helper. Cheapest strategy, first in the
// chain.
type CaptionsStrategy struct {
	runner  *Runner
	timeout time.Duration
}

func NewCaptionsStrategy(runner *Runner, timeout time.Duration) *CaptionsStrategy {
	return &CaptionsStrategy{runner: runner, timeout: timeout}
}

func (s *CaptionsStrategy) Name() string           { return "captions_api" }
func (s *CaptionsStrategy) Timeout() time.Duration { return s.timeout }

func (s *CaptionsStrategy) Extract(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
	const op = "CaptionsStrategy.Extract"

	var result helperResult
	err := s.runner.Run(ctx, "captions.py", map[string]string{
		"url":  ref.WatchURL(),
		"lang": ref.Language,
	}, &result)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ParseFailure(op, err, "Captions helper failed")
	}

	if !result.Success {
		return nil, classifyHelperFailure(op, result)
	}
	if result.Text == "" {
		return nil, errors.NoCaptions(op, nil, "Caption track was empty")
	}

	return recordFromHelper(result), nil
}

// classifyHelperFailure maps the helper's error_code onto the extraction
// taxonomy. Unknown codes classify as parse failures so the chain advances.
func classifyHelperFailure(op string, result helperResult) error {
	switch result.ErrorCode {
	case "no_captions":
		return errors.NoCaptions(op, nil, result.Error)
	case "blocked":
		return errors.SourceBlocked(op, nil, result.Error)
	case "unavailable":
		return errors.VideoUnavailable(op, nil, result.Error)
	case "timeout":
		return errors.Timeout(op, nil, result.Error)
	default:
		return errors.ParseFailure(op, nil, result.Error)
	}
}

func recordFromHelper(result helperResult) *models.TranscriptRecord {
	record := &models.TranscriptRecord{
		Title:         result.Title,
		Text:          result.Text,
		AutoGenerated: result.Auto,
	}
	for _, seg := range result.Segments {
		record.Segments = append(record.Segments, models.Segment{
			Start:    seg.Start,
			Duration: seg.Duration,
			Text:     seg.Text,
		})
	}
	return record
}
