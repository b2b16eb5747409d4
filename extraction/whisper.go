package extraction

import (
	"context"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	"classlens/errors"
	"classlens/models"
)

// WhisperStrategy is the last resort before giving up: download the audio
// track and run it through speech-to-text. Slowest and most expensive, so
// it sits at the end of the chain.
type WhisperStrategy struct {
	runner  *Runner
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewWhisperStrategy(runner *Runner, client *openai.Client, model string, timeout time.Duration) *WhisperStrategy {
	return &WhisperStrategy{
		runner:  runner,
		client:  client,
		model:   model,
		timeout: timeout,
	}
}

func (s *WhisperStrategy) Name() string           { return "whisper_stt" }
func (s *WhisperStrategy) Timeout() time.Duration { return s.timeout }

func (s *WhisperStrategy) Extract(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error) {
	const op = "WhisperStrategy.Extract"

	var fetched helperResult
	err := s.runner.Run(ctx, "fetch_audio.py", map[string]string{
		"url":    ref.WatchURL(),
		"outdir": s.runner.TempDir(),
	}, &fetched)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.SourceBlocked(op, err, "Audio download failed")
	}
	if !fetched.Success {
		return nil, classifyHelperFailure(op, fetched)
	}
	if fetched.AudioPath == "" {
		return nil, errors.ParseFailure(op, nil, "Audio helper returned no file")
	}
	defer os.Remove(fetched.AudioPath)

	// Cancellation checkpoint between the download and the paid STT call.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: fetched.AudioPath,
		Language: ref.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ParseFailure(op, err, "Speech-to-text failed")
	}
	if resp.Text == "" {
		return nil, errors.NoCaptions(op, nil, "Speech-to-text produced no text")
	}

	record := &models.TranscriptRecord{
		Title:         fetched.Title,
		Text:          resp.Text,
		AutoGenerated: true,
	}
	for _, seg := range resp.Segments {
		record.Segments = append(record.Segments, models.Segment{
			Start:    seg.Start,
			Duration: seg.End - seg.Start,
			Text:     seg.Text,
		})
	}
	return record, nil
}
