package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// VideoReference is the normalized identity of one requested transcript:
// provider, source id and language together form the cache and dedup key.
type VideoReference struct {
	Provider string `json:"provider"`
	SourceID string `json:"source_id"`
	Language string `json:"language"`
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

// NormalizeReference maps any accepted surface form of a video reference
// (watch URL, short URL, embed URL, shorts URL, bare id) to one canonical
// VideoReference. Normalizing an already-normalized reference is a no-op.
func NormalizeReference(raw, language string) (VideoReference, error) {
	ref := VideoReference{Provider: "youtube", Language: normalizeLanguage(language)}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ref, fmt.Errorf("empty video reference")
	}

	if !strings.Contains(raw, "/") && !strings.Contains(raw, ".") {
		if !videoIDPattern.MatchString(raw) {
			return ref, fmt.Errorf("invalid video id %q", raw)
		}
		ref.SourceID = raw
		return ref, nil
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ref, fmt.Errorf("unparseable video reference: %w", err)
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	switch host {
	case "youtu.be":
		ref.SourceID = strings.Trim(parsed.Path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case parsed.Path == "/watch":
			ref.SourceID = parsed.Query().Get("v")
		case strings.HasPrefix(parsed.Path, "/shorts/"):
			ref.SourceID = strings.Trim(strings.TrimPrefix(parsed.Path, "/shorts/"), "/")
		case strings.HasPrefix(parsed.Path, "/embed/"):
			ref.SourceID = strings.Trim(strings.TrimPrefix(parsed.Path, "/embed/"), "/")
		case strings.HasPrefix(parsed.Path, "/live/"):
			ref.SourceID = strings.Trim(strings.TrimPrefix(parsed.Path, "/live/"), "/")
		}
	default:
		return ref, fmt.Errorf("unsupported video host %q", host)
	}

	if !videoIDPattern.MatchString(ref.SourceID) {
		return ref, fmt.Errorf("could not extract a video id from %q", raw)
	}
	return ref, nil
}

func normalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return "en"
	}
	return language
}

// Key is the logical cache key shared by both cache tiers.
func (r VideoReference) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.Provider, r.SourceID, r.Language)
}

// WatchURL rebuilds the canonical watch URL handed to extraction tooling.
func (r VideoReference) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + r.SourceID
}

// Segment is one timed span of transcript text.
type Segment struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// TranscriptRecord is the immutable result of one extraction. Re-extraction
// writes a new record; existing rows are never mutated.
type TranscriptRecord struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	VideoID       string    `json:"video_id"`
	Language      string    `json:"language"`
	Title         string    `json:"title,omitempty"`
	Text          string    `json:"text"`
	Segments      []Segment `json:"segments,omitempty"`
	Method        string    `json:"method"`
	AutoGenerated bool      `json:"auto_generated"`
	CharCount     int       `json:"char_count"`
	WordCount     int       `json:"word_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reference reconstructs the normalized reference a record was keyed by.
func (t *TranscriptRecord) Reference() VideoReference {
	return VideoReference{Provider: t.Provider, SourceID: t.VideoID, Language: t.Language}
}

// Finalize fills in the derived counts before the record is persisted.
func (t *TranscriptRecord) Finalize() {
	t.CharCount = len(t.Text)
	t.WordCount = len(strings.Fields(t.Text))
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
}
