package validation

import (
	"strings"

	"classlens/errors"
	"classlens/models"
)

// ValidLanguage accepts BCP-47-ish tags like "en", "ko", "pt-br".
func ValidLanguage(language string) bool {
	if language == "" {
		return true // empty falls back to the default
	}
	if len(language) < 2 || len(language) > 8 {
		return false
	}
	for _, r := range language {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '-' {
			return false
		}
	}
	return true
}

// ParseReference validates and normalizes an incoming video reference.
func ParseReference(videoRef, language string) (models.VideoReference, error) {
	const op = "validation.ParseReference"

	if strings.TrimSpace(videoRef) == "" {
		return models.VideoReference{}, errors.InvalidInput(op, nil, "videoRef is required")
	}
	if !ValidLanguage(language) {
		return models.VideoReference{}, errors.InvalidInput(op, nil, "Invalid language tag")
	}

	ref, err := models.NormalizeReference(videoRef, language)
	if err != nil {
		return models.VideoReference{}, errors.InvalidInput(op, err, "Unsupported video reference")
	}
	return ref, nil
}

// ValidateFrameworkIDs checks the requested framework set against the known
// set and rejects empty or unknown selections.
func ValidateFrameworkIDs(requested []string, known map[string]struct{}) error {
	const op = "validation.ValidateFrameworkIDs"

	if len(requested) == 0 {
		return errors.InvalidInput(op, nil, "At least one framework id is required")
	}
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			return errors.InvalidInput(op, nil, "Duplicate framework id: "+id)
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; !ok {
			return errors.InvalidInput(op, nil, "Unknown framework id: "+id)
		}
	}
	return nil
}
