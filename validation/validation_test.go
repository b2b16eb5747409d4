package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classlens/errors"
)

func TestValidLanguage(t *testing.T) {
	assert.True(t, ValidLanguage(""))
	assert.True(t, ValidLanguage("en"))
	assert.True(t, ValidLanguage("pt-br"))

	assert.False(t, ValidLanguage("x"))
	assert.False(t, ValidLanguage("en_US"))
	assert.False(t, ValidLanguage("en!!"))
	assert.False(t, ValidLanguage("toolonglang"))
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("https://youtu.be/dQw4w9WgXcQ", "ko")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", ref.SourceID)
	assert.Equal(t, "ko", ref.Language)

	_, err = ParseReference("", "en")
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	_, err = ParseReference("dQw4w9WgXcQ", "bad_lang!")
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	_, err = ParseReference("https://vimeo.com/12345678", "en")
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}

func TestValidateFrameworkIDs(t *testing.T) {
	known := map[string]struct{}{"cbil": {}, "qta": {}, "sei": {}}

	assert.NoError(t, ValidateFrameworkIDs([]string{"cbil", "qta"}, known))

	err := ValidateFrameworkIDs(nil, known)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	err = ValidateFrameworkIDs([]string{"cbil", "cbil"}, known)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	err = ValidateFrameworkIDs([]string{"cbil", "nope"}, known)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}
