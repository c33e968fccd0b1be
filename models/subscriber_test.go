package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscriberName(t *testing.T) {
	t.Run("256 graphemes is valid", func(t *testing.T) {
		_, err := ParseSubscriberName(strings.Repeat("ё", 256))
		require.NoError(t, err)
	})

	t.Run("257 graphemes is rejected", func(t *testing.T) {
		_, err := ParseSubscriberName(strings.Repeat("ё", 257))
		require.ErrorIs(t, err, ErrInvalidSubscriberName)
	})

	t.Run("whitespace only is rejected", func(t *testing.T) {
		_, err := ParseSubscriberName("   ")
		require.ErrorIs(t, err, ErrInvalidSubscriberName)
	})

	t.Run("forbidden characters are rejected", func(t *testing.T) {
		for _, c := range forbiddenNameCharacters {
			_, err := ParseSubscriberName("ursula" + string(c))
			assert.ErrorIs(t, err, ErrInvalidSubscriberName, "character %q", c)
		}
	})

	t.Run("valid name is trimmed", func(t *testing.T) {
		name, err := ParseSubscriberName("  Ursula Le Guin ")
		require.NoError(t, err)
		assert.Equal(t, "Ursula Le Guin", name)
	})
}

func TestParseSubscriberEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{email: "ursula@domain.com", valid: true},
		{email: " ursula@domain.com ", valid: true},
		{email: "", valid: false},
		{email: "ursuladomain.com", valid: false},
		{email: "@domain.com", valid: false},
	}

	for _, tt := range tests {
		_, err := ParseSubscriberEmail(tt.email)
		if tt.valid {
			assert.NoError(t, err, tt.email)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSubscriberEmail, tt.email)
		}
	}
}

func TestUserPassword(t *testing.T) {
	var user User
	require.NoError(t, user.SetPassword("correct horse battery"))

	assert.NoError(t, user.ComparePassword("correct horse battery"))
	assert.Error(t, user.ComparePassword("wrong"))
}
