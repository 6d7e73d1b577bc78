package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKeyAndParseDayRoundTrip(t *testing.T) {
	day, err := ParseDay("2025-06-15")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", DayKey(day))

	// DayKey discards the time of day.
	noon := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-15", DayKey(noon))
}

func TestParseDayRejectsOtherFormats(t *testing.T) {
	for _, bad := range []string{"06/15/2025", "2025-6-15", "20250615", "yesterday", ""} {
		_, err := ParseDay(bad)
		assert.Error(t, err, bad)
	}
}

// TestValidateEmail tests the ValidateEmail function with valid and invalid emails.
func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("test@example.com"))
	assert.False(t, ValidateEmail("test@example"))
	assert.False(t, ValidateEmail("test@.com"))
	assert.False(t, ValidateEmail("test@."))
}

// TestValidatePassword tests the ValidatePassword function with valid and invalid passwords.
func TestValidatePassword(t *testing.T) {
	assert.True(t, ValidatePassword("Test1234"))
	assert.False(t, ValidatePassword("short1"))
	assert.False(t, ValidatePassword("allletters"))
	assert.False(t, ValidatePassword("12345678"))
}
