package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DayLayout is the calendar-day key format used everywhere a date is
// compared. Days are compared as strings, not instants, so one logical
// day never splits across timezones.
const DayLayout = "2006-01-02"

// DayKey formats t as a YYYY-MM-DD calendar-day key.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD calendar-day key.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// ValidateEmail takes an email string as input and returns a boolean indicating whether the input is a valid email address.
func ValidateEmail(email string) bool {
	const emailPattern = `^(?i)[a-z0-9._%+\-]+@(?:[a-z0-9\-]+\.)+[a-z]{2,}$`
	matched, err := regexp.MatchString(emailPattern, email)
	return err == nil && matched
}

// ValidatePassword takes a password string as input and returns a boolean indicating whether the input is a valid password.
// A valid password is at least 8 characters long and contains both numbers and letters.
func ValidatePassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	containsLetter, _ := regexp.MatchString(`[a-zA-Z]`, password)
	containsNumber, _ := regexp.MatchString(`[0-9]`, password)
	return containsLetter && containsNumber
}

func PrintError(message string) {
	message = "ERROR: " + message
	bannerChar := "="
	bannerLength := len(message) + 4
	bannerLine := strings.Repeat(bannerChar, bannerLength)

	fmt.Println(bannerLine)
	fmt.Printf("%s %s %s\n", bannerChar, message, bannerChar)
	fmt.Println(bannerLine)
	fmt.Println()
}
