package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"time"
)

const (
	MinRetries = 0
	MaxRetries = 10
)

func ValidateNonEmptyString(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidateEmail accepts a bare address, not a display-name form.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address: %q", email)
	}
	return nil
}

func ValidateBaseURL(fieldName, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", fieldName, raw)
	}
	return nil
}

func ValidatePositiveDuration(fieldName string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", fieldName, d)
	}
	return nil
}

func ValidateRetryCount(n int) error {
	if n < MinRetries || n > MaxRetries {
		return fmt.Errorf("max retries must be between %d and %d, got %d", MinRetries, MaxRetries, n)
	}
	return nil
}
