package validation

import (
	"strings"
	"testing"
	"time"
)

func TestValidateNonEmptyString(t *testing.T) {
	if err := ValidateNonEmptyString("password", ""); err == nil || !strings.Contains(err.Error(), "password") {
		t.Errorf("expected error naming the field, got %v", err)
	}
	if err := ValidateNonEmptyString("password", "x"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"plain", "inspector@example.com", false},
		{"subdomain", "a.b@mail.example.org", false},
		{"empty", "", true},
		{"no at", "inspector.example.com", true},
		{"display name", "Inspector <inspector@example.com>", true},
		{"surrounding spaces", " inspector@example.com ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"https", "https://api.example.com", false},
		{"http with path", "http://localhost:8080/v1/", false},
		{"relative", "/api", true},
		{"no scheme", "api.example.com", true},
		{"ftp", "ftp://files.example.com", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL("api_url", tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBaseURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "api_url") {
				t.Errorf("error should name the field: %v", err)
			}
		})
	}
}

func TestValidatePositiveDuration(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		if err := ValidatePositiveDuration("interval", d); err == nil {
			t.Errorf("expected error for %s", d)
		}
	}
	if err := ValidatePositiveDuration("interval", time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRetryCount(t *testing.T) {
	tests := []struct {
		n       int
		wantErr bool
	}{
		{-1, true},
		{0, false},
		{3, false},
		{10, false},
		{11, true},
	}
	for _, tt := range tests {
		if err := ValidateRetryCount(tt.n); (err != nil) != tt.wantErr {
			t.Errorf("ValidateRetryCount(%d) error = %v, wantErr %v", tt.n, err, tt.wantErr)
		}
	}
}
