package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateProcessName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"web", false},
		{"worker-1", false},
		{"abcdefghijkl", false}, // 12 个字符
		{"abcdefghijklm", true}, // 13 个字符
		{"bad_name", true},
		{"-web", true},
		{"Web", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidateProcessName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateProcessName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ValidateProcessName(%q) error should wrap ErrInvalidInput", tt.name)
		}
	}
}

func TestValidateProcessName_PatternMessage(t *testing.T) {
	err := ValidateProcessName("abcdefghijklm")
	if err == nil || !strings.Contains(err.Error(), "^[a-z0-9]([-a-z0-9])*$") {
		t.Fatalf("expected pattern in error message, got %v", err)
	}
}

func TestValidateProcfile(t *testing.T) {
	got, err := ValidateProcfile(map[string]string{"Web": "run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["web"] != "run" {
		t.Errorf("Web should be normalized to web, got %v", got)
	}

	_, err = ValidateProcfile(map[string]string{"Web": "run", "bad_name": "x"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Message, "bad_name") {
		t.Errorf("error should name the offending process, got %q", verr.Message)
	}
}

func TestValidateObjectKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"app/source.tar.gz", false},
		{"src.tgz", false},
		{"", true},
		{"..", true},
		{"app/../etc", true},
		{"/etc/passwd", true},
	}
	for _, tt := range tests {
		err := ValidateObjectKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateObjectKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestValidateEnvKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"FOO", false},
		{"FOO_BAR_1", false},
		{"foo", true},
		{"1FOO", true},
		{"BKPAAS_APP_ID", true},
	}
	for _, tt := range tests {
		err := ValidateEnvKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateEnvKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}
