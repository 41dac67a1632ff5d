package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{304, ""},
		{400, ErrorClassClient},
		{401, ErrorClassAuth},
		{403, ErrorClassAuth},
		{404, ErrorClassClient},
		{408, ErrorClassTransient},
		{422, ErrorClassClient},
		{429, ErrorClassTransient},
		{500, ErrorClassTransient},
		{503, ErrorClassTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := ClassifyStatus(tt.status); got != tt.want {
				t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	auth := &APIError{StatusCode: 401, Class: ErrorClassAuth, Message: "unauthorized"}

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"api error", auth, ErrorClassAuth},
		{"wrapped api error", fmt.Errorf("page 3: %w", auth), ErrorClassAuth},
		{"plain error", errors.New("connection reset"), ErrorClassTransient},
		{"cancelled", context.Canceled, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}

	if !IsFatalToRun(fmt.Errorf("wrapped: %w", auth)) {
		t.Error("IsFatalToRun(auth) = false")
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "status without cause",
			err:      &APIError{StatusCode: 404, Class: ErrorClassClient, Message: "not found"},
			expected: "client error (status 404): not found",
		},
		{
			name:     "status with cause",
			err:      &APIError{StatusCode: 200, Class: ErrorClassTransient, Message: "decode page", Err: ErrDecode},
			expected: "transient error (status 200): decode page: undecodable response body",
		},
		{
			name:     "no status",
			err:      &APIError{Class: ErrorClassTransient, Message: "request failed", Err: errors.New("dial tcp: refused")},
			expected: "transient error: request failed: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	err := &APIError{StatusCode: 200, Class: ErrorClassTransient, Err: ErrDecode}
	if !errors.Is(err, ErrDecode) {
		t.Error("errors.Is(APIError, ErrDecode) = false")
	}
}
