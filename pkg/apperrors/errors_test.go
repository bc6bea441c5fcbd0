package apperrors

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("template.plugin", "plugin is required")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "plugin is required" {
		t.Errorf("expected message 'plugin is required', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "template.plugin" {
		t.Errorf("expected field 'template.plugin', got %q", appErr.Field)
	}
}

func TestService(t *testing.T) {
	t.Parallel()
	err := Service("exports.submit", http.StatusBadRequest, `{"error":"unsupported export format"}`)

	if !errors.Is(err, ErrService) {
		t.Error("expected error to match ErrService")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("a 400 must not match ErrNotFound")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", appErr.StatusCode)
	}
	if appErr.Body != `{"error":"unsupported export format"}` {
		t.Errorf("unexpected body %q", appErr.Body)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("expected message to mention status, got %q", err.Error())
	}
}

func TestService_TruncatesLongBody(t *testing.T) {
	t.Parallel()
	body := strings.Repeat("x", 1000)
	err := Service("exports.get", 500, body)

	if len(err.Error()) > 400 {
		t.Errorf("message not truncated: %d bytes", len(err.Error()))
	}
	var appErr *Error
	errors.As(err, &appErr)
	if appErr.Body != body {
		t.Error("expected full body to be preserved on the error")
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("exports.get", "export", "abc123", `{"error":"export not found"}`)

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if !errors.Is(err, ErrService) {
		t.Error("expected not found to also match ErrService")
	}
	if err.Error() != "export abc123 not found" {
		t.Errorf("expected message 'export abc123 not found', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "export" || appErr.ID != "abc123" {
		t.Errorf("unexpected resource/id %q/%q", appErr.Resource, appErr.ID)
	}
	if appErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", appErr.StatusCode)
	}
}

func TestProtocol(t *testing.T) {
	t.Parallel()
	cause := io.ErrUnexpectedEOF
	err := Protocol("exports.get", "decode response", cause)

	if !errors.Is(err, ErrProtocol) {
		t.Error("expected error to match ErrProtocol")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if err.Error() != "exports.get: decode response: unexpected EOF" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	noCause := Protocol("exports.get", "missing export", nil)
	if noCause.Error() != "exports.get: missing export" {
		t.Errorf("unexpected message: %q", noCause.Error())
	}
}

func TestTransport(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("connection refused")
	err := Transport("templates.list", cause)

	if !errors.Is(err, ErrTransport) {
		t.Error("expected error to match ErrTransport")
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
	if appErr.Op != "templates.list" {
		t.Errorf("expected op 'templates.list', got %q", appErr.Op)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	err := Timeout("e1", 6*time.Second)

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected error to match ErrTimeout")
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.ID != "e1" || appErr.Elapsed != 6*time.Second {
		t.Errorf("unexpected id/elapsed %q/%v", appErr.ID, appErr.Elapsed)
	}
	if err.Error() != "export e1 did not complete within 6s" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestStatusCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"service", Service("op", 502, ""), 502},
		{"not found", NotFound("op", "export", "1", ""), 404},
		{"wrapped", fmt.Errorf("wrap: %w", Service("op", 409, "")), 409},
		{"validation", Validation("f", "m"), 0},
		{"plain", fmt.Errorf("plain"), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StatusCode(tt.err); got != tt.expected {
				t.Errorf("StatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"transport", Transport("op", fmt.Errorf("reset")), true},
		{"500", Service("op", 500, ""), true},
		{"503", Service("op", 503, ""), true},
		{"429", Service("op", 429, ""), true},
		{"408", Service("op", 408, ""), true},
		{"400", Service("op", 400, ""), false},
		{"404", NotFound("op", "export", "1", ""), false},
		{"validation", Validation("f", "m"), false},
		{"protocol", Protocol("op", "bad", nil), false},
		{"timeout", Timeout("e1", time.Second), false},
		{"wrapped 502", fmt.Errorf("submit: %w", Service("op", 502, "")), true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := Validation("template", "required")
	wrapped := fmt.Errorf("submit export: %w", original)
	doubleWrapped := fmt.Errorf("dataset-export: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrValidation) {
		t.Error("expected errors.Is to find ErrValidation through multiple wraps")
	}
}
