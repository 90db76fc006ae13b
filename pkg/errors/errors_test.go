// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("yaml: line 3: mapping values are not allowed")
	ae := New(CodeMalformedDefinition, "parse playbook document", cause)

	if ae.Code != CodeMalformedDefinition {
		t.Errorf("expected CodeMalformedDefinition, got %v", ae.Code)
	}
	if ae.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(ae, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
	if ae.StatusCode != 400 {
		t.Errorf("expected status 400, got %d", ae.StatusCode)
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		ae       *AdapterError
		expected string
	}{
		{
			name:     "with cause",
			ae:       New(CodeExecutionFailed, "engine rejected playbook", errors.New("missing step")),
			expected: "[EXECUTION_FAILED] engine rejected playbook: missing step",
		},
		{
			name:     "without cause",
			ae:       New(CodeNotFound, "playbook content_blog_post not found", nil),
			expected: "[NOT_FOUND] playbook content_blog_post not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ae.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	ae := New(CodeDeliveryFailed, "delivery exhausted", nil).
		WithContext("playbook_id", "ops_alert_triage").
		WithContext("attempts", 3)

	if ae.Context["playbook_id"] != "ops_alert_triage" {
		t.Errorf("expected context playbook_id to be set")
	}
	if ae.Context["attempts"] != 3 {
		t.Errorf("expected context attempts to be set")
	}
}

func TestWithRecoverable(t *testing.T) {
	ae := New(CodeDeliveryFailed, "endpoint unreachable", nil)
	if ae.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
	if !ae.WithRecoverable(true).Recoverable {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestIsCode(t *testing.T) {
	ae := New(CodeNotFound, "no such playbook", nil)
	wrapped := fmt.Errorf("resolve: %w", ae)

	if !IsCode(wrapped, CodeNotFound) {
		t.Errorf("expected IsCode to see through wrapping")
	}
	if IsCode(wrapped, CodeExecutionFailed) {
		t.Errorf("unexpected code match")
	}
	if IsCode(errors.New("plain"), CodeNotFound) {
		t.Errorf("plain error must not match")
	}
}

func TestAsAdapterError(t *testing.T) {
	if AsAdapterError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
	ae := New(CodeNotFound, "missing", nil)
	if AsAdapterError(ae) != ae {
		t.Errorf("expected identity for AdapterError")
	}
	wrapped := AsAdapterError(errors.New("boom"))
	if wrapped.Code != CodeInternal {
		t.Errorf("expected internal code for unknown error, got %v", wrapped.Code)
	}
}
