// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

func TestFormatError(t *testing.T) {
	t.Parallel()

	t.Run("nil error returns nil", func(t *testing.T) {
		t.Parallel()

		if err := FormatError(nil, "coordinator.cue"); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("non-CUE error is wrapped with filepath", func(t *testing.T) {
		t.Parallel()

		originalErr := errors.New("some error")
		err := FormatError(originalErr, "coordinator.cue")
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "coordinator.cue") {
			t.Errorf("error should contain filepath, got: %v", err)
		}
		if !errors.Is(err, originalErr) {
			t.Errorf("error should wrap the original, got: %v", err)
		}
	})
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	if got := ValidationErrors(nil, "x.cue"); got != nil {
		t.Errorf("ValidationErrors(nil) = %v, want nil", got)
	}

	got := ValidationErrors(errors.New("boom"), "x.cue")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].CUEPath != "" || got[0].Message != "boom" || got[0].FilePath != "x.cue" {
		t.Errorf("unexpected entry %+v", got[0])
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     []string
		expected string
	}{
		{name: "empty path", path: []string{}, expected: ""},
		{name: "single element", path: []string{"port"}, expected: "port"},
		{name: "nested path", path: []string{"server", "wait_timeout"}, expected: "server.wait_timeout"},
		{name: "array index", path: []string{"dependencies", "1"}, expected: "dependencies[1]"},
		{
			name:     "map key then index",
			path:     []string{"server", "dependencies", "web", "0"},
			expected: "server.dependencies.web[0]",
		},
		{name: "leading numeric is a key", path: []string{"0", "a"}, expected: "0.a"},
		{name: "definition prefix dropped", path: []string{"#Peer", "id"}, expected: "id"},
		{name: "definition only", path: []string{"#Peer"}, expected: ""},
		{name: "nested definition kept", path: []string{"server", "#Limits", "max"}, expected: "server.#Limits.max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if result := formatPath(tt.path); result != tt.expected {
				t.Errorf("formatPath(%v) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "within limit", size: 11},
		{name: "at exact limit", size: 100},
		{name: "empty", size: 0},
		{name: "exceeding limit", size: 101, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := CheckFileSize(make([]byte, tt.size), 100, "coordinator.cue")
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckFileSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			for _, want := range []string{"coordinator.cue", "101", "100"} {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should contain %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	t.Run("Error with path", func(t *testing.T) {
		t.Parallel()

		err := &ValidationError{
			FilePath: "coordinator.cue",
			CUEPath:  "server.port",
			Message:  "expected int, got string",
		}
		expected := "coordinator.cue: server.port: expected int, got string"
		if err.Error() != expected {
			t.Errorf("got %q, want %q", err.Error(), expected)
		}
	})

	t.Run("Error without path", func(t *testing.T) {
		t.Parallel()

		err := &ValidationError{FilePath: "coordinator.cue", Message: "syntax error"}
		if err.Error() != "coordinator.cue: syntax error" {
			t.Errorf("got %q", err.Error())
		}
		if err.Unwrap() != nil {
			t.Error("Unwrap should return nil")
		}
	})
}
