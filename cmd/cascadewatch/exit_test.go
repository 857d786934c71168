package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/urfave/cli/v2"
)

// captureStderr captures stderr output during function execution.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestExitErrHandler_NilError(t *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitErrHandler_ExitCoder(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "exit code 0 no message",
			err:      cli.Exit("", 0),
			wantCode: 0,
			wantMsg:  "",
		},
		{
			name:     "exit code 1 run failed",
			err:      cli.Exit("run failed", 1),
			wantCode: 1,
			wantMsg:  "run failed",
		},
		{
			name:     "exit code 2 config error",
			err:      cli.Exit("config error", 2),
			wantCode: 2,
			wantMsg:  "config error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// We can't easily test os.Exit without subprocess, but we can
			// verify the error is recognized as ExitCoder
			var exitCoder cli.ExitCoder
			if !errors.As(tt.err, &exitCoder) {
				t.Fatalf("error should be cli.ExitCoder")
			}

			if exitCoder.ExitCode() != tt.wantCode {
				t.Errorf("exit code = %d, want %d", exitCoder.ExitCode(), tt.wantCode)
			}
		})
	}
}

func TestExitErrHandler_WrappedExitCoder(t *testing.T) {
	// Test that wrapped errors still extract the exit code
	wrapped := errors.Join(errors.New("context"), cli.Exit("inner error", 42))

	var exitCoder cli.ExitCoder
	if !errors.As(wrapped, &exitCoder) {
		t.Fatal("wrapped error should still match cli.ExitCoder")
	}

	if exitCoder.ExitCode() != 42 {
		t.Errorf("exit code = %d, want 42", exitCoder.ExitCode())
	}
}

func TestExitErrHandler_RegularError(t *testing.T) {
	// Regular errors should result in exit code 1 (tested via behavior)
	err := errors.New("regular error")

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		t.Fatal("regular error should not be cli.ExitCoder")
	}
}

// TestRunExitCodes_Documentation documents the run command's exit code
// contract (defined as constants in cli/cmd/run.go).
func TestRunExitCodes_Documentation(t *testing.T) {
	codes := map[int]string{
		0: "success",
		1: "run failed",
		2: "config error",
	}

	expected := map[string]int{
		"exitSuccess":     0,
		"exitRunFailed":   1,
		"exitConfigError": 2,
	}

	for name, code := range expected {
		if _, ok := codes[code]; !ok {
			t.Errorf("%s = %d is not documented", name, code)
		}
	}
}
