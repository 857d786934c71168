// This file classifies storage backend failures so callers can use
// errors.Is against a small, stable set of sentinels instead of
// matching provider-specific error strings.
package analytics

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrNetwork          = errors.New("network error")
)

// BackendError wraps an underlying storage error with a classification.
type BackendError struct {
	Kind error
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("analytics %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return errors.Is(e.Kind, target) }

// WrapWriteError classifies and wraps a write failure. Returns nil if err is nil.
func WrapWriteError(err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Kind: classify(err), Op: "write", Err: err}
}

var classifierTable = []struct {
	patterns []string
	kind     error
}{
	{[]string{"AccessDenied", "Forbidden", "403", "permission denied", "EACCES"}, ErrPermissionDenied},
	{[]string{"no such file", "does not exist", "not found", "ENOENT", "404", "NoSuchKey"}, ErrNotFound},
	{[]string{"no space left", "disk full", "ENOSPC", "quota exceeded"}, ErrDiskFull},
	{[]string{"timeout", "timed out", "deadline exceeded"}, ErrTimeout},
	{[]string{"SlowDown", "rate exceeded", "throttl", "429", "TooManyRequests"}, ErrThrottled},
	{[]string{"credentials", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "401", "Unauthorized"}, ErrAuth},
	{[]string{"connection refused", "no route to host", "network unreachable", "dial tcp", "i/o timeout"}, ErrNetwork},
}

func classify(err error) error {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}
	lower := strings.ToLower(err.Error())
	for _, entry := range classifierTable {
		for _, p := range entry.patterns {
			if strings.Contains(lower, strings.ToLower(p)) {
				return entry.kind
			}
		}
	}
	return errors.New("storage error")
}
