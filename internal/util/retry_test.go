package util

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := Retry(fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return syscall.EIO
		}
		return nil
	}, "flaky operation")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	permanent := errors.New("schema mismatch")
	attempts := 0
	err := Retry(fastRetryConfig(), func() error {
		attempts++
		return permanent
	}, "doomed operation")
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-retryable errors must fail immediately, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(fastRetryConfig(), func() error {
		attempts++
		return syscall.ETIMEDOUT
	}, "hopeless operation")
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Error("nil is not retryable")
	}
	if !IsRetryableError(&os.PathError{Op: "open", Path: "/x", Err: syscall.EIO}) {
		t.Error("wrapped EIO is retryable")
	}
	if IsRetryableError(errors.New("permission denied")) {
		t.Error("permission errors are not retryable")
	}
	if !IsRetryableError(errors.New("connection reset by peer")) {
		t.Error("connection resets are retryable")
	}
}

func TestCopyFileOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	if err := os.WriteFile(src, []byte("fresh content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fresh content" {
		t.Errorf("unexpected destination content %q", data)
	}
}

func TestNonexistentSibling(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "backup")

	first := NonexistentSibling(base, ".db3")
	if first != base+".db3" {
		t.Errorf("expected the plain name first, got %s", first)
	}
	if err := os.WriteFile(first, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	second := NonexistentSibling(base, ".db3")
	if second == first {
		t.Error("expected a different name once the first exists")
	}
}
