package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesOwner(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	owner := readOwner(lock.Path())
	if owner.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), owner.PID)
	}
	if owner.Started.IsZero() {
		t.Error("expected start time in lock file")
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() {
		t.Errorf("expected owner pid %d, got %d", os.Getpid(), lockErr.Owner.PID)
	}
	if !strings.Contains(err.Error(), "another makeriess process") || !strings.Contains(err.Error(), dir) {
		t.Errorf("unhelpful error message: %s", err)
	}

	// The failed attempt must not clobber the owner's information.
	if readOwner(first.Path()).PID != os.Getpid() {
		t.Error("lock file content changed by a failed Acquire")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestReadOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
	}{
		{"pid and start", "pid=4242\nstarted=2025-01-02T03:04:05Z\n", 4242},
		{"pid only", "pid=17\n", 17},
		{"garbage", "hello", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), LockFileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := readOwner(path).PID; got != tt.pid {
				t.Errorf("expected pid %d, got %d", tt.pid, got)
			}
		})
	}

	if got := readOwner(filepath.Join(t.TempDir(), "missing")); got.PID != 0 {
		t.Errorf("expected zero owner for missing file, got %+v", got)
	}
}
