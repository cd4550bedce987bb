package scheduler

import (
	"path/filepath"
	"testing"
)

func TestFileLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")

	first := NewFileLock(path)
	ok, err := first.TryLock()
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if !ok {
		t.Fatalf("expected first lock to succeed")
	}

	second := NewFileLock(path)
	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if ok {
		t.Fatalf("expected second lock to be rejected while first holds it")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("second lock after release: %v", err)
	}
	if !ok {
		t.Fatalf("expected second lock to succeed once first released")
	}
	_ = second.Unlock()
}
