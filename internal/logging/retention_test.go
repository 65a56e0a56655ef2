package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneLogsRemovesOnlyOldMatches(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().AddDate(0, 0, -10)
	write := func(name string, mtime time.Time) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
		return path
	}
	stale := write("old.log", old)
	active := write("avsrt.log", old)
	fresh := write("new.log", time.Now())
	other := write("notes.txt", old)

	if removed := PruneLogs(nil, dir, "*.log", 7, "avsrt.log"); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed", stale)
	}
	for _, path := range []string{active, fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestPruneLogsDisabled(t *testing.T) {
	if removed := PruneLogs(nil, t.TempDir(), "*.log", 0, ""); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}
