package artifact_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"avsrt/internal/artifact"
)

type logEntry struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

func (e *logEntry) Validate() error {
	if e.Text == "" {
		return fmt.Errorf("entry %d: empty text", e.ID)
	}
	return nil
}

func TestAppendLogRoundTripConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	log, err := artifact.OpenAppendLog[logEntry](path)
	if err != nil {
		t.Fatalf("OpenAppendLog: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := log.Append(logEntry{ID: id, Text: "x"}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries, skipped, err := log.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 20 || skipped != 0 {
		t.Fatalf("got %d entries, %d skipped", len(entries), skipped)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := log.Append(logEntry{ID: 99, Text: "late"}); err == nil {
		t.Fatal("expected append after close to fail")
	}
}

func TestAppendLogSkipsInvalidAndTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	content := `{"id":1,"text":"one"}` + "\n" +
		`not json` + "\n" +
		`{"id":2,"text":""}` + "\n" +
		`{"id":3,"text":"three"}` + "\n" +
		`{"id":4,"te`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	log, err := artifact.OpenAppendLog[logEntry](path)
	if err != nil {
		t.Fatalf("OpenAppendLog: %v", err)
	}
	defer log.Close()

	if err := log.Append(logEntry{ID: 5, Text: "five"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, skipped, err := log.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skipped != 2 {
		t.Fatalf("skipped = %d, want 2", skipped)
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if fmt.Sprint(ids) != "[1 3 5]" {
		t.Fatalf("ids = %v, want [1 3 5]", ids)
	}
}

func TestAppendLogLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	log, err := artifact.OpenAppendLog[logEntry](path)
	if err != nil {
		t.Fatalf("OpenAppendLog: %v", err)
	}
	defer log.Close()
	entries, skipped, err := log.Load()
	if err != nil || len(entries) != 0 || skipped != 0 {
		t.Fatalf("Load on empty log = %v, %d, %v", entries, skipped, err)
	}
}
