package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// AppendLog is a JSON-lines file where every Append is flushed to disk
// before returning. A crash can only tear the final line; Open drops such a
// tail and Load skips any line that does not decode.
type AppendLog[T any] struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenAppendLog opens (or creates) the log at path, truncating a torn
// trailing line left behind by an interrupted write.
func OpenAppendLog[T any](path string) (*AppendLog[T], error) {
	if err := truncateTornTail(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open append log %s: %w", path, err)
	}
	return &AppendLog[T]{path: path, file: file}, nil
}

// Path returns the log file location.
func (l *AppendLog[T]) Path() string {
	return l.path
}

// Append writes entry as one line and fsyncs it. Safe for concurrent use.
func (l *AppendLog[T]) Append(entry T) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("append log closed")
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", l.path, err)
	}
	return nil
}

// Load decodes every complete line. Lines that fail to decode, or entries that
// fail validation when T implements Validatable, are skipped and counted.
func (l *AppendLog[T]) Load() ([]T, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return loadLines[T](l.path)
}

// Close releases the underlying file.
func (l *AppendLog[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func loadLines[T any](path string) ([]T, int, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var (
		entries []T
		skipped int
	)
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			complete := line[len(line)-1] == '\n'
			line = bytes.TrimSpace(line)
			switch {
			case len(line) == 0:
			case !complete:
				skipped++
			default:
				var entry T
				if decodeErr := json.Unmarshal(line, &entry); decodeErr != nil {
					skipped++
				} else if v, ok := any(&entry).(Validatable); ok && v.Validate() != nil {
					skipped++
				} else {
					entries = append(entries, entry)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return entries, skipped, nil
}

func truncateTornTail(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	if err := os.Truncate(path, int64(keep)); err != nil {
		return fmt.Errorf("truncate torn tail of %s: %w", path, err)
	}
	return nil
}
