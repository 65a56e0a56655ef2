package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"avsrt/internal/services"
)

// Validatable is implemented by every typed artifact so structural checks
// run on read.
type Validatable interface {
	Validate() error
}

// Store provides atomic access to the artifacts of one workspace. Names are
// resolved relative to the work dir unless already absolute.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory must already exist.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the work dir backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Path resolves an artifact name to a filesystem path.
func (s *Store) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Exists reports whether the named artifact is present as a regular file.
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// WriteJSON serializes v with indentation and writes it atomically.
func (s *Store) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')
	return s.WriteBytes(name, data)
}

// WriteBytes writes data to the named artifact atomically: the bytes land in a
// temp file in the same directory, are fsynced, and then renamed into place.
func (s *Store) WriteBytes(name string, data []byte) error {
	return writeFileAtomic(s.Path(name), data, 0o644)
}

// ReadJSON decodes the named artifact into v and validates it. A missing file
// returns ErrNotFound. A file that cannot be decoded or fails validation
// returns ErrValidation wrapped in ErrNotFound so callers recompute it.
func (s *Store) ReadJSON(name string, v Validatable) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", services.ErrNotFound, name)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalid(name, err)
	}
	if err := v.Validate(); err != nil {
		return invalid(name, err)
	}
	return nil
}

// Digest returns the hex sha256 of the named artifact.
func (s *Store) Digest(name string) (string, error) {
	return FileDigest(s.Path(name))
}

// Remove deletes the named artifact and its metadata. The metadata goes
// first so an interrupted removal never leaves a sealed, missing artifact.
// Files that are already gone are not an error.
func (s *Store) Remove(name string) error {
	for _, path := range []string{s.Path(MetadataName(name)), s.Path(name)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// FileDigest returns the hex sha256 of the file at path.
func FileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", services.ErrNotFound, filepath.Base(path))
		}
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func invalid(name string, err error) error {
	return fmt.Errorf("%w: %w: %s: %v", services.ErrNotFound, services.ErrValidation, name, err)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// CommitFile atomically moves a fully written temp file into place. It is used
// for artifacts produced by external tools that write their own output.
func CommitFile(tmpPath, path string) error {
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	syncDir(filepath.Dir(path))
	return nil
}
