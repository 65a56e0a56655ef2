package artifact

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Metadata describes the configuration that produced an artifact. It is
// written next to the artifact after the artifact itself, so a crash between
// the two writes leaves a cache miss rather than a stale hit.
type Metadata struct {
	Stage             string          `json:"stage"`
	ConfigFingerprint string          `json:"config_fingerprint"`
	ArtifactSHA256    string          `json:"artifact_sha256"`
	CompletedAt       time.Time       `json:"completed_at"`
	Config            json.RawMessage `json:"config,omitempty"`
}

// Validate implements Validatable.
func (m *Metadata) Validate() error {
	switch {
	case strings.TrimSpace(m.Stage) == "":
		return fmt.Errorf("metadata stage missing")
	case len(m.ConfigFingerprint) != 64:
		return fmt.Errorf("metadata config_fingerprint malformed")
	case len(m.ArtifactSHA256) != 64:
		return fmt.Errorf("metadata artifact_sha256 malformed")
	case m.CompletedAt.IsZero():
		return fmt.Errorf("metadata completed_at missing")
	}
	return nil
}

// MetadataName returns the metadata file name for an artifact:
// segments.vad.json -> segments.vad.meta.json. Metadata for artifacts that
// live outside the work dir is still kept inside it.
func MetadataName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".meta.json"
}

// Seal hashes the named artifact and records meta for it. The artifact must
// already be fully written.
func (s *Store) Seal(name string, meta Metadata) (Metadata, error) {
	digest, err := s.Digest(name)
	if err != nil {
		return Metadata{}, fmt.Errorf("seal %s: %w", name, err)
	}
	meta.ArtifactSHA256 = digest
	if meta.CompletedAt.IsZero() {
		meta.CompletedAt = time.Now().UTC()
	}
	if err := s.WriteJSON(MetadataName(name), &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// ReadMetadata loads the metadata recorded for the named artifact.
func (s *Store) ReadMetadata(name string) (Metadata, error) {
	var meta Metadata
	if err := s.ReadJSON(MetadataName(name), &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}
