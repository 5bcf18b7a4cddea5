package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dtran/mailtrack/internal/model"
)

// FileStore keeps the credential record as a JSON file readable only by the
// owning user. Saves go through a temp file in the same directory followed by
// a rename, so concurrent readers never observe a torn write.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the per-user credential file location,
// ~/.config/mailtrack/credentials.json (honoring XDG_CONFIG_HOME).
func DefaultPath() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "mailtrack", "credentials.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "credentials.json")
	}
	return filepath.Join(home, ".config", "mailtrack", "credentials.json")
}

// Load reads the persisted record. A missing file yields (nil, nil); a file
// that exists but does not parse yields CorruptStoreError.
func (s *FileStore) Load() (*model.Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading credential file %s: %w", s.path, err)
	}

	var cred model.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, &CorruptStoreError{Location: s.path, Err: err}
	}
	return &cred, nil
}

// Save atomically persists the full record, creating the containing
// directory owner-only if it does not exist yet.
func (s *FileStore) Save(cred *model.Credential) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credential directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("restricting temp credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp credential file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing credential file %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the persisted record. Clearing an absent store is a no-op.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credential file %s: %w", s.path, err)
	}
	return nil
}
