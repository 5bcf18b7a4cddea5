package credential

import (
	"errors"
	"fmt"

	"github.com/dtran/mailtrack/internal/model"
)

// Store persists the single per-installation Credential record. Load returns
// (nil, nil) when no record has ever been saved; Clear on an absent record is
// not an error.
type Store interface {
	Load() (*model.Credential, error)
	Save(cred *model.Credential) error
	Clear() error
}

// CorruptStoreError indicates that a persisted record exists but cannot be
// parsed as a Credential. It is never silently discarded; the user decides
// whether to log out (clearing it) or repair it.
type CorruptStoreError struct {
	Location string
	Err      error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("credential store at %s is corrupt: %v", e.Location, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

// IsCorruptStore reports whether err (or any error in its chain) is a
// CorruptStoreError.
func IsCorruptStore(err error) bool {
	var ce *CorruptStoreError
	return errors.As(err, &ce)
}

// IsAuthenticated reports whether the store holds a fully usable credential.
// An absent or corrupt store counts as not authenticated rather than an error.
func IsAuthenticated(s Store) bool {
	cred, err := s.Load()
	if err != nil {
		return false
	}
	return cred.IsAuthenticated()
}
