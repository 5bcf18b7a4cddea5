package credential

import (
	"encoding/json"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/dtran/mailtrack/internal/model"
)

const (
	serviceName = "mailtrack"
	keyringKey  = "credential"
)

// KeyringStore keeps the credential record as a single item in the OS
// keychain. Selected with `credentials.backend: keyring` in the config; the
// file backend remains the default.
type KeyringStore struct {
	open func() (keyring.Keyring, error)
}

// NewKeyringStore creates a store backed by the system keyring.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{open: openKeyring}
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailtrack/keyring",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailtrack-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Load reads the record from the keyring. A missing item yields (nil, nil);
// an item that does not parse yields CorruptStoreError.
func (s *KeyringStore) Load() (*model.Credential, error) {
	ring, err := s.open()
	if err != nil {
		return nil, err
	}

	item, err := ring.Get(keyringKey)
	if err != nil {
		if err == keyring.ErrKeyNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting credential from keyring: %w", err)
	}

	var cred model.Credential
	if err := json.Unmarshal(item.Data, &cred); err != nil {
		return nil, &CorruptStoreError{Location: "keyring:" + serviceName, Err: err}
	}
	return &cred, nil
}

// Save stores the full record as one keyring item.
func (s *KeyringStore) Save(cred *model.Credential) error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	if err := ring.Set(keyring.Item{Key: keyringKey, Data: data}); err != nil {
		return fmt.Errorf("setting credential in keyring: %w", err)
	}
	return nil
}

// Clear removes the record from the keyring; absent items are not an error.
func (s *KeyringStore) Clear() error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	if err := ring.Remove(keyringKey); err != nil && err != keyring.ErrKeyNotFound {
		return fmt.Errorf("deleting credential from keyring: %w", err)
	}
	return nil
}
