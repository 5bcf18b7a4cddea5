package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.OAuth.RedirectPort)
	require.Equal(t, "file", cfg.Credentials.Backend)
	require.NotEmpty(t, cfg.Backend.BaseURL)
	require.False(t, cfg.Mail.DefaultMarkdown)
}

func TestLoadReadsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
oauth:
  client_id: cid
  client_secret: csecret
  redirect_port: 9999
backend:
  base_url: https://backend.test
credentials:
  backend: keyring
mail:
  default_markdown: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "cid", cfg.OAuth.ClientID)
	require.Equal(t, "csecret", cfg.OAuth.ClientSecret)
	require.Equal(t, 9999, cfg.OAuth.RedirectPort)
	require.Equal(t, "https://backend.test", cfg.Backend.BaseURL)
	require.Equal(t, "keyring", cfg.Credentials.Backend)
	require.True(t, cfg.Mail.DefaultMarkdown)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  base_url: https://b.test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://b.test", cfg.Backend.BaseURL)
	require.Equal(t, 8080, cfg.OAuth.RedirectPort)
	require.Equal(t, "file", cfg.Credentials.Backend)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.OAuth.ClientID = "cid"
	cfg.Backend.BaseURL = "https://b.test"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "cid", loaded.OAuth.ClientID)
	require.Equal(t, "https://b.test", loaded.Backend.BaseURL)
}
