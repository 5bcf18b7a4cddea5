package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// OAuthConfig holds the registered OAuth application identity. ClientID and
// ClientSecret may be left empty and supplied at login time instead.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`

	// RedirectPort is the fixed local port the one-shot callback listener
	// binds during login.
	RedirectPort int `mapstructure:"redirect_port" yaml:"redirect_port"`
}

// BackendConfig points at the tracking backend.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// CredentialsConfig selects where the credential record is persisted.
type CredentialsConfig struct {
	// Backend is "file" (default) or "keyring".
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// JournalConfig configures the local send journal.
type JournalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MailConfig holds composition preferences.
type MailConfig struct {
	// DefaultMarkdown treats bodies as markdown unless overridden by flag.
	DefaultMarkdown bool `mapstructure:"default_markdown" yaml:"default_markdown"`
}

// Config is the top-level application configuration.
type Config struct {
	OAuth       OAuthConfig       `mapstructure:"oauth" yaml:"oauth"`
	Backend     BackendConfig     `mapstructure:"backend" yaml:"backend"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Journal     JournalConfig     `mapstructure:"journal" yaml:"journal"`
	Mail        MailConfig        `mapstructure:"mail" yaml:"mail"`
}

// DefaultPath returns the default configuration file location,
// ~/.config/mailtrack/config.yaml.
func DefaultPath() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "mailtrack", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailtrack", "config.yaml")
}

func defaultConfig() *Config {
	return &Config{
		OAuth:       OAuthConfig{RedirectPort: 8080},
		Backend:     BackendConfig{BaseURL: "https://track.mailtrack.dev"},
		Credentials: CredentialsConfig{Backend: "file"},
		Journal:     JournalConfig{Path: defaultJournalPath()},
	}
}

func defaultJournalPath() string {
	return filepath.Join(filepath.Dir(DefaultPath()), "journal.db")
}

// Load reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("oauth.redirect_port", 8080)
	v.SetDefault("backend.base_url", "https://track.mailtrack.dev")
	v.SetDefault("credentials.backend", "file")
	v.SetDefault("journal.path", defaultJournalPath())
	v.SetDefault("mail.default_markdown", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the given configuration to a YAML file at path, creating
// parent directories if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("oauth", cfg.OAuth)
	v.Set("backend", cfg.Backend)
	v.Set("credentials", cfg.Credentials)
	v.Set("journal", cfg.Journal)
	v.Set("mail", cfg.Mail)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
