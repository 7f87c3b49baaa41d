// Package credentials stores and resolves the API key and base URL for
// the remote knowledge service.
//
// Key precedence (highest first):
//  1. MDLM_API_KEY environment variable
//  2. ~/.config/mdlm/config.yaml (mode 0600)
package credentials

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mdlm/internal/apperr"
	pkgconfig "github.com/starford/mdlm/pkg/config"
)

const (
	// EnvAPIKey overrides the stored API key.
	EnvAPIKey = "MDLM_API_KEY"
	// EnvAPIURL overrides the default base URL.
	EnvAPIURL = "MDLM_API_URL"

	defaultBaseURL = "https://markdownlm.com"
	keyPrefix      = "mdlm_"
)

var keyRe = regexp.MustCompile(`^mdlm_\S+$`)

// fileConfig is the on-disk shape of the credentials file.
type fileConfig struct {
	APIKey string `yaml:"api_key"`
}

// Validate checks the stored key shape.
func (c *fileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required,
			validation.Match(keyRe).Error(fmt.Sprintf("must start with %q", keyPrefix))),
	)
}

// Provider resolves credentials from the environment and the config file.
// The zero value is not usable; construct with New.
type Provider struct {
	// Path is the credentials file location. Overridable for tests.
	Path   string
	Logger *slog.Logger
}

// New returns a Provider using the default config location
// (~/.config/mdlm/config.yaml).
func New(logger *slog.Logger) (*Provider, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("credentials: resolve config dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		Path:   filepath.Join(dir, "mdlm", "config.yaml"),
		Logger: logger,
	}, nil
}

// Save validates and persists an API key with owner-only permissions.
func (p *Provider) Save(key string) error {
	cfg := fileConfig{APIKey: key}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("credentials: invalid API key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("credentials: mkdir: %w", err)
	}

	// Create with 0600 from the start so the key is never world-readable,
	// even transiently.
	f, err := os.OpenFile(p.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("credentials: open: %w", err)
	}
	if _, err := fmt.Fprintf(f, "api_key: %s\n", key); err != nil {
		f.Close()
		return fmt.Errorf("credentials: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("credentials: close: %w", err)
	}
	// Enforce even if the file already existed with wider permissions.
	if err := os.Chmod(p.Path, 0o600); err != nil {
		return fmt.Errorf("credentials: chmod: %w", err)
	}
	return nil
}

// Token returns the API key, preferring the environment variable over the
// config file. Returns apperr.ErrNoCredentials when neither is set.
func (p *Provider) Token() (string, error) {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		return key, nil
	}

	info, err := os.Stat(p.Path)
	if err != nil {
		return "", fmt.Errorf("credentials: run `mdlm configure` or set %s: %w", EnvAPIKey, apperr.ErrNoCredentials)
	}
	if info.Mode().Perm()&(fs.FileMode(0o044)) != 0 {
		p.Logger.Warn("credentials file is readable by others, run chmod 600 on it",
			slog.String("path", p.Path))
	}

	var cfg fileConfig
	if err := pkgconfig.Load(p.Path, &cfg); err != nil {
		return "", fmt.Errorf("credentials: read %s: %w", p.Path, err)
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return "", fmt.Errorf("credentials: empty api_key in %s: %w", p.Path, apperr.ErrNoCredentials)
	}
	return key, nil
}

// BaseURL returns the service base URL. The transport must be encrypted:
// anything other than https is rejected.
func (p *Provider) BaseURL() (string, error) {
	url := strings.TrimRight(os.Getenv(EnvAPIURL), "/")
	if url == "" {
		url = defaultBaseURL
	}
	if !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("credentials: %s must use https, got %q", EnvAPIURL, url)
	}
	return url, nil
}
