package credentials

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mdlm/internal/apperr"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPIURL, "")
	return &Provider{
		Path:   filepath.Join(t.TempDir(), "config.yaml"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSaveAndToken(t *testing.T) {
	p := testProvider(t)
	if err := p.Save("mdlm_testkey123"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(p.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}

	key, err := p.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if key != "mdlm_testkey123" {
		t.Errorf("key = %q", key)
	}
}

func TestSaveRejectsBadPrefix(t *testing.T) {
	p := testProvider(t)
	if err := p.Save("sk-wrong-prefix"); err == nil {
		t.Error("expected error for key without mdlm_ prefix")
	}
	if err := p.Save(""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestTokenEnvPrecedence(t *testing.T) {
	p := testProvider(t)
	if err := p.Save("mdlm_fromfile"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Setenv(EnvAPIKey, "mdlm_fromenv")

	key, err := p.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if key != "mdlm_fromenv" {
		t.Errorf("key = %q, want env value", key)
	}
}

func TestTokenMissing(t *testing.T) {
	p := testProvider(t)
	_, err := p.Token()
	if !errors.Is(err, apperr.ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestBaseURLDefault(t *testing.T) {
	p := testProvider(t)
	url, err := p.BaseURL()
	if err != nil {
		t.Fatalf("BaseURL: %v", err)
	}
	if url != "https://markdownlm.com" {
		t.Errorf("url = %q", url)
	}
}

func TestBaseURLOverrideAndTrim(t *testing.T) {
	p := testProvider(t)
	t.Setenv(EnvAPIURL, "https://staging.example.com/")
	url, err := p.BaseURL()
	if err != nil {
		t.Fatalf("BaseURL: %v", err)
	}
	if url != "https://staging.example.com" {
		t.Errorf("url = %q", url)
	}
}

func TestBaseURLRejectsInsecure(t *testing.T) {
	p := testProvider(t)
	t.Setenv(EnvAPIURL, "http://insecure.example.com")
	if _, err := p.BaseURL(); err == nil {
		t.Error("expected error for non-https URL")
	}
}
