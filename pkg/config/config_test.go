package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Port        int           `default:"8080"`
	APIKey      string        `split_words:"true" required:"true"`
	IdleTimeout time.Duration `split_words:"true" default:"24h"`
}

func TestNewLoadsExplicitEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_API_KEY=secret\nCFGTEST_PORT=9090\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	SetEnvFile(path)
	t.Cleanup(func() {
		SetEnvFile("")
		os.Unsetenv("CFGTEST_API_KEY")
		os.Unsetenv("CFGTEST_PORT")
	})

	cfg, err := New[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.APIKey != "secret" {
		t.Fatalf("APIKey = %q, want %q", cfg.APIKey, "secret")
	}
	if cfg.Port != 9090 {
		t.Fatalf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.IdleTimeout != 24*time.Hour {
		t.Fatalf("IdleTimeout = %v, want 24h", cfg.IdleTimeout)
	}
}

func TestNewEnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGWIN_API_KEY=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("CFGWIN_API_KEY", "from-env")
	SetEnvFile(path)
	t.Cleanup(func() { SetEnvFile("") })

	cfg, err := New[sampleConfig]("CFGWIN")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.APIKey != "from-env" {
		t.Fatalf("APIKey = %q, want %q", cfg.APIKey, "from-env")
	}
}

func TestNewMissingRequired(t *testing.T) {
	SetEnvFile("")

	if _, err := New[sampleConfig]("CFGMISSING"); err == nil {
		t.Fatal("New() error = nil, want required field error")
	}
}

func TestMustNewPanicsOnError(t *testing.T) {
	SetEnvFile("")

	defer func() {
		if recover() == nil {
			t.Fatal("MustNew() did not panic")
		}
	}()
	_ = MustNew[sampleConfig]("CFGPANIC")
}
