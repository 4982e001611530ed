package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "leadbot dev") {
		t.Errorf("expected output to contain 'leadbot dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	for _, sub := range []string{"serve", "catalog", "ledger", "advisors", "version", "--env"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to mention %q, got: %s", sub, out)
		}
	}
}

func TestAdvisorsAddListDeactivate(t *testing.T) {
	t.Setenv("APP_LEDGER_DRIVER", "sqlite")
	t.Setenv("APP_LEDGER_DSN", filepath.Join(t.TempDir(), "ledger.db"))

	if _, err := run(t, "ledger", "migrate"); err != nil {
		t.Fatalf("ledger migrate: %v", err)
	}
	if out, err := run(t, "advisors", "add", "ana", "5215550001", "--name", "Ana"); err != nil {
		t.Fatalf("advisors add: %v (%s)", err, out)
	}
	if _, err := run(t, "advisors", "add", "beto", "5215550002"); err != nil {
		t.Fatalf("advisors add: %v", err)
	}
	if _, err := run(t, "advisors", "deactivate", "beto"); err != nil {
		t.Fatalf("advisors deactivate: %v", err)
	}

	out, err := run(t, "advisors", "list")
	if err != nil {
		t.Fatalf("advisors list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two advisors, got: %q", out)
	}
	if !strings.Contains(lines[1], "ana") || !strings.Contains(lines[1], "Ana") || !strings.Contains(lines[1], "true") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "beto") || !strings.Contains(lines[2], "false") {
		t.Errorf("second row = %q", lines[2])
	}
}

func TestAdvisorsAddRequiresArgs(t *testing.T) {
	if _, err := run(t, "advisors", "add", "ana"); err == nil {
		t.Fatal("expected error for missing contact")
	}
}

func TestServeRejectsUnknownSessionBackend(t *testing.T) {
	t.Setenv("APP_SESSION_BACKEND", "carrier-pigeon")
	t.Setenv("APP_LEDGER_DSN", filepath.Join(t.TempDir(), "ledger.db"))

	_, err := run(t, "serve")
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
