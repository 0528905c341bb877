package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug, "info": LevelInfo, "warn": LevelWarning,
		"warning": LevelWarning, "error": LevelError,
	}
	for s, want := range cases {
		got, err := ParseLevel(s)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestManagerWritesOnlyAtOrAboveConfiguredLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	m, err := NewManager(Config{Types: []TypeConfig{
		{Types: []string{"*"}, Level: LevelWarning, Method: MethodConfig{Filename: path}},
	}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Debug("connect", "this should be filtered out")
	m.Warning("connect", "this should appear")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "filtered out") {
		t.Fatal("expected a Debug line to be suppressed below the configured Warning level")
	}
	if !strings.Contains(out, "this should appear") {
		t.Fatalf("expected the Warning line to be written, got %q", out)
	}
}

func TestManagerFiltersByType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connect.log")

	m, err := NewManager(Config{Types: []TypeConfig{
		{Types: []string{"connect"}, Level: LevelDebug, Method: MethodConfig{Filename: path}},
	}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Debug("connect", "accepted")
	m.Debug("server", "linked")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "accepted") {
		t.Fatal("expected the matching type's line to be written")
	}
	if strings.Contains(out, "linked") {
		t.Fatal("expected a non-matching type's line to be filtered out")
	}
}

func TestApplyConfigClosesSupersededFileHandles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotated.log")

	m, err := NewManager(Config{Types: []TypeConfig{
		{Types: []string{"*"}, Level: LevelDebug, Method: MethodConfig{Filename: path}},
	}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	old := m.writers[0].file
	if err := m.ApplyConfig(Config{}); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if _, err := old.WriteString("x"); err == nil {
		t.Fatal("expected the superseded log file handle to be closed")
	}
	// A rehash to an empty config should not panic or error on the next log call.
	m.Info("internal", "after rehash")
}

func TestIsLoggingRawIOReflectsConfig(t *testing.T) {
	m, err := NewManager(Config{RawIO: true})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if !m.IsLoggingRawIO() {
		t.Fatal("expected IsLoggingRawIO to reflect RawIO: true")
	}
}
