package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoFilesExist(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	projectDir := t.TempDir()

	settings, err := Load(projectDir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Debug.TimeoutMillis != DefaultTimeoutMillis {
		t.Fatalf("expected default timeout %d, got %d", DefaultTimeoutMillis, settings.Debug.TimeoutMillis)
	}
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	globalDir := filepath.Join(home, ".config", "cog")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatalf("mkdir global config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(globalDir, "settings.json"), []byte(`{"debug":{"timeout":5000}}`), 0o644); err != nil {
		t.Fatalf("write global settings: %v", err)
	}

	projectDir := t.TempDir()
	cogDir := filepath.Join(projectDir, ".cog")
	if err := os.MkdirAll(cogDir, 0o755); err != nil {
		t.Fatalf("mkdir .cog: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cogDir, "settings.json"), []byte(`{"debug":{"timeout":9000}}`), 0o644); err != nil {
		t.Fatalf("write project settings: %v", err)
	}

	settings, err := Load(projectDir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Debug.TimeoutMillis != 9000 {
		t.Fatalf("expected project override 9000, got %d", settings.Debug.TimeoutMillis)
	}
}

func TestLoadFallsBackToGlobalWhenProjectOmitsField(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	globalDir := filepath.Join(home, ".config", "cog")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatalf("mkdir global config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(globalDir, "settings.json"), []byte(`{"debug":{"timeout":5000}}`), 0o644); err != nil {
		t.Fatalf("write global settings: %v", err)
	}

	projectDir := t.TempDir()
	cogDir := filepath.Join(projectDir, ".cog")
	if err := os.MkdirAll(cogDir, 0o755); err != nil {
		t.Fatalf("mkdir .cog: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cogDir, "settings.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write project settings: %v", err)
	}

	settings, err := Load(projectDir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Debug.TimeoutMillis != 5000 {
		t.Fatalf("expected fallback to global 5000, got %d", settings.Debug.TimeoutMillis)
	}
}
