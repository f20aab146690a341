package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Window.InitialSize != want.Window.InitialSize || cfg.FEC.Enable != want.FEC.Enable {
		t.Errorf("Load of missing file = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadEmptyFilenameReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Window.WMax != Default().Window.WMax {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yamlContent := "Window:\n  InitialSize: 32\nFEC:\n  Enable: true\n  GroupSize: 5\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Window.InitialSize != 32 {
		t.Errorf("Window.InitialSize = %d, want 32", cfg.Window.InitialSize)
	}
	if !cfg.FEC.Enable || cfg.FEC.GroupSize != 5 {
		t.Errorf("FEC = %+v, want Enable=true GroupSize=5", cfg.FEC)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Log.Level != Default().Log.Level {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, Default().Log.Level)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error parsing malformed YAML")
	}
}
