package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDir_EnvOverride(t *testing.T) {
	t.Setenv("KC_DATA_DIR", "/tmp/custom-kc")
	dir, err := DataDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/tmp/custom-kc" {
		t.Errorf("DataDir = %q", dir)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("KC_DATA_DIR", dataDir)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dataDir {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.DBPath != filepath.Join(dataDir, "highlights.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoad_APIKeyFallsBackToAnthropicEnv(t *testing.T) {
	t.Setenv("KC_DATA_DIR", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
}

func TestLoad_Profile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("KC_DATA_DIR", dataDir)

	profile := `
model = "claude-opus-4"
parallel_requests = 4

[anki]
deck = "My Reading Deck"
url = "http://localhost:9999"
`
	if err := os.WriteFile(filepath.Join(dataDir, "profile.toml"), []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "claude-opus-4" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.ParallelRequests != 4 {
		t.Errorf("ParallelRequests = %d", cfg.ParallelRequests)
	}
	if cfg.Anki.Deck != "My Reading Deck" || cfg.Anki.URL != "http://localhost:9999" {
		t.Errorf("Anki profile = %+v", cfg.Anki)
	}
}

func TestLoad_ProfileUnknownKeyRejected(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("KC_DATA_DIR", dataDir)

	if err := os.WriteFile(filepath.Join(dataDir, "profile.toml"),
		[]byte("modle = \"typo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(nil); err == nil {
		t.Error("typo'd profile key should be rejected")
	}
}

func TestLoad_MissingProfileIsFine(t *testing.T) {
	t.Setenv("KC_DATA_DIR", t.TempDir())
	if _, err := Load(nil); err != nil {
		t.Errorf("Load without profile: %v", err)
	}
}

func TestLogWriter(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested")
	w, err := LogWriter(dataDir)
	if err != nil {
		t.Fatalf("LogWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "kindlecards.log")); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}
