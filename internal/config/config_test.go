package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearAgeEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STREAMTPL_AGE_IDENTITY", "")
	t.Setenv("STREAMTPL_AGE_PASSPHRASE", "")
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
age:
  identity_file: ~/.keys/age.txt
  passphrase: env:MY_SECRET
format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Age == nil {
		t.Fatal("expected age config")
	}
	if cfg.Age.IdentityFile != "~/.keys/age.txt" {
		t.Errorf("identity_file = %q", cfg.Age.IdentityFile)
	}
	if cfg.Age.Passphrase != "env:MY_SECRET" {
		t.Errorf("passphrase = %q", cfg.Age.Passphrase)
	}
	if cfg.Format != "json" {
		t.Errorf("format = %q", cfg.Format)
	}
}

func TestLoadMissingExplicit(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadMissingDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Age != nil || cfg.Format != "" {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "age: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestLoadBadFormat(t *testing.T) {
	path := writeConfig(t, "format: xml\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), `unknown format "xml"`) {
		t.Errorf("error = %v", err)
	}
}

func TestKeyFromConfig(t *testing.T) {
	clearAgeEnv(t)
	cfg := Config{Age: &AgeConfig{Passphrase: "secret"}}
	key := cfg.Key()
	if key == nil {
		t.Fatal("expected a key")
	}
	if key.Passphrase != "secret" || key.IdentityFile != "" {
		t.Errorf("key = %+v", key)
	}
}

func TestKeyEnvWins(t *testing.T) {
	clearAgeEnv(t)
	t.Setenv("STREAMTPL_AGE_PASSPHRASE", "from-env")
	cfg := Config{Age: &AgeConfig{Passphrase: "from-file"}}
	if got := cfg.Key().Passphrase; got != "from-env" {
		t.Errorf("passphrase = %q, want from-env", got)
	}
}

func TestKeyEnvRef(t *testing.T) {
	clearAgeEnv(t)
	t.Setenv("MY_SECRET", "hunter2")
	cfg := Config{Age: &AgeConfig{Passphrase: "env:MY_SECRET"}}
	if got := cfg.Key().Passphrase; got != "hunter2" {
		t.Errorf("passphrase = %q, want hunter2", got)
	}
}

func TestKeyIdentityFromEnv(t *testing.T) {
	clearAgeEnv(t)
	t.Setenv("STREAMTPL_AGE_IDENTITY", "/keys/age.txt")
	key := (Config{}).Key()
	if key == nil || key.IdentityFile != "/keys/age.txt" {
		t.Errorf("key = %+v", key)
	}
}

func TestKeyExpandsIdentityPath(t *testing.T) {
	clearAgeEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := Config{Age: &AgeConfig{IdentityFile: "~/keys/age.txt"}}
	want := filepath.Join(home, "keys", "age.txt")
	if got := cfg.Key().IdentityFile; got != want {
		t.Errorf("IdentityFile = %q, want %q", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("KEYDIR", "/keys")
	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/age.txt", filepath.Join(home, "age.txt")},
		{"$KEYDIR/age.txt", "/keys/age.txt"},
		{"/abs/age.txt", "/abs/age.txt"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyNone(t *testing.T) {
	clearAgeEnv(t)
	if key := (Config{}).Key(); key != nil {
		t.Errorf("expected nil key, got %+v", key)
	}
}

func TestDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	want := filepath.Join(home, ".config", "streamtpl", "config.yml")
	if got := DefaultPath(); got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}
}
