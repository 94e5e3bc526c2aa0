package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Username != DefaultUsername {
		t.Errorf("Username = %q", cfg.Auth.Username)
	}
	if !cfg.CheckPassword(DefaultUsername, DefaultPassword) {
		t.Error("default credentials rejected")
	}
	if cfg.CheckPassword(DefaultUsername, "wrong") || cfg.CheckPassword("root", DefaultPassword) {
		t.Error("wrong credentials accepted")
	}
	if len(cfg.Auth.APIKey) != KeyLength {
		t.Errorf("APIKey = %q", cfg.Auth.APIKey)
	}
	if cfg.Auth.SessionTimeout != 5*time.Minute {
		t.Errorf("SessionTimeout = %v", cfg.Auth.SessionTimeout)
	}
	if !cfg.Storage.AtomicWrites {
		t.Error("AtomicWrites must default to true")
	}
	info, err := os.Stat(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}

	// Loading again is stable.
	cfg2, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg2.Auth.APIKey != cfg.Auth.APIKey || cfg2.Auth.PasswordHash != cfg.Auth.PasswordHash {
		t.Error("credentials changed on reload")
	}
	if cfg2.Auth.SessionTimeout != cfg.Auth.SessionTimeout {
		t.Errorf("SessionTimeout = %v", cfg2.Auth.SessionTimeout)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_RegeneratesMalformedKey(t *testing.T) {
	for _, key := range []string{"", "SHORT", "MUCHTOOLONGKEY"} {
		t.Run(key, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "auth:\n  api_key: \""+key+"\"\n")
			cfg, err := Load(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(cfg.Auth.APIKey) != KeyLength || cfg.Auth.APIKey == key {
				t.Errorf("APIKey = %q", cfg.Auth.APIKey)
			}
			raw, err := os.ReadFile(filepath.Join(dir, FileName))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(raw), cfg.Auth.APIKey) {
				t.Error("regenerated key was not saved")
			}
		})
	}
	dir := t.TempDir()
	writeConfig(t, dir, "auth:\n  api_key: ABCD1234\n")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.APIKey != "ABCD1234" {
		t.Errorf("valid key replaced: %q", cfg.Auth.APIKey)
	}
}

func TestLoad_HashesPlaintextPassword(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "auth:\n  username: root\n  password: s3cret\n  api_key: ABCD1234\n")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Password != "" {
		t.Error("plaintext password kept in memory")
	}
	if !cfg.CheckPassword("root", "s3cret") {
		t.Error("password rejected")
	}
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "s3cret") {
		t.Error("plaintext password saved")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"yaml", "server: [\n"},
		{"codec", "storage:\n  codec: lz4\n"},
		{"level", "log:\n  level: loud\n"},
		{"rate", "rate_limits:\n  write_per_min: -1\n"},
		{"duration", "auth:\n  session_timeout: soon\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tc.content)
			if _, err := Load(dir); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerateKey(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		k, err := GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		if len(k) != KeyLength {
			t.Fatalf("len(%q) = %d", k, len(k))
		}
		for _, c := range k {
			if !strings.ContainsRune(keyAlphabet, c) {
				t.Fatalf("unexpected character %q in %q", c, k)
			}
		}
		seen[k] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d distinct keys out of 50", len(seen))
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := Default()
	if got := cfg.DatabasesPath("/data"); got != filepath.Join("/data", "databases") {
		t.Errorf("DatabasesPath() = %q", got)
	}
	cfg.Storage.DatabasesDir = "/srv/db"
	if got := cfg.DatabasesPath("/data"); got != "/srv/db" {
		t.Errorf("DatabasesPath() = %q", got)
	}
	cfg.Log.AuditFile = ""
	if got := cfg.AuditPath("/data"); got != "" {
		t.Errorf("AuditPath() = %q", got)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Storage.Codec = "zstd"
	cfg.Auth.TokenTTL = 90 * time.Second
	if err := cfg.Save(dir); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		t.Fatal(err)
	}
	if _, ok := generic["rate_limits"]; !ok {
		t.Errorf("missing rate_limits section in:\n%s", raw)
	}
	cfg2, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg2.Codec().String() != "zstd" || cfg2.Auth.TokenTTL != 90*time.Second {
		t.Errorf("got %+v", cfg2.Storage)
	}
}

func TestSchema(t *testing.T) {
	b, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	var s map[string]any
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatal(err)
	}
	props, ok := s["properties"].(map[string]any)
	if !ok {
		t.Fatalf("no properties in schema:\n%s", b)
	}
	for _, k := range []string{"server", "auth", "storage", "rate_limits", "history", "log"} {
		if _, ok := props[k]; !ok {
			t.Errorf("schema misses %q", k)
		}
	}
}
