package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/resultbox/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestFullConfig_ResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Data.Dir = dir
	cfg.Manifest.Dropbox = "/srv/manifests/dropbox.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if want := filepath.Join(dir, "processes.json"); cfg.Manifest.Processes != want {
		t.Errorf("processes = %q, want %q", cfg.Manifest.Processes, want)
	}
	if cfg.Manifest.Dropbox != "/srv/manifests/dropbox.json" {
		t.Errorf("absolute path changed: %q", cfg.Manifest.Dropbox)
	}
	if want := filepath.Join(dir, ".locks"); cfg.Watch.LockDir != want {
		t.Errorf("lock dir = %q, want %q", cfg.Watch.LockDir, want)
	}
	if cfg.Data.Dropbox() != filepath.Join(dir, "dropbox") {
		t.Errorf("dropbox = %q", cfg.Data.Dropbox())
	}
	if want := filepath.Join(dir, "resultbox.db"); cfg.SQLite.Path != want {
		t.Errorf("sqlite path = %q, want %q", cfg.SQLite.Path, want)
	}
}

func TestSQLiteConfig_ResolvesAgainstDataDir(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		in, want string
	}{
		{"./db/results.db", filepath.Join(dir, "db", "results.db")},
		{"/var/lib/resultbox.db", "/var/lib/resultbox.db"},
		{":memory:", ":memory:"},
		{"file:results.db", "file:results.db"},
	}
	for _, tt := range tests {
		c := SQLiteConfig{Path: tt.in}
		if err := c.Validate(dir); err != nil {
			t.Fatalf("validate %q: %v", tt.in, err)
		}
		if c.Path != tt.want {
			t.Errorf("path %q = %q, want %q", tt.in, c.Path, tt.want)
		}
	}
	if err := (&SQLiteConfig{}).Validate(dir); err == nil {
		t.Error("empty path should fail")
	}
}

func TestDataConfig_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg := DataConfig{Dir: "~/results"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if want := filepath.Join(home, "results"); cfg.Dir != want {
		t.Errorf("dir = %q, want %q", cfg.Dir, want)
	}
}

func TestWatchConfig_RejectsHugeWindow(t *testing.T) {
	cfg := WatchConfig{MoveWindow: config.Duration(time.Minute)}
	if err := cfg.Validate(t.TempDir()); err == nil {
		t.Fatal("a one minute move window should fail validation")
	}
}

func TestAuxConfig_FrontendNeedsPort(t *testing.T) {
	cfg := AuxConfig{FrontendDir: "./web"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("frontend dir without port should fail")
	}
	cfg.FrontendPort = 3000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("frontend with port should pass: %v", err)
	}
}

func TestLoadConfig_OverrideLayer(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	override := filepath.Join(dir, "user.toml")
	_ = os.WriteFile(base, []byte("app:\n  http:\n    port: 8080\ndata:\n  dir: "+dir+"\nmanifest:\n  processes: p.json\n  dropbox: d.json\nsqlite:\n  path: x.db\n"), 0o644)
	_ = os.WriteFile(override, []byte("[app.http]\nport = 9191\n[watch]\nmove_window = \"500ms\"\n"), 0o644)

	cfg := NewDefaultConfig()
	if err := config.LoadLayered(base, override, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.App.HTTP.Port)
	}
	if cfg.Watch.MoveWindow.Std() != 500*time.Millisecond {
		t.Errorf("move window = %v", cfg.Watch.MoveWindow.Std())
	}
	if cfg.SQLite.Path != "x.db" {
		t.Errorf("sqlite path = %q, base value lost", cfg.SQLite.Path)
	}
}
