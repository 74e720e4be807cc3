package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/happytweet/internal/failure"
	"github.com/FranksOps/happytweet/internal/storage"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(TokenEnv, "")
	t.Setenv(EnvPrefix+"_TOKEN", "")
	t.Setenv(EnvPrefix+"_OUTPUT", "")
	t.Setenv(EnvPrefix+"_MODE", "")
	return home
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v, "golang")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Output != DefaultOutput {
		t.Errorf("expected output %q, got %q", DefaultOutput, cfg.Output)
	}
	if cfg.Mode != storage.ModeAppend {
		t.Errorf("expected append mode, got %v", cfg.Mode)
	}
	if cfg.PageSize != 100 {
		t.Errorf("expected page size 100, got %d", cfg.PageSize)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Timeout)
	}
	if cfg.RequestsPerSecond != 1 {
		t.Errorf("expected 1 rps, got %v", cfg.RequestsPerSecond)
	}
	if cfg.Format != "json" || cfg.Report != "text" {
		t.Errorf("expected json output and text report, got %q and %q", cfg.Format, cfg.Report)
	}
	if cfg.Token != "" || cfg.ConfigFile != "" {
		t.Errorf("expected no token and no config file, got %+v", cfg)
	}
}

func TestLoad_Env(t *testing.T) {
	isolate(t)
	t.Setenv(TokenEnv, "secret")
	t.Setenv(EnvPrefix+"_MODE", "overwrite")
	t.Setenv(EnvPrefix+"_MAX_RESULTS", "250")

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v, "golang")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Token != "secret" {
		t.Errorf("expected token from %s, got %q", TokenEnv, cfg.Token)
	}
	if cfg.Mode != storage.ModeOverwrite {
		t.Errorf("expected overwrite mode, got %v", cfg.Mode)
	}
	if cfg.MaxResults != 250 {
		t.Errorf("expected max results 250, got %d", cfg.MaxResults)
	}
}

func TestLoad_HomeConfigFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".happytweet")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "output: tweets.json\nlang: en\nmarkers:\n  - yay\n  - woohoo\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v, "golang")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Output != "tweets.json" || cfg.Lang != "en" {
		t.Errorf("expected values from config file, got %+v", cfg)
	}
	if len(cfg.Markers) != 2 || cfg.Markers[1] != "woohoo" {
		t.Errorf("expected markers from config file, got %v", cfg.Markers)
	}
	if cfg.ConfigFile == "" {
		t.Errorf("expected ConfigFile to be recorded")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(file, []byte("output: from-file.json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPrefix+"_OUTPUT", "from-env.json")

	v, err := NewViper(file)
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := Load(v, "golang")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "from-env.json" {
		t.Errorf("expected env to win over file, got %q", cfg.Output)
	}
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		term string
		set  map[string]any
		kind failure.Kind
	}{
		{name: "empty term", term: "   ", kind: failure.KindInvalidQuery},
		{name: "padded output", term: "go", set: map[string]any{KeyOutput: " out.json"}, kind: failure.KindIO},
		{name: "empty output", term: "go", set: map[string]any{KeyOutput: ""}, kind: failure.KindIO},
		{name: "bad mode", term: "go", set: map[string]any{KeyMode: "prepend"}},
		{name: "negative pages", term: "go", set: map[string]any{KeyMaxPages: -1}},
		{name: "bad format", term: "go", set: map[string]any{KeyFormat: "xml"}},
		{name: "bad report", term: "go", set: map[string]any{KeyReport: "html"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			v, err := NewViper("")
			if err != nil {
				t.Fatalf("NewViper: %v", err)
			}
			for k, val := range tt.set {
				v.Set(k, val)
			}

			_, err = Load(v, tt.term)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.kind != failure.KindUnknown && failure.KindOf(err) != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		format, output, want string
	}{
		{"", "/dev/stdout", "json"},
		{"", "happy.json", "json"},
		{"", "happy.CSV", "csv"},
		{"json", "happy.csv", "json"},
		{"CSV", "-", "csv"},
	}
	for _, tt := range tests {
		if got := outputFormat(tt.format, tt.output); got != tt.want {
			t.Errorf("outputFormat(%q, %q) = %q, want %q", tt.format, tt.output, got, tt.want)
		}
	}
}
