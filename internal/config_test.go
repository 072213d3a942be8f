package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/a11yledger/internal/ingest"
	"github.com/starford/a11yledger/pkg/config"
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
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestIngestConfig_Validation(t *testing.T) {
	bad := []IngestConfig{
		{OnInvalid: "explode", Workers: 1, SimilarityThreshold: 0.6},
		{Workers: 2, SimilarityThreshold: 1.5},
		{Workers: 2, SimilarityThreshold: 0.6, AmbiguityMargin: 0.9},
		{Workers: 2},
		{Workers: 2, SimilarityThreshold: -0.2},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("%+v: expected validation error", c)
		}
	}

	ok := IngestConfig{OnInvalid: "AbortBatch", Workers: 2, SimilarityThreshold: 0.75}
	if err := ok.Validate(); err != nil {
		t.Fatalf("case-insensitive policy should pass: %v", err)
	}
	opts, err := ok.Options()
	if err != nil {
		t.Fatal(err)
	}
	if opts.OnInvalid != ingest.PolicyAbortBatch || opts.Workers != 2 || opts.Resolver.Threshold != 0.75 {
		t.Errorf("options = %+v", opts)
	}
}

func TestOutputConfig_Validation(t *testing.T) {
	if err := (&OutputConfig{Format: "pdf"}).Validate(); err == nil {
		t.Error("unknown format should fail")
	}
	if err := (&OutputConfig{OrderBy: "random"}).Validate(); err == nil {
		t.Error("unknown order should fail")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoadConfigFile_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "app:\n  log_level: DEBUG\n  http:\n    port: 9090\ningest:\n  on_invalid: abortBatch\n  workers: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := config.LoadWithDefaults(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Ingest.OnInvalid != "abortBatch" || cfg.Ingest.Workers != 2 || cfg.Ingest.SimilarityThreshold != 0.6 {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Reports.Path != "./reports" {
		t.Errorf("reports = %+v", cfg.Reports)
	}
}
