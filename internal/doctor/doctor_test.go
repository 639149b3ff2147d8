package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/macrogw/internal/config"
	"github.com/mattjoyce/macrogw/internal/lock"
)

// validConfig returns a config whose macro dir and engine exist on disk.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	macros := filepath.Join(dir, "macros")
	if err := os.MkdirAll(macros, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(macros, "login_test.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	engine := filepath.Join(dir, "run-chromium.sh")
	if err := os.WriteFile(engine, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Service.PIDFile = filepath.Join(dir, "macrogw.pid")
	cfg.API.APIKey = "a-long-enough-secret-key"
	cfg.Macros.Dir = macros
	cfg.Engines = map[string]config.EngineConf{
		"chromium": {Command: engine, Notify: config.NotifyFailure, AlreadyRunningExitCode: 3},
	}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_APIKey(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.API.APIKey = ""
	assertHasError(t, New(cfg).Validate(), "api", "api_key is required")

	cfg = validConfig(t)
	cfg.API.APIKey = "default-api-key"
	assertHasError(t, New(cfg).Validate(), "api", "shipped default")

	cfg = validConfig(t)
	cfg.API.APIKey = "short"
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("short key should only warn, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "shorter than")
}

func TestValidate_MacroDir(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Macros.Dir = filepath.Join(t.TempDir(), "missing")
	assertHasError(t, New(cfg).Validate(), "macros", "macro directory")

	cfg = validConfig(t)
	cfg.Macros.Dir = t.TempDir()
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("empty macro dir should only warn, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "macros", "no .json macros")
}

func TestValidate_EngineCommand(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	eng := cfg.Engines["chromium"]
	eng.Command = filepath.Join(t.TempDir(), "nope.sh")
	cfg.Engines["chromium"] = eng
	assertHasError(t, New(cfg).Validate(), "engines", "nope.sh")

	cfg = validConfig(t)
	eng = cfg.Engines["chromium"]
	if err := os.Chmod(eng.Command, 0o644); err != nil {
		t.Fatal(err)
	}
	assertHasError(t, New(cfg).Validate(), "engines", "not executable")
}

func TestValidate_EngineOnPath(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Engines["chromium"] = config.EngineConf{Command: "run-chromium", Notify: config.NotifyFailure}

	d := New(cfg)
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	assertHasError(t, d.Validate(), "engines", "not found in PATH")

	d.lookPath = func(string) (string, error) { return "/usr/bin/run-chromium", nil }
	if r := d.Validate(); !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
}

func TestValidate_PIDFileOnNetworkFilesystem(t *testing.T) {
	t.Parallel()

	d := New(validConfig(t))
	d.checkFS = func(path string) error {
		return fmt.Errorf("%w: %s is on nfs", lock.ErrNetworkFilesystem, path)
	}
	assertHasError(t, d.Validate(), "service", "network filesystem")

	// Undetectable filesystems are not reported.
	d.checkFS = func(string) error { return errors.New("unsupported platform") }
	if r := d.Validate(); !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
}

func TestValidate_DefaultEngineMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.DefaultEngine = "firefox"
	assertHasError(t, New(cfg).Validate(), "engines", `"firefox"`)
}

func TestValidate_EngineWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	eng := cfg.Engines["chromium"]
	eng.SelfReporting = true
	eng.Notify = config.NotifyAlways
	eng.AlreadyRunningExitCode = 1
	cfg.Engines["chromium"] = eng

	r := New(cfg).Validate()
	assertHasWarning(t, r, "engines", "ignored for self-reporting")
	assertHasWarning(t, r, "engines", "exit code 1")
}

func TestValidate_BadNotifyPolicy(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	eng := cfg.Engines["chromium"]
	eng.Notify = "sometimes"
	cfg.Engines["chromium"] = eng
	assertHasError(t, New(cfg).Validate(), "engines", "sometimes")
}

func TestValidate_WebhookTimeout(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Webhook.Timeout = 5 * time.Minute
	assertHasWarning(t, New(cfg).Validate(), "webhook", "is long")
}

func TestValidate_UnresolvedEnvVar(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Webhook.SigningSecret = "${MACROGW_DOCTOR_TEST_UNSET_SECRET}"
	assertHasWarning(t, New(cfg).Validate(), "env_vars", "MACROGW_DOCTOR_TEST_UNSET_SECRET")
}

func TestValidate_MissingChecksums(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.SourcePath = filepath.Join(t.TempDir(), "config.yaml")
	assertHasWarning(t, New(cfg).Validate(), "integrity", "config lock")
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()

	out := FormatHuman(&Result{Valid: true})
	if out != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	out = FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "api", Field: "api.api_key", Message: "api_key is required"}},
		Warnings: []Issue{{Category: "macros", Message: "no macros"}},
	})
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"ERROR [api] api.api_key: api_key is required",
		"WARN  [macros] no macros",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true, Warnings: []Issue{{Category: "api", Message: "m"}}})
	if err != nil {
		t.Fatal(err)
	}
	var decoded Result
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !decoded.Valid || len(decoded.Warnings) != 1 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
