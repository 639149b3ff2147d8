// Package doctor runs preflight checks over a macrogw configuration and the
// host it will run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/macrogw/internal/config"
	"github.com/mattjoyce/macrogw/internal/lock"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// legacyDefaultKey is the key older deployments shipped with.
const legacyDefaultKey = "default-api-key"

const minKeyLength = 16

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates a loaded configuration against the local environment.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	checkFS  func(string) error
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, checkFS: lock.CheckFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateService(r)
	d.validateAPI(r)
	d.validateMacros(r)
	d.validateEngines(r)
	d.validateWebhook(r)
	d.warnMissingEnvVars(r)
	d.warnMissingChecksums(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateService(r *Result) {
	pidFile := d.cfg.Service.PIDFile
	if pidFile == "" {
		d.addWarning(r, "service", "service.pid_file",
			"no pid_file configured; two gateways could drive the same browser profile")
		return
	}
	if err := d.checkFS(pidFile); errors.Is(err, lock.ErrNetworkFilesystem) {
		d.addError(r, "service", "service.pid_file", err.Error())
	}
}

func (d *Doctor) validateAPI(r *Result) {
	key := d.cfg.API.APIKey
	switch {
	case key == "":
		d.addError(r, "api", "api.api_key", "api_key is required")
	case key == legacyDefaultKey:
		d.addError(r, "api", "api.api_key", "api_key is still the shipped default; set a real secret")
	case len(key) < minKeyLength:
		d.addWarning(r, "api", "api.api_key",
			fmt.Sprintf("api_key is shorter than %d characters", minKeyLength))
	}

	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required")
	}
	if _, err := config.ParseSize(d.cfg.API.MaxBodySize); d.cfg.API.MaxBodySize != "" && err != nil {
		d.addError(r, "api", "api.max_body_size", err.Error())
	}
}

// validateMacros checks the macro repository is present and readable.
func (d *Doctor) validateMacros(r *Result) {
	dir := d.cfg.Macros.Dir
	if dir == "" {
		d.addError(r, "macros", "macros.dir", "macros.dir is required")
		return
	}

	info, err := os.Stat(dir)
	if err != nil {
		d.addError(r, "macros", "macros.dir", fmt.Sprintf("macro directory %s: %v", dir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "macros", "macros.dir", fmt.Sprintf("%s is not a directory", dir))
		return
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*"+d.cfg.Macros.Extension))
	if err == nil && len(matches) == 0 {
		d.addWarning(r, "macros", "macros.dir",
			fmt.Sprintf("no %s macros found in %s (folder runs still work)", d.cfg.Macros.Extension, dir))
	}
}

func (d *Doctor) validateEngines(r *Result) {
	if len(d.cfg.Engines) == 0 {
		d.addError(r, "engines", "engines", "at least one engine is required")
		return
	}
	if _, ok := d.cfg.Engines[d.cfg.DefaultEngine]; !ok {
		d.addError(r, "engines", "default_engine",
			fmt.Sprintf("default_engine %q is not configured", d.cfg.DefaultEngine))
	}

	for _, name := range d.cfg.EngineNames() {
		eng := d.cfg.Engines[name]
		field := "engines." + name

		if eng.Command == "" {
			d.addError(r, "engines", field+".command", "command is required")
		} else if err := d.checkExecutable(eng.Command); err != nil {
			d.addError(r, "engines", field+".command", err.Error())
		}

		if eng.WorkDir != "" {
			if info, err := os.Stat(eng.WorkDir); err != nil || !info.IsDir() {
				d.addError(r, "engines", field+".work_dir",
					fmt.Sprintf("work_dir %s is not a directory", eng.WorkDir))
			}
		}

		switch eng.Notify {
		case "", config.NotifyFailure, config.NotifyAlways:
		default:
			d.addError(r, "engines", field+".notify",
				fmt.Sprintf("invalid notify policy %q (expected failure or always)", eng.Notify))
		}
		if eng.SelfReporting && eng.Notify == config.NotifyAlways {
			d.addWarning(r, "engines", field+".notify",
				"notify is ignored for self-reporting engines")
		}
		if eng.AlreadyRunningExitCode == 1 {
			d.addWarning(r, "engines", field+".already_running_exit_code",
				"exit code 1 is also used for generic failures; every failure will be reported as already running")
		}
	}
}

// checkExecutable resolves command the way exec.Command will.
func (d *Doctor) checkExecutable(command string) error {
	if !strings.ContainsRune(command, filepath.Separator) {
		if _, err := d.lookPath(command); err != nil {
			return fmt.Errorf("command %q not found in PATH", command)
		}
		return nil
	}

	info, err := os.Stat(command)
	if err != nil {
		return fmt.Errorf("command %s: %v", command, err)
	}
	if info.IsDir() {
		return fmt.Errorf("command %s is a directory", command)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("command %s is not executable", command)
	}
	return nil
}

func (d *Doctor) validateWebhook(r *Result) {
	timeout := d.cfg.Webhook.Timeout
	if timeout < 0 {
		d.addError(r, "webhook", "webhook.timeout", "timeout must not be negative")
	}
	if timeout > 2*time.Minute {
		d.addWarning(r, "webhook", "webhook.timeout",
			fmt.Sprintf("timeout %s is long; a slow receiver holds a goroutine per job", timeout))
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"api.api_key":            d.cfg.API.APIKey,
		"webhook.signing_secret": d.cfg.Webhook.SigningSecret,
	}
	for _, name := range d.cfg.EngineNames() {
		fields["engines."+name+".command"] = d.cfg.Engines[name].Command
	}

	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field,
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// warnMissingChecksums suggests `config lock` for file-based configs without a manifest.
func (d *Doctor) warnMissingChecksums(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	manifest := filepath.Join(filepath.Dir(d.cfg.SourcePath), config.ChecksumFileName)
	if _, err := os.Stat(manifest); os.IsNotExist(err) {
		d.addWarning(r, "integrity", "",
			fmt.Sprintf("no %s next to %s; run 'macrogw config lock'", config.ChecksumFileName, d.cfg.SourcePath))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		b.WriteString(FormatIssue("ERROR", e))
	}
	for _, w := range r.Warnings {
		b.WriteString(FormatIssue("WARN ", w))
	}

	return b.String()
}

// FormatIssue renders one report line.
func FormatIssue(level string, i Issue) string {
	if i.Field != "" {
		return fmt.Sprintf("  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
	}
	return fmt.Sprintf("  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
