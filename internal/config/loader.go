package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigFileName is the file looked up inside a config directory.
const ConfigFileName = "config.yaml"

// ErrNoConfig is returned by Discover when no config file exists in any
// standard location.
var ErrNoConfig = errors.New("no config found")

// Load reads and parses configuration from a file or a directory holding config.yaml.
//
// A .env file next to the config is loaded into the process environment first
// (existing variables win), then ${VAR} references are interpolated.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}

	configDir := filepath.Dir(absPath)
	if err := loadDotEnv(configDir); err != nil {
		return nil, err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and the environment only.
// It honours API_PORT, API_KEY, MACRO_DIR, ENGINE_SCRIPT and LOG_LEVEL.
func FromEnv() (*Config, error) {
	if err := loadDotEnv("."); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if port := os.Getenv("API_PORT"); port != "" {
		cfg.API.Listen = net.JoinHostPort("0.0.0.0", port)
	}
	cfg.API.APIKey = os.Getenv("API_KEY")
	if dir := os.Getenv("MACRO_DIR"); dir != "" {
		cfg.Macros.Dir = dir
	}
	if script := os.Getenv("ENGINE_SCRIPT"); script != "" {
		eng := cfg.Engines[cfg.DefaultEngine]
		eng.Command = script
		cfg.Engines[cfg.DefaultEngine] = eng
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Service.LogLevel = strings.ToLower(level)
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $MACROGW_CONFIG, ~/.config/macrogw, /etc/macrogw, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv("MACROGW_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "macrogw", ConfigFileName)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	systemPath := filepath.Join("/etc/macrogw", ConfigFileName)
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}

	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName, nil
	}

	return "", fmt.Errorf("%w (checked: $MACROGW_CONFIG, ~/.config/macrogw, /etc/macrogw, ./config.yaml)", ErrNoConfig)
}

// Engine resolves an engine by name; an empty name selects the default engine.
func (c *Config) Engine(name string) (string, EngineConf, error) {
	if name == "" {
		name = c.DefaultEngine
	}
	eng, ok := c.Engines[name]
	if !ok {
		return "", EngineConf{}, fmt.Errorf("unknown engine %q", name)
	}
	return name, eng, nil
}

// EngineNames returns the configured engine names in sorted order.
func (c *Config) EngineNames() []string {
	names := make([]string, 0, len(c.Engines))
	for name := range c.Engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// verifyConfigHash checks path against the .checksums manifest in its
// directory. Without a manifest there is nothing to verify.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	m, err := ReadManifest(dir)
	if errors.Is(err, ErrNoManifest) {
		return nil
	}
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	want, ok := m.Files[name]
	if !ok {
		return fmt.Errorf("config file %s is not listed in %s\n"+
			"Run: macrogw config lock --config %s", name, filepath.Join(dir, ChecksumFileName), path)
	}
	if err := VerifyFile(path, want); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"If you edited this file intentionally, run: macrogw config lock --config %s", path, err, path)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = defaults.Service.PIDFile
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.KeyHeader == "" {
		cfg.API.KeyHeader = defaults.API.KeyHeader
	}
	if cfg.API.MaxBodySize == "" {
		cfg.API.MaxBodySize = defaults.API.MaxBodySize
	}
	cfg.API.APIKey = trimQuotes(cfg.API.APIKey)

	if cfg.Macros.Dir == "" {
		cfg.Macros.Dir = defaults.Macros.Dir
	}
	if cfg.Macros.Extension == "" {
		cfg.Macros.Extension = defaults.Macros.Extension
	}

	if len(cfg.Engines) == 0 {
		cfg.Engines = defaults.Engines
	}
	for name, eng := range cfg.Engines {
		cfg.Engines[name] = mergeEngineDefaults(name, eng)
	}
	if cfg.DefaultEngine == "" {
		if _, ok := cfg.Engines[defaults.DefaultEngine]; ok || len(cfg.Engines) != 1 {
			cfg.DefaultEngine = defaults.DefaultEngine
		} else {
			for name := range cfg.Engines {
				cfg.DefaultEngine = name
			}
		}
	}

	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = defaults.Webhook.Timeout
	}
	return cfg
}

// mergeEngineDefaults applies default values to an engine where not specified.
func mergeEngineDefaults(name string, eng EngineConf) EngineConf {
	if eng.Notify == "" {
		eng.Notify = NotifyFailure
	}
	if eng.AlreadyRunningExitCode == 0 {
		eng.AlreadyRunningExitCode = 3
	}
	if len(eng.ErrorMarkers) == 0 {
		eng.ErrorMarkers = DefaultErrorMarkers()
	}
	if eng.DisplayName == "" {
		eng.DisplayName = titleCase(name)
	}
	return eng
}

// trimQuotes strips one leading and one trailing single quote, which shell
// wrappers and docker env files tend to leave around secrets.
func trimQuotes(s string) string {
	s = strings.TrimPrefix(s, "'")
	return strings.TrimSuffix(s, "'")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		return fmt.Errorf("api.listen: %w", err)
	}
	if cfg.API.APIKey == "" {
		return fmt.Errorf("api.api_key is required")
	}
	if err := unresolved("api.api_key", cfg.API.APIKey); err != nil {
		return err
	}
	if _, err := ParseSize(cfg.API.MaxBodySize); err != nil {
		return fmt.Errorf("api.max_body_size: %w", err)
	}

	if cfg.Macros.Dir == "" {
		return fmt.Errorf("macros.dir is required")
	}

	if _, ok := cfg.Engines[cfg.DefaultEngine]; !ok {
		return fmt.Errorf("default_engine %q is not defined in engines", cfg.DefaultEngine)
	}
	for _, name := range cfg.EngineNames() {
		eng := cfg.Engines[name]
		if eng.Command == "" {
			return fmt.Errorf("engines.%s.command is required", name)
		}
		if err := unresolved("engines."+name+".command", eng.Command); err != nil {
			return err
		}
		if eng.Notify != NotifyFailure && eng.Notify != NotifyAlways {
			return fmt.Errorf("engines.%s.notify must be %q or %q (got %q)", name, NotifyFailure, NotifyAlways, eng.Notify)
		}
	}

	if cfg.Webhook.Timeout < 0 {
		return fmt.Errorf("webhook.timeout must be positive")
	}
	if err := unresolved("webhook.signing_secret", cfg.Webhook.SigningSecret); err != nil {
		return err
	}
	return nil
}

func unresolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}

// ParseSize parses size strings like "1MB", "512KB" or "1048576" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q", size)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result < 0 {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
