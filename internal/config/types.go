package config

import "time"

// Config represents the complete macrogw configuration.
type Config struct {
	Service       ServiceConfig         `yaml:"service"`
	API           APIConfig             `yaml:"api"`
	Macros        MacrosConfig          `yaml:"macros"`
	DefaultEngine string                `yaml:"default_engine"`
	Engines       map[string]EngineConf `yaml:"engines"`
	Webhook       WebhookConfig         `yaml:"webhook"`

	// SourcePath is the absolute path of the file the config was loaded from.
	// Empty when the config was built from the environment only.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// APIConfig defines the trigger HTTP server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// APIKey is the shared secret every authenticated request must carry.
	APIKey string `yaml:"api_key"`
	// KeyHeader is the request header holding the shared secret (default: X-API-Key).
	KeyHeader   string `yaml:"key_header"`
	MaxBodySize string `yaml:"max_body_size"`
}

// MacrosConfig locates the macro repository.
type MacrosConfig struct {
	Dir       string `yaml:"dir"`
	Extension string `yaml:"extension"`
}

// EngineConf describes one browser-automation engine invocation.
type EngineConf struct {
	// Command is the executable started for every job. Job arguments are
	// appended after Args.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	WorkDir string   `yaml:"work_dir,omitempty"`

	// SelfReporting engines post the outcome to the outbound webhook
	// themselves, so the gateway never does.
	SelfReporting bool `yaml:"self_reporting"`

	// Notify is "failure" (only failed runs are posted) or "always".
	// Ignored for self-reporting engines.
	Notify string `yaml:"notify,omitempty"`

	DisplayName            string   `yaml:"display_name,omitempty"`
	AlreadyRunningExitCode int      `yaml:"already_running_exit_code,omitempty"`
	ErrorMarkers           []string `yaml:"error_markers,omitempty"`
}

// WebhookConfig defines outbound webhook delivery settings.
type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// SigningSecret, when set, adds an HMAC-SHA256 signature header to every delivery.
	SigningSecret string `yaml:"signing_secret,omitempty"`
	UserAgent     string `yaml:"user_agent,omitempty"`
}

// Notify policies.
const (
	NotifyFailure = "failure"
	NotifyAlways  = "always"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "macrogw",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "./data/macrogw.pid",
		},
		API: APIConfig{
			Listen:      "0.0.0.0:3000",
			KeyHeader:   "X-API-Key",
			MaxBodySize: "1MB",
		},
		Macros: MacrosConfig{
			Dir:       "/usr/src/uivision/macros",
			Extension: ".json",
		},
		DefaultEngine: "chromium",
		Engines:       DefaultEngines(),
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// DefaultEngines returns the two stock engines: a Chromium runner that leaves
// reporting to the gateway and a Firefox runner that reports on its own.
func DefaultEngines() map[string]EngineConf {
	return map[string]EngineConf{
		"chromium": mergeEngineDefaults("chromium", EngineConf{
			Command: "/usr/src/app/src/run-chromium.sh",
		}),
		"firefox": mergeEngineDefaults("firefox", EngineConf{
			Command:       "/usr/src/app/src/run-firefox.sh",
			SelfReporting: true,
		}),
	}
}

// DefaultErrorMarkers are the stdout lines the engines print when a macro
// finished with Status=Error.
func DefaultErrorMarkers() []string {
	return []string{
		"Status=Error",
		"Setting exit code to 1 based on Status=Error",
	}
}
