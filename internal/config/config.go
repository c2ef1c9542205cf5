// Package config provides configuration loading, validation and defaults for
// the readings agent.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ExpectedVersion is the configuration schema version this build understands.
const ExpectedVersion = 2

// placeholderAPIKey is the value shipped in the sample config.
const placeholderAPIKey = "CHANGETHIS"

// ErrConfigInvalid is returned by Validate when the configuration cannot be
// used to start the agent.
var ErrConfigInvalid = errors.New("configuration invalid")

// PanelConfig holds connection details for the remote management API.
type PanelConfig struct {
	URL      string `yaml:"url" env:"READINGS_PANEL_URL"`
	APIKey   string `yaml:"api_key" env:"READINGS_PANEL_API_KEY"`
	ServerID string `yaml:"server_id" env:"READINGS_SERVER_ID"`
	// UseWebsocket selects push mode. It is switched off at runtime when the
	// remote end refuses websocket connections.
	UseWebsocket bool `yaml:"use_websocket" env:"READINGS_USE_WEBSOCKET"`
	// UpdateFrequency is the poll interval in seconds.
	UpdateFrequency int `yaml:"update_frequency" env:"READINGS_UPDATE_FREQUENCY"`
	// Timeout is the HTTP request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// LibvirtConfig selects the libvirt domain used by the libvirt power backend.
type LibvirtConfig struct {
	Socket string `yaml:"socket"`
	Domain string `yaml:"domain"`
}

// DockerConfig selects the container used by the docker power backend and
// usage source.
type DockerConfig struct {
	Socket    string `yaml:"socket"`
	Container string `yaml:"container" env:"READINGS_DOCKER_CONTAINER"`
	// StopTimeout is the stop and restart grace period in seconds.
	StopTimeout int `yaml:"stop_timeout"`
}

// EvaluatorConfig controls the threshold evaluation loop.
type EvaluatorConfig struct {
	// Interval is the evaluation period in seconds.
	Interval      int  `yaml:"interval"`
	EdgeTriggered bool `yaml:"edge_triggered"`
}

// MQTTConfig holds the broker settings for the MQTT broadcast sink.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"READINGS_MQTT_BROKER"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password" env:"READINGS_MQTT_PASSWORD"`
}

// BroadcastConfig chooses where BROADCAST actions are delivered.
type BroadcastConfig struct {
	// Mode is "console" or "mqtt".
	Mode string `yaml:"mode"`
	// ConsoleFormat is a fmt pattern wrapping the message into a console
	// command, e.g. "say %s".
	ConsoleFormat string     `yaml:"console_format"`
	MQTT          MQTTConfig `yaml:"mqtt"`
}

// CommandFilter holds allowlist and denylist glob patterns for console
// commands.
type CommandFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// ServerConfig holds network and authentication settings for the control
// surface.
type ServerConfig struct {
	Port      int    `yaml:"port" env:"READINGS_PORT"`
	AuthToken string `yaml:"auth_token" env:"READINGS_AUTH_TOKEN"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"READINGS_LOG_LEVEL"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration structure.
type Config struct {
	Version      int             `yaml:"version"`
	Panel        PanelConfig     `yaml:"panel"`
	Source       string          `yaml:"source"`
	PowerBackend string          `yaml:"power_backend"`
	Libvirt      LibvirtConfig   `yaml:"libvirt"`
	Docker       DockerConfig    `yaml:"docker"`
	Evaluator    EvaluatorConfig `yaml:"evaluator"`
	Broadcast    BroadcastConfig `yaml:"broadcast"`
	Commands     CommandFilter   `yaml:"commands"`
	Server       ServerConfig    `yaml:"server"`
	Audit        AuditConfig     `yaml:"audit"`
	Log          LogConfig       `yaml:"log"`
	Tasks        TaskEntries     `yaml:"tasks"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// Unset fields keep the values from DefaultConfig. On error, nil is returned
// for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Panel: PanelConfig{
			UseWebsocket:    true,
			UpdateFrequency: 5,
			Timeout:         10,
		},
		Source:       "panel",
		PowerBackend: "panel",
		Libvirt: LibvirtConfig{
			Socket: "/var/run/libvirt/libvirt-sock",
		},
		Docker: DockerConfig{
			Socket:      "/var/run/docker.sock",
			StopTimeout: 30,
		},
		Evaluator: EvaluatorConfig{
			Interval: 5,
		},
		Broadcast: BroadcastConfig{
			Mode:          "console",
			ConsoleFormat: "say %s",
			MQTT: MQTTConfig{
				Topic:    "readings/broadcast",
				ClientID: "readings",
			},
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/config/audit.log",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ApplyEnvOverrides updates cfg in place with values from READINGS_*
// environment variables. Variables that are unset or empty leave the
// corresponding field untouched.
func ApplyEnvOverrides(cfg *Config) error {
	targets := []any{&cfg.Panel, &cfg.Docker, &cfg.Broadcast.MQTT, &cfg.Server, &cfg.Log}
	for _, t := range targets {
		if err := env.Parse(t); err != nil {
			return fmt.Errorf("apply env overrides: %w", err)
		}
	}
	return nil
}

// Validate checks that the settings needed to reach the remote node are
// present and well formed. Every returned error wraps ErrConfigInvalid and
// explains how to fix the file.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Panel.URL) == "" {
		return fmt.Errorf("%w: panel.url is empty; set it to your panel's base URL", ErrConfigInvalid)
	}
	if !ValidateURL(c.Panel.URL) {
		return fmt.Errorf("%w: panel.url %q is not a valid http(s) URL", ErrConfigInvalid, c.Panel.URL)
	}
	if c.Panel.APIKey == "" || strings.EqualFold(c.Panel.APIKey, placeholderAPIKey) {
		return fmt.Errorf("%w: panel.api_key is not set; create a client API key in the panel account settings", ErrConfigInvalid)
	}
	if c.Panel.ServerID == "" {
		return fmt.Errorf("%w: panel.server_id is empty; copy the short server identifier from the panel", ErrConfigInvalid)
	}
	if c.Panel.UpdateFrequency <= 0 {
		return fmt.Errorf("%w: panel.update_frequency must be a positive number of seconds", ErrConfigInvalid)
	}
	return c.validateBackends()
}

func (c *Config) validateBackends() error {
	switch c.Source {
	case "panel", "host":
	case "docker":
		if c.Docker.Container == "" {
			return fmt.Errorf("%w: docker.container is required when source is docker", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: source %q must be \"panel\", \"host\" or \"docker\"", ErrConfigInvalid, c.Source)
	}
	switch c.PowerBackend {
	case "panel":
	case "libvirt":
		if c.Libvirt.Domain == "" {
			return fmt.Errorf("%w: libvirt.domain is required when power_backend is libvirt", ErrConfigInvalid)
		}
	case "docker":
		if c.Docker.Container == "" {
			return fmt.Errorf("%w: docker.container is required when power_backend is docker", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: power_backend %q must be \"panel\", \"libvirt\" or \"docker\"", ErrConfigInvalid, c.PowerBackend)
	}
	switch c.Broadcast.Mode {
	case "console":
	case "mqtt":
		if c.Broadcast.MQTT.Broker == "" {
			return fmt.Errorf("%w: broadcast.mqtt.broker is required when broadcast.mode is mqtt", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: broadcast.mode %q must be \"console\" or \"mqtt\"", ErrConfigInvalid, c.Broadcast.Mode)
	}
	return nil
}

// ValidateURL reports whether raw is an absolute http or https URL with a
// host.
func ValidateURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// VersionStatus classifies the version field of a loaded config.
type VersionStatus int

const (
	VersionOK VersionStatus = iota
	// VersionOutdated means the file predates this build; startup continues
	// with a warning.
	VersionOutdated
	// VersionMissing and VersionNewer are fatal.
	VersionMissing
	VersionNewer
)

// CheckVersion compares c.Version with ExpectedVersion.
func (c *Config) CheckVersion() (VersionStatus, error) {
	switch {
	case c.Version == 0:
		return VersionMissing, fmt.Errorf("%w: config version is not defined; regenerate the config file from the sample", ErrConfigInvalid)
	case c.Version > ExpectedVersion:
		return VersionNewer, fmt.Errorf("%w: config version is newer (expected %d, got %d)", ErrConfigInvalid, ExpectedVersion, c.Version)
	case c.Version < ExpectedVersion:
		return VersionOutdated, nil
	default:
		return VersionOK, nil
	}
}

// PanelChanged reports whether any setting that requires re-initialising the
// transport differs between a and b.
func PanelChanged(a, b PanelConfig) bool {
	return a.URL != b.URL ||
		a.APIKey != b.APIKey ||
		a.ServerID != b.ServerID ||
		a.UseWebsocket != b.UseWebsocket ||
		a.UpdateFrequency != b.UpdateFrequency
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
