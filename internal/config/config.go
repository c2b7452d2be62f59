// Package config handles Dazzy configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/dazzy/internal/paths"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit -config flag is given: ./config.yaml,
// ~/.config/dazzy/config.yaml, /etc/dazzy/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dazzy", "config.yaml"))
	}
	return append(paths, "/etc/dazzy/config.yaml")
}

// FindConfig locates a config file. An explicit path must exist;
// otherwise the first existing entry of [DefaultSearchPaths] wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Dazzy configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Assistant    AssistantConfig    `yaml:"assistant"`
	Completion   CompletionConfig   `yaml:"completion"`
	Encyclopedia EncyclopediaConfig `yaml:"encyclopedia"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	// Sites maps spoken site names ("github") to the URL opened for them.
	Sites     map[string]string `yaml:"sites"`
	Voice     VoiceConfig       `yaml:"voice"`
	MQTT      MQTTConfig        `yaml:"mqtt"`
	HTML      HTMLConfig        `yaml:"html"`
	DataDir   string            `yaml:"data_dir"`
	LogLevel  string            `yaml:"log_level"`
	LogFormat string            `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the HTTP API bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // default "" = all interfaces
	Port    int    `yaml:"port"`
}

// AssistantConfig shapes the conversation front ends.
type AssistantConfig struct {
	Name string `yaml:"name"`
	// Onboarding asks for the user's name on the first turn of
	// request/response sessions. The voice loop never onboards.
	Onboarding *bool `yaml:"onboarding"`
	// Memory is how many recent utterances a session keeps.
	Memory int `yaml:"memory"`
	// Translate sends input containing non-ASCII letters through the
	// completion service for an English rendering before dispatch.
	// It needs a completion api_key.
	Translate bool `yaml:"translate"`
}

// OnboardingEnabled reports whether the name-capture gate is on.
// Unset means enabled.
func (a AssistantConfig) OnboardingEnabled() bool {
	return a.Onboarding == nil || *a.Onboarding
}

// CompletionConfig points at an OpenAI-compatible chat completion API.
// DeepSeek is the default provider.
type CompletionConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutSec   int     `yaml:"timeout_sec"`
}

// Configured reports whether a credential is present. A missing key is
// a valid offline configuration, not an error.
func (c CompletionConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// Timeout returns the per-request timeout.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// EncyclopediaConfig points at a MediaWiki action API.
type EncyclopediaConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	Sentences  int    `yaml:"sentences"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Configured reports whether encyclopedia lookups are on. Unset means on.
func (c EncyclopediaConfig) Configured() bool {
	return (c.Enabled == nil || *c.Enabled) && c.BaseURL != ""
}

// Timeout returns the per-request timeout.
func (c EncyclopediaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// KnowledgeConfig names the static knowledge sources. Both are
// optional; entries from Database override File on key collisions.
type KnowledgeConfig struct {
	File     string `yaml:"file"`
	Database string `yaml:"database"`
}

// VoiceConfig configures the voice loop collaborators. Commands are run
// through /bin/sh -c. CaptureCommand must print one transcript line to
// stdout; SpeakCommand receives the reply on stdin.
type VoiceConfig struct {
	CaptureCommand string `yaml:"capture_command"`
	SpeakCommand   string `yaml:"speak_command"`
	// OpenBrowser launches the system browser for site-open intents.
	OpenBrowser bool `yaml:"open_browser"`
}

// MQTTConfig enables the MQTT bridge.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	TopicPrefix        string `yaml:"topic_prefix"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"` // Home Assistant discovery root
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// HTMLConfig controls the HTML page generator.
type HTMLConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// Load reads configuration from a YAML file, expanding environment
// variables before parsing and applying defaults afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.resolvePaths(".")
	return cfg
}

// resolvePaths expands "~" and the "data:" and "config:" prefixes in
// file settings. configDir is the directory holding the config file.
func (c *Config) resolvePaths(configDir string) {
	c.DataDir = paths.ExpandHome(c.DataDir)
	r := paths.New(map[string]string{
		"data":   c.DataDir,
		"config": configDir,
	})
	c.Knowledge.File = r.Resolve(c.Knowledge.File)
	c.Knowledge.Database = r.Resolve(c.Knowledge.Database)
	c.HTML.OutputDir = r.Resolve(c.HTML.OutputDir)
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 10000
	}
	if c.Assistant.Name == "" {
		c.Assistant.Name = "Dazzy"
	}
	if c.Assistant.Memory <= 0 {
		c.Assistant.Memory = 10
	}
	if c.Completion.BaseURL == "" {
		c.Completion.BaseURL = "https://api.deepseek.com/v1"
	}
	if c.Completion.Model == "" {
		c.Completion.Model = "deepseek-chat"
	}
	if c.Completion.SystemPrompt == "" {
		c.Completion.SystemPrompt = "You are " + c.Assistant.Name + ", a smart multilingual voice assistant."
	}
	if c.Completion.Temperature == 0 {
		c.Completion.Temperature = 0.7
	}
	if c.Completion.TimeoutSec <= 0 {
		c.Completion.TimeoutSec = 15
	}
	if c.Encyclopedia.BaseURL == "" {
		c.Encyclopedia.BaseURL = "https://en.wikipedia.org/w/api.php"
	}
	if c.Encyclopedia.Sentences <= 0 {
		c.Encyclopedia.Sentences = 2
	}
	if c.Encyclopedia.TimeoutSec <= 0 {
		c.Encyclopedia.TimeoutSec = 10
	}
	if c.Sites == nil {
		c.Sites = DefaultSites()
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "dazzy"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "dazzy"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.HTML.OutputDir == "" {
		c.HTML.OutputDir = filepath.Join(c.DataDir, "pages")
	}
}

// DefaultSites is the site table used when the config names none.
func DefaultSites() map[string]string {
	return map[string]string{
		"youtube":       "https://www.youtube.com",
		"google":        "https://www.google.com",
		"github":        "https://github.com",
		"wikipedia":     "https://www.wikipedia.org",
		"stackoverflow": "https://stackoverflow.com",
	}
}

// Validate checks for values that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		errs = append(errs, fmt.Errorf("completion.temperature %.2f out of range [0, 2]", c.Completion.Temperature))
	}
	for name, u := range c.Sites {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Errorf("sites.%s: %q is not an http(s) URL", name, u))
		}
	}
	return errors.Join(errs...)
}
