// Package config provides configuration management for yomiage
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Voice   VoiceConfig   `mapstructure:"voice"`
	Segment SegmentConfig `mapstructure:"segment"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the control/state WebSocket server
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LLMConfig configures the generative model client
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"` // OpenAI-compatible endpoint
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// EngineConfig configures the speech synthesis engine
type EngineConfig struct {
	URL     string        `mapstructure:"url"` // VOICEVOX-compatible engine
	Timeout time.Duration `mapstructure:"timeout"`
}

// VoiceConfig configures voice parameters for playback
type VoiceConfig struct {
	SpeakerID int     `mapstructure:"speaker_id"`
	Speed     float64 `mapstructure:"speed"` // 0.5 to 2.0
}

// SegmentConfig configures the sentence split policy. Splitting on both
// delimiter classes gives a more granular speech cadence than sentence-only
// splitting; tune Clause to "" for full sentences.
type SegmentConfig struct {
	Strong string `mapstructure:"strong"` // sentence terminators
	Clause string `mapstructure:"clause"` // clause separators
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8700",
		},
		LLM: LLMConfig{
			BaseURL:      "",
			Model:        "gpt-4o-mini",
			SystemPrompt: "あなたは音声で読み上げられるアシスタントです。短い文で答えてください。",
			Timeout:      120 * time.Second,
		},
		Engine: EngineConfig{
			URL:     "http://localhost:50021",
			Timeout: 30 * time.Second,
		},
		Voice: VoiceConfig{
			SpeakerID: 1,
			Speed:     1.0,
		},
		Segment: SegmentConfig{
			Strong: "。",
			Clause: "、",
		},
		Logging: LoggingConfig{
			Level:   "debug",
			Console: true,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := GetConfigDir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("YOMIAGE")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch reloads the config file on change and hands the result to onChange.
// Unparseable edits are ignored so a half-saved file cannot take the app down.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("server", cfg.Server)
	viper.Set("llm", cfg.LLM)
	viper.Set("engine", cfg.Engine)
	viper.Set("voice", cfg.Voice)
	viper.Set("segment", cfg.Segment)
	viper.Set("logging", cfg.Logging)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".yomiage"), nil
}
