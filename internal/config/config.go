// Package config reads the global ~/.knot/config.toml.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Server holds the backend service endpoints.
type Server struct {
	ChatURL       string `toml:"chat_url"`
	ChatStreamURL string `toml:"chat_stream_url"`
	UserURL       string `toml:"user_url"`
	IdentityURL   string `toml:"identity_url"`
	SignalURL     string `toml:"signal_stream_url"`
}

// Config represents the global config file.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
}

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: Server{
			ChatURL:       "http://localhost:7001",
			ChatStreamURL: "ws://localhost:7001/events",
			UserURL:       "http://localhost:8001",
			IdentityURL:   "http://localhost:5001",
			SignalURL:     "ws://localhost:10001/call",
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file is missing. Endpoint fields left empty in the file get defaults too.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	def := Default()
	if cfg.Server.ChatURL == "" {
		cfg.Server.ChatURL = def.Server.ChatURL
	}
	if cfg.Server.ChatStreamURL == "" {
		cfg.Server.ChatStreamURL = def.Server.ChatStreamURL
	}
	if cfg.Server.UserURL == "" {
		cfg.Server.UserURL = def.Server.UserURL
	}
	if cfg.Server.IdentityURL == "" {
		cfg.Server.IdentityURL = def.Server.IdentityURL
	}
	if cfg.Server.SignalURL == "" {
		cfg.Server.SignalURL = def.Server.SignalURL
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
