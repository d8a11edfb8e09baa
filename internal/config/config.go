package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings root. Every component receives its
// section through constructor injection; nothing reads the environment at
// runtime.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Room      *RoomConfig      `json:"room"`
	History   *HistoryConfig   `json:"history"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type RoomConfig struct {
	CodeLength      int `json:"code_length"`
	MaxCodeAttempts int `json:"max_code_attempts"`
}

// HistoryConfig controls the optional attention event log. Disabled by
// default; session state itself is always in-memory only.
type HistoryConfig struct {
	Enabled bool          `json:"enabled"`
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns production defaults sized for classroom use.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
		},
		Room: &RoomConfig{
			CodeLength:      6,
			MaxCodeAttempts: 100,
		},
		History: &HistoryConfig{
			Enabled: false,
			Path:    "./liveclass.db",
			Timeout: 30 * time.Second,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.Room == nil {
		return fmt.Errorf("room configuration is required")
	}
	if c.Room.CodeLength < 4 {
		return fmt.Errorf("room code length must be at least 4")
	}
	if c.Room.MaxCodeAttempts <= 0 {
		return fmt.Errorf("room code attempt budget must be positive")
	}
	if c.History == nil {
		return fmt.Errorf("history configuration is required")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty when history is enabled")
	}
	if c.History.Enabled && c.History.Timeout <= 0 {
		return fmt.Errorf("history timeout must be positive when history is enabled")
	}
	return nil
}

// LoadFromEnv applies LIVECLASS_* environment overrides on top of the
// defaults. Unparseable values fall back silently.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("LIVECLASS_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("LIVECLASS_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("LIVECLASS_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv("LIVECLASS_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv("LIVECLASS_WEBSOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("LIVECLASS_WEBSOCKET_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.ReadTimeout = d
		}
	}
	if v := os.Getenv("LIVECLASS_WEBSOCKET_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.WriteTimeout = d
		}
	}
	if v := os.Getenv("LIVECLASS_WEBSOCKET_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebSocket.BufferSize = n
		}
	}
	if v := os.Getenv("LIVECLASS_ROOM_CODE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Room.CodeLength = n
		}
	}
	if v := os.Getenv("LIVECLASS_ROOM_CODE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Room.MaxCodeAttempts = n
		}
	}
	if v := os.Getenv("LIVECLASS_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LIVECLASS_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("LIVECLASS_HISTORY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.History.Timeout = d
		}
	}

	return cfg
}

// configFile mirrors Config for JSON parsing, with durations as strings.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Room *struct {
		CodeLength      int `json:"code_length"`
		MaxCodeAttempts int `json:"max_code_attempts"`
	} `json:"room"`
	History *struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"history"`
}

// LoadFromFile reads a JSON config file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		applyDuration(&cfg.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		applyDuration(&cfg.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		applyDuration(&cfg.WebSocket.PingInterval, file.WebSocket.PingInterval)
		applyDuration(&cfg.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		applyDuration(&cfg.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
		if file.WebSocket.BufferSize > 0 {
			cfg.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
	}
	if file.Room != nil {
		if file.Room.CodeLength > 0 {
			cfg.Room.CodeLength = file.Room.CodeLength
		}
		if file.Room.MaxCodeAttempts > 0 {
			cfg.Room.MaxCodeAttempts = file.Room.MaxCodeAttempts
		}
	}
	if file.History != nil {
		cfg.History.Enabled = file.History.Enabled
		if file.History.Path != "" {
			cfg.History.Path = file.History.Path
		}
		applyDuration(&cfg.History.Timeout, file.History.Timeout)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithPrecedence resolves configuration as file > environment >
// defaults. File errors are ignored so env/defaults still serve.
func LoadWithPrecedence(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
