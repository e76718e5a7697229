package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full client configuration tree. Every timing knob the
// collaboration core uses lives here; components receive their section at
// construction and never read the environment themselves.
type Config struct {
	Connection *ConnectionConfig `json:"connection"`
	REST       *RESTConfig       `json:"rest"`
	Presence   *PresenceConfig   `json:"presence"`
	Streams    *StreamsConfig    `json:"streams"`
	Notify     *NotifyConfig     `json:"notify"`
}

// ConnectionConfig drives the reconnect state machine and heartbeat.
type ConnectionConfig struct {
	Endpoint             string        `json:"endpoint"`
	Subprotocols         []string      `json:"subprotocols"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	BaseDelay            time.Duration `json:"base_delay"`
	CapDelay             time.Duration `json:"cap_delay"`
	HeartbeatInterval    time.Duration `json:"heartbeat_interval"`
	ConnectTimeout       time.Duration `json:"connect_timeout"`
}

// RESTConfig points at the session/comment collaborator service.
type RESTConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	AuthToken string        `json:"auth_token"`
}

// PresenceConfig drives cursor debouncing and the staleness sweep.
type PresenceConfig struct {
	DebounceInterval time.Duration `json:"debounce_interval"`
	SweepInterval    time.Duration `json:"sweep_interval"`
	StaleAfter       time.Duration `json:"stale_after"`
}

// StreamsConfig bounds the local chat/comment/progress logs.
type StreamsConfig struct {
	LogCapacity int `json:"log_capacity"`
}

// NotifyConfig controls notification expiry.
type NotifyConfig struct {
	LowPriorityExpiry time.Duration `json:"low_priority_expiry"`
}

// DefaultConfig returns the documented reference values: 1s base / 30s cap
// backoff with 5 attempts, 30s heartbeat, 10s connect timeout, 100ms cursor
// debounce, 10s sweep over a 30s staleness window, 50-entry stream logs.
func DefaultConfig() *Config {
	return &Config{
		Connection: &ConnectionConfig{
			Endpoint:             "ws://localhost:8080/ws",
			Subprotocols:         []string{"studysync.v1"},
			MaxReconnectAttempts: 5,
			BaseDelay:            1 * time.Second,
			CapDelay:             30 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			ConnectTimeout:       10 * time.Second,
		},
		REST: &RESTConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 15 * time.Second,
		},
		Presence: &PresenceConfig{
			DebounceInterval: 100 * time.Millisecond,
			SweepInterval:    10 * time.Second,
			StaleAfter:       30 * time.Second,
		},
		Streams: &StreamsConfig{
			LogCapacity: 50,
		},
		Notify: &NotifyConfig{
			LowPriorityExpiry: 5 * time.Second,
		},
	}
}

// Validate rejects configurations that would wedge the state machine or
// disable a required timer.
func (c *Config) Validate() error {
	if c.Connection == nil {
		return fmt.Errorf("connection configuration is required")
	}
	if c.Connection.Endpoint == "" {
		return fmt.Errorf("connection endpoint cannot be empty")
	}
	if c.Connection.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts cannot be negative")
	}
	if c.Connection.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive")
	}
	if c.Connection.CapDelay < c.Connection.BaseDelay {
		return fmt.Errorf("cap delay must be >= base delay")
	}
	if c.Connection.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Connection.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if c.REST == nil {
		return fmt.Errorf("rest configuration is required")
	}
	if c.REST.BaseURL == "" {
		return fmt.Errorf("rest base URL cannot be empty")
	}
	if c.REST.Timeout <= 0 {
		return fmt.Errorf("rest timeout must be positive")
	}

	if c.Presence == nil {
		return fmt.Errorf("presence configuration is required")
	}
	if c.Presence.DebounceInterval <= 0 {
		return fmt.Errorf("presence debounce interval must be positive")
	}
	if c.Presence.SweepInterval <= 0 {
		return fmt.Errorf("presence sweep interval must be positive")
	}
	if c.Presence.StaleAfter <= 0 {
		return fmt.Errorf("presence staleness window must be positive")
	}

	if c.Streams == nil {
		return fmt.Errorf("streams configuration is required")
	}
	if c.Streams.LogCapacity <= 0 {
		return fmt.Errorf("stream log capacity must be positive")
	}

	if c.Notify == nil {
		return fmt.Errorf("notify configuration is required")
	}
	if c.Notify.LowPriorityExpiry <= 0 {
		return fmt.Errorf("low priority expiry must be positive")
	}

	return nil
}

// LoadFromEnv overlays STUDYSYNC_* environment variables onto the defaults.
// Unparseable values fall back silently, matching the file loader.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if endpoint := os.Getenv("STUDYSYNC_ENDPOINT"); endpoint != "" {
		config.Connection.Endpoint = endpoint
	}
	if protos := os.Getenv("STUDYSYNC_SUBPROTOCOLS"); protos != "" {
		config.Connection.Subprotocols = strings.Split(protos, ",")
	}
	if attempts := os.Getenv("STUDYSYNC_MAX_RECONNECT_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			config.Connection.MaxReconnectAttempts = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setDuration("STUDYSYNC_BASE_DELAY", &config.Connection.BaseDelay)
	setDuration("STUDYSYNC_CAP_DELAY", &config.Connection.CapDelay)
	setDuration("STUDYSYNC_HEARTBEAT_INTERVAL", &config.Connection.HeartbeatInterval)
	setDuration("STUDYSYNC_CONNECT_TIMEOUT", &config.Connection.ConnectTimeout)

	if baseURL := os.Getenv("STUDYSYNC_REST_BASE_URL"); baseURL != "" {
		config.REST.BaseURL = baseURL
	}
	if token := os.Getenv("STUDYSYNC_REST_AUTH_TOKEN"); token != "" {
		config.REST.AuthToken = token
	}
	setDuration("STUDYSYNC_REST_TIMEOUT", &config.REST.Timeout)

	setDuration("STUDYSYNC_CURSOR_DEBOUNCE", &config.Presence.DebounceInterval)
	setDuration("STUDYSYNC_SWEEP_INTERVAL", &config.Presence.SweepInterval)
	setDuration("STUDYSYNC_STALE_AFTER", &config.Presence.StaleAfter)

	if capacity := os.Getenv("STUDYSYNC_LOG_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			config.Streams.LogCapacity = n
		}
	}
	setDuration("STUDYSYNC_LOW_PRIORITY_EXPIRY", &config.Notify.LowPriorityExpiry)

	return config
}

// ConfigFile mirrors Config with string durations so JSON files can say "30s"
// instead of nanosecond counts.
type ConfigFile struct {
	Connection *ConnectionConfigFile `json:"connection"`
	REST       *RESTConfigFile       `json:"rest"`
	Presence   *PresenceConfigFile   `json:"presence"`
	Streams    *StreamsConfig        `json:"streams"`
	Notify     *NotifyConfigFile     `json:"notify"`
}

type ConnectionConfigFile struct {
	Endpoint             string   `json:"endpoint"`
	Subprotocols         []string `json:"subprotocols"`
	MaxReconnectAttempts *int     `json:"max_reconnect_attempts"`
	BaseDelay            string   `json:"base_delay"`
	CapDelay             string   `json:"cap_delay"`
	HeartbeatInterval    string   `json:"heartbeat_interval"`
	ConnectTimeout       string   `json:"connect_timeout"`
}

type RESTConfigFile struct {
	BaseURL   string `json:"base_url"`
	Timeout   string `json:"timeout"`
	AuthToken string `json:"auth_token"`
}

type PresenceConfigFile struct {
	DebounceInterval string `json:"debounce_interval"`
	SweepInterval    string `json:"sweep_interval"`
	StaleAfter       string `json:"stale_after"`
}

type NotifyConfigFile struct {
	LowPriorityExpiry string `json:"low_priority_expiry"`
}

// LoadFromFile parses a JSON config file over the defaults and validates the
// result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()
	parse := func(s string, dst *time.Duration) {
		if s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				*dst = d
			}
		}
	}

	if file.Connection != nil {
		if file.Connection.Endpoint != "" {
			config.Connection.Endpoint = file.Connection.Endpoint
		}
		if len(file.Connection.Subprotocols) > 0 {
			config.Connection.Subprotocols = file.Connection.Subprotocols
		}
		if file.Connection.MaxReconnectAttempts != nil {
			config.Connection.MaxReconnectAttempts = *file.Connection.MaxReconnectAttempts
		}
		parse(file.Connection.BaseDelay, &config.Connection.BaseDelay)
		parse(file.Connection.CapDelay, &config.Connection.CapDelay)
		parse(file.Connection.HeartbeatInterval, &config.Connection.HeartbeatInterval)
		parse(file.Connection.ConnectTimeout, &config.Connection.ConnectTimeout)
	}

	if file.REST != nil {
		if file.REST.BaseURL != "" {
			config.REST.BaseURL = file.REST.BaseURL
		}
		if file.REST.AuthToken != "" {
			config.REST.AuthToken = file.REST.AuthToken
		}
		parse(file.REST.Timeout, &config.REST.Timeout)
	}

	if file.Presence != nil {
		parse(file.Presence.DebounceInterval, &config.Presence.DebounceInterval)
		parse(file.Presence.SweepInterval, &config.Presence.SweepInterval)
		parse(file.Presence.StaleAfter, &config.Presence.StaleAfter)
	}

	if file.Streams != nil && file.Streams.LogCapacity > 0 {
		config.Streams.LogCapacity = file.Streams.LogCapacity
	}

	if file.Notify != nil {
		parse(file.Notify.LowPriorityExpiry, &config.Notify.LowPriorityExpiry)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. A missing or broken file is ignored so environment and defaults
// still apply.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
