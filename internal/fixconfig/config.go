// Package fixconfig loads and hot-reloads the engine's and each session's
// YAML configuration.
package fixconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Role is the session's side of the connection.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleAcceptor  Role = "acceptor"
)

// SessionConfig holds one session's immutable configuration: identity,
// network role, heartbeat and reset policy, trading-day schedule, and
// resource limits.
type SessionConfig struct {
	Name         string `yaml:"session-name"`
	BeginString  string `yaml:"begin-string"`
	SenderCompID string `yaml:"sender-comp-id"`
	TargetCompID string `yaml:"target-comp-id"`
	Role         Role   `yaml:"role"`
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port,omitempty"`

	HeartbeatInterval int  `yaml:"heartbeat-interval"`
	ResetOnLogon      bool `yaml:"reset-on-logon"`
	ResetOnLogout     bool `yaml:"reset-on-logout"`
	ResetOnDisconnect bool `yaml:"reset-on-disconnect"`

	ReconnectIntervalSec int `yaml:"reconnect-interval"`
	MaxReconnectAttempts int `yaml:"max-reconnect-attempts"`

	StartTime  string `yaml:"start-time,omitempty"`
	EndTime    string `yaml:"end-time,omitempty"`
	EODTime    string `yaml:"eod-time,omitempty"`
	TimeZone   string `yaml:"time-zone,omitempty"`
	ResetOnEOD bool   `yaml:"reset-on-eod"`

	LogMessages      bool   `yaml:"log-messages"`
	MessagePoolSize  int    `yaml:"message-pool-size"`
	MaxMessageLength int    `yaml:"max-message-length"`
	MaxTagNumber     int    `yaml:"max-tag-number"`
	PersistencePath  string `yaml:"persistence-path,omitempty"`
}

// SessionID renders the "<sender>-><target>" routing key used to address
// this session.
func (c SessionConfig) SessionID() string {
	return c.SenderCompID + "->" + c.TargetCompID
}

// ApplyDefaults fills zero-valued fields with their documented defaults, a
// best-effort merge rather than failing on omitted optional keys.
func (c *SessionConfig) ApplyDefaults() {
	if c.BeginString == "" {
		c.BeginString = "FIX.4.4"
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30
	}
	if c.ReconnectIntervalSec == 0 {
		c.ReconnectIntervalSec = 5
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = -1
	}
	if c.MessagePoolSize == 0 {
		c.MessagePoolSize = 64
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = 4096
	}
	if c.MaxTagNumber == 0 {
		c.MaxTagNumber = 1000
	}
}

// Validate fails fast on missing required fields rather than letting a
// malformed session reach construction.
func (c SessionConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("fixconfig: session-name is required")
	}
	if c.SenderCompID == "" || c.TargetCompID == "" {
		return fmt.Errorf("fixconfig: session %q: sender-comp-id and target-comp-id are required", c.Name)
	}
	if c.Role != RoleInitiator && c.Role != RoleAcceptor {
		return fmt.Errorf("fixconfig: session %q: role must be %q or %q", c.Name, RoleInitiator, RoleAcceptor)
	}
	if c.Role == RoleInitiator && c.Host == "" {
		return fmt.Errorf("fixconfig: session %q: host is required for initiator role", c.Name)
	}
	if c.Port <= 0 {
		return fmt.Errorf("fixconfig: session %q: port must be > 0", c.Name)
	}
	for _, tc := range []struct{ key, val string }{
		{"start-time", c.StartTime},
		{"end-time", c.EndTime},
		{"eod-time", c.EODTime},
	} {
		if tc.val == "" {
			continue
		}
		if _, err := ClockSeconds(tc.val); err != nil {
			return fmt.Errorf("fixconfig: session %q: %s: %w", c.Name, tc.key, err)
		}
	}
	if (c.StartTime == "") != (c.EndTime == "") {
		return fmt.Errorf("fixconfig: session %q: start-time and end-time must be set together", c.Name)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("fixconfig: session %q: time-zone: %w", c.Name, err)
	}
	return nil
}

// ClockSeconds parses an HH:mm:ss wall-clock time into seconds after
// midnight.
func ClockSeconds(s string) (int, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("invalid HH:mm:ss value %q", s)
	}
	return t.Hour()*3600 + t.Minute()*60 + t.Second(), nil
}

// Location resolves the session's time-zone, defaulting to UTC when the
// key is omitted.
func (c SessionConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// EngineConfig is the top-level document: engine-wide settings plus the
// list of sessions it owns.
type EngineConfig struct {
	LogLevel string      `yaml:"log-level,omitempty"`
	LogFile  string      `yaml:"log-file,omitempty"`
	Sessions SessionList `yaml:"sessions"`
}

// Load reads and parses path into an EngineConfig, applying defaults and
// validating every session.
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixconfig: read %s: %w", path, err)
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("fixconfig: parse %s: %w", path, err)
	}
	for i := range cfg.Sessions {
		cfg.Sessions[i].ApplyDefaults()
		if err := cfg.Sessions[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// ReconnectInterval returns the configured reconnect interval as a Duration.
func (c SessionConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalSec) * time.Second
}
