// Package config holds the runtime configuration types. Values come from
// SWEETSPACE_* environment variables with CLI flags layered on top.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Role represents the user's chosen role (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// MaxPlayersLimit bounds MaxPlayers: door occupancy travels as an 8-bit mask.
const MaxPlayersLimit = 8

// Config stores every tunable of the game client and rendezvous server.
type Config struct {
	Role     Role   `env:"SWEETSPACE_ROLE" envDefault:"host"`
	Room     string `env:"SWEETSPACE_ROOM"` // Client: room code to join
	LogLevel string `env:"SWEETSPACE_LOG_LEVEL" envDefault:"info"`

	Session   Session   `envPrefix:"SWEETSPACE_SESSION_"`
	Sync      Sync      `envPrefix:"SWEETSPACE_SYNC_"`
	Transport Transport `envPrefix:"SWEETSPACE_TRANSPORT_"`
	Server    Server    `envPrefix:"SWEETSPACE_SERVER_"`
}

// Session tunes the rendezvous session.
type Session struct {
	MaxPlayers       int           `env:"MAX_PLAYERS" envDefault:"6"`
	APIVersion       uint8         `env:"API_VERSION" envDefault:"0"`
	ReconnectGap     time.Duration `env:"RECONNECT_GAP" envDefault:"3s"`
	ReconnectTimeout time.Duration `env:"RECONNECT_TIMEOUT" envDefault:"15s"`
}

// Sync tunes the session controller. Tick values count frames.
type Sync struct {
	NetworkTick   int           `env:"NETWORK_TICK" envDefault:"12"`
	SyncTicks     int           `env:"SYNC_TICKS" envDefault:"5"`
	ServerTimeout int           `env:"SERVER_TIMEOUT" envDefault:"300"`
	RetryWait     time.Duration `env:"RETRY_WAIT" envDefault:"500ms"`
	MaxLevels     int           `env:"MAX_LEVELS" envDefault:"30"`
}

// SyncPeriod is the number of frames between two state syncs.
func (s Sync) SyncPeriod() int {
	return s.NetworkTick * s.SyncTicks
}

// Transport tunes the WebRTC transport.
type Transport struct {
	ServerURL         string        `env:"SERVER_URL" envDefault:"ws://127.0.0.1:61111/ws"`
	STUNServers       []string      `env:"STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"`
	DialTimeout       time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	GatherTimeout     time.Duration `env:"GATHER_TIMEOUT" envDefault:"10s"`
	DisconnectTimeout time.Duration `env:"DISCONNECT_TIMEOUT" envDefault:"5s"`
	FailedTimeout     time.Duration `env:"FAILED_TIMEOUT" envDefault:"10s"`
	KeepAlive         time.Duration `env:"KEEPALIVE" envDefault:"1s"`
	SendQueue         int           `env:"SEND_QUEUE" envDefault:"256"`
}

// Server configures the rendezvous server binary.
type Server struct {
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":61111"`
	StatsInterval time.Duration `env:"STATS_INTERVAL" envDefault:"10s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Default returns the built-in defaults, ignoring the environment.
func Default() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic("config: invalid defaults: " + err.Error())
	}
	return cfg
}

// Validate reports every out-of-range value at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleHost, RoleClient:
	default:
		errs = append(errs, fmt.Errorf("role must be %q or %q, got %q", RoleHost, RoleClient, c.Role))
	}
	if c.Session.MaxPlayers < 2 || c.Session.MaxPlayers > MaxPlayersLimit {
		errs = append(errs, fmt.Errorf("max players must be in [2, %d], got %d", MaxPlayersLimit, c.Session.MaxPlayers))
	}
	if c.Session.ReconnectGap <= 0 || c.Session.ReconnectTimeout < c.Session.ReconnectGap {
		errs = append(errs, fmt.Errorf("reconnect gap %s must be positive and not exceed timeout %s",
			c.Session.ReconnectGap, c.Session.ReconnectTimeout))
	}
	if c.Sync.NetworkTick <= 0 || c.Sync.SyncTicks <= 0 {
		errs = append(errs, fmt.Errorf("network tick (%d) and sync ticks (%d) must be positive", c.Sync.NetworkTick, c.Sync.SyncTicks))
	}
	if c.Sync.ServerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server timeout must be positive, got %d", c.Sync.ServerTimeout))
	}
	if c.Sync.MaxLevels <= 0 || c.Sync.MaxLevels > 0x7F {
		errs = append(errs, fmt.Errorf("max levels must be in [1, 127], got %d", c.Sync.MaxLevels))
	}
	if c.Transport.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("send queue must be positive, got %d", c.Transport.SendQueue))
	}

	return errors.Join(errs...)
}
