package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/astroveda/astroclient/internal/util"
)

// Config is the on-disk client configuration. One JSON file per astrologer
// profile directory.
type Config struct {
	Identity Identity `json:"identity"`
	Server   Server   `json:"server"`
	Media    Media    `json:"media"`
	Consult  Consult  `json:"consult"`
	Paths    Paths    `json:"paths"`
}

type Identity struct {
	// AstrologerID is the backend identity this client signs into signaling
	// with (userType is always "astrologer" for this app).
	AstrologerID string `json:"astrologer_id"`
	DisplayName  string `json:"display_name"`
}

type Server struct {
	// APIBase is the REST base URL, e.g. "https://api.example.org/".
	APIBase string `json:"api_base"`
	// SignalingURL is the realtime endpoint, e.g. "wss://rt.example.org/socket".
	SignalingURL string `json:"signaling_url"`
}

type Media struct {
	// AppID is the media engine application id handed to initialize().
	AppID string `json:"app_id"`
	// GatewayURL is the media gateway endpoint session offers are posted to.
	GatewayURL string `json:"gateway_url"`
	// STUNServers override the engine's default ICE servers when non-empty.
	STUNServers []string `json:"stun_servers,omitempty"`
}

type Consult struct {
	// Timezone is the IANA zone booking times are interpreted in. Empty means
	// the device's local zone (the original client's silent assumption, made
	// explicit and configurable here).
	Timezone string `json:"timezone"`
	// ChatBuffer is the per-conversation in-memory message buffer size.
	ChatBuffer int `json:"chat_buffer"`
}

type Paths struct {
	// DataDir holds the local sqlite cache. Relative paths resolve against
	// the config file's directory.
	DataDir string `json:"data_dir"`
}

// Default returns a config with workable defaults for everything but the
// identity and server endpoints.
func Default() *Config {
	return &Config{
		Consult: Consult{ChatBuffer: 200},
		Paths:   Paths{DataDir: "data"},
	}
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefault writes a default config to path if none exists, then loads it.
func EnsureDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := util.WriteJSONFile(path, Default()); err != nil {
			return nil, err
		}
	}
	return Load(path)
}

// Validate checks the fields the client cannot run without.
func (c *Config) Validate() error {
	if c.Identity.AstrologerID == "" {
		return errors.New("identity.astrologer_id is required")
	}
	if c.Server.APIBase == "" {
		return errors.New("server.api_base is required")
	}
	if u, err := url.Parse(c.Server.APIBase); err != nil || u.Scheme == "" {
		return fmt.Errorf("server.api_base %q is not a URL", c.Server.APIBase)
	}
	if c.Server.SignalingURL == "" {
		return errors.New("server.signaling_url is required")
	}
	if c.Consult.Timezone != "" {
		if _, err := time.LoadLocation(c.Consult.Timezone); err != nil {
			return fmt.Errorf("consult.timezone %q: %w", c.Consult.Timezone, err)
		}
	}
	if c.Consult.ChatBuffer <= 0 {
		c.Consult.ChatBuffer = 200
	}
	return nil
}

// Location resolves the configured booking timezone. Falls back to the local
// zone when unset; Validate already rejected unknown names.
func (c *Config) Location() *time.Location {
	if c.Consult.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Consult.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DataDir returns the resolved data directory for the given config path.
func (c *Config) DataDir(configPath string) string {
	return util.ResolvePath(filepath.Dir(configPath), c.Paths.DataDir)
}
