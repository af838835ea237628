// Package config loads agentchat settings from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/agentchat/pkg/events"
	"github.com/go-go-golems/agentchat/pkg/forward"
	"github.com/go-go-golems/agentchat/pkg/mockpeer"
	"github.com/go-go-golems/agentchat/pkg/transport"
)

const (
	DefaultURL          = "ws://localhost:8000/ws"
	DefaultForwardAddr  = ":3000"
	DefaultMockPeerAddr = ":8000"
	DefaultChunkDelay   = 30 * time.Millisecond
)

type Config struct {
	URL            string         `yaml:"url"`
	ReconnectDelay time.Duration  `yaml:"reconnect_delay"`
	DialTimeout    time.Duration  `yaml:"dial_timeout"`
	PingInterval   time.Duration  `yaml:"ping_interval"`
	Events         EventsConfig   `yaml:"events"`
	Forward        ForwardConfig  `yaml:"forward"`
	MockPeer       MockPeerConfig `yaml:"mock_peer"`
}

type EventsConfig struct {
	Redis events.RedisSettings `yaml:"redis"`
}

type ForwardConfig struct {
	Addr       string `yaml:"addr"`
	BackendURL string `yaml:"backend_url"`
}

type MockPeerConfig struct {
	Addr       string        `yaml:"addr"`
	ChunkDelay time.Duration `yaml:"chunk_delay"`
	ChunkSize  int           `yaml:"chunk_size"`
	Agent      string        `yaml:"agent"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path and returns a validated Config. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = transport.DefaultReconnectDelay
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = transport.DefaultDialTimeout
	}
	d := events.DefaultRedisSettings()
	r := &c.Events.Redis
	if r.Addr == "" {
		r.Addr = d.Addr
	}
	if r.Stream == "" {
		r.Stream = d.Stream
	}
	if r.Group == "" {
		r.Group = d.Group
	}
	if r.Consumer == "" {
		r.Consumer = d.Consumer
	}
	if c.Forward.Addr == "" {
		c.Forward.Addr = DefaultForwardAddr
	}
	if c.Forward.BackendURL == "" {
		c.Forward.BackendURL = forward.DefaultBackendURL
	}
	if c.MockPeer.Addr == "" {
		c.MockPeer.Addr = DefaultMockPeerAddr
	}
	if c.MockPeer.ChunkDelay == 0 {
		c.MockPeer.ChunkDelay = DefaultChunkDelay
	}
	if c.MockPeer.ChunkSize == 0 {
		c.MockPeer.ChunkSize = mockpeer.DefaultChunkSize
	}
	if c.MockPeer.Agent == "" {
		c.MockPeer.Agent = mockpeer.DefaultAgent
	}
}

// Validate checks field consistency. It is exported so flag overrides can be
// re-checked after they are applied.
func (c *Config) Validate() error {
	var errs []string
	if u, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Sprintf("url %q: %v", c.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Sprintf("url %q must use ws or wss", c.URL))
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, "reconnect_delay must not be negative")
	}
	if c.DialTimeout < 0 {
		errs = append(errs, "dial_timeout must not be negative")
	}
	if c.PingInterval < 0 {
		errs = append(errs, "ping_interval must not be negative")
	}
	if u, err := url.Parse(c.Forward.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("forward.backend_url %q must be an http(s) url", c.Forward.BackendURL))
	}
	if c.MockPeer.ChunkDelay < 0 {
		errs = append(errs, "mock_peer.chunk_delay must not be negative")
	}
	if c.MockPeer.ChunkSize < 0 {
		errs = append(errs, "mock_peer.chunk_size must not be negative")
	}
	if len(errs) > 0 {
		return errors.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
