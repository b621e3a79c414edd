// Package config loads the peer-sync YAML configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rudransh-shrivastava/peer-sync/internal/protocol"
	"gopkg.in/yaml.v2"
)

// Pairing policies for inbound invitations.
const (
	PairingAcceptAll = "accept-all"
	PairingAllowlist = "allowlist"
)

type Config struct {
	Identity struct {
		Name  string `yaml:"name"`
		Store string `yaml:"store"`
	} `yaml:"identity"`

	Discovery struct {
		Service      string        `yaml:"service"`
		ListenAddr   string        `yaml:"listen_addr"`
		AnnounceAddr string        `yaml:"announce_addr"`
		Interval     time.Duration `yaml:"interval"`
		StaleTimeout time.Duration `yaml:"stale_timeout"`
	} `yaml:"discovery"`

	Session struct {
		ListenAddr    string        `yaml:"listen_addr"`
		ICEServers    []string      `yaml:"ice_servers"`
		InviteTimeout time.Duration `yaml:"invite_timeout"`
		Pairing       string        `yaml:"pairing"`
		Allow         []string      `yaml:"allow"`
		Loopback      bool          `yaml:"loopback"`
	} `yaml:"session"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"metrics"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Discovery.Service == "" {
		return fmt.Errorf("discovery.service must not be empty")
	}
	if c.Discovery.ListenAddr == "" {
		return fmt.Errorf("discovery.listen_addr must not be empty")
	}
	if c.Discovery.AnnounceAddr == "" {
		return fmt.Errorf("discovery.announce_addr must not be empty")
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("discovery.interval must be > 0")
	}
	if c.Discovery.StaleTimeout <= c.Discovery.Interval {
		return fmt.Errorf("discovery.stale_timeout must be greater than discovery.interval")
	}

	if c.Session.ListenAddr == "" {
		return fmt.Errorf("session.listen_addr must not be empty")
	}
	if c.Session.InviteTimeout < 0 {
		return fmt.Errorf("session.invite_timeout must be >= 0")
	}
	switch c.Session.Pairing {
	case PairingAcceptAll:
	case PairingAllowlist:
		if len(c.Session.Allow) == 0 {
			return fmt.Errorf("session.allow must list peer ids when session.pairing=%s", PairingAllowlist)
		}
	default:
		return fmt.Errorf("session.pairing must be %q or %q, got %q", PairingAcceptAll, PairingAllowlist, c.Session.Pairing)
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address must not be empty when metrics.enabled=true")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults. Invitations are
// accepted from anyone and never time out.
func DefaultConfig() *Config {
	cfg := &Config{}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "peer-sync"
	}
	cfg.Identity.Name = hostname

	cfg.Discovery.Service = protocol.ServiceTag
	cfg.Discovery.ListenAddr = ":50505"
	cfg.Discovery.AnnounceAddr = "255.255.255.255:50505"
	cfg.Discovery.Interval = 2 * time.Second
	cfg.Discovery.StaleTimeout = 10 * time.Second

	cfg.Session.ListenAddr = ":0"
	cfg.Session.Pairing = PairingAcceptAll

	cfg.Logging.Level = "info"

	cfg.Metrics.Address = ":9464"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PEERSYNC_NAME"); v != "" {
		c.Identity.Name = v
	}
	if v := os.Getenv("PEERSYNC_SERVICE"); v != "" {
		c.Discovery.Service = v
	}
	if v := os.Getenv("PEERSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PEERSYNC_INVITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Session.InviteTimeout = d
		}
	}
	if v := os.Getenv("PEERSYNC_METRICS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = b
		}
	}
}
