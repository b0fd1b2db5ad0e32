// Package config holds runtime settings for the device agent.
package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the focusgate agent.
//
// Units: the intervals are time.Durations (e.g. 30*time.Second).
type Config struct {
	// GatewayAddr is the base URL of the sync gateway, e.g. "http://127.0.0.1:8080".
	GatewayAddr string
	// CachePath is the sqlite file backing the local entity cache.
	CachePath string

	UserID       string
	DeviceID     string
	DeviceSecret string

	// RecheckInterval drives the lazy-expiry tickers (timers, schedules,
	// regret windows, family locks).
	RecheckInterval time.Duration
	// ScanInterval is how often the process backend sweeps for blocked apps.
	ScanInterval time.Duration
	// HostsPath is the hosts file the website sinkhole manages.
	HostsPath string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.GatewayAddr = "http://127.0.0.1:8080"
	c.CachePath = "focusgate.db"
	c.RecheckInterval = 15 * time.Second
	c.ScanInterval = 5 * time.Second
	c.HostsPath = "/etc/hosts"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	if secret := os.Getenv("FOCUSGATE_DEVICE_SECRET"); secret != "" {
		cfg.DeviceSecret = secret
	}
	return cfg
}
