package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fokuslabs/focusgate/internal/flagx"
	"github.com/fokuslabs/focusgate/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals can
// be strings like "15s" or integer nanoseconds (see timex.Duration).
type JsonConfig struct {
	GatewayAddr     string         `json:"gateway_addr"`
	CachePath       string         `json:"cache_path"`
	UserID          string         `json:"user_id"`
	DeviceID        string         `json:"device_id"`
	DeviceSecret    string         `json:"device_secret"`
	RecheckInterval timex.Duration `json:"recheck_interval"`
	ScanInterval    timex.Duration `json:"scan_interval"`
	HostsPath       string         `json:"hosts_path"`
}

// parseJson overlays cfg with values from the file named by -c/-config.
// Omitted fields keep their current values.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.GatewayAddr != "" {
		cfg.GatewayAddr = jc.GatewayAddr
	}
	if jc.CachePath != "" {
		cfg.CachePath = jc.CachePath
	}
	if jc.UserID != "" {
		cfg.UserID = jc.UserID
	}
	if jc.DeviceID != "" {
		cfg.DeviceID = jc.DeviceID
	}
	if jc.DeviceSecret != "" {
		cfg.DeviceSecret = jc.DeviceSecret
	}
	if jc.RecheckInterval.Duration > 0 {
		cfg.RecheckInterval = time.Duration(jc.RecheckInterval.Duration)
	}
	if jc.ScanInterval.Duration > 0 {
		cfg.ScanInterval = time.Duration(jc.ScanInterval.Duration)
	}
	if jc.HostsPath != "" {
		cfg.HostsPath = jc.HostsPath
	}
}
