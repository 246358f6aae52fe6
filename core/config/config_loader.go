package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/muhammadmuzzammil1998/jsonc"

	"relay-client/internal/constants"
	"relay-client/internal/debuglog"
	"relay-client/internal/platform"
)

// Tunnel modes.
const (
	TunnelModeProcess = "process"
	TunnelModeDryRun  = "dry-run"
)

const (
	DefaultDataDir      = "~/.relay-client"
	DefaultPollInterval = 5 * time.Second
	DefaultWaitTimeout  = 30 * time.Second
)

var ErrUnknownTunnelMode = errors.New("unknown tunnel mode")

// TunnelConfig selects how the tunnel is driven.
type TunnelConfig struct {
	Mode       string `json:"mode"`
	EnginePath string `json:"engine_path"`
	SOCKSAddr  string `json:"socks_addr"`
}

// NetworkConfig tunes the network path monitor. ForceExpensive overrides interface
// classification when set.
type NetworkConfig struct {
	PollInterval   string `json:"poll_interval"`
	STUNServer     string `json:"stun_server"`
	ForceExpensive *bool  `json:"force_expensive,omitempty"`
}

type ControlConfig struct {
	Listen string `json:"listen"`
}

// Config is the on-disk client configuration (config.jsonc).
type Config struct {
	DataDir           string        `json:"data_dir"`
	HostName          string        `json:"host_name"`
	EnvName           string        `json:"env_name"`
	APIURL            string        `json:"api_url"`
	DeviceDescription string        `json:"device_description"`
	Tunnel            TunnelConfig  `json:"tunnel"`
	Network           NetworkConfig `json:"network"`
	Control           ControlConfig `json:"control"`
	WaitTimeout       string        `json:"wait_timeout"`
	LogLevel          string        `json:"log_level"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:           DefaultDataDir,
		HostName:          constants.DefaultHostName,
		EnvName:           constants.DefaultEnvName,
		APIURL:            constants.DefaultAPIURL,
		DeviceDescription: constants.DefaultDeviceDescription,
		Tunnel: TunnelConfig{
			Mode:      TunnelModeProcess,
			SOCKSAddr: constants.DefaultSOCKSAddr,
		},
		Network: NetworkConfig{
			PollInterval: DefaultPollInterval.String(),
			STUNServer:   constants.DefaultSTUNServer,
		},
		Control:     ControlConfig{Listen: constants.DefaultControlListen},
		WaitTimeout: DefaultWaitTimeout.String(),
		LogLevel:    "info",
	}
}

var reTrailingCommas = regexp.MustCompile(`,(\s*[\]\}])`)

func removeTrailingCommas(data []byte) []byte {
	return reTrailingCommas.ReplaceAll(data, []byte("$1"))
}

// cleanJSON returns JSON safe to parse (JSONC + trailing commas removed).
// Trailing commas are removed before and after jsonc so jsonc never sees invalid input and we still fix cases like , // comment \n ].
func cleanJSON(data []byte) []byte {
	data = removeTrailingCommas(data)
	data = jsonc.ToJSON(data)
	return removeTrailingCommas(data)
}

// Load reads configPath over Default. A missing file yields the defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		debuglog.InfoLog("Load: %s not found, using defaults", configPath)
		return cfg.normalize()
	}
	if err != nil {
		return cfg, fmt.Errorf("Load: failed to read config: %w", err)
	}
	if err := json.Unmarshal(cleanJSON(data), &cfg); err != nil {
		return cfg, fmt.Errorf("Load: failed to parse %s: %w", configPath, err)
	}
	return cfg.normalize()
}

// normalize expands paths, fills derived values and validates enumerations.
func (c Config) normalize() (Config, error) {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	c.DataDir = platform.ExpandPath(c.DataDir)
	if c.Tunnel.Mode == "" {
		c.Tunnel.Mode = TunnelModeProcess
	}
	switch c.Tunnel.Mode {
	case TunnelModeProcess, TunnelModeDryRun:
	default:
		return c, fmt.Errorf("tunnel mode %q: %w", c.Tunnel.Mode, ErrUnknownTunnelMode)
	}
	if c.Tunnel.EnginePath == "" {
		c.Tunnel.EnginePath = platform.GetEnginePath(c.DataDir)
	} else {
		c.Tunnel.EnginePath = platform.ExpandPath(c.Tunnel.EnginePath)
	}
	if c.HostName == "" {
		c.HostName = constants.DefaultHostName
	}
	if c.EnvName == "" {
		c.EnvName = constants.DefaultEnvName
	}
	if c.Control.Listen == "" {
		c.Control.Listen = constants.DefaultControlListen
	}
	return c, nil
}

// PollIntervalDuration parses network.poll_interval, falling back to the default.
func (c Config) PollIntervalDuration() time.Duration {
	return parseDuration("poll_interval", c.Network.PollInterval, DefaultPollInterval)
}

// WaitTimeoutDuration parses wait_timeout, falling back to the default.
func (c Config) WaitTimeoutDuration() time.Duration {
	return parseDuration("wait_timeout", c.WaitTimeout, DefaultWaitTimeout)
}

func parseDuration(name, raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		debuglog.WarnLog("parseDuration: invalid %s %q, using %s", name, raw, fallback)
		return fallback
	}
	return d
}

// PrefsDSN is the SQLite DSN of the preference store under the data dir.
func (c Config) PrefsDSN() string {
	return "file:" + platform.GetStateDir(c.DataDir) + string(os.PathSeparator) + constants.PrefsDBFileName
}
