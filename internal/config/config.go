// Package config loads the tolerant JSON5 configuration shared by the
// Server, Bridge, and Worker binaries (ambient stack, SPEC_FULL.md §A).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/titanous/json5"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Config is the root configuration. Every field has a spec-derived
// default so an absent or empty config file still yields correct
// behavior.
type Config struct {
	SocketPath string `json:"socketPath,omitempty"`

	DefaultAgentName string `json:"defaultAgentName,omitempty"`

	// Pending-request engine (spec §4.4.2).
	DefaultToolTimeoutMS int `json:"defaultToolTimeoutMs,omitempty"`
	WaitForExtraMS       int `json:"waitForExtraMs,omitempty"`

	// Session table (spec §4.4.3).
	SessionIdleTTLSec   int `json:"sessionIdleTtlSec,omitempty"`
	SessionSweepPeriodSec int `json:"sessionSweepPeriodSec,omitempty"`

	// Tab locks (spec §3).
	TabLockTTLSec int `json:"tabLockTtlSec,omitempty"`

	// Ring buffers (spec §4.5).
	ScreenshotRingSize    int `json:"screenshotRingSize,omitempty"`
	ConsolePerTabRingSize int `json:"consolePerTabRingSize,omitempty"`
	ConsoleGlobalRingSize int `json:"consoleGlobalRingSize,omitempty"`

	// Bridge reconnection (spec §4.3).
	BridgeSocketPollIntervalSec int `json:"bridgeSocketPollIntervalSec,omitempty"`
	BridgeSocketWaitSec         int `json:"bridgeSocketWaitSec,omitempty"`
	BridgePendingQueueCap       int `json:"bridgePendingQueueCap,omitempty"`
	BridgeMinBackoffSec         int `json:"bridgeMinBackoffSec,omitempty"`
	BridgeMaxBackoffSec         int `json:"bridgeMaxBackoffSec,omitempty"`

	// Event subsystem rate bound (SPEC_FULL.md §C.1).
	EventRatePerSecond float64 `json:"eventRatePerSecond,omitempty"`
	EventBurst         int     `json:"eventBurst,omitempty"`

	// Worker persisted state (SPEC_FULL.md §B).
	StorePath string `json:"storePath,omitempty"`

	// Worker CDP attach target (SPEC_FULL.md §B). ControlURL is used
	// verbatim if set; otherwise the worker queries DiscoveryURL's
	// /json/version endpoint to resolve the debugger websocket URL.
	CDPControlURL   string `json:"cdpControlUrl,omitempty"`
	CDPDiscoveryURL string `json:"cdpDiscoveryUrl,omitempty"`
}

// Default returns a Config populated entirely from spec-mandated
// defaults.
func Default() *Config {
	return &Config{
		SocketPath:           protocol.DefaultSocketPath,
		DefaultAgentName:     "default",
		DefaultToolTimeoutMS: 30_000,
		WaitForExtraMS:       5_000,

		SessionIdleTTLSec:     300,
		SessionSweepPeriodSec: 60,

		TabLockTTLSec: 60,

		ScreenshotRingSize:    10,
		ConsolePerTabRingSize: 500,
		ConsoleGlobalRingSize: 5000,

		BridgeSocketPollIntervalSec: 2,
		BridgeSocketWaitSec:         120,
		BridgePendingQueueCap:       1000,
		BridgeMinBackoffSec:         1,
		BridgeMaxBackoffSec:         30,

		EventRatePerSecond: 50,
		EventBurst:         100,

		StorePath: "viyv-worker-state.db",

		CDPDiscoveryURL: "http://127.0.0.1:9222",
	}
}

// Load reads a JSON5 config file at path, overlaying it on Default().
// A missing file is not an error — the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ToolTimeout returns the default per-tool deadline as a time.Duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.DefaultToolTimeoutMS) * time.Millisecond
}

// WaitForExtra returns the wait_for grace period as a time.Duration.
func (c *Config) WaitForExtra() time.Duration {
	return time.Duration(c.WaitForExtraMS) * time.Millisecond
}

// SessionIdleTTL returns the session prune threshold.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLSec) * time.Second
}

// SessionSweepPeriod returns the sweeper tick interval.
func (c *Config) SessionSweepPeriod() time.Duration {
	return time.Duration(c.SessionSweepPeriodSec) * time.Second
}

// TabLockTTL returns the tab-lock staleness threshold.
func (c *Config) TabLockTTL() time.Duration {
	return time.Duration(c.TabLockTTLSec) * time.Second
}
