// Package config loads uppe's TOML configuration file, following the
// read-or-create-default pattern vaultd's vault manager uses for its
// on-disk JSON (internal/vault/manager.go), adapted here to TOML since
// the preferences block is a flat user-facing settings file rather than
// a keyed registry.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// LocationPrivacy controls how much geolocation detail is attached to
// this peer's published metadata.
type LocationPrivacy string

const (
	LocationDisabled    LocationPrivacy = "disabled"
	LocationCountryOnly LocationPrivacy = "country_only"
	LocationFull        LocationPrivacy = "full"
)

// ZeroMQ is carried for config-file compatibility with the wider uppe
// ecosystem; the orchestrator does not read it, and cmd/uppe uses its
// bind/port only as the default p2p listen address (BIND/PORT override).
type ZeroMQ struct {
	Bind string `toml:"bind"`
	Port uint16 `toml:"port"`
}

// Preferences holds the [preferences] table as this package loads and
// writes it; no other package reads these fields.
type Preferences struct {
	UsePeerupLayer            bool            `toml:"use_peerup_layer"`
	AllowPeerLeech            bool            `toml:"allow_peer_leech"`
	MinimumPeerMR             int64           `toml:"minimum_peer_mr"`
	TimeoutSeconds            *uint64         `toml:"timeout_seconds,omitempty"`
	DegradedThresholdMS       *uint64         `toml:"degraded_threshold_ms,omitempty"`
	LocationUpdateIntervalSec uint64          `toml:"location_update_interval_secs"`
	LocationPrivacy           LocationPrivacy `toml:"location_privacy"`
}

// Config is the top-level TOML document.
type Config struct {
	ZeroMQ      ZeroMQ      `toml:"zeromq"`
	Preferences Preferences `toml:"preferences"`
}

// Default returns uppe's built-in defaults, mirroring the original
// Rust service's Config::default().
func Default() Config {
	timeout := uint64(10)
	degraded := uint64(1000)
	return Config{
		ZeroMQ: ZeroMQ{Bind: "*", Port: 5555},
		Preferences: Preferences{
			UsePeerupLayer:            true,
			AllowPeerLeech:            false,
			MinimumPeerMR:             0,
			TimeoutSeconds:            &timeout,
			DegradedThresholdMS:       &degraded,
			LocationUpdateIntervalSec: 300,
			LocationPrivacy:           LocationFull,
		},
	}
}

// normalizeTOMLPath forces a .toml extension, same guard the original
// config loader uses to make sure it isn't asked to parse something else.
func normalizeTOMLPath(path string) string {
	if filepath.Ext(path) != ".toml" {
		return path[:len(path)-len(filepath.Ext(path))] + ".toml"
	}
	return path
}

// DefaultPath resolves $XDG_CONFIG_HOME/uppe/config.toml, falling back
// to $HOME/.config/uppe/config.toml.
func DefaultPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "uppe", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config path unavailable: %w", err)
	}
	return filepath.Join(home, ".config", "uppe", "config.toml"), nil
}

// Load reads the config at path, or default path when empty, writing a
// fresh default file if nothing exists yet.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	} else {
		path = normalizeTOMLPath(path)
	}

	if _, err := os.Stat(path); err == nil {
		var cfg Config
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		return cfg, nil
	}

	cfg := Default()
	if err := Write(cfg, path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write serializes cfg to path, creating parent directories as needed.
func Write(cfg Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
