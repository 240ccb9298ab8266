package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"go-pcm/waveform"
)

// SampleOrder names for the expansion order policy.
const (
	OrderInsertion = "insertion"
	OrderTime      = "time"
)

// UIConfig stores monitor preferences
type UIConfig struct {
	Palette string `json:"palette,omitempty"` // GPL palette file; empty = built-in
}

// Config is the main configuration structure
type Config struct {
	// DevicePath is the usbtmc character device; empty means use the
	// first device found under /dev.
	DevicePath string `json:"devicePath,omitempty"`

	// Compliance is the current compliance limit in amps.
	Compliance float64 `json:"compliance,omitempty"`

	// SafetyMargin scales the host-side pacing sleep. Kept just under
	// 1 so the host never waits longer than the hardware needs.
	SafetyMargin float64 `json:"safetyMargin,omitempty"`

	// SampleOrder is "insertion" (historical behavior) or "time".
	SampleOrder string `json:"sampleOrder,omitempty"`

	// DefaultTick is a rational number of seconds (e.g. "1/1000") used
	// as the quantum for waveforms whose sample times are all zero.
	// Empty leaves such waveforms unplayable.
	DefaultTick string `json:"defaultTick,omitempty"`

	// PollStatus adds an operation-complete poll after the pacing
	// sleep of each play.
	PollStatus bool `json:"pollStatus,omitempty"`

	// FetchResults reads the measured sweep data back after each play
	// and logs it.
	FetchResults bool `json:"fetchResults,omitempty"`

	UI UIConfig `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Compliance:   0.1,
		SafetyMargin: 0.99,
		SampleOrder:  OrderInsertion,
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-pcm"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Order maps the configured sample order name onto the waveform policy.
func (c *Config) Order() (waveform.Order, error) {
	switch c.SampleOrder {
	case "", OrderInsertion:
		return waveform.OrderInsertion, nil
	case OrderTime:
		return waveform.OrderByTime, nil
	}
	return waveform.OrderInsertion, fmt.Errorf("config: unknown sampleOrder %q", c.SampleOrder)
}

// Tick parses the configured default tick, nil when unset.
func (c *Config) Tick() (*big.Rat, error) {
	if c.DefaultTick == "" {
		return nil, nil
	}
	r, ok := new(big.Rat).SetString(c.DefaultTick)
	if !ok || r.Sign() <= 0 {
		return nil, fmt.Errorf("config: defaultTick %q is not a positive rational", c.DefaultTick)
	}
	return r, nil
}
