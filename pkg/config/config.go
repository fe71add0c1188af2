// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the hisiflash YAML config file. Every value is
// optional and acts as a default for the matching command line flag;
// flags given explicitly always win.
package config

import (
	"fmt"
	"time"

	"github.com/Thermoquad/hisiflash/pkg/chip"
	"github.com/Thermoquad/hisiflash/pkg/flasher"
	"github.com/Thermoquad/hisiflash/pkg/ymodem"
)

// Config represents a hisiflash config file
type Config struct {
	Port       string `yaml:"port"`
	Baud       int    `yaml:"baud"`
	TargetBaud int    `yaml:"target_baud"`
	Chip       string `yaml:"chip"`
	Retries    *int   `yaml:"retries,omitempty"`
	NoTUI      bool   `yaml:"no_tui"`

	// WebSocket bridge credentials
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`

	Handshake HandshakeConfig `yaml:"handshake"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Transfer  TransferConfig  `yaml:"transfer"`
}

// HandshakeConfig overrides handshake pacing
type HandshakeConfig struct {
	StartupWindow     Duration `yaml:"startup_window"`
	StartupInterval   Duration `yaml:"startup_interval"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	HeartbeatWindow   Duration `yaml:"heartbeat_window"`
	NormalInterval    Duration `yaml:"normal_interval"`
	AppModeThreshold  int      `yaml:"app_mode_threshold"`
	AppModeInterval   Duration `yaml:"app_mode_interval"`
	AppModeQuiet      Duration `yaml:"app_mode_quiet"`
	AppModeGrace      Duration `yaml:"app_mode_grace"`
	Timeout           Duration `yaml:"timeout"`
	Attempts          int      `yaml:"attempts"`
}

// ReconnectConfig overrides how long a vanished port is waited for
type ReconnectConfig struct {
	Settle       Duration `yaml:"settle"`
	PollInterval Duration `yaml:"poll_interval"`
	MaxWait      Duration `yaml:"max_wait"`
}

// TransferConfig overrides YMODEM timeouts
type TransferConfig struct {
	ReadyTimeout Duration `yaml:"ready_timeout"`
	AckTimeout   Duration `yaml:"ack_timeout"`
	MaxRetries   int      `yaml:"max_retries"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "250ms").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that can be judged without the command line
func (c *Config) Validate() error {
	if c.Chip != "" {
		if _, err := chip.Lookup(c.Chip); err != nil {
			return err
		}
	}
	if c.Baud < 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.TargetBaud < 0 {
		return fmt.Errorf("target_baud must be positive, got %d", c.TargetBaud)
	}
	if c.Retries != nil && *c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", *c.Retries)
	}
	if _, err := c.HandshakeTiming(flasher.DefaultHandshakeTiming()); err != nil {
		return err
	}
	return nil
}

// HandshakeTiming overlays the configured values on base and validates
// the result
func (c *Config) HandshakeTiming(base flasher.HandshakeTiming) (flasher.HandshakeTiming, error) {
	h := c.Handshake
	set := func(dst *time.Duration, d Duration) {
		if d.Duration > 0 {
			*dst = d.Duration
		}
	}
	set(&base.StartupWindow, h.StartupWindow)
	set(&base.StartupInterval, h.StartupInterval)
	set(&base.HeartbeatInterval, h.HeartbeatInterval)
	set(&base.HeartbeatWindow, h.HeartbeatWindow)
	set(&base.NormalInterval, h.NormalInterval)
	set(&base.AppModeInterval, h.AppModeInterval)
	set(&base.AppModeQuiet, h.AppModeQuiet)
	set(&base.AppModeGrace, h.AppModeGrace)
	set(&base.Timeout, h.Timeout)
	if h.AppModeThreshold > 0 {
		base.AppModeThreshold = h.AppModeThreshold
	}
	if h.Attempts > 0 {
		base.Attempts = h.Attempts
	}
	if err := base.Validate(); err != nil {
		return base, fmt.Errorf("handshake config: %w", err)
	}
	return base, nil
}

// ReconnectTiming overlays the configured values on base
func (c *Config) ReconnectTiming(base flasher.ReconnectConfig) flasher.ReconnectConfig {
	if d := c.Reconnect.Settle.Duration; d > 0 {
		base.Settle = d
	}
	if d := c.Reconnect.PollInterval.Duration; d > 0 {
		base.PollInterval = d
	}
	if d := c.Reconnect.MaxWait.Duration; d > 0 {
		base.MaxWait = d
	}
	return base
}

// TransferSettings overlays the configured values on base
func (c *Config) TransferSettings(base ymodem.Config) ymodem.Config {
	if d := c.Transfer.ReadyTimeout.Duration; d > 0 {
		base.ReadyTimeout = d
	}
	if d := c.Transfer.AckTimeout.Duration; d > 0 {
		base.AckTimeout = d
	}
	if c.Transfer.MaxRetries > 0 {
		base.MaxRetries = c.Transfer.MaxRetries
	}
	return base
}
