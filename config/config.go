// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads and validates engine configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Backend kinds.
const (
	BackendMemory  = "memory"
	BackendLattice = "lattice"
)

// Lattice parameter profiles.
const (
	ProfileTest   = "test"
	ProfileSecure = "secure"
)

// BackendConfig selects and parameterizes the cryptographic backend.
type BackendConfig struct {
	// Kind is "memory" or "lattice".
	Kind string `yaml:"kind"`

	// Profile selects the lattice parameter set, "test" or "secure".
	// Ignored by the memory backend.
	Profile string `yaml:"profile"`

	// Custodians is the number of key custodians.
	Custodians int `yaml:"custodians"`

	// Threshold is the number of custodian shares a disclosure needs.
	Threshold int `yaml:"threshold"`
}

// JournalConfig locates the event journal.
type JournalConfig struct {
	// Dir is the badger database directory. Empty keeps the journal in
	// memory.
	Dir string `yaml:"dir"`

	// Sign enables BLS signing of journal entries and receipts.
	Sign bool `yaml:"sign"`
}

// Config is the engine configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Journal JournalConfig `yaml:"journal"`

	// RoutingField overrides the field consulted by assignment routing.
	RoutingField string `yaml:"routingField"`

	// RewardField overrides the field disclosed and paid on completion.
	RewardField string `yaml:"rewardField"`
}

// DefaultConfig returns a configuration suitable for development: the
// memory backend, an in-memory journal, and no signing.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Kind:       BackendMemory,
			Profile:    ProfileTest,
			Custodians: 1,
			Threshold:  1,
		},
	}
}

// Load reads path, overlays it on DefaultConfig, and validates the
// result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	switch c.Backend.Kind {
	case BackendMemory:
	case BackendLattice:
		switch c.Backend.Profile {
		case ProfileTest, ProfileSecure:
		default:
			return fmt.Errorf("unknown lattice profile %q", c.Backend.Profile)
		}
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}

	if c.Backend.Custodians < 1 {
		return fmt.Errorf("custodians must be at least 1, got %d", c.Backend.Custodians)
	}
	if c.Backend.Threshold < 1 || c.Backend.Threshold > c.Backend.Custodians {
		return fmt.Errorf(
			"threshold must be between 1 and %d, got %d",
			c.Backend.Custodians,
			c.Backend.Threshold,
		)
	}
	return nil
}
