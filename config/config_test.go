// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	require.NoError(cfg.Validate())
	require.Equal(BackendMemory, cfg.Backend.Kind)
	require.Empty(cfg.Journal.Dir)
	require.False(cfg.Journal.Sign)
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(os.WriteFile(path, []byte(`
backend:
  kind: lattice
  profile: secure
  custodians: 5
  threshold: 3
journal:
  dir: /var/lib/zledger/journal
  sign: true
rewardField: bounty
`), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal(BackendLattice, cfg.Backend.Kind)
	require.Equal(ProfileSecure, cfg.Backend.Profile)
	require.Equal(5, cfg.Backend.Custodians)
	require.Equal(3, cfg.Backend.Threshold)
	require.Equal("/var/lib/zledger/journal", cfg.Journal.Dir)
	require.True(cfg.Journal.Sign)
	require.Equal("bounty", cfg.RewardField)
	require.Empty(cfg.RoutingField)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(os.WriteFile(bad, []byte("backend: [not, a, map]"), 0o600))
	_, err = Load(bad)
	require.Error(err)
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(os.WriteFile(path, []byte("journal:\n  sign: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal(BackendMemory, cfg.Backend.Kind)
	require.Equal(1, cfg.Backend.Custodians)
	require.Equal(1, cfg.Backend.Threshold)
	require.True(cfg.Journal.Sign)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend: BackendConfig{
				Kind:       BackendLattice,
				Profile:    ProfileTest,
				Custodians: 3,
				Threshold:  2,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid lattice", mutate: func(*Config) {}, ok: true},
		{
			name: "memory ignores profile",
			mutate: func(c *Config) {
				c.Backend.Kind = BackendMemory
				c.Backend.Profile = "bogus"
			},
			ok: true,
		},
		{
			name:   "unknown kind",
			mutate: func(c *Config) { c.Backend.Kind = "paper" },
		},
		{
			name:   "unknown profile",
			mutate: func(c *Config) { c.Backend.Profile = "fast" },
		},
		{
			name:   "zero custodians",
			mutate: func(c *Config) { c.Backend.Custodians = 0 },
		},
		{
			name:   "threshold above custodians",
			mutate: func(c *Config) { c.Backend.Threshold = 4 },
		},
		{
			name:   "zero threshold",
			mutate: func(c *Config) { c.Backend.Threshold = 0 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
