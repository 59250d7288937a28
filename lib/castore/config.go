// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basinlabs/castore/lib/clock"
)

// defaultPollInterval is the change-notifier's fallback poll period,
// used on its own on platforms without inotify or kqueue and OR-ed in
// alongside the native watch everywhere else, as a backstop against
// missed or coalesced events.
const defaultPollInterval = 600 * time.Second

// Config holds the knobs a caller can set when opening a [Store].
// The zero value is valid and selects every default.
type Config struct {
	// Hasher computes item identity from a sealed build directory.
	// Defaults to BLAKE3Hasher{}.
	Hasher Hasher

	// LockTimeout bounds how long a locked operation waits to acquire
	// root/lock before giving up. Zero means block indefinitely,
	// matching a plain flock(2) call.
	LockTimeout time.Duration

	// PollInterval overrides the change notifier's fallback poll
	// period. Zero selects defaultPollInterval.
	PollInterval time.Duration

	// HashIncludesExecuteBit, when true and Hasher is left nil,
	// selects a BLAKE3Hasher that folds the owner-execute bit of
	// regular files into the content hash. Has no effect if Hasher
	// is set explicitly — a caller supplying their own Hasher has
	// already made that decision.
	HashIncludesExecuteBit bool

	// Logger receives diagnostic events: lease write failures, watch
	// setup failures, notifier requery errors. None of these affect
	// correctness. Defaults to a discard logger.
	Logger *slog.Logger

	// Clock backs the change notifier's poll ticker and the lock
	// wait timer. Tests inject clock.Fake(); production code should
	// leave this nil to get clock.Real().
	Clock clock.Clock
}

func (c *Config) setDefaults() {
	if c.Hasher == nil {
		c.Hasher = BLAKE3Hasher{IncludeExecuteBit: c.HashIncludesExecuteBit}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
}

// fileConfig is the on-disk YAML shape loaded by [LoadConfigFile].
// Durations are written as strings ("30s", "10m") since YAML has no
// native duration type.
type fileConfig struct {
	LockTimeout            string `yaml:"lock_timeout"`
	PollInterval           string `yaml:"poll_interval"`
	HashIncludesExecuteBit bool   `yaml:"hash_includes_execute_bit"`
}

// LoadConfigFile reads a YAML configuration file and returns the
// corresponding Config. Unset fields take their zero value, so the
// result should still be passed through the normal defaulting path
// when [Open] calls setDefaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("castore: reading config file %s: %w", path, err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("castore: parsing config file %s: %w", path, err)
	}

	var cfg Config
	if raw.LockTimeout != "" {
		d, err := time.ParseDuration(raw.LockTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("castore: parsing lock_timeout in %s: %w", path, err)
		}
		cfg.LockTimeout = d
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("castore: parsing poll_interval in %s: %w", path, err)
		}
		cfg.PollInterval = d
	}
	cfg.HashIncludesExecuteBit = raw.HashIncludesExecuteBit

	return cfg, nil
}

// configEnvVar names the environment variable LoadConfigFromEnv
// consults. Left unset, a caller is expected to build a Config
// directly or rely on defaults.
const configEnvVar = "CASTORE_CONFIG"

// LoadConfigFromEnv loads the file named by the CASTORE_CONFIG
// environment variable, if set. The second return value reports
// whether the variable was present.
func LoadConfigFromEnv() (Config, bool, error) {
	path := os.Getenv(configEnvVar)
	if path == "" {
		return Config{}, false, nil
	}
	cfg, err := LoadConfigFile(path)
	return cfg, true, err
}
