// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "castore.yaml")
	contents := "lock_timeout: 30s\npoll_interval: 10m\nhash_includes_execute_bit: true\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.LockTimeout != 30*time.Second {
		t.Errorf("got LockTimeout %v, want 30s", cfg.LockTimeout)
	}
	if cfg.PollInterval != 10*time.Minute {
		t.Errorf("got PollInterval %v, want 10m", cfg.PollInterval)
	}
	if !cfg.HashIncludesExecuteBit {
		t.Error("got HashIncludesExecuteBit false, want true")
	}
}

func TestLoadConfigFileRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "castore.yaml")
	if err := os.WriteFile(path, []byte("lock_timeout: not-a-duration\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected an error parsing an invalid duration")
	}
}

func TestLoadConfigFromEnvUnset(t *testing.T) {
	t.Setenv(configEnvVar, "")
	cfg, present, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if present {
		t.Error("expected present=false when CASTORE_CONFIG is unset")
	}
	if cfg != (Config{}) {
		t.Errorf("expected zero Config, got %+v", cfg)
	}
}

func TestLoadConfigFromEnvSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "castore.yaml")
	os.WriteFile(path, []byte("lock_timeout: 5s\n"), 0o644)
	t.Setenv(configEnvVar, path)

	cfg, present, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if !present {
		t.Error("expected present=true")
	}
	if cfg.LockTimeout != 5*time.Second {
		t.Errorf("got LockTimeout %v, want 5s", cfg.LockTimeout)
	}
}

func TestSetDefaultsFillsZeroValue(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	if cfg.Hasher == nil {
		t.Error("expected a default Hasher")
	}
	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("got PollInterval %v, want %v", cfg.PollInterval, defaultPollInterval)
	}
	if cfg.Logger == nil {
		t.Error("expected a default Logger")
	}
	if cfg.Clock == nil {
		t.Error("expected a default Clock")
	}
}
