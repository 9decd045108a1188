// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadDaemonConfig reads `<home>/daemon.json`, applies defaults, and
// generates a token on first boot if one doesn't already exist. The
// config (with a freshly generated token, if any) is written back so
// the token is preserved across restarts.
func (l *Loader) LoadDaemonConfig(home string) (*DaemonConfig, error) {
	path := filepath.Join(home, "daemon.json")

	var cfg DaemonConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse daemon config: %w", err)
		}
	case os.IsNotExist(err):
		// first boot: start from zero value, defaults and token fill in below
	default:
		return nil, fmt.Errorf("read daemon config: %w", err)
	}

	applyDaemonDefaults(&cfg)

	dirty := data == nil
	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate daemon token: %w", err)
		}
		cfg.Token = token
		dirty = true
	}

	if dirty {
		if err := l.writeDaemonConfig(path, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (l *Loader) writeDaemonConfig(path string, cfg *DaemonConfig) error {
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal daemon config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write daemon config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename daemon config: %w", err)
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// LoadMindConfig reads a mind's `volute.json` (HJSON) from its working
// directory. A missing file is not an error — it returns a zero-value
// MindConfig, meaning "no schedules, no env overrides".
func (l *Loader) LoadMindConfig(mindDir string) (*MindConfig, error) {
	path := filepath.Join(mindDir, "volute.json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &MindConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mind config: %w", err)
	}

	// Parse HJSON to an intermediate map so comments/trailing commas are
	// tolerated, then re-marshal into the typed struct.
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse volute.json: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert volute.json: %w", err)
	}

	var cfg MindConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal volute.json: %w", err)
	}
	return &cfg, nil
}

// LoadEnvFile reads a plain-JSON string map env file (`env.json`). A
// missing file returns an empty map rather than an error.
func LoadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	var env map[string]string
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}
	return env, nil
}

// WriteEnvFile atomically writes a plain-JSON string map env file.
func WriteEnvFile(path string, env map[string]string) error {
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal env file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename env file: %w", err)
	}
	return nil
}

// LoadChannelMap reads a mind's `channels.json` (connector name →
// platform channel id). A missing file returns an empty map rather than
// an error, same as LoadEnvFile.
func LoadChannelMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read channels file %s: %w", path, err)
	}
	var channels map[string]string
	if err := json.Unmarshal(data, &channels); err != nil {
		return nil, fmt.Errorf("parse channels file %s: %w", path, err)
	}
	return channels, nil
}

// WriteChannelMap atomically writes a mind's `channels.json`.
func WriteChannelMap(path string, channels map[string]string) error {
	out, err := json.MarshalIndent(channels, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal channels file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write channels file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename channels file: %w", err)
	}
	return nil
}

// MergeEnv merges shared env with per-mind env, per-mind taking
// precedence, per spec.md §6.2.
func MergeEnv(shared, perMind map[string]string) map[string]string {
	merged := make(map[string]string, len(shared)+len(perMind))
	for k, v := range shared {
		merged[k] = v
	}
	for k, v := range perMind {
		merged[k] = v
	}
	return merged
}

// EnvSource reads the shared `<home>/env.json` overlay and each mind's
// `<home>/minds/<name>/env.json` overlay fresh on every call, so edits
// made between mind restarts take effect without a daemon restart. It
// implements mind.EnvSource.
type EnvSource struct {
	home string
}

// NewEnvSource creates an EnvSource rooted at the daemon's home
// directory.
func NewEnvSource(home string) *EnvSource {
	return &EnvSource{home: home}
}

// SharedEnv implements mind.EnvSource.
func (e *EnvSource) SharedEnv() map[string]string {
	env, err := LoadEnvFile(filepath.Join(e.home, "env.json"))
	if err != nil {
		return map[string]string{}
	}
	return env
}

// MindEnv implements mind.EnvSource.
func (e *EnvSource) MindEnv(mind string) map[string]string {
	env, err := LoadEnvFile(filepath.Join(e.home, "minds", mind, "env.json"))
	if err != nil {
		return map[string]string{}
	}
	return env
}
