// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles daemon and per-mind configuration loading:
// daemon.json (plain JSON, machine-written) and each mind's volute.json
// (hand-edited HJSON).
package config

// DaemonConfig is the root `<home>/daemon.json` document.
type DaemonConfig struct {
	Port     uint16 `json:"port"`
	Hostname string `json:"hostname"`
	Token    string `json:"token"`
	BasePort int    `json:"base_port,omitempty"`
}

// DefaultBasePort is the lowest port nextPort() assigns when a daemon
// config doesn't override it.
const DefaultBasePort = 4100

// applyDaemonDefaults fills in zero-value fields of a loaded DaemonConfig.
func applyDaemonDefaults(cfg *DaemonConfig) {
	if cfg.Hostname == "" {
		cfg.Hostname = "127.0.0.1"
	}
	if cfg.BasePort == 0 {
		cfg.BasePort = DefaultBasePort
	}
}

// MindConfig is a mind's `volute.json`, read from its working directory.
type MindConfig struct {
	Schedules []ScheduleConfig  `json:"schedules"`
	Env       map[string]string `json:"env"`
	Budget    *BudgetConfig     `json:"budget,omitempty"`
}

// BudgetConfig is volute.json's optional budget block, matching
// budget.Config. A mind with no budget block has no token limit.
type BudgetConfig struct {
	TokenLimit    int `json:"token_limit"`
	PeriodMinutes int `json:"period_minutes"`
}

// ScheduleConfig is one entry of volute.json's schedules array, matching
// spec.md §4.7's schedule shape.
type ScheduleConfig struct {
	ID      string `json:"id"`
	Cron    string `json:"cron"`
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
	Script  string `json:"script,omitempty"`
}
