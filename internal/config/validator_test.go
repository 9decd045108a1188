// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDaemonConfig(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.ValidateDaemonConfig(&DaemonConfig{Hostname: "127.0.0.1", Token: "t", BasePort: 4100}))

	err := v.ValidateDaemonConfig(&DaemonConfig{})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.False(t, ve.IsEmpty())
}

func TestValidateMindConfigDuplicateScheduleID(t *testing.T) {
	v := NewValidator()
	cfg := &MindConfig{Schedules: []ScheduleConfig{
		{ID: "a", Cron: "* * * * *", Message: "hi"},
		{ID: "a", Cron: "* * * * *", Message: "hi again"},
	}}

	err := v.ValidateMindConfig(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate schedule id")
}

func TestValidateMindConfigRequiresMessageOrScript(t *testing.T) {
	v := NewValidator()
	cfg := &MindConfig{Schedules: []ScheduleConfig{{ID: "a", Cron: "* * * * *"}}}

	err := v.ValidateMindConfig(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must set message or script")
}

func TestValidateMindConfigValid(t *testing.T) {
	v := NewValidator()
	cfg := &MindConfig{Schedules: []ScheduleConfig{{ID: "a", Cron: "* * * * *", Script: "./notify.sh"}}}
	require.NoError(t, v.ValidateMindConfig(cfg))
}
