// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// ValidateDaemonConfig checks a loaded daemon.json for sane values.
func (v *Validator) ValidateDaemonConfig(cfg *DaemonConfig) error {
	errs := &ValidationError{}

	if cfg.Hostname == "" {
		errs.Add("hostname", "is required")
	}
	if cfg.Token == "" {
		errs.Add("token", "is required")
	}
	if cfg.BasePort < 0 || cfg.BasePort > 65535 {
		errs.Add("base_port", "must be between 0 and 65535")
	}

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

// ValidateMindConfig checks a loaded volute.json for sane values.
// Invalid cron expressions are NOT rejected here: spec.md §4.7 says the
// scheduler logs and skips them at tick time rather than failing load.
func (v *Validator) ValidateMindConfig(cfg *MindConfig) error {
	errs := &ValidationError{}
	seen := make(map[string]bool)

	for i, sch := range cfg.Schedules {
		prefix := fmt.Sprintf("schedules[%d]", i)
		if sch.ID == "" {
			errs.Add(prefix+".id", "is required")
			continue
		}
		if seen[sch.ID] {
			errs.Add(prefix+".id", fmt.Sprintf("duplicate schedule id %q", sch.ID))
		}
		seen[sch.ID] = true
		if sch.Cron == "" {
			errs.Add(prefix+".cron", "is required")
		}
		if sch.Message == "" && sch.Script == "" {
			errs.Add(prefix, "must set message or script")
		}
	}

	if errs.IsEmpty() {
		return nil
	}
	return errs
}
