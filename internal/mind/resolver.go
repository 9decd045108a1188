// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/volute-run/voluted/internal/registry"
)

// RegistryResolver adapts a registry.Registry to the Resolver interface
// the Supervisor needs, resolving "base" and "base@variant" addressing
// into a working directory, port, and process-identity hint.
type RegistryResolver struct {
	reg    *registry.Registry
	home   string
	binary string
}

// NewRegistryResolver creates a resolver rooted at home, identifying
// mind processes by their shared binary path (binary) when verifying a
// stale PID or a port-owner's command line.
func NewRegistryResolver(reg *registry.Registry, home, binary string) *RegistryResolver {
	return &RegistryResolver{reg: reg, home: home, binary: binary}
}

// Resolve implements Resolver.
func (r *RegistryResolver) Resolve(name string) (Target, error) {
	if parent, variant, ok := strings.Cut(name, "@"); ok {
		v, err := r.reg.FindVariant(parent, variant)
		if err != nil {
			return Target{}, err
		}
		return Target{WorkDir: v.Path, Port: v.Port, EntrypointHint: r.binary}, nil
	}

	e, err := r.reg.Find(name)
	if err != nil {
		return Target{}, err
	}
	return Target{WorkDir: filepath.Join(r.home, "minds", name), Port: e.Port, EntrypointHint: r.binary}, nil
}

// SetRunning implements Resolver. Variants have no running flag of
// their own in the registry (only base minds do), so this is a no-op
// for "base@variant" names.
func (r *RegistryResolver) SetRunning(name string, running bool) error {
	if strings.Contains(name, "@") {
		return nil
	}
	if err := r.reg.SetRunning(name, running); err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	return nil
}
