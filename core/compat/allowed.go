// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compat

import (
	"github.com/juju/errors"
)

// AllowedState is the opaque verdict of the external override
// allow-list policy: either the caller may touch overrides for a
// package, or it may not, with a reason. The zero value denies.
type AllowedState struct {
	allowed bool
	reason  string
}

// Allowed returns the verdict permitting the override.
func Allowed() AllowedState {
	return AllowedState{allowed: true}
}

// Disallowed returns the verdict denying the override for the given
// reason.
func Disallowed(reason string) AllowedState {
	return AllowedState{reason: reason}
}

// IsAllowed reports whether the policy permitted the override.
func (s AllowedState) IsAllowed() bool {
	return s.allowed
}

// Enforce returns a Forbidden error carrying the policy's reason when
// the override was denied, and nil when it was permitted.
func (s AllowedState) Enforce(id ChangeID, packageName string) error {
	if s.allowed {
		return nil
	}
	if s.reason == "" {
		return errors.Forbiddenf("cannot override change %s for package %q", id, packageName)
	}
	return errors.Forbiddenf("cannot override change %s for package %q: %s", id, packageName, s.reason)
}
