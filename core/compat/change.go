// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package compat holds the domain types shared between the owners of
// platform compatibility changes: the static definition of a change,
// the version-conditional package override, and the contracts consumed
// from external collaborators (allow-list policy, application and build
// information, change listeners).
package compat

import (
	"strconv"

	"github.com/juju/errors"
)

// ChangeID uniquely identifies a compatibility change.
type ChangeID int64

// String is part of fmt.Stringer.
func (id ChangeID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ChangeInfo is the static definition of a compatibility change, as
// declared by the platform or deserialised from configuration. The
// definition determines the change's default policy; per-package
// override state lives elsewhere.
type ChangeInfo struct {
	ID ChangeID

	// Name and Description are display metadata with no behavioural
	// effect.
	Name        string
	Description string

	// EnableSinceTargetSdk gates the change on the target SDK version
	// an application declares: the change defaults to enabled only for
	// applications targeting at least this version. -1 means the
	// change is not SDK gated.
	EnableSinceTargetSdk int

	// Disabled turns the change off by default for everyone,
	// regardless of SDK gating.
	Disabled bool

	// LoggingOnly marks a change used purely for usage logging.
	// Overrides are forbidden for such changes.
	LoggingOnly bool

	// Overridable is advisory: it is consumed by the external
	// allow-list policy when deciding whether a caller may set
	// overrides, and not enforced here.
	Overridable bool
}

// DefaultEnabled returns the value of the change for a package with no
// override in effect: false for default-disabled changes, true
// otherwise.
func (i ChangeInfo) DefaultEnabled() bool {
	return !i.Disabled
}

// Validate returns an error if the definition is malformed.
func (i ChangeInfo) Validate() error {
	if i.ID == 0 {
		return errors.NotValidf("change without an ID")
	}
	if i.EnableSinceTargetSdk < -1 {
		return errors.NotValidf("enable-since-target-sdk %d", i.EnableSinceTargetSdk)
	}
	return nil
}

// ApplicationInfo describes the application an enablement query
// concerns. A nil *ApplicationInfo means the application is unknown.
type ApplicationInfo struct {
	// PackageName may be empty when the package is not known.
	PackageName string

	// TargetSdkVersion is the SDK version the application declares
	// compatibility with.
	TargetSdkVersion int
}

// BuildInfo supplies the platform's own ceiling for SDK-gated
// evaluation.
type BuildInfo interface {
	// PlatformTargetSdk returns the target SDK version of the platform
	// build itself.
	PlatformTargetSdk() int
}

// ChangeListener is called with the affected package name each time
// the evaluated override state for that package changes, before the
// application is killed.
type ChangeListener func(packageName string)
