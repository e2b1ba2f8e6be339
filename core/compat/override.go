// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compat

import (
	"fmt"
	"math"

	"github.com/juju/errors"
)

// Verdict is the result of evaluating a package override.
type Verdict int

const (
	// VerdictUndefined means the override does not apply and the
	// change's default policy should be used.
	VerdictUndefined Verdict = iota
	// VerdictEnabled means the override forces the change on.
	VerdictEnabled
	// VerdictDisabled means the override forces the change off.
	VerdictDisabled
)

// String is part of fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case VerdictUndefined:
		return "undefined"
	case VerdictEnabled:
		return "enabled"
	case VerdictDisabled:
		return "disabled"
	}
	return fmt.Sprintf("unknown verdict %d", int(v))
}

const (
	// VersionCodeMin marks an override version range with no lower
	// bound.
	VersionCodeMin int64 = math.MinInt64
	// VersionCodeMax marks an override version range with no upper
	// bound.
	VersionCodeMax int64 = math.MaxInt64
)

// PackageOverride is a version-conditional enable/disable request for
// a package: it applies whenever the installed version code of the
// package lies in [MinVersionCode, MaxVersionCode], both bounds
// inclusive. An override may be recorded before the package is
// installed, in which case it applies to nothing until the installed
// version becomes known.
type PackageOverride struct {
	MinVersionCode int64
	MaxVersionCode int64
	Enabled        bool
}

// NewPackageOverride returns an override applying to every version of
// the package.
func NewPackageOverride(enabled bool) PackageOverride {
	return PackageOverride{
		MinVersionCode: VersionCodeMin,
		MaxVersionCode: VersionCodeMax,
		Enabled:        enabled,
	}
}

// Validate returns an error if the override's version range is empty.
func (o PackageOverride) Validate() error {
	if o.MinVersionCode > o.MaxVersionCode {
		return errors.NotValidf("version code range [%d, %d]", o.MinVersionCode, o.MaxVersionCode)
	}
	return nil
}

// Evaluate resolves the override against the installed version code of
// the package.
func (o PackageOverride) Evaluate(versionCode int64) Verdict {
	if versionCode >= o.MinVersionCode && versionCode <= o.MaxVersionCode {
		return o.verdict()
	}
	return VerdictUndefined
}

// EvaluateForAllVersions resolves the override given no version
// information at all. Only an override unbounded on both sides decides
// the same way for every possible version; anything narrower is
// undefined until the installed version is known.
func (o PackageOverride) EvaluateForAllVersions() Verdict {
	if o.MinVersionCode == VersionCodeMin && o.MaxVersionCode == VersionCodeMax {
		return o.verdict()
	}
	return VerdictUndefined
}

func (o PackageOverride) verdict() Verdict {
	if o.Enabled {
		return VerdictEnabled
	}
	return VerdictDisabled
}

// String is part of fmt.Stringer.
func (o PackageOverride) String() string {
	verdict := o.verdict().String()
	switch {
	case o.MinVersionCode == VersionCodeMin && o.MaxVersionCode == VersionCodeMax:
		return verdict
	case o.MaxVersionCode == VersionCodeMax:
		return fmt.Sprintf("%s for versions >= %d", verdict, o.MinVersionCode)
	case o.MinVersionCode == VersionCodeMin:
		return fmt.Sprintf("%s for versions <= %d", verdict, o.MaxVersionCode)
	}
	return fmt.Sprintf("%s for versions [%d, %d]", verdict, o.MinVersionCode, o.MaxVersionCode)
}
