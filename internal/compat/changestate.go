// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package compat implements the mutable override state of a single
// platform compatibility change and the reconciliation that keeps it
// consistent as packages are installed, updated and removed.
package compat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	corecompat "github.com/juju/appcompat/core/compat"
)

var logger = loggo.GetLogger("appcompat.compat")

// ChangeState tracks the override state of a single compatibility
// change.
//
// A change has a default policy determined by its definition:
// default-disabled changes are off for everyone, SDK-gated changes are
// on for applications targeting at least the gating SDK version, and
// anything else is on unconditionally. That policy can be overridden
// per package.
//
// Overrides are held in two forms. The raw map is the source of truth
// for override intent: version-conditional requests that apply only
// while the installed version of the package falls inside their
// declared range, possibly recorded before the package is installed at
// all. The evaluated map is the resolved cache consulted on the query
// hot path: package name to plain boolean, no version information
// required. Recheck promotes raw overrides into the evaluated cache
// and demotes them out of it as installed-version information comes
// and goes.
//
// Reads are safe concurrently with writers. Mutating operations are
// serialized on an internal mutex, one per change.
type ChangeState struct {
	corecompat.ChangeInfo

	// mu serializes all mutations, including listener registration.
	// Readers never take it.
	mu sync.Mutex

	// listener, when registered, is invoked with the package name each
	// time the evaluated state for that package changes. It runs with
	// mu held; see RegisterListener.
	listener corecompat.ChangeListener

	// raw maps package name to corecompat.PackageOverride.
	raw sync.Map
	// evaluated maps package name to bool, the override currently in
	// effect for the package. Derived from raw by recheck.
	evaluated sync.Map
}

// NewChangeState returns the override state for the given change
// definition, with no overrides recorded.
func NewChangeState(info corecompat.ChangeInfo) *ChangeState {
	return &ChangeState{ChangeInfo: info}
}

// NewChangeStateForID returns the override state for a change known
// only by ID: no name, no SDK gating, enabled by default.
func NewChangeStateForID(id corecompat.ChangeID) *ChangeState {
	return NewChangeState(corecompat.ChangeInfo{
		ID:                   id,
		EnableSinceTargetSdk: -1,
	})
}

// RegisterListener registers the change listener. Registration is
// one-shot: at most one listener may ever be registered for a change,
// and a second registration indicates a caller bug.
//
// The listener is invoked synchronously while the internal mutation
// lock is held, typically just before the affected application is
// killed. It must not call back into the same ChangeState, or it will
// deadlock.
func (c *ChangeState) RegisterListener(listener corecompat.ChangeListener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return errors.AlreadyExistsf("listener for change %s", c.ID)
	}
	c.listener = listener
	return nil
}

// SetRawOverride records a raw, version-conditional override for the
// package, replacing any previous one, and immediately reconciles it
// against the supplied allow decision and installed version code. The
// override only takes effect once reconciliation resolves it; until
// then it is held as pending intent.
func (c *ChangeState) SetRawOverride(
	packageName string,
	override corecompat.PackageOverride,
	allowed corecompat.AllowedState,
	versionCode *int64,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LoggingOnly {
		return errors.NotValidf("overrides for logging-only change %s", c.ID)
	}
	c.raw.Store(packageName, override)
	logger.Debugf("change %s: raw override for %q set to %s", c.ID, packageName, override)
	c.recheck(packageName, allowed, versionCode)
	return nil
}

// Recheck reconciles the recorded raw override for a package against
// the current allow decision and installed version code. A raw
// override whose range covers the installed version is promoted into
// the evaluated cache; anything else (no version information, no raw
// override, permission withdrawn, version outside the range) demotes
// the package out of the evaluated cache while leaving the raw intent
// in place for a later recheck.
//
// The result reports whether an applicable raw override was evaluated,
// signalling that upstream caches may need invalidating. It
// deliberately over-approximates: a recheck resolving to an undefined
// verdict reports true even when there was no evaluated entry to
// remove.
func (c *ChangeState) Recheck(
	packageName string,
	allowed corecompat.AllowedState,
	versionCode *int64,
) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recheck(packageName, allowed, versionCode)
}

// recheck does the work of Recheck. Callers must hold mu.
func (c *ChangeState) recheck(
	packageName string,
	allowed corecompat.AllowedState,
	versionCode *int64,
) bool {
	if packageName == "" {
		return false
	}
	override, hasRaw := c.rawOverride(packageName)
	// Without an installed version, an applicable raw override and
	// permission, no override can be in effect for the package.
	if versionCode == nil || !hasRaw || !allowed.IsAllowed() {
		c.removeEvaluated(packageName)
		return false
	}
	verdict := override.Evaluate(*versionCode)
	logger.Tracef("change %s: override for %q at version %d evaluates to %s",
		c.ID, packageName, *versionCode, verdict)
	switch verdict {
	case corecompat.VerdictEnabled:
		c.storeEvaluated(packageName, true)
	case corecompat.VerdictDisabled:
		c.storeEvaluated(packageName, false)
	default:
		c.removeEvaluated(packageName)
	}
	return true
}

// RemoveRawOverride removes any raw override for the package,
// restoring default behaviour, and reports whether one was present.
// The allow decision is enforced before anything is removed; a denial
// surfaces as a Forbidden error and leaves the state untouched.
func (c *ChangeState) RemoveRawOverride(
	packageName string,
	allowed corecompat.AllowedState,
	versionCode *int64,
) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rawOverride(packageName); !ok {
		return false, nil
	}
	if err := allowed.Enforce(c.ID, packageName); err != nil {
		return false, errors.Trace(err)
	}
	c.raw.Delete(packageName)
	logger.Debugf("change %s: raw override for %q removed", c.ID, packageName)
	c.recheck(packageName, allowed, versionCode)
	return true, nil
}

// IsEnabled reports whether the change is in effect for the given
// application. A resolved override for the package wins over
// everything else; otherwise default-disabled changes are off,
// SDK-gated changes compare the application's target SDK version
// against the gate, and any other change is on.
//
// This is the query hot path: it consults only the evaluated cache and
// the static definition, takes no locks and performs no I/O.
func (c *ChangeState) IsEnabled(app *corecompat.ApplicationInfo, build corecompat.BuildInfo) bool {
	if app == nil {
		return c.DefaultEnabled()
	}
	if app.PackageName != "" {
		if enabled, ok := c.evaluated.Load(app.PackageName); ok {
			return enabled.(bool)
		}
	}
	if c.Disabled {
		return false
	}
	if c.EnableSinceTargetSdk != -1 {
		// An application must not be judged against a gating version
		// newer than the platform itself supports.
		effectiveSdk := min(app.TargetSdkVersion, build.PlatformTargetSdk())
		return effectiveSdk >= c.EnableSinceTargetSdk
	}
	return true
}

// WillBeEnabled predicts whether the change will be enabled for the
// package once it is installed or updated, ignoring version
// constraints: only a raw override that resolves the same way across
// every possible version can be anticipated before the installed
// version is known. The evaluated cache is not consulted.
func (c *ChangeState) WillBeEnabled(packageName string) bool {
	if packageName == "" {
		return c.DefaultEnabled()
	}
	if override, ok := c.rawOverride(packageName); ok {
		switch override.EvaluateForAllVersions() {
		case corecompat.VerdictEnabled:
			return true
		case corecompat.VerdictDisabled:
			return false
		}
	}
	return c.DefaultEnabled()
}

// HasRawOverride reports whether a raw override is recorded for the
// package, whether or not it is currently in effect.
func (c *ChangeState) HasRawOverride(packageName string) bool {
	_, ok := c.raw.Load(packageName)
	return ok
}

// HasEvaluatedOverride reports whether a resolved override is in
// effect for the package.
func (c *ChangeState) HasEvaluatedOverride(packageName string) bool {
	_, ok := c.evaluated.Load(packageName)
	return ok
}

// ClearOverrides unconditionally drops all raw and evaluated overrides
// for the change. No listener notifications are fired: this is a bulk
// reset driven by a wider cache invalidation, not a per-package state
// change.
func (c *ChangeState) ClearOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw.Range(func(key, _ interface{}) bool {
		c.raw.Delete(key)
		return true
	})
	c.evaluated.Range(func(key, _ interface{}) bool {
		c.evaluated.Delete(key)
		return true
	})
}

// String is part of fmt.Stringer.
func (c *ChangeState) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ChangeId(%s", c.ID)
	if c.Name != "" {
		fmt.Fprintf(&b, "; name=%s", c.Name)
	}
	if c.EnableSinceTargetSdk != -1 {
		fmt.Fprintf(&b, "; enableSinceTargetSdk=%d", c.EnableSinceTargetSdk)
	}
	if c.Disabled {
		b.WriteString("; disabled")
	}
	if c.LoggingOnly {
		b.WriteString("; loggingOnly")
	}
	if evaluated := c.evaluatedSnapshot(); len(evaluated) > 0 {
		fmt.Fprintf(&b, "; packageOverrides=%v", evaluated)
	}
	if raw := c.rawSnapshot(); len(raw) > 0 {
		fmt.Fprintf(&b, "; rawOverrides=%v", raw)
	}
	if c.Overridable {
		b.WriteString("; overridable")
	}
	b.WriteString(")")
	return b.String()
}

// storeEvaluated records the resolved override for the package and
// notifies the listener. Callers must hold mu.
func (c *ChangeState) storeEvaluated(packageName string, enabled bool) {
	c.evaluated.Store(packageName, enabled)
	c.notify(packageName)
}

// removeEvaluated drops the resolved override for the package,
// notifying the listener only when an entry was actually removed.
// Callers must hold mu.
func (c *ChangeState) removeEvaluated(packageName string) {
	if _, ok := c.evaluated.LoadAndDelete(packageName); ok {
		c.notify(packageName)
	}
}

func (c *ChangeState) notify(packageName string) {
	if c.listener != nil {
		c.listener(packageName)
	}
}

func (c *ChangeState) rawOverride(packageName string) (corecompat.PackageOverride, bool) {
	value, ok := c.raw.Load(packageName)
	if !ok {
		return corecompat.PackageOverride{}, false
	}
	return value.(corecompat.PackageOverride), true
}

func (c *ChangeState) rawSnapshot() map[string]corecompat.PackageOverride {
	result := make(map[string]corecompat.PackageOverride)
	c.raw.Range(func(key, value interface{}) bool {
		result[key.(string)] = value.(corecompat.PackageOverride)
		return true
	})
	return result
}

func (c *ChangeState) evaluatedSnapshot() map[string]bool {
	result := make(map[string]bool)
	c.evaluated.Range(func(key, value interface{}) bool {
		result[key.(string)] = value.(bool)
		return true
	})
	return result
}
