// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compat

import (
	"github.com/juju/collections/transform"
	"github.com/juju/errors"
	"github.com/juju/naturalsort"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	corecompat "github.com/juju/appcompat/core/compat"
)

// ChangeOverrides is the persisted snapshot of a change's override
// state. A change with no raw overrides has nothing to persist and is
// omitted from storage entirely rather than saved empty; within a
// snapshot, empty categories are likewise omitted.
type ChangeOverrides struct {
	ChangeID int64 `yaml:"change-id"`

	// Raw carries the version-conditional override intents.
	Raw []RawOverrideValue `yaml:"raw,omitempty"`

	// Validated carries the evaluated cache, persisted so that a
	// restart can serve queries without re-resolving version codes.
	Validated []OverrideValue `yaml:"validated,omitempty"`

	// Deferred is a legacy category written by releases that predate
	// version-code tracking: override intents recorded before the
	// package was installed. Read on load, never written.
	Deferred []OverrideValue `yaml:"deferred,omitempty"`
}

// RawOverrideValue is the persisted form of a raw override. A nil
// version code bound means the corresponding side of the range is
// unbounded.
type RawOverrideValue struct {
	PackageName    string `yaml:"package-name"`
	MinVersionCode *int64 `yaml:"min-version-code,omitempty"`
	MaxVersionCode *int64 `yaml:"max-version-code,omitempty"`
	Enabled        bool   `yaml:"enabled"`
}

// OverrideValue is the persisted form of a resolved override.
type OverrideValue struct {
	PackageName string `yaml:"package-name"`
	Enabled     bool   `yaml:"enabled"`
}

// LoadOverrides restores override state from a persisted snapshot,
// folding the three persisted categories into the two live maps:
// legacy deferred entries become unconditional raw overrides,
// validated entries populate the evaluated cache and are mirrored as
// unconditional raw overrides so older snapshots keep their intent,
// and raw entries load as recorded. Raw entries win when the same
// package appears in more than one category.
func (c *ChangeState) LoadOverrides(overrides *ChangeOverrides) error {
	if overrides == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LoggingOnly {
		return errors.NotValidf("overrides for logging-only change %s", c.ID)
	}
	for _, value := range overrides.Deferred {
		c.raw.Store(value.PackageName, corecompat.NewPackageOverride(value.Enabled))
	}
	for _, value := range overrides.Validated {
		c.evaluated.Store(value.PackageName, value.Enabled)
		c.raw.Store(value.PackageName, corecompat.NewPackageOverride(value.Enabled))
	}
	for _, value := range overrides.Raw {
		c.raw.Store(value.PackageName, value.override())
	}
	return nil
}

// SaveOverrides returns the snapshot to persist for this change, or
// nil when there are no raw overrides and nothing needs persisting.
// Entries are ordered by natural package-name order so that persisted
// documents are stable across saves.
func (c *ChangeState) SaveOverrides() *ChangeOverrides {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw := c.rawSnapshot()
	if len(raw) == 0 {
		return nil
	}
	evaluated := c.evaluatedSnapshot()

	rawNames := make([]string, 0, len(raw))
	for name := range raw {
		rawNames = append(rawNames, name)
	}
	naturalsort.Sort(rawNames)

	evaluatedNames := make([]string, 0, len(evaluated))
	for name := range evaluated {
		evaluatedNames = append(evaluatedNames, name)
	}
	naturalsort.Sort(evaluatedNames)

	return &ChangeOverrides{
		ChangeID: int64(c.ID),
		Raw: transform.Slice(rawNames, func(name string) RawOverrideValue {
			return newRawOverrideValue(name, raw[name])
		}),
		Validated: transform.Slice(evaluatedNames, func(name string) OverrideValue {
			return OverrideValue{PackageName: name, Enabled: evaluated[name]}
		}),
	}
}

// SerializeOverrides encodes a snapshot for the external storage
// collaborator, which owns the actual disk I/O.
func SerializeOverrides(overrides *ChangeOverrides) ([]byte, error) {
	data, err := yaml.Marshal(overrides)
	if err != nil {
		return nil, errors.Annotate(err, "marshalling overrides")
	}
	return data, nil
}

// ParseOverrides decodes a persisted snapshot. The document is coerced
// through a schema checker so that malformed storage surfaces as an
// error rather than a zero-valued snapshot.
func ParseOverrides(data []byte) (*ChangeOverrides, error) {
	var source map[string]interface{}
	if err := yaml.Unmarshal(data, &source); err != nil {
		return nil, errors.Annotate(err, "unmarshalling overrides")
	}
	overrides, err := importOverrides(source)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return overrides, nil
}

func importOverrides(source map[string]interface{}) (*ChangeOverrides, error) {
	fields := schema.Fields{
		"change-id": schema.Int(),
		"raw":       schema.List(schema.StringMap(schema.Any())),
		"validated": schema.List(schema.StringMap(schema.Any())),
		"deferred":  schema.List(schema.StringMap(schema.Any())),
	}
	defaults := schema.Defaults{
		"raw":       schema.Omit,
		"validated": schema.Omit,
		"deferred":  schema.Omit,
	}
	checker := schema.FieldMap(fields, defaults)
	coerced, err := checker.Coerce(source, nil)
	if err != nil {
		return nil, errors.Annotate(err, "overrides schema check failed")
	}
	valid := coerced.(map[string]interface{})

	result := &ChangeOverrides{
		ChangeID: valid["change-id"].(int64),
	}
	if list, ok := valid["raw"]; ok {
		result.Raw, err = importRawOverrideValues(list.([]interface{}))
		if err != nil {
			return nil, errors.Annotate(err, "raw overrides")
		}
	}
	if list, ok := valid["validated"]; ok {
		result.Validated, err = importOverrideValues(list.([]interface{}))
		if err != nil {
			return nil, errors.Annotate(err, "validated overrides")
		}
	}
	if list, ok := valid["deferred"]; ok {
		result.Deferred, err = importOverrideValues(list.([]interface{}))
		if err != nil {
			return nil, errors.Annotate(err, "deferred overrides")
		}
	}
	return result, nil
}

func importOverrideValues(sourceList []interface{}) ([]OverrideValue, error) {
	checker := schema.FieldMap(schema.Fields{
		"package-name": schema.String(),
		"enabled":      schema.Bool(),
	}, nil)

	result := make([]OverrideValue, 0, len(sourceList))
	for i, item := range sourceList {
		coerced, err := checker.Coerce(item, nil)
		if err != nil {
			return nil, errors.Annotatef(err, "override %d schema check failed", i)
		}
		valid := coerced.(map[string]interface{})
		result = append(result, OverrideValue{
			PackageName: valid["package-name"].(string),
			Enabled:     valid["enabled"].(bool),
		})
	}
	return result, nil
}

func importRawOverrideValues(sourceList []interface{}) ([]RawOverrideValue, error) {
	checker := schema.FieldMap(schema.Fields{
		"package-name":     schema.String(),
		"min-version-code": schema.Int(),
		"max-version-code": schema.Int(),
		"enabled":          schema.Bool(),
	}, schema.Defaults{
		"min-version-code": schema.Omit,
		"max-version-code": schema.Omit,
	})

	result := make([]RawOverrideValue, 0, len(sourceList))
	for i, item := range sourceList {
		coerced, err := checker.Coerce(item, nil)
		if err != nil {
			return nil, errors.Annotatef(err, "raw override %d schema check failed", i)
		}
		valid := coerced.(map[string]interface{})
		value := RawOverrideValue{
			PackageName: valid["package-name"].(string),
			Enabled:     valid["enabled"].(bool),
		}
		if bound, ok := valid["min-version-code"]; ok {
			code := bound.(int64)
			value.MinVersionCode = &code
		}
		if bound, ok := valid["max-version-code"]; ok {
			code := bound.(int64)
			value.MaxVersionCode = &code
		}
		result = append(result, value)
	}
	return result, nil
}

// override converts the persisted form back into the live override,
// treating absent bounds as unbounded.
func (v RawOverrideValue) override() corecompat.PackageOverride {
	override := corecompat.NewPackageOverride(v.Enabled)
	if v.MinVersionCode != nil {
		override.MinVersionCode = *v.MinVersionCode
	}
	if v.MaxVersionCode != nil {
		override.MaxVersionCode = *v.MaxVersionCode
	}
	return override
}

// newRawOverrideValue converts a live override into its persisted
// form, omitting unbounded sides of the range.
func newRawOverrideValue(packageName string, override corecompat.PackageOverride) RawOverrideValue {
	value := RawOverrideValue{
		PackageName: packageName,
		Enabled:     override.Enabled,
	}
	if override.MinVersionCode != corecompat.VersionCodeMin {
		code := override.MinVersionCode
		value.MinVersionCode = &code
	}
	if override.MaxVersionCode != corecompat.VersionCodeMax {
		code := override.MaxVersionCode
		value.MaxVersionCode = &code
	}
	return value
}
