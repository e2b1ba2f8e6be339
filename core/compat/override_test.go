// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compat

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type OverrideSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&OverrideSuite{})

func (*OverrideSuite) TestNewPackageOverrideUnbounded(c *gc.C) {
	override := NewPackageOverride(true)
	c.Check(override.MinVersionCode, gc.Equals, VersionCodeMin)
	c.Check(override.MaxVersionCode, gc.Equals, VersionCodeMax)
	c.Check(override.Enabled, jc.IsTrue)
}

func (*OverrideSuite) TestEvaluateBounds(c *gc.C) {
	override := PackageOverride{MinVersionCode: 5, MaxVersionCode: 10, Enabled: false}

	for _, t := range []struct {
		versionCode int64
		expected    Verdict
	}{
		{4, VerdictUndefined},
		{5, VerdictDisabled}, // lower bound is inclusive
		{7, VerdictDisabled},
		{10, VerdictDisabled}, // upper bound is inclusive
		{11, VerdictUndefined},
	} {
		c.Check(override.Evaluate(t.versionCode), gc.Equals, t.expected,
			gc.Commentf("version code %d", t.versionCode))
	}
}

func (*OverrideSuite) TestEvaluateEnabled(c *gc.C) {
	override := PackageOverride{MinVersionCode: 5, MaxVersionCode: 10, Enabled: true}
	c.Check(override.Evaluate(7), gc.Equals, VerdictEnabled)
}

func (*OverrideSuite) TestEvaluateHalfOpenRanges(c *gc.C) {
	atLeast := PackageOverride{MinVersionCode: 3, MaxVersionCode: VersionCodeMax, Enabled: true}
	c.Check(atLeast.Evaluate(2), gc.Equals, VerdictUndefined)
	c.Check(atLeast.Evaluate(1<<40), gc.Equals, VerdictEnabled)

	atMost := PackageOverride{MinVersionCode: VersionCodeMin, MaxVersionCode: 3, Enabled: true}
	c.Check(atMost.Evaluate(4), gc.Equals, VerdictUndefined)
	c.Check(atMost.Evaluate(-1<<40), gc.Equals, VerdictEnabled)
}

func (*OverrideSuite) TestEvaluateForAllVersions(c *gc.C) {
	c.Check(NewPackageOverride(true).EvaluateForAllVersions(), gc.Equals, VerdictEnabled)
	c.Check(NewPackageOverride(false).EvaluateForAllVersions(), gc.Equals, VerdictDisabled)

	// A bounded override cannot be anticipated without version
	// information.
	bounded := PackageOverride{MinVersionCode: 5, MaxVersionCode: VersionCodeMax, Enabled: true}
	c.Check(bounded.EvaluateForAllVersions(), gc.Equals, VerdictUndefined)
}

func (*OverrideSuite) TestValidate(c *gc.C) {
	c.Check(NewPackageOverride(true).Validate(), jc.ErrorIsNil)
	c.Check(PackageOverride{MinVersionCode: 5, MaxVersionCode: 5}.Validate(), jc.ErrorIsNil)

	err := PackageOverride{MinVersionCode: 10, MaxVersionCode: 5}.Validate()
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, `version code range \[10, 5\] not valid`)
}

func (*OverrideSuite) TestString(c *gc.C) {
	c.Check(NewPackageOverride(true).String(), gc.Equals, "enabled")
	c.Check(
		PackageOverride{MinVersionCode: 3, MaxVersionCode: VersionCodeMax, Enabled: true}.String(),
		gc.Equals, "enabled for versions >= 3")
	c.Check(
		PackageOverride{MinVersionCode: VersionCodeMin, MaxVersionCode: 9, Enabled: false}.String(),
		gc.Equals, "disabled for versions <= 9")
	c.Check(
		PackageOverride{MinVersionCode: 5, MaxVersionCode: 10, Enabled: false}.String(),
		gc.Equals, "disabled for versions [5, 10]")
}
