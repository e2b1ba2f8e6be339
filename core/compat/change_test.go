// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compat

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type ChangeInfoSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&ChangeInfoSuite{})

func (*ChangeInfoSuite) TestDefaultEnabled(c *gc.C) {
	c.Check(ChangeInfo{ID: 1}.DefaultEnabled(), jc.IsTrue)
	c.Check(ChangeInfo{ID: 1, Disabled: true}.DefaultEnabled(), jc.IsFalse)
}

func (*ChangeInfoSuite) TestValidate(c *gc.C) {
	for _, t := range []struct {
		info  ChangeInfo
		valid bool
	}{
		{ChangeInfo{ID: 1, EnableSinceTargetSdk: -1}, true},
		{ChangeInfo{ID: 1, EnableSinceTargetSdk: 31}, true},
		{ChangeInfo{EnableSinceTargetSdk: -1}, false},
		{ChangeInfo{ID: 1, EnableSinceTargetSdk: -2}, false},
	} {
		err := t.info.Validate()
		if t.valid {
			c.Check(err, jc.ErrorIsNil)
		} else {
			c.Check(err, jc.ErrorIs, errors.NotValid)
		}
	}
}

func (*ChangeInfoSuite) TestChangeIDString(c *gc.C) {
	c.Check(ChangeID(149391281).String(), gc.Equals, "149391281")
}

func (*ChangeInfoSuite) TestVerdictString(c *gc.C) {
	c.Check(VerdictUndefined.String(), gc.Equals, "undefined")
	c.Check(VerdictEnabled.String(), gc.Equals, "enabled")
	c.Check(VerdictDisabled.String(), gc.Equals, "disabled")
	c.Check(Verdict(42).String(), gc.Equals, "unknown verdict 42")
}
