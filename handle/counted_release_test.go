// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build koru_release

package handle_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruframe/handle"
)

func TestReleaseBuildPassesIndexThrough(t *testing.T) {
	c := qt.New(t)
	c.Assert(handle.Accounting, qt.IsFalse)

	idx := handle.New[handle.Owned](5)
	clone := idx.Clone()
	c.Assert(clone, qt.Equals, idx)
	c.Assert(clone.Raw(), qt.Equals, uint64(5))

	// nothing is counted, so none of this panics
	clone.Release()
	clone.Release()
	idx.Release()
	c.Assert(idx.TeardownWithoutReleasingResource(), qt.Equals, uint64(5))
	c.Assert(idx.Clone().TeardownWithoutReleasingResource(), qt.Equals, uint64(5))

	raw, ok := idx.AsTemporary().Lookup()
	c.Assert(ok, qt.IsTrue)
	c.Assert(raw, qt.Equals, uint64(5))
	c.Assert(idx.AsTemporary().Raw(), qt.Equals, uint64(5))
}

func TestReleaseBuildSelfHeld(t *testing.T) {
	c := qt.New(t)
	user := handle.New[handle.SelfHeld](8)
	own := user.Clone()
	user.Release()
	c.Assert(own.TeardownWithoutReleasingResource(), qt.Equals, uint64(8))
}
