// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !koru_release

package execute_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruframe/execute"
)

func TestRemovedTextureStopsResolving(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 1)
	h := f.reg.AddTexture(f.texture(c, 16))
	tmp := h.AsTemporary()

	f.reg.RemoveTexture(h)
	_, ok := tmp.Lookup()
	c.Assert(ok, qt.IsFalse)
	c.Assert(func() { f.man.SetTexture(0, tmp, execute.AddressRepeat) },
		qt.PanicMatches, `handle: temporary reference to index \d+ outlived its resource`)
}

func TestRemoveSharedTexturePanics(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, 1)
	h := f.reg.AddTexture(f.texture(c, 16))
	shared := h.Clone()

	c.Assert(func() { f.reg.RemoveTexture(h) },
		qt.PanicMatches, `handle: index \d+ torn down with 3 references alive`)
	c.Assert(f.reg.Textures(), qt.Equals, 1)

	shared.Release()
	f.reg.RemoveTexture(h)
	c.Assert(f.reg.Textures(), qt.Equals, 0)
}
