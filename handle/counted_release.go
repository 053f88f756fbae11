// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build koru_release

package handle

// Accounting reports whether this build counts references.
const Accounting = false

// Index is a resource index. In release builds it carries no accounting.
type Index[P Policy] struct {
	raw uint64
}

// New creates the first reference to the resource with index raw.
func New[P Policy](raw uint64) Index[P] {
	return Index[P]{raw: raw}
}

// Raw returns the plain index.
func (i Index[P]) Raw() uint64 { return i.raw }

// Clone creates another reference to the same resource.
func (i Index[P]) Clone() Index[P] { return i }

// Release gives up this reference.
func (i Index[P]) Release() {}

// TeardownWithoutReleasingResource returns the raw index.
func (i Index[P]) TeardownWithoutReleasingResource() uint64 { return i.raw }

// AsTemporary returns a non owning reference for lookups.
func (i Index[P]) AsTemporary() Temporary { return Temporary{raw: i.raw} }

// Temporary is a non owning reference.
type Temporary struct {
	raw uint64
}

// Lookup returns the raw index.
func (t Temporary) Lookup() (uint64, bool) { return t.raw, true }

// Raw returns the raw index.
func (t Temporary) Raw() uint64 { return t.raw }
