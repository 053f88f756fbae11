// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package handle provides Index, a resource index that must be retired
// explicitly. Builds without the koru_release tag count every clone and
// remember where it was made, so a reference that is forgotten, or a
// teardown that happens while clones are still around, panics with the
// call sites involved. With koru_release an Index is a bare integer.
package handle

// Policy says whether the subsystem managing a resource keeps a clone of
// the handle for itself. Use Owned or SelfHeld.
type Policy interface {
	holdsSelfRef() bool
}

// Owned is the policy for resources whose only references are the ones
// handed out to users.
type Owned struct{}

func (Owned) holdsSelfRef() bool { return false }

// SelfHeld is the policy for resources whose managing subsystem keeps one
// clone of its own next to the users' references.
type SelfHeld struct{}

func (SelfHeld) holdsSelfRef() bool { return true }

func holdsSelfRef[P Policy]() bool {
	var p P
	return p.holdsSelfRef()
}

// allowedAtTeardown is how many references may be alive when the
// teardown call is made.
func allowedAtTeardown[P Policy]() int {
	if holdsSelfRef[P]() {
		return 2
	}
	return 1
}
