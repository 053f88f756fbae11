// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !koru_release

package handle

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Accounting reports whether this build counts references.
const Accounting = true

type tracker struct {
	mutex    sync.Mutex
	tracking bool
	count    int
	nextID   uint64
	sites    map[uint64][]byte
}

// add registers a new reference. Callers hold the mutex.
func (t *tracker) add(raw uint64) *reference {
	id := t.nextID
	t.nextID++
	t.sites[id] = debug.Stack()
	t.count++
	ref := &reference{tracker: t, id: id, raw: raw}
	runtime.SetFinalizer(ref, (*reference).collected)
	return ref
}

// drop forgets ref. Callers hold the mutex.
func (t *tracker) drop(ref *reference) {
	ref.released = true
	delete(t.sites, ref.id)
	t.count--
}

// report logs the creation site of every live reference. Callers hold the mutex.
func (t *tracker) report(raw uint64) {
	ids := make([]uint64, 0, len(t.sites))
	for id := range t.sites {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		log.WithFields(log.Fields{
			"index": raw,
			"clone": id,
		}).Error("outstanding reference created at:\n" + string(t.sites[id]))
	}
}

type reference struct {
	tracker  *tracker
	id       uint64
	raw      uint64
	released bool
}

// collected runs when the garbage collector finds a reference nobody
// released. It reports where the reference was created and stops counting
// it, so the resource's other references can still be torn down.
func (ref *reference) collected() {
	t := ref.tracker
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if ref.released {
		return
	}
	log.WithFields(log.Fields{
		"index": ref.raw,
		"clone": ref.id,
	}).Error("reference dropped without release, created at:\n" + string(t.sites[ref.id]))
	t.drop(ref)
}

// Index is a counted reference to the resource with a raw index. Copying an
// Index value does not create a new reference, use Clone for that.
type Index[P Policy] struct {
	raw uint64
	ref *reference
}

// New creates the first reference to the resource with index raw.
func New[P Policy](raw uint64) Index[P] {
	t := &tracker{
		tracking: true,
		sites:    make(map[uint64][]byte),
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return Index[P]{raw: raw, ref: t.add(raw)}
}

func (i Index[P]) lock(op string) *tracker {
	if i.ref == nil {
		panic(fmt.Sprintf("handle: %s on a zero Index", op))
	}
	t := i.ref.tracker
	t.mutex.Lock()
	if i.ref.released {
		t.mutex.Unlock()
		panic(fmt.Sprintf("handle: %s on index %d after its reference was released", op, i.raw))
	}
	return t
}

// Raw returns the plain index.
func (i Index[P]) Raw() uint64 {
	return i.raw
}

// Clone creates another reference to the same resource.
func (i Index[P]) Clone() Index[P] {
	t := i.lock("Clone")
	defer t.mutex.Unlock()
	return Index[P]{raw: i.raw, ref: t.add(i.raw)}
}

// Release gives up this reference. Giving up the last reference a user
// holds without going through TeardownWithoutReleasingResource leaks the
// resource and panics.
func (i Index[P]) Release() {
	t := i.lock("Release")
	defer t.mutex.Unlock()

	if t.tracking {
		holds := holdsSelfRef[P]()
		valid := (holds && t.count == 1) || t.count > allowedAtTeardown[P]()
		if !valid {
			t.report(i.raw)
			panic(fmt.Sprintf("handle: last reference to index %d released without teardown", i.raw))
		}
	}
	t.drop(i.ref)
}

// TeardownWithoutReleasingResource consumes this reference as the one
// sanctioned teardown of the resource and returns its raw index, so the
// caller can release the resource itself. It panics if references other
// than this one, and the managing subsystem's own under SelfHeld, are
// still alive.
func (i Index[P]) TeardownWithoutReleasingResource() uint64 {
	t := i.lock("TeardownWithoutReleasingResource")
	defer t.mutex.Unlock()

	if t.count > allowedAtTeardown[P]() {
		t.report(i.raw)
		panic(fmt.Sprintf("handle: index %d torn down with %d references alive", i.raw, t.count))
	}
	t.drop(i.ref)
	// the subsystem's clone is still checked when it goes away
	t.tracking = holdsSelfRef[P]()
	return i.raw
}

// AsTemporary returns a non owning reference for lookups.
func (i Index[P]) AsTemporary() Temporary {
	t := i.lock("AsTemporary")
	defer t.mutex.Unlock()
	return Temporary{raw: i.raw, tracker: t}
}

// Temporary is a weak reference. It stops resolving once every counted
// reference to its resource is gone.
type Temporary struct {
	raw     uint64
	tracker *tracker
}

// Lookup returns the raw index, and false once the resource is gone.
func (t Temporary) Lookup() (uint64, bool) {
	if t.tracker == nil {
		return 0, false
	}
	t.tracker.mutex.Lock()
	defer t.tracker.mutex.Unlock()
	if t.tracker.count == 0 {
		return 0, false
	}
	return t.raw, true
}

// Raw returns the raw index and panics when the resource is gone.
func (t Temporary) Raw() uint64 {
	raw, ok := t.Lookup()
	if !ok {
		panic(fmt.Sprintf("handle: temporary reference to index %d outlived its resource", t.raw))
	}
	return raw
}
