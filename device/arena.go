// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"
	"sync"
)

type arenaSlot[T any] struct {
	generation uint32
	used       bool
	value      T
}

// arena stores backend objects and hands out generation tagged handles.
// The low 32 bits of a handle are the slot index plus one, the high 32 bits
// the slot's generation at insertion. It is safe for concurrent use.
type arena[T any] struct {
	kind Kind

	mutex sync.Mutex
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

func newArena[T any](kind Kind) *arena[T] {
	return &arena[T]{kind: kind}
}

func (a *arena[T]) insert(value T) uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot[T]{})
		index = uint32(len(a.slots) - 1)
	}
	slot := &a.slots[index]
	slot.generation++
	slot.used = true
	slot.value = value
	a.live++
	return uint64(slot.generation)<<32 | uint64(index+1)
}

func (a *arena[T]) slot(handle uint64) *arenaSlot[T] {
	index := uint32(handle) - 1
	if uint32(handle) == 0 || int(index) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[index]
	if !slot.used || slot.generation != uint32(handle>>32) {
		return nil
	}
	return slot
}

// get returns the object behind handle, panicking if it is unknown or stale.
func (a *arena[T]) get(handle uint64) T {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	slot := a.slot(handle)
	if slot == nil {
		panic(a.invalid(handle))
	}
	return slot.value
}

// update runs fn on the stored object, panicking if the handle is invalid.
func (a *arena[T]) update(handle uint64, fn func(*T)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	slot := a.slot(handle)
	if slot == nil {
		panic(a.invalid(handle))
	}
	fn(&slot.value)
}

// remove invalidates handle and returns its object. Removing twice panics.
func (a *arena[T]) remove(handle uint64) T {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	slot := a.slot(handle)
	if slot == nil {
		panic(a.invalid(handle))
	}
	value := slot.value
	var zero T
	slot.value = zero
	slot.used = false
	a.free = append(a.free, uint32(handle)-1)
	a.live--
	return value
}

func (a *arena[T]) contains(handle uint64) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.slot(handle) != nil
}

// each calls fn for every live object, under the arena lock.
func (a *arena[T]) each(fn func(handle uint64, value *T)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for i := range a.slots {
		if a.slots[i].used {
			fn(uint64(a.slots[i].generation)<<32|uint64(i+1), &a.slots[i].value)
		}
	}
}

func (a *arena[T]) len() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.live
}

func (a *arena[T]) invalid(handle uint64) string {
	return fmt.Sprintf("device: unknown or already destroyed %s handle %#x", a.kind, handle)
}
