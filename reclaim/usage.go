// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package reclaim

import (
	"fmt"
	"sync/atomic"
)

// MemoryUsage is the category device memory is accounted under.
type MemoryUsage int

// Memory usage categories. Dummy memory is not accounted.
const (
	UsageTexture MemoryUsage = iota
	UsageBuffer
	UsageStream
	UsageStaging
	UsageDummy
)

var usageNames = [...]string{"texture", "buffer", "stream", "staging", "dummy"}

func (u MemoryUsage) String() string {
	if u < 0 || int(u) >= len(usageNames) {
		return fmt.Sprintf("MemoryUsage(%d)", int(u))
	}
	return usageNames[u]
}

// Usage tracks the bytes of device memory alive per category. It is safe
// for concurrent use by any number of allocation sites.
type Usage struct {
	counters [UsageDummy]atomic.Uint64
}

// UsageSnapshot is a point in time copy of Usage.
type UsageSnapshot struct {
	Texture uint64
	Buffer  uint64
	Stream  uint64
	Staging uint64
}

// Total sums all categories.
func (s UsageSnapshot) Total() uint64 {
	return s.Texture + s.Buffer + s.Stream + s.Staging
}

// Allocated accounts size bytes of newly allocated memory.
func (u *Usage) Allocated(kind MemoryUsage, size uint64) {
	if kind == UsageDummy {
		return
	}
	u.counters[kind].Add(size)
}

// Freed removes size bytes from the category. Going below zero means some
// memory was freed twice or never accounted, and panics.
func (u *Usage) Freed(kind MemoryUsage, size uint64) {
	if kind == UsageDummy {
		return
	}
	subtract(&u.counters[kind], size, kind.String()+" memory usage")
}

// Get returns the bytes accounted under kind.
func (u *Usage) Get(kind MemoryUsage) uint64 {
	if kind == UsageDummy {
		return 0
	}
	return u.counters[kind].Load()
}

// Snapshot copies all counters.
func (u *Usage) Snapshot() UsageSnapshot {
	return UsageSnapshot{
		Texture: u.Get(UsageTexture),
		Buffer:  u.Get(UsageBuffer),
		Stream:  u.Get(UsageStream),
		Staging: u.Get(UsageStaging),
	}
}

func subtract(counter *atomic.Uint64, n uint64, what string) {
	for {
		cur := counter.Load()
		if n > cur {
			panic(fmt.Sprintf("reclaim: %s underflow, %d - %d", what, cur, n))
		}
		if counter.CompareAndSwap(cur, cur-n) {
			return
		}
	}
}
