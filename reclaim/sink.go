// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package reclaim defers the destruction of device objects until the
// device can no longer be using them. Destructions are queued against the
// current frame slot and executed when that slot comes around again, which
// the frame driver only lets happen once the slot's work has retired.
package reclaim

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/device"
)

// Event describes one executed destruction.
type Event struct {
	// Clear is the sequence number of the slot clear that executed it.
	Clear uint64
	Slot  int
	Kind  device.Kind
	// Handle is the destroyed object, or the pool for batched kinds.
	Handle uint64
	Count  int
	Size   uint64
	Usage  MemoryUsage
}

// Observer is notified of every executed destruction, in execution order.
type Observer interface {
	Destroyed(Event)
}

// Config configures a Sink.
type Config struct {
	// FrameCount is the number of frame slots, at least one.
	FrameCount int

	// Usage is decremented when memory frees execute. A private one is
	// used when nil.
	Usage *Usage

	Logger log.FieldLogger

	// VerboseDeallocation logs every executed destruction at debug level.
	VerboseDeallocation bool

	Observer Observer
}

// NewSink creates a Sink with cfg.FrameCount slots, the current one being 0.
func NewSink(dev device.Destroyer, cfg Config) *Sink {
	if cfg.FrameCount < 1 {
		panic(fmt.Sprintf("reclaim: frame count %d, need at least one slot", cfg.FrameCount))
	}
	if cfg.Usage == nil {
		cfg.Usage = &Usage{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Sink{
		dev:      dev,
		usage:    cfg.Usage,
		log:      cfg.Logger,
		verbose:  cfg.VerboseDeallocation,
		observer: cfg.Observer,
		frames:   make([]pending, cfg.FrameCount),
	}
}

// Sink owns queued destructions from the moment they are enqueued until
// they execute. Enqueuing is safe from any goroutine, slot changes belong
// to the goroutine driving frames.
type Sink struct {
	dev      device.Destroyer
	usage    *Usage
	log      log.FieldLogger
	verbose  bool
	observer Observer

	mutex    sync.Mutex
	current  int
	frames   []pending
	clears   uint64
	released bool
}

// Usage returns the memory usage counters the sink decrements.
func (s *Sink) Usage() *Usage {
	return s.usage
}

func (s *Sink) enqueue(r record) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.released {
		panic(fmt.Sprintf("reclaim: %s freed after the sink was released", r.kind()))
	}
	s.frames[s.current].push(r)
}

func mustNotBeNull(kind device.Kind, handle uint64) {
	if handle == 0 {
		panic(fmt.Sprintf("reclaim: freeing a null %s", kind))
	}
}

// FreeDeviceMemory queues freeing mem, which was accounted as size bytes of usage.
func (s *Sink) FreeDeviceMemory(mem device.DeviceMemory, size uint64, usage MemoryUsage) {
	mustNotBeNull(device.KindDeviceMemory, uint64(mem))
	s.enqueue(freeMemory{memory: mem, size: size, usage: usage})
}

// UnmapDeviceMemory queues unmapping mem. It always runs before memory frees
// of the same slot.
func (s *Sink) UnmapDeviceMemory(mem device.DeviceMemory) {
	mustNotBeNull(device.KindDeviceMemory, uint64(mem))
	s.enqueue(unmapMemory{memory: mem})
}

// FreeBuffer queues destroying b.
func (s *Sink) FreeBuffer(b device.Buffer) {
	mustNotBeNull(device.KindBuffer, uint64(b))
	s.enqueue(freeBuffer{buffer: b})
}

// FreeImage queues destroying img.
func (s *Sink) FreeImage(img device.Image) {
	mustNotBeNull(device.KindImage, uint64(img))
	s.enqueue(freeImage{image: img})
}

// FreeImageView queues destroying view.
func (s *Sink) FreeImageView(view device.ImageView) {
	mustNotBeNull(device.KindImageView, uint64(view))
	s.enqueue(freeImageView{view: view})
}

// FreeDescriptorSets queues freeing sets back to pool. When poolSize is not
// nil it tracks the sets allocated from pool and is decremented by
// len(sets) when the free executes.
func (s *Sink) FreeDescriptorSets(pool device.DescriptorPool, sets []device.DescriptorSet, poolSize *atomic.Uint64) {
	mustNotBeNull(device.KindDescriptorPool, uint64(pool))
	if len(sets) == 0 {
		return
	}
	for _, set := range sets {
		mustNotBeNull(device.KindDescriptorSet, uint64(set))
	}
	s.enqueue(freeDescriptorSets{
		pool:     pool,
		sets:     append([]device.DescriptorSet(nil), sets...),
		poolSize: poolSize,
	})
}

// FreeDescriptorPool queues destroying pool.
func (s *Sink) FreeDescriptorPool(pool device.DescriptorPool) {
	mustNotBeNull(device.KindDescriptorPool, uint64(pool))
	s.enqueue(freeDescriptorPool{pool: pool})
}

// FreeDescriptorSetLayout queues destroying layout.
func (s *Sink) FreeDescriptorSetLayout(layout device.DescriptorSetLayout) {
	mustNotBeNull(device.KindDescriptorSetLayout, uint64(layout))
	s.enqueue(freeDescriptorSetLayout{layout: layout})
}

// FreeFence queues destroying f.
func (s *Sink) FreeFence(f device.Fence) {
	mustNotBeNull(device.KindFence, uint64(f))
	s.enqueue(freeFence{fence: f})
}

// FreeSemaphore queues destroying sem.
func (s *Sink) FreeSemaphore(sem device.Semaphore) {
	mustNotBeNull(device.KindSemaphore, uint64(sem))
	s.enqueue(freeSemaphore{semaphore: sem})
}

// FreeCommandBuffers queues freeing buffers back to pool.
func (s *Sink) FreeCommandBuffers(pool device.CommandPool, buffers []device.CommandBuffer) {
	mustNotBeNull(device.KindCommandPool, uint64(pool))
	if len(buffers) == 0 {
		return
	}
	for _, cb := range buffers {
		mustNotBeNull(device.KindCommandBuffer, uint64(cb))
	}
	s.enqueue(freeCommandBuffers{
		pool:    pool,
		buffers: append([]device.CommandBuffer(nil), buffers...),
	})
}

// FreeCommandPool queues destroying pool. Queue the pool's buffers before
// or together with it, they are freed first either way.
func (s *Sink) FreeCommandPool(pool device.CommandPool) {
	mustNotBeNull(device.KindCommandPool, uint64(pool))
	s.enqueue(freeCommandPool{pool: pool})
}

// FrameIndex returns the current slot.
func (s *Sink) FrameIndex() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current
}

// FrameCount returns the number of slots.
func (s *Sink) FrameCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.frames)
}

// Pending returns the number of queued destructions in slot.
func (s *Sink) Pending(slot int) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkSlot(slot)
	return s.frames[slot].len()
}

func (s *Sink) checkSlot(slot int) {
	if slot < 0 || slot >= len(s.frames) {
		panic(fmt.Sprintf("reclaim: frame slot %d out of range [0, %d)", slot, len(s.frames)))
	}
}

// SetFrameCount executes everything queued in every slot, then resizes to
// n slots and makes slot 0 current. The device must be idle.
func (s *Sink) SetFrameCount(n int) {
	if n < 1 {
		panic(fmt.Sprintf("reclaim: frame count %d, need at least one slot", n))
	}
	s.mutex.Lock()
	queued, seq := s.takeAll()
	s.frames = make([]pending, n)
	s.current = 0
	s.mutex.Unlock()

	s.execute(seq, queued...)
}

// SetFrameIndex makes slot current and executes everything that was queued
// in it. The caller guarantees the device finished the work submitted the
// last time slot was current.
func (s *Sink) SetFrameIndex(slot int) {
	queued, seq := func() (slotRecords, uint64) {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.checkSlot(slot)
		s.current = slot
		return s.take(slot)
	}()

	s.execute(seq, queued)
}

// ClearFrame executes everything queued in slot, in destruction order.
func (s *Sink) ClearFrame(slot int) {
	queued, seq := func() (slotRecords, uint64) {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.checkSlot(slot)
		return s.take(slot)
	}()

	s.execute(seq, queued)
}

// slotRecords are the records taken out of one slot.
type slotRecords struct {
	slot    int
	records pending
}

// take removes the records queued in slot. s.mutex must be held.
func (s *Sink) take(slot int) (slotRecords, uint64) {
	queued := slotRecords{slot: slot, records: s.frames[slot]}
	s.frames[slot] = pending{}
	s.clears++
	return queued, s.clears
}

// takeAll removes the records of every slot as one clear. s.mutex must be held.
func (s *Sink) takeAll() ([]slotRecords, uint64) {
	queued := make([]slotRecords, len(s.frames))
	for slot := range s.frames {
		queued[slot] = slotRecords{slot: slot, records: s.frames[slot]}
		s.frames[slot] = pending{}
	}
	s.clears++
	return queued, s.clears
}

// execute runs the taken records kind by kind in destruction order. With
// several slots all of one kind goes before any of the next, whatever slot
// it was queued in.
func (s *Sink) execute(seq uint64, queued ...slotRecords) {
	executed := 0
	for i, kind := range destructionOrder {
		for _, q := range queued {
			for _, r := range q.records[i] {
				ev := r.execute(s.dev, s.usage)
				ev.Clear = seq
				ev.Slot = q.slot
				ev.Kind = kind
				if s.verbose {
					s.log.WithFields(log.Fields{
						"slot":   q.slot,
						"kind":   ev.Kind.String(),
						"handle": fmt.Sprintf("%#x", ev.Handle),
						"count":  ev.Count,
						"size":   ev.Size,
					}).Debug("deallocated")
				}
				if s.observer != nil {
					s.observer.Destroyed(ev)
				}
				executed++
			}
		}
	}
	if executed > 0 {
		fields := log.Fields{"records": executed}
		if len(queued) == 1 {
			fields["slot"] = queued[0].slot
		}
		s.log.WithFields(fields).Debug("cleared frame slot")
	}
}

// Release executes every queued destruction regardless of the slots still
// being in flight, the device must be idle. Freeing through the sink
// afterwards panics.
func (s *Sink) Release() {
	s.mutex.Lock()
	queued, seq := s.takeAll()
	s.released = true
	s.mutex.Unlock()

	s.execute(seq, queued...)
}
