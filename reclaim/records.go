// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package reclaim

import (
	"sync/atomic"

	"github.com/devblok/koruframe/device"
)

// destructionOrder is the order a slot's records execute in. Descriptor
// sets reference views, images and buffers. Memory backs everything and
// has to be unmapped before it is freed.
var destructionOrder = [...]device.Kind{
	device.KindDescriptorSet,
	device.KindImageView,
	device.KindImage,
	device.KindBuffer,
	device.KindDescriptorPool,
	device.KindDescriptorSetLayout,
	device.KindFence,
	device.KindSemaphore,
	device.KindCommandBuffer,
	device.KindCommandPool,
	device.KindMemoryMapping,
	device.KindDeviceMemory,
}

var orderOf = func() map[device.Kind]int {
	m := make(map[device.Kind]int, len(destructionOrder))
	for i, k := range destructionOrder {
		m[k] = i
	}
	return m
}()

// DestructionOrder returns the kinds in the order a slot clear destroys them.
func DestructionOrder() []device.Kind {
	return append([]device.Kind(nil), destructionOrder[:]...)
}

// record is one queued destruction.
type record interface {
	kind() device.Kind
	execute(dev device.Destroyer, usage *Usage) Event
}

type pending [len(destructionOrder)][]record

func (p *pending) push(r record) {
	i := orderOf[r.kind()]
	p[i] = append(p[i], r)
}

func (p *pending) len() int {
	var n int
	for _, rs := range p {
		n += len(rs)
	}
	return n
}

type freeMemory struct {
	memory device.DeviceMemory
	size   uint64
	usage  MemoryUsage
}

func (freeMemory) kind() device.Kind { return device.KindDeviceMemory }

func (r freeMemory) execute(dev device.Destroyer, usage *Usage) Event {
	dev.FreeMemory(r.memory)
	usage.Freed(r.usage, r.size)
	return Event{Handle: uint64(r.memory), Count: 1, Size: r.size, Usage: r.usage}
}

type unmapMemory struct {
	memory device.DeviceMemory
}

func (unmapMemory) kind() device.Kind { return device.KindMemoryMapping }

func (r unmapMemory) execute(dev device.Destroyer, _ *Usage) Event {
	dev.UnmapMemory(r.memory)
	return Event{Handle: uint64(r.memory), Count: 1}
}

type freeBuffer struct {
	buffer device.Buffer
}

func (freeBuffer) kind() device.Kind { return device.KindBuffer }

func (r freeBuffer) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroyBuffer(r.buffer)
	return Event{Handle: uint64(r.buffer), Count: 1}
}

type freeImage struct {
	image device.Image
}

func (freeImage) kind() device.Kind { return device.KindImage }

func (r freeImage) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroyImage(r.image)
	return Event{Handle: uint64(r.image), Count: 1}
}

type freeImageView struct {
	view device.ImageView
}

func (freeImageView) kind() device.Kind { return device.KindImageView }

func (r freeImageView) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroyImageView(r.view)
	return Event{Handle: uint64(r.view), Count: 1}
}

type freeDescriptorSets struct {
	pool     device.DescriptorPool
	sets     []device.DescriptorSet
	poolSize *atomic.Uint64
}

func (freeDescriptorSets) kind() device.Kind { return device.KindDescriptorSet }

func (r freeDescriptorSets) execute(dev device.Destroyer, _ *Usage) Event {
	dev.FreeDescriptorSets(r.pool, r.sets)
	if r.poolSize != nil {
		subtract(r.poolSize, uint64(len(r.sets)), "descriptor pool size")
	}
	return Event{Handle: uint64(r.pool), Count: len(r.sets)}
}

type freeDescriptorPool struct {
	pool device.DescriptorPool
}

func (freeDescriptorPool) kind() device.Kind { return device.KindDescriptorPool }

func (r freeDescriptorPool) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroyDescriptorPool(r.pool)
	return Event{Handle: uint64(r.pool), Count: 1}
}

type freeDescriptorSetLayout struct {
	layout device.DescriptorSetLayout
}

func (freeDescriptorSetLayout) kind() device.Kind { return device.KindDescriptorSetLayout }

func (r freeDescriptorSetLayout) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroyDescriptorSetLayout(r.layout)
	return Event{Handle: uint64(r.layout), Count: 1}
}

type freeFence struct {
	fence device.Fence
}

func (freeFence) kind() device.Kind { return device.KindFence }

func (r freeFence) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroyFence(r.fence)
	return Event{Handle: uint64(r.fence), Count: 1}
}

type freeSemaphore struct {
	semaphore device.Semaphore
}

func (freeSemaphore) kind() device.Kind { return device.KindSemaphore }

func (r freeSemaphore) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroySemaphore(r.semaphore)
	return Event{Handle: uint64(r.semaphore), Count: 1}
}

type freeCommandBuffers struct {
	pool    device.CommandPool
	buffers []device.CommandBuffer
}

func (freeCommandBuffers) kind() device.Kind { return device.KindCommandBuffer }

func (r freeCommandBuffers) execute(dev device.Destroyer, _ *Usage) Event {
	dev.FreeCommandBuffers(r.pool, r.buffers)
	return Event{Handle: uint64(r.pool), Count: len(r.buffers)}
}

type freeCommandPool struct {
	pool device.CommandPool
}

func (freeCommandPool) kind() device.Kind { return device.KindCommandPool }

func (r freeCommandPool) execute(dev device.Destroyer, _ *Usage) Event {
	dev.DestroyCommandPool(r.pool)
	return Event{Handle: uint64(r.pool), Count: 1}
}
