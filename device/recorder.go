// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"
	"sync"
	"time"
)

// Call is one entry in the Recorder's operation log.
type Call struct {
	Op     string
	Kind   Kind
	Handle uint64
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s %#x)", c.Op, c.Kind, c.Handle)
}

type commandBufferState int

const (
	stateInitial commandBufferState = iota
	stateRecording
	stateExecutable
)

type recordedMemory struct {
	size   uint64
	mapped bool
}

type recordedSet struct {
	pool DescriptorPool
}

type recordedCommandBuffer struct {
	pool  CommandPool
	level CommandBufferLevel
	state commandBufferState
	begin BeginInfo
}

type recordedFence struct {
	signaled bool
}

// Recorder is a Device that does not talk to any hardware. It validates
// the lifetime of every handle it gives out, and logs every operation in
// the order it was issued. Work submitted with Submit completes instantly.
type Recorder struct {
	// FailAllocations makes every allocation return ErrOutOfDeviceMemory.
	FailAllocations bool

	mutex sync.Mutex
	calls []Call

	memory         *arena[recordedMemory]
	buffers        *arena[struct{}]
	images         *arena[struct{}]
	imageViews     *arena[struct{}]
	descriptorSets *arena[recordedSet]
	pools          *arena[struct{}]
	layouts        *arena[struct{}]
	fences         *arena[recordedFence]
	semaphores     *arena[struct{}]
	commandBuffers *arena[recordedCommandBuffer]
	commandPools   *arena[struct{}]
	renderPasses   *arena[struct{}]
	framebuffers   *arena[struct{}]
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		memory:         newArena[recordedMemory](KindDeviceMemory),
		buffers:        newArena[struct{}](KindBuffer),
		images:         newArena[struct{}](KindImage),
		imageViews:     newArena[struct{}](KindImageView),
		descriptorSets: newArena[recordedSet](KindDescriptorSet),
		pools:          newArena[struct{}](KindDescriptorPool),
		layouts:        newArena[struct{}](KindDescriptorSetLayout),
		fences:         newArena[recordedFence](KindFence),
		semaphores:     newArena[struct{}](KindSemaphore),
		commandBuffers: newArena[recordedCommandBuffer](KindCommandBuffer),
		commandPools:   newArena[struct{}](KindCommandPool),
		renderPasses:   newArena[struct{}](KindRenderPass),
		framebuffers:   newArena[struct{}](KindFramebuffer),
	}
}

func (r *Recorder) log(op string, kind Kind, handle uint64) {
	r.mutex.Lock()
	r.calls = append(r.calls, Call{Op: op, Kind: kind, Handle: handle})
	r.mutex.Unlock()
}

// Calls returns a copy of the operation log.
func (r *Recorder) Calls() []Call {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Call(nil), r.calls...)
}

// ResetCalls empties the operation log.
func (r *Recorder) ResetCalls() {
	r.mutex.Lock()
	r.calls = r.calls[:0]
	r.mutex.Unlock()
}

// Destroyed returns the kinds of every destruction in the log, in order.
// Unmapping memory is reported as KindMemoryMapping.
func (r *Recorder) Destroyed() []Kind {
	var kinds []Kind
	for _, c := range r.Calls() {
		switch c.Op {
		case "Destroy", "Free", "Unmap":
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// Live returns the number of live objects of kind.
func (r *Recorder) Live(kind Kind) int {
	switch kind {
	case KindDeviceMemory:
		return r.memory.len()
	case KindBuffer:
		return r.buffers.len()
	case KindImage:
		return r.images.len()
	case KindImageView:
		return r.imageViews.len()
	case KindDescriptorSet:
		return r.descriptorSets.len()
	case KindDescriptorPool:
		return r.pools.len()
	case KindDescriptorSetLayout:
		return r.layouts.len()
	case KindFence:
		return r.fences.len()
	case KindSemaphore:
		return r.semaphores.len()
	case KindCommandBuffer:
		return r.commandBuffers.len()
	case KindCommandPool:
		return r.commandPools.len()
	case KindRenderPass:
		return r.renderPasses.len()
	case KindFramebuffer:
		return r.framebuffers.len()
	case KindMemoryMapping:
		var n int
		r.memory.each(func(_ uint64, m *recordedMemory) {
			if m.mapped {
				n++
			}
		})
		return n
	}
	return 0
}

// LiveTotal is the number of live objects that the lifetime core is
// responsible for destroying. Render passes and framebuffers are excluded.
func (r *Recorder) LiveTotal() int {
	var n int
	for k := KindDeviceMemory; k <= KindCommandPool; k++ {
		n += r.Live(k)
	}
	return n
}

// AllocateMemory allocates a block of size bytes.
func (r *Recorder) AllocateMemory(size uint64) (DeviceMemory, error) {
	if r.FailAllocations {
		return 0, fmt.Errorf("AllocateMemory(): %w", ErrOutOfDeviceMemory)
	}
	h := r.memory.insert(recordedMemory{size: size})
	r.log("Allocate", KindDeviceMemory, h)
	return DeviceMemory(h), nil
}

// MapMemory maps a block into host memory.
func (r *Recorder) MapMemory(mem DeviceMemory) {
	r.memory.update(uint64(mem), func(m *recordedMemory) {
		if m.mapped {
			panic(fmt.Sprintf("device: memory %#x mapped twice", uint64(mem)))
		}
		m.mapped = true
	})
	r.log("Map", KindMemoryMapping, uint64(mem))
}

// CreateBuffer creates a buffer.
func (r *Recorder) CreateBuffer() Buffer {
	h := r.buffers.insert(struct{}{})
	r.log("Create", KindBuffer, h)
	return Buffer(h)
}

// CreateImage creates an image.
func (r *Recorder) CreateImage() Image {
	h := r.images.insert(struct{}{})
	r.log("Create", KindImage, h)
	return Image(h)
}

// CreateImageView creates an image view.
func (r *Recorder) CreateImageView() ImageView {
	h := r.imageViews.insert(struct{}{})
	r.log("Create", KindImageView, h)
	return ImageView(h)
}

// CreateDescriptorPool creates a descriptor pool.
func (r *Recorder) CreateDescriptorPool() DescriptorPool {
	h := r.pools.insert(struct{}{})
	r.log("Create", KindDescriptorPool, h)
	return DescriptorPool(h)
}

// AllocateDescriptorSets allocates count sets from pool.
func (r *Recorder) AllocateDescriptorSets(pool DescriptorPool, count int) ([]DescriptorSet, error) {
	if !r.pools.contains(uint64(pool)) {
		panic(r.pools.invalid(uint64(pool)))
	}
	if r.FailAllocations {
		return nil, fmt.Errorf("AllocateDescriptorSets(): %w", ErrOutOfDeviceMemory)
	}
	sets := make([]DescriptorSet, count)
	for i := range sets {
		h := r.descriptorSets.insert(recordedSet{pool: pool})
		r.log("Allocate", KindDescriptorSet, h)
		sets[i] = DescriptorSet(h)
	}
	return sets, nil
}

// CreateDescriptorSetLayout creates a descriptor set layout.
func (r *Recorder) CreateDescriptorSetLayout() DescriptorSetLayout {
	h := r.layouts.insert(struct{}{})
	r.log("Create", KindDescriptorSetLayout, h)
	return DescriptorSetLayout(h)
}

// CreateSemaphore creates a semaphore.
func (r *Recorder) CreateSemaphore() Semaphore {
	h := r.semaphores.insert(struct{}{})
	r.log("Create", KindSemaphore, h)
	return Semaphore(h)
}

// CreateRenderPass creates a render pass.
func (r *Recorder) CreateRenderPass() RenderPass {
	h := r.renderPasses.insert(struct{}{})
	r.log("Create", KindRenderPass, h)
	return RenderPass(h)
}

// CreateFramebuffer creates a framebuffer.
func (r *Recorder) CreateFramebuffer() Framebuffer {
	h := r.framebuffers.insert(struct{}{})
	r.log("Create", KindFramebuffer, h)
	return Framebuffer(h)
}

// CreateFence implements Synchronizer.
func (r *Recorder) CreateFence(signaled bool) (Fence, error) {
	if r.FailAllocations {
		return 0, fmt.Errorf("CreateFence(): %w", ErrOutOfHostMemory)
	}
	h := r.fences.insert(recordedFence{signaled: signaled})
	r.log("Create", KindFence, h)
	return Fence(h), nil
}

// Submit simulates a queue submission of executable buffers that completes
// at once and signals fence, which may be zero.
func (r *Recorder) Submit(fence Fence, buffers ...CommandBuffer) {
	for _, cb := range buffers {
		r.commandBuffers.update(uint64(cb), func(c *recordedCommandBuffer) {
			if c.state != stateExecutable {
				panic(fmt.Sprintf("device: submitting command buffer %#x that is not executable", uint64(cb)))
			}
			if c.level != CommandBufferLevelPrimary {
				panic(fmt.Sprintf("device: submitting secondary command buffer %#x", uint64(cb)))
			}
		})
		r.log("Submit", KindCommandBuffer, uint64(cb))
	}
	if fence != 0 {
		r.fences.update(uint64(fence), func(f *recordedFence) {
			f.signaled = true
		})
	}
}

// WaitForFences implements Synchronizer. An unsignaled fence with nothing
// submitted against it never signals, so the wait times out.
func (r *Recorder) WaitForFences(fences []Fence, timeout time.Duration) error {
	for _, f := range fences {
		var signaled bool
		r.fences.update(uint64(f), func(rf *recordedFence) {
			signaled = rf.signaled
		})
		r.log("Wait", KindFence, uint64(f))
		if !signaled {
			return fmt.Errorf("WaitForFences(): %w", ErrTimeout)
		}
	}
	return nil
}

// ResetFences implements Synchronizer.
func (r *Recorder) ResetFences(fences []Fence) error {
	for _, f := range fences {
		r.fences.update(uint64(f), func(rf *recordedFence) {
			rf.signaled = false
		})
		r.log("Reset", KindFence, uint64(f))
	}
	return nil
}

// WaitIdle implements Synchronizer.
func (r *Recorder) WaitIdle() error {
	r.log("WaitIdle", KindFence, 0)
	return nil
}

// CreateCommandPool implements CommandDevice.
func (r *Recorder) CreateCommandPool(queueFamily uint32) (CommandPool, error) {
	if r.FailAllocations {
		return 0, fmt.Errorf("CreateCommandPool(): %w", ErrOutOfHostMemory)
	}
	h := r.commandPools.insert(struct{}{})
	r.log("Create", KindCommandPool, h)
	return CommandPool(h), nil
}

// AllocateCommandBuffers implements CommandDevice.
func (r *Recorder) AllocateCommandBuffers(pool CommandPool, level CommandBufferLevel, count int) ([]CommandBuffer, error) {
	if !r.commandPools.contains(uint64(pool)) {
		panic(r.commandPools.invalid(uint64(pool)))
	}
	if r.FailAllocations {
		return nil, fmt.Errorf("AllocateCommandBuffers(): %w", ErrOutOfDeviceMemory)
	}
	buffers := make([]CommandBuffer, count)
	for i := range buffers {
		h := r.commandBuffers.insert(recordedCommandBuffer{pool: pool, level: level})
		r.log("Allocate", KindCommandBuffer, h)
		buffers[i] = CommandBuffer(h)
	}
	return buffers, nil
}

// ResetCommandBuffer implements CommandDevice.
func (r *Recorder) ResetCommandBuffer(cb CommandBuffer) error {
	r.commandBuffers.update(uint64(cb), func(c *recordedCommandBuffer) {
		if c.state == stateRecording {
			panic(fmt.Sprintf("device: resetting command buffer %#x while it is recording", uint64(cb)))
		}
		c.state = stateInitial
	})
	r.log("Reset", KindCommandBuffer, uint64(cb))
	return nil
}

// BeginCommandBuffer implements CommandDevice.
func (r *Recorder) BeginCommandBuffer(cb CommandBuffer, info BeginInfo) error {
	r.commandBuffers.update(uint64(cb), func(c *recordedCommandBuffer) {
		if c.state != stateInitial {
			panic(fmt.Sprintf("device: beginning command buffer %#x that was not reset", uint64(cb)))
		}
		if c.level == CommandBufferLevelSecondary && info.Inheritance == nil {
			panic(fmt.Sprintf("device: secondary command buffer %#x begun without inheritance", uint64(cb)))
		}
		c.state = stateRecording
		c.begin = info
	})
	r.log("Begin", KindCommandBuffer, uint64(cb))
	return nil
}

// EndCommandBuffer implements CommandDevice.
func (r *Recorder) EndCommandBuffer(cb CommandBuffer) error {
	r.commandBuffers.update(uint64(cb), func(c *recordedCommandBuffer) {
		if c.state != stateRecording {
			panic(fmt.Sprintf("device: ending command buffer %#x that is not recording", uint64(cb)))
		}
		c.state = stateExecutable
	})
	r.log("End", KindCommandBuffer, uint64(cb))
	return nil
}

// BeginInfo returns the info the buffer was last begun with.
func (r *Recorder) BeginInfo(cb CommandBuffer) BeginInfo {
	return r.commandBuffers.get(uint64(cb)).begin
}

// Recording reports whether cb is between begin and end.
func (r *Recorder) Recording(cb CommandBuffer) bool {
	return r.commandBuffers.get(uint64(cb)).state == stateRecording
}

func (r *Recorder) assertRecording(cb CommandBuffer, op string) {
	if !r.Recording(cb) {
		panic(fmt.Sprintf("device: %s on command buffer %#x that is not recording", op, uint64(cb)))
	}
}

// CmdPipelineBarrier implements CommandDevice.
func (r *Recorder) CmdPipelineBarrier(cb CommandBuffer, barrier PipelineBarrier) {
	r.assertRecording(cb, "CmdPipelineBarrier")
	for _, ib := range barrier.Images {
		if !r.images.contains(uint64(ib.Image)) {
			panic(r.images.invalid(uint64(ib.Image)))
		}
		r.log("Barrier", KindImage, uint64(ib.Image))
	}
	for _, bb := range barrier.Buffers {
		if !r.buffers.contains(uint64(bb.Buffer)) {
			panic(r.buffers.invalid(uint64(bb.Buffer)))
		}
		r.log("Barrier", KindBuffer, uint64(bb.Buffer))
	}
}

// CmdExecuteCommands implements CommandDevice.
func (r *Recorder) CmdExecuteCommands(primary CommandBuffer, secondaries []CommandBuffer) {
	r.assertRecording(primary, "CmdExecuteCommands")
	for _, cb := range secondaries {
		c := r.commandBuffers.get(uint64(cb))
		if c.level != CommandBufferLevelSecondary || c.state != stateExecutable {
			panic(fmt.Sprintf("device: executing command buffer %#x that is not an executable secondary", uint64(cb)))
		}
		r.log("Execute", KindCommandBuffer, uint64(cb))
	}
}

// DestroyBuffer implements Destroyer.
func (r *Recorder) DestroyBuffer(b Buffer) {
	r.buffers.remove(uint64(b))
	r.log("Destroy", KindBuffer, uint64(b))
}

// DestroyImage implements Destroyer.
func (r *Recorder) DestroyImage(i Image) {
	r.images.remove(uint64(i))
	r.log("Destroy", KindImage, uint64(i))
}

// DestroyImageView implements Destroyer.
func (r *Recorder) DestroyImageView(v ImageView) {
	r.imageViews.remove(uint64(v))
	r.log("Destroy", KindImageView, uint64(v))
}

// FreeDescriptorSets implements Destroyer.
func (r *Recorder) FreeDescriptorSets(pool DescriptorPool, sets []DescriptorSet) {
	if !r.pools.contains(uint64(pool)) {
		panic(r.pools.invalid(uint64(pool)))
	}
	for _, s := range sets {
		if owner := r.descriptorSets.get(uint64(s)).pool; owner != pool {
			panic(fmt.Sprintf("device: descriptor set %#x freed to pool %#x, allocated from %#x", uint64(s), uint64(pool), uint64(owner)))
		}
		r.descriptorSets.remove(uint64(s))
		r.log("Free", KindDescriptorSet, uint64(s))
	}
}

// DestroyDescriptorPool implements Destroyer. Sets still allocated from the
// pool are freed with it.
func (r *Recorder) DestroyDescriptorPool(pool DescriptorPool) {
	r.pools.remove(uint64(pool))
	var owned []uint64
	r.descriptorSets.each(func(h uint64, s *recordedSet) {
		if s.pool == pool {
			owned = append(owned, h)
		}
	})
	for _, h := range owned {
		r.descriptorSets.remove(h)
	}
	r.log("Destroy", KindDescriptorPool, uint64(pool))
}

// DestroyDescriptorSetLayout implements Destroyer.
func (r *Recorder) DestroyDescriptorSetLayout(l DescriptorSetLayout) {
	r.layouts.remove(uint64(l))
	r.log("Destroy", KindDescriptorSetLayout, uint64(l))
}

// DestroyFence implements Destroyer.
func (r *Recorder) DestroyFence(f Fence) {
	r.fences.remove(uint64(f))
	r.log("Destroy", KindFence, uint64(f))
}

// DestroySemaphore implements Destroyer.
func (r *Recorder) DestroySemaphore(s Semaphore) {
	r.semaphores.remove(uint64(s))
	r.log("Destroy", KindSemaphore, uint64(s))
}

// FreeCommandBuffers implements Destroyer.
func (r *Recorder) FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer) {
	if !r.commandPools.contains(uint64(pool)) {
		panic(r.commandPools.invalid(uint64(pool)))
	}
	for _, cb := range buffers {
		c := r.commandBuffers.get(uint64(cb))
		if c.pool != pool {
			panic(fmt.Sprintf("device: command buffer %#x freed to pool %#x, allocated from %#x", uint64(cb), uint64(pool), uint64(c.pool)))
		}
		if c.state == stateRecording {
			panic(fmt.Sprintf("device: freeing command buffer %#x while it is recording", uint64(cb)))
		}
		r.commandBuffers.remove(uint64(cb))
		r.log("Free", KindCommandBuffer, uint64(cb))
	}
}

// DestroyCommandPool implements Destroyer. Buffers still allocated from the
// pool are freed with it.
func (r *Recorder) DestroyCommandPool(pool CommandPool) {
	r.commandPools.remove(uint64(pool))
	var owned []uint64
	r.commandBuffers.each(func(h uint64, c *recordedCommandBuffer) {
		if c.pool == pool {
			owned = append(owned, h)
		}
	})
	for _, h := range owned {
		r.commandBuffers.remove(h)
	}
	r.log("Destroy", KindCommandPool, uint64(pool))
}

// UnmapMemory implements Destroyer.
func (r *Recorder) UnmapMemory(mem DeviceMemory) {
	r.memory.update(uint64(mem), func(m *recordedMemory) {
		if !m.mapped {
			panic(fmt.Sprintf("device: unmapping memory %#x that is not mapped", uint64(mem)))
		}
		m.mapped = false
	})
	r.log("Unmap", KindMemoryMapping, uint64(mem))
}

// FreeMemory implements Destroyer.
func (r *Recorder) FreeMemory(mem DeviceMemory) {
	r.memory.remove(uint64(mem))
	r.log("Free", KindDeviceMemory, uint64(mem))
}

var _ Device = (*Recorder)(nil)
