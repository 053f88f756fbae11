// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"errors"
	"fmt"
	"math"
	"time"

	vk "github.com/devblok/vulkan"
)

// NewVulkan wraps an already created logical device. Device and queue
// selection happen elsewhere, this backend only tracks the objects that
// pass through the lifetime core.
func NewVulkan(logicalDevice vk.Device) *Vulkan {
	return &Vulkan{
		device:         logicalDevice,
		memory:         newArena[vk.DeviceMemory](KindDeviceMemory),
		buffers:        newArena[vk.Buffer](KindBuffer),
		images:         newArena[vk.Image](KindImage),
		imageViews:     newArena[vk.ImageView](KindImageView),
		descriptorSets: newArena[vk.DescriptorSet](KindDescriptorSet),
		pools:          newArena[vk.DescriptorPool](KindDescriptorPool),
		layouts:        newArena[vk.DescriptorSetLayout](KindDescriptorSetLayout),
		fences:         newArena[vk.Fence](KindFence),
		semaphores:     newArena[vk.Semaphore](KindSemaphore),
		commandBuffers: newArena[vk.CommandBuffer](KindCommandBuffer),
		commandPools:   newArena[vk.CommandPool](KindCommandPool),
		renderPasses:   newArena[vk.RenderPass](KindRenderPass),
		framebuffers:   newArena[vk.Framebuffer](KindFramebuffer),
	}
}

// Vulkan implements Device on top of a Vulkan logical device.
type Vulkan struct {
	device vk.Device

	memory         *arena[vk.DeviceMemory]
	buffers        *arena[vk.Buffer]
	images         *arena[vk.Image]
	imageViews     *arena[vk.ImageView]
	descriptorSets *arena[vk.DescriptorSet]
	pools          *arena[vk.DescriptorPool]
	layouts        *arena[vk.DescriptorSetLayout]
	fences         *arena[vk.Fence]
	semaphores     *arena[vk.Semaphore]
	commandBuffers *arena[vk.CommandBuffer]
	commandPools   *arena[vk.CommandPool]
	renderPasses   *arena[vk.RenderPass]
	framebuffers   *arena[vk.Framebuffer]
}

func vkError(call string, result vk.Result) error {
	err := vk.Error(result)
	if err == nil {
		return nil
	}
	switch result {
	case vk.ErrorOutOfHostMemory:
		return fmt.Errorf("vk.%s(): %w", call, ErrOutOfHostMemory)
	case vk.ErrorOutOfDeviceMemory:
		return fmt.Errorf("vk.%s(): %w", call, ErrOutOfDeviceMemory)
	case vk.ErrorDeviceLost:
		return fmt.Errorf("vk.%s(): %w", call, ErrDeviceLost)
	}
	return errors.New("vk." + call + "(): " + err.Error())
}

// ImportMemory registers memory allocated outside of this backend.
func (v *Vulkan) ImportMemory(mem vk.DeviceMemory) DeviceMemory {
	return DeviceMemory(v.memory.insert(mem))
}

// ImportBuffer registers a buffer created outside of this backend.
func (v *Vulkan) ImportBuffer(b vk.Buffer) Buffer {
	return Buffer(v.buffers.insert(b))
}

// ImportImage registers an image created outside of this backend.
func (v *Vulkan) ImportImage(i vk.Image) Image {
	return Image(v.images.insert(i))
}

// ImportImageView registers an image view created outside of this backend.
func (v *Vulkan) ImportImageView(iv vk.ImageView) ImageView {
	return ImageView(v.imageViews.insert(iv))
}

// ImportDescriptorSets registers descriptor sets allocated outside of this backend.
func (v *Vulkan) ImportDescriptorSets(sets []vk.DescriptorSet) []DescriptorSet {
	handles := make([]DescriptorSet, len(sets))
	for i, s := range sets {
		handles[i] = DescriptorSet(v.descriptorSets.insert(s))
	}
	return handles
}

// ImportDescriptorPool registers a descriptor pool created outside of this backend.
func (v *Vulkan) ImportDescriptorPool(p vk.DescriptorPool) DescriptorPool {
	return DescriptorPool(v.pools.insert(p))
}

// ImportDescriptorSetLayout registers a layout created outside of this backend.
func (v *Vulkan) ImportDescriptorSetLayout(l vk.DescriptorSetLayout) DescriptorSetLayout {
	return DescriptorSetLayout(v.layouts.insert(l))
}

// ImportSemaphore registers a semaphore created outside of this backend.
func (v *Vulkan) ImportSemaphore(s vk.Semaphore) Semaphore {
	return Semaphore(v.semaphores.insert(s))
}

// ImportRenderPass registers a render pass. Render passes are owned by the
// caller and are never destroyed through this backend.
func (v *Vulkan) ImportRenderPass(rp vk.RenderPass) RenderPass {
	return RenderPass(v.renderPasses.insert(rp))
}

// ImportFramebuffer registers a framebuffer. Like render passes they stay
// owned by the caller.
func (v *Vulkan) ImportFramebuffer(fb vk.Framebuffer) Framebuffer {
	return Framebuffer(v.framebuffers.insert(fb))
}

// RawCommandBuffer returns the vk handle, for callers recording their own commands.
func (v *Vulkan) RawCommandBuffer(cb CommandBuffer) vk.CommandBuffer {
	return v.commandBuffers.get(uint64(cb))
}

// RawFence returns the vk handle, for use in queue submission.
func (v *Vulkan) RawFence(f Fence) vk.Fence {
	return v.fences.get(uint64(f))
}

// RawDescriptorSet returns the vk handle, for binding.
func (v *Vulkan) RawDescriptorSet(s DescriptorSet) vk.DescriptorSet {
	return v.descriptorSets.get(uint64(s))
}

// RawBuffer returns the vk handle, for binding.
func (v *Vulkan) RawBuffer(b Buffer) vk.Buffer {
	return v.buffers.get(uint64(b))
}

// CreateCommandPool implements CommandDevice.
func (v *Vulkan) CreateCommandPool(queueFamily uint32) (CommandPool, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}

	var commandPool vk.CommandPool
	if err := vkError("CreateCommandPool", vk.CreateCommandPool(v.device, &cpci, nil, &commandPool)); err != nil {
		return 0, err
	}
	return CommandPool(v.commandPools.insert(commandPool)), nil
}

// AllocateCommandBuffers implements CommandDevice.
func (v *Vulkan) AllocateCommandBuffers(pool CommandPool, level CommandBufferLevel, count int) ([]CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        v.commandPools.get(uint64(pool)),
		Level:              vk.CommandBufferLevel(level),
		CommandBufferCount: uint32(count),
	}

	raw := make([]vk.CommandBuffer, count)
	if err := vkError("AllocateCommandBuffers", vk.AllocateCommandBuffers(v.device, &cbai, raw)); err != nil {
		return nil, err
	}

	buffers := make([]CommandBuffer, count)
	for i, cb := range raw {
		buffers[i] = CommandBuffer(v.commandBuffers.insert(cb))
	}
	return buffers, nil
}

// ResetCommandBuffer implements CommandDevice.
func (v *Vulkan) ResetCommandBuffer(cb CommandBuffer) error {
	return vkError("ResetCommandBuffer", vk.ResetCommandBuffer(v.commandBuffers.get(uint64(cb)),
		vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit)))
}

// BeginCommandBuffer implements CommandDevice.
func (v *Vulkan) BeginCommandBuffer(cb CommandBuffer, info BeginInfo) error {
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(info.Flags),
	}
	if inh := info.Inheritance; inh != nil {
		cbbi.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{{
			SType:       vk.StructureTypeCommandBufferInheritanceInfo,
			RenderPass:  v.renderPasses.get(uint64(inh.RenderPass)),
			Subpass:     inh.Subpass,
			Framebuffer: v.framebuffers.get(uint64(inh.Framebuffer)),
		}}
	}
	return vkError("BeginCommandBuffer", vk.BeginCommandBuffer(v.commandBuffers.get(uint64(cb)), &cbbi))
}

// EndCommandBuffer implements CommandDevice.
func (v *Vulkan) EndCommandBuffer(cb CommandBuffer) error {
	return vkError("EndCommandBuffer", vk.EndCommandBuffer(v.commandBuffers.get(uint64(cb))))
}

// CmdPipelineBarrier implements CommandDevice.
func (v *Vulkan) CmdPipelineBarrier(cb CommandBuffer, barrier PipelineBarrier) {
	images := make([]vk.ImageMemoryBarrier, len(barrier.Images))
	for i, ib := range barrier.Images {
		images[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(ib.SrcAccess),
			DstAccessMask:       vk.AccessFlags(ib.DstAccess),
			OldLayout:           vk.ImageLayout(ib.OldLayout),
			NewLayout:           vk.ImageLayout(ib.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               v.images.get(uint64(ib.Image)),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(ib.Range.Aspect),
				BaseMipLevel:   ib.Range.BaseMipLevel,
				LevelCount:     ib.Range.LevelCount,
				BaseArrayLayer: ib.Range.BaseArrayLayer,
				LayerCount:     ib.Range.LayerCount,
			},
		}
	}
	buffers := make([]vk.BufferMemoryBarrier, len(barrier.Buffers))
	for i, bb := range barrier.Buffers {
		buffers[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(bb.SrcAccess),
			DstAccessMask:       vk.AccessFlags(bb.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              v.buffers.get(uint64(bb.Buffer)),
			Offset:              vk.DeviceSize(bb.Offset),
			Size:                vk.DeviceSize(bb.Size),
		}
	}
	vk.CmdPipelineBarrier(v.commandBuffers.get(uint64(cb)),
		vk.PipelineStageFlags(barrier.SrcStage), vk.PipelineStageFlags(barrier.DstStage),
		vk.DependencyFlags(barrier.Dependency),
		0, nil,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

// CmdExecuteCommands implements CommandDevice.
func (v *Vulkan) CmdExecuteCommands(primary CommandBuffer, secondaries []CommandBuffer) {
	if len(secondaries) == 0 {
		return
	}
	raw := make([]vk.CommandBuffer, len(secondaries))
	for i, cb := range secondaries {
		raw[i] = v.commandBuffers.get(uint64(cb))
	}
	vk.CmdExecuteCommands(v.commandBuffers.get(uint64(primary)), uint32(len(raw)), raw)
}

// CreateFence implements Synchronizer.
func (v *Vulkan) CreateFence(signaled bool) (Fence, error) {
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if err := vkError("CreateFence", vk.CreateFence(v.device, &fci, nil, &fence)); err != nil {
		return 0, err
	}
	return Fence(v.fences.insert(fence)), nil
}

func (v *Vulkan) rawFences(fences []Fence) []vk.Fence {
	raw := make([]vk.Fence, len(fences))
	for i, f := range fences {
		raw[i] = v.fences.get(uint64(f))
	}
	return raw
}

// WaitForFences implements Synchronizer.
func (v *Vulkan) WaitForFences(fences []Fence, timeout time.Duration) error {
	nanos := uint64(math.MaxUint64)
	if timeout >= 0 {
		nanos = uint64(timeout.Nanoseconds())
	}
	raw := v.rawFences(fences)
	result := vk.WaitForFences(v.device, uint32(len(raw)), raw, vk.True, uint(nanos))
	if result == vk.Timeout {
		return fmt.Errorf("vk.WaitForFences(): %w", ErrTimeout)
	}
	return vkError("WaitForFences", result)
}

// ResetFences implements Synchronizer.
func (v *Vulkan) ResetFences(fences []Fence) error {
	raw := v.rawFences(fences)
	return vkError("ResetFences", vk.ResetFences(v.device, uint32(len(raw)), raw))
}

// WaitIdle implements Synchronizer.
func (v *Vulkan) WaitIdle() error {
	return vkError("DeviceWaitIdle", vk.DeviceWaitIdle(v.device))
}

// DestroyBuffer implements Destroyer.
func (v *Vulkan) DestroyBuffer(b Buffer) {
	vk.DestroyBuffer(v.device, v.buffers.remove(uint64(b)), nil)
}

// DestroyImage implements Destroyer.
func (v *Vulkan) DestroyImage(i Image) {
	vk.DestroyImage(v.device, v.images.remove(uint64(i)), nil)
}

// DestroyImageView implements Destroyer.
func (v *Vulkan) DestroyImageView(iv ImageView) {
	vk.DestroyImageView(v.device, v.imageViews.remove(uint64(iv)), nil)
}

// FreeDescriptorSets implements Destroyer.
func (v *Vulkan) FreeDescriptorSets(pool DescriptorPool, sets []DescriptorSet) {
	if len(sets) == 0 {
		return
	}
	raw := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		raw[i] = v.descriptorSets.remove(uint64(s))
	}
	vk.FreeDescriptorSets(v.device, v.pools.get(uint64(pool)), uint32(len(raw)), &raw[0])
}

// DestroyDescriptorPool implements Destroyer.
func (v *Vulkan) DestroyDescriptorPool(pool DescriptorPool) {
	vk.DestroyDescriptorPool(v.device, v.pools.remove(uint64(pool)), nil)
}

// DestroyDescriptorSetLayout implements Destroyer.
func (v *Vulkan) DestroyDescriptorSetLayout(l DescriptorSetLayout) {
	vk.DestroyDescriptorSetLayout(v.device, v.layouts.remove(uint64(l)), nil)
}

// DestroyFence implements Destroyer.
func (v *Vulkan) DestroyFence(f Fence) {
	vk.DestroyFence(v.device, v.fences.remove(uint64(f)), nil)
}

// DestroySemaphore implements Destroyer.
func (v *Vulkan) DestroySemaphore(s Semaphore) {
	vk.DestroySemaphore(v.device, v.semaphores.remove(uint64(s)), nil)
}

// FreeCommandBuffers implements Destroyer.
func (v *Vulkan) FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	raw := make([]vk.CommandBuffer, len(buffers))
	for i, cb := range buffers {
		raw[i] = v.commandBuffers.remove(uint64(cb))
	}
	vk.FreeCommandBuffers(v.device, v.commandPools.get(uint64(pool)), uint32(len(raw)), raw)
}

// DestroyCommandPool implements Destroyer.
func (v *Vulkan) DestroyCommandPool(pool CommandPool) {
	vk.DestroyCommandPool(v.device, v.commandPools.remove(uint64(pool)), nil)
}

// UnmapMemory implements Destroyer.
func (v *Vulkan) UnmapMemory(mem DeviceMemory) {
	vk.UnmapMemory(v.device, v.memory.get(uint64(mem)))
}

// FreeMemory implements Destroyer.
func (v *Vulkan) FreeMemory(mem DeviceMemory) {
	vk.FreeMemory(v.device, v.memory.remove(uint64(mem)), nil)
}

var _ Device = (*Vulkan)(nil)
