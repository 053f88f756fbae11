// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package device describes the raw device API the lifetime core is built on.
// Every object is referred to by a handle that is an index into an arena
// owned by the backend, tagged with a generation so that a handle outliving
// its object can never alias a newer one. Zero is the null handle of every
// kind.
package device

import (
	"errors"
	"fmt"
	"time"
)

// package errors
var (
	ErrOutOfHostMemory   = errors.New("out of host memory")
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrDeviceLost        = errors.New("device lost")
	ErrTimeout           = errors.New("wait timed out")
)

// Handle types of the objects managed by this module.
type (
	DeviceMemory        uint64
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	DescriptorSet       uint64
	DescriptorPool      uint64
	DescriptorSetLayout uint64
	Fence               uint64
	Semaphore           uint64
	CommandBuffer       uint64
	CommandPool         uint64
	RenderPass          uint64
	Framebuffer         uint64
)

// Kind identifies the type of object a handle refers to.
type Kind int

// Kinds of device objects
const (
	KindDeviceMemory Kind = iota
	KindBuffer
	KindImage
	KindImageView
	KindDescriptorSet
	KindDescriptorPool
	KindDescriptorSetLayout
	KindFence
	KindSemaphore
	KindCommandBuffer
	KindCommandPool
	KindRenderPass
	KindFramebuffer
	// KindMemoryMapping is the host mapping of a DeviceMemory block.
	KindMemoryMapping
)

var kindNames = [...]string{
	KindDeviceMemory:        "device memory",
	KindBuffer:              "buffer",
	KindImage:               "image",
	KindImageView:           "image view",
	KindDescriptorSet:       "descriptor set",
	KindDescriptorPool:      "descriptor pool",
	KindDescriptorSetLayout: "descriptor set layout",
	KindFence:               "fence",
	KindSemaphore:           "semaphore",
	KindCommandBuffer:       "command buffer",
	KindCommandPool:         "command pool",
	KindRenderPass:          "render pass",
	KindFramebuffer:         "framebuffer",
	KindMemoryMapping:       "memory mapping",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// CommandBufferLevel is either primary or secondary
type CommandBufferLevel int

// Command buffer levels, values match the Vulkan enum
const (
	CommandBufferLevelPrimary CommandBufferLevel = iota
	CommandBufferLevelSecondary
)

func (l CommandBufferLevel) String() string {
	if l == CommandBufferLevelSecondary {
		return "secondary"
	}
	return "primary"
}

// Inheritance names the render pass state a secondary command buffer
// continues.
type Inheritance struct {
	RenderPass  RenderPass
	Subpass     uint32
	Framebuffer Framebuffer
}

// BeginInfo is used when starting to record a command buffer.
type BeginInfo struct {
	Flags       CommandBufferUsageFlags
	Inheritance *Inheritance
}

// SubresourceRange selects the part of an image a barrier applies to.
type SubresourceRange struct {
	Aspect         ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// ImageBarrier is a layout transition of an image.
type ImageBarrier struct {
	Image     Image
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Range     SubresourceRange
}

// BufferBarrier orders accesses to a range of a buffer.
type BufferBarrier struct {
	Buffer    Buffer
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Offset    uint64
	Size      uint64
}

// PipelineBarrier is one pipeline barrier command.
type PipelineBarrier struct {
	SrcStage   PipelineStageFlags
	DstStage   PipelineStageFlags
	Dependency DependencyFlags
	Images     []ImageBarrier
	Buffers    []BufferBarrier
}

// Destroyer destroys objects. Destroying an unknown or already destroyed
// handle panics.
type Destroyer interface {
	DestroyBuffer(Buffer)
	DestroyImage(Image)
	DestroyImageView(ImageView)
	FreeDescriptorSets(DescriptorPool, []DescriptorSet)
	DestroyDescriptorPool(DescriptorPool)
	DestroyDescriptorSetLayout(DescriptorSetLayout)
	DestroyFence(Fence)
	DestroySemaphore(Semaphore)
	FreeCommandBuffers(CommandPool, []CommandBuffer)
	DestroyCommandPool(CommandPool)
	UnmapMemory(DeviceMemory)
	FreeMemory(DeviceMemory)
}

// CommandDevice allocates and records command buffers.
type CommandDevice interface {
	CreateCommandPool(queueFamily uint32) (CommandPool, error)
	AllocateCommandBuffers(pool CommandPool, level CommandBufferLevel, count int) ([]CommandBuffer, error)
	ResetCommandBuffer(CommandBuffer) error
	BeginCommandBuffer(CommandBuffer, BeginInfo) error
	EndCommandBuffer(CommandBuffer) error
	CmdPipelineBarrier(CommandBuffer, PipelineBarrier)
	CmdExecuteCommands(primary CommandBuffer, secondaries []CommandBuffer)
}

// Synchronizer waits for work submitted to the device.
type Synchronizer interface {
	CreateFence(signaled bool) (Fence, error)
	// WaitForFences waits for all fences. A negative timeout waits forever.
	WaitForFences(fences []Fence, timeout time.Duration) error
	ResetFences(fences []Fence) error
	WaitIdle() error
}

// Device is the complete raw device API.
type Device interface {
	Destroyer
	CommandDevice
	Synchronizer
}
