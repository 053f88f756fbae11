// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package execute

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/handle"
	"github.com/devblok/koruframe/reclaim"
)

// TextureHandle refers to a texture in a Registry. The registry keeps a
// clone of its own, so a texture is retired with RemoveTexture.
type TextureHandle = handle.Index[handle.SelfHeld]

// BufferObjectHandle refers to a buffer object in a Registry.
type BufferObjectHandle = handle.Index[handle.Owned]

// Texture is the set of device objects behind a texture.
type Texture struct {
	Image  device.Image
	View   device.ImageView
	Memory device.DeviceMemory
	// Size is accounted as texture usage from AddTexture until the memory
	// free executes.
	Size uint64

	// Descriptor2D and Descriptor3D are allocated from Pool, whose
	// allocation count is tracked by PoolSize.
	Descriptor2D device.DescriptorSet
	Descriptor3D device.DescriptorSet
	Pool         device.DescriptorPool
	PoolSize     *atomic.Uint64
}

// BufferObject is a vertex buffer living in a region of a device buffer.
type BufferObject struct {
	Buffer device.Buffer
	Offset uint64
	Memory device.DeviceMemory
	// Size is accounted as buffer usage while Memory is owned by the
	// registry.
	Size uint64
}

// StreamUniform is the uniform descriptors of one stream instance.
type StreamUniform struct {
	Sets []device.DescriptorSet
}

// FrameStream is the per frame slot data streamed every frame.
type FrameStream struct {
	VertexBuffer device.Buffer
	VertexOffset uint64
	Uniforms     []StreamUniform
}

type textureEntry struct {
	texture Texture
	self    TextureHandle
}

// Registry holds the bindable resources of a renderer and the per frame
// state draws are resolved against.
type Registry struct {
	sink *reclaim.Sink

	mutex         sync.Mutex
	textures      map[uint64]*textureEntry
	bufferObjects map[uint64]BufferObject
	nextID        uint64

	samplers     [addressModeCount]device.DescriptorSet
	arraySampler device.DescriptorSet

	current int
	streams []FrameStream

	indexBuffer      device.Buffer
	colorAttachments [2][]device.DescriptorSet
	imageIndex       uint32
	currentPass      core.RenderPassType
	clearColor       mgl32.Vec4

	extent          Extent
	dynamicViewport *Rect
}

// NewRegistry creates a Registry with frameCount slots that hands retired
// resources to sink.
func NewRegistry(sink *reclaim.Sink, frameCount int) *Registry {
	return &Registry{
		sink:          sink,
		textures:      make(map[uint64]*textureEntry),
		bufferObjects: make(map[uint64]BufferObject),
		nextID:        1,
		streams:       make([]FrameStream, frameCount),
	}
}

// AddTexture registers t, accounting its memory, and returns the user's
// handle to it.
func (r *Registry) AddTexture(t Texture) TextureHandle {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	id := r.nextID
	r.nextID++
	user := handle.New[handle.SelfHeld](id)
	r.textures[id] = &textureEntry{texture: t, self: user.Clone()}
	if t.Memory != 0 {
		r.sink.Usage().Allocated(reclaim.UsageTexture, t.Size)
	}
	return user
}

// RemoveTexture retires the texture. h must be the last reference besides
// the registry's own, its device objects are destroyed once the current
// frame slot comes around again.
func (r *Registry) RemoveTexture(h TextureHandle) {
	id := h.TeardownWithoutReleasingResource()

	r.mutex.Lock()
	entry, ok := r.textures[id]
	delete(r.textures, id)
	r.mutex.Unlock()
	if !ok {
		panic(fmt.Sprintf("execute: texture %d is not registered", id))
	}

	t := entry.texture
	var sets []device.DescriptorSet
	for _, set := range []device.DescriptorSet{t.Descriptor2D, t.Descriptor3D} {
		if set != 0 {
			sets = append(sets, set)
		}
	}
	if len(sets) > 0 {
		r.sink.FreeDescriptorSets(t.Pool, sets, t.PoolSize)
	}
	if t.View != 0 {
		r.sink.FreeImageView(t.View)
	}
	if t.Image != 0 {
		r.sink.FreeImage(t.Image)
	}
	if t.Memory != 0 {
		r.sink.FreeDeviceMemory(t.Memory, t.Size, reclaim.UsageTexture)
	}
	entry.self.Release()
}

// Texture returns the texture tmp refers to.
func (r *Registry) Texture(tmp handle.Temporary) Texture {
	id := tmp.Raw()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.textures[id]
	if !ok {
		panic(fmt.Sprintf("execute: texture %d is not registered", id))
	}
	return entry.texture
}

// Textures returns the number of registered textures.
func (r *Registry) Textures() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.textures)
}

// AddBufferObject registers a vertex buffer object and accounts its memory.
func (r *Registry) AddBufferObject(b BufferObject) BufferObjectHandle {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	id := r.nextID
	r.nextID++
	r.bufferObjects[id] = b
	if b.Memory != 0 {
		r.sink.Usage().Allocated(reclaim.UsageBuffer, b.Size)
	}
	return handle.New[handle.Owned](id)
}

// RemoveBufferObject retires the buffer object through the sink.
func (r *Registry) RemoveBufferObject(h BufferObjectHandle) {
	id := h.TeardownWithoutReleasingResource()

	r.mutex.Lock()
	b, ok := r.bufferObjects[id]
	delete(r.bufferObjects, id)
	r.mutex.Unlock()
	if !ok {
		panic(fmt.Sprintf("execute: buffer object %d is not registered", id))
	}

	r.sink.FreeBuffer(b.Buffer)
	if b.Memory != 0 {
		r.sink.FreeDeviceMemory(b.Memory, b.Size, reclaim.UsageBuffer)
	}
}

// BufferObject returns the buffer object tmp refers to.
func (r *Registry) BufferObject(tmp handle.Temporary) BufferObject {
	id := tmp.Raw()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	b, ok := r.bufferObjects[id]
	if !ok {
		panic(fmt.Sprintf("execute: buffer object %d is not registered", id))
	}
	return b
}

// SetSamplers sets the sampler descriptors per address mode and the one
// used for 2D array textures.
func (r *Registry) SetSamplers(repeat, clampToEdge, array device.DescriptorSet) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.samplers[AddressRepeat] = repeat
	r.samplers[AddressClampToEdge] = clampToEdge
	r.arraySampler = array
}

// SetFrameStream sets the streamed data of slot.
func (r *Registry) SetFrameStream(slot int, s FrameStream) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.checkSlot(slot)
	r.streams[slot] = s
}

// SetIndexBuffer sets the shared index buffer.
func (r *Registry) SetIndexBuffer(b device.Buffer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.indexBuffer = b
}

// SetColorAttachments sets, per swapchain image, the descriptors sampling
// the two images of the switching passes.
func (r *Registry) SetColorAttachments(first, second []device.DescriptorSet) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.colorAttachments = [2][]device.DescriptorSet{first, second}
}

// SetRenderTarget sets the swapchain image and the render pass being recorded.
func (r *Registry) SetRenderTarget(imageIndex uint32, pass core.RenderPassType) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.imageIndex = imageIndex
	r.currentPass = pass
}

// SetClearColor sets the color the render pass clears to when it begins.
func (r *Registry) SetClearColor(color mgl32.Vec4) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.clearColor = color
}

// SetExtent sets the canvas size.
func (r *Registry) SetExtent(e Extent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.extent = e
}

// SetDynamicViewport restricts rendering to a region of the canvas.
func (r *Registry) SetDynamicViewport(v Rect) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dynamicViewport = &v
}

// DisableDynamicViewport renders to the whole canvas again.
func (r *Registry) DisableDynamicViewport() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dynamicViewport = nil
}

func (r *Registry) checkSlot(slot int) {
	if slot < 0 || slot >= len(r.streams) {
		panic(fmt.Sprintf("execute: frame slot %d out of range [0, %d)", slot, len(r.streams)))
	}
}

// SetFrameCount resizes to n slots, dropping all streamed data.
func (r *Registry) SetFrameCount(n int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.streams = make([]FrameStream, n)
	r.current = 0
}

// SetFrameIndex makes slot the one draws resolve stream data from.
func (r *Registry) SetFrameIndex(slot int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.checkSlot(slot)
	r.current = slot
}

// Release checks that every texture and buffer object was retired. A
// resource still registered at this point was leaked by its user.
func (r *Registry) Release() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.textures) > 0 || len(r.bufferObjects) > 0 {
		panic(fmt.Sprintf("execute: registry released with %d textures and %d buffer objects still registered",
			len(r.textures), len(r.bufferObjects)))
	}
	r.streams = nil
}
