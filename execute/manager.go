// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package execute

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/handle"
)

// Manager fills an ExecuteBuffer for one draw from a Registry.
type Manager struct {
	reg  *Registry
	exec *ExecuteBuffer
}

// NewManager creates a Manager writing into exec.
func NewManager(reg *Registry, exec *ExecuteBuffer) *Manager {
	return &Manager{reg: reg, exec: exec}
}

func checkBinding(slot int) {
	if slot < 0 || slot >= Slots {
		panic(fmt.Sprintf("execute: binding slot %d out of range [0, %d)", slot, Slots))
	}
}

// SetTexture binds a 2D texture and the sampler for mode to slot.
func (m *Manager) SetTexture(slot int, tex handle.Temporary, mode AddressMode) {
	checkBinding(slot)
	t := m.reg.Texture(tex)

	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()
	m.exec.TextureDescriptors[slot] = t.Descriptor2D
	m.exec.SamplerDescriptors[slot] = m.reg.samplers[mode]
}

// SetTexture3D binds a texture as a 2D array, with the array sampler.
func (m *Manager) SetTexture3D(slot int, tex handle.Temporary) {
	checkBinding(slot)
	t := m.reg.Texture(tex)

	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()
	m.exec.TextureDescriptors[slot] = t.Descriptor3D
	m.exec.SamplerDescriptors[slot] = m.reg.arraySampler
}

// SetColorAttachmentAsTexture binds the image the other switching pass
// rendered into for the current swapchain image.
func (m *Manager) SetColorAttachmentAsTexture(slot int, mode AddressMode) {
	checkBinding(slot)
	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()

	attachments := m.reg.colorAttachments[0]
	if m.reg.currentPass == core.RenderPassSwitching1 {
		attachments = m.reg.colorAttachments[1]
	}
	if int(m.reg.imageIndex) >= len(attachments) {
		panic(fmt.Sprintf("execute: no color attachment for image %d of pass %s", m.reg.imageIndex, m.reg.currentPass))
	}
	m.exec.TextureDescriptors[slot] = attachments[m.reg.imageIndex]
	m.exec.SamplerDescriptors[slot] = m.reg.samplers[mode]
}

// UsesStreamVertexBuffer draws from the current slot's stream vertex buffer
// at offset.
func (m *Manager) UsesStreamVertexBuffer(offset uint64) {
	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()
	stream := m.reg.streams[m.reg.current]
	m.exec.Buffer = stream.VertexBuffer
	m.exec.BufferOffset = stream.VertexOffset + offset
}

// UsesStreamUniformBuffer binds descriptor descriptorIndex of stream
// instance instance of the current slot to uniform slot uniformIndex.
func (m *Manager) UsesStreamUniformBuffer(uniformIndex, instance, descriptorIndex int) {
	checkBinding(uniformIndex)
	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()
	stream := m.reg.streams[m.reg.current]
	if instance >= len(stream.Uniforms) || descriptorIndex >= len(stream.Uniforms[instance].Sets) {
		panic(fmt.Sprintf("execute: no stream uniform %d/%d in frame slot %d", instance, descriptorIndex, m.reg.current))
	}
	m.exec.UniformDescriptors[uniformIndex] = stream.Uniforms[instance].Sets[descriptorIndex]
}

// UsesIndexBuffer draws indexed with the shared index buffer.
func (m *Manager) UsesIndexBuffer() {
	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()
	m.exec.IndexBuffer = m.reg.indexBuffer
}

// SetVertexBuffer draws from a buffer object.
func (m *Manager) SetVertexBuffer(obj handle.Temporary) {
	m.SetVertexBufferWithOffset(obj, 0)
}

// SetVertexBufferWithOffset draws from a buffer object, starting offset
// bytes into it.
func (m *Manager) SetVertexBufferWithOffset(obj handle.Temporary, offset uint64) {
	b := m.reg.BufferObject(obj)
	m.exec.Buffer = b.Buffer
	m.exec.BufferOffset = b.Offset + offset
}

// ClearColorInRenderThread asks for an explicit clear when forced, or when
// color is not what the render pass clears to anyway.
func (m *Manager) ClearColorInRenderThread(forced bool, color mgl32.Vec4) {
	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()
	m.exec.ClearColorInRenderThread = forced || !color.ApproxEqual(m.reg.clearColor)
	m.exec.ClearColor = color
}

// EstimatedRenderCalls records how many draws the command will record.
func (m *Manager) EstimatedRenderCalls(n int) {
	m.exec.EstimatedRenderCalls = n
}

// FillDynamicStates computes viewport and scissor. clip is nil when the
// draw is not clipped. Without clip and dynamic viewport the pipeline's
// static state is used.
func (m *Manager) FillDynamicStates(clip *Rect) {
	m.reg.mutex.Lock()
	defer m.reg.mutex.Unlock()

	dyn := m.reg.dynamicViewport
	if clip == nil && dyn == nil {
		m.exec.HasDynamicState = false
		return
	}

	extent := m.reg.extent
	viewport := Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	}
	scissor := Rect{Width: extent.Width, Height: extent.Height}

	var offsetX, offsetY int32
	if dyn != nil {
		viewport.X = float32(dyn.X)
		viewport.Y = float32(dyn.Y)
		viewport.Width = float32(dyn.Width)
		viewport.Height = float32(dyn.Height)
		offsetX, offsetY = dyn.X, dyn.Y
	}
	if clip != nil {
		scissor = Rect{
			X:      clip.X + offsetX,
			Y:      clip.Y + offsetY,
			Width:  clip.Width,
			Height: clip.Height,
		}
	}

	viewport.X = mgl32.Clamp(viewport.X, 0, math.MaxFloat32)
	viewport.Y = mgl32.Clamp(viewport.Y, 0, math.MaxFloat32)
	scissor.X = max(scissor.X, 0)
	scissor.Y = max(scissor.Y, 0)

	m.exec.HasDynamicState = true
	m.exec.Viewport = viewport
	m.exec.Scissor = scissor
}
