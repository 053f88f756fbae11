// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package execute resolves the resources a draw call refers to into the
// device objects of the current frame, right before the draw is recorded.
package execute

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruframe/device"
)

// Viewport is a device viewport.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Rect is an integer rectangle, used for clips and scissors.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// Extent is the size of the canvas being rendered to.
type Extent struct {
	Width, Height uint32
}

// AddressMode selects the sampler a texture is bound with.
type AddressMode int

// Sampler address modes
const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
	addressModeCount
)

// Slots is the number of texture and uniform bindings of a draw.
const Slots = 2

// ExecuteBuffer carries the resolved state of one draw call.
type ExecuteBuffer struct {
	Buffer       device.Buffer
	BufferOffset uint64

	SamplerDescriptors [Slots]device.DescriptorSet
	TextureDescriptors [Slots]device.DescriptorSet
	UniformDescriptors [Slots]device.DescriptorSet

	IndexBuffer device.Buffer

	EstimatedRenderCalls int

	ClearColorInRenderThread bool
	ClearColor               mgl32.Vec4

	HasDynamicState bool
	Viewport        Viewport
	Scissor         Rect
}

// Reset clears the buffer for the next draw.
func (e *ExecuteBuffer) Reset() {
	*e = ExecuteBuffer{}
}
