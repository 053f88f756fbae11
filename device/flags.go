// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import "strconv"

// The values below are the Vulkan ones, so backends can convert by a plain cast.

// ImageLayout is the memory organisation an image is currently in.
type ImageLayout uint32

// Image layouts
const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

var layoutNames = map[ImageLayout]string{
	ImageLayoutUndefined:                     "Undefined",
	ImageLayoutGeneral:                       "General",
	ImageLayoutColorAttachmentOptimal:        "ColorAttachmentOptimal",
	ImageLayoutDepthStencilAttachmentOptimal: "DepthStencilAttachmentOptimal",
	ImageLayoutShaderReadOnlyOptimal:         "ShaderReadOnlyOptimal",
	ImageLayoutTransferSrcOptimal:            "TransferSrcOptimal",
	ImageLayoutTransferDstOptimal:            "TransferDstOptimal",
	ImageLayoutPresentSrc:                    "PresentSrc",
}

func (l ImageLayout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return "ImageLayout(" + strconv.FormatUint(uint64(l), 10) + ")"
}

// AccessFlags is a bitmask of memory access types.
type AccessFlags uint32

// Access flag bits
const (
	AccessShaderRead           AccessFlags = 0x00000020
	AccessColorAttachmentWrite AccessFlags = 0x00000100
	AccessTransferRead         AccessFlags = 0x00000800
	AccessTransferWrite        AccessFlags = 0x00001000
	AccessMemoryRead           AccessFlags = 0x00008000
	AccessMemoryWrite          AccessFlags = 0x00010000
	AccessVertexAttributeRead  AccessFlags = 0x00000004
	AccessIndexRead            AccessFlags = 0x00000002
	AccessUniformRead          AccessFlags = 0x00000008
)

// PipelineStageFlags is a bitmask of pipeline stages.
type PipelineStageFlags uint32

// Pipeline stage bits
const (
	PipelineStageTopOfPipe             PipelineStageFlags = 0x00000001
	PipelineStageVertexInput           PipelineStageFlags = 0x00000004
	PipelineStageFragmentShader        PipelineStageFlags = 0x00000080
	PipelineStageColorAttachmentOutput PipelineStageFlags = 0x00000400
	PipelineStageTransfer              PipelineStageFlags = 0x00001000
	PipelineStageBottomOfPipe          PipelineStageFlags = 0x00002000
	PipelineStageAllGraphics           PipelineStageFlags = 0x00008000
)

// DependencyFlags modifies how a barrier forms its dependency.
type DependencyFlags uint32

// DependencyByRegion makes a barrier framebuffer-local.
const DependencyByRegion DependencyFlags = 0x00000001

// ImageAspectFlags selects color, depth or stencil data of an image.
type ImageAspectFlags uint32

// Image aspects
const (
	ImageAspectColor   ImageAspectFlags = 0x1
	ImageAspectDepth   ImageAspectFlags = 0x2
	ImageAspectStencil ImageAspectFlags = 0x4
)

// CommandBufferUsageFlags describe how a recording will be used.
type CommandBufferUsageFlags uint32

// Usage bits
const (
	CommandBufferUsageOneTimeSubmit      CommandBufferUsageFlags = 0x1
	CommandBufferUsageRenderPassContinue CommandBufferUsageFlags = 0x2
	CommandBufferUsageSimultaneousUse    CommandBufferUsageFlags = 0x4
)
