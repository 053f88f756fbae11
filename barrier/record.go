// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package barrier

import "github.com/devblok/koruframe/device"

// Recorder is the part of the device needed to record barriers.
type Recorder interface {
	CmdPipelineBarrier(device.CommandBuffer, device.PipelineBarrier)
}

// ColorRange covers the first mip level and array layer of a color image.
var ColorRange = device.SubresourceRange{
	Aspect:     device.ImageAspectColor,
	LevelCount: 1,
	LayerCount: 1,
}

// Image builds the pipeline barrier transitioning image over subresources.
func (p *Policy) Image(image device.Image, subresources device.SubresourceRange, from, to device.ImageLayout) device.PipelineBarrier {
	b := p.For(from, to)
	if b.Aspect != 0 {
		subresources.Aspect = b.Aspect
	}
	return device.PipelineBarrier{
		SrcStage:   b.SrcStage,
		DstStage:   b.DstStage,
		Dependency: b.Dependency(),
		Images: []device.ImageBarrier{{
			Image:     image,
			OldLayout: from,
			NewLayout: to,
			SrcAccess: b.SrcAccess,
			DstAccess: b.DstAccess,
			Range:     subresources,
		}},
	}
}

// Record records the image transition into cb.
func (p *Policy) Record(rec Recorder, cb device.CommandBuffer, image device.Image, subresources device.SubresourceRange, from, to device.ImageLayout) {
	rec.CmdPipelineBarrier(cb, p.Image(image, subresources, from, to))
}

// Buffer builds the barrier around a transfer into a vertex input buffer.
// Before the transfer, prior accesses of kind access finish before the
// transfer writes. After it, the transfer's writes become visible to access.
func Buffer(buffer device.Buffer, offset, size uint64, access device.AccessFlags, beforeCommand bool) device.PipelineBarrier {
	bb := device.BufferBarrier{
		Buffer: buffer,
		Offset: offset,
		Size:   size,
	}
	var src, dst device.PipelineStageFlags
	if beforeCommand {
		bb.SrcAccess = access
		bb.DstAccess = device.AccessTransferWrite
		src, dst = device.PipelineStageVertexInput, device.PipelineStageTransfer
	} else {
		bb.SrcAccess = device.AccessTransferWrite
		bb.DstAccess = access
		src, dst = device.PipelineStageTransfer, device.PipelineStageVertexInput
	}
	return device.PipelineBarrier{
		SrcStage: src,
		DstStage: dst,
		Buffers:  []device.BufferBarrier{bb},
	}
}

// RecordBuffer records a buffer barrier into cb.
func RecordBuffer(rec Recorder, cb device.CommandBuffer, buffer device.Buffer, offset, size uint64, access device.AccessFlags, beforeCommand bool) {
	rec.CmdPipelineBarrier(cb, Buffer(buffer, offset, size, access, beforeCommand))
}
