// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package barrier_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruframe/barrier"
	"github.com/devblok/koruframe/device"
)

var layouts = []device.ImageLayout{
	device.ImageLayoutUndefined,
	device.ImageLayoutGeneral,
	device.ImageLayoutColorAttachmentOptimal,
	device.ImageLayoutDepthStencilAttachmentOptimal,
	device.ImageLayoutShaderReadOnlyOptimal,
	device.ImageLayoutTransferSrcOptimal,
	device.ImageLayoutTransferDstOptimal,
	device.ImageLayoutPresentSrc,
}

func TestTableScopes(t *testing.T) {
	c := qt.New(t)

	b := barrier.For(device.ImageLayoutUndefined, device.ImageLayoutTransferDstOptimal)
	c.Assert(b, qt.DeepEquals, barrier.Barrier{
		DstAccess: device.AccessTransferWrite,
		SrcStage:  device.PipelineStageTopOfPipe,
		DstStage:  device.PipelineStageTransfer,
	})

	b = barrier.For(device.ImageLayoutTransferDstOptimal, device.ImageLayoutPresentSrc)
	c.Assert(b.SrcAccess, qt.Equals, device.AccessTransferWrite)
	c.Assert(b.DstAccess, qt.Equals, device.AccessMemoryRead)
	c.Assert(b.DstStage, qt.Equals, device.PipelineStageBottomOfPipe)

	b = barrier.For(device.ImageLayoutShaderReadOnlyOptimal, device.ImageLayoutColorAttachmentOptimal)
	c.Assert(b.SrcAccess, qt.Equals, device.AccessColorAttachmentWrite|device.AccessShaderRead)
	c.Assert(b.SrcStage, qt.Equals, device.PipelineStageColorAttachmentOutput|device.PipelineStageFragmentShader)
	c.Assert(b.Dependency(), qt.Equals, device.DependencyByRegion)

	b = barrier.For(device.ImageLayoutUndefined, device.ImageLayoutDepthStencilAttachmentOptimal)
	c.Assert(b.Aspect, qt.Equals, device.ImageAspectStencil)
	c.Assert(b.SrcStage, qt.Equals, device.PipelineStageAllGraphics)

	c.Assert(barrier.For(device.ImageLayoutUndefined, device.ImageLayoutShaderReadOnlyOptimal), qt.DeepEquals,
		barrier.For(device.ImageLayoutColorAttachmentOptimal, device.ImageLayoutShaderReadOnlyOptimal))
}

func TestTotalOverSupportedPairs(t *testing.T) {
	c := qt.New(t)
	supported := make(map[barrier.Transition]bool)
	for _, tr := range barrier.Default.Supported() {
		supported[tr] = true
	}
	c.Assert(supported, qt.HasLen, 16)

	for _, from := range layouts {
		for _, to := range layouts {
			tr := barrier.Transition{Old: from, New: to}
			if supported[tr] {
				barrier.For(from, to)
				continue
			}
			_, ok := barrier.Default.Lookup(from, to)
			c.Assert(ok, qt.IsFalse, qt.Commentf("%s", tr))
			c.Assert(func() { barrier.For(from, to) }, qt.PanicMatches, `barrier: unsupported layout transition .*`)
		}
	}
}

func TestUnsupportedPair(t *testing.T) {
	c := qt.New(t)
	c.Assert(func() {
		barrier.For(device.ImageLayoutShaderReadOnlyOptimal, device.ImageLayoutUndefined)
	}, qt.PanicMatches, `barrier: unsupported layout transition ShaderReadOnlyOptimal -> Undefined`)
}

func TestOffscreenPresentable(t *testing.T) {
	c := qt.New(t)
	p := barrier.NewPolicy(device.ImageLayoutGeneral)

	// the general <-> transfer destination rows are shadowed by the
	// presentable ones listed before them
	b := p.For(device.ImageLayoutTransferDstOptimal, device.ImageLayoutGeneral)
	c.Assert(b.DstStage, qt.Equals, device.PipelineStageBottomOfPipe)
	_, ok := p.Lookup(device.ImageLayoutTransferSrcOptimal, device.ImageLayoutPresentSrc)
	c.Assert(ok, qt.IsFalse)
	c.Assert(len(p.Supported()) < len(barrier.Default.Supported()), qt.IsTrue)
}

func TestRecordImage(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := rec.CreateCommandPool(0)
	bufs, _ := rec.AllocateCommandBuffers(pool, device.CommandBufferLevelPrimary, 1)
	c.Assert(rec.BeginCommandBuffer(bufs[0], device.BeginInfo{}), qt.IsNil)

	depth := rec.CreateImage()
	pb := barrier.Default.Image(depth, barrier.ColorRange,
		device.ImageLayoutUndefined, device.ImageLayoutDepthStencilAttachmentOptimal)
	c.Assert(pb.Images, qt.HasLen, 1)
	c.Assert(pb.Images[0].Range.Aspect, qt.Equals, device.ImageAspectStencil)
	c.Assert(pb.Images[0].NewLayout, qt.Equals, device.ImageLayoutDepthStencilAttachmentOptimal)

	barrier.Default.Record(rec, bufs[0], depth, barrier.ColorRange,
		device.ImageLayoutUndefined, device.ImageLayoutDepthStencilAttachmentOptimal)
	calls := rec.Calls()
	c.Assert(calls[len(calls)-1], qt.Equals, device.Call{Op: "Barrier", Kind: device.KindImage, Handle: uint64(depth)})
}

func TestBufferBarrier(t *testing.T) {
	c := qt.New(t)

	before := barrier.Buffer(3, 16, 64, device.AccessVertexAttributeRead, true)
	c.Assert(before.SrcStage, qt.Equals, device.PipelineStageVertexInput)
	c.Assert(before.DstStage, qt.Equals, device.PipelineStageTransfer)
	c.Assert(before.Buffers, qt.DeepEquals, []device.BufferBarrier{{
		Buffer:    3,
		SrcAccess: device.AccessVertexAttributeRead,
		DstAccess: device.AccessTransferWrite,
		Offset:    16,
		Size:      64,
	}})

	after := barrier.Buffer(3, 16, 64, device.AccessVertexAttributeRead, false)
	c.Assert(after.SrcStage, qt.Equals, device.PipelineStageTransfer)
	c.Assert(after.DstStage, qt.Equals, device.PipelineStageVertexInput)
	c.Assert(after.Buffers[0].SrcAccess, qt.Equals, device.AccessTransferWrite)
	c.Assert(after.Buffers[0].DstAccess, qt.Equals, device.AccessVertexAttributeRead)
}

func BenchmarkFor(b *testing.B) {
	for i := 0; i < b.N; i++ {
		barrier.For(device.ImageLayoutTransferDstOptimal, device.ImageLayoutShaderReadOnlyOptimal)
	}
}
