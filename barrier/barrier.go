// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package barrier computes the synchronization scopes for image layout
// transitions and buffer transfers. Only transitions listed in the table
// are supported, asking for any other one panics.
package barrier

import (
	"fmt"

	"github.com/devblok/koruframe/device"
)

// Barrier holds the scopes a pipeline barrier needs for one transition.
type Barrier struct {
	SrcAccess       device.AccessFlags
	DstAccess       device.AccessFlags
	SrcStage        device.PipelineStageFlags
	DstStage        device.PipelineStageFlags
	NeedsDependency bool
	// Aspect overrides the aspect of the recorded image barrier when set.
	Aspect device.ImageAspectFlags
}

// Dependency returns the dependency flags to record the barrier with.
func (b Barrier) Dependency() device.DependencyFlags {
	if b.NeedsDependency {
		return device.DependencyByRegion
	}
	return 0
}

// Transition is a pair of layouts.
type Transition struct {
	Old device.ImageLayout
	New device.ImageLayout
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s", t.Old, t.New)
}

type entry struct {
	transition Transition
	barrier    Barrier
}

// Policy is a transition table built for one presentable layout.
type Policy struct {
	presentable device.ImageLayout
	table       map[Transition]Barrier
	order       []Transition
}

// Default uses PresentSrc as the presentable layout.
var Default = NewPolicy(device.ImageLayoutPresentSrc)

// NewPolicy builds the table with presentable as the layout swapchain
// images are handed to the presentation engine in. Offscreen setups pass
// the layout their final image is read back in. When a pair appears twice
// the earlier row wins.
func NewPolicy(presentable device.ImageLayout) *Policy {
	const (
		undefined      = device.ImageLayoutUndefined
		general        = device.ImageLayoutGeneral
		colorAttach    = device.ImageLayoutColorAttachmentOptimal
		depthStencil   = device.ImageLayoutDepthStencilAttachmentOptimal
		shaderReadOnly = device.ImageLayoutShaderReadOnlyOptimal
		transferSrc    = device.ImageLayoutTransferSrcOptimal
		transferDst    = device.ImageLayoutTransferDstOptimal

		shaderRead   = device.AccessShaderRead
		colorWrite   = device.AccessColorAttachmentWrite
		transferRead = device.AccessTransferRead
		transferW    = device.AccessTransferWrite
		memoryRead   = device.AccessMemoryRead
		memoryWrite  = device.AccessMemoryWrite

		topOfPipe    = device.PipelineStageTopOfPipe
		fragment     = device.PipelineStageFragmentShader
		colorOutput  = device.PipelineStageColorAttachmentOutput
		transfer     = device.PipelineStageTransfer
		bottomOfPipe = device.PipelineStageBottomOfPipe
		allGraphics  = device.PipelineStageAllGraphics
	)

	rows := []entry{
		{Transition{undefined, transferDst}, Barrier{0, transferW, topOfPipe, transfer, false, 0}},
		{Transition{transferDst, shaderReadOnly}, Barrier{transferW, shaderRead, transfer, fragment, false, 0}},
		{Transition{shaderReadOnly, transferDst}, Barrier{shaderRead, transferW, fragment, transfer, false, 0}},
		{Transition{transferSrc, presentable}, Barrier{transferRead, memoryRead, transfer, bottomOfPipe, false, 0}},
		{Transition{presentable, transferSrc}, Barrier{memoryRead, transferRead, bottomOfPipe, transfer, false, 0}},
		{Transition{presentable, transferDst}, Barrier{memoryRead, transferW, bottomOfPipe, transfer, false, 0}},
		{Transition{transferDst, presentable}, Barrier{transferW, memoryRead, transfer, bottomOfPipe, false, 0}},
		{Transition{colorAttach, transferSrc}, Barrier{colorWrite, transferRead, colorOutput, transfer, false, 0}},
		{Transition{transferSrc, colorAttach}, Barrier{transferRead, colorWrite, transfer, colorOutput, false, 0}},
		{Transition{undefined, general}, Barrier{0, memoryRead, topOfPipe, transfer, false, 0}},
		{Transition{general, transferDst}, Barrier{memoryRead, transferW, transfer, transfer, false, 0}},
		{Transition{transferDst, general}, Barrier{transferW, memoryRead, transfer, transfer, false, 0}},
		{Transition{colorAttach, shaderReadOnly}, Barrier{colorWrite, shaderRead, colorOutput, fragment, true, 0}},
		{Transition{undefined, shaderReadOnly}, Barrier{colorWrite, shaderRead, colorOutput, fragment, true, 0}},
		{Transition{shaderReadOnly, colorAttach}, Barrier{colorWrite | shaderRead, colorWrite, colorOutput | fragment, colorOutput, true, 0}},
		{Transition{undefined, depthStencil}, Barrier{memoryWrite | memoryRead, memoryWrite | memoryRead, allGraphics, allGraphics, true, device.ImageAspectStencil}},
	}

	p := &Policy{
		presentable: presentable,
		table:       make(map[Transition]Barrier, len(rows)),
	}
	for _, row := range rows {
		if _, ok := p.table[row.transition]; ok {
			continue
		}
		p.table[row.transition] = row.barrier
		p.order = append(p.order, row.transition)
	}
	return p
}

// Presentable returns the layout the policy treats as presentable.
func (p *Policy) Presentable() device.ImageLayout {
	return p.presentable
}

// Lookup returns the barrier for a transition and whether it is supported.
func (p *Policy) Lookup(from, to device.ImageLayout) (Barrier, bool) {
	b, ok := p.table[Transition{from, to}]
	return b, ok
}

// For returns the barrier for a transition. Unsupported transitions panic,
// a guessed barrier would race on the device.
func (p *Policy) For(from, to device.ImageLayout) Barrier {
	b, ok := p.Lookup(from, to)
	if !ok {
		panic(fmt.Sprintf("barrier: unsupported layout transition %s", Transition{from, to}))
	}
	return b
}

// Supported lists every supported transition in table order.
func (p *Policy) Supported() []Transition {
	return append([]Transition(nil), p.order...)
}

// For looks the transition up in the Default policy.
func For(from, to device.ImageLayout) Barrier {
	return Default.For(from, to)
}
