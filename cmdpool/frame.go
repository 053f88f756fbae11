// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cmdpool

import (
	"sort"
	"sync"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
)

type subpassBuffers struct {
	orders  []int
	buffers []device.CommandBuffer
}

func (s *subpassBuffers) insert(order int, cb device.CommandBuffer) {
	i := sort.SearchInts(s.orders, order)
	if i < len(s.orders) && s.orders[i] == order {
		s.buffers[i] = cb
		return
	}
	s.orders = append(s.orders, 0)
	copy(s.orders[i+1:], s.orders[i:])
	s.orders[i] = order
	s.buffers = append(s.buffers, 0)
	copy(s.buffers[i+1:], s.buffers[i:])
	s.buffers[i] = cb
}

type framePass struct {
	kind      core.RenderPassType
	subpasses []subpassBuffers
}

// Frame collects the secondary buffers recorded for one frame, per render
// pass and subpass, sorted by the order the caller gave them. Secondaries
// may be recorded on any goroutine.
type Frame struct {
	mutex  sync.Mutex
	passes []framePass
}

// NewFrame creates an empty Frame.
func NewFrame() *Frame {
	return &Frame{}
}

func (f *Frame) register(pass int, kind core.RenderPassType, subpass, order int, cb device.CommandBuffer) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for len(f.passes) <= pass {
		f.passes = append(f.passes, framePass{})
	}
	p := &f.passes[pass]
	p.kind = kind
	for len(p.subpasses) <= subpass {
		p.subpasses = append(p.subpasses, subpassBuffers{})
	}
	p.subpasses[subpass].insert(order, cb)
}

// Passes returns the number of render passes registered so far.
func (f *Frame) Passes() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.passes)
}

// PassType returns the type of render pass pass.
func (f *Frame) PassType(pass int) core.RenderPassType {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if pass >= len(f.passes) {
		return core.RenderPassSingle
	}
	return f.passes[pass].kind
}

// Subpasses returns the number of subpasses registered for pass.
func (f *Frame) Subpasses(pass int) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if pass >= len(f.passes) {
		return 0
	}
	return len(f.passes[pass].subpasses)
}

// Buffers returns the secondaries of a subpass in execution order.
func (f *Frame) Buffers(pass, subpass int) []device.CommandBuffer {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if pass >= len(f.passes) || subpass >= len(f.passes[pass].subpasses) {
		return nil
	}
	return append([]device.CommandBuffer(nil), f.passes[pass].subpasses[subpass].buffers...)
}

// Executor records secondary buffers into a primary one.
type Executor interface {
	CmdExecuteCommands(primary device.CommandBuffer, secondaries []device.CommandBuffer)
}

// Execute records the subpass's secondaries into primary, in order.
func (f *Frame) Execute(exec Executor, primary device.CommandBuffer, pass, subpass int) {
	if buffers := f.Buffers(pass, subpass); len(buffers) > 0 {
		exec.CmdExecuteCommands(primary, buffers)
	}
}

// Reset forgets every registration.
func (f *Frame) Reset() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.passes = f.passes[:0]
}
