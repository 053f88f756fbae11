// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core holds the pieces shared by the frame pipelined components:
// configuration, the frame driver and the timing services of the loop.
package core

// FrameSlotted is implemented by every component that keeps state per
// frame slot. SetFrameCount is called with the device idle, SetFrameIndex
// only once the slot's previous work has retired on the device.
type FrameSlotted interface {
	SetFrameCount(n int)
	SetFrameIndex(slot int)
}

// Releasable describes components that hand their device objects back on
// teardown.
type Releasable interface {
	Release()
}

// RenderPassType identifies which of the render passes a recording targets.
// Switching passes render into two offscreen images alternately, so one can
// be sampled while the other is drawn into.
type RenderPassType int

// Render pass types
const (
	RenderPassSingle RenderPassType = iota
	RenderPassSwitching1
	RenderPassSwitching2
)

func (t RenderPassType) String() string {
	switch t {
	case RenderPassSingle:
		return "single"
	case RenderPassSwitching1:
		return "switching1"
	case RenderPassSwitching2:
		return "switching2"
	}
	return "unknown"
}
