// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cmdpool

import (
	"fmt"
	"sync/atomic"

	"github.com/devblok/koruframe/device"
)

// AutoCommandBuffer is a buffer borrowed from a Pool while it records.
type AutoCommandBuffer struct {
	pool   *Pool
	buffer device.CommandBuffer
	level  device.CommandBufferLevel
	ended  atomic.Bool
}

// Buffer returns the recording buffer.
func (a *AutoCommandBuffer) Buffer() device.CommandBuffer {
	return a.buffer
}

// Level returns whether the buffer is primary or secondary.
func (a *AutoCommandBuffer) Level() device.CommandBufferLevel {
	return a.level
}

// End finishes the recording and hands the buffer back to the pool, which
// reuses it once the current frame slot is cleared. Ending twice panics.
// The buffer goes back to the pool even if ending reports an error.
func (a *AutoCommandBuffer) End() error {
	if !a.ended.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("cmdpool: command buffer %#x ended twice", uint64(a.buffer)))
	}
	err := a.pool.dev.EndCommandBuffer(a.buffer)
	a.pool.finish(a.buffer, a.level)
	return err
}
