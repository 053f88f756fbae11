// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/reclaim"
)

type slotLog struct {
	counts  []int
	indices []int
}

func (l *slotLog) SetFrameCount(n int)    { l.counts = append(l.counts, n) }
func (l *slotLog) SetFrameIndex(slot int) { l.indices = append(l.indices, slot) }

func TestFrameDriverCyclesSlots(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 3})
	component := &slotLog{}
	driver, err := core.NewFrameDriver(rec, sink, core.FrameDriverConfig{FrameCount: 3}, component)
	c.Assert(err, qt.IsNil)
	c.Assert(rec.Live(device.KindFence), qt.Equals, 3)

	for i := 0; i < 7; i++ {
		slot, err := driver.Begin()
		c.Assert(err, qt.IsNil)
		c.Assert(slot, qt.Equals, i%3)
		c.Assert(sink.FrameIndex(), qt.Equals, slot)
		rec.Submit(driver.Fence())
	}
	c.Assert(component.indices, qt.DeepEquals, []int{0, 1, 2, 0, 1, 2, 0})
	c.Assert(driver.Frames(), qt.Equals, uint64(7))
}

func TestFrameDriverWaitsForSubmission(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 1})
	driver, err := core.NewFrameDriver(rec, sink, core.FrameDriverConfig{FrameCount: 1})
	c.Assert(err, qt.IsNil)

	_, err = driver.Begin()
	c.Assert(err, qt.IsNil)
	buffer := rec.CreateBuffer()
	sink.FreeBuffer(buffer)

	// nothing was submitted, so the fence never signals and the slot stays
	// in flight together with what was queued in it
	_, err = driver.Begin()
	c.Assert(errors.Is(err, device.ErrTimeout), qt.IsTrue)
	c.Assert(sink.Pending(0), qt.Equals, 1)

	rec.Submit(driver.Fence())
	_, err = driver.Begin()
	c.Assert(err, qt.IsNil)
	c.Assert(sink.Pending(0), qt.Equals, 0)
	c.Assert(rec.Live(device.KindBuffer), qt.Equals, 0)
}

func TestFrameDriverResize(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 2})
	component := &slotLog{}
	driver, err := core.NewFrameDriver(rec, sink, core.FrameDriverConfig{FrameCount: 2}, component)
	c.Assert(err, qt.IsNil)

	for i := 0; i < 2; i++ {
		_, err := driver.Begin()
		c.Assert(err, qt.IsNil)
		sink.FreeBuffer(rec.CreateBuffer())
		rec.Submit(driver.Fence())
	}

	c.Assert(driver.Resize(4), qt.IsNil)
	c.Assert(component.counts, qt.DeepEquals, []int{4})
	c.Assert(driver.FrameCount(), qt.Equals, 4)
	c.Assert(sink.FrameCount(), qt.Equals, 4)
	c.Assert(rec.Live(device.KindBuffer), qt.Equals, 0)
	// the old fences went through the sink, which drained on resize
	c.Assert(rec.Live(device.KindFence), qt.Equals, 4)

	slot, err := driver.Begin()
	c.Assert(err, qt.IsNil)
	c.Assert(slot, qt.Equals, 0)

	c.Assert(func() { driver.Resize(0) }, qt.PanicMatches, `core: frame count 0, need at least one slot`)
}

func TestFrameDriverFenceFailure(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	rec.FailAllocations = true
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 2})
	_, err := core.NewFrameDriver(rec, sink, core.FrameDriverConfig{FrameCount: 2})
	c.Assert(errors.Is(err, device.ErrOutOfHostMemory), qt.IsTrue)
}

func TestFrameDriverRelease(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 2})
	driver, err := core.NewFrameDriver(rec, sink, core.FrameDriverConfig{FrameCount: 2})
	c.Assert(err, qt.IsNil)

	c.Assert(driver.Release(), qt.IsNil)
	c.Assert(rec.Live(device.KindFence), qt.Equals, 2)
	sink.Release()
	c.Assert(rec.LiveTotal(), qt.Equals, 0)
}
