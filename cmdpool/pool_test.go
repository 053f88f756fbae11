// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cmdpool_test

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruframe/cmdpool"
	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/reclaim"
)

type setup struct {
	passes       map[core.RenderPassType]device.RenderPass
	framebuffers map[core.RenderPassType][]device.Framebuffer
}

func newSetup(rec *device.Recorder, images int) *setup {
	s := &setup{
		passes:       make(map[core.RenderPassType]device.RenderPass),
		framebuffers: make(map[core.RenderPassType][]device.Framebuffer),
	}
	for _, kind := range []core.RenderPassType{core.RenderPassSingle, core.RenderPassSwitching1, core.RenderPassSwitching2} {
		s.passes[kind] = rec.CreateRenderPass()
		for i := 0; i < images; i++ {
			s.framebuffers[kind] = append(s.framebuffers[kind], rec.CreateFramebuffer())
		}
	}
	return s
}

func (s *setup) RenderPass(kind core.RenderPassType) device.RenderPass {
	return s.passes[kind]
}

func (s *setup) Framebuffer(kind core.RenderPassType, imageIndex uint32) device.Framebuffer {
	return s.framebuffers[kind][imageIndex]
}

func newPool(c *qt.C, rec *device.Recorder, frames int) (*cmdpool.Pool, *reclaim.Sink) {
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: frames})
	pool, err := cmdpool.NewPool(rec, sink, cmdpool.Config{
		DefaultPrimary:   1,
		DefaultSecondary: 2,
		FrameCount:       frames,
	})
	c.Assert(err, qt.IsNil)
	return pool, sink
}

func TestPrimaryBufferLifecycle(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := newPool(c, rec, 2)

	guard, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(err, qt.IsNil)
	cb := guard.Buffer()
	c.Assert(rec.Recording(cb), qt.IsTrue)
	c.Assert(rec.BeginInfo(cb), qt.DeepEquals, device.BeginInfo{Flags: device.CommandBufferUsageOneTimeSubmit})

	c.Assert(guard.End(), qt.IsNil)
	c.Assert(rec.Recording(cb), qt.IsFalse)
	c.Assert(func() { guard.End() }, qt.PanicMatches, `cmdpool: command buffer .* ended twice`)

	// not reusable until slot 0 is cleared
	next, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(next.Buffer(), qt.Not(qt.Equals), cb)
	c.Assert(next.End(), qt.IsNil)

	pool.SetFrameIndex(1)
	pool.SetFrameIndex(0)
	c.Assert(pool.Free(device.CommandBufferLevelPrimary), qt.Equals, 2)
	again, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Buffer(), qt.Equals, cb, qt.Commentf("free list is FIFO"))
	c.Assert(again.End(), qt.IsNil)
}

func TestDefaultsArePreallocated(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := newPool(c, rec, 2)

	c.Assert(pool.Allocated(device.CommandBufferLevelPrimary), qt.Equals, 1)
	c.Assert(pool.Allocated(device.CommandBufferLevelSecondary), qt.Equals, 2)
	c.Assert(pool.Free(device.CommandBufferLevelPrimary), qt.Equals, 1)
	c.Assert(pool.Free(device.CommandBufferLevelSecondary), qt.Equals, 2)
	c.Assert(rec.Live(device.KindCommandBuffer), qt.Equals, 3)
}

// failingBuffers creates pools but cannot allocate command buffers.
type failingBuffers struct {
	*device.Recorder
}

func (failingBuffers) AllocateCommandBuffers(device.CommandPool, device.CommandBufferLevel, int) ([]device.CommandBuffer, error) {
	return nil, device.ErrOutOfDeviceMemory
}

func TestPreallocationFailureReleasesPool(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 1})

	_, err := cmdpool.NewPool(failingBuffers{rec}, sink, cmdpool.Config{DefaultPrimary: 2, FrameCount: 1})
	c.Assert(errors.Is(err, device.ErrOutOfDeviceMemory), qt.IsTrue)
	c.Assert(rec.Live(device.KindCommandPool), qt.Equals, 1, qt.Commentf("handed to the sink"))
	sink.ClearFrame(0)
	c.Assert(rec.Live(device.KindCommandPool), qt.Equals, 0)
}

func TestGeometricGrowth(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 1})
	pool, err := cmdpool.NewPool(rec, sink, cmdpool.Config{FrameCount: 1})
	c.Assert(err, qt.IsNil)

	var guards []*cmdpool.AutoCommandBuffer
	var sizes []int
	for i := 0; i < 8; i++ {
		g, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
		c.Assert(err, qt.IsNil)
		guards = append(guards, g)
		sizes = append(sizes, pool.Allocated(device.CommandBufferLevelPrimary))
	}
	c.Assert(sizes, qt.DeepEquals, []int{1, 2, 4, 4, 8, 8, 8, 8})
	for _, g := range guards {
		c.Assert(g.End(), qt.IsNil)
	}
}

func TestAllocationFailure(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := newPool(c, rec, 1)

	// the preallocated buffer needs no allocation
	rec.FailAllocations = true
	first, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(err, qt.IsNil)
	_, err = pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(errors.Is(err, device.ErrOutOfDeviceMemory), qt.IsTrue)

	rec.FailAllocations = false
	g, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(g.End(), qt.IsNil)
	c.Assert(first.End(), qt.IsNil)

	rec.FailAllocations = true
	_, err = cmdpool.NewPool(rec, reclaim.NewSink(rec, reclaim.Config{FrameCount: 1}), cmdpool.Config{FrameCount: 1})
	c.Assert(errors.Is(err, device.ErrOutOfHostMemory), qt.IsTrue)
}

func TestSecondaryInheritanceAndOrder(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := newPool(c, rec, 2)
	s := newSetup(rec, 3)
	frame := cmdpool.NewFrame()

	orders := []int{5, 1, 3, 0, 4, 2}
	recorded := make([]device.CommandBuffer, 6)

	var wg sync.WaitGroup
	for _, order := range orders {
		wg.Add(1)
		go func(order int) {
			defer wg.Done()
			err := pool.WithRenderBuffer(device.CommandBufferLevelSecondary, &cmdpool.Secondary{
				Setup:      s,
				PassType:   core.RenderPassSwitching1,
				ImageIndex: 2,
				Pass:       1,
				Order:      order,
				Frame:      frame,
			}, func(cb device.CommandBuffer) error {
				recorded[order] = cb
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}(order)
	}
	wg.Wait()

	c.Assert(frame.Passes(), qt.Equals, 2)
	c.Assert(frame.PassType(1), qt.Equals, core.RenderPassSwitching1)
	c.Assert(frame.Buffers(1, 0), qt.DeepEquals, recorded)
	c.Assert(frame.Buffers(0, 0), qt.HasLen, 0)

	info := rec.BeginInfo(recorded[0])
	c.Assert(info.Flags, qt.Equals, device.CommandBufferUsageOneTimeSubmit|device.CommandBufferUsageRenderPassContinue)
	c.Assert(*info.Inheritance, qt.Equals, device.Inheritance{
		RenderPass:  s.passes[core.RenderPassSwitching1],
		Framebuffer: s.framebuffers[core.RenderPassSwitching1][2],
	})

	primary, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(err, qt.IsNil)
	rec.ResetCalls()
	frame.Execute(rec, primary.Buffer(), 1, 0)
	var executed []device.CommandBuffer
	for _, call := range rec.Calls() {
		executed = append(executed, device.CommandBuffer(call.Handle))
	}
	c.Assert(executed, qt.DeepEquals, recorded)
	c.Assert(primary.End(), qt.IsNil)

	frame.Reset()
	c.Assert(frame.Passes(), qt.Equals, 0)
}

func TestSameOrderReplaces(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := newPool(c, rec, 1)
	frame := cmdpool.NewFrame()
	target := &cmdpool.Secondary{Setup: newSetup(rec, 1), Frame: frame, Subpass: 1}

	var last device.CommandBuffer
	for i := 0; i < 2; i++ {
		c.Assert(pool.WithRenderBuffer(device.CommandBufferLevelSecondary, target, func(cb device.CommandBuffer) error {
			last = cb
			return nil
		}), qt.IsNil)
	}
	c.Assert(frame.Subpasses(0), qt.Equals, 2)
	c.Assert(frame.Buffers(0, 1), qt.DeepEquals, []device.CommandBuffer{last})
	c.Assert(rec.BeginInfo(last).Inheritance.Subpass, qt.Equals, uint32(1))
}

func TestSecondaryNeedsTarget(t *testing.T) {
	c := qt.New(t)
	pool, _ := newPool(c, device.NewRecorder(), 1)
	c.Assert(func() { pool.GetRenderBuffer(device.CommandBufferLevelSecondary, nil) }, qt.PanicMatches,
		`cmdpool: secondary buffer requested without a complete target`)
}

func TestWithRenderBufferEndsOnPanicAndError(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := newPool(c, rec, 2)

	var cb device.CommandBuffer
	c.Assert(func() {
		pool.WithRenderBuffer(device.CommandBufferLevelPrimary, nil, func(b device.CommandBuffer) error {
			cb = b
			panic("draw failed")
		})
	}, qt.PanicMatches, "draw failed")
	c.Assert(rec.Recording(cb), qt.IsFalse)

	boom := errors.New("boom")
	err := pool.WithRenderBuffer(device.CommandBufferLevelPrimary, nil, func(device.CommandBuffer) error {
		return boom
	})
	c.Assert(err, qt.Equals, boom)

	// both wait in slot 0 for reuse
	c.Assert(pool.Free(device.CommandBufferLevelPrimary), qt.Equals, 0)
	pool.SetFrameIndex(1)
	pool.SetFrameIndex(0)
	c.Assert(pool.Free(device.CommandBufferLevelPrimary), qt.Equals, 2)
}

func TestNeverHandedOutBeforeSlotCleared(t *testing.T) {
	c := qt.New(t)
	rng := rand.New(rand.NewSource(42))

	for frames := 1; frames <= 4; frames++ {
		rec := device.NewRecorder()
		pool, _ := newPool(c, rec, frames)

		const (
			free = iota
			outstanding
			waiting
		)
		state := make(map[device.CommandBuffer]int)
		waitingIn := make(map[device.CommandBuffer]int)
		var guards []*cmdpool.AutoCommandBuffer
		slot := 0

		for step := 0; step < 500; step++ {
			switch op := rng.Intn(3); {
			case op == 0 || len(guards) == 0:
				g, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
				c.Assert(err, qt.IsNil)
				c.Assert(state[g.Buffer()], qt.Equals, free, qt.Commentf("step %d", step))
				state[g.Buffer()] = outstanding
				guards = append(guards, g)
			case op == 1:
				n := rng.Intn(len(guards))
				g := guards[n]
				guards = append(guards[:n], guards[n+1:]...)
				c.Assert(g.End(), qt.IsNil)
				state[g.Buffer()] = waiting
				waitingIn[g.Buffer()] = slot
			default:
				slot = (slot + 1) % frames
				pool.SetFrameIndex(slot)
				for cb, s := range waitingIn {
					if s == slot {
						state[cb] = free
						delete(waitingIn, cb)
					}
				}
			}
		}
		for _, g := range guards {
			c.Assert(g.End(), qt.IsNil)
		}
	}
}

func TestSetFrameCountRecyclesEverything(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, _ := newPool(c, rec, 3)

	for slot := 0; slot < 3; slot++ {
		pool.SetFrameIndex(slot)
		g, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
		c.Assert(err, qt.IsNil)
		c.Assert(g.End(), qt.IsNil)
	}
	allocated := pool.Allocated(device.CommandBufferLevelPrimary)
	pool.SetFrameCount(2)
	c.Assert(pool.Free(device.CommandBufferLevelPrimary), qt.Equals, allocated)
	c.Assert(func() { pool.SetFrameIndex(2) }, qt.PanicMatches, `cmdpool: frame slot 2 out of range \[0, 2\)`)
}

func TestReleaseSurrendersToSink(t *testing.T) {
	c := qt.New(t)
	rec := device.NewRecorder()
	pool, sink := newPool(c, rec, 2)

	g, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(func() { pool.Release() }, qt.PanicMatches, `cmdpool: pool released with 1 buffers still recording`)
	c.Assert(g.End(), qt.IsNil)

	pool.Release()
	c.Assert(rec.Live(device.KindCommandPool), qt.Equals, 1, qt.Commentf("deferred until the slot is cleared"))

	sink.SetFrameIndex(1)
	sink.SetFrameIndex(0)
	c.Assert(rec.Live(device.KindCommandPool), qt.Equals, 0)
	c.Assert(rec.Live(device.KindCommandBuffer), qt.Equals, 0)
	c.Assert(rec.Destroyed()[len(rec.Destroyed())-1], qt.Equals, device.KindCommandPool)

	c.Assert(func() { pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil) }, qt.PanicMatches, `cmdpool: buffer requested from a released pool`)
}

func BenchmarkGetRenderBuffer(b *testing.B) {
	rec := device.NewRecorder()
	sink := reclaim.NewSink(rec, reclaim.Config{FrameCount: 2})
	pool, err := cmdpool.NewPool(rec, sink, cmdpool.Config{DefaultPrimary: 8, FrameCount: 2})
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < b.N; i++ {
		g, err := pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
		if err != nil {
			b.Fatal(err)
		}
		g.End()
		pool.SetFrameIndex(i % 2)
	}
}
