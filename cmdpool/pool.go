// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package cmdpool recycles command buffers across frames. Buffers are
// handed out already recording, wrapped in an AutoCommandBuffer whose End
// finishes the recording and queues the buffer for reuse once the current
// frame slot comes around again. Buffers are only destroyed with the pool,
// through the reclaim sink.
package cmdpool

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/reclaim"
)

// Config configures a Pool.
type Config struct {
	QueueFamily uint32

	// DefaultPrimary and DefaultSecondary are allocated when the pool is
	// created, and are the minimum number of buffers allocated at once when
	// the pool runs dry.
	DefaultPrimary   int
	DefaultSecondary int

	// FrameCount is the number of frame slots, at least one.
	FrameCount int

	Logger log.FieldLogger
}

// Setup resolves the render pass objects secondary buffers inherit.
type Setup interface {
	RenderPass(kind core.RenderPassType) device.RenderPass
	Framebuffer(kind core.RenderPassType, imageIndex uint32) device.Framebuffer
}

// Secondary names where a secondary buffer will be executed.
type Secondary struct {
	Setup      Setup
	PassType   core.RenderPassType
	ImageIndex uint32
	Subpass    int
	// Pass is the index of the render pass within the frame.
	Pass int
	// Order places the buffer among the subpass's secondaries.
	Order int
	Frame *Frame
}

type levels [2][]device.CommandBuffer

// NewPool creates the device command pool.
func NewPool(dev device.CommandDevice, sink *reclaim.Sink, cfg Config) (*Pool, error) {
	if cfg.FrameCount < 1 {
		panic(fmt.Sprintf("cmdpool: frame count %d, need at least one slot", cfg.FrameCount))
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}

	pool, err := dev.CreateCommandPool(cfg.QueueFamily)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		dev:       dev,
		sink:      sink,
		log:       cfg.Logger,
		pool:      pool,
		defaults:  [2]int{cfg.DefaultPrimary, cfg.DefaultSecondary},
		reuse:     make([]levels, cfg.FrameCount),
		recording: make(map[device.CommandBuffer]struct{}),
	}
	for _, level := range []device.CommandBufferLevel{device.CommandBufferLevelPrimary, device.CommandBufferLevelSecondary} {
		if p.defaults[level] < 1 {
			continue
		}
		if err := p.grow(level, p.defaults[level]); err != nil {
			p.Release()
			return nil, err
		}
	}
	return p, nil
}

// Pool hands out recording command buffers and takes them back.
// It is safe for concurrent use.
type Pool struct {
	dev  device.CommandDevice
	sink *reclaim.Sink
	log  log.FieldLogger
	pool device.CommandPool

	defaults [2]int

	mutex     sync.Mutex
	free      levels
	allocated [2]int
	current   int
	reuse     []levels
	recording map[device.CommandBuffer]struct{}
	released  bool
}

// acquire pops the oldest free buffer of level, growing the pool if needed.
func (p *Pool) acquire(level device.CommandBufferLevel) (device.CommandBuffer, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.released {
		panic("cmdpool: buffer requested from a released pool")
	}

	if len(p.free[level]) == 0 {
		batch := p.defaults[level]
		if p.allocated[level] > batch {
			batch = p.allocated[level]
		}
		if batch < 1 {
			batch = 1
		}
		if err := p.grow(level, batch); err != nil {
			return 0, err
		}
	}

	cb := p.free[level][0]
	p.free[level] = p.free[level][1:]
	if _, ok := p.recording[cb]; ok {
		panic(fmt.Sprintf("cmdpool: command buffer %#x handed out twice", uint64(cb)))
	}
	p.recording[cb] = struct{}{}
	return cb, nil
}

// grow allocates batch more buffers of level onto its free list. Callers
// hold the mutex, or own the pool exclusively.
func (p *Pool) grow(level device.CommandBufferLevel, batch int) error {
	buffers, err := p.dev.AllocateCommandBuffers(p.pool, level, batch)
	if err != nil {
		return err
	}
	p.free[level] = append(p.free[level], buffers...)
	p.allocated[level] += batch
	p.log.WithFields(log.Fields{
		"level":     level.String(),
		"batch":     batch,
		"allocated": p.allocated[level],
	}).Debug("command pool grown")
	return nil
}

// giveBack returns a buffer whose recording could not start.
func (p *Pool) giveBack(cb device.CommandBuffer, level device.CommandBufferLevel) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.recording, cb)
	p.free[level] = append(p.free[level], cb)
}

// finish moves an ended buffer to the current slot's reuse list.
func (p *Pool) finish(cb device.CommandBuffer, level device.CommandBufferLevel) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.recording, cb)
	p.reuse[p.current][level] = append(p.reuse[p.current][level], cb)
}

// GetRenderBuffer returns a buffer of level that is already recording.
// Secondary buffers need target, they begin with its inheritance and are
// registered into target.Frame.
func (p *Pool) GetRenderBuffer(level device.CommandBufferLevel, target *Secondary) (*AutoCommandBuffer, error) {
	info := device.BeginInfo{Flags: device.CommandBufferUsageOneTimeSubmit}
	if level == device.CommandBufferLevelSecondary {
		if target == nil || target.Setup == nil || target.Frame == nil {
			panic("cmdpool: secondary buffer requested without a complete target")
		}
		info.Flags |= device.CommandBufferUsageRenderPassContinue
		info.Inheritance = &device.Inheritance{
			RenderPass:  target.Setup.RenderPass(target.PassType),
			Subpass:     uint32(target.Subpass),
			Framebuffer: target.Setup.Framebuffer(target.PassType, target.ImageIndex),
		}
	}

	cb, err := p.acquire(level)
	if err != nil {
		return nil, err
	}
	if err := p.dev.ResetCommandBuffer(cb); err != nil {
		p.giveBack(cb, level)
		return nil, err
	}
	if err := p.dev.BeginCommandBuffer(cb, info); err != nil {
		p.giveBack(cb, level)
		return nil, err
	}

	if level == device.CommandBufferLevelSecondary {
		target.Frame.register(target.Pass, target.PassType, target.Subpass, target.Order, cb)
	}

	return &AutoCommandBuffer{
		pool:   p,
		buffer: cb,
		level:  level,
	}, nil
}

// WithRenderBuffer runs fn with a recording buffer and ends the recording
// on every way out of fn, panics included. An error from ending is
// returned when fn itself succeeded.
func (p *Pool) WithRenderBuffer(level device.CommandBufferLevel, target *Secondary, fn func(device.CommandBuffer) error) (err error) {
	guard, err := p.GetRenderBuffer(level, target)
	if err != nil {
		return err
	}
	defer func() {
		if endErr := guard.End(); err == nil {
			err = endErr
		}
	}()
	return fn(guard.Buffer())
}

// SetFrameCount returns every buffer waiting for reuse to the free lists
// and resizes to n slots, making slot 0 current.
func (p *Pool) SetFrameCount(n int) {
	if n < 1 {
		panic(fmt.Sprintf("cmdpool: frame count %d, need at least one slot", n))
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for slot := range p.reuse {
		p.recycle(slot)
	}
	p.reuse = make([]levels, n)
	p.current = 0
}

// SetFrameIndex makes slot current and makes the buffers ended while it was
// last current available again.
func (p *Pool) SetFrameIndex(slot int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if slot < 0 || slot >= len(p.reuse) {
		panic(fmt.Sprintf("cmdpool: frame slot %d out of range [0, %d)", slot, len(p.reuse)))
	}
	p.current = slot
	p.recycle(slot)
}

func (p *Pool) recycle(slot int) {
	for level := range p.reuse[slot] {
		p.free[level] = append(p.free[level], p.reuse[slot][level]...)
		p.reuse[slot][level] = nil
	}
}

// Free returns the number of free buffers of level.
func (p *Pool) Free(level device.CommandBufferLevel) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.free[level])
}

// Allocated returns the number of buffers of level the pool owns.
func (p *Pool) Allocated(level device.CommandBufferLevel) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.allocated[level]
}

// Release surrenders every buffer and the device pool to the sink. All
// recordings must have ended.
func (p *Pool) Release() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.released {
		panic("cmdpool: pool released twice")
	}
	if n := len(p.recording); n > 0 {
		panic(fmt.Sprintf("cmdpool: pool released with %d buffers still recording", n))
	}

	var buffers []device.CommandBuffer
	for level := range p.free {
		buffers = append(buffers, p.free[level]...)
		p.free[level] = nil
	}
	for slot := range p.reuse {
		for level := range p.reuse[slot] {
			buffers = append(buffers, p.reuse[slot][level]...)
			p.reuse[slot][level] = nil
		}
	}
	p.sink.FreeCommandBuffers(p.pool, buffers)
	p.sink.FreeCommandPool(p.pool)
	p.released = true
}
