// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/barrier"
	"github.com/devblok/koruframe/cmdpool"
	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/execute"
	"github.com/devblok/koruframe/reclaim"
)

const (
	swapchainImages = 3
	liveTextures    = 4
	textureSize     = 4096
	streamSize      = 1 << 16
	drawThreads     = 4
)

type stats struct {
	Frames     int
	Destroyed  int64
	Leaked     int
	PeakMemory uint64
	Primaries  int
}

type counter struct {
	n    atomic.Int64
	next reclaim.Observer
}

func (c *counter) Destroyed(ev reclaim.Event) {
	c.n.Add(1)
	if c.next != nil {
		c.next.Destroyed(ev)
	}
}

type setup struct {
	pass         device.RenderPass
	framebuffers []device.Framebuffer
}

func (s *setup) RenderPass(core.RenderPassType) device.RenderPass {
	return s.pass
}

func (s *setup) Framebuffer(_ core.RenderPassType, imageIndex uint32) device.Framebuffer {
	return s.framebuffers[imageIndex]
}

type simulation struct {
	cfg    core.Configuration
	log    log.FieldLogger
	dev    *device.Recorder
	usage  *reclaim.Usage
	sink   *reclaim.Sink
	pool   *cmdpool.Pool
	reg    *execute.Registry
	driver *core.FrameDriver
	setup  *setup

	descriptors device.DescriptorPool
	poolSize    atomic.Uint64
	samplers    []device.DescriptorSet
	swapchain   []device.Image
	stream      device.Buffer
	streamMem   device.DeviceMemory
	index       device.Buffer
	textures    []execute.TextureHandle
}

// simulate runs frames frames, paced by cfg.Time, against a recording
// device and tears everything down again. observer, when not nil, sees
// every destruction.
func simulate(ctx context.Context, cfg core.Configuration, frames int, observer reclaim.Observer, logger log.FieldLogger) (stats, error) {
	s := &simulation{
		cfg:   cfg,
		log:   logger,
		dev:   device.NewRecorder(),
		usage: &reclaim.Usage{},
	}
	destroyed := &counter{next: observer}
	n := cfg.Frames.FramesInFlight

	s.sink = reclaim.NewSink(s.dev, reclaim.Config{
		FrameCount:          n,
		Usage:               s.usage,
		Logger:              logger,
		VerboseDeallocation: cfg.Debug.VerboseDeallocation,
		Observer:            destroyed,
	})

	var err error
	s.pool, err = cmdpool.NewPool(s.dev, s.sink, cmdpool.Config{
		QueueFamily:      cfg.CommandPool.QueueFamily,
		DefaultPrimary:   cfg.CommandPool.PrimaryBuffers,
		DefaultSecondary: cfg.CommandPool.SecondaryBuffers,
		FrameCount:       n,
		Logger:           logger,
	})
	if err != nil {
		return stats{}, err
	}
	s.reg = execute.NewRegistry(s.sink, n)
	if err := s.createStatic(); err != nil {
		return stats{}, err
	}
	s.driver, err = core.NewFrameDriver(s.dev, s.sink, core.FrameDriverConfig{
		FrameCount: n,
		Logger:     logger,
	}, s.pool, s.reg)
	if err != nil {
		return stats{}, err
	}

	pace := core.NewTime(cfg.Time)
	defer pace.Stop()

	var st stats
	for i := 0; i < frames; i++ {
		if err := pace.WaitFrame(ctx); err != nil {
			return st, err
		}
		if i > 0 && i == frames/2 {
			if err := s.driver.Resize(n%core.MaxFramesInFlight + 1); err != nil {
				return st, err
			}
		}
		if err := s.frame(uint32(i % swapchainImages)); err != nil {
			return st, err
		}
		if total := s.usage.Snapshot().Total(); total > st.PeakMemory {
			st.PeakMemory = total
		}
		st.Frames++
	}

	if err := s.teardown(); err != nil {
		return st, err
	}
	st.Destroyed = destroyed.n.Load()
	st.Leaked = s.dev.LiveTotal()
	st.Primaries = s.pool.Allocated(device.CommandBufferLevelPrimary)
	return st, nil
}

func (s *simulation) createStatic() error {
	s.setup = &setup{pass: s.dev.CreateRenderPass()}
	for i := 0; i < swapchainImages; i++ {
		s.setup.framebuffers = append(s.setup.framebuffers, s.dev.CreateFramebuffer())
		s.swapchain = append(s.swapchain, s.dev.CreateImage())
	}

	s.descriptors = s.dev.CreateDescriptorPool()
	var err error
	if s.samplers, err = s.dev.AllocateDescriptorSets(s.descriptors, 3); err != nil {
		return err
	}
	s.poolSize.Add(3)
	s.reg.SetSamplers(s.samplers[0], s.samplers[1], s.samplers[2])

	if s.streamMem, err = s.dev.AllocateMemory(streamSize * core.MaxFramesInFlight); err != nil {
		return err
	}
	s.dev.MapMemory(s.streamMem)
	s.usage.Allocated(reclaim.UsageStream, streamSize*core.MaxFramesInFlight)
	s.stream = s.dev.CreateBuffer()
	s.index = s.dev.CreateBuffer()
	s.reg.SetIndexBuffer(s.index)
	s.reg.SetExtent(execute.Extent{Width: 800, Height: 600})
	s.reg.SetClearColor(mgl32.Vec4{0, 0, 0, 1})
	return nil
}

func (s *simulation) addTexture() (device.Image, error) {
	mem, err := s.dev.AllocateMemory(textureSize)
	if err != nil {
		return 0, err
	}
	sets, err := s.dev.AllocateDescriptorSets(s.descriptors, 2)
	if err != nil {
		return 0, err
	}
	s.poolSize.Add(2)

	image := s.dev.CreateImage()
	h := s.reg.AddTexture(execute.Texture{
		Image:        image,
		View:         s.dev.CreateImageView(),
		Memory:       mem,
		Size:         textureSize,
		Descriptor2D: sets[0],
		Descriptor3D: sets[1],
		Pool:         s.descriptors,
		PoolSize:     &s.poolSize,
	})
	s.textures = append(s.textures, h)
	if len(s.textures) > liveTextures {
		s.reg.RemoveTexture(s.textures[0])
		s.textures = s.textures[1:]
	}
	return image, nil
}

func (s *simulation) frame(imageIndex uint32) error {
	slot, err := s.driver.Begin()
	if err != nil {
		return err
	}
	s.reg.SetFrameStream(slot, execute.FrameStream{
		VertexBuffer: s.stream,
		VertexOffset: uint64(slot) * streamSize,
	})
	s.reg.SetRenderTarget(imageIndex, core.RenderPassSingle)

	uploaded, err := s.addTexture()
	if err != nil {
		return err
	}

	primary, err := s.pool.GetRenderBuffer(device.CommandBufferLevelPrimary, nil)
	if err != nil {
		return err
	}
	cb := primary.Buffer()
	barrier.Default.Record(s.dev, cb, uploaded, barrier.ColorRange, device.ImageLayoutUndefined, device.ImageLayoutTransferDstOptimal)
	barrier.Default.Record(s.dev, cb, uploaded, barrier.ColorRange, device.ImageLayoutTransferDstOptimal, device.ImageLayoutShaderReadOnlyOptimal)

	frame := cmdpool.NewFrame()
	if err := s.draw(frame, imageIndex); err != nil {
		primary.End()
		return err
	}
	frame.Execute(s.dev, cb, 0, 0)

	image := s.swapchain[imageIndex]
	barrier.Default.Record(s.dev, cb, image, barrier.ColorRange, device.ImageLayoutPresentSrc, device.ImageLayoutTransferDstOptimal)
	barrier.Default.Record(s.dev, cb, image, barrier.ColorRange, device.ImageLayoutTransferDstOptimal, device.ImageLayoutPresentSrc)

	if err := primary.End(); err != nil {
		return err
	}
	s.dev.Submit(s.driver.Fence(), cb)
	return nil
}

// draw records one secondary buffer per thread, each resolving a draw
// against a live texture.
func (s *simulation) draw(frame *cmdpool.Frame, imageIndex uint32) error {
	var wg sync.WaitGroup
	errs := make([]error, drawThreads)
	for t := 0; t < drawThreads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			target := &cmdpool.Secondary{
				Setup:      s.setup,
				PassType:   core.RenderPassSingle,
				ImageIndex: imageIndex,
				Order:      t,
				Frame:      frame,
			}
			tex := s.textures[t%len(s.textures)].AsTemporary()
			errs[t] = s.pool.WithRenderBuffer(device.CommandBufferLevelSecondary, target, func(device.CommandBuffer) error {
				exec := &execute.ExecuteBuffer{}
				m := execute.NewManager(s.reg, exec)
				m.SetTexture(0, tex, execute.AddressRepeat)
				m.UsesStreamVertexBuffer(uint64(t) * 256)
				m.UsesIndexBuffer()
				m.ClearColorInRenderThread(false, mgl32.Vec4{0, 0, 0, 1})
				m.EstimatedRenderCalls(1)
				m.FillDynamicStates(&execute.Rect{X: int32(t) * 200, Width: 200, Height: 600})
				return nil
			})
		}(t)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *simulation) teardown() error {
	if err := s.driver.Release(); err != nil {
		return err
	}
	for _, h := range s.textures {
		s.reg.RemoveTexture(h)
	}
	s.textures = nil
	s.reg.Release()
	s.pool.Release()

	s.sink.FreeDescriptorSets(s.descriptors, s.samplers, &s.poolSize)
	s.sink.FreeDescriptorPool(s.descriptors)
	s.sink.FreeBuffer(s.stream)
	s.sink.FreeBuffer(s.index)
	s.sink.UnmapDeviceMemory(s.streamMem)
	s.sink.FreeDeviceMemory(s.streamMem, streamSize*core.MaxFramesInFlight, reclaim.UsageStream)
	for _, image := range s.swapchain {
		s.sink.FreeImage(image)
	}
	s.sink.Release()

	if n := s.poolSize.Load(); n != 0 {
		s.log.WithField("sets", n).Warn("descriptor sets left in pool")
	}
	if total := s.usage.Snapshot().Total(); total != 0 {
		s.log.WithField("bytes", total).Warn("memory still accounted after teardown")
	}
	return nil
}
