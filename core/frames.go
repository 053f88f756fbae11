// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/reclaim"
)

// FrameDriverConfig configures a FrameDriver.
type FrameDriverConfig struct {
	FrameCount int

	// FenceTimeout bounds the wait for a slot's previous work, zero or
	// negative waits forever.
	FenceTimeout time.Duration

	Logger log.FieldLogger
}

// FrameDriver walks the frame slots. Before a slot becomes current again it
// waits for the fence of the work submitted in it, so the components it
// drives may reuse and destroy whatever that work referenced.
type FrameDriver struct {
	dev        device.Synchronizer
	sink       *reclaim.Sink
	components []FrameSlotted
	timeout    time.Duration
	log        log.FieldLogger

	fences  []device.Fence
	current int
	started bool
	frames  uint64
}

// NewFrameDriver creates one signaled fence per slot. The sink is driven
// after components, and sized to cfg.FrameCount along with them.
func NewFrameDriver(dev device.Synchronizer, sink *reclaim.Sink, cfg FrameDriverConfig, components ...FrameSlotted) (*FrameDriver, error) {
	if cfg.FrameCount < 1 {
		panic(fmt.Sprintf("core: frame count %d, need at least one slot", cfg.FrameCount))
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = -1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}

	d := &FrameDriver{
		dev:        dev,
		sink:       sink,
		components: components,
		timeout:    cfg.FenceTimeout,
		log:        cfg.Logger,
	}
	if sink.FrameCount() != cfg.FrameCount {
		sink.SetFrameCount(cfg.FrameCount)
	}
	if err := d.createFences(cfg.FrameCount); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FrameDriver) createFences(n int) error {
	fences := make([]device.Fence, 0, n)
	for i := 0; i < n; i++ {
		f, err := d.dev.CreateFence(true)
		if err != nil {
			for _, created := range fences {
				d.sink.FreeFence(created)
			}
			return err
		}
		fences = append(fences, f)
	}
	d.fences = fences
	return nil
}

// Begin advances to the next slot, waiting for its previous work to retire,
// and makes it current on every component. It returns the slot.
func (d *FrameDriver) Begin() (int, error) {
	next := 0
	if d.started {
		next = (d.current + 1) % len(d.fences)
	}

	fence := d.fences[next]
	if err := d.dev.WaitForFences([]device.Fence{fence}, d.timeout); err != nil {
		return d.current, fmt.Errorf("waiting for frame slot %d: %w", next, err)
	}
	if err := d.dev.ResetFences([]device.Fence{fence}); err != nil {
		return d.current, fmt.Errorf("resetting frame slot %d: %w", next, err)
	}

	d.current = next
	d.started = true
	d.frames++
	for _, c := range d.components {
		c.SetFrameIndex(next)
	}
	d.sink.SetFrameIndex(next)
	return next, nil
}

// Fence returns the fence the current slot's submission must signal.
func (d *FrameDriver) Fence() device.Fence {
	return d.fences[d.current]
}

// Slot returns the current slot.
func (d *FrameDriver) Slot() int {
	return d.current
}

// FrameCount returns the number of slots.
func (d *FrameDriver) FrameCount() int {
	return len(d.fences)
}

// Frames returns how many frames have begun.
func (d *FrameDriver) Frames() uint64 {
	return d.frames
}

// Resize changes the number of slots. It waits for the device to go idle,
// which lets every component drop its per slot state at once.
func (d *FrameDriver) Resize(n int) error {
	if n < 1 {
		panic(fmt.Sprintf("core: frame count %d, need at least one slot", n))
	}
	if err := d.dev.WaitIdle(); err != nil {
		return fmt.Errorf("resizing to %d frame slots: %w", n, err)
	}

	for _, f := range d.fences {
		d.sink.FreeFence(f)
	}
	d.fences = nil
	for _, c := range d.components {
		c.SetFrameCount(n)
	}
	d.sink.SetFrameCount(n)

	d.current = 0
	d.started = false
	d.log.WithField("frames", n).Info("frame slots resized")
	return d.createFences(n)
}

// Release waits for the device to go idle and hands the fences to the sink.
// The components and the sink are released by their owner.
func (d *FrameDriver) Release() error {
	if err := d.dev.WaitIdle(); err != nil {
		return err
	}
	for _, f := range d.fences {
		d.sink.FreeFence(f)
	}
	d.fences = nil
	return nil
}
