// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"time"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	var interval time.Duration
	if cfg.FramesPerSecond > 0 {
		interval = time.Second / time.Duration(cfg.FramesPerSecond)
	}

	t := &Time{
		fps:      cfg.FramesPerSecond,
		interval: interval,
	}
	if interval > 0 {
		t.fpsTicker = time.NewTicker(interval)
	}
	return t
}

// Time paces the frame loop
type Time struct {
	fps       int
	interval  time.Duration
	fpsTicker *time.Ticker
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// Interval is the time between frames, zero when unlimited.
func (t *Time) Interval() time.Duration {
	return t.interval
}

// WaitFrame blocks until the next frame may start. It returns at once when
// frames are unlimited.
func (t *Time) WaitFrame(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.fpsTicker == nil {
		return nil
	}
	select {
	case <-t.fpsTicker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the ticker.
func (t *Time) Stop() {
	if t.fpsTicker != nil {
		t.fpsTicker.Stop()
	}
}
