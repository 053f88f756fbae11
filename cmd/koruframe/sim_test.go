// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/device"
	"github.com/devblok/koruframe/utility/trace"
)

func TestSimulateTearsDownEverything(t *testing.T) {
	c := qt.New(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	cfg := core.DefaultConfiguration()
	st, err := simulate(context.Background(), cfg, 12, nil, logger)
	c.Assert(err, qt.IsNil)
	c.Assert(st.Frames, qt.Equals, 12)
	c.Assert(st.Leaked, qt.Equals, 0)
	c.Assert(st.Destroyed > 0, qt.IsTrue)
	c.Assert(st.PeakMemory >= uint64(liveTextures*textureSize), qt.IsTrue)

	for _, entry := range hook.AllEntries() {
		c.Assert(entry.Level <= log.WarnLevel, qt.IsFalse, qt.Commentf("%s", entry.Message))
	}
}

func TestSimulateTrace(t *testing.T) {
	c := qt.New(t)
	logger, _ := test.NewNullLogger()
	recorder := trace.NewRecorder(trace.NewBuilder(trace.Header{Author: "test", FrameCount: 2}))

	cfg := core.DefaultConfiguration()
	cfg.Frames.FramesInFlight = 2
	st, err := simulate(context.Background(), cfg, 6, recorder, logger)
	c.Assert(err, qt.IsNil)

	var buf bytes.Buffer
	_, err = recorder.WriteTo(&buf)
	c.Assert(err, qt.IsNil)
	ar, err := trace.Open(bytes.NewReader(buf.Bytes()))
	c.Assert(err, qt.IsNil)

	var total int64
	var images int
	for _, name := range ar.Names() {
		events, err := ar.Events(name)
		c.Assert(err, qt.IsNil)
		total += int64(len(events))
		for _, ev := range events {
			if ev.Kind == device.KindImage {
				images++
			}
		}
	}
	c.Assert(total, qt.Equals, st.Destroyed)
	// every texture plus the swapchain images
	c.Assert(images, qt.Equals, 6+swapchainImages)
}

func TestSimulateCancelled(t *testing.T) {
	c := qt.New(t)
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := simulate(ctx, core.DefaultConfiguration(), 3, nil, logger)
	c.Assert(err, qt.Equals, context.Canceled)
}
