// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command koruframe drives the frame pipelined resource core headlessly
// against the recording device. It can trace every deferred destruction to
// an archive and dump such archives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"

	"github.com/devblok/koruframe/core"
	"github.com/devblok/koruframe/reclaim"
	"github.com/devblok/koruframe/utility/trace"
)

var (
	frames      = flag.Int("frames", 32, "number of frames to simulate")
	envFile     = flag.String("env", "", "read configuration from a .env file")
	tracePath   = flag.String("trace", "", "write the destruction trace to this file, overrides "+core.KeyTrace)
	dumpPath    = flag.String("dump", "", "print the destruction trace stored in this file and exit")
	printConfig = flag.Bool("print-config", false, "print the effective configuration and exit")
)

func main() {
	flag.Parse()

	if *dumpPath != "" {
		if err := dump(*dumpPath); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := core.LoadConfiguration(*envFile)
	if err != nil {
		log.Fatal(err)
	}
	if *tracePath != "" {
		cfg.Debug.Trace = *tracePath
	}
	level, err := log.ParseLevel(cfg.Debug.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	if *printConfig {
		out, err := cfg.Marshal()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(out)
		return
	}

	var (
		recorder *trace.Recorder
		observer reclaim.Observer
	)
	if cfg.Debug.Trace != "" {
		recorder = trace.NewRecorder(trace.NewBuilder(trace.Header{
			Author:      "koruframe",
			DateCreated: time.Now().Unix(),
			FrameCount:  cfg.Frames.FramesInFlight,
		}))
		observer = recorder
	}

	stats, err := simulate(context.Background(), cfg, *frames, observer, log.StandardLogger())
	if err != nil {
		log.Fatal(err)
	}
	log.WithFields(log.Fields{
		"frames":     stats.Frames,
		"destroyed":  stats.Destroyed,
		"leaked":     stats.Leaked,
		"peakMemory": stats.PeakMemory,
		"primaries":  stats.Primaries,
	}).Info("simulation finished")

	if recorder != nil {
		if err := writeTrace(recorder, cfg.Debug.Trace); err != nil {
			log.Fatal(err)
		}
	}
	if stats.Leaked > 0 {
		os.Exit(1)
	}
}

func writeTrace(recorder *trace.Recorder, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := recorder.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func dump(path string) error {
	r, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	ar, err := trace.Open(r)
	if err != nil {
		return err
	}
	header := ar.Header()
	fmt.Printf("trace by %s, %d frame slots, %d clears\n", header.Author, header.FrameCount, len(header.Index))
	for _, name := range ar.Names() {
		events, err := ar.Events(name)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Printf("%s slot=%d %-22s handle=%#x count=%d size=%d\n",
				name, ev.Slot, ev.Kind, ev.Handle, ev.Count, ev.Size)
		}
	}
	return nil
}
