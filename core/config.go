// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidConfiguration is wrapped by every configuration error.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// MaxFramesInFlight bounds FrameConfiguration.FramesInFlight.
const MaxFramesInFlight = 16

// Configuration keys
const (
	KeyFramesInFlight   = "KORU_FRAMES_IN_FLIGHT"
	KeyFPS              = "KORU_FPS"
	KeyQueueFamily      = "KORU_QUEUE_FAMILY"
	KeyPrimaryBuffers   = "KORU_PRIMARY_BUFFERS"
	KeySecondaryBuffers = "KORU_SECONDARY_BUFFERS"
	KeyVerboseDealloc   = "KORU_VERBOSE_DEALLOC"
	KeyLogLevel         = "KORU_LOG_LEVEL"
	KeyTrace            = "KORU_TRACE"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time        TimeConfiguration
	Frames      FrameConfiguration
	CommandPool CommandPoolConfiguration
	Debug       DebugConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int
}

// FrameConfiguration sets up frame pipelining
type FrameConfiguration struct {
	// FramesInFlight is the number of frame slots, 1 to MaxFramesInFlight.
	FramesInFlight int
}

// CommandPoolConfiguration is used to configure command buffer pools
type CommandPoolConfiguration struct {
	QueueFamily      uint32
	PrimaryBuffers   int
	SecondaryBuffers int
}

// DebugConfiguration holds diagnostics settings
type DebugConfiguration struct {
	VerboseDeallocation bool
	LogLevel            string
	// Trace is the path destruction traces are written to, empty for none.
	Trace string
}

// DefaultConfiguration returns the settings used for keys that are not set.
func DefaultConfiguration() Configuration {
	return Configuration{
		Frames: FrameConfiguration{FramesInFlight: 3},
		CommandPool: CommandPoolConfiguration{
			PrimaryBuffers:   2,
			SecondaryBuffers: 4,
		},
		Debug: DebugConfiguration{LogLevel: "info"},
	}
}

// LoadConfiguration reads the configuration from the environment. When
// envFile is not empty its values are used for keys the environment does
// not set.
func LoadConfiguration(envFile string) (Configuration, error) {
	file := map[string]string{}
	if envFile != "" {
		var err error
		if file, err = godotenv.Read(envFile); err != nil {
			return Configuration{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}

	cfg := DefaultConfiguration()
	l := loader{file: file, defaults: cfg.Env()}

	cfg.Frames.FramesInFlight = l.integer(KeyFramesInFlight)
	cfg.Time.FramesPerSecond = l.integer(KeyFPS)
	cfg.CommandPool.QueueFamily = uint32(l.integer(KeyQueueFamily))
	cfg.CommandPool.PrimaryBuffers = l.integer(KeyPrimaryBuffers)
	cfg.CommandPool.SecondaryBuffers = l.integer(KeySecondaryBuffers)
	cfg.Debug.VerboseDeallocation = l.boolean(KeyVerboseDealloc)
	cfg.Debug.LogLevel = l.get(KeyLogLevel)
	cfg.Debug.Trace = l.get(KeyTrace)
	if l.err != nil {
		return Configuration{}, l.err
	}
	return cfg, cfg.Validate()
}

type loader struct {
	file     map[string]string
	defaults map[string]string
	err      error
}

func (l *loader) get(key string) string {
	def, ok := l.file[key]
	if !ok {
		def = l.defaults[key]
	}
	return envy.Get(key, def)
}

func (l *loader) fail(key, value string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfiguration, key, value, err)
	}
}

func (l *loader) integer(key string) int {
	value := l.get(key)
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		l.fail(key, value, err)
	}
	return n
}

func (l *loader) boolean(key string) bool {
	value := l.get(key)
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		l.fail(key, value, err)
	}
	return b
}

// Validate checks the settings are in range.
func (c Configuration) Validate() error {
	switch {
	case c.Frames.FramesInFlight < 1 || c.Frames.FramesInFlight > MaxFramesInFlight:
		return fmt.Errorf("%w: %s must be within [1, %d], is %d",
			ErrInvalidConfiguration, KeyFramesInFlight, MaxFramesInFlight, c.Frames.FramesInFlight)
	case c.Time.FramesPerSecond < 0:
		return fmt.Errorf("%w: %s is negative", ErrInvalidConfiguration, KeyFPS)
	case c.CommandPool.PrimaryBuffers < 0 || c.CommandPool.SecondaryBuffers < 0:
		return fmt.Errorf("%w: command buffer batch sizes must not be negative", ErrInvalidConfiguration)
	}
	if _, err := log.ParseLevel(c.Debug.LogLevel); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfiguration, KeyLogLevel, err)
	}
	return nil
}

// Env renders the configuration as environment keys and values.
func (c Configuration) Env() map[string]string {
	return map[string]string{
		KeyFramesInFlight:   strconv.Itoa(c.Frames.FramesInFlight),
		KeyFPS:              strconv.Itoa(c.Time.FramesPerSecond),
		KeyQueueFamily:      strconv.FormatUint(uint64(c.CommandPool.QueueFamily), 10),
		KeyPrimaryBuffers:   strconv.Itoa(c.CommandPool.PrimaryBuffers),
		KeySecondaryBuffers: strconv.Itoa(c.CommandPool.SecondaryBuffers),
		KeyVerboseDealloc:   strconv.FormatBool(c.Debug.VerboseDeallocation),
		KeyLogLevel:         c.Debug.LogLevel,
		KeyTrace:            c.Debug.Trace,
	}
}

// Keys returns the configuration keys, sorted.
func Keys() []string {
	keys := make([]string, 0, 8)
	for key := range DefaultConfiguration().Env() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Marshal renders the configuration in .env format.
func (c Configuration) Marshal() (string, error) {
	return godotenv.Marshal(c.Env())
}

// WriteEnv writes the configuration to a .env file that LoadConfiguration
// reads back.
func (c Configuration) WriteEnv(filename string) error {
	return godotenv.Write(c.Env(), filename)
}
