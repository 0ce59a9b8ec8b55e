// internal/audio/capture.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
	ErrDeviceNotFound = errors.New("capture device not found")
)

// chunkQueueSize is the number of device periods buffered between the
// audio thread and the reader.
const chunkQueueSize = 64

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	DeviceName  string // substring match, takes precedence over DeviceIndex
	SampleRate  uint32 // e.g., 48000
	PeriodSize  uint32 // frames per device callback, 0 lets the backend choose
}

// DefaultConfig returns sensible defaults for alarm monitoring
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  48000,
		PeriodSize:  1024,
	}
}

// Capture reads mono S32 samples from a capture device through malgo.
// The device callback queues each period; Read assembles them into frames.
type Capture struct {
	config Config
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	mu     sync.Mutex

	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	overrun   atomic.Bool
	stopped   atomic.Bool

	chunks chan []int32
	wake   chan struct{}

	// carry holds the unread tail of the last chunk; only touched by Read
	carry []int32
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config: cfg,
		chunks: make(chan []int32, chunkQueueSize),
		wake:   make(chan struct{}, 1),
	}
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listDevicesLocked()
}

func (c *Capture) listDevicesLocked() ([]malgo.DeviceInfo, error) {
	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	return infos, nil
}

// selectDevice resolves the configured device to an ID, or nil for the
// backend default.
func selectDevice(cfg Config, devices []malgo.DeviceInfo) (*malgo.DeviceID, error) {
	if cfg.DeviceName != "" {
		want := strings.ToLower(cfg.DeviceName)
		for i := range devices {
			if strings.Contains(strings.ToLower(devices[i].Name()), want) {
				return &devices[i].ID, nil
			}
		}
		return nil, fmt.Errorf("%w: no device matches %q", ErrDeviceNotFound, cfg.DeviceName)
	}
	if cfg.DeviceIndex < 0 {
		return nil, nil
	}
	if cfg.DeviceIndex >= len(devices) {
		return nil, fmt.Errorf("%w: index %d out of range (have %d devices)",
			ErrDeviceNotFound, cfg.DeviceIndex, len(devices))
	}
	return &devices[cfg.DeviceIndex].ID, nil
}

// Start opens and starts the capture device. Capture stops when ctx is done.
func (c *Capture) Start(ctx context.Context) error {
	if c.running.Load() {
		return ErrAlreadyRunning
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.PeriodSize
	deviceConfig.Capture.Format = malgo.FormatS32
	deviceConfig.Capture.Channels = 1

	if c.config.DeviceName != "" || c.config.DeviceIndex >= 0 {
		devices, err := c.listDevicesLocked()
		if err != nil {
			return err
		}
		deviceID, err := selectDevice(c.config, devices)
		if err != nil {
			return err
		}
		if deviceID != nil {
			deviceConfig.Capture.DeviceID = deviceID.Pointer()
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, _ uint32) {
			c.onData(inputSamples)
		},
		Stop: c.onStop,
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}

	c.running.Store(true)
	if err := device.Start(); err != nil {
		c.running.Store(false)
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}
	c.device = device
	c.stopped.Store(false)

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// onData is the device data callback. It must not block.
func (c *Capture) onData(input []byte) {
	if len(input) == 0 {
		return
	}
	if !c.safeSend(bytesToInt32(input)) {
		c.overrun.Store(true)
		c.signal()
	}
}

// onStop is called by malgo when the device stops, including when we stop
// it ourselves.
func (c *Capture) onStop() {
	if c.running.Load() {
		c.stopped.Store(true)
		c.signal()
	}
}

func (c *Capture) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// safeSend queues a chunk without blocking. It reports false when the queue
// is full or closed.
func (c *Capture) safeSend(chunk []int32) (ok bool) {
	if c.closed.Load() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.chunks <- chunk:
		return true
	default:
		return false
	}
}

// Read fills frame with the next len(frame) samples.
func (c *Capture) Read(ctx context.Context, frame []int32) error {
	filled := 0
	for filled < len(frame) {
		if len(c.carry) > 0 {
			n := copy(frame[filled:], c.carry)
			c.carry = c.carry[n:]
			filled += n
			continue
		}
		if c.overrun.Load() {
			return ErrOverrun
		}
		if c.stopped.Load() {
			return ErrDeviceStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-c.chunks:
			if !ok {
				return ErrClosed
			}
			c.carry = chunk
		case <-c.wake:
		}
	}
	return nil
}

// Recover discards buffered samples and restarts the device if it stopped.
func (c *Capture) Recover() error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %w", ErrRecoverFailed, ErrClosed)
	}

	c.carry = nil
	for drained := false; !drained; {
		select {
		case <-c.chunks:
		case <-c.wake:
		default:
			drained = true
		}
	}
	c.overrun.Store(false)

	if !c.stopped.Load() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("%w: %w", ErrRecoverFailed, ErrNotRunning)
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("%w: restart device: %w", ErrRecoverFailed, err)
	}
	c.stopped.Store(false)
	return nil
}

// SampleRate returns the configured sample rate
func (c *Capture) SampleRate() int {
	return int(c.config.SampleRate)
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}
	c.running.Store(false)

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}

	return nil
}

// Close releases all audio resources. It is safe to call more than once.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.running.Store(false)
		if c.device != nil {
			_ = c.device.Stop()
			c.device.Uninit()
			c.device = nil
		}

		if c.ctx != nil {
			if uerr := c.ctx.Uninit(); uerr != nil {
				err = fmt.Errorf("uninit context: %w", uerr)
			}
			c.ctx.Free()
			c.ctx = nil
		}

		// Closed must be visible before the channel closes so callbacks
		// racing with Close take the early return in safeSend.
		c.closed.Store(true)
		close(c.chunks)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// bytesToInt32 converts raw little-endian S32 bytes to samples
func bytesToInt32(data []byte) []int32 {
	numSamples := len(data) / 4
	samples := make([]int32, numSamples)

	for i := 0; i < numSamples; i++ {
		offset := i * 4
		samples[i] = int32(uint32(data[offset]) |
			uint32(data[offset+1])<<8 |
			uint32(data[offset+2])<<16 |
			uint32(data[offset+3])<<24)
	}

	return samples
}
