package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Device wraps a duplex malgo capture+playback stream, extracted from the
// teacher's cmd/agent/main.go (which built this inline via closures) into a
// reusable type so C5/C7/C9 can be driven against a fake device in tests.
type Device struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	sampleRate int
	channels   int

	onCapture func(pcm []byte)

	mu           sync.Mutex
	playbackBuf  []byte
	lastPlayedAt time.Time

	rmsMu   sync.Mutex
	lastRMS float64
}

// Config configures a Device.
type Config struct {
	SampleRate int
	Channels   int
	OnCapture  func(pcm []byte) // called with each captured frame, off the malgo callback thread is NOT guaranteed — keep this fast
}

// Open initializes the malgo context and duplex device. The device is not
// started until Start is called.
func Open(cfg Config) (*Device, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: malgo init: %v", ErrDevice, err)
	}

	d := &Device{
		ctx:        mctx,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		onCapture:  cfg.OnCapture,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("%w: malgo device init: %v", ErrDevice, err)
	}
	d.device = device

	return d, nil
}

func (d *Device) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil {
		d.rmsMu.Lock()
		d.lastRMS = calculateRMS(pInput)
		d.rmsMu.Unlock()

		if d.onCapture != nil {
			d.onCapture(pInput)
		}
	}
	if pOutput != nil {
		d.mu.Lock()
		n := copy(pOutput, d.playbackBuf)
		d.playbackBuf = d.playbackBuf[n:]
		if n > 0 {
			d.lastPlayedAt = time.Now()
		}
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
		d.mu.Unlock()
	}
}

func calculateRMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)/2))
}

// Start begins audio capture/playback.
func (d *Device) Start() error {
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return nil
}

// Close stops the device and releases malgo resources.
func (d *Device) Close() error {
	d.device.Uninit()
	d.ctx.Uninit()
	return nil
}

// QueuePlayback appends PCM audio to the device's playback buffer.
func (d *Device) QueuePlayback(pcm []byte) {
	d.mu.Lock()
	d.playbackBuf = append(d.playbackBuf, pcm...)
	d.mu.Unlock()
}

// FlushPlayback discards any queued-but-unplayed audio, used on barge-in
// interruption.
func (d *Device) FlushPlayback() {
	d.mu.Lock()
	d.playbackBuf = nil
	d.mu.Unlock()
}

// RecentlyPlayed reports whether audio was output within the given window.
// managed_stream.go's echo guard does not call it; it tracks its own
// lastAudioSentAt timestamp.
func (d *Device) RecentlyPlayed(within time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.lastPlayedAt.IsZero() && time.Since(d.lastPlayedAt) < within
}

// LastRMS returns the RMS energy of the most recently captured frame, for
// diagnostics/meter display.
func (d *Device) LastRMS() float64 {
	d.rmsMu.Lock()
	defer d.rmsMu.Unlock()
	return d.lastRMS
}
