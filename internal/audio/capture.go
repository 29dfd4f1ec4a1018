// Package audio captures microphone input as PCM16 chunks with backpressure.
package audio

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	pcm "github.com/GriffinCanCode/voicenote/internal/orchestrator/audio"
)

// ErrNoInputDevice is returned when no usable microphone is found.
var ErrNoInputDevice = errors.New("no usable input device")

// DefaultFramesPerBuffer is 100ms at 16kHz.
const DefaultFramesPerBuffer = 1600

// Chunk is one captured buffer of little-endian PCM16 mono audio.
type Chunk struct {
	PCM       []byte
	Device    string
	Timestamp time.Time
}

// Capturer reads one microphone and publishes chunks on a bounded channel.
// Chunks are dropped when the consumer falls behind.
type Capturer struct {
	out     chan Chunk
	rate    int
	frames  int
	device  string
	exclude []string
	dropped atomic.Int64

	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewCapturer initializes portaudio. device selects an input by name substring;
// empty picks the best microphone.
func NewCapturer(sampleRate, bufferSize int, device string, exclude []string) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &Capturer{
		out:     make(chan Chunk, bufferSize),
		rate:    sampleRate,
		frames:  DefaultFramesPerBuffer * sampleRate / 16000,
		device:  device,
		exclude: exclude,
	}, nil
}

// Output returns the chunk channel. It is closed when capture stops.
func (c *Capturer) Output() <-chan Chunk { return c.out }

// Dropped reports how many chunks were discarded because the consumer was slow.
func (c *Capturer) Dropped() int64 { return c.dropped.Load() }

// Start opens the selected microphone and begins reading.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	dev := pickDevice(devices, c.device, c.exclude)
	if dev == nil {
		return ErrNoInputDevice
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.rate),
		FramesPerBuffer: c.frames,
	}

	buf := make([]float32, c.frames)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return err
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.rate)

	go c.read(readCtx, stream, buf, dev.Name)
	return nil
}

func (c *Capturer) read(ctx context.Context, stream *portaudio.Stream, buf []float32, device string) {
	defer close(c.done)
	defer close(c.out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if ctx.Err() == nil {
				slog.Debug("audio read error", "device", device, "error", err)
			}
			return
		}
		c.publish(Chunk{PCM: pcm.Float32ToPCM16(buf), Device: device, Timestamp: time.Now()})
	}
}

func (c *Capturer) publish(chunk Chunk) {
	select {
	case c.out <- chunk:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("audio buffer full, dropping chunk", "device", chunk.Device, "dropped", n)
		}
	}
}

// Stop stops capture and releases portaudio.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.cancel()
		_ = c.stream.Stop()
		<-c.done
		_ = c.stream.Close()
		c.running = false
	}
	_ = portaudio.Terminate()
}

// Device classes.
const (
	ClassMic      = "mic"
	ClassLoopback = "loopback"
)

// Lowercase name fragments, checked in order: loopback first so that
// "Monitor of Built-in Audio" is not taken for a microphone.
var (
	loopbackNames  = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	micNames       = []string{"microphone", "input", "mic", "built-in"}
	preferredNames = []string{"macbook", "built-in"}
)

func classifyDevice(name string) string {
	switch {
	case matchAny(name, loopbackNames):
		return ClassLoopback
	case matchAny(name, micNames):
		return ClassMic
	}
	return ""
}

// pickDevice returns the named input if want is set, otherwise the preferred
// microphone. Loopback devices and excluded names are never picked automatically.
func pickDevice(devices []*portaudio.DeviceInfo, want string, excluded []string) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels < 1 {
			continue
		}
		switch {
		case want != "":
			if matchAny(dev.Name, []string{want}) {
				return dev
			}
		case matchAny(dev.Name, excluded), classifyDevice(dev.Name) != ClassMic:
		case best == nil, matchAny(dev.Name, preferredNames) && !matchAny(best.Name, preferredNames):
			best = dev
		}
	}
	return best
}

// matchAny reports whether name contains any fragment, ignoring case.
func matchAny(name string, fragments []string) bool {
	lower := strings.ToLower(name)
	for _, f := range fragments {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
