// Package portaudio provides an [audio.Source] that captures a local
// microphone through PortAudio.
//
// Usage:
//
//	src := portaudio.New(portaudio.WithDevice("USB Microphone"))
//	frames, err := src.Start(ctx)
//	for f := range frames { ... }
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

const (
	defaultSampleRate      = 16000
	defaultFramesPerBuffer = 512
	frameBuffer            = 64
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// ErrAlreadyStarted is returned by [Source.Start] on a running source.
var ErrAlreadyStarted = errors.New("portaudio: source already started")

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithDevice selects the input device by name. Empty or "default" selects the
// system default input. Unknown names fall back to the default with a warning.
func WithDevice(name string) Option {
	return func(s *Source) {
		s.device = name
	}
}

// WithSampleRate sets the capture sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithFramesPerBuffer sets the PortAudio buffer size in samples. Defaults to 512.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// Source captures mono 16-bit PCM from a PortAudio input device.
type Source struct {
	device          string
	sampleRate      int
	framesPerBuffer int

	mu      sync.Mutex
	stream  *portaudio.Stream
	done    chan struct{}
	exited  chan struct{}
	started bool
}

// New returns an unstarted Source.
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate:      defaultSampleRate,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start initialises PortAudio, opens the input stream and begins delivering
// frames.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrAlreadyStarted
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	buf := make([]int16, s.framesPerBuffer)
	stream, err := s.open(buf)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	s.stream = stream
	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	s.started = true

	out := make(chan audio.Frame, frameBuffer)
	go s.readLoop(ctx, stream, buf, out)
	return out, nil
}

// Stop ends capture and releases the device. It is safe to call more than
// once.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.done)
	exited := s.exited
	s.mu.Unlock()

	<-exited
	return nil
}

func (s *Source) open(buf []int16) (*portaudio.Stream, error) {
	if s.device != "" && s.device != "default" {
		dev, err := findDevice(s.device)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: 1,
					Latency:  dev.DefaultLowInputLatency,
				},
				SampleRate:      float64(s.sampleRate),
				FramesPerBuffer: len(buf),
			}
			stream, err := portaudio.OpenStream(params, buf)
			if err != nil {
				return nil, fmt.Errorf("portaudio: open device %q: %w", s.device, err)
			}
			return stream, nil
		}
		slog.Warn("portaudio: input device not found, using default", "device", s.device, "err", err)
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	return stream, nil
}

func (s *Source) readLoop(ctx context.Context, stream *portaudio.Stream, buf []int16, out chan<- audio.Frame) {
	defer func() {
		if err := stream.Stop(); err != nil {
			slog.Debug("portaudio: stop stream", "err", err)
		}
		stream.Close()
		portaudio.Terminate()
		close(out)
		close(s.exited)
	}()

	format := audio.Format{SampleRate: s.sampleRate, Channels: 1}
	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
				continue
			}
			slog.Error("portaudio: read failed", "err", err)
			return
		}

		pcm := audio.Int16sToBytes(buf)
		frame := audio.Frame{Data: pcm, SampleRate: s.sampleRate, Channels: 1, Timestamp: elapsed}
		elapsed += audio.Duration(pcm, format)

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Devices lists the input-capable devices known to PortAudio.
func Devices() ([]audio.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var devices []audio.Device
	for _, d := range infos {
		if d.MaxInputChannels < 1 {
			continue
		}
		dev := audio.Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && def.Name == d.Name,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}
