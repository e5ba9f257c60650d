// Package wsmic provides an [audio.Source] fed by a remote microphone that
// streams over a WebSocket, typically a browser tab.
//
// A client connects to the [Source] HTTP handler and sends one binary
// message per audio chunk. The codec is chosen per connection through the
// query string:
//
//	ws://host/ws/mic?codec=pcm16&rate=16000&channels=1
//	ws://host/ws/mic?codec=opus&channels=1
//
// Opus packets are decoded at 48 kHz with 20 ms frames. Only one client may
// stream at a time; a second connection is rejected with 409 Conflict.
package wsmic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/coder/websocket"
	"layeh.com/gopus"
)

// Codec identifies the payload of binary WebSocket messages.
type Codec string

const (
	CodecPCM16 Codec = "pcm16"
	CodecOpus  Codec = "opus"
)

const (
	opusSampleRate  = 48000
	opusFrameSizeMs = 20
	opusFrameSize   = opusSampleRate * opusFrameSizeMs / 1000 // 960
	frameBuffer     = 64
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

var (
	// ErrAlreadyStarted is returned by [Source.Start] on a running source.
	ErrAlreadyStarted = errors.New("wsmic: source already started")

	errUnknownCodec = errors.New("wsmic: unknown codec")
)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithDefaultFormat sets the PCM format assumed when a pcm16 client does not
// send rate or channels parameters. Defaults to 16 kHz mono.
func WithDefaultFormat(f audio.Format) Option {
	return func(s *Source) {
		if f.SampleRate > 0 && f.Channels > 0 {
			s.defaultFormat = f
		}
	}
}

// WithOriginPatterns sets the allowed browser origins. When empty, any
// origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Source) {
		s.origins = patterns
	}
}

// Source receives audio from at most one WebSocket client at a time.
type Source struct {
	defaultFormat audio.Format
	origins       []string

	mu      sync.Mutex
	out     chan audio.Frame
	done    chan struct{}
	started bool
	client  bool
	closing sync.WaitGroup
}

// New returns an unstarted Source.
func New(opts ...Option) *Source {
	s := &Source{defaultFormat: audio.Format{SampleRate: 16000, Channels: 1}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins accepting client audio. The returned channel is closed by
// [Source.Stop] or when ctx is cancelled.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrAlreadyStarted
	}
	s.started = true
	s.out = make(chan audio.Frame, frameBuffer)
	s.done = make(chan struct{})

	done := s.done
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-done:
		}
	}()
	return s.out, nil
}

// Stop disconnects the client and closes the frame channel.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.done)
	out := s.out
	s.mu.Unlock()

	// Wait for the client reader to stop sending before closing the channel.
	s.closing.Wait()
	close(out)
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and streams its binary
// messages into the frame channel until the client disconnects or the source
// stops.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dec, err := newDecoder(r, s.defaultFormat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	switch {
	case !s.started:
		s.mu.Unlock()
		http.Error(w, "no active capture session", http.StatusServiceUnavailable)
		return
	case s.client:
		s.mu.Unlock()
		http.Error(w, "another microphone is already streaming", http.StatusConflict)
		return
	}
	s.client = true
	s.closing.Add(1)
	out, done := s.out, s.done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.client = false
		s.mu.Unlock()
		s.closing.Done()
	}()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.origins,
		InsecureSkipVerify: len(s.origins) == 0,
	})
	if err != nil {
		slog.Warn("wsmic: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-done:
			conn.Close(websocket.StatusGoingAway, "capture stopped")
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("wsmic: client connected", "remote", r.RemoteAddr, "codec", dec.codec, "format", dec.format.String())
	start := time.Now()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				slog.Warn("wsmic: read failed", "err", err)
			}
			slog.Info("wsmic: client disconnected", "remote", r.RemoteAddr)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		pcm, err := dec.decode(data)
		if err != nil {
			slog.Debug("wsmic: dropping undecodable chunk", "err", err)
			continue
		}
		frame := audio.Frame{
			Data:       pcm,
			SampleRate: dec.format.SampleRate,
			Channels:   dec.format.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case out <- frame:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// decoder turns one client message into PCM.
type decoder struct {
	codec  Codec
	format audio.Format
	opus   *gopus.Decoder
}

func newDecoder(r *http.Request, def audio.Format) (*decoder, error) {
	q := r.URL.Query()
	codec := Codec(q.Get("codec"))
	if codec == "" {
		codec = CodecPCM16
	}

	f := def
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 2 {
			return nil, fmt.Errorf("wsmic: invalid channels %q", v)
		}
		f.Channels = n
	}

	switch codec {
	case CodecPCM16:
		if v := q.Get("rate"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 8000 || n > 192000 {
				return nil, fmt.Errorf("wsmic: invalid rate %q", v)
			}
			f.SampleRate = n
		}
		return &decoder{codec: codec, format: f}, nil
	case CodecOpus:
		f.SampleRate = opusSampleRate
		dec, err := gopus.NewDecoder(opusSampleRate, f.Channels)
		if err != nil {
			return nil, fmt.Errorf("wsmic: create opus decoder: %w", err)
		}
		return &decoder{codec: codec, format: f, opus: dec}, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownCodec, codec)
	}
}

func (d *decoder) decode(data []byte) ([]byte, error) {
	if d.opus == nil {
		if len(data)%(2*d.format.Channels) != 0 {
			return nil, fmt.Errorf("wsmic: misaligned pcm chunk of %d bytes", len(data))
		}
		return data, nil
	}
	pcm, err := d.opus.Decode(data, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("wsmic: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}
