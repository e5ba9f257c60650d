package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
)

// modelSampleRate is the only input rate whisper.cpp accepts.
const modelSampleRate = 16000

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider by running whisper.cpp in-process.
// The model is loaded once and shared; each Transcribe call gets its own
// inference context. Inference is CPU bound, so calls are serialized.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	mu sync.Mutex
}

// NativeOption is a functional option for [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when Transcribe receives no hint.
// "auto" enables language detection.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the GGML model at modelPath.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes seg, resamples it to 16 kHz mono and runs inference.
func (p *NativeProvider) Transcribe(ctx context.Context, seg audio.Segment, lang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	samples, err := modelInput(seg)
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = p.language
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// modelInput turns a segment into 16 kHz mono float32 samples.
func modelInput(seg audio.Segment) ([]float32, error) {
	var (
		samples []float32
		rate    int
	)
	if seg.MIME == audio.MIMEWAV {
		s, f, err := audio.DecodeWAV(seg.Data)
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
		samples, rate = s, f.SampleRate
	} else {
		pcm := audio.DownmixMono16(seg.Data, seg.Format.Channels)
		samples, rate = audio.PCMToFloat32(pcm), seg.Format.SampleRate
	}
	return resample(samples, rate, modelSampleRate), nil
}

// resample converts mono samples between rates by linear interpolation.
func resample(in []float32, src, dst int) []float32 {
	if src <= 0 || src == dst || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dst) / int64(src))
	out := make([]float32, n)
	step := float64(src) / float64(dst)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
