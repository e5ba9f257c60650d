package pipeline_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/interpreta/internal/capture"
	"github.com/MrWong99/interpreta/internal/observe"
	"github.com/MrWong99/interpreta/internal/pipeline"
	"github.com/MrWong99/interpreta/pkg/audio"
	audiomock "github.com/MrWong99/interpreta/pkg/audio/mock"
	msgmock "github.com/MrWong99/interpreta/pkg/message/mock"
	"github.com/MrWong99/interpreta/pkg/provider"
	sttmock "github.com/MrWong99/interpreta/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/interpreta/pkg/provider/translate/mock"
)

const (
	tick       = 100 * time.Millisecond
	frameLen   = 1600 // samples per tick at 16 kHz
	loudAmp    = 0.5
	quietAmp   = 0.01
	loudTicks  = 4
	quietTicks = 7
	// utteranceTicks is the number of ticks one call to utterance takes.
	utteranceTicks = loudTicks + quietTicks
)

var t0 = time.Unix(1_700_000_000, 0)

func testSettings() pipeline.Settings {
	s := pipeline.DefaultSettings()
	s.Capture = capture.Settings{
		Threshold:        10,
		SilenceDuration:  300 * time.Millisecond,
		MinRecording:     200 * time.Millisecond,
		MaxRecording:     30 * time.Second,
		EnergyRatioMin:   0.1,
		StabilityMax:     0.3,
		StabilitySamples: 5,
	}
	s.Stagger = 0
	s.SourceLang = "de"
	s.TargetLang = "en"
	return s
}

// harness drives a session with synthetic audio and a manual ticker.
type harness struct {
	t    *testing.T
	src  *audiomock.Source
	stt  *sttmock.Provider
	tr   *trmock.Provider
	sink *msgmock.Sink
	sess *pipeline.Session

	ticks chan time.Time
	done  chan error
	rng   *rand.Rand

	mu   sync.Mutex
	now  time.Time
	errs []error
}

func newHarness(t *testing.T, set pipeline.Settings, opts ...pipeline.Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		src:   audiomock.NewSource(),
		stt:   &sttmock.Provider{},
		tr:    &trmock.Provider{Prefix: "en:"},
		sink:  &msgmock.Sink{},
		ticks: make(chan time.Time),
		done:  make(chan error, 1),
		rng:   rand.New(rand.NewPCG(7, 11)),
		now:   t0,
	}
	opts = append([]pipeline.Option{
		pipeline.WithID("test"),
		pipeline.WithTicker(h.ticks),
		pipeline.WithClock(h.clock),
		pipeline.WithAnalyzerOptions(capture.WithSmoothing(0)),
		pipeline.WithProviderNames("mock-stt", "mock-translate"),
		pipeline.WithErrorHandler(func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		}),
	}, opts...)
	sess, err := pipeline.New(h.src, h.stt, h.tr, h.sink, pipeline.Static(set), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sess = sess
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) start() {
	go func() { h.done <- h.sess.Run(context.Background()) }()
}

// step pushes one frame of noise at amplitude amp and fires one tick.
func (h *harness) step(amp float64) {
	h.t.Helper()
	h.src.Push(audio.Frame{Data: noise(h.rng, amp, frameLen), SampleRate: 16000, Channels: 1})
	h.mu.Lock()
	h.now = h.now.Add(tick)
	now := h.now
	h.mu.Unlock()
	select {
	case h.ticks <- now:
	case <-time.After(5 * time.Second):
		h.t.Fatal("session stopped accepting ticks")
	}
}

// utterance speaks at amp and then stays silent long enough for the
// recording to be finalized.
func (h *harness) utterance(amp float64) {
	h.t.Helper()
	for range loudTicks {
		h.step(amp)
	}
	for range quietTicks {
		h.step(0)
	}
}

func (h *harness) stop() {
	h.t.Helper()
	h.sess.Stop()
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		h.t.Fatal("Run did not return after Stop")
	}
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// scripted returns a transcribe func that answers by utterance index, derived
// from when the segment started.
func scripted(texts ...string) func(context.Context, audio.Segment, string) (string, error) {
	return func(_ context.Context, seg audio.Segment, _ string) (string, error) {
		i := int(seg.StartedAt.Sub(t0) / (utteranceTicks * tick))
		if i < 0 || i >= len(texts) {
			return "", nil
		}
		return texts[i], nil
	}
}

func noise(rng *rand.Rand, amp float64, n int) []byte {
	pcm := make([]byte, n*2)
	if amp == 0 {
		return pcm
	}
	for i := range n {
		v := (rng.Float64()*2 - 1) * amp
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func originals(h *harness) []string {
	var out []string
	for _, m := range h.sink.Messages() {
		out = append(out, m.Original)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings())
	h.stt.Text = "Guten Morgen zusammen. Wie geht es euch heute?"
	h.start()
	h.utterance(loudAmp)
	h.stop()

	msgs := h.sink.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1: %+v", len(msgs), msgs)
	}
	m := msgs[0]
	if m.ID != 1 || m.Original != "Guten Morgen zusammen. Wie geht es euch heute?" {
		t.Errorf("message = %+v", m)
	}
	if m.Translated == nil || *m.Translated != "en:"+m.Original {
		t.Errorf("Translated = %v, want %q", m.Translated, "en:"+m.Original)
	}
	if !m.Timestamp.After(t0) {
		t.Errorf("Timestamp = %v, want after %v", m.Timestamp, t0)
	}

	if n := h.stt.CallCount(); n != 1 {
		t.Fatalf("stt calls = %d, want 1", n)
	}
	if lang := h.stt.TranscribeCalls[0].Lang; lang != "de" {
		t.Errorf("stt lang = %q, want de", lang)
	}
	if calls := h.tr.Calls(); len(calls) != 1 || calls[0].Src != "de" || calls[0].Tgt != "en" {
		t.Errorf("translate calls = %+v", calls)
	}

	calls := h.sink.Snapshot()
	if len(calls) != 2 || calls[0].Op != msgmock.OpCreate || calls[1].Op != msgmock.OpTranslate {
		t.Errorf("sink calls = %+v, want create then translate", calls)
	}
	if got := h.sess.State(); got != capture.StateIdle {
		t.Errorf("State after stop = %v, want idle", got)
	}
	if errs := h.errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if h.src.Stops() == 0 {
		t.Error("audio source was not stopped")
	}
}

func TestSession_QuietSegmentIsNotTranscribed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings())
	h.stt.Text = "should never appear"
	h.start()
	h.utterance(quietAmp)
	h.stop()

	if n := h.stt.CallCount(); n != 0 {
		t.Errorf("stt calls = %d, want 0 for a low energy segment", n)
	}
	if calls := h.sink.Snapshot(); len(calls) != 0 {
		t.Errorf("sink calls = %+v, want none", calls)
	}
}

func TestSession_OrderFollowsCapture(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.SentencesPerCard = 1
	h := newHarness(t, set)

	release := make(chan struct{})
	answer := scripted("The first segment.", "The second segment.")
	h.stt.TranscribeFunc = func(ctx context.Context, seg audio.Segment, lang string) (string, error) {
		text, err := answer(ctx, seg, lang)
		if strings.Contains(text, "first") {
			<-release
		} else {
			defer close(release)
		}
		return text, err
	}

	h.start()
	h.utterance(loudAmp)
	h.utterance(loudAmp)
	h.stop()

	want := []string{"The first segment.", "The second segment."}
	if got := originals(h); !equal(got, want) {
		t.Fatalf("messages = %q, want %q", got, want)
	}
	for i, m := range h.sink.Messages() {
		if m.ID != int64(i+1) {
			t.Errorf("message %d has id %d, want %d", i, m.ID, i+1)
		}
	}
}

func TestSession_TranslationsCompleteOutOfOrder(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.SentencesPerCard = 1
	h := newHarness(t, set)
	h.stt.Text = "The first one. The second one."

	release := make(chan struct{})
	h.tr.TranslateFunc = func(_ context.Context, text, _, _ string) (string, error) {
		if strings.Contains(text, "first") {
			<-release
			return "T1", nil
		}
		defer close(release)
		return "T2", nil
	}

	h.start()
	h.utterance(loudAmp)
	h.stop()

	msgs := h.sink.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(msgs), msgs)
	}
	for i, want := range []string{"T1", "T2"} {
		if msgs[i].Translated == nil || *msgs[i].Translated != want {
			t.Errorf("message %d (%q) translated = %v, want %q", msgs[i].ID, msgs[i].Original, msgs[i].Translated, want)
		}
	}
}

func TestSession_GroupsSentencesIntoCards(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.SentencesPerCard = 2
	h := newHarness(t, set)
	h.stt.Text = "One is here. Two is here. Three is here."
	h.start()
	h.utterance(loudAmp)
	h.stop()

	want := []string{"One is here. Two is here.", "Three is here."}
	if got := originals(h); !equal(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}
}

func TestSession_AutoTranslateEmitsEarly(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.SentencesPerCard = 3
	set.AutoTranslateMinChars = 20
	h := newHarness(t, set)
	h.stt.TranscribeFunc = scripted("This sentence is long enough.", "Another one follows.")
	h.start()
	h.utterance(loudAmp)
	h.utterance(loudAmp)
	h.stop()

	want := []string{"This sentence is long enough.", "Another one follows."}
	if got := originals(h); !equal(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}
}

func TestSession_DropsDuplicatesAndFillers(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.SentencesPerCard = 1
	h := newHarness(t, set)
	h.stt.TranscribeFunc = scripted("We start now.", "Ähm.", "We start now.", "[BLANK_AUDIO]", "Then we stop.")
	h.start()
	for range 5 {
		h.utterance(loudAmp)
	}
	h.stop()

	want := []string{"We start now.", "Then we stop."}
	if got := originals(h); !equal(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}
	if n := h.stt.CallCount(); n != 5 {
		t.Errorf("stt calls = %d, want 5", n)
	}
}

func TestSession_StopFlushesRemainder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings())
	h.stt.Text = "this sentence never ends"
	h.start()
	for range loudTicks {
		h.step(loudAmp)
	}
	h.stop()

	if n := h.stt.CallCount(); n != 1 {
		t.Fatalf("stt calls = %d, want 1 for the recording cut by stop", n)
	}
	msgs := h.sink.Messages()
	if len(msgs) != 1 || msgs[0].Original != "this sentence never ends" {
		t.Fatalf("messages = %+v, want the flushed remainder", msgs)
	}
	if msgs[0].Translated == nil {
		t.Error("flushed message was not translated")
	}
}

func TestSession_STTErrorIsReportedAndSessionContinues(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	h := newHarness(t, testSettings())
	answer := scripted("", "Still running here.")
	h.stt.TranscribeFunc = func(ctx context.Context, seg audio.Segment, lang string) (string, error) {
		text, _ := answer(ctx, seg, lang)
		if text == "" {
			return "", errBoom
		}
		return text, nil
	}
	h.start()
	h.utterance(loudAmp)
	h.utterance(loudAmp)
	h.stop()

	if got := originals(h); !equal(got, []string{"Still running here."}) {
		t.Errorf("messages = %q", got)
	}
	errs := h.errors()
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want 1", errs)
	}
	var pe *pipeline.Error
	if !errors.As(errs[0], &pe) || pe.Stage != pipeline.StageSTT || pe.Seq != 0 {
		t.Errorf("error = %#v, want stt error for segment 0", errs[0])
	}
	if !errors.Is(errs[0], errBoom) {
		t.Errorf("error %v does not wrap errBoom", errs[0])
	}
}

func TestSession_FailedSegmentIsCounted(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := newHarness(t, testSettings(), pipeline.WithMetrics(m))
	answer := scripted("", "Second try works.")
	h.stt.TranscribeFunc = func(ctx context.Context, seg audio.Segment, lang string) (string, error) {
		text, _ := answer(ctx, seg, lang)
		if text == "" {
			return "", errors.New("whisper unavailable")
		}
		return text, nil
	}
	h.start()
	h.utterance(loudAmp)
	h.utterance(loudAmp)
	h.stop()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if met.Name != "interpreta.segments" || !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				got[outcome.AsString()] += dp.Value
			}
		}
	}
	if got[observe.SegmentFailed] != 1 || got[observe.SegmentTranscribed] != 1 {
		t.Errorf("segments by outcome = %v, want one failed and one transcribed", got)
	}
}

func TestSession_TranslationErrorLeavesMessageUntranslated(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("translation down")
	h := newHarness(t, testSettings())
	h.stt.Text = "Nobody will read this in English."
	h.tr.TranslateErr = errBoom
	h.start()
	h.utterance(loudAmp)
	h.stop()

	msgs := h.sink.Messages()
	if len(msgs) != 1 || msgs[0].Translated != nil {
		t.Fatalf("messages = %+v, want one untranslated message", msgs)
	}
	errs := h.errors()
	var pe *pipeline.Error
	if len(errs) != 1 || !errors.As(errs[0], &pe) || pe.Stage != pipeline.StageTranslate || pe.MessageID != 1 {
		t.Errorf("errors = %v, want translate error for message 1", errs)
	}
}

func TestSession_SinkErrorIsReported(t *testing.T) {
	t.Parallel()

	errSink := errors.New("disk full")
	h := newHarness(t, testSettings())
	h.stt.Text = "Write me somewhere."
	h.sink.SetTranslationErr = errSink
	h.start()
	h.utterance(loudAmp)
	h.stop()

	errs := h.errors()
	var pe *pipeline.Error
	if len(errs) != 1 || !errors.As(errs[0], &pe) || pe.Stage != pipeline.StageSink || !errors.Is(pe, errSink) {
		t.Errorf("errors = %v, want one sink error", errs)
	}
}

func TestSession_FragmentStrategyMerges(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.Strategy = pipeline.StrategyFragment
	set.AutoTranslateMinChars = 1000
	h := newHarness(t, set)
	h.stt.TranscribeFunc = scripted("so we went", "to the market")
	h.start()
	h.utterance(loudAmp)
	h.utterance(loudAmp)
	h.stop()

	if got := originals(h); !equal(got, []string{"so we went to the market"}) {
		t.Errorf("messages = %q, want one merged message", got)
	}
}

func TestSession_FragmentStrategyExpires(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.Strategy = pipeline.StrategyFragment
	set.AutoTranslateMinChars = 1000
	set.MergeWindow = 500 * time.Millisecond
	h := newHarness(t, set)
	h.stt.Text = "a lonely fragment"
	h.start()
	h.utterance(loudAmp)

	// Keep ticking until the merge window has passed and the fragment is
	// emitted on its own.
	notify := h.sink.Notify()
	deadline := time.After(5 * time.Second)
	for len(h.sink.Snapshot()) == 0 {
		h.step(0)
		select {
		case <-notify:
		case <-deadline:
			t.Fatal("fragment was never emitted")
		default:
		}
	}
	h.stop()

	if got := originals(h); !equal(got, []string{"a lonely fragment"}) {
		t.Errorf("messages = %q", got)
	}
}

func TestSession_RunTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings())
	h.start()
	h.stop()

	if err := h.sess.Run(context.Background()); !errors.Is(err, pipeline.ErrStopped) {
		t.Errorf("second Run = %v, want ErrStopped", err)
	}
}

func TestSession_ContextCancelStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings())
	h.stt.Text = "Cut short by cancel."
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.sess.Run(ctx) }()
	for range loudTicks {
		h.step(loudAmp)
	}
	cancel()

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := originals(h); !equal(got, []string{"Cut short by cancel."}) {
		t.Errorf("messages = %q, want in-flight work completed", got)
	}
}

func TestNew_MissingCredential(t *testing.T) {
	t.Parallel()

	src := audiomock.NewSource()
	_, err := pipeline.New(src, &sttmock.Provider{MissingCredential: true}, &trmock.Provider{}, &msgmock.Sink{},
		pipeline.Static(testSettings()))
	if !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("New = %v, want ErrMissingCredential", err)
	}
	if src.CallCountStart != 0 {
		t.Errorf("source started %d times, want 0", src.CallCountStart)
	}
}

func TestSession_SourceStartError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings())
	h.src.StartErr = errors.New("no microphone")
	if err := h.sess.Run(context.Background()); err == nil {
		t.Fatal("Run = nil, want start error")
	}
}
