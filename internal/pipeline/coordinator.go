package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/interpreta/internal/capture"
	"github.com/MrWong99/interpreta/internal/observe"
	"github.com/MrWong99/interpreta/internal/segment"
	"github.com/MrWong99/interpreta/internal/text"
	"github.com/MrWong99/interpreta/internal/transcript"
	"github.com/MrWong99/interpreta/pkg/audio"
)

var errEmptyTranslation = errors.New("empty translation")

type segResult struct {
	seq      uint64
	text     string
	outcome  string
	duration time.Duration
	err      error
}

type trResult struct {
	id   int64
	text string
	err  error
}

// coordinator is the state owned by the Run goroutine. Nothing in it is
// touched from elsewhere except the result channels and the writer.
type coordinator struct {
	s *Session

	// ctx is detached from the session context: gateway and sink calls
	// that already started are allowed to finish.
	ctx context.Context

	conv     audio.Converter
	analyzer *capture.Analyzer
	detector *capture.Detector
	recorder *segment.Recorder
	acc      text.Accumulator
	merger   text.Merger
	grouper  text.Grouper
	dedup    *text.Deduplicator
	out      *writer

	set Settings

	seq      uint64
	nextSeq  uint64
	pending  map[uint64]segResult
	segs     chan segResult
	segsLeft int
	trs      chan trResult
	trsLeft  int
	nextID   int64
}

func newCoordinator(s *Session, ctx context.Context) *coordinator {
	c := &coordinator{
		s:        s,
		ctx:      ctx,
		conv:     audio.Converter{Target: s.format},
		analyzer: capture.NewAnalyzer(s.format.SampleRate, s.analyzerOpts...),
		detector: capture.NewDetector(),
		recorder: segment.NewRecorder(s.format),
		dedup:    text.NewDeduplicator(s.dedupWindow),
		pending:  make(map[uint64]segResult),
		segs:     make(chan segResult),
		trs:      make(chan trResult),
	}
	c.out = newWriter(s.sink, c.written)
	return c
}

func (c *coordinator) begin(now time.Time) {
	c.set = c.s.settings()
	c.apply(c.detector.Start(now), now)
}

func (c *coordinator) loop(ctx context.Context, frames <-chan audio.Frame, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.s.stop:
			return
		case f, ok := <-frames:
			if !ok {
				c.s.log.Info("audio source ended")
				return
			}
			c.frame(f)
		case now := <-ticks:
			if !c.drainFrames(frames) {
				c.s.log.Info("audio source ended")
				return
			}
			c.tick(now)
		case r := <-c.segs:
			c.segmentDone(r)
		case r := <-c.trs:
			c.translated(r)
		}
	}
}

// drainFrames consumes every frame already queued so a tick analyses the
// freshest audio. It returns false when the source has ended.
func (c *coordinator) drainFrames(frames <-chan audio.Frame) bool {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return false
			}
			c.frame(f)
		default:
			return true
		}
	}
}

func (c *coordinator) frame(f audio.Frame) {
	f = c.conv.Convert(f)
	if len(f.Data) == 0 {
		return
	}
	c.analyzer.Write(f.Data)
	c.recorder.Write(f.Data)
}

func (c *coordinator) tick(now time.Time) {
	c.set = c.s.settings()
	sample := c.analyzer.Analyze(c.set.Band, now)
	c.apply(c.detector.Step(sample, c.set.Capture), now)

	if c.set.Strategy == StrategyFragment {
		if t, ok := c.merger.Expire(now, c.set.MergeWindow); ok {
			c.emitFragment(t, now)
		}
	}
}

// apply carries out a detector decision on the recorder.
func (c *coordinator) apply(dec capture.Decision, now time.Time) {
	if dec.Transitioned() {
		c.s.state.Store(int32(dec.To))
		c.s.log.Debug("capture state changed", "from", dec.From, "to", dec.To, "reason", dec.Reason)
	}
	switch dec.Action {
	case capture.ActionStart:
		if err := c.recorder.Start(now); err != nil {
			c.s.report(c.ctx, &Error{Stage: StageCapture, Seq: c.seq, Err: err})
		}
	case capture.ActionFinalize:
		seg, err := c.recorder.Stop()
		if err != nil {
			c.s.report(c.ctx, &Error{Stage: StageCapture, Seq: c.seq, Err: err})
			return
		}
		c.dispatch(seg)
	case capture.ActionDiscard:
		c.recorder.Cancel()
		c.s.metrics.RecordSegment(c.ctx, observe.SegmentDiscarded, dec.Duration)
		c.s.log.Debug("recording discarded", "duration", dec.Duration, "reason", dec.Reason)
	}
}

// dispatch validates and transcribes seg in its own goroutine.
func (c *coordinator) dispatch(seg audio.Segment) {
	seq := c.seq
	c.seq++
	c.segsLeft++
	lang := c.set.SourceLang
	go func() { c.segs <- c.transcribe(seq, seg, lang) }()
}

func (c *coordinator) transcribe(seq uint64, seg audio.Segment, lang string) segResult {
	r := segResult{seq: seq, duration: seg.Duration}

	v := c.s.validator.Validate(seg)
	if !v.Transcribable() {
		r.outcome = observe.SegmentRejected
		c.s.log.Debug("segment rejected",
			"seq", seq, "valid", v.Valid, "rms", v.RMS, "avg_amplitude", v.AvgAmplitude)
		return r
	}

	ctx, span := observe.StartGatewaySpan(c.ctx, "stt", c.s.sttName)
	start := time.Now()
	out, err := c.s.stt.Transcribe(ctx, seg, lang)
	c.s.metrics.RecordProviderCall(ctx, c.s.metrics.STTDuration, c.s.sttName, "stt", time.Since(start), err)
	span.End()

	switch {
	case err != nil:
		r.err = err
	case strings.TrimSpace(out) == "":
		r.outcome = observe.SegmentEmpty
	default:
		r.outcome = observe.SegmentTranscribed
		r.text = out
	}
	return r
}

// segmentDone buffers r and handles every result that is next in capture
// order.
func (c *coordinator) segmentDone(r segResult) {
	c.segsLeft--
	c.pending[r.seq] = r
	for {
		next, ok := c.pending[c.nextSeq]
		if !ok {
			return
		}
		delete(c.pending, c.nextSeq)
		c.nextSeq++
		c.handleSegment(next)
	}
}

func (c *coordinator) handleSegment(r segResult) {
	if r.err != nil {
		c.s.metrics.RecordSegment(c.ctx, observe.SegmentFailed, r.duration)
		c.s.report(c.ctx, &Error{Stage: StageSTT, Seq: r.seq, Err: r.err})
		return
	}
	c.s.metrics.RecordSegment(c.ctx, r.outcome, r.duration)
	if r.text != "" {
		c.handleTranscript(r.text)
	}
}

func (c *coordinator) handleTranscript(raw string) {
	c.set = c.s.settings()
	t := raw
	if c.s.corrector != nil {
		var fixes []transcript.Correction
		t, fixes = c.s.corrector.Correct(t)
		if len(fixes) > 0 {
			c.s.log.Debug("transcript corrected", "corrections", len(fixes))
		}
	}
	if text.Meaningless(t, c.set.Filter) {
		if c.set.Filter.ClearFragments {
			c.merger.Clear()
		}
		c.s.log.Debug("transcript dropped as meaningless", "text", t)
		return
	}

	now := c.s.now()
	if c.set.Strategy == StrategyFragment {
		if res := c.merger.Add(t, now, c.set.MergeWindow, c.set.AutoTranslateMinChars); res.Emit {
			c.emitFragment(res.Text, now)
		}
		return
	}

	for _, sentence := range c.acc.Extract(t) {
		c.addSentence(sentence, now)
	}
	if c.grouper.Len() > 0 && text.ShouldAutoTranslate(c.grouper.Pending(), c.set.AutoTranslateMinChars) {
		if unit, ok := c.grouper.Flush(); ok {
			c.emit(unit, now, time.Time{})
		}
	}
}

func (c *coordinator) addSentence(sentence string, now time.Time) {
	if !c.dedup.Admit(sentence) {
		c.s.log.Debug("duplicate sentence dropped", "sentence", sentence)
		return
	}
	for _, unit := range c.grouper.Add(sentence, c.set.SentencesPerCard) {
		c.emit(unit, now, time.Time{})
	}
}

// emitFragment splits merged fragment text into units spaced Stagger apart.
func (c *coordinator) emitFragment(t string, now time.Time) {
	if !c.dedup.Admit(t) {
		c.s.log.Debug("duplicate fragment dropped", "text", t)
		return
	}
	wall := time.Now()
	for i, unit := range text.SplitByChars(t, c.set.ChunkMaxChars, c.set.ChunkMinChars) {
		offset := time.Duration(i) * c.set.Stagger
		var notBefore time.Time
		if offset > 0 {
			notBefore = wall.Add(offset)
		}
		c.emit(unit, now.Add(offset), notBefore)
	}
}

// emit assigns the next message id, queues the create and starts the
// translation.
func (c *coordinator) emit(unit string, at, notBefore time.Time) {
	c.nextID++
	id := c.nextID
	c.out.enqueue(sinkOp{kind: opCreate, id: id, text: unit, at: at, notBefore: notBefore})

	c.trsLeft++
	src, tgt := c.set.SourceLang, c.set.TargetLang
	go func() { c.trs <- c.translate(id, unit, src, tgt) }()
}

func (c *coordinator) translate(id int64, unit, src, tgt string) trResult {
	ctx, span := observe.StartGatewaySpan(c.ctx, "translate", c.s.trName)
	start := time.Now()
	out, err := c.s.tr.Translate(ctx, unit, src, tgt)
	c.s.metrics.RecordProviderCall(ctx, c.s.metrics.TranslateDuration, c.s.trName, "translate", time.Since(start), err)
	span.End()
	if err == nil && strings.TrimSpace(out) == "" {
		err = errEmptyTranslation
	}
	return trResult{id: id, text: out, err: err}
}

func (c *coordinator) translated(r trResult) {
	c.trsLeft--
	if r.err != nil {
		c.s.report(c.ctx, &Error{Stage: StageTranslate, MessageID: r.id, Err: r.err})
		return
	}
	c.out.enqueue(sinkOp{kind: opTranslate, id: r.id, text: r.text})
}

// written runs on the writer goroutine after each sink operation.
func (c *coordinator) written(op sinkOp, err error) {
	if err != nil {
		c.s.report(c.ctx, &Error{Stage: StageSink, MessageID: op.id, Err: err})
		return
	}
	name := "created"
	if op.kind == opTranslate {
		name = "translated"
	}
	c.s.metrics.RecordMessage(c.ctx, name)
}

// shutdown ends the active recording.
func (c *coordinator) shutdown() {
	now := c.s.now()
	c.apply(c.detector.Stop(now, c.set.Capture), now)
}

// drain waits for in-flight transcriptions, flushes buffered text, waits for
// translations and finally for the sink writer.
func (c *coordinator) drain() {
	for c.segsLeft > 0 {
		select {
		case r := <-c.segs:
			c.segmentDone(r)
		case r := <-c.trs:
			c.translated(r)
		}
	}

	c.set = c.s.settings()
	now := c.s.now()
	if sentence, ok := c.acc.Flush(); ok {
		c.addSentence(sentence, now)
	}
	if unit, ok := c.grouper.Flush(); ok {
		c.emit(unit, now, time.Time{})
	}
	if t, ok := c.merger.Flush(); ok {
		c.emitFragment(t, now)
	}

	for c.trsLeft > 0 {
		c.translated(<-c.trs)
	}
	c.out.close()
	<-c.out.done
}
