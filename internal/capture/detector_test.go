package capture_test

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/interpreta/internal/capture"
)

var t0 = time.Unix(1_700_000_000, 0)

const tick = 100 * time.Millisecond

func testSettings() capture.Settings {
	return capture.Settings{
		Threshold:        20,
		SilenceDuration:  time.Second,
		MinRecording:     500 * time.Millisecond,
		MaxRecording:     30 * time.Second,
		RestartDelay:     200 * time.Millisecond,
		EnergyRatioMin:   0.3,
		StabilityMax:     0.1,
		StabilitySamples: 5,
	}
}

func at(i int) time.Time { return t0.Add(time.Duration(i) * tick) }

func loud(i int) capture.Sample { return capture.Sample{Energy: 100, VoiceRatio: 0.9, At: at(i)} }

func quiet(i int) capture.Sample { return capture.Sample{Energy: 5, VoiceRatio: 0.1, At: at(i)} }

func TestDetector_NeverStartsBelowMargin(t *testing.T) {
	t.Parallel()

	set := testSettings()
	rng := rand.New(rand.NewPCG(1, 2))

	d := capture.NewDetector()
	d.Start(t0)
	for i := range 2000 {
		// Everything strictly below 1.5 × threshold, with a voice ratio and a
		// steady level that would otherwise look like speech.
		e := rng.Float64() * set.Threshold * 1.5 * 0.999
		dec := d.Step(capture.Sample{Energy: e, VoiceRatio: 1, At: at(i)}, set)
		if dec.Action != capture.ActionNone {
			t.Fatalf("step %d (energy %.2f): action %v, want none", i, e, dec.Action)
		}
	}

	d2 := capture.NewDetector()
	d2.Start(t0)
	for i := range 100 {
		if dec := d2.Step(capture.Sample{Energy: 29.9, VoiceRatio: 1, At: at(i)}, set); dec.Action != capture.ActionNone {
			t.Fatalf("steady 29.9: step %d action %v, want none", i, dec.Action)
		}
	}
}

func TestDetector_IdleIgnoresSamples(t *testing.T) {
	t.Parallel()

	d := capture.NewDetector()
	if dec := d.Step(loud(0), testSettings()); dec.Action != capture.ActionNone || d.State() != capture.StateIdle {
		t.Fatalf("idle Step = %+v, state %v; want no action and idle", dec, d.State())
	}
	if dec := d.Start(t0); !dec.Transitioned() || d.State() != capture.StateListening {
		t.Fatalf("Start = %+v, want idle → listening", dec)
	}
}

func TestDetector_SilenceTimeoutFinalizesOnce(t *testing.T) {
	t.Parallel()

	set := testSettings()
	d := capture.NewDetector()
	d.Start(t0)

	if dec := d.Step(loud(0), set); dec.Action != capture.ActionStart {
		t.Fatalf("loud sample: action %v, want start", dec.Action)
	}
	for i := 1; i <= 5; i++ {
		if dec := d.Step(loud(i), set); dec.Action != capture.ActionNone {
			t.Fatalf("step %d: action %v, want none", i, dec.Action)
		}
	}

	var finals []capture.Decision
	var finalAt int
	for i := 6; i <= 40; i++ {
		dec := d.Step(quiet(i), set)
		if dec.Action == capture.ActionFinalize || dec.Action == capture.ActionDiscard {
			finals = append(finals, dec)
			finalAt = i
		}
	}
	if len(finals) != 1 {
		t.Fatalf("got %d finalize decisions, want exactly 1", len(finals))
	}
	if finals[0].Action != capture.ActionFinalize || finals[0].Reason != capture.ReasonSilence {
		t.Errorf("decision = %+v, want finalize/silence", finals[0])
	}
	// Silence armed at step 6, one second later is step 16.
	if finalAt != 16 {
		t.Errorf("finalized at step %d, want 16", finalAt)
	}
	if finals[0].Duration != 1600*time.Millisecond {
		t.Errorf("Duration = %v, want 1.6s", finals[0].Duration)
	}
	if d.State() != capture.StateListening {
		t.Errorf("state = %v, want listening", d.State())
	}
}

func TestDetector_SilenceTimerCancelledBySpeech(t *testing.T) {
	t.Parallel()

	set := testSettings()
	d := capture.NewDetector()
	d.Start(t0)
	d.Step(loud(0), set)

	// Alternate 0.8s of quiet with a loud sample; the timer never expires.
	i := 1
	for range 5 {
		for range 8 {
			if dec := d.Step(quiet(i), set); dec.Action != capture.ActionNone {
				t.Fatalf("step %d: action %v, want none", i, dec.Action)
			}
			i++
		}
		if dec := d.Step(loud(i), set); dec.Action != capture.ActionNone {
			t.Fatalf("step %d: action %v, want none", i, dec.Action)
		}
		i++
	}
	if d.State() != capture.StateRecording {
		t.Fatalf("state = %v, want recording", d.State())
	}
}

func TestDetector_MaxDurationCutoff(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.MaxRecording = 3 * time.Second

	d := capture.NewDetector()
	d.Start(t0)

	var starts, finals []int
	for i := 0; i <= 40; i++ {
		switch dec := d.Step(loud(i), set); dec.Action {
		case capture.ActionStart:
			starts = append(starts, i)
		case capture.ActionFinalize:
			if dec.Reason != capture.ReasonMaxDuration {
				t.Fatalf("step %d: reason %q, want max_duration", i, dec.Reason)
			}
			finals = append(finals, i)
		}
	}

	if len(finals) == 0 || finals[0] != 30 {
		t.Fatalf("finalize steps = %v, want first at 30", finals)
	}
	// Restart delay of 200ms: the next recording starts two ticks later.
	if len(starts) < 2 || starts[0] != 0 || starts[1] != 32 {
		t.Errorf("start steps = %v, want [0 32 ...]", starts)
	}
}

func TestDetector_ShortRecordingDiscarded(t *testing.T) {
	t.Parallel()

	set := testSettings()
	set.SilenceDuration = 300 * time.Millisecond
	set.MinRecording = time.Second

	d := capture.NewDetector()
	d.Start(t0)
	d.Step(loud(0), set)

	var got capture.Decision
	for i := 1; i <= 10 && got.Action == capture.ActionNone; i++ {
		got = d.Step(quiet(i), set)
	}
	if got.Action != capture.ActionDiscard || got.Reason != capture.ReasonSilence {
		t.Fatalf("decision = %+v, want discard/silence", got)
	}
	if got.Duration != 400*time.Millisecond {
		t.Errorf("Duration = %v, want 400ms", got.Duration)
	}
}

func TestDetector_StabilityPathNeedsHistory(t *testing.T) {
	t.Parallel()

	set := testSettings()
	d := capture.NewDetector()
	d.Start(t0)

	steady := func(i int) capture.Sample {
		return capture.Sample{Energy: 40, VoiceRatio: 0, At: at(i)}
	}
	for i := range 4 {
		if dec := d.Step(steady(i), set); dec.Action != capture.ActionNone {
			t.Fatalf("step %d with %d history samples: action %v, want none", i, i+1, dec.Action)
		}
	}
	if dec := d.Step(steady(4), set); dec.Action != capture.ActionStart {
		t.Fatalf("step 4: action %v, want start once history is full", dec.Action)
	}
}

func TestDetector_UnstableLowRatioDoesNotStart(t *testing.T) {
	t.Parallel()

	set := testSettings()
	d := capture.NewDetector()
	d.Start(t0)

	for i := range 50 {
		e := 35.0
		if i%2 == 0 {
			e = 90
		}
		if dec := d.Step(capture.Sample{Energy: e, VoiceRatio: 0.05, At: at(i)}, set); dec.Action != capture.ActionNone {
			t.Fatalf("step %d: action %v, want none for clicks", i, dec.Action)
		}
	}
}

func TestDetector_StopFinalizesRecording(t *testing.T) {
	t.Parallel()

	set := testSettings()
	d := capture.NewDetector()
	d.Start(t0)
	d.Step(loud(0), set)
	d.Step(loud(10), set)

	dec := d.Stop(at(12), set)
	if dec.Action != capture.ActionFinalize || dec.Reason != capture.ReasonStop {
		t.Fatalf("Stop = %+v, want finalize/stop", dec)
	}
	if d.State() != capture.StateIdle || dec.To != capture.StateIdle {
		t.Errorf("state = %v, want idle", d.State())
	}
	if dec := d.Step(loud(13), set); dec.Action != capture.ActionNone {
		t.Errorf("Step after Stop: action %v, want none", dec.Action)
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []float64
		want float64
	}{
		{in: []float64{1, 1, 1}, want: 0},
		{in: []float64{2, 4}, want: 1.0 / 3},
		{in: nil, want: math.Inf(1)},
		{in: []float64{0, 0}, want: math.Inf(1)},
	}
	for _, tt := range tests {
		got := capture.CoefficientOfVariation(tt.in)
		if math.IsInf(tt.want, 1) {
			if !math.IsInf(got, 1) {
				t.Errorf("CoefficientOfVariation(%v) = %v, want +Inf", tt.in, got)
			}
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CoefficientOfVariation(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
