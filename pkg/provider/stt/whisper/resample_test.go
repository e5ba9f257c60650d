package whisper

import (
	"testing"

	"github.com/MrWong99/interpreta/pkg/audio"
)

func TestResample(t *testing.T) {
	t.Parallel()

	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(i)
	}

	if got := resample(in, 16000, 16000); len(got) != len(in) {
		t.Errorf("same rate: len = %d, want %d", len(got), len(in))
	}
	down := resample(in, 48000, 16000)
	if len(down) != 160 {
		t.Fatalf("48k→16k: len = %d, want 160", len(down))
	}
	if down[1] != 3 {
		t.Errorf("down[1] = %v, want 3", down[1])
	}
	up := resample([]float32{0, 1}, 8000, 16000)
	if len(up) != 4 || up[1] != 0.5 {
		t.Errorf("8k→16k = %v, want [0 0.5 1 1]", up)
	}
}

func TestModelInput_RawPCM(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 32000, Channels: 2}
	seg := audio.Segment{Data: make([]byte, 3200*2*2), MIME: "audio/pcm", Format: f}
	got, err := modelInput(seg)
	if err != nil {
		t.Fatalf("modelInput: %v", err)
	}
	if len(got) != 1600 {
		t.Errorf("len = %d, want 1600", len(got))
	}
}

func TestModelInput_BadWAV(t *testing.T) {
	t.Parallel()

	if _, err := modelInput(audio.Segment{Data: []byte("junk"), MIME: audio.MIMEWAV}); err == nil {
		t.Fatal("expected error for invalid WAV, got nil")
	}
}
