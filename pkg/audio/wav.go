package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// MIMEWAV is the media type of blobs produced by [EncodeWAV].
const MIMEWAV = "audio/wav"

// bitsPerSample is fixed at 16 for the PCM this package handles.
const bitsPerSample = 16

// ErrNotWAV is returned by [DecodeWAV] when the input has no valid RIFF/WAVE
// header.
var ErrNotWAV = errors.New("audio: not a valid wav file")

// EncodeWAV wraps raw 16-bit PCM in a standard RIFF/WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV decodes a WAV blob into mono samples normalised to [-1, 1].
// Multi-channel audio is averaged. The returned format describes the source.
func DecodeWAV(data []byte) ([]float32, Format, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, Format{}, ErrNotWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	channels := int(d.NumChans)
	depth := int(d.BitDepth)
	if channels < 1 || depth < 8 || depth > 32 {
		return nil, Format{}, fmt.Errorf("audio: decode wav: unsupported layout %d channels, %d bits", channels, depth)
	}
	f := Format{SampleRate: int(d.SampleRate), Channels: channels}

	scale := float32(int64(1) << (depth - 1))
	offset := 0
	if depth == 8 {
		// 8-bit WAV is unsigned.
		offset = 128
	}

	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(buf.Data[i*channels+ch]-offset) / scale
		}
		mono[i] = sum / float32(channels)
	}
	return mono, f, nil
}
