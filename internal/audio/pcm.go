package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"
	lame "github.com/viert/go-lame"
)

// decodeMP3 decodes an MP3 file and resamples it to the mono working rate.
// Samples are returned in the range [-1, 1].
func decodeMP3(path string, workingRate int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MPEG audio: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read decoded audio: %w", err)
	}

	// The decoder always emits interleaved 16-bit little-endian stereo.
	frames := len(raw) / 4
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		right := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		mono[i] = (float64(left) + float64(right)) / 2 / 32768
	}

	return resample(mono, dec.SampleRate(), workingRate), nil
}

// resample converts a mono signal between sample rates by linear
// interpolation. Linear is enough here: the scan only needs the tone band
// to survive, and the distributable encode happens at the working rate.
func resample(in []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(in) == 0 {
		return in
	}
	outLen := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	out := make([]float64, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// encodeMP3 encodes a mono signal at the working rate to an MP3 file at the
// configured fixed bitrate.
func encodeMP3(path string, samples []float64, sampleRate, bitrateKbps int) error {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(math.Round(clamp(s, -1, 1) * 32767))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	var buf bytes.Buffer
	enc := lame.NewEncoder(&buf)
	if err := enc.SetNumChannels(1); err != nil {
		enc.Close()
		return fmt.Errorf("failed to configure encoder channels: %w", err)
	}
	if err := enc.SetInSamplerate(sampleRate); err != nil {
		enc.Close()
		return fmt.Errorf("failed to configure encoder sample rate: %w", err)
	}
	if err := enc.SetBrate(bitrateKbps); err != nil {
		enc.Close()
		return fmt.Errorf("failed to configure encoder bitrate: %w", err)
	}

	if _, err := enc.Write(pcm); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode audio: %w", err)
	}
	// Close flushes the final MP3 frames into the buffer.
	enc.Close()

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write encoded audio: %w", err)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
