// Package audio normalizes alert audio for redistribution: it fetches the
// upstream MP3, scans the decoded signal for the North American broadcast
// attention tone, trims the tone and everything before it plus a fixed
// trailing span, and re-encodes the result at a fixed bitrate.
//
// Every step can fail without aborting the parent alert's storage; failure
// degrades to "no audio attached".
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrBadContentType reports an audio download whose declared content type
// does not indicate MPEG audio. Such responses are rejected rather than
// silently accepted.
var ErrBadContentType = errors.New("audio URL did not resolve to MPEG audio")

// Params hold the empirically calibrated tone-scan and trim constants.
// They are calibrated, not derived: the tone band was measured against real
// 853/960 Hz attention tones at the working rate, and the confirmation
// duration debounces single-window pitch misestimates against the much
// longer, highly stable real tone.
type Params struct {
	SampleRate      int           // mono working rate for analysis and trims
	WindowSize      int           // analysis window, in samples
	HopSize         int           // step between analysis windows, in samples
	ToneMinMIDI     float64       // lower edge of the attention-tone band (exclusive)
	ToneMaxMIDI     float64       // upper edge of the attention-tone band (exclusive)
	ConfirmDuration time.Duration // consecutive in-band time required to confirm a tone
	TrailTrim       time.Duration // fixed trailing span removed in place of EOM detection
	YinThreshold    float64
	BitrateKbps     int
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		SampleRate:      16000,
		WindowSize:      4096,
		HopSize:         512,
		ToneMinMIDI:     77,
		ToneMaxMIDI:     83,
		ConfirmDuration: 5 * time.Second,
		TrailTrim:       4 * time.Second,
		YinThreshold:    0.8,
		BitrateKbps:     192,
	}
}

// Normalizer fetches and normalizes alert audio.
type Normalizer struct {
	httpClient *http.Client
	params     Params
	logger     zerolog.Logger
}

// NewNormalizer creates a normalizer. The fetch timeout is explicit because
// audio processing runs inline with ingestion; a hanging download would
// otherwise stall the whole cycle.
func NewNormalizer(fetchTimeout time.Duration, params Params, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
		params: params,
		logger: logger.With().Str("component", "audio").Logger(),
	}
}

// Fetch downloads the audio resource to path. The response must declare an
// MPEG audio content type; anything else is a format error.
func (n *Normalizer) Fetch(ctx context.Context, url, path string) error {
	n.logger.Debug().Str("url", url).Msg("Downloading alert audio")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create audio request: %w", err)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("audio download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status %d downloading audio", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !isMPEGAudio(ct) {
		return fmt.Errorf("%w (got %q)", ErrBadContentType, ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio response: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to store downloaded audio: %w", err)
	}

	n.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("Audio downloaded successfully")
	return nil
}

func isMPEGAudio(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "audio/mpeg") || strings.HasPrefix(ct, "audio/mp3")
}

// Normalize decodes srcPath, removes the attention tone and everything
// before it when one is confirmed, unconditionally trims the fixed trailing
// span, and encodes the result to dstPath. The decoded intermediate signal
// exists only in memory.
func (n *Normalizer) Normalize(srcPath, dstPath string) error {
	samples, err := decodeMP3(srcPath, n.params.SampleRate)
	if err != nil {
		return err
	}
	duration := sampleSeconds(len(samples), n.params.SampleRate)
	n.logger.Debug().Float64("seconds", duration).Msg("Decoded audio to working format")

	confirmed, cutPoint := scanAttentionTone(samples, n.params)
	if confirmed {
		n.logger.Info().Float64("cutSeconds", cutPoint).Msg("Found an attention tone, trimming lead audio")
		samples = trimLead(samples, cutPoint, n.params.SampleRate)
	} else {
		n.logger.Warn().Msg("Did not detect an attention tone in this audio")
	}

	// Fixed trailing trim standing in for end-of-message detection; there
	// is no EOM detector, only this documented placeholder.
	tailCut := sampleSeconds(len(samples), n.params.SampleRate) - n.params.TrailTrim.Seconds()
	if tailCut < 0 {
		tailCut = 0
	}
	samples = trimTail(samples, tailCut, n.params.SampleRate)

	if err := encodeMP3(dstPath, samples, n.params.SampleRate, n.params.BitrateKbps); err != nil {
		return err
	}
	n.logger.Debug().Str("path", dstPath).Msg("Normalized audio encoded")
	return nil
}

// scanAttentionTone walks the signal in hop-sized steps, estimating one
// pitch per window over the trailing WindowSize samples. Consecutive
// in-band windows accumulate a run; the run is confirmed once it spans
// ConfirmDuration, and from then on each further in-band window advances
// the cut point, so the cut lands at the end of the most recent confirmed
// run. Returns whether a tone was confirmed and the cut point in seconds.
func scanAttentionTone(samples []float64, p Params) (bool, float64) {
	confirmWindows := int(p.ConfirmDuration.Seconds() * float64(p.SampleRate) / float64(p.HopSize))

	yin := newYinEstimator(p.WindowSize, p.SampleRate, p.YinThreshold)
	window := make([]float64, p.WindowSize)

	hitRun := 0
	lastHit := 0 // sample offset of the end of the last confirmed in-band window
	confirmed := false

	for end := p.HopSize; end <= len(samples); end += p.HopSize {
		fillWindow(window, samples, end)

		midi := midiFromHz(yin.estimateHz(window))
		if midi > p.ToneMinMIDI && midi < p.ToneMaxMIDI {
			hitRun++
			if hitRun > confirmWindows {
				confirmed = true
				lastHit = end
			}
		} else {
			hitRun = 0
		}
	}

	return confirmed, sampleSeconds(lastHit, p.SampleRate)
}

// fillWindow copies the len(window) samples ending at end, zero-padding on
// the left while the signal is shorter than one full window.
func fillWindow(window, samples []float64, end int) {
	start := end - len(window)
	if start >= 0 {
		copy(window, samples[start:end])
		return
	}
	pad := -start
	for i := 0; i < pad; i++ {
		window[i] = 0
	}
	copy(window[pad:], samples[:end])
}

// trimLead drops all audio before the cut point.
func trimLead(samples []float64, cutSeconds float64, sampleRate int) []float64 {
	cut := int(cutSeconds * float64(sampleRate))
	if cut < 0 {
		cut = 0
	}
	if cut > len(samples) {
		cut = len(samples)
	}
	return samples[cut:]
}

// trimTail drops all audio after the cut point.
func trimTail(samples []float64, cutSeconds float64, sampleRate int) []float64 {
	cut := int(cutSeconds * float64(sampleRate))
	if cut < 0 {
		cut = 0
	}
	if cut > len(samples) {
		cut = len(samples)
	}
	return samples[:cut]
}

// sampleSeconds converts a sample count at the given rate to seconds.
func sampleSeconds(count, sampleRate int) float64 {
	return float64(count) / float64(sampleRate)
}
