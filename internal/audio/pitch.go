package audio

import "math"

// yinEstimator is an autocorrelation-family single-pitch estimator
// (YIN: de Cheveigné & Kawahara 2002). It produces one monophonic pitch
// estimate per analysis window, which the tone scan converts to a
// logarithmic MIDI-style unit for band matching.
type yinEstimator struct {
	winSize    int
	sampleRate int
	threshold  float64
	diff       []float64 // cumulative-mean-normalized difference, reused per window
}

func newYinEstimator(winSize, sampleRate int, threshold float64) *yinEstimator {
	return &yinEstimator{
		winSize:    winSize,
		sampleRate: sampleRate,
		threshold:  threshold,
		diff:       make([]float64, winSize/2),
	}
}

// estimateHz returns the estimated fundamental frequency of the window in
// Hz, or -1 when no pitch clears the threshold (silence, noise, or
// polyphony the estimator cannot resolve).
func (y *yinEstimator) estimateHz(window []float64) float64 {
	if len(window) < y.winSize {
		return -1
	}
	half := y.winSize / 2
	d := y.diff

	// Difference function d(tau).
	d[0] = 0
	for tau := 1; tau < half; tau++ {
		sum := 0.0
		for i := 0; i < half; i++ {
			delta := window[i] - window[i+tau]
			sum += delta * delta
		}
		d[tau] = sum
	}

	// Cumulative mean normalization. d'(0) is defined as 1.
	running := 0.0
	d[0] = 1
	for tau := 1; tau < half; tau++ {
		running += d[tau]
		if running == 0 {
			// Dead silence, nothing to estimate.
			return -1
		}
		d[tau] = d[tau] * float64(tau) / running
	}

	// First dip below the threshold, then descend to its local minimum.
	for tau := 2; tau < half; tau++ {
		if d[tau] < y.threshold {
			for tau+1 < half && d[tau+1] < d[tau] {
				tau++
			}
			return float64(y.sampleRate) / y.interpolate(tau)
		}
	}
	return -1
}

// interpolate refines an integer lag by parabolic interpolation over its
// neighbors. Without this, a 960 Hz tone at a 16 kHz working rate would
// quantize to the nearest whole lag and drift out of the match band.
func (y *yinEstimator) interpolate(tau int) float64 {
	if tau <= 0 || tau >= len(y.diff)-1 {
		return float64(tau)
	}
	s0, s1, s2 := y.diff[tau-1], y.diff[tau], y.diff[tau+1]
	denom := 2 * (s0 - 2*s1 + s2)
	if denom == 0 {
		return float64(tau)
	}
	return float64(tau) + (s0-s2)/denom
}

// midiFromHz converts a frequency to the logarithmic semitone unit used by
// the tone band constants (MIDI note numbers, A4 = 440 Hz = 69).
func midiFromHz(hz float64) float64 {
	if hz <= 0 {
		return -1
	}
	return 69 + 12*math.Log2(hz/440)
}
