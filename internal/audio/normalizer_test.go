package audio

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine generates seconds of a pure tone at the given frequency and rate.
func sine(freq float64, seconds float64, rate int) []float64 {
	n := int(seconds * float64(rate))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// scanParams shortens the confirmation threshold so tests don't need five
// seconds of synthetic tone per case.
func scanParams() Params {
	p := DefaultParams()
	p.ConfirmDuration = 1 * time.Second
	return p
}

func TestMidiFromHz(t *testing.T) {
	t.Run("concert A", func(t *testing.T) {
		assert.InDelta(t, 69, midiFromHz(440), 0.001)
	})

	t.Run("attention tone pair falls inside the band", func(t *testing.T) {
		p := DefaultParams()
		for _, freq := range []float64{853, 960} {
			midi := midiFromHz(freq)
			assert.Greater(t, midi, p.ToneMinMIDI, "%.0f Hz should be above the band floor", freq)
			assert.Less(t, midi, p.ToneMaxMIDI, "%.0f Hz should be below the band ceiling", freq)
		}
	})

	t.Run("speech-range pitch falls outside the band", func(t *testing.T) {
		p := DefaultParams()
		for _, freq := range []float64{120, 220, 440, 2000} {
			midi := midiFromHz(freq)
			outside := midi <= p.ToneMinMIDI || midi >= p.ToneMaxMIDI
			assert.True(t, outside, "%.0f Hz should be outside the band", freq)
		}
	})

	t.Run("non-positive frequency has no pitch", func(t *testing.T) {
		assert.Equal(t, float64(-1), midiFromHz(0))
		assert.Equal(t, float64(-1), midiFromHz(-5))
	})
}

func TestYinEstimator(t *testing.T) {
	p := DefaultParams()
	yin := newYinEstimator(p.WindowSize, p.SampleRate, p.YinThreshold)

	t.Run("estimates a pure tone", func(t *testing.T) {
		for _, freq := range []float64{220, 440, 853, 960} {
			window := sine(freq, 0.5, p.SampleRate)[:p.WindowSize]
			got := yin.estimateHz(window)
			assert.InDelta(t, freq, got, freq*0.02, "estimate for %.0f Hz", freq)
		}
	})

	t.Run("silence has no pitch", func(t *testing.T) {
		window := make([]float64, p.WindowSize)
		assert.Equal(t, float64(-1), yin.estimateHz(window))
	})

	t.Run("short window has no pitch", func(t *testing.T) {
		assert.Equal(t, float64(-1), yin.estimateHz(make([]float64, 16)))
	})
}

func TestScanAttentionTone(t *testing.T) {
	p := scanParams()

	t.Run("sustained in-band tone confirms with cut at run end", func(t *testing.T) {
		// 0.5 s of out-of-band tone, 2 s of attention-band tone, then
		// 1 s of out-of-band tail.
		signal := concat(
			sine(220, 0.5, p.SampleRate),
			sine(880, 2.0, p.SampleRate),
			sine(220, 1.0, p.SampleRate),
		)

		confirmed, cut := scanAttentionTone(signal, p)
		require.True(t, confirmed)
		// The run ends 2.5 s in; allow slack for window alignment.
		assert.InDelta(t, 2.5, cut, 0.3)
	})

	t.Run("tone shorter than the threshold never confirms", func(t *testing.T) {
		signal := concat(
			sine(220, 1.0, p.SampleRate),
			sine(880, 0.4, p.SampleRate),
			sine(220, 1.0, p.SampleRate),
		)

		confirmed, _ := scanAttentionTone(signal, p)
		assert.False(t, confirmed)
	})

	t.Run("later confirmed run supersedes an earlier one", func(t *testing.T) {
		signal := concat(
			sine(880, 1.5, p.SampleRate),
			sine(220, 1.0, p.SampleRate),
			sine(880, 1.5, p.SampleRate),
			sine(220, 0.5, p.SampleRate),
		)

		confirmed, cut := scanAttentionTone(signal, p)
		require.True(t, confirmed)
		// The second run ends 4 s in.
		assert.InDelta(t, 4.0, cut, 0.3)
	})

	t.Run("out-of-band tone never confirms", func(t *testing.T) {
		confirmed, _ := scanAttentionTone(sine(440, 3, p.SampleRate), p)
		assert.False(t, confirmed)
	})

	t.Run("interrupted run resets the counter", func(t *testing.T) {
		// Two 0.6 s bursts separated by a gap; neither alone reaches the
		// 1 s threshold, and the gap must prevent them accumulating.
		signal := concat(
			sine(880, 0.6, p.SampleRate),
			sine(220, 0.5, p.SampleRate),
			sine(880, 0.6, p.SampleRate),
		)

		confirmed, _ := scanAttentionTone(signal, p)
		assert.False(t, confirmed)
	})
}

func TestTrims(t *testing.T) {
	rate := 16000

	t.Run("trim lead drops audio before the cut", func(t *testing.T) {
		samples := make([]float64, 10*rate)
		got := trimLead(samples, 2.5, rate)
		assert.Len(t, got, 10*rate-2*rate-rate/2)
	})

	t.Run("trim tail keeps audio before the cut", func(t *testing.T) {
		samples := make([]float64, 10*rate)
		got := trimTail(samples, 6, rate)
		assert.Len(t, got, 6*rate)
	})

	t.Run("cuts are clamped to the signal", func(t *testing.T) {
		samples := make([]float64, rate)
		assert.Len(t, trimLead(samples, 5, rate), 0)
		assert.Len(t, trimTail(samples, 5, rate), rate)
		assert.Len(t, trimTail(samples, -1, rate), 0)
	})
}

func TestFetch(t *testing.T) {
	logger := zerolog.Nop()
	params := DefaultParams()

	t.Run("accepts MPEG audio", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("mp3 bytes"))
		}))
		defer srv.Close()

		n := NewNormalizer(time.Second, params, logger)
		path := filepath.Join(t.TempDir(), "source-audio.mp3")
		require.NoError(t, n.Fetch(context.Background(), srv.URL, path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "mp3 bytes", string(data))
	})

	t.Run("rejects other content types", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>not audio</html>"))
		}))
		defer srv.Close()

		n := NewNormalizer(time.Second, params, logger)
		path := filepath.Join(t.TempDir(), "source-audio.mp3")
		err := n.Fetch(context.Background(), srv.URL, path)
		assert.ErrorIs(t, err, ErrBadContentType)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "rejected download must not leave a file")
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		n := NewNormalizer(time.Second, params, logger)
		err := n.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "a.mp3"))
		assert.Error(t, err)
	})
}
