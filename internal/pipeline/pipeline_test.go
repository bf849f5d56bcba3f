package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cctl/boiler/internal/audio"
	"github.com/cctl/boiler/internal/cap"
	"github.com/cctl/boiler/internal/config"
	"github.com/cctl/boiler/internal/feed"
	"github.com/cctl/boiler/internal/filter"
	"github.com/cctl/boiler/internal/store"
	"github.com/cctl/boiler/internal/upstream"
)

// fakeFetcher replays one canned batch (or error) per call.
type fakeFetcher struct {
	batches [][]upstream.Record
	errs    []error
	calls   int
}

func (f *fakeFetcher) FetchActive(_ context.Context) ([]upstream.Record, error) {
	i := f.calls
	f.calls++
	var batch []upstream.Record
	if i < len(f.batches) {
		batch = f.batches[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return batch, err
}

type fixture struct {
	cfg      config.Config
	store    *store.Store
	metrics  *Metrics
	pipeline *Pipeline
}

func newFixture(t *testing.T, fetcher Fetcher, now time.Time) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.AlertsDir = filepath.Join(dir, "alerts")
	cfg.ArchiveDir = filepath.Join(dir, "archive")
	cfg.FiltersFile = filepath.Join(dir, "filters.cfg")
	cfg.Audio.StoreLocal = true

	logger := zerolog.Nop()
	st := store.New(cfg.AlertsDir, logger)
	events := map[string]string{"DMO": "Practice/Demo Warning"}
	builder := cap.NewBuilder(events, cfg.AlertsURL(), cfg.Audio.StoreLocal, cfg.TrimEncoderPrefix, logger)
	normalizer := audio.NewNormalizer(cfg.AudioTimeout(), audio.DefaultParams(), logger)
	filters := filter.NewEngine(cfg.FiltersFile, logger)
	synth := feed.NewSynthesizer(st, logger)
	metrics := NewMetrics()

	p := New(cfg, fetcher, filters, st, normalizer, builder, synth, metrics, logger)
	p.SetClock(func() time.Time { return now })

	return &fixture{cfg: cfg, store: st, metrics: metrics, pipeline: p}
}

func testRecord() upstream.Record {
	return upstream.Record{
		ID:          "T1",
		Hash:        "H1",
		EventCode:   "DMO",
		Originator:  "EAS",
		Callsign:    "WXYZ",
		FIPSCodes:   []string{"011001"},
		StartTime:   "2026-08-28T12:00:00",
		EndTime:     "2026-08-28T13:00:00",
		Translation: "Test message.",
	}
}

func readBundleFile(t *testing.T, st *store.Store, id, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(st.Root(), id, name))
	require.NoError(t, err)
	return string(data)
}

func TestRunCycle(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC)

	t.Run("persists an admitted alert end to end", func(t *testing.T) {
		fetcher := &fakeFetcher{batches: [][]upstream.Record{{testRecord()}}}
		f := newFixture(t, fetcher, now)

		f.pipeline.RunCycle(context.Background())

		doc := readBundleFile(t, f.store, "T1", store.DocumentFile)
		assert.Contains(t, doc, "<identifier>Boiler-H1</identifier>")
		assert.Contains(t, doc, "<description>Test message.</description>")
		assert.NotContains(t, doc, "<resource>", "no audio URL means no audio resource")

		snapshot := readBundleFile(t, f.store, "T1", store.SnapshotFile)
		assert.Contains(t, snapshot, `"boilerTime": "2026-08-28T12:30:00.000Z"`)

		index := readBundleFile(t, f.store, "", feed.IndexFile)
		assert.Contains(t, index, "/T1/"+store.DocumentFile)
		assert.Contains(t, index, `term="01" label="statefips"`)

		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Stored))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Admitted))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Cycles))
	})

	t.Run("second cycle skips an unchanged alert", func(t *testing.T) {
		rec := testRecord()
		fetcher := &fakeFetcher{batches: [][]upstream.Record{{rec}, {rec}}}
		f := newFixture(t, fetcher, now)

		f.pipeline.RunCycle(context.Background())
		f.pipeline.RunCycle(context.Background())

		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Stored))
		assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Admitted))
	})

	t.Run("changed alert content is re-persisted", func(t *testing.T) {
		rec := testRecord()
		changed := rec
		changed.Translation = "Updated message."
		fetcher := &fakeFetcher{batches: [][]upstream.Record{{rec}, {changed}}}
		f := newFixture(t, fetcher, now)

		f.pipeline.RunCycle(context.Background())
		f.pipeline.RunCycle(context.Background())

		assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Stored))
		doc := readBundleFile(t, f.store, "T1", store.DocumentFile)
		assert.Contains(t, doc, "Updated message.")
	})

	t.Run("blocked alert is not persisted", func(t *testing.T) {
		rules := `{"block demos": {"events": "DMO", "allow": false}}`
		fetcher := &fakeFetcher{batches: [][]upstream.Record{{testRecord()}}}
		f := newFixture(t, fetcher, now)
		require.NoError(t, os.WriteFile(f.cfg.FiltersFile, []byte(rules), 0o644))

		f.pipeline.RunCycle(context.Background())

		_, err := os.Stat(filepath.Join(f.store.Root(), "T1"))
		assert.True(t, os.IsNotExist(err))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Blocked))
		assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.Stored))
	})

	t.Run("record expired at ingest is skipped without error", func(t *testing.T) {
		rec := testRecord()
		rec.EndTime = "2026-08-28T12:00:00"
		fetcher := &fakeFetcher{batches: [][]upstream.Record{{rec}}}
		f := newFixture(t, fetcher, now)

		f.pipeline.RunCycle(context.Background())

		_, err := os.Stat(filepath.Join(f.store.Root(), "T1"))
		assert.True(t, os.IsNotExist(err))
		assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.RecordFailures))
	})

	t.Run("record without an identifier is counted as a failure", func(t *testing.T) {
		rec := testRecord()
		rec.ID = ""
		fetcher := &fakeFetcher{batches: [][]upstream.Record{{rec, testRecord()}}}
		f := newFixture(t, fetcher, now)

		f.pipeline.RunCycle(context.Background())

		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RecordFailures))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Stored),
			"the bad record must not block the rest of the batch")
	})

	t.Run("failed poll still rebuilds the feed and expires alerts", func(t *testing.T) {
		rec := testRecord()
		fetcher := &fakeFetcher{
			batches: [][]upstream.Record{{rec}, nil},
			errs:    []error{nil, errors.New("upstream down")},
		}
		f := newFixture(t, fetcher, now)

		f.pipeline.RunCycle(context.Background())
		require.FileExists(t, filepath.Join(f.store.Root(), "T1", store.DocumentFile))

		f.pipeline.SetClock(func() time.Time { return now.Add(time.Hour) })
		f.pipeline.RunCycle(context.Background())

		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PollFailures))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Expired))
		_, err := os.Stat(filepath.Join(f.store.Root(), "T1"))
		assert.True(t, os.IsNotExist(err), "expired bundle should be retired")
		require.FileExists(t, filepath.Join(f.cfg.ArchiveDir, "T1", store.SnapshotFile))
	})
}
