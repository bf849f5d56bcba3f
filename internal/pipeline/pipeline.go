// Package pipeline orchestrates one ingestion cycle: poll the upstream
// feed, run each record through the filter engine and consistency gate,
// normalize audio, render and persist bundles, then rebuild the published
// feed. Records are processed one at a time in the order received; there
// is no reordering or parallel fan-out.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cctl/boiler/internal/audio"
	"github.com/cctl/boiler/internal/cap"
	"github.com/cctl/boiler/internal/config"
	"github.com/cctl/boiler/internal/feed"
	"github.com/cctl/boiler/internal/filter"
	"github.com/cctl/boiler/internal/store"
	"github.com/cctl/boiler/internal/upstream"
)

// Fetcher fetches the current batch of active alerts.
type Fetcher interface {
	FetchActive(ctx context.Context) ([]upstream.Record, error)
}

// Pipeline wires the per-cycle components together.
type Pipeline struct {
	cfg        config.Config
	client     Fetcher
	filters    *filter.Engine
	store      *store.Store
	normalizer *audio.Normalizer
	builder    *cap.Builder
	synth      *feed.Synthesizer
	metrics    *Metrics
	logger     zerolog.Logger

	now func() time.Time
}

// New creates a pipeline from its components.
func New(
	cfg config.Config,
	client Fetcher,
	filters *filter.Engine,
	st *store.Store,
	normalizer *audio.Normalizer,
	builder *cap.Builder,
	synth *feed.Synthesizer,
	metrics *Metrics,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		client:     client,
		filters:    filters,
		store:      st,
		normalizer: normalizer,
		builder:    builder,
		synth:      synth,
		metrics:    metrics,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
	}
}

// SetClock overrides the pipeline's clock (useful for testing).
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// RunCycle executes one full cycle. A failed poll degrades to an empty
// batch; per-record failures are contained and logged so one poison record
// cannot kill the batch. The feed is rebuilt even when the poll failed, so
// expiry keeps running on whatever is already persisted.
func (p *Pipeline) RunCycle(ctx context.Context) {
	records, err := p.client.FetchActive(ctx)
	if err != nil {
		p.metrics.PollFailures.Inc()
		p.logger.Error().Err(err).Msg("Poll failed, proceeding with empty batch")
		records = nil
	}

	rules := p.filters.LoadRuleSet()

	for _, rec := range records {
		if err := p.processRecord(ctx, rec, rules); err != nil {
			p.metrics.RecordFailures.Inc()
			p.logger.Error().Err(err).Str("alertId", rec.ID).Msg("Failed to process alert record")
		}
	}

	expired, err := p.synth.Rebuild(p.cfg, p.now().UTC())
	if err != nil {
		p.logger.Error().Err(err).Msg("Feed rebuild failed")
	}
	p.metrics.Expired.Add(float64(expired))
	p.metrics.Cycles.Inc()
}

// processRecord takes a single record through filter, consistency gate,
// audio normalization, document build, and persistence.
func (p *Pipeline) processRecord(ctx context.Context, rec upstream.Record, rules filter.RuleSet) error {
	if rec.ID == "" {
		// Upstream contract violation, surfaced loudly rather than
		// silently skipped.
		return store.ErrMissingID
	}

	p.logger.Info().Str("alertId", rec.ID).Str("eventCode", rec.EventCode).Msg("Processing alert")

	if rec.Expired(p.now().UTC()) {
		p.logger.Info().Str("alertId", rec.ID).Msg("Alert expired, ignoring")
		return nil
	}

	if !p.filters.Admit(rec, rules) {
		p.metrics.Blocked.Inc()
		return nil
	}
	p.metrics.Admitted.Inc()

	if p.store.AlreadyStored(rec) {
		p.logger.Debug().Str("alertId", rec.ID).Msg("Alert already stored, skipping")
		return nil
	}

	return p.persist(ctx, rec)
}

// persist writes the whole bundle: snapshot first, then audio, then the
// rendered document. The consistency gate requires snapshot and document
// to both match, so an interrupted persist is simply redone next cycle.
func (p *Pipeline) persist(ctx context.Context, rec upstream.Record) error {
	if err := p.store.EnsureRoot(); err != nil {
		return err
	}

	rec.ReceivedAt = p.now().UTC().Format(upstream.ReceivedAtFormat)
	if err := p.store.WriteSnapshot(rec); err != nil {
		return err
	}

	localAudioFile := p.handleAudio(ctx, rec)

	doc, err := p.builder.Build(rec, localAudioFile)
	if err != nil {
		return err
	}
	if err := p.store.WriteDocument(rec.ID, doc); err != nil {
		return err
	}

	p.metrics.Stored.Inc()
	p.logger.Info().Str("alertId", rec.ID).Msg("Alert stored")
	return nil
}

// handleAudio fetches and normalizes the alert's audio when configured to
// store it locally. Returns the bundle file name the document should
// reference, or "" when no local audio exists. Failures degrade gracefully
// to "no audio attached" and never fail the alert.
func (p *Pipeline) handleAudio(ctx context.Context, rec upstream.Record) string {
	if rec.AudioURL == "" || !p.cfg.Audio.StoreLocal {
		return ""
	}

	dir := p.store.EntryDir(rec.ID)
	sourcePath := filepath.Join(dir, store.SourceAudioFile)

	if err := p.normalizer.Fetch(ctx, rec.AudioURL, sourcePath); err != nil {
		p.metrics.AudioFailures.Inc()
		p.logger.Warn().Err(err).Str("alertId", rec.ID).
			Msg("Audio download failed, audio will not be assigned to this alert")
		os.Remove(sourcePath)
		return ""
	}

	if !p.cfg.Audio.TrimHeaders {
		return store.SourceAudioFile
	}

	normalizedPath := filepath.Join(dir, store.AudioFile)
	if err := p.normalizer.Normalize(sourcePath, normalizedPath); err != nil {
		p.metrics.AudioFailures.Inc()
		p.logger.Warn().Err(err).Str("alertId", rec.ID).
			Msg("Audio normalization failed, audio will not be assigned to this alert")
		os.Remove(sourcePath)
		os.Remove(normalizedPath)
		return ""
	}

	// The unnormalized copy must not outlive normalization.
	if err := os.Remove(sourcePath); err != nil {
		p.logger.Warn().Err(err).Str("alertId", rec.ID).Msg("Failed to remove source audio copy")
	}

	p.metrics.AudioNormalized.Inc()
	return store.AudioFile
}
