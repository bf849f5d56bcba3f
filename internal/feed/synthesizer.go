// Package feed rebuilds the published Atom index from the persisted alert
// store. Every rebuild regenerates both published documents from scratch
// rather than patching them: removing an expired alert is then free, since
// it is simply excluded from the next full write. The synthesizer is also
// the sole owner of expiry; the ingestion path never retires entries.
package feed

import (
	"encoding/xml"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cctl/boiler/internal/config"
	"github.com/cctl/boiler/internal/store"
)

// Published document names inside the alerts directory.
const (
	IndexFile     = "feed.xml"
	HeartbeatFile = "update.xml"
)

const (
	atomNamespace = "http://www.w3.org/2005/Atom"
	feedTitle     = "BOILER EAS FEED"
)

// updatedFormat is the ISO-8601 millisecond Zulu layout used for all
// <updated> elements.
const updatedFormat = "2006-01-02T15:04:05.000Z"

type atomText struct {
	Type string `xml:"type,attr"`
	Text string `xml:",chardata"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
}

type atomCategory struct {
	Term  string `xml:"term,attr"`
	Label string `xml:"label,attr"`
}

type atomEntry struct {
	Title      atomText       `xml:"title"`
	Link       atomLink       `xml:"link"`
	ID         string         `xml:"id"`
	Updated    string         `xml:"updated"`
	Categories []atomCategory `xml:"category"`
}

type atomFeed struct {
	XMLName   xml.Name    `xml:"feed"`
	Namespace string      `xml:"xmlns,attr"`
	Title     atomText    `xml:"title"`
	Updated   string      `xml:"updated"`
	ID        string      `xml:"id"`
	Entries   []atomEntry `xml:"entry"`
}

// Synthesizer rebuilds the published feed documents.
type Synthesizer struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewSynthesizer creates a feed synthesizer over the given store.
func NewSynthesizer(st *store.Store, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		store:  st,
		logger: logger.With().Str("component", "feed").Logger(),
	}
}

// Rebuild enumerates every persisted entry, retires expired ones (deleting
// or archiving per configuration), and writes both published documents
// from scratch. Per-entry failures are logged and skipped so one bad
// bundle cannot block the feed. Returns the number of expired entries
// retired this pass.
func (s *Synthesizer) Rebuild(cfg config.Config, now time.Time) (int, error) {
	if err := s.store.EnsureRoot(); err != nil {
		return 0, err
	}

	entries, err := s.store.Entries()
	if err != nil {
		return 0, err
	}

	nowStamp := now.UTC().Format(updatedFormat)
	feedDoc := atomFeed{
		Namespace: atomNamespace,
		Title:     atomText{Type: "text", Text: feedTitle},
		Updated:   nowStamp,
		ID:        cfg.FeedURL(),
	}

	expired := 0
	for _, entry := range entries {
		if !entry.HasDocument {
			s.logger.Debug().Str("alertId", entry.ID).Msg("Skipping bundle without rendered document")
			continue
		}

		if entry.Record.Expired(now) {
			s.logger.Info().Str("alertId", entry.ID).Msg("Alert has expired")
			s.retire(entry.ID, cfg)
			expired++
			continue
		}

		alertURL := cfg.AlertsURL() + "/" + entry.ID + "/" + store.DocumentFile

		// Receive time keeps the <updated> element stable across rebuilds
		// so encoders don't re-pull unchanged alerts every cycle.
		updated := entry.Record.ReceivedAt
		if updated == "" {
			updated = nowStamp
		}

		feedDoc.Entries = append(feedDoc.Entries, atomEntry{
			Title:   atomText{Type: "text", Text: entry.Record.EventCode},
			Link:    atomLink{Href: alertURL},
			ID:      alertURL,
			Updated: updated,
			Categories: []atomCategory{
				{Term: entry.Record.EventCode, Label: "event"},
				{Term: stateCode(entry.Record.FIPSCodes), Label: "statefips"},
			},
		})
		s.logger.Info().Str("alertId", entry.ID).Msg("Writing alert to feed")
	}

	if err := s.writeDoc(IndexFile, feedDoc); err != nil {
		return expired, err
	}

	// The heartbeat carries no entries, only a fresh timestamp, so
	// consumers can detect liveness independent of content changes.
	heartbeat := atomFeed{
		Namespace: atomNamespace,
		Title:     atomText{Type: "text", Text: feedTitle},
		Updated:   nowStamp,
		ID:        cfg.FeedURL(),
	}
	if err := s.writeDoc(HeartbeatFile, heartbeat); err != nil {
		return expired, err
	}

	return expired, nil
}

// retire removes an expired entry from the published set, deleting it
// outright or moving the whole bundle to the archive per configuration.
// Failures are logged with context; the rebuild continues.
func (s *Synthesizer) retire(id string, cfg config.Config) {
	if cfg.DeleteOnExpire {
		s.logger.Info().Str("alertId", id).Msg("Deleting expired alert")
		if err := s.store.Delete(id); err != nil {
			s.logger.Error().Err(err).Str("alertId", id).Msg("Failed to delete expired alert")
		}
		return
	}

	s.logger.Info().Str("alertId", id).Str("archiveDir", cfg.ArchiveDir).Msg("Archiving expired alert")
	if err := s.store.Archive(id, cfg.ArchiveDir); err != nil {
		s.logger.Error().Err(err).Str("alertId", id).Msg("Failed to archive expired alert")
	}
}

func (s *Synthesizer) writeDoc(name string, doc atomFeed) error {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s", name)
	}
	data := append([]byte(xml.Header), out...)
	if err := store.WriteFileAtomic(filepath.Join(s.store.Root(), name), data); err != nil {
		return errors.Wrapf(err, "failed to publish %s", name)
	}
	return nil
}

// stateCode derives the feed's "statefips" category as a fixed two-character
// slice of the first area code. This is a historical downstream
// compatibility artifact some encoder vendors use to verify alerts, not a
// general FIPS-parsing rule; do not generalize it.
func stateCode(fipsCodes []string) string {
	if len(fipsCodes) == 0 || len(fipsCodes[0]) < 2 {
		return ""
	}
	return fipsCodes[0][:2]
}
