// Package store persists alert bundles on the filesystem, one directory per
// alert identifier. A bundle holds the raw record snapshot, the rendered CAP
// document, and normalized audio. Bundles are only ever replaced whole,
// never patched in place, and every file write goes through a
// temp-then-rename so concurrent readers never observe a partial document.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cctl/boiler/internal/upstream"
)

// Bundle file names, also the externally served paths.
const (
	SnapshotFile    = "response.json"
	DocumentFile    = "alert.xml"
	SourceAudioFile = "source-audio.mp3"
	AudioFile       = "eas-audio.mp3"
)

// ErrMissingID reports an upstream record delivered without an identifier.
// This is an upstream contract violation and is surfaced loudly rather than
// silently skipped.
var ErrMissingID = errors.New("record has no identifier")

// Store is the persisted alert store rooted at a single directory.
type Store struct {
	root   string
	logger zerolog.Logger
}

// New creates a store rooted at the given directory.
func New(root string, logger zerolog.Logger) *Store {
	return &Store{
		root:   root,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// EntryDir returns the bundle directory for an alert identifier.
func (s *Store) EntryDir(id string) string {
	return filepath.Join(s.root, id)
}

// EnsureRoot creates the root directory if it does not exist.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create alerts directory %s", s.root)
	}
	return nil
}

// AlreadyStored reports whether the record is already fully and correctly
// persisted: the bundle directory exists, the stored snapshot equals the
// incoming record once the persisted receive time is carried over, and the
// rendered CAP document is present. Any missing artifact or mismatch
// returns false, signaling the caller to (re)persist the whole bundle.
func (s *Store) AlreadyStored(rec upstream.Record) bool {
	if rec.ID == "" {
		return false
	}

	dir := s.EntryDir(rec.ID)
	if _, err := os.Stat(dir); err != nil {
		s.logger.Debug().Str("alertId", rec.ID).Msg("No bundle directory yet for alert")
		return false
	}

	snapshotPath := filepath.Join(dir, SnapshotFile)
	raw, err := os.ReadFile(snapshotPath)
	if err != nil {
		s.logger.Debug().Str("alertId", rec.ID).Msg("Bundle has no record snapshot")
		return false
	}

	var stored upstream.Record
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.Warn().Err(err).Str("alertId", rec.ID).Msg("Stored record snapshot is unreadable")
		return false
	}

	// The receive time is assigned locally at first persistence. Carry the
	// persisted stamp over so a re-polled record is not seen as drifted.
	if !stored.EqualIgnoringReceiveTime(rec) {
		s.logger.Warn().Str("alertId", rec.ID).
			Msg("Stored snapshot exists but did not match the freshly polled record")
		return false
	}

	if _, err := os.Stat(filepath.Join(dir, DocumentFile)); err != nil {
		s.logger.Debug().Str("alertId", rec.ID).Msg("Bundle has no rendered document")
		return false
	}

	return true
}

// WriteSnapshot persists the raw record snapshot into the alert's bundle,
// creating the bundle directory if needed.
func (s *Store) WriteSnapshot(rec upstream.Record) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	dir := s.EntryDir(rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create bundle directory for alert %s", rec.ID)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize record snapshot for alert %s", rec.ID)
	}
	return WriteFileAtomic(filepath.Join(dir, SnapshotFile), data)
}

// WriteDocument persists the rendered CAP document into the alert's bundle.
func (s *Store) WriteDocument(id string, doc []byte) error {
	if id == "" {
		return ErrMissingID
	}
	dir := s.EntryDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create bundle directory for alert %s", id)
	}
	return WriteFileAtomic(filepath.Join(dir, DocumentFile), doc)
}

// Entry is one persisted bundle as seen during enumeration.
type Entry struct {
	ID          string
	Record      upstream.Record
	HasDocument bool
}

// Entries enumerates all persisted bundles with a readable snapshot.
// Enumeration order follows directory listing order; no cross-run ordering
// is defined.
func (s *Store) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list alerts directory %s", s.root)
	}

	var entries []Entry
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		id := de.Name()
		raw, err := os.ReadFile(filepath.Join(s.EntryDir(id), SnapshotFile))
		if err != nil {
			s.logger.Debug().Str("alertId", id).Msg("Skipping bundle without readable snapshot")
			continue
		}
		var rec upstream.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn().Err(err).Str("alertId", id).Msg("Skipping bundle with corrupt snapshot")
			continue
		}
		_, derr := os.Stat(filepath.Join(s.EntryDir(id), DocumentFile))
		entries = append(entries, Entry{
			ID:          id,
			Record:      rec,
			HasDocument: derr == nil,
		})
	}
	return entries, nil
}

// HasAudio reports whether a normalized audio file exists for the alert.
func (s *Store) HasAudio(id string) bool {
	_, err := os.Stat(filepath.Join(s.EntryDir(id), AudioFile))
	return err == nil
}

// Delete removes the alert's bundle entirely.
func (s *Store) Delete(id string) error {
	if err := os.RemoveAll(s.EntryDir(id)); err != nil {
		return errors.Wrapf(err, "failed to delete bundle for alert %s", id)
	}
	return nil
}

// Archive moves the alert's bundle into the archive directory, preserving
// the whole bundle. The archive directory is created on first use.
func (s *Store) Archive(id, archiveDir string) error {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create archive directory %s", archiveDir)
	}
	src := s.EntryDir(id)
	dst := filepath.Join(archiveDir, id)

	// A bundle already archived in a previous run would block the rename.
	if err := os.RemoveAll(dst); err != nil {
		return errors.Wrapf(err, "failed to clear archive slot for alert %s", id)
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "failed to move bundle for alert %s to archive", id)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it into place, so a concurrent reader never sees a partially
// written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to write temp file for %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to close temp file for %s", path)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to set permissions on %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
