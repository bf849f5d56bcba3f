package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cctl/boiler/internal/upstream"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, st.EnsureRoot())
	return st
}

func storedRecord() upstream.Record {
	return upstream.Record{
		ID:          "86240",
		Hash:        "a1b2c3",
		EventCode:   "RWT",
		Originator:  "EAS",
		Callsign:    "KABC",
		FIPSCodes:   []string{"048453"},
		StartTime:   "2024-01-01T00:00:00",
		EndTime:     "2024-01-01T00:30:00",
		Translation: "Test message.",
		ReceivedAt:  "2024-01-01T00:00:05.000Z",
	}
}

// persistFull writes both snapshot and document, the state AlreadyStored
// requires.
func persistFull(t *testing.T, st *Store, rec upstream.Record) {
	t.Helper()
	require.NoError(t, st.WriteSnapshot(rec))
	require.NoError(t, st.WriteDocument(rec.ID, []byte("<alert/>")))
}

func TestAlreadyStored(t *testing.T) {
	t.Run("round trip with substituted receive time", func(t *testing.T) {
		st := newTestStore(t)
		persistFull(t, st, storedRecord())

		// The freshly polled record has no receive time; the gate must
		// carry the persisted one over before comparing.
		fresh := storedRecord()
		fresh.ReceivedAt = ""
		assert.True(t, st.AlreadyStored(fresh))
	})

	t.Run("changed field signals re-persist", func(t *testing.T) {
		st := newTestStore(t)
		persistFull(t, st, storedRecord())

		fresh := storedRecord()
		fresh.Translation = "Corrected message."
		assert.False(t, st.AlreadyStored(fresh))
	})

	t.Run("missing bundle directory", func(t *testing.T) {
		st := newTestStore(t)
		assert.False(t, st.AlreadyStored(storedRecord()))
	})

	t.Run("missing snapshot", func(t *testing.T) {
		st := newTestStore(t)
		rec := storedRecord()
		require.NoError(t, st.WriteDocument(rec.ID, []byte("<alert/>")))
		assert.False(t, st.AlreadyStored(rec))
	})

	t.Run("missing document", func(t *testing.T) {
		st := newTestStore(t)
		rec := storedRecord()
		require.NoError(t, st.WriteSnapshot(rec))
		assert.False(t, st.AlreadyStored(rec))
	})

	t.Run("corrupt snapshot", func(t *testing.T) {
		st := newTestStore(t)
		rec := storedRecord()
		persistFull(t, st, rec)
		require.NoError(t, os.WriteFile(filepath.Join(st.EntryDir(rec.ID), SnapshotFile), []byte("not json"), 0o644))
		assert.False(t, st.AlreadyStored(rec))
	})

	t.Run("record without identifier", func(t *testing.T) {
		st := newTestStore(t)
		rec := storedRecord()
		rec.ID = ""
		assert.False(t, st.AlreadyStored(rec))
	})
}

func TestWriteSnapshot(t *testing.T) {
	t.Run("missing identifier is an explicit failure", func(t *testing.T) {
		st := newTestStore(t)
		rec := storedRecord()
		rec.ID = ""
		assert.ErrorIs(t, st.WriteSnapshot(rec), ErrMissingID)
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		st := newTestStore(t)
		rec := storedRecord()
		require.NoError(t, st.WriteSnapshot(rec))

		dirents, err := os.ReadDir(st.EntryDir(rec.ID))
		require.NoError(t, err)
		for _, de := range dirents {
			assert.False(t, strings.Contains(de.Name(), ".tmp-"), "found leftover temp file %s", de.Name())
		}
	})
}

func TestEntries(t *testing.T) {
	t.Run("enumerates complete bundles", func(t *testing.T) {
		st := newTestStore(t)
		persistFull(t, st, storedRecord())

		other := storedRecord()
		other.ID = "90001"
		require.NoError(t, st.WriteSnapshot(other)) // no document

		entries, err := st.Entries()
		require.NoError(t, err)
		require.Len(t, entries, 2)

		byID := map[string]Entry{}
		for _, e := range entries {
			byID[e.ID] = e
		}
		assert.True(t, byID["86240"].HasDocument)
		assert.False(t, byID["90001"].HasDocument)
		assert.Equal(t, "RWT", byID["86240"].Record.EventCode)
	})

	t.Run("skips stray files and corrupt snapshots", func(t *testing.T) {
		st := newTestStore(t)
		require.NoError(t, os.WriteFile(filepath.Join(st.Root(), "feed.xml"), []byte("<feed/>"), 0o644))
		require.NoError(t, os.MkdirAll(st.EntryDir("bad"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(st.EntryDir("bad"), SnapshotFile), []byte("not json"), 0o644))

		entries, err := st.Entries()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestDeleteAndArchive(t *testing.T) {
	t.Run("delete removes the whole bundle", func(t *testing.T) {
		st := newTestStore(t)
		persistFull(t, st, storedRecord())

		require.NoError(t, st.Delete("86240"))
		_, err := os.Stat(st.EntryDir("86240"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("archive preserves the whole bundle", func(t *testing.T) {
		st := newTestStore(t)
		archiveDir := t.TempDir()
		persistFull(t, st, storedRecord())

		require.NoError(t, st.Archive("86240", archiveDir))

		_, err := os.Stat(st.EntryDir("86240"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(archiveDir, "86240", SnapshotFile))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(archiveDir, "86240", DocumentFile))
		assert.NoError(t, err)
	})

	t.Run("archiving over a previous archive slot succeeds", func(t *testing.T) {
		st := newTestStore(t)
		archiveDir := t.TempDir()
		persistFull(t, st, storedRecord())
		require.NoError(t, st.Archive("86240", archiveDir))

		persistFull(t, st, storedRecord())
		assert.NoError(t, st.Archive("86240", archiveDir))
	})
}

func TestWriteFileAtomic(t *testing.T) {
	t.Run("replaces existing content", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "doc.xml")

		require.NoError(t, WriteFileAtomic(path, []byte("first")))
		require.NoError(t, WriteFileAtomic(path, []byte("second")))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
	})
}
