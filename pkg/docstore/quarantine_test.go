package docstore_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davrell/docstore/pkg/docstore"
)

func TestLoad_CorruptDocumentSelfHeals(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	const garbage = `{"count": 1, "broken`

	corrupt := filepath.Join(store.Root(), "settings.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(garbage), 0o644))

	def := map[string]any{"count": 0.0}

	res, err := store.Load("settings.json", def)
	require.NoError(t, err)

	// The caller gets the default and can observe that a recovery happened.
	assert.True(t, res.Recovered)
	assert.False(t, res.Created)
	assert.Empty(t, cmp.Diff(def, res.Value))

	// The file now holds the default.
	res2, err := store.Load("settings.json", map[string]any{"other": true})
	require.NoError(t, err)
	assert.False(t, res2.Recovered)
	assert.Empty(t, cmp.Diff(def, res2.Value))

	// The original bytes are preserved in the quarantine area.
	quarantineDir := filepath.Join(store.Root(), ".quarantine")
	entries, readErr := os.ReadDir(quarantineDir)
	require.NoError(t, readErr)

	var foundCopy bool

	for _, entry := range entries {
		if entry.Name() == "corruption_log.json" {
			continue
		}

		raw, copyErr := os.ReadFile(filepath.Join(quarantineDir, entry.Name()))
		require.NoError(t, copyErr)

		if string(raw) == garbage {
			foundCopy = true
		}
	}

	assert.True(t, foundCopy, "no quarantine copy holds the original bytes")

	// The corruption log references the document.
	records, logErr := store.CorruptionLog()
	require.NoError(t, logErr)
	require.Len(t, records, 1)

	assert.Equal(t, "settings.json", records[0].Path)
	assert.NotEmpty(t, records[0].Reason)
	assert.NotEmpty(t, records[0].QuarantineCopy)
	assert.True(t, records[0].DefaultSubstituted)
	assert.False(t, records[0].Time.IsZero())
}

func TestLoad_WrongTopLevelShapeQuarantined(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	// Valid JSON, but a scalar is not a document.
	bad := filepath.Join(store.Root(), "scalar.json")
	require.NoError(t, os.WriteFile(bad, []byte(`"surprise"`), 0o644))

	res, err := store.Load("scalar.json", []any{})
	require.NoError(t, err)
	assert.True(t, res.Recovered)

	records, logErr := store.CorruptionLog()
	require.NoError(t, logErr)
	require.Len(t, records, 1)
	assert.Equal(t, "scalar.json", records[0].Path)
}

func TestLoad_TrailingGarbageQuarantined(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	// The prefix parses cleanly; the junk after it still makes the file
	// corrupt and must not be silently dropped.
	bad := filepath.Join(store.Root(), "stats.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"count": 1}garbage garbage`), 0o644))

	res, err := store.Load("stats.json", map[string]any{"count": 0.0})
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Empty(t, cmp.Diff(map[string]any{"count": 0.0}, res.Value))

	records, logErr := store.CorruptionLog()
	require.NoError(t, logErr)
	require.Len(t, records, 1)
	assert.Equal(t, "stats.json", records[0].Path)
}

func TestQuarantine_EmitsDiagnostics(t *testing.T) {
	t.Parallel()

	capture := &logCapture{}

	store := newTestStoreWith(t, docstore.Options{Logger: slog.New(capture)})

	bad := filepath.Join(store.Root(), "evil.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json at all"), 0o644))

	_, err := store.Load("evil.json", map[string]any{})
	require.NoError(t, err)

	assert.True(t, capture.contains("document quarantined"))
}

func TestCorruptionLog_CorruptLogDoesNotRecurse(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	// Pre-damage the corruption log itself.
	quarantineDir := filepath.Join(store.Root(), ".quarantine")
	require.NoError(t, os.MkdirAll(quarantineDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(quarantineDir, "corruption_log.json"), []byte("]][["), 0o644))

	// Trigger a quarantine; it must reset the log instead of recursing.
	bad := filepath.Join(store.Root(), "victim.json")
	require.NoError(t, os.WriteFile(bad, []byte("{{{"), 0o644))

	_, err := store.Load("victim.json", map[string]any{})
	require.NoError(t, err)

	records, logErr := store.CorruptionLog()
	require.NoError(t, logErr)
	require.Len(t, records, 1)
	assert.Equal(t, "victim.json", records[0].Path)
}

func TestCorruptionLog_Capped(t *testing.T) {
	t.Parallel()

	store := newTestStoreWith(t, docstore.Options{CorruptionLogMax: 3})

	for i := 0; i < 5; i++ {
		name := filepath.Join(store.Root(), "bad"+string(rune('a'+i))+".json")
		require.NoError(t, os.WriteFile(name, []byte("broken"), 0o644))

		_, err := store.Load("bad"+string(rune('a'+i))+".json", map[string]any{})
		require.NoError(t, err)
	}

	records, err := store.CorruptionLog()
	require.NoError(t, err)
	require.Len(t, records, 3)

	// The newest three survive.
	assert.Equal(t, "badc.json", records[0].Path)
	assert.Equal(t, "badd.json", records[1].Path)
	assert.Equal(t, "bade.json", records[2].Path)
}

func TestCorruptionLog_EmptyWithoutCorruption(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	records, err := store.CorruptionLog()
	require.NoError(t, err)
	assert.Empty(t, records)
}
