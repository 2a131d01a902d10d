package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/surat-sync/pkg/models"
)

func TestWorkbookBackendRequiresPath(t *testing.T) {
	_, err := NewWorkbookBackend("", "Letters")
	require.Error(t, err)
	assert.True(t, IsConfig(err))
}

func TestWorkbookWriteAllThenReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	backend, err := NewWorkbookBackend(path, "Letters")
	require.NoError(t, err)

	rows := []models.MirrorRow{
		{ID: "L-1", Kind: "letter", Number: "001/2026", Subject: "Budget", Sender: "Finance", Recipient: "Director", Status: "sent", Owner: "ani", UpdatedAt: "2026-08-30T10:00:00Z"},
		{ID: "L-2", Kind: "request", Number: "002/2026", Subject: "Leave", Status: "draft", Owner: "budi"},
	}
	require.NoError(t, backend.WriteAll(context.Background(), rows))

	got, err := backend.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows[0], got[0])
	assert.Equal(t, rows[1], got[1])
}

func TestWorkbookWriteAllReplacesPreviousContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	backend, err := NewWorkbookBackend(path, "")
	require.NoError(t, err)

	first := []models.MirrorRow{{ID: "L-1", Subject: "Old"}, {ID: "L-2", Subject: "Stale"}}
	require.NoError(t, backend.WriteAll(context.Background(), first))

	second := []models.MirrorRow{{ID: "L-3", Subject: "Current"}}
	require.NoError(t, backend.WriteAll(context.Background(), second))

	got, err := backend.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "L-3", got[0].ID)
}

func TestWorkbookReadAllMissingFileIsMirrorMissing(t *testing.T) {
	backend, err := NewWorkbookBackend(filepath.Join(t.TempDir(), "absent.xlsx"), "Letters")
	require.NoError(t, err)

	_, err = backend.ReadAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMirrorMissing))
}

func TestWorkbookReadAllSkipsBlankRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.xlsx")
	backend, err := NewWorkbookBackend(path, "Letters")
	require.NoError(t, err)

	rows := []models.MirrorRow{
		{ID: "L-1", Subject: "Kept"},
		{Subject: "No ID, dropped on read"},
		{ID: "L-2", Subject: "Kept too"},
	}
	require.NoError(t, backend.WriteAll(context.Background(), rows))

	got, err := backend.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "L-1", got[0].ID)
	assert.Equal(t, "L-2", got[1].ID)
}
