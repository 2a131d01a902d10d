package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/surat-sync/pkg/models"
)

func TestRunLifecycle(t *testing.T) {
	database := newTestDB(t)

	id, err := database.BeginRun("EXPORT")
	require.NoError(t, err)

	runs, err := database.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunInProgress, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	require.NoError(t, database.CompleteRun(id, 7))

	runs, err = database.ListRuns(10)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, runs[0].Status)
	assert.Equal(t, 7, runs[0].RowsAffected)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Empty(t, runs[0].Error)
}

func TestRunIsFinalizedAtMostOnce(t *testing.T) {
	database := newTestDB(t)

	id, err := database.BeginRun("IMPORT")
	require.NoError(t, err)
	require.NoError(t, database.FailRun(id, "mirror unreachable"))

	assert.Error(t, database.CompleteRun(id, 3))
	assert.Error(t, database.FailRun(id, "again"))

	runs, err := database.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, "mirror unreachable", runs[0].Error)
}

func TestListRunsIsNewestFirst(t *testing.T) {
	database := newTestDB(t)

	first, err := database.BeginRun("EXPORT")
	require.NoError(t, err)
	second, err := database.BeginRun("IMPORT")
	require.NoError(t, err)

	runs, err := database.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second, runs[0].ID)

	runs, err = database.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
}
