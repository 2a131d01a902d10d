package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/surat-sync/internal/db"
	"github.com/chmdznr/surat-sync/pkg/models"
)

func alwaysDeliver(ctx context.Context, rec models.ChangeRecord) error {
	return nil
}

func statusBySeq(t *testing.T, database *db.DB, seq int64) string {
	t.Helper()
	rec, err := database.GetChange(seq)
	require.NoError(t, err)
	return rec.SyncStatus
}

func TestProcessPendingSkipsSupersededFieldChanges(t *testing.T) {
	database := newTestDB(t)

	// Three changes on L-1: status twice, owner once.
	oldStatus, err := database.AppendChange("L-1", models.ActionUpdate, "status", "open", "in_progress")
	require.NoError(t, err)
	newStatus, err := database.AppendChange("L-1", models.ActionUpdate, "status", "in_progress", "closed")
	require.NoError(t, err)
	owner, err := database.AppendChange("L-1", models.ActionUpdate, "owner", "", "ani")
	require.NoError(t, err)

	r := NewReconciler(database, delivererFunc(alwaysDeliver), nil)
	result, err := r.ProcessPending(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, models.StatusSkipped, statusBySeq(t, database, oldStatus.Seq))
	assert.Equal(t, models.StatusSynced, statusBySeq(t, database, newStatus.Seq))
	assert.Equal(t, models.StatusSynced, statusBySeq(t, database, owner.Seq))
}

func TestProcessPendingIsolatesRecordFailures(t *testing.T) {
	database := newTestDB(t)

	good, err := database.AppendChange("L-1", models.ActionUpdate, "status", "a", "b")
	require.NoError(t, err)
	bad, err := database.AppendChange("L-2", models.ActionUpdate, "status", "a", "b")
	require.NoError(t, err)

	deliver := delivererFunc(func(ctx context.Context, rec models.ChangeRecord) error {
		if rec.EntityID == "L-2" {
			return Transient("remote unreachable", nil)
		}
		return nil
	})

	r := NewReconciler(database, deliver, nil)
	result, err := r.ProcessPending(context.Background(), 10)
	require.NoError(t, err, "record failures never abort the batch")

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "L-2")

	assert.Equal(t, models.StatusSynced, statusBySeq(t, database, good.Seq))
	failed, err := database.GetChange(bad.Seq)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.SyncStatus)
	assert.Equal(t, 1, failed.RetryCount)
	assert.NotEmpty(t, failed.SyncError)
}

func TestProcessPendingConfigErrorAbortsRunAndReleasesClaims(t *testing.T) {
	database := newTestDB(t)

	var seqs []int64
	for i := 0; i < 3; i++ {
		rec, err := database.AppendChange("L-1", models.ActionUpdate, "owner", "a", "b")
		require.NoError(t, err)
		seqs = append(seqs, rec.Seq)
	}
	// Only the newest owner change would be delivered; make it fail at the
	// run level before anything is attempted.
	deliver := delivererFunc(func(ctx context.Context, rec models.ChangeRecord) error {
		return Config("credentials missing", nil)
	})

	r := NewReconciler(database, deliver, nil)
	result, err := r.ProcessPending(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, IsConfig(err))
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, result.Failed)

	// No attempt was made: nothing FAILED, no retry consumed, nothing left
	// claimed.
	for _, seq := range seqs[2:] {
		rec, err := database.GetChange(seq)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, rec.SyncStatus)
		assert.Equal(t, 0, rec.RetryCount)
	}

	runs, err := database.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "credentials missing")
}

func TestProcessPendingEmptyQueueWritesNoRun(t *testing.T) {
	database := newTestDB(t)

	r := NewReconciler(database, delivererFunc(alwaysDeliver), nil)
	result, err := r.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{}, result)

	runs, err := database.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestProcessPendingAuditsCompletedRun(t *testing.T) {
	database := newTestDB(t)

	_, err := database.AppendChange("L-1", models.ActionUpdate, "status", "a", "b")
	require.NoError(t, err)

	r := NewReconciler(database, delivererFunc(alwaysDeliver), nil)
	_, err = r.ProcessPending(context.Background(), 10)
	require.NoError(t, err)

	runs, err := database.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "EXPORT", runs[0].Direction)
	assert.Equal(t, models.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].RowsAffected)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRunPassRetriesFailedBelowCeiling(t *testing.T) {
	database := newTestDB(t)

	rec, err := database.AppendChange("L-1", models.ActionUpdate, "status", "a", "b")
	require.NoError(t, err)
	require.NoError(t, database.MarkChangeFailed(rec.Seq, "first attempt"))

	r := NewReconciler(database, delivererFunc(alwaysDeliver), nil)
	result, err := r.RunPass(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, models.StatusSynced, statusBySeq(t, database, rec.Seq))
}

func TestRunPassLeavesExhaustedRecordsFailed(t *testing.T) {
	database := newTestDB(t)

	rec, err := database.AppendChange("L-1", models.ActionUpdate, "status", "a", "b")
	require.NoError(t, err)
	require.NoError(t, database.MarkChangeFailed(rec.Seq, "boom"))
	_, err = database.Exec("UPDATE change_records SET retry_count = ? WHERE seq = ?", DefaultMaxRetries, rec.Seq)
	require.NoError(t, err)

	r := NewReconciler(database, delivererFunc(alwaysDeliver), nil)
	result, err := r.RunPass(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, models.StatusFailed, statusBySeq(t, database, rec.Seq))
}

func TestMirrorDelivererUpsertsCurrentRow(t *testing.T) {
	database := newTestDB(t)
	backend := &fakeBackend{rows: []models.MirrorRow{{ID: "L-9", Subject: "untouched"}}}

	require.NoError(t, database.CreateLetter(&models.Letter{ID: "L-1", Subject: "Complaint", Status: "open"}))
	rec, _, err := database.QueryChanges(db.ChangeFilter{EntityID: "L-1"}, 1, 0)
	require.NoError(t, err)

	d := NewMirrorDeliverer(database, backend)
	require.NoError(t, d.Deliver(context.Background(), rec[0]))

	require.Len(t, backend.rows, 2)
	byID := map[string]models.MirrorRow{}
	for _, row := range backend.rows {
		byID[row.ID] = row
	}
	assert.Equal(t, "Complaint", byID["L-1"].Subject)
	assert.Equal(t, "untouched", byID["L-9"].Subject)
}

func TestMirrorDelivererDeletesRow(t *testing.T) {
	database := newTestDB(t)
	backend := &fakeBackend{rows: []models.MirrorRow{{ID: "L-1"}, {ID: "L-2"}}}

	d := NewMirrorDeliverer(database, backend)
	rec := models.ChangeRecord{EntityID: "L-1", Action: models.ActionDelete}
	require.NoError(t, d.Deliver(context.Background(), rec))

	require.Len(t, backend.rows, 1)
	assert.Equal(t, "L-2", backend.rows[0].ID)
}

func TestMirrorDelivererMissingLetterIsIntegrityError(t *testing.T) {
	database := newTestDB(t)
	backend := &fakeBackend{}

	d := NewMirrorDeliverer(database, backend)
	rec := models.ChangeRecord{EntityID: "L-404", Action: models.ActionUpdate, Field: "status"}
	err := d.Deliver(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))
	assert.False(t, errors.Is(err, ErrMirrorMissing))
}
