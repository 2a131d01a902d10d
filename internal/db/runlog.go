package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chmdznr/surat-sync/pkg/models"
)

// BeginRun opens an IN_PROGRESS audit entry for one reconciliation run and
// returns its id. The log is append-only and is never read by the
// reconciliation logic itself.
func (db *DB) BeginRun(direction string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO sync_runs (id, direction, status, started_at)
		VALUES (?, ?, ?, ?)
	`, id, direction, models.RunInProgress, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to begin sync run: %v", err)
	}
	return id, nil
}

// CompleteRun finalizes a run as COMPLETED. A run is finalized at most once;
// finalizing a run that is no longer IN_PROGRESS is an error.
func (db *DB) CompleteRun(id string, rowsAffected int) error {
	return db.finalizeRun(id, models.RunCompleted, rowsAffected, "")
}

// FailRun finalizes a run as FAILED with the run-level error.
func (db *DB) FailRun(id string, runErr string) error {
	return db.finalizeRun(id, models.RunFailed, 0, runErr)
}

func (db *DB) finalizeRun(id, status string, rowsAffected int, runErr string) error {
	var errVal interface{}
	if runErr != "" {
		errVal = runErr
	}
	res, err := db.Exec(`
		UPDATE sync_runs SET status = ?, rows_affected = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, status, rowsAffected, errVal, time.Now().UTC(), id, models.RunInProgress)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sync run %s already finalized or unknown", id)
	}
	return nil
}

// ListRuns returns up to limit sync runs, newest first.
func (db *DB) ListRuns(limit int) ([]models.SyncRun, error) {
	rows, err := db.Query(`
		SELECT id, direction, status, rows_affected, error, started_at, finished_at
		FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var runErr sql.NullString
		var finishedAt sql.NullTime
		err := rows.Scan(&run.ID, &run.Direction, &run.Status, &run.RowsAffected, &runErr, &run.StartedAt, &finishedAt)
		if err != nil {
			return nil, err
		}
		run.Error = runErr.String
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
