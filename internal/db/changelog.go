package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chmdznr/surat-sync/pkg/models"
)

// ChangeFilter narrows a change record query. Zero-valued fields are ignored.
type ChangeFilter struct {
	Status   string
	EntityID string
}

// AppendChange records one captured mutation as a PENDING change record.
func (db *DB) AppendChange(entityID, action, field, oldValue, newValue string) (*models.ChangeRecord, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rec, err := appendChangeTx(tx, entityID, action, field, oldValue, newValue)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// appendChangeTx appends a change record inside an existing transaction so
// entity mutation and change capture commit or roll back together.
func appendChangeTx(tx *sql.Tx, entityID, action, field, oldValue, newValue string) (*models.ChangeRecord, error) {
	rec := &models.ChangeRecord{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Action:     action,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		SyncStatus: models.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	res, err := tx.Exec(`
		INSERT INTO change_records (id, entity_id, action, field, old_value, new_value, sync_status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, rec.ID, rec.EntityID, rec.Action, rec.Field, rec.OldValue, rec.NewValue, rec.SyncStatus, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append change record: %v", err)
	}

	rec.Seq, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return rec, nil
}

const changeColumns = `seq, id, entity_id, action, field, old_value, new_value, sync_status, retry_count, sync_error, created_at, synced_at`

func scanChange(scanner interface{ Scan(...interface{}) error }) (models.ChangeRecord, error) {
	var rec models.ChangeRecord
	var field, oldValue, newValue, syncError sql.NullString
	var syncedAt sql.NullTime
	err := scanner.Scan(
		&rec.Seq,
		&rec.ID,
		&rec.EntityID,
		&rec.Action,
		&field,
		&oldValue,
		&newValue,
		&rec.SyncStatus,
		&rec.RetryCount,
		&syncError,
		&rec.CreatedAt,
		&syncedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Field = field.String
	rec.OldValue = oldValue.String
	rec.NewValue = newValue.String
	rec.SyncError = syncError.String
	if syncedAt.Valid {
		t := syncedAt.Time
		rec.SyncedAt = &t
	}
	return rec, nil
}

// QueryChanges returns change records newest-first along with the total
// matching count, for operator inspection.
func (db *DB) QueryChanges(filter ChangeFilter, limit, offset int) ([]models.ChangeRecord, int, error) {
	where := "1=1"
	args := []interface{}{}
	if filter.Status != "" {
		where += " AND sync_status = ?"
		args = append(args, filter.Status)
	}
	if filter.EntityID != "" {
		where += " AND entity_id = ?"
		args = append(args, filter.EntityID)
	}

	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM change_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	queryArgs := append(append([]interface{}{}, args...), limit, offset)
	rows, err := db.Query(
		"SELECT "+changeColumns+" FROM change_records WHERE "+where+" ORDER BY seq DESC LIMIT ? OFFSET ?",
		queryArgs...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []models.ChangeRecord
	for rows.Next() {
		rec, err := scanChange(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// GetChange returns a single change record by sequence number.
func (db *DB) GetChange(seq int64) (*models.ChangeRecord, error) {
	rec, err := scanChange(db.QueryRow("SELECT "+changeColumns+" FROM change_records WHERE seq = ?", seq))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClaimPending atomically marks up to batchSize PENDING records as PROCESSING
// and returns them oldest-first. Each row is claimed with a conditional
// update so a concurrent claimer can never hold the same record.
func (db *DB) ClaimPending(batchSize int) ([]models.ChangeRecord, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		"SELECT "+changeColumns+" FROM change_records WHERE sync_status = ? ORDER BY seq LIMIT ?",
		models.StatusPending, batchSize,
	)
	if err != nil {
		return nil, err
	}
	var candidates []models.ChangeRecord
	for rows.Next() {
		rec, err := scanChange(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	stmt, err := tx.Prepare(`
		UPDATE change_records SET sync_status = ? WHERE seq = ? AND sync_status = ?
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var claimed []models.ChangeRecord
	for _, rec := range candidates {
		res, err := stmt.Exec(models.StatusProcessing, rec.Seq, models.StatusPending)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			rec.SyncStatus = models.StatusProcessing
			claimed = append(claimed, rec)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkChangeSynced finalizes a delivered record. Setting synced_at here is
// the only place it is ever written, which keeps it coupled to SYNCED.
func (db *DB) MarkChangeSynced(seq int64) error {
	_, err := db.Exec(`
		UPDATE change_records SET sync_status = ?, sync_error = NULL, synced_at = ? WHERE seq = ?
	`, models.StatusSynced, time.Now().UTC(), seq)
	return err
}

// MarkChangeFailed records a delivery failure and counts the attempt.
func (db *DB) MarkChangeFailed(seq int64, message string) error {
	_, err := db.Exec(`
		UPDATE change_records SET sync_status = ?, sync_error = ?, retry_count = retry_count + 1 WHERE seq = ?
	`, models.StatusFailed, message, seq)
	return err
}

// MarkChangeSkipped marks a superseded record. SKIPPED is terminal.
func (db *DB) MarkChangeSkipped(seq int64) error {
	_, err := db.Exec(`
		UPDATE change_records SET sync_status = ? WHERE seq = ?
	`, models.StatusSkipped, seq)
	return err
}

// ReleaseChange puts a claimed record back in the PENDING pool without
// counting an attempt. Used when a run aborts before delivery was tried.
func (db *DB) ReleaseChange(seq int64) error {
	_, err := db.Exec(`
		UPDATE change_records SET sync_status = ? WHERE seq = ? AND sync_status = ?
	`, models.StatusPending, seq, models.StatusProcessing)
	return err
}

// HasNewerPending reports whether a newer undelivered record exists for the
// same (entity, field) pair, in which case the older record is superseded.
func (db *DB) HasNewerPending(entityID, field string, seq int64) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM change_records
		WHERE entity_id = ? AND field = ? AND seq > ? AND sync_status IN (?, ?)
	`, entityID, field, seq, models.StatusPending, models.StatusProcessing).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RequeueFailed resets FAILED records below the retry ceiling back to
// PENDING. Records at or above the ceiling stay FAILED for operator review.
func (db *DB) RequeueFailed(maxRetries int) (int64, error) {
	res, err := db.Exec(`
		UPDATE change_records SET sync_status = ? WHERE sync_status = ? AND retry_count < ?
	`, models.StatusPending, models.StatusFailed, maxRetries)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeSynced deletes SYNCED records whose synced_at predates the cutoff.
// This is the only delete path; non-terminal records are never touched.
func (db *DB) PurgeSynced(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := db.Exec(`
		DELETE FROM change_records WHERE sync_status = ? AND synced_at IS NOT NULL AND synced_at < ?
	`, models.StatusSynced, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
