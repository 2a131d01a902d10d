package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chmdznr/surat-sync/internal/db"
	"github.com/chmdznr/surat-sync/pkg/models"
)

// DefaultMaxRetries is the retry ceiling: a record that has failed this many
// times stays FAILED until an operator intervenes.
const DefaultMaxRetries = 5

// Deliverer pushes one change record's effect to the external system.
type Deliverer interface {
	Deliver(ctx context.Context, rec models.ChangeRecord) error
}

// Reconciler claims and delivers bounded batches of pending change records.
type Reconciler struct {
	db         *db.DB
	deliverer  Deliverer
	logger     *log.Logger
	maxRetries int
	timeout    time.Duration
}

// NewReconciler creates a reconciler delivering through the given deliverer.
func NewReconciler(database *db.DB, deliverer Deliverer, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		db:         database,
		deliverer:  deliverer,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		timeout:    30 * time.Second,
	}
}

// RunPass re-enqueues retryable FAILED records and then processes one batch.
// This is what a scheduler tick or a manual trigger executes.
func (r *Reconciler) RunPass(ctx context.Context, batchSize int) (models.BatchResult, error) {
	requeued, err := r.db.RequeueFailed(r.maxRetries)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("failed to re-enqueue failed records: %v", err)
	}
	if requeued > 0 {
		r.logger.Printf("Re-enqueued %d failed records", requeued)
	}
	return r.ProcessPending(ctx, batchSize)
}

// ProcessPending claims up to batchSize PENDING records oldest-first and
// delivers them sequentially. Individual record failures are recorded on the
// record and never abort the batch; only a configuration error does, and in
// that case the unattempted records are released back to PENDING untouched.
func (r *Reconciler) ProcessPending(ctx context.Context, batchSize int) (models.BatchResult, error) {
	var result models.BatchResult

	claimed, err := r.db.ClaimPending(batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to claim pending records: %v", err)
	}
	if len(claimed) == 0 {
		return result, nil
	}

	runID, err := r.db.BeginRun(ExportLocalToRemote.String())
	if err != nil {
		for _, rec := range claimed {
			if rerr := r.db.ReleaseChange(rec.Seq); rerr != nil {
				r.logger.Printf("Warning: failed to release record %s: %v", rec.ID, rerr)
			}
		}
		return result, err
	}

	for i, rec := range claimed {
		superseded, err := r.isSuperseded(&rec)
		if err != nil {
			r.logger.Printf("Warning: supersede check failed for %s: %v", rec.ID, err)
		}
		if superseded {
			if err := r.db.MarkChangeSkipped(rec.Seq); err != nil {
				r.logger.Printf("Warning: failed to mark record %s skipped: %v", rec.ID, err)
			}
			result.Processed++
			result.Skipped++
			continue
		}

		result.Processed++
		if err := r.deliverOne(ctx, rec); err != nil {
			if IsConfig(err) {
				// No delivery was attempted past this point; put the rest
				// back so no retry is consumed.
				result.Processed--
				r.releaseFrom(claimed, i)
				if ferr := r.db.FailRun(runID, err.Error()); ferr != nil {
					r.logger.Printf("Warning: failed to finalize sync run %s: %v", runID, ferr)
				}
				return result, err
			}
			msg := err.Error()
			if merr := r.db.MarkChangeFailed(rec.Seq, msg); merr != nil {
				r.logger.Printf("Warning: failed to mark record %s failed: %v", rec.ID, merr)
			}
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("record %s (%s/%s): %s", rec.ID, rec.EntityID, rec.Field, msg))
			continue
		}

		if err := r.db.MarkChangeSynced(rec.Seq); err != nil {
			r.logger.Printf("Warning: failed to mark record %s synced: %v", rec.ID, err)
		}
		result.Synced++
	}

	if cerr := r.db.CompleteRun(runID, result.Synced); cerr != nil {
		r.logger.Printf("Warning: failed to finalize sync run %s: %v", runID, cerr)
	}
	return result, nil
}

func (r *Reconciler) deliverOne(ctx context.Context, rec models.ChangeRecord) error {
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.deliverer.Deliver(dctx, rec)
}

// isSuperseded reports whether a newer undelivered record exists for the
// same (entity, field) pair. Only the latest value per field needs to reach
// the external system.
func (r *Reconciler) isSuperseded(rec *models.ChangeRecord) (bool, error) {
	if rec.Action != models.ActionUpdate || rec.Field == "" {
		return false, nil
	}
	return r.db.HasNewerPending(rec.EntityID, rec.Field, rec.Seq)
}

func (r *Reconciler) releaseFrom(claimed []models.ChangeRecord, start int) {
	for _, rec := range claimed[start:] {
		if err := r.db.ReleaseChange(rec.Seq); err != nil {
			r.logger.Printf("Warning: failed to release record %s: %v", rec.ID, err)
		}
	}
}

// MirrorDeliverer delivers change records by pushing the entity's current
// row into the tabular mirror. The backend only exposes whole-table reads
// and writes, so each delivery is a read-modify-write of the table.
type MirrorDeliverer struct {
	db      *db.DB
	backend SheetBackend
}

// NewMirrorDeliverer creates the production deliverer for letter changes.
func NewMirrorDeliverer(database *db.DB, backend SheetBackend) *MirrorDeliverer {
	return &MirrorDeliverer{db: database, backend: backend}
}

// Deliver applies one change record to the mirror table.
func (d *MirrorDeliverer) Deliver(ctx context.Context, rec models.ChangeRecord) error {
	rows, err := d.backend.ReadAll(ctx)
	if err != nil && !errors.Is(err, ErrMirrorMissing) {
		return Transient("failed to read mirror table", err)
	}

	switch rec.Action {
	case models.ActionDelete:
		rows = dropRow(rows, rec.EntityID)
	default:
		letter, err := d.db.GetLetter(rec.EntityID)
		if errors.Is(err, sql.ErrNoRows) {
			return Integrity(fmt.Sprintf("letter %s no longer exists locally", rec.EntityID), err)
		}
		if err != nil {
			return Transient("failed to load letter", err)
		}
		rows = upsertRow(rows, rowFromLetter(letter))
	}

	if err := d.backend.WriteAll(ctx, rows); err != nil {
		return Transient("failed to write mirror table", err)
	}
	return nil
}

func upsertRow(rows []models.MirrorRow, row models.MirrorRow) []models.MirrorRow {
	for i := range rows {
		if rows[i].ID == row.ID {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

func dropRow(rows []models.MirrorRow, id string) []models.MirrorRow {
	out := rows[:0]
	for _, r := range rows {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
