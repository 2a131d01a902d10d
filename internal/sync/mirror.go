package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chmdznr/surat-sync/internal/db"
	"github.com/chmdznr/surat-sync/pkg/models"
)

// Direction selects which side of the tabular mirror is authoritative.
// The variants are named by effect so the two structurally symmetric
// operations cannot be swapped by mistake.
type Direction int

const (
	// ExportLocalToRemote reads the full local letter set and overwrites
	// the external mirror.
	ExportLocalToRemote Direction = iota + 1

	// ImportRemoteToLocal reads the external mirror and applies it as the
	// authoritative source over local state.
	ImportRemoteToLocal
)

// String returns the audit-log form of the direction.
func (d Direction) String() string {
	switch d {
	case ExportLocalToRemote:
		return "EXPORT"
	case ImportRemoteToLocal:
		return "IMPORT"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection maps the operator-facing direction flags to the enum.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "to_sheets", "export":
		return ExportLocalToRemote, nil
	case "from_sheets", "import":
		return ImportRemoteToLocal, nil
	default:
		return 0, fmt.Errorf("unknown direction %q (want to_sheets or from_sheets)", s)
	}
}

// ErrMirrorMissing is returned by a SheetBackend when the mirror table does
// not exist yet. Export creates it; import treats it as a configuration
// problem.
var ErrMirrorMissing = errors.New("mirror table not found")

// SheetBackend is the external tabular mirror. The remote system only
// exposes whole-table reads and writes; there is no partial-update API.
type SheetBackend interface {
	ReadAll(ctx context.Context) ([]models.MirrorRow, error)
	WriteAll(ctx context.Context, rows []models.MirrorRow) error
}

// Mirror implements the full-table synchronization strategy against the
// tabular mirror. It is independent of the per-field change queue: the two
// pipelines share only the status vocabulary.
type Mirror struct {
	db      *db.DB
	backend SheetBackend
	logger  *log.Logger
	timeout time.Duration
}

// NewMirror creates a mirror syncer over the given backend.
func NewMirror(database *db.DB, backend SheetBackend, logger *log.Logger) *Mirror {
	if logger == nil {
		logger = log.Default()
	}
	return &Mirror{
		db:      database,
		backend: backend,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Run executes one full-table pass in the given direction.
func (m *Mirror) Run(ctx context.Context, dir Direction) (int, error) {
	switch dir {
	case ExportLocalToRemote:
		return m.ExportAll(ctx)
	case ImportRemoteToLocal:
		return m.ImportAll(ctx)
	default:
		return 0, fmt.Errorf("invalid direction %v", dir)
	}
}

// ExportAll overwrites the external mirror with the full local letter set.
// The invocation is wrapped in a SyncRun finalized exactly once.
func (m *Mirror) ExportAll(ctx context.Context) (int, error) {
	runID, err := m.db.BeginRun(ExportLocalToRemote.String())
	if err != nil {
		return 0, err
	}

	rows, err := m.exportAll(ctx)
	if err != nil {
		if ferr := m.db.FailRun(runID, err.Error()); ferr != nil {
			m.logger.Printf("Warning: failed to finalize sync run %s: %v", runID, ferr)
		}
		return 0, err
	}

	if cerr := m.db.CompleteRun(runID, rows); cerr != nil {
		m.logger.Printf("Warning: failed to finalize sync run %s: %v", runID, cerr)
	}
	return rows, nil
}

func (m *Mirror) exportAll(ctx context.Context) (int, error) {
	letters, err := m.db.ListLetters()
	if err != nil {
		return 0, fmt.Errorf("failed to read local letters: %v", err)
	}

	rows := make([]models.MirrorRow, 0, len(letters))
	for _, l := range letters {
		rows = append(rows, rowFromLetter(&l))
	}

	wctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.backend.WriteAll(wctx, rows); err != nil {
		return 0, Transient("failed to write mirror table", err)
	}
	return len(rows), nil
}

// ImportAll replaces local letter state with the external mirror's rows:
// every remote row is upserted and local letters absent remotely are pruned.
// Imported writes bypass change capture, otherwise each import would echo
// itself back into the change queue.
func (m *Mirror) ImportAll(ctx context.Context) (int, error) {
	runID, err := m.db.BeginRun(ImportRemoteToLocal.String())
	if err != nil {
		return 0, err
	}

	rows, err := m.importAll(ctx)
	if err != nil {
		if ferr := m.db.FailRun(runID, err.Error()); ferr != nil {
			m.logger.Printf("Warning: failed to finalize sync run %s: %v", runID, ferr)
		}
		return 0, err
	}

	if cerr := m.db.CompleteRun(runID, rows); cerr != nil {
		m.logger.Printf("Warning: failed to finalize sync run %s: %v", runID, cerr)
	}
	return rows, nil
}

func (m *Mirror) importAll(ctx context.Context) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rows, err := m.backend.ReadAll(rctx)
	if err != nil {
		if errors.Is(err, ErrMirrorMissing) {
			return 0, Config("mirror table does not exist", err)
		}
		return 0, Transient("failed to read mirror table", err)
	}

	keep := make(map[string]bool, len(rows))
	imported := 0
	for i := range rows {
		l := letterFromRow(&rows[i])
		if l.ID == "" {
			m.logger.Printf("Warning: skipping mirror row %d: empty id", i+1)
			continue
		}
		if err := m.db.UpsertLetterDirect(l); err != nil {
			return imported, fmt.Errorf("failed to import letter %s: %v", l.ID, err)
		}
		keep[l.ID] = true
		imported++
	}

	pruned, err := m.db.DeleteLettersNotIn(keep)
	if err != nil {
		return imported, fmt.Errorf("failed to prune local letters: %v", err)
	}
	if pruned > 0 {
		m.logger.Printf("Pruned %d letters absent from mirror", pruned)
	}
	return imported, nil
}

func rowFromLetter(l *models.Letter) models.MirrorRow {
	return models.MirrorRow{
		ID:        l.ID,
		Kind:      l.Kind,
		Number:    l.Number,
		Subject:   l.Subject,
		Sender:    l.Sender,
		Recipient: l.Recipient,
		Status:    l.Status,
		Owner:     l.Owner,
		UpdatedAt: l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func letterFromRow(r *models.MirrorRow) *models.Letter {
	l := &models.Letter{
		ID:        r.ID,
		Kind:      r.Kind,
		Number:    r.Number,
		Subject:   r.Subject,
		Sender:    r.Sender,
		Recipient: r.Recipient,
		Status:    r.Status,
		Owner:     r.Owner,
	}
	if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		l.UpdatedAt = t
	}
	return l
}
