package sync

import (
	"context"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/surat-sync/pkg/models"
)

// mirrorHeader is the fixed column layout of the mirror sheet.
var mirrorHeader = []interface{}{"ID", "Kind", "Number", "Subject", "Sender", "Recipient", "Status", "Owner", "UpdatedAt"}

// WorkbookBackend is a SheetBackend over an XLSX workbook on a shared path.
type WorkbookBackend struct {
	path  string
	sheet string
}

// NewWorkbookBackend validates the mirror configuration and returns the
// backend. The workbook itself may not exist yet; export creates it.
func NewWorkbookBackend(path, sheet string) (*WorkbookBackend, error) {
	if path == "" {
		return nil, Config("mirror workbook path is not configured", nil)
	}
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &WorkbookBackend{path: path, sheet: sheet}, nil
}

// ReadAll reads the full mirror table from the workbook.
func (b *WorkbookBackend) ReadAll(ctx context.Context) ([]models.MirrorRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(b.path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMirrorMissing, b.path)
	}

	f, err := excelize.OpenFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %v", b.path, err)
	}
	defer f.Close()

	raw, err := f.GetRows(b.sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", ErrMirrorMissing, b.sheet, err)
	}

	var rows []models.MirrorRow
	for i, cells := range raw {
		if i == 0 {
			continue // header
		}
		col := func(n int) string {
			if n < len(cells) {
				return cells[n]
			}
			return ""
		}
		if col(0) == "" {
			continue
		}
		rows = append(rows, models.MirrorRow{
			ID:        col(0),
			Kind:      col(1),
			Number:    col(2),
			Subject:   col(3),
			Sender:    col(4),
			Recipient: col(5),
			Status:    col(6),
			Owner:     col(7),
			UpdatedAt: col(8),
		})
	}
	return rows, nil
}

// WriteAll overwrites the mirror table with the given rows in one pass.
func (b *WorkbookBackend) WriteAll(ctx context.Context, rows []models.MirrorRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if b.sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", b.sheet); err != nil {
			return fmt.Errorf("failed to name sheet %q: %v", b.sheet, err)
		}
	}

	if err := f.SetSheetRow(b.sheet, "A1", &mirrorHeader); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{r.ID, r.Kind, r.Number, r.Subject, r.Sender, r.Recipient, r.Status, r.Owner, r.UpdatedAt}
		if err := f.SetSheetRow(b.sheet, cell, &values); err != nil {
			return err
		}
	}

	if err := f.SaveAs(b.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %v", b.path, err)
	}
	return nil
}
