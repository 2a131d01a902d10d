package db

import (
	"fmt"
	"time"

	"github.com/chmdznr/surat-sync/pkg/models"
)

const letterColumns = `id, kind, number, subject, sender, recipient, status, owner, created_at, updated_at`

func scanLetter(scanner interface{ Scan(...interface{}) error }) (models.Letter, error) {
	var l models.Letter
	err := scanner.Scan(
		&l.ID, &l.Kind, &l.Number, &l.Subject, &l.Sender,
		&l.Recipient, &l.Status, &l.Owner, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// CreateLetter inserts a letter and appends the CREATE change record in the
// same transaction. If change capture fails the insert rolls back with it.
func (db *DB) CreateLetter(l *models.Letter) error {
	if l.Kind == "" {
		l.Kind = models.KindLetter
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO letters (id, kind, number, subject, sender, recipient, status, owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Kind, l.Number, l.Subject, l.Sender, l.Recipient, l.Status, l.Owner, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create letter: %v", err)
	}

	if _, err := appendChangeTx(tx, l.ID, models.ActionCreate, "", "", ""); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateLetter persists field changes and appends one UPDATE change record
// per changed field, all in one transaction.
func (db *DB) UpdateLetter(l *models.Letter) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := scanLetter(tx.QueryRow("SELECT "+letterColumns+" FROM letters WHERE id = ?", l.ID))
	if err != nil {
		return fmt.Errorf("letter not found: %v", err)
	}

	changes := diffLetter(&current, l)
	if len(changes) == 0 {
		return tx.Commit()
	}

	l.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(`
		UPDATE letters SET kind = ?, number = ?, subject = ?, sender = ?, recipient = ?, status = ?, owner = ?, updated_at = ?
		WHERE id = ?
	`, l.Kind, l.Number, l.Subject, l.Sender, l.Recipient, l.Status, l.Owner, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update letter: %v", err)
	}

	for _, c := range changes {
		if _, err := appendChangeTx(tx, l.ID, models.ActionUpdate, c.field, c.oldValue, c.newValue); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteLetter removes a letter and appends the DELETE change record.
func (db *DB) DeleteLetter(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM letters WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("letter not found: %s", id)
	}

	if _, err := appendChangeTx(tx, id, models.ActionDelete, "", "", ""); err != nil {
		return err
	}

	return tx.Commit()
}

// GetLetter retrieves a letter by id.
func (db *DB) GetLetter(id string) (*models.Letter, error) {
	l, err := scanLetter(db.QueryRow("SELECT "+letterColumns+" FROM letters WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLetters returns all letters ordered by creation time.
func (db *DB) ListLetters() ([]models.Letter, error) {
	rows, err := db.Query("SELECT " + letterColumns + " FROM letters ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []models.Letter
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

// UpsertLetterDirect writes a letter as-is without change capture. Used by
// the mirror importer, where the remote table is the authoritative source
// and echoing the write back into the change queue would loop.
func (db *DB) UpsertLetterDirect(l *models.Letter) error {
	if l.Kind == "" {
		l.Kind = models.KindLetter
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO letters (id, kind, number, subject, sender, recipient, status, owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			number = excluded.number,
			subject = excluded.subject,
			sender = excluded.sender,
			recipient = excluded.recipient,
			status = excluded.status,
			owner = excluded.owner,
			updated_at = excluded.updated_at
	`, l.ID, l.Kind, l.Number, l.Subject, l.Sender, l.Recipient, l.Status, l.Owner, l.CreatedAt, l.UpdatedAt)
	return err
}

// DeleteLettersNotIn removes letters whose ids are absent from keep, without
// change capture. Used by the mirror importer to prune rows deleted remotely.
func (db *DB) DeleteLettersNotIn(keep map[string]bool) (int64, error) {
	letters, err := db.ListLetters()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, l := range letters {
		if keep[l.ID] {
			continue
		}
		res, err := db.Exec("DELETE FROM letters WHERE id = ?", l.ID)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

type fieldChange struct {
	field    string
	oldValue string
	newValue string
}

func diffLetter(old, new *models.Letter) []fieldChange {
	var changes []fieldChange
	add := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, fieldChange{field, oldValue, newValue})
		}
	}
	add("kind", old.Kind, new.Kind)
	add("number", old.Number, new.Number)
	add("subject", old.Subject, new.Subject)
	add("sender", old.Sender, new.Sender)
	add("recipient", old.Recipient, new.Recipient)
	add("status", old.Status, new.Status)
	add("owner", old.Owner, new.Owner)
	return changes
}
