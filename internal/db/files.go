package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/chmdznr/surat-sync/pkg/models"
)

const fileColumns = `id, letter_id, name, size, storage_provider, storage_path, status, upload_error, created_at`

func scanFile(scanner interface{ Scan(...interface{}) error }) (models.TrackedFile, error) {
	var f models.TrackedFile
	var letterID, uploadError sql.NullString
	err := scanner.Scan(
		&f.ID, &letterID, &f.Name, &f.Size,
		&f.StorageProvider, &f.StoragePath, &f.Status, &uploadError, &f.CreatedAt,
	)
	if err != nil {
		return f, err
	}
	f.LetterID = letterID.String
	f.UploadError = uploadError.String
	return f, nil
}

// CreateFile registers an uploaded file. New files start on the LOCAL
// provider awaiting migration.
func (db *DB) CreateFile(f *models.TrackedFile) error {
	if f.StorageProvider == "" {
		f.StorageProvider = models.ProviderLocal
	}
	if f.Status == "" {
		f.Status = models.FilePendingMigration
	}
	f.CreatedAt = time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO files (id, letter_id, name, size, storage_provider, storage_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.LetterID, f.Name, f.Size, f.StorageProvider, f.StoragePath, f.Status, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file record: %v", err)
	}
	return nil
}

// GetFile retrieves a tracked file by id.
func (db *DB) GetFile(id string) (*models.TrackedFile, error) {
	f, err := scanFile(db.QueryRow("SELECT "+fileColumns+" FROM files WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("file not found: %v", err)
	}
	return &f, nil
}

// GetMigratableFiles returns up to limit LOCAL files awaiting migration,
// oldest first.
func (db *DB) GetMigratableFiles(limit int) ([]models.TrackedFile, error) {
	rows, err := db.Query(`
		SELECT `+fileColumns+` FROM files
		WHERE storage_provider = ? AND status = ?
		ORDER BY created_at, id LIMIT ?
	`, models.ProviderLocal, models.FilePendingMigration, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.TrackedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// PromoteFileToRemote rewrites provider and locator after a confirmed remote
// write. Called only once the upload is verified; the conditional keeps a
// racing migration from promoting the same file twice.
func (db *DB) PromoteFileToRemote(id, locator string) error {
	res, err := db.Exec(`
		UPDATE files SET storage_provider = ?, storage_path = ?, status = ?, upload_error = NULL
		WHERE id = ? AND storage_provider = ?
	`, models.ProviderRemote, locator, models.FileUploaded, id, models.ProviderLocal)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("file %s is not on local storage", id)
	}
	return nil
}

// DeleteFile drops a file's tracking record. The caller is responsible for
// removing the backing bytes first.
func (db *DB) DeleteFile(id string) error {
	res, err := db.Exec("DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("file %s not found", id)
	}
	return nil
}

// MarkFileFailed records a migration or serving failure on the file.
// The provider and path are left untouched.
func (db *DB) MarkFileFailed(id, message string) error {
	_, err := db.Exec(`
		UPDATE files SET status = ?, upload_error = ? WHERE id = ?
	`, models.FileFailed, message, id)
	return err
}
