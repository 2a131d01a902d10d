package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/surat-sync/pkg/models"
)

// DB represents a database connection
type DB struct {
	*sql.DB
}

// New opens (and if necessary creates) the tracking database at the given path.
func New(dbPath string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			local_dir TEXT,
			endpoint TEXT,
			bucket TEXT,
			folder TEXT,
			access_key TEXT,
			secret_key TEXT,
			workbook_path TEXT,
			sheet_name TEXT
		);
		CREATE TABLE IF NOT EXISTS letters (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL DEFAULT 'letter',
			number TEXT,
			subject TEXT,
			sender TEXT,
			recipient TEXT,
			status TEXT,
			owner TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS change_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			field TEXT,
			old_value TEXT,
			new_value TEXT,
			sync_status TEXT NOT NULL DEFAULT 'PENDING',
			retry_count INTEGER NOT NULL DEFAULT 0,
			sync_error TEXT,
			created_at DATETIME NOT NULL,
			synced_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_changes_status ON change_records(sync_status, seq);
		CREATE INDEX IF NOT EXISTS idx_changes_entity ON change_records(entity_id, field, seq);
		CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			rows_affected INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			letter_id TEXT,
			name TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			storage_provider TEXT NOT NULL DEFAULT 'LOCAL',
			storage_path TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING_MIGRATION',
			upload_error TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_files_provider ON files(storage_provider, status);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
		PRAGMA busy_timeout=5000;
	`)
	return err
}

// GetProject retrieves a project by name
func (db *DB) GetProject(name string) (*models.Project, error) {
	var project models.Project
	err := db.QueryRow(`
		SELECT name, local_dir, endpoint, bucket, folder, access_key, secret_key, workbook_path, sheet_name
		FROM projects WHERE name = ?
	`, name).Scan(
		&project.Name,
		&project.LocalDir,
		&project.Destination.Endpoint,
		&project.Destination.Bucket,
		&project.Destination.Folder,
		&project.Destination.AccessKey,
		&project.Destination.SecretKey,
		&project.Mirror.WorkbookPath,
		&project.Mirror.SheetName,
	)
	if err != nil {
		return nil, fmt.Errorf("project not found: %v", err)
	}
	return &project, nil
}

// CreateProject creates a new project
func (db *DB) CreateProject(project *models.Project) error {
	_, err := db.Exec(`
		INSERT INTO projects (name, local_dir, endpoint, bucket, folder, access_key, secret_key, workbook_path, sheet_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		project.Name,
		project.LocalDir,
		project.Destination.Endpoint,
		project.Destination.Bucket,
		project.Destination.Folder,
		project.Destination.AccessKey,
		project.Destination.SecretKey,
		project.Mirror.WorkbookPath,
		project.Mirror.SheetName,
	)
	return err
}

// GetStats returns change queue depth by status and file location statistics.
func (db *DB) GetStats() (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRow(`
		SELECT
			COUNT(CASE WHEN sync_status = 'PENDING' THEN 1 END),
			COUNT(CASE WHEN sync_status = 'PROCESSING' THEN 1 END),
			COUNT(CASE WHEN sync_status = 'SYNCED' THEN 1 END),
			COUNT(CASE WHEN sync_status = 'FAILED' THEN 1 END),
			COUNT(CASE WHEN sync_status = 'SKIPPED' THEN 1 END)
		FROM change_records
	`).Scan(
		&stats.PendingChanges,
		&stats.ProcessingChanges,
		&stats.SyncedChanges,
		&stats.FailedChanges,
		&stats.SkippedChanges,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get change stats: %v", err)
	}

	err = db.QueryRow(`
		SELECT
			COUNT(CASE WHEN storage_provider = 'LOCAL' THEN 1 END),
			COALESCE(SUM(CASE WHEN storage_provider = 'LOCAL' THEN size ELSE 0 END), 0),
			COUNT(CASE WHEN storage_provider = 'REMOTE' THEN 1 END),
			COALESCE(SUM(CASE WHEN storage_provider = 'REMOTE' THEN size ELSE 0 END), 0),
			COUNT(CASE WHEN status = 'FAILED' THEN 1 END)
		FROM files
	`).Scan(
		&stats.LocalFiles,
		&stats.LocalSize,
		&stats.RemoteFiles,
		&stats.RemoteSize,
		&stats.FailedFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get file stats: %v", err)
	}

	return &stats, nil
}
