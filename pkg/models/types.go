package models

import "time"

// Sync status values for a ChangeRecord.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSynced     = "SYNCED"
	StatusFailed     = "FAILED"
	StatusSkipped    = "SKIPPED"
)

// Change actions captured on a tracked entity.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// ChangeRecord is one captured field mutation awaiting propagation to the
// tabular mirror. Records are append-only; only the sync bookkeeping columns
// (status, retry count, error, synced timestamp) change after creation.
type ChangeRecord struct {
	Seq        int64
	ID         string
	EntityID   string
	Action     string
	Field      string
	OldValue   string
	NewValue   string
	SyncStatus string
	RetryCount int
	SyncError  string
	CreatedAt  time.Time
	SyncedAt   *time.Time
}

// SyncRun status values.
const (
	RunInProgress = "IN_PROGRESS"
	RunCompleted  = "COMPLETED"
	RunFailed     = "FAILED"
)

// SyncRun is one audited invocation of a reconciliation strategy.
// Created IN_PROGRESS, finalized exactly once to COMPLETED or FAILED.
type SyncRun struct {
	ID           string
	Direction    string
	Status       string
	RowsAffected int
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Storage providers for a tracked file's bytes.
const (
	ProviderLocal  = "LOCAL"
	ProviderRemote = "REMOTE"
)

// Tracked file status values.
const (
	FileUploaded         = "UPLOADED"
	FilePendingMigration = "PENDING_MIGRATION"
	FileFailed           = "FAILED"
)

// TrackedFile is a file whose bytes live in exactly one of two storage
// backends. StoragePath is a local filesystem path when the provider is
// LOCAL and an object locator when it is REMOTE.
type TrackedFile struct {
	ID              string
	LetterID        string
	Name            string
	Size            int64
	StorageProvider string
	StoragePath     string
	Status          string
	UploadError     string
	CreatedAt       time.Time
}

// Letter kinds tracked by the system.
const (
	KindLetter  = "letter"
	KindRequest = "request"
)

// Letter is one inbound letter or support request. Field mutations on a
// letter are captured as ChangeRecords in the same transaction.
type Letter struct {
	ID        string
	Kind      string
	Number    string
	Subject   string
	Sender    string
	Recipient string
	Status    string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Project holds the external-system configuration for one deployment:
// the MinIO destination for file migration and the workbook acting as the
// tabular mirror.
type Project struct {
	Name        string
	LocalDir    string
	Destination struct {
		Endpoint  string
		Bucket    string
		Folder    string
		AccessKey string
		SecretKey string
	}
	Mirror struct {
		WorkbookPath string
		SheetName    string
	}
}

// MirrorRow is one row of the tabular mirror, keyed by letter ID.
type MirrorRow struct {
	ID        string
	Kind      string
	Number    string
	Subject   string
	Sender    string
	Recipient string
	Status    string
	Owner     string
	UpdatedAt string
}

// BatchResult aggregates the outcome of one reconciliation pass.
type BatchResult struct {
	Processed int
	Synced    int
	Failed    int
	Skipped   int
	Errors    []string
}
