package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/chmdznr/surat-sync/internal/db"
	"github.com/chmdznr/surat-sync/pkg/models"
)

// FileSyncer migrates tracked files from local storage to the remote
// backend and serves their bytes from whichever provider currently holds
// them.
type FileSyncer struct {
	db       *db.DB
	store    ObjectStore
	localDir string
	logger   *log.Logger
	timeout  time.Duration

	// OnFile, when set, is invoked after each migration attempt. Used by
	// the CLI for progress reporting.
	OnFile func(f models.TrackedFile, err error)
}

// NewFileSyncer creates a file syncer rooted at localDir.
func NewFileSyncer(database *db.DB, store ObjectStore, localDir string, logger *log.Logger) *FileSyncer {
	if logger == nil {
		logger = log.Default()
	}
	return &FileSyncer{
		db:       database,
		store:    store,
		localDir: localDir,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// MigrateOne moves a single file's bytes to the remote backend. The local
// copy stays the copy of record until the remote write is confirmed: only
// then are provider and locator rewritten, and only then is the local copy
// deleted. Calling it on an already-REMOTE file is a no-op.
func (s *FileSyncer) MigrateOne(ctx context.Context, fileID string) error {
	f, err := s.db.GetFile(fileID)
	if err != nil {
		return err
	}
	return s.migrateFile(ctx, f)
}

// MigratePending migrates up to limit LOCAL files, continuing past
// individual failures, and returns the number migrated.
func (s *FileSyncer) MigratePending(ctx context.Context, limit int) (int, error) {
	files, err := s.db.GetMigratableFiles(limit)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for i := range files {
		err := s.migrateFile(ctx, &files[i])
		if err != nil {
			s.logger.Printf("Failed to migrate file %s: %v", files[i].ID, err)
		} else {
			migrated++
		}
		if s.OnFile != nil {
			s.OnFile(files[i], err)
		}
	}
	return migrated, nil
}

func (s *FileSyncer) migrateFile(ctx context.Context, f *models.TrackedFile) error {
	if f.StorageProvider == models.ProviderRemote {
		return nil
	}

	path := s.localPath(f)
	fh, err := os.Open(path)
	if os.IsNotExist(err) {
		msg := fmt.Sprintf("local file missing at %s", path)
		if merr := s.db.MarkFileFailed(f.ID, msg); merr != nil {
			s.logger.Printf("Warning: failed to mark file %s failed: %v", f.ID, merr)
		}
		return Integrity(msg, err)
	}
	if err != nil {
		return Transient(fmt.Sprintf("failed to open %s", path), err)
	}
	defer fh.Close()

	stat, err := fh.Stat()
	if err != nil {
		return Transient(fmt.Sprintf("failed to stat %s", path), err)
	}

	uctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	locator, err := s.store.Upload(uctx, f.ID+"/"+f.Name, fh, stat.Size())
	if err != nil {
		serr := Transient("remote upload failed", err)
		if merr := s.db.MarkFileFailed(f.ID, serr.Error()); merr != nil {
			s.logger.Printf("Warning: failed to mark file %s failed: %v", f.ID, merr)
		}
		return serr
	}

	// Remote write confirmed; flip the record, then drop the local copy.
	if err := s.db.PromoteFileToRemote(f.ID, locator); err != nil {
		return fmt.Errorf("failed to promote file %s: %v", f.ID, err)
	}
	if err := os.Remove(path); err != nil {
		// The record already points at the remote copy; a leftover local
		// file is harmless.
		s.logger.Printf("Warning: failed to remove local copy %s: %v", path, err)
	}

	f.StorageProvider = models.ProviderRemote
	f.StoragePath = locator
	f.Status = models.FileUploaded
	return nil
}

// Open streams a tracked file's bytes from its current provider. A LOCAL
// file whose bytes are missing is flipped to FAILED with an explicit error
// instead of serving stale metadata.
func (s *FileSyncer) Open(ctx context.Context, fileID string) (io.ReadCloser, *models.TrackedFile, error) {
	f, err := s.db.GetFile(fileID)
	if err != nil {
		return nil, nil, err
	}

	switch f.StorageProvider {
	case models.ProviderLocal:
		path := s.localPath(f)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			msg := fmt.Sprintf("local file missing at %s", path)
			if merr := s.db.MarkFileFailed(f.ID, msg); merr != nil {
				s.logger.Printf("Warning: failed to mark file %s failed: %v", f.ID, merr)
			}
			return nil, f, Integrity(msg, err)
		}
		rc, err := os.Open(path)
		if err != nil {
			return nil, f, err
		}
		return rc, f, nil

	case models.ProviderRemote:
		rc, err := s.store.FetchStream(ctx, f.StoragePath)
		if err != nil {
			return nil, f, Transient("remote fetch failed", err)
		}
		return rc, f, nil

	default:
		return nil, f, Integrity(fmt.Sprintf("unknown storage provider %q", f.StorageProvider), nil)
	}
}

// Remove deletes a tracked file's bytes from whichever provider currently
// holds them, then drops the tracking record. Already-missing local bytes do
// not block removal.
func (s *FileSyncer) Remove(ctx context.Context, fileID string) error {
	f, err := s.db.GetFile(fileID)
	if err != nil {
		return err
	}

	switch f.StorageProvider {
	case models.ProviderLocal:
		path := s.localPath(f)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove local copy %s: %v", path, err)
		}

	case models.ProviderRemote:
		dctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.store.Delete(dctx, f.StoragePath); err != nil {
			return Transient("remote delete failed", err)
		}

	default:
		return Integrity(fmt.Sprintf("unknown storage provider %q", f.StorageProvider), nil)
	}

	return s.db.DeleteFile(f.ID)
}

func (s *FileSyncer) localPath(f *models.TrackedFile) string {
	if filepath.IsAbs(f.StoragePath) {
		return f.StoragePath
	}
	return filepath.Join(s.localDir, f.StoragePath)
}
