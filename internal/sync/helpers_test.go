package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chmdznr/surat-sync/internal/db"
	"github.com/chmdznr/surat-sync/pkg/models"
)

// newTestDB creates a tracking database in a temp directory.
func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// fakeBackend is an in-memory SheetBackend.
type fakeBackend struct {
	mu         sync.Mutex
	rows       []models.MirrorRow
	missing    bool
	writeErr   error
	readCalls  int
	writeCalls int
}

func (b *fakeBackend) ReadAll(ctx context.Context) ([]models.MirrorRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readCalls++
	if b.missing {
		return nil, fmt.Errorf("%w: fake", ErrMirrorMissing)
	}
	out := make([]models.MirrorRow, len(b.rows))
	copy(out, b.rows)
	return out, nil
}

func (b *fakeBackend) WriteAll(ctx context.Context, rows []models.MirrorRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeCalls++
	if b.writeErr != nil {
		return b.writeErr
	}
	b.rows = make([]models.MirrorRow, len(rows))
	copy(b.rows, rows)
	b.missing = false
	return nil
}

// delivererFunc adapts a function to the Deliverer interface.
type delivererFunc func(ctx context.Context, rec models.ChangeRecord) error

func (f delivererFunc) Deliver(ctx context.Context, rec models.ChangeRecord) error {
	return f(ctx, rec)
}

// fakeStore is an in-memory ObjectStore.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	locator := "bucket/" + name
	s.objects[locator] = data
	return locator, nil
}

func (s *fakeStore) FetchStream(ctx context.Context, locator string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[locator]
	if !ok {
		return nil, fmt.Errorf("object %s not found", locator)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Delete(ctx context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, locator)
	return nil
}

func (s *fakeStore) object(locator string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[locator]
	return data, ok
}
