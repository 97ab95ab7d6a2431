package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	storetesting "github.com/ValentinKolb/dHammer/lib/storage/testing"
)

func Test(t *testing.T) {
	storetesting.RunRecordStoreTests(t, "SQLiteStore", func(t testing.TB) storage.IRecordStore {
		store, err := NewBackend(t.TempDir()).Open()
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return store
	})
}

func TestInMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Insert(storage.Record{Timestamp: time.Now()}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if count, _ := s.Count(); count != 1 {
		t.Errorf("Expected 1 record, got %d", count)
	}
}

func TestPointerPredicateIsPushedDown(t *testing.T) {
	s, err := NewBackend(t.TempDir()).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	now := time.Now()
	_ = s.Insert(storage.Record{Timestamp: now.Add(-time.Minute)})
	_ = s.Insert(storage.Record{Timestamp: now})

	deleted, err := s.DeleteWhere(&storage.OlderThan{Cutoff: now.Add(-time.Second)})
	if err != nil {
		t.Fatalf("DeleteWhere failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted record, got %d", deleted)
	}
}

func TestClearRemovesDatabaseFiles(t *testing.T) {
	dir := t.TempDir()
	backend := NewBackend(dir)

	store, err := backend.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		_ = store.Insert(storage.Record{Timestamp: time.Now()})
	}
	_ = store.Close()

	if _, err := os.Stat(filepath.Join(dir, DBFileName)); err != nil {
		t.Fatalf("Expected database file to exist: %v", err)
	}

	if err := backend.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if _, err := os.Stat(filepath.Join(dir, DBFileName+suffix)); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be removed, stat err=%v", DBFileName+suffix, err)
		}
	}

	// clearing an already clean location is fine
	if err := backend.Clear(); err != nil {
		t.Errorf("Expected a second Clear to succeed, got %v", err)
	}
}

func TestDeleteManyMatchingInBatches(t *testing.T) {
	s, err := NewBackend(t.TempDir()).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < deleteBatchSize*2+10; i++ {
		_ = s.Insert(storage.Record{Timestamp: time.Now()})
	}

	deleted, err := s.DeleteWhere(storage.PredicateFunc(func(storage.Record) bool { return true }))
	if err != nil {
		t.Fatalf("DeleteWhere failed: %v", err)
	}
	if deleted != deleteBatchSize*2+10 {
		t.Errorf("Expected %d deleted records, got %d", deleteBatchSize*2+10, deleted)
	}
}

// TestCloseReleasesBlockedInsert holds the write lock on another connection so that an
// insert waits inside SQLite, then closes the store under it.
func TestCloseReleasesBlockedInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), DBFileName)
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	other, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeoutMs))
	if err != nil {
		t.Fatalf("Failed to open second connection: %v", err)
	}
	defer other.Close()
	conn, err := other.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		t.Fatalf("Failed to take the write lock: %v", err)
	}
	defer conn.ExecContext(ctx, "ROLLBACK")

	insertErr := make(chan error, 1)
	go func() {
		insertErr <- s.Insert(storage.Record{Timestamp: time.Now()})
	}()

	select {
	case err := <-insertErr:
		t.Fatalf("Expected the insert to wait for the write lock, it returned %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	closed := make(chan error, 1)
	start := time.Now()
	go func() {
		closed <- s.Close()
	}()

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Close to return while an insert is blocked")
	}
	t.Logf("Close returned after %s", time.Since(start))

	select {
	case err := <-insertErr:
		if !storage.IsFatal(err) {
			t.Errorf("Expected the blocked insert to fail with a fatal error, got %v", err)
		}
	case <-time.After(2 * busyTimeoutMs * time.Millisecond):
		t.Fatal("Expected the blocked insert to return after Close")
	}
}
