package memstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	storetesting "github.com/ValentinKolb/dHammer/lib/storage/testing"
)

func Test(t *testing.T) {
	storetesting.RunRecordStoreTests(t, "MemStore", func(t testing.TB) storage.IRecordStore {
		s, err := NewMemStore(nil)
		if err != nil {
			t.Fatalf("NewMemStore failed: %v", err)
		}
		return s
	})

	storetesting.RunRecordStoreTests(t, "MemStore(persistent)", func(t testing.TB) storage.IRecordStore {
		store, err := NewBackend(t.TempDir(), nil).Open()
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return store
	})
}

func TestSaveLoad(t *testing.T) {
	src, _ := NewMemStore(&Options{NumShards: 4})
	ts := time.Unix(0, 1_700_000_000_123_456_789)
	for i := 0; i < 100; i++ {
		if err := src.Insert(storage.Record{Timestamp: ts}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	dst, _ := NewMemStore(&Options{NumShards: 4})
	if err := dst.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if count, _ := dst.Count(); count != 100 {
		t.Errorf("Expected 100 records after load, got %d", count)
	}

	// timestamps survive with nanosecond precision
	deleted, _ := dst.DeleteWhere(storage.OlderThan{Cutoff: ts.Add(time.Nanosecond)})
	if deleted != 100 {
		t.Errorf("Expected all 100 loaded records to be older than ts+1ns, got %d", deleted)
	}

	// ids handed out after load must not collide with loaded ids
	if err := dst.Insert(storage.Record{Timestamp: ts}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if info := dst.Info(); info.NextID != 101 {
		t.Errorf("Expected next id 101 after load, got %d", info.NextID)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	s, _ := NewMemStore(nil)
	if err := s.Load(bytes.NewReader([]byte("NOTASNAPSHOT-----"))); err == nil {
		t.Errorf("Expected an error for an invalid magic number")
	}
}

func TestCheckpointPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	backend := NewBackend(dir, nil)

	store, err := backend.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 42; i++ {
		_ = store.Insert(storage.Record{Timestamp: time.Now()})
	}
	if err := store.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	_ = store.Close()

	if _, err := os.Stat(filepath.Join(dir, SnapshotFileName)); err != nil {
		t.Fatalf("Expected snapshot file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, SnapshotFileName+".tmp")); !os.IsNotExist(err) {
		t.Errorf("Expected the temp file to be renamed away, stat err=%v", err)
	}

	reopened, err := backend.Open()
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if count, _ := reopened.Count(); count != 42 {
		t.Errorf("Expected 42 records after reopen, got %d", count)
	}
	_ = reopened.Close()

	// clear removes the snapshot, the next open starts empty
	if err := backend.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	fresh, err := backend.Open()
	if err != nil {
		t.Fatalf("Open after clear failed: %v", err)
	}
	if count, _ := fresh.Count(); count != 0 {
		t.Errorf("Expected an empty store after clear, got %d", count)
	}
}

func TestPut(t *testing.T) {
	s, _ := NewMemStore(nil)

	if err := s.Put(storage.Record{ID: 0, Timestamp: time.Now()}); storage.CodeOf(err) != storage.RetCInvalidOperation {
		t.Errorf("Expected id 0 to be rejected, got %v", err)
	}

	if err := s.Put(storage.Record{ID: 500, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = s.Insert(storage.Record{Timestamp: time.Now()})

	if info := s.Info(); info.NextID != 501 || info.Records != 2 {
		t.Errorf("Expected Insert after Put to continue at 501 with 2 records, got %+v", info)
	}
}

func TestDeleteWhereNilPredicate(t *testing.T) {
	s, _ := NewMemStore(nil)
	if _, err := s.DeleteWhere(nil); storage.CodeOf(err) != storage.RetCInvalidOperation {
		t.Errorf("Expected a nil predicate to be rejected, got %v", err)
	}
}

func BenchmarkInsert(b *testing.B) {
	s, _ := NewMemStore(nil)
	rec := storage.Record{Timestamp: time.Now()}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = s.Insert(rec)
		}
	})
}
