package testing

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
)

// StoreFactory creates a new, empty store for one test.
// The factory may use t.TempDir() for its location.
type StoreFactory func(t testing.TB) storage.IRecordStore

// RunRecordStoreTests runs the conformance test suite for a storage.IRecordStore implementation.
func RunRecordStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Count", func(t *testing.T) {
			testInsertCount(t, factory(t))
		})

		t.Run("DeleteOlderThan", func(t *testing.T) {
			testDeleteOlderThan(t, factory(t))
		})

		t.Run("DeleteWhere", func(t *testing.T) {
			testDeleteWhere(t, factory(t))
		})

		t.Run("DeleteNothing", func(t *testing.T) {
			testDeleteNothing(t, factory(t))
		})

		t.Run("Checkpoint", func(t *testing.T) {
			testCheckpoint(t, factory(t))
		})

		t.Run("ConcurrentInsertDelete", func(t *testing.T) {
			testConcurrentInsertDelete(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireFeature skips the test if the store does not support the feature
func requireFeature(t testing.TB, store storage.IRecordStore, feature storage.Feature) {
	if !store.SupportsFeature(feature) {
		t.Skipf("store does not support %s", feature)
	}
}

func mustInsert(t testing.TB, store storage.IRecordStore, ts time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := store.Insert(storage.Record{Timestamp: ts}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
}

func mustCount(t testing.TB, store storage.IRecordStore) int {
	t.Helper()
	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return count
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertCount(t *testing.T, store storage.IRecordStore) {
	defer store.Close()

	requireFeature(t, store, storage.FeatureInsert|storage.FeatureCount)

	if count := mustCount(t, store); count != 0 {
		t.Fatalf("Expected an empty store, got %d records", count)
	}

	mustInsert(t, store, time.Now(), 25)

	if count := mustCount(t, store); count != 25 {
		t.Errorf("Expected 25 records after insert, got %d", count)
	}
}

func testDeleteOlderThan(t *testing.T, store storage.IRecordStore) {
	defer store.Close()

	requireFeature(t, store, storage.FeatureInsert|storage.FeatureDeleteOlderThan|storage.FeatureCount)

	now := time.Now()
	mustInsert(t, store, now.Add(-10*time.Second), 10)
	mustInsert(t, store, now, 5)

	deleted, err := store.DeleteWhere(storage.OlderThan{Cutoff: now.Add(-5 * time.Second)})
	if err != nil {
		t.Fatalf("DeleteWhere failed: %v", err)
	}
	if deleted != 10 {
		t.Errorf("Expected 10 deleted records, got %d", deleted)
	}
	if count := mustCount(t, store); count != 5 {
		t.Errorf("Expected 5 remaining records, got %d", count)
	}

	// the cutoff is exclusive
	deleted, err = store.DeleteWhere(storage.OlderThan{Cutoff: now})
	if err != nil {
		t.Fatalf("DeleteWhere failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected records exactly at the cutoff to survive, %d were deleted", deleted)
	}
}

func testDeleteWhere(t *testing.T, store storage.IRecordStore) {
	defer store.Close()

	requireFeature(t, store, storage.FeatureInsert|storage.FeatureDeleteWhere|storage.FeatureCount)

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 10; i++ {
		mustInsert(t, store, base.Add(time.Duration(i)*time.Second), 1)
	}

	evenSeconds := storage.PredicateFunc(func(rec storage.Record) bool {
		return rec.Timestamp.Sub(base)/time.Second%2 == 0
	})

	deleted, err := store.DeleteWhere(evenSeconds)
	if err != nil {
		t.Fatalf("DeleteWhere failed: %v", err)
	}
	if deleted != 5 {
		t.Errorf("Expected 5 deleted records, got %d", deleted)
	}
	if count := mustCount(t, store); count != 5 {
		t.Errorf("Expected 5 remaining records, got %d", count)
	}
}

func testDeleteNothing(t *testing.T, store storage.IRecordStore) {
	defer store.Close()

	requireFeature(t, store, storage.FeatureDeleteOlderThan)

	deleted, err := store.DeleteWhere(storage.OlderThan{Cutoff: time.Now()})
	if err != nil {
		t.Fatalf("DeleteWhere on an empty store failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted records on an empty store, got %d", deleted)
	}
}

func testCheckpoint(t *testing.T, store storage.IRecordStore) {
	defer store.Close()

	requireFeature(t, store, storage.FeatureInsert|storage.FeatureCheckpoint|storage.FeatureCount)

	mustInsert(t, store, time.Now(), 20)

	if err := store.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	// writes after a checkpoint must still work
	mustInsert(t, store, time.Now(), 5)
	if count := mustCount(t, store); count != 25 {
		t.Errorf("Expected 25 records after checkpoint, got %d", count)
	}
}

// testConcurrentInsertDelete hammers the store with writers while a deleter prunes all records.
// No record may be lost or counted twice: inserted == deleted + remaining.
func testConcurrentInsertDelete(t *testing.T, store storage.IRecordStore) {
	defer store.Close()

	requireFeature(t, store, storage.FeatureInsert|storage.FeatureDeleteOlderThan|storage.FeatureCount)

	const (
		writers   = 8
		perWriter = 100
	)

	var (
		wg       sync.WaitGroup
		inserted atomic.Int64
		deleted  atomic.Int64
		done     = make(chan struct{})
	)

	// deleter
	deleterDone := make(chan struct{})
	go func() {
		defer close(deleterDone)
		for {
			n, err := store.DeleteWhere(storage.OlderThan{Cutoff: time.Now().Add(time.Hour)})
			if err != nil {
				t.Errorf("DeleteWhere failed: %v", err)
				return
			}
			deleted.Add(int64(n))

			select {
			case <-done:
				return
			default:
			}
		}
	}()

	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := store.Insert(storage.Record{Timestamp: time.Now()}); err != nil {
					t.Errorf("Insert failed: %v", err)
					return
				}
				inserted.Add(1)
			}
		}()
	}

	wg.Wait()
	close(done)
	<-deleterDone

	remaining := mustCount(t, store)
	if got := deleted.Load() + int64(remaining); got != inserted.Load() {
		t.Errorf("Expected deleted (%d) + remaining (%d) == inserted (%d)", deleted.Load(), remaining, inserted.Load())
	}
	if inserted.Load() != writers*perWriter {
		t.Errorf("Expected %d inserts, got %d", writers*perWriter, inserted.Load())
	}
}

func testClosed(t *testing.T, store storage.IRecordStore) {
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := store.Insert(storage.Record{Timestamp: time.Now()})
	if !storage.IsFatal(err) {
		t.Errorf("Expected a fatal error on Insert after Close, got %v", err)
	}

	_, err = store.DeleteWhere(storage.OlderThan{Cutoff: time.Now()})
	if !storage.IsFatal(err) {
		t.Errorf("Expected a fatal error on DeleteWhere after Close, got %v", err)
	}

	if err := store.Checkpoint(); !storage.IsFatal(err) {
		t.Errorf("Expected a fatal error on Checkpoint after Close, got %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Expected closing twice to be a no-op, got %v", err)
	}
}
