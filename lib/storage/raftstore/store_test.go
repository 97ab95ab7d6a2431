package raftstore

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	storetesting "github.com/ValentinKolb/dHammer/lib/storage/testing"
)

// freeAddress returns a local address that was free a moment ago
func freeAddress(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer l.Close()
	return fmt.Sprintf("127.0.0.1:%d", l.Addr().(*net.TCPAddr).Port)
}

func openTestStore(t testing.TB) *Store {
	t.Helper()
	opts := DefaultOptions()
	opts.Address = freeAddress(t)
	opts.RTTMillisecond = 10
	opts.LeaderTimeout = 10 * time.Second

	store, err := NewBackend(t.TempDir(), opts).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store.(*Store)
}

func Test(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft store tests in short mode")
	}
	storetesting.RunRecordStoreTests(t, "RaftStore", func(t testing.TB) storage.IRecordStore {
		return openTestStore(t)
	})
}

func TestPredicateFuncIsUnsupported(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft store tests in short mode")
	}
	s := openTestStore(t)
	defer s.Close()

	_, err := s.DeleteWhere(storage.PredicateFunc(func(storage.Record) bool { return true }))
	if code := storage.CodeOf(err); code != storage.RetCUnsupportedOperation {
		t.Errorf("Expected %s, got %s (%v)", storage.RetCUnsupportedOperation, code, err)
	}
	if storage.IsFatal(err) {
		t.Error("Expected an unsupported predicate not to be fatal")
	}
}

func TestRecordIDsFollowLogIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft store tests in short mode")
	}
	s := openTestStore(t)
	defer s.Close()

	for i := 0; i < 10; i++ {
		if err := s.Insert(storage.Record{Timestamp: time.Now()}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Records != 10 {
		t.Errorf("Expected 10 records, got %d", info.Records)
	}
	// the log also contains entries that are not inserts (e.g. the initial config change)
	if info.NextID < 10 {
		t.Errorf("Expected the next id to be at least 10, got %d", info.NextID)
	}
}

func TestCloseReleasesPendingProposals(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft store tests in short mode")
	}
	s := openTestStore(t)
	defer s.Close()

	// a proposal must never be held until its own timeout once the store is closed
	s.timeout = time.Minute

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for {
				if err := s.Insert(storage.Record{Timestamp: time.Now()}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Close to return while proposals are pending")
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if !storage.IsFatal(err) {
			t.Errorf("Expected writers to stop on a fatal error, got %v", err)
		}
	}
}
