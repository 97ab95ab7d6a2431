package chaos

import (
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dHammer/lib/common"
	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/ValentinKolb/dHammer/lib/storage/memstore"
	storetesting "github.com/ValentinKolb/dHammer/lib/storage/testing"
)

func newInner(t testing.TB) storage.IRecordStore {
	t.Helper()
	s, err := memstore.NewMemStore(nil)
	if err != nil {
		t.Fatalf("NewMemStore failed: %v", err)
	}
	return s
}

// Without faults the decorator must behave exactly like the store it wraps
func TestPassThrough(t *testing.T) {
	storetesting.RunRecordStoreTests(t, "ChaosNoFaults", func(t testing.TB) storage.IRecordStore {
		return Wrap(newInner(t), common.ChaosConfig{})
	})
}

func TestFailRate(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		wantFail bool
	}{
		{"never", 0, false},
		{"always", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Wrap(newInner(t), common.ChaosConfig{FailRate: tt.rate})
			defer s.Close()

			for i := 0; i < 20; i++ {
				err := s.Insert(storage.Record{Timestamp: time.Now()})
				if (err != nil) != tt.wantFail {
					t.Fatalf("Expected failure=%v, got %v", tt.wantFail, err)
				}
				if err != nil && storage.IsFatal(err) {
					t.Fatalf("Expected injected failures to be transient, got %v", err)
				}
			}
		})
	}
}

func TestFatalAfter(t *testing.T) {
	s := Wrap(newInner(t), common.ChaosConfig{FatalAfter: 3})
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.Insert(storage.Record{Timestamp: time.Now()}); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	err := s.Insert(storage.Record{Timestamp: time.Now()})
	if !errors.Is(err, ErrInjectedFatal) || !storage.IsFatal(err) {
		t.Fatalf("Expected a fatal error after 3 inserts, got %v", err)
	}

	// every other call is fatal from now on
	if _, err := s.DeleteWhere(storage.OlderThan{Cutoff: time.Now()}); !storage.IsFatal(err) {
		t.Errorf("Expected DeleteWhere to fail fatally, got %v", err)
	}
	if err := s.Checkpoint(); !storage.IsFatal(err) {
		t.Errorf("Expected Checkpoint to fail fatally, got %v", err)
	}
	if _, err := s.Count(); !storage.IsFatal(err) {
		t.Errorf("Expected Count to fail fatally, got %v", err)
	}
}

func TestStallAfterBlocksUntilClose(t *testing.T) {
	s := Wrap(newInner(t), common.ChaosConfig{StallAfter: 1})

	if err := s.Insert(storage.Record{Timestamp: time.Now()}); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- s.Insert(storage.Record{Timestamp: time.Now()})
	}()

	select {
	case err := <-result:
		t.Fatalf("Expected the second insert to block, it returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if s.Stalled() != 1 {
		t.Errorf("Expected 1 stalled insert, got %d", s.Stalled())
	}

	// deletes are not stalled
	if _, err := s.DeleteWhere(storage.OlderThan{Cutoff: time.Now().Add(time.Hour)}); err != nil {
		t.Errorf("Expected DeleteWhere to succeed while inserts are stalled, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-result:
		if !storage.IsFatal(err) {
			t.Errorf("Expected the stalled insert to fail fatally after Close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Close to release the stalled insert")
	}
}

func TestLatency(t *testing.T) {
	s := Wrap(newInner(t), common.ChaosConfig{LatencyMax: 20 * time.Millisecond})
	defer s.Close()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := s.Insert(storage.Record{Timestamp: time.Now()}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 10*20*time.Millisecond+500*time.Millisecond {
		t.Errorf("Expected latency to be bounded, 10 inserts took %s", elapsed)
	}
}

func TestWrapBackend(t *testing.T) {
	cleared := false
	b := WrapBackend(storage.Backend{
		Name:  "memory",
		Open:  func() (storage.IRecordStore, error) { return newInner(t), nil },
		Clear: func() error { cleared = true; return nil },
	}, common.ChaosConfig{FailRate: 1})

	if b.Name != "memory+chaos" {
		t.Errorf("Expected name memory+chaos, got %s", b.Name)
	}
	if err := b.Clear(); err != nil || !cleared {
		t.Errorf("Expected Clear to reach the wrapped backend, err=%v", err)
	}

	store, err := b.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*Store); !ok {
		t.Fatalf("Expected a chaos store, got %T", store)
	}
	if err := store.Insert(storage.Record{Timestamp: time.Now()}); !errors.Is(err, ErrInjected) {
		t.Errorf("Expected an injected failure, got %v", err)
	}
}
