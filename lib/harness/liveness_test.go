package harness

import (
	"sync"
	"testing"
	"time"
)

func TestScanThreshold(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	threshold := 5 * time.Second

	tests := []struct {
		name      string
		ages      []time.Duration // age of each worker at scan time
		wantCount int
		wantAge   time.Duration
		wantExc   time.Duration
	}{
		{"empty", nil, 0, 0, 0},
		{"all fresh", []time.Duration{0, time.Second, 4 * time.Second}, 0, 0, 0},
		{"exactly at threshold", []time.Duration{5 * time.Second}, 0, 0, 0},
		{"just over threshold", []time.Duration{5*time.Second + time.Nanosecond}, 1, 5*time.Second + time.Nanosecond, time.Nanosecond},
		{"minimum among stale", []time.Duration{time.Second, 9 * time.Second, 7 * time.Second, 20 * time.Second}, 3, 7 * time.Second, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLivenessTracker()
			for i, age := range tt.ages {
				l.touchAt(WorkerID(i+1), base.Add(-age), 0)
			}

			r := l.Scan(base, threshold)
			if r.Count != tt.wantCount {
				t.Errorf("Expected %d stale workers, got %d", tt.wantCount, r.Count)
			}
			if r.MinAge != tt.wantAge {
				t.Errorf("Expected min age %s, got %s", tt.wantAge, r.MinAge)
			}
			if r.MinExcess != tt.wantExc {
				t.Errorf("Expected min excess %s, got %s", tt.wantExc, r.MinExcess)
			}
			if len(r.IDs) != r.Count {
				t.Errorf("Expected %d ids, got %d", r.Count, len(r.IDs))
			}
		})
	}
}

func TestScanGrace(t *testing.T) {
	now := time.Now()
	l := NewLivenessTracker()
	l.touchAt(1, now.Add(-8*time.Second), 3*time.Second) // limit 8s
	l.touchAt(2, now.Add(-9*time.Second), 3*time.Second) // limit 8s, 1s over

	r := l.Scan(now, 5*time.Second)
	if r.Count != 1 {
		t.Fatalf("Expected 1 stale worker, got %d", r.Count)
	}
	if r.IDs[0] != 2 {
		t.Errorf("Expected worker 2 to be stale, got %d", r.IDs[0])
	}
	if r.MinExcess != time.Second {
		t.Errorf("Expected an excess of 1s, got %s", r.MinExcess)
	}
}

func TestScanDoesNotModify(t *testing.T) {
	l := NewLivenessTracker()
	past := time.Now().Add(-time.Hour)
	l.touchAt(1, past, 0)

	_ = l.Scan(time.Now(), time.Second)
	_ = l.Scan(time.Now(), time.Second)

	last, ok := l.LastSuccess(1)
	if !ok || !last.Equal(time.Unix(0, past.UnixNano())) {
		t.Errorf("Expected the entry to stay at %v, got %v", past, last)
	}
	if l.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", l.Len())
	}
}

func TestTouchUpdates(t *testing.T) {
	l := NewLivenessTracker()
	if _, ok := l.LastSuccess(1); ok {
		t.Fatal("Expected no entry before the first success")
	}

	l.touchAt(1, time.Now().Add(-time.Hour), 0)
	l.Touch(1)

	last, _ := l.LastSuccess(1)
	if time.Since(last) > time.Second {
		t.Errorf("Expected Touch to move the last success to now, got %v", last)
	}
	if r := l.Scan(time.Now(), time.Minute); r.Count != 0 {
		t.Errorf("Expected no stale worker after Touch, got %d", r.Count)
	}
}

func TestConcurrentTouchAndScan(t *testing.T) {
	l := NewLivenessTracker()

	const workers = 32
	var wg, touched sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(workers)
	touched.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id WorkerID) {
			defer wg.Done()
			l.Touch(id)
			touched.Done()
			for {
				select {
				case <-stop:
					return
				default:
					l.Touch(id)
				}
			}
		}(WorkerID(i + 1))
	}

	for i := 0; i < 100; i++ {
		_ = l.Scan(time.Now(), time.Hour)
	}

	// every worker must have touched at least once, however the scheduler interleaved the scans
	touched.Wait()
	close(stop)
	wg.Wait()

	if l.Len() != workers {
		t.Errorf("Expected %d entries, got %d", workers, l.Len())
	}
}
