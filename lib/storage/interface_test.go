package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestOlderThan(t *testing.T) {
	now := time.Now()
	pred := OlderThan{Cutoff: now}

	if !pred.Match(Record{Timestamp: now.Add(-time.Nanosecond)}) {
		t.Errorf("Expected a record before the cutoff to match")
	}
	if pred.Match(Record{Timestamp: now}) {
		t.Errorf("Expected a record exactly at the cutoff not to match")
	}
	if pred.Match(Record{Timestamp: now.Add(time.Second)}) {
		t.Errorf("Expected a record after the cutoff not to match")
	}
}

func TestPredicateFunc(t *testing.T) {
	even := PredicateFunc(func(rec Record) bool { return rec.ID%2 == 0 })
	if !even.Match(Record{ID: 2}) || even.Match(Record{ID: 3}) {
		t.Errorf("Expected PredicateFunc to delegate to the wrapped function")
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  RetCode
		fatal bool
	}{
		{"nil", nil, RetCSuccess, false},
		{"closed", ErrClosed, RetCClosed, true},
		{"wrapped closed", fmt.Errorf("insert: %w", ErrClosed), RetCClosed, true},
		{"fresh closed", NewError(RetCClosed, "shut down"), RetCClosed, true},
		{"unsupported", NewError(RetCUnsupportedOperation, "nope"), RetCUnsupportedOperation, false},
		{"foreign", errors.New("disk on fire"), RetCInternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := CodeOf(tt.err); code != tt.code {
				t.Errorf("CodeOf() = %s, want %s", code, tt.code)
			}
			if fatal := IsFatal(tt.err); fatal != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", fatal, tt.fatal)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("checkpoint: %w", NewError(RetCClosed, "other message"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected errors.Is to match on the return code")
	}
	if errors.Is(NewError(RetCInternalError, "x"), ErrClosed) {
		t.Errorf("Expected different codes not to match")
	}
}

func TestFeatureString(t *testing.T) {
	if FeatureCheckpoint.String() != "Checkpoint" {
		t.Errorf("Expected Checkpoint, got %s", FeatureCheckpoint)
	}
	if (FeatureInsert | FeatureCount).String() != "Unknown" {
		t.Errorf("Expected combined flags to be Unknown")
	}
}
