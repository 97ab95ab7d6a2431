package storage

import (
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Records and Predicates
// --------------------------------------------------------------------------

// Record is the unit of work pushed into a store.
// The ID is assigned by the store; callers leave it at zero on Insert.
type Record struct {
	ID        uint64
	Timestamp time.Time
}

// Predicate selects records for DeleteWhere
type Predicate interface {
	Match(rec Record) bool
}

// OlderThan matches every record created strictly before Cutoff.
// Unlike PredicateFunc it can be pushed down to backends that can not run Go code
// (SQL, replicated state machines).
type OlderThan struct {
	Cutoff time.Time
}

func (p OlderThan) Match(rec Record) bool {
	return rec.Timestamp.Before(p.Cutoff)
}

// PredicateFunc adapts an arbitrary function to a Predicate
type PredicateFunc func(rec Record) bool

func (f PredicateFunc) Match(rec Record) bool {
	return f(rec)
}

// --------------------------------------------------------------------------
// Feature flags
// --------------------------------------------------------------------------

// Feature represents store features as bit flags
type Feature uint64

const (
	FeatureInsert          Feature = 1 << iota // Support for Insert operations
	FeatureDeleteOlderThan                     // Support for DeleteWhere with an OlderThan predicate
	FeatureDeleteWhere                         // Support for DeleteWhere with arbitrary predicates
	FeatureCheckpoint                          // Support for Checkpoint operations
	FeatureCount                               // Support for Count operations
)

func (f Feature) String() string {
	switch f {
	case FeatureInsert:
		return "Insert"
	case FeatureDeleteOlderThan:
		return "DeleteOlderThan"
	case FeatureDeleteWhere:
		return "DeleteWhere"
	case FeatureCheckpoint:
		return "Checkpoint"
	case FeatureCount:
		return "Count"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IRecordStore is the storage port the harness drives.
// All methods must be safe for concurrent use: the harness calls them from many
// goroutines at once without any serialization of its own, since the concurrency
// control of the store is what is under test.
type IRecordStore interface {
	// Insert adds a record. The store assigns the identity of the record.
	Insert(rec Record) (err error)
	// DeleteWhere removes all records matching pred and returns how many were removed.
	DeleteWhere(pred Predicate) (count int, err error)
	// Checkpoint forces a durability / compaction pass.
	Checkpoint() (err error)
	// Count returns the number of records currently held by the store.
	Count() (count int, err error)
	// SupportsFeature checks if the store supports the specified feature(s).
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)
	// Close releases the store. Every call after Close fails with RetCClosed.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code and an error message
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// ErrClosed is returned by every operation on a closed store
var ErrClosed = NewError(RetCClosed, "store is closed")

// Is makes errors.Is match on the return code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the return code of err (RetCInternalError for foreign errors, RetCSuccess for nil)
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsFatal reports whether err means the store will not accept any further calls.
// All other errors are transient: the caller is expected to log them and go on.
func IsFatal(err error) bool {
	return CodeOf(err) == RetCClosed
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the store.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCClosed                              // 4: The store is closed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Store lifecycle
// --------------------------------------------------------------------------

// Backend bundles the lifecycle of a store at a fixed location.
// Each store package provides a constructor for it (memstore.NewBackend, ...).
type Backend struct {
	// Name identifies the backend in logs and summaries
	Name string
	// Open opens (or creates) the store at the backends location
	Open func() (IRecordStore, error)
	// Clear removes all data a previous run left at the backends location
	Clear func() error
}
