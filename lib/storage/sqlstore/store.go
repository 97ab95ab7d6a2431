package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/lni/dragonboat/v4/logger"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	// DBFileName is the name of the database file inside the store location
	DBFileName = "records.db"

	// busyTimeoutMs is how long a connection waits for a lock held by another connection
	busyTimeoutMs = 5000

	// deleteBatchSize limits the number of ids per DELETE statement for PredicateFunc deletes
	deleteBatchSize = 500
)

var log = logger.GetLogger("sqlstore")

// Store persists records to SQLite.
// Statements from different goroutines run on different pooled connections,
// locking is left to SQLite itself.
//
// Every statement runs under the store context. Close cancels it, which interrupts
// statements waiting for a lock, so Close never waits for a hanging call.
type Store struct {
	db   *sql.DB
	path string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore opens (or creates) the database at path.
// The path should be a file path (e.g., "./records.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", path, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// an in-memory database only exists for its connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_ts ON records(ts)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{db: db, path: path, ctx: ctx, cancel: cancel}, nil
}

// NewBackend binds the store to a directory, the database lives in <location>/records.db.
// Clear removes the database together with its WAL and shared memory files.
func NewBackend(location string) storage.Backend {
	path := filepath.Join(location, DBFileName)
	return storage.Backend{
		Name: "sqlite",
		Open: func() (storage.IRecordStore, error) {
			if err := os.MkdirAll(location, 0o755); err != nil {
				return nil, fmt.Errorf("create store location: %w", err)
			}
			return NewSQLiteStore(path)
		},
		Clear: func() error {
			for _, suffix := range []string{"", "-wal", "-shm"} {
				if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
			return nil
		},
	}
}

// closed reports whether Close was called
func (s *Store) closed() bool {
	return s.ctx.Err() != nil
}

// fail converts a driver error into a storage error. Once the store is closed every
// failure is ErrClosed, whatever the driver made of the interrupted statement.
func (s *Store) fail(op string, err error) error {
	if s.closed() || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return storage.ErrClosed
	}
	return storage.NewError(storage.RetCInternalError, fmt.Sprintf("%s: %v", op, err))
}

// --------------------------------------------------------------------------
// IRecordStore Interface Methods (docs see storage/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Insert(rec storage.Record) error {
	if s.closed() {
		return storage.ErrClosed
	}

	if _, err := s.db.ExecContext(s.ctx, `INSERT INTO records (ts) VALUES (?)`, rec.Timestamp.UnixNano()); err != nil {
		return s.fail("insert record", err)
	}
	return nil
}

// DeleteWhere pushes OlderThan predicates down into SQL.
// Any other predicate is evaluated in Go over a full scan and the matching ids are deleted in batches.
func (s *Store) DeleteWhere(pred storage.Predicate) (int, error) {
	if s.closed() {
		return 0, storage.ErrClosed
	}

	switch p := pred.(type) {
	case nil:
		return 0, storage.NewError(storage.RetCInvalidOperation, "predicate must not be nil")
	case storage.OlderThan:
		return s.deleteOlderThan(p.Cutoff)
	case *storage.OlderThan:
		return s.deleteOlderThan(p.Cutoff)
	default:
		return s.deleteMatching(pred)
	}
}

func (s *Store) deleteOlderThan(cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(s.ctx, `DELETE FROM records WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, s.fail("delete records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.NewError(storage.RetCInternalError, fmt.Sprintf("rows affected: %v", err))
	}
	return int(n), nil
}

func (s *Store) deleteMatching(pred storage.Predicate) (int, error) {
	rows, err := s.db.QueryContext(s.ctx, `SELECT id, ts FROM records`)
	if err != nil {
		return 0, s.fail("scan records", err)
	}

	var ids []int64
	for rows.Next() {
		var id, ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			rows.Close()
			return 0, s.fail("scan record", err)
		}
		if pred.Match(storage.Record{ID: uint64(id), Timestamp: time.Unix(0, ts)}) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, s.fail("scan records", err)
	}
	rows.Close()

	deleted := 0
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		n, err := s.deleteIDs(ids[start:end])
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (s *Store) deleteIDs(ids []int64) (int, error) {
	query := make([]byte, 0, 40+2*len(ids))
	query = append(query, "DELETE FROM records WHERE id IN ("...)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query = append(query, ',')
		}
		query = append(query, '?')
		args[i] = id
	}
	query = append(query, ')')

	res, err := s.db.ExecContext(s.ctx, string(query), args...)
	if err != nil {
		return 0, s.fail("delete records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.NewError(storage.RetCInternalError, fmt.Sprintf("rows affected: %v", err))
	}
	return int(n), nil
}

// Checkpoint moves the WAL content into the database file and truncates the WAL
func (s *Store) Checkpoint() error {
	if s.closed() {
		return storage.ErrClosed
	}

	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(s.ctx, `PRAGMA wal_checkpoint(TRUNCATE)`).Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return s.fail("checkpoint", err)
	}
	if busy != 0 {
		// readers or writers kept the checkpoint from completing, that is not an error but worth knowing
		log.Debugf("checkpoint incomplete (wal frames=%d, checkpointed=%d)", logFrames, checkpointed)
	}
	return nil
}

func (s *Store) Count() (int, error) {
	if s.closed() {
		return 0, storage.ErrClosed
	}

	var count int
	if err := s.db.QueryRowContext(s.ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, s.fail("count records", err)
	}
	return count, nil
}

// SupportsFeature checks if this store supports a specific feature
func (s *Store) SupportsFeature(feature storage.Feature) bool {
	supportedFeatures := storage.FeatureInsert |
		storage.FeatureDeleteOlderThan |
		storage.FeatureDeleteWhere |
		storage.FeatureCheckpoint |
		storage.FeatureCount
	return supportedFeatures&feature == feature
}

// Close interrupts running statements and closes the database. Statements still in
// flight return ErrClosed. Closing twice is a no-op.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
