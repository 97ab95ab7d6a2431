// Package sqlstore implements storage.IRecordStore on top of SQLite using the
// pure Go driver modernc.org/sqlite.
//
// Records live in one table (id INTEGER PRIMARY KEY AUTOINCREMENT, ts INTEGER)
// with an index on ts. The database runs in WAL mode with a busy timeout, so the
// many concurrent writers of the harness queue on SQLites own locks instead of
// failing immediately. Checkpoint maps to PRAGMA wal_checkpoint(TRUNCATE).
//
// OlderThan predicates become a single DELETE ... WHERE ts < ?; other predicates
// are evaluated in Go over a full scan.
package sqlstore
