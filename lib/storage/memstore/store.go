package memstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/ValentinKolb/dHammer/lib/storage/memstore/internal"
	"github.com/ValentinKolb/dHammer/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// SnapshotFileName is the name of the checkpoint file inside the store location
	SnapshotFileName = "records.snap"
)

var log = logger.GetLogger("memstore")

// --------------------------------------------------------------------------
// Core store structure
// --------------------------------------------------------------------------

// Store is a sharded in-memory record store.
// Records are spread over independent xsync maps so that concurrent inserts and
// deletes only contend inside one shard.
type Store struct {
	numShards int
	seed      uint64
	shards    []*internal.Shard
	nextID    atomic.Uint64

	snapshotPath string
	checkpointMu sync.Mutex // only one checkpoint may write the snapshot file at a time
	closed       atomic.Bool
}

// Options configures the Store during initialization
type Options struct {
	NumShards    int    // Number of shards (0 = number of CPUs)
	SnapshotPath string // File written by Checkpoint (empty = checkpoints are not persisted)
}

// DefaultOptions returns the default store options
func DefaultOptions() *Options {
	return &Options{
		NumShards: runtime.NumCPU(),
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMemStore creates a new store with the specified options (optional).
// If a snapshot exists at opts.SnapshotPath it is loaded.
func NewMemStore(opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}

	s := &Store{
		numShards:    numShards,
		seed:         util.GenerateSeed(),
		shards:       newShards(numShards),
		snapshotPath: opts.SnapshotPath,
	}

	if s.snapshotPath == "" {
		return s, nil
	}

	f, err := os.Open(s.snapshotPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	if err := s.Load(f); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.snapshotPath, err)
	}
	log.Infof("loaded %d records from %s", s.countRecords(), s.snapshotPath)
	return s, nil
}

// NewBackend binds the store to a directory. Checkpoints are written to
// <location>/records.snap. An empty location keeps everything in memory.
func NewBackend(location string, opts *Options) storage.Backend {
	o := DefaultOptions()
	if opts != nil {
		*o = *opts
	}
	if location != "" {
		o.SnapshotPath = filepath.Join(location, SnapshotFileName)
	}

	return storage.Backend{
		Name: "memory",
		Open: func() (storage.IRecordStore, error) {
			if location != "" {
				if err := os.MkdirAll(location, 0o755); err != nil {
					return nil, fmt.Errorf("create store location: %w", err)
				}
			}
			return NewMemStore(o)
		},
		Clear: func() error {
			if location == "" {
				return nil
			}
			if err := os.Remove(o.SnapshotPath); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		},
	}
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shardFor returns the shard responsible for a record id
func (s *Store) shardFor(id uint64) *internal.Shard {
	return internal.GetShard(util.HashUint64(id, s.seed), s.shards)
}

// --------------------------------------------------------------------------
// IRecordStore Interface Methods (docs see storage/interface.go)
// --------------------------------------------------------------------------

// Insert stores the record under a fresh id. rec.ID is ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store) Insert(rec storage.Record) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	id := s.nextID.Add(1)
	s.shardFor(id).Data.Store(id, rec.Timestamp.UnixNano())
	return nil
}

// Put stores a record under the id chosen by the caller.
// This is used by replicated stores that derive ids from their log index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store) Put(rec storage.Record) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if rec.ID == 0 {
		return storage.NewError(storage.RetCInvalidOperation, "record id must not be zero")
	}
	s.raiseNextID(rec.ID)
	s.shardFor(rec.ID).Data.Store(rec.ID, rec.Timestamp.UnixNano())
	return nil
}

// raiseNextID makes sure ids handed out by Insert never collide with ids given to Put
func (s *Store) raiseNextID(id uint64) {
	for {
		curr := s.nextID.Load()
		if id <= curr {
			return
		}
		if s.nextID.CompareAndSwap(curr, id) {
			return
		}
	}
}

// DeleteWhere removes all matching records. Shards are scanned in parallel.
// The scan is fuzzy: records inserted while the scan runs may or may not be seen.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store) DeleteWhere(pred storage.Predicate) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrClosed
	}
	if pred == nil {
		return 0, storage.NewError(storage.RetCInvalidOperation, "predicate must not be nil")
	}

	var (
		wg      sync.WaitGroup
		deleted atomic.Int64
	)
	wg.Add(len(s.shards))

	for _, shard := range s.shards {
		go func(shard *internal.Shard) {
			defer wg.Done()
			shard.Data.Range(func(id uint64, ts int64) bool {
				if !pred.Match(storage.Record{ID: id, Timestamp: time.Unix(0, ts)}) {
					return true
				}
				// a concurrent delete may have won the race, only count our own
				if _, ok := shard.Data.LoadAndDelete(id); ok {
					deleted.Add(1)
				}
				return true
			})
		}(shard)
	}

	wg.Wait()
	return int(deleted.Load()), nil
}

// Checkpoint writes a snapshot of all records to the snapshot file.
// The file is replaced atomically, a crash during a checkpoint keeps the old snapshot.
// Without a snapshot path the snapshot is still taken (and discarded).
//
// Thread-safety: This method is thread-safe, concurrent checkpoints are serialized.
func (s *Store) Checkpoint() error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	if s.snapshotPath == "" {
		return s.Save(io.Discard)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return storage.NewError(storage.RetCInternalError, fmt.Sprintf("create snapshot: %v", err))
	}

	if err := s.Save(f); err != nil {
		f.Close()
		return storage.NewError(storage.RetCInternalError, fmt.Sprintf("write snapshot: %v", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return storage.NewError(storage.RetCInternalError, fmt.Sprintf("sync snapshot: %v", err))
	}
	if err := f.Close(); err != nil {
		return storage.NewError(storage.RetCInternalError, fmt.Sprintf("close snapshot: %v", err))
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return storage.NewError(storage.RetCInternalError, fmt.Sprintf("replace snapshot: %v", err))
	}
	return nil
}

// Count returns the number of records in the store
func (s *Store) Count() (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrClosed
	}
	return s.countRecords(), nil
}

func (s *Store) countRecords() int {
	total := 0
	for _, shard := range s.shards {
		total += shard.Data.Size()
	}
	return total
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

// Close marks the store as closed. Closing twice is a no-op.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// Info describes the state of the store
type Info struct {
	Records           int
	Shards            int
	ShardDistribution util.DistributionStats
	NextID            uint64
}

// Info returns statistics about the store (sizes are read without locking and may be fuzzy)
func (s *Store) Info() Info {
	sizes := make([]float64, len(s.shards))
	total := 0
	for i, shard := range s.shards {
		n := shard.Data.Size()
		sizes[i] = float64(n)
		total += n
	}
	return Info{
		Records:           total,
		Shards:            len(s.shards),
		ShardDistribution: util.NewDistributionStats(sizes),
		NextID:            s.nextID.Load(),
	}
}
