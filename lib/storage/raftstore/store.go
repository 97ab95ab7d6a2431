package raftstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/ValentinKolb/dHammer/lib/storage/memstore"
	"github.com/ValentinKolb/dHammer/lib/storage/raftstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
)

const (
	// DataDirName is the directory inside the store location holding the raft log and snapshots
	DataDirName = "raft"

	electionRTTFactor  = 10
	heartbeatRTTFactor = 2
)

var (
	retries = 5
	log     = logger.GetLogger("raftstore")
)

// Options configures the single replica raft group backing the store
type Options struct {
	ShardID            uint64        // Raft shard the records live in
	ReplicaID          uint64        // Id of the local replica
	Address            string        // Raft address of the local node host (e.g. localhost:63001)
	RTTMillisecond     uint64        // Average round trip time between node hosts
	Timeout            time.Duration // Timeout of a single propose or read
	SnapshotEntries    uint64        // Automatic snapshot every N entries (0 = only on Checkpoint)
	CompactionOverhead uint64        // Entries kept in the log after a snapshot
	LeaderTimeout      time.Duration // How long Open waits for the replica to become leader
}

// DefaultOptions returns the default raft options
func DefaultOptions() *Options {
	return &Options{
		ShardID:            1,
		ReplicaID:          1,
		Address:            "localhost:63001",
		RTTMillisecond:     100,
		Timeout:            5 * time.Second,
		SnapshotEntries:    0,
		CompactionOverhead: 1000,
		LeaderTimeout:      30 * time.Second,
	}
}

// toDragonboatConfig converts the Options to the Dragonboat replica config
func (o *Options) toDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          o.ReplicaID,
		ShardID:            o.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    o.SnapshotEntries,
		CompactionOverhead: o.CompactionOverhead,
	}
}

// toNodeHostConfig creates a NodeHostConfig for Dragonboat
func (o *Options) toNodeHostConfig(dataDir string) config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         dataDir,
		NodeHostDir:    dataDir,
		RTTMillisecond: o.RTTMillisecond,
		RaftAddress:    o.Address,
	}
}

// --------------------------------------------------------------------------
// Store client
// --------------------------------------------------------------------------

// Store drives a raft replicated record state machine. Every insert and delete is a
// proposal that must be committed by the raft group before it returns.
//
// Proposals run under the store context. Close cancels it first, so proposals waiting
// for a commit return ErrClosed instead of holding Close up until their timeout.
type Store struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex // guards closed, Close waits for running operations
	closed bool
}

// NewRaftStore wraps a running NodeHost that hosts the record state machine for shardID
func NewRaftStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewBackend binds a single replica raft group to <location>/raft.
// Open starts the node host and blocks until the replica has become leader.
func NewBackend(location string, opts *Options) storage.Backend {
	o := DefaultOptions()
	if opts != nil {
		*o = *opts
	}
	dataDir := filepath.Join(location, DataDirName)

	return storage.Backend{
		Name: "raft",
		Open: func() (storage.IRecordStore, error) {
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create store location: %w", err)
			}

			nh, err := dragonboat.NewNodeHost(o.toNodeHostConfig(dataDir))
			if err != nil {
				return nil, fmt.Errorf("create node host: %w", err)
			}

			members := map[uint64]string{o.ReplicaID: o.Address}
			if err := nh.StartConcurrentReplica(members, false, CreateStateMachineFactory(nil), o.toDragonboatConfig()); err != nil {
				nh.Close()
				return nil, fmt.Errorf("start replica: %w", err)
			}

			if err := waitForLeader(nh, o.ShardID, o.LeaderTimeout); err != nil {
				nh.Close()
				return nil, err
			}
			log.Infof("raft replica %d of shard %d is ready at %s", o.ReplicaID, o.ShardID, o.Address)

			return NewRaftStore(nh, o.ShardID, o.Timeout), nil
		},
		Clear: func() error {
			return os.RemoveAll(dataDir)
		},
	}
}

func waitForLeader(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_, _, valid, err := nh.GetLeaderID(shardID)
		if err == nil && valid {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leader elected for shard %d within %s", shardID, timeout)
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write proposes a Command and returns the result data of the applied entry.
// Proposals rejected with ErrSystemBusy are retried.
func (s *Store) write(cmd internal.Command) ([]byte, error) {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		if s.ctx.Err() != nil {
			return nil, storage.ErrClosed
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-time.After(s.timeout / 10):
			case <-s.ctx.Done():
				return nil, storage.ErrClosed
			}
			continue
		}

		if err != nil {
			return nil, storage.NewError(storage.RetCInternalError, err.Error())
		}
		if res.Value != uint64(storage.RetCSuccess) {
			return nil, storage.NewError(storage.RetCode(res.Value), string(res.Data))
		}
		return res.Data, nil
	}
	return nil, storage.NewError(storage.RetCInternalError, "timeout")
}

// read queries the state machine and converts the response into R.
// StaleRead is used: on a single replica it sees every applied entry.
func read[R any](s *Store, q internal.Query) (R, error) {
	var zero R
	res, err := s.nh.StaleRead(s.shardID, q)
	if err != nil {
		var se *storage.Error
		if errors.As(err, &se) {
			return zero, se
		}
		return zero, storage.NewError(storage.RetCInternalError, err.Error())
	}

	casted, ok := res.(R)
	if !ok {
		return zero, storage.NewError(storage.RetCInternalError,
			fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
	}
	return casted, nil
}

// --------------------------------------------------------------------------
// IRecordStore Interface Methods (docs see storage/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Insert(rec storage.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}

	_, err := s.write(internal.Command{Type: internal.CommandTInsert, Time: rec.Timestamp})
	return err
}

// DeleteWhere only accepts OlderThan predicates, arbitrary Go functions can not be
// replicated through the raft log.
func (s *Store) DeleteWhere(pred storage.Predicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, storage.ErrClosed
	}

	var cutoff time.Time
	switch p := pred.(type) {
	case storage.OlderThan:
		cutoff = p.Cutoff
	case *storage.OlderThan:
		cutoff = p.Cutoff
	case nil:
		return 0, storage.NewError(storage.RetCInvalidOperation, "predicate must not be nil")
	default:
		return 0, storage.NewError(storage.RetCUnsupportedOperation, fmt.Sprintf("predicate %T can not be replicated", pred))
	}

	data, err := s.write(internal.Command{Type: internal.CommandTDeleteOlderThan, Time: cutoff})
	if err != nil {
		return 0, err
	}
	n, err := internal.DecodeCount(data)
	if err != nil {
		return 0, storage.NewError(storage.RetCInternalError, err.Error())
	}
	return n, nil
}

// Checkpoint requests a raft snapshot and compacts the log
func (s *Store) Checkpoint() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	idx, err := s.nh.SyncRequestSnapshot(ctx, s.shardID, dragonboat.DefaultSnapshotOption)
	if s.ctx.Err() != nil {
		return storage.ErrClosed
	}
	if errors.Is(err, dragonboat.ErrRejected) {
		// nothing was applied since the last snapshot
		return nil
	}
	if err != nil {
		return storage.NewError(storage.RetCInternalError, fmt.Sprintf("request snapshot: %v", err))
	}
	log.Debugf("snapshot of shard %d taken at index %d", s.shardID, idx)
	return nil
}

func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, storage.ErrClosed
	}
	return read[int](s, internal.Query{Type: internal.QueryTCount})
}

// Info returns metadata about the record engine of the local replica
func (s *Store) Info() (memstore.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return memstore.Info{}, storage.ErrClosed
	}
	return read[memstore.Info](s, internal.Query{Type: internal.QueryTInfo})
}

// SupportsFeature checks if this store supports a specific feature
func (s *Store) SupportsFeature(feature storage.Feature) bool {
	supportedFeatures := storage.FeatureInsert |
		storage.FeatureDeleteOlderThan |
		storage.FeatureCheckpoint |
		storage.FeatureCount
	return supportedFeatures&feature == feature
}

// Close cancels pending proposals and stops the node host. Closing twice is a no-op.
func (s *Store) Close() error {
	// releases proposals holding the read lock before it is taken exclusively
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.nh.Close()
	return nil
}
