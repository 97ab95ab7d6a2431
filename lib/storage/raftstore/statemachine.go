package raftstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dHammer/lib/storage"
	"github.com/ValentinKolb/dHammer/lib/storage/memstore"
	"github.com/ValentinKolb/dHammer/lib/storage/raftstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// RecordStateMachine is a state machine implementation for Dragonboat RAFT.
// The records live in a memstore.Store; the raft log index of the insert command becomes the record id.
type RecordStateMachine struct {
	replicaID uint64
	shardID   uint64
	records   *memstore.Store
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create
// a new state machine for a node host
func CreateStateMachineFactory(opts *memstore.Options) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		// the state machine never persists snapshots on its own, dragonboat does that
		o := memstore.DefaultOptions()
		if opts != nil {
			*o = *opts
		}
		o.SnapshotPath = ""

		records, err := memstore.NewMemStore(o)
		if err != nil {
			log.Panicf("failed to create record engine for shard %d: %v", shardID, err)
		}
		return &RecordStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			records:   records,
		}
	}
}

// Lookup handles read-only queries
func (fsm *RecordStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, storage.NewError(storage.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTCount:
		return fsm.records.Count()
	case internal.QueryTInfo:
		return fsm.records.Info(), nil
	default:
		return nil, storage.NewError(storage.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update applies committed commands to the record engine.
// The result of a delete carries the number of removed records in its data.
func (fsm *RecordStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(storage.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(storage.RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
			}
			continue
		}

		feat, err := cmd.Type.ToFeature()
		if err != nil || !fsm.records.SupportsFeature(feat) {
			entries[idx].Result = sm.Result{
				Value: uint64(storage.RetCUnsupportedOperation),
				Data:  []byte(fmt.Sprintf("%s operation is not supported", cmd.Type)),
			}
			continue
		}

		switch cmd.Type {
		case internal.CommandTInsert:
			if err := fsm.records.Put(storage.Record{ID: e.Index, Timestamp: cmd.Time}); err != nil {
				entries[idx].Result = errorResult(err)
				continue
			}
			entries[idx].Result = sm.Result{Value: uint64(storage.RetCSuccess)}
		case internal.CommandTDeleteOlderThan:
			n, err := fsm.records.DeleteWhere(storage.OlderThan{Cutoff: cmd.Time})
			if err != nil {
				entries[idx].Result = errorResult(err)
				continue
			}
			entries[idx].Result = sm.Result{Value: uint64(storage.RetCSuccess), Data: internal.EncodeCount(n)}
		}
	}

	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		log.Infof("state machine took long to update, batch of %d entries took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func errorResult(err error) sm.Result {
	return sm.Result{Value: uint64(storage.CodeOf(err)), Data: []byte(err.Error())}
}

// PrepareSnapshot is not used, snapshots are fuzzy
func (fsm *RecordStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a fuzzy snapshot of the record engine
func (fsm *RecordStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.records.Save(writer)
}

// RecoverFromSnapshot replaces the records with the snapshot content
func (fsm *RecordStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.records.Load(r)
}

// Close releases the record engine
func (fsm *RecordStateMachine) Close() error {
	return fsm.records.Close()
}
